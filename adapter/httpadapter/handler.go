package httpadapter

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/drblury/chord/internal/runtime"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

type handlerOptions struct {
	statusCodes bool
	corsOrigins []string
}

// Option configures Handler.
type Option func(*handlerOptions)

// WithStatusCodes maps failed envelopes onto HTTP status codes. Without it
// every envelope is written with 200 OK.
func WithStatusCodes() Option {
	return func(o *handlerOptions) { o.statusCodes = true }
}

// WithCORS allows browser calls from origins. "*" allows any origin.
func WithCORS(origins ...string) Option {
	return func(o *handlerOptions) { o.corsOrigins = append(o.corsOrigins, origins...) }
}

// Handler serves the composer under Config.Route. The composer must have
// Adapter in its middleware chain; Handler panics on a nil composer.
func Handler(composer *runtime.Composer, opts ...Option) http.Handler {
	if composer == nil {
		panic(errspkg.ErrComposerRequired)
	}
	var o handlerOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	if len(o.corsOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: o.corsOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", HeaderRequestID},
			ExposedHeaders: []string{HeaderRequestID},
			MaxAge:         300,
		}))
	}

	serve := func(w http.ResponseWriter, r *http.Request) {
		env := composer.Exec(r.Context(), r)
		writeEnvelope(w, composer, env, o.statusCodes)
	}

	route := strings.TrimSuffix(composer.Conf.Route, "/")
	router.Post(route+"/", serve)
	if route != "" {
		router.Post(route, serve)
	}
	router.Post(route+"/{controller}/{method}", serve)
	return router
}

func writeEnvelope(w http.ResponseWriter, composer *runtime.Composer, env runtime.Envelope, statusCodes bool) {
	payload, err := runtime.EncodeEnvelope(env)
	if err != nil {
		composer.Logger.Error("Failed to encode envelope", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if env.Request != nil && env.Request.ID != "" {
		w.Header().Set(HeaderRequestID, env.Request.ID)
	}
	status := http.StatusOK
	if statusCodes {
		status = errspkg.HTTPStatus(env.Kind())
	}
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		composer.Logger.Debug("Failed to write response", loggingpkg.LogFields{"error": err.Error()})
	}
}
