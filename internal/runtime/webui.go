package runtime

import (
	"net/http"
	"strings"

	configpkg "github.com/drblury/chord/internal/runtime/config"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

// StartWebUIServer mounts the introspection API when Config.WebUIEnabled is
// set. Start serves it.
func (c *Composer) StartWebUIServer() {
	if !c.Conf.WebUIEnabled {
		return
	}

	port := c.Conf.WebUIPort
	if port == 0 {
		port = configpkg.DefaultWebUIPort
	}

	c.RegisterHTTPHandler(port, "/api/methods", http.HandlerFunc(c.handleGetMethods))
}

func (c *Composer) handleGetMethods(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(c.Conf.WebUICORSAllowedOrigins) > 0 {
		if allowed := c.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, c.Methods()); err != nil {
		c.Logger.Error("Failed to encode methods", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (c *Composer) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range c.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
