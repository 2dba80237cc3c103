// Package httpadapter feeds HTTP requests into a Composer.
//
// Two request shapes are accepted on POST:
//
//	POST {route}                      {"id":"1","method":"Users.get","params":[42]}
//	POST {route}/{controller}/{method} [42]
//
// Handler serves both on a chi router. Register Adapter on the composer so
// the call can be extracted from the *http.Request handed to Exec.
package httpadapter

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/chord/internal/runtime"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
)

// Tokens provided to injection declarations for HTTP calls.
const (
	TokenRequest = "request"
	TokenHeaders = "headers"
)

// HeaderRequestID carries the caller's correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

// MaxBodyBytes bounds the request body read by Adapter.
const MaxBodyBytes int64 = 1 << 20

// Middleware registers Adapter under the name "http_adapter".
func Middleware() runtime.MiddlewareRegistration {
	return runtime.MiddlewareRegistration{
		Name:       "http_adapter",
		Middleware: Adapter(),
	}
}

// Adapter selects the call from an *http.Request. Other raw values pass
// through untouched.
func Adapter() runtime.Middleware {
	return func(cc *runtime.CallContext, next runtime.Next) (any, error) {
		r, ok := cc.Raw().(*http.Request)
		if !ok || r == nil {
			return next(cc)
		}

		for k, v := range metadatapkg.FromHeader(r.Header) {
			cc.SetMetadata(k, v)
		}
		cc.SetMetadata("http_method", r.Method)
		cc.SetMetadata("remote_addr", r.RemoteAddr)
		cc.Provide(TokenRequest, r)
		cc.Provide(TokenHeaders, r.Header)

		body, err := readBody(r)
		if err != nil {
			return nil, err
		}

		call, id, err := extract(r, body)
		if err != nil {
			return nil, err
		}
		cc.SetCall(call)
		if header := r.Header.Get(HeaderRequestID); header != "" {
			id = header
		}
		cc.SetID(id)
		return next(cc)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, errspkg.InvalidArgument("unreadable request body", err)
	}
	if int64(len(body)) > MaxBodyBytes {
		return nil, errspkg.InvalidArgument("request body too large", nil)
	}
	return body, nil
}

func extract(r *http.Request, body []byte) (runtime.Call, string, error) {
	controller, method := pathTarget(r)
	if controller == "" || method == "" {
		req, err := runtime.DecodeWireRequest(body)
		if err != nil {
			return runtime.Call{}, "", err
		}
		call, err := req.Call()
		return call, req.ID, err
	}

	var params []jsoncodec.RawMessage
	if strings.TrimSpace(string(body)) != "" {
		if err := jsoncodec.Unmarshal(body, &params); err != nil {
			return runtime.Call{}, "", errspkg.InvalidArgument("params must be a JSON array", err)
		}
	}
	return runtime.Call{Controller: controller, Method: method, Args: runtime.RawArgs(params)}, "", nil
}

// pathTarget reads the controller and method path parameters set by chi or
// by a net/http ServeMux pattern.
func pathTarget(r *http.Request) (string, string) {
	controller, method := chi.URLParam(r, "controller"), chi.URLParam(r, "method")
	if controller == "" {
		controller = r.PathValue("controller")
	}
	if method == "" {
		method = r.PathValue("method")
	}
	return controller, method
}
