package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// APIKeyHeader carries the billing sync credential.
const APIKeyHeader = "X-API-Key"

// accessLog logs one line per request and feeds the request counter.
// The route pattern is only known after routing, so both read it after
// next returns.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		h.Metrics.ObserveRequest(route, r.Method, status)
		h.logger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireAPIKey rejects requests whose X-API-Key does not match the
// configured key. With no key configured every request is rejected.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(APIKeyHeader)
		if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) != 1 {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Invalid API key", Code: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
