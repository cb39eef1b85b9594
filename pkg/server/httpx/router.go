// Package httpx wires the HTTP router and server lifecycle.
package httpx

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
	v1 "github.com/fleetaudit/fleetaudit/pkg/server/api/v1"
)

// HealthzHandler handles GET /healthz. Liveness only, always 200.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter builds the HTTP route table. API routes are mounted only when
// enabled in config; health endpoints are always available.
func NewRouter(cfg config.ServerConfig, deps *api.Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", HealthzHandler)
	mux.Handle("GET /readyz", v1.ReadyzHandler(deps.Ready))

	if cfg.APIEnabled {
		mux.Handle("GET /api/v1/audits", v1.ListAuditsHandler(deps))
		mux.Handle("GET /api/v1/audits/{id}", v1.GetAuditHandler(deps))
		mux.Handle("POST /api/v1/audits", v1.TriggerAuditHandler(deps))
		mux.Handle("GET /api/v1/progress", v1.GetProgressHandler(deps))
		mux.Handle("GET /api/v1/progress/ws", v1.ProgressWSHandler(deps))
	} else {
		log.Info().
			Str("component", "httpx.router").
			Msg("API disabled - mounting health endpoints only")
	}

	return requestLogger(mux)
}

// requestLogger logs every request with method, path, status, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("component", "httpx").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the websocket upgrade still works behind the
// logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
