package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/omarluq/cc-router/internal/config"
)

// Server wraps the HTTP server with the router's routes and middleware.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer assembles routes and middleware. With enable_http2, cleartext
// HTTP/2 (h2c) is accepted alongside HTTP/1.1 for local multiplexed clients.
func NewServer(cfg config.ServerConfig, handler *Handler, status *StatusHandler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/v1/messages", handler)
	mux.HandleFunc("/healthz", status.Healthz)
	mux.HandleFunc("/v1/router/pipelines", status.Pipelines)

	var root http.Handler = withAccessLog(mux)
	if cfg.EnableHTTP2 {
		root = h2c.NewHandler(root, &http2.Server{})
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		addr: cfg.ListenAddr(),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// withAccessLog logs one line per request at debug level.
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
