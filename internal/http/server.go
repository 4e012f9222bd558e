package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter builds the public surface. Endpoints that do work per call sit
// behind the per-client limiter when it is enabled.
func NewRouter(e Env) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(e.Logger))
	r.Use(MetricsMiddleware(e.Metrics))
	r.Use(cors)

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	r.Group(func(r chi.Router) {
		if rl := e.Cfg.RateLimit; rl.Enabled && rl.RPS > 0 {
			r.Use(NewRateLimiter(rl.RPS, rl.Burst, e.Cfg.TrustProxy, e.Metrics, e.Logger).Middleware)
		}
		r.Post("/protect", e.Protect)
		r.Post("/clearance/verify", e.VerifyClearance)
		if e.Validator != nil {
			r.Handle("/validate-domain", e.Validator)
		}
	})
	return r
}

// Server wraps http.Server with zap logging and graceful shutdown.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer listens on addr once Start is called.
func NewServer(addr string, h http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: logger.Named("http"),
	}
}

// Start serves in a goroutine. Listener errors other than a clean shutdown
// are delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
			errc <- err
		}
		close(errc)
	}()
	return errc
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.srv.Shutdown(ctx)
}
