package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all the Prometheus metrics for OriginGuard
type Metrics struct {
	// Counters
	Verdicts          *prometheus.CounterVec
	StepFallbacks     *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	DomainValidations *prometheus.CounterVec
	EventsEmitted     *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec

	// Histograms
	DetectionScore *prometheus.HistogramVec
	StepLatency    *prometheus.HistogramVec
	HTTPDuration   *prometheus.HistogramVec

	registry prometheus.Gatherer
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		ClientCA:   getOr("METRICS_CLIENT_CA", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// selects a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_verdicts_total",
				Help: "Protection verdicts by outcome and reason",
			},
			[]string{"allowed", "reason"},
		),

		StepFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_step_fallbacks_total",
				Help: "Orchestration steps that fell back to their default",
			},
			[]string{"step", "cause"},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_store_errors_total",
				Help: "Store operations that failed",
			},
			[]string{"backend", "op"},
		),

		DomainValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_domain_validations_total",
				Help: "Validation endpoint decisions by action and result",
			},
			[]string{"action", "result"},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_events_emitted_total",
				Help: "Audit events handed to a sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "originguard_rate_limited_total",
				Help: "Requests rejected by the per-client limiter",
			},
			[]string{"endpoint"},
		),

		DetectionScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "originguard_detection_score",
				Help:    "Bot detection score per evaluation",
				Buckets: []float64{0, 5, 10, 20, 30, 50, 75, 100, 150, 200},
			},
			[]string{"verdict"},
		),

		StepLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "originguard_step_latency_seconds",
				Help:    "Latency of each orchestration step",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "originguard_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.Verdicts,
		m.StepFallbacks,
		m.StoreErrors,
		m.DomainValidations,
		m.EventsEmitted,
		m.SinkErrors,
		m.HTTPRequests,
		m.RateLimited,
		m.DetectionScore,
		m.StepLatency,
		m.HTTPDuration,
	)
	return m
}

// Handler exposes this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
	log    *zap.Logger
}

// NewServer creates a new metrics server
func NewServer(config Config, m *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logger.Warn("failed to load client CA", zap.Error(err))
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logger.Info("mTLS enabled", zap.String("client_ca", config.ClientCA))
			}
		}
		srv.TLSConfig = tlsConfig
	}

	return &Server{server: srv, config: config, log: logger}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			s.log.Info("HTTPS server listening", zap.String("addr", s.config.Addr))
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			s.log.Info("HTTP server listening", zap.String("addr", s.config.Addr))
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	s.log.Info("shutting down server")
	return s.server.Shutdown(ctx)
}

// Helper functions
func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics, registered alongside the Go runtime and process collectors.
func Default() *Metrics {
	defaultOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defaultMetrics = NewMetrics(reg)
	})
	return defaultMetrics
}

// Convenience methods for common operations. All are nil-safe.

func (m *Metrics) ObserveVerdict(allowed bool, reason string, score int) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
	verdict := "allowed"
	if !allowed {
		verdict = "denied"
	}
	m.DetectionScore.WithLabelValues(verdict).Observe(float64(score))
}

func (m *Metrics) IncrementStepFallback(step, cause string) {
	if m == nil {
		return
	}
	m.StepFallbacks.WithLabelValues(step, cause).Inc()
}

func (m *Metrics) ObserveStepLatency(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) IncrementStoreErrors(backend, op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) IncrementDomainValidation(action, result string) {
	if m == nil {
		return
	}
	m.DomainValidations.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncrementEventsEmitted(sink string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncrementRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
