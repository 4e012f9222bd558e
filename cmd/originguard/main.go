package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/clearance"
	httpx "github.com/shortontech/originguard/internal/http"
	"github.com/shortontech/originguard/internal/metrics"
	"github.com/shortontech/originguard/internal/observability"
	"github.com/shortontech/originguard/internal/sink"
	"github.com/shortontech/originguard/internal/store"
	"github.com/shortontech/originguard/internal/validator"
	"github.com/shortontech/originguard/pkg/config"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := observability.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	restore := observability.Install(logger)
	defer restore()

	if cfgErr != nil {
		logger.Fatal("load config", zap.Error(cfgErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.Default()
	metricsServer := metrics.NewServer(metrics.LoadConfig(), m, logger)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	a, err := newApp(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	if cfg.TestMode {
		report := runSelfTest(ctx, a)
		report.log(logger)
	}

	srv := httpx.NewServer(cfg.ServerAddr, a.handler, logger)
	errc := srv.Start()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	return nil
}

// app is the wired service: backends, audit fan-out and the HTTP surface.
type app struct {
	cfg       config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	store     store.Store
	fanout    *sink.Fanout
	tokens    *validator.TokenIssuer
	clearance *clearance.Issuer
	handler   http.Handler
}

func newApp(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store ready", zap.String("backend", st.Name()))

	fanout, err := initializeSinks(ctx, cfg.Outputs, m, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       logger,
		metrics:   m,
		store:     st,
		fanout:    fanout,
		tokens:    validator.NewTokenIssuer(secretOrRandom(cfg.Domain.TokenSecret, "DOMAIN_TOKEN_SECRET", logger), cfg.Domain.TokenTTL),
		clearance: clearance.NewIssuer(secretOrRandom(cfg.Clearance.Secret, "CLEARANCE_SECRET", logger), cfg.Clearance.TTL),
	}

	a.handler = httpx.NewRouter(httpx.Env{
		Cfg:       cfg,
		Store:     st,
		Validator: a.validatorHandler(),
		Clearance: a.clearance,
		Metrics:   m,
		Emit:      fanout.Emit,
		Logger:    logger,
		Ready: func(ctx context.Context) error {
			_, err := st.IsBlocked(ctx, "readiness-probe")
			return err
		},
	})
	return a, nil
}

func (a *app) validatorHandler() *validator.Handler {
	return validator.NewHandler(validator.HandlerOptions{
		Tokens: a.tokens,
		AllowList: validator.AllowList{
			Domains:     a.cfg.Domain.AllowedDomains,
			Containment: a.cfg.Domain.AllowContainment,
		},
		Canonical:  a.cfg.Domain.CanonicalOrigin,
		TrustProxy: a.cfg.TrustProxy,
		Metrics:    a.metrics,
		Emit:       a.fanout.Emit,
		Logger:     a.log,
	})
}

func (a *app) Close() error {
	sinkErr := a.fanout.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return sinkErr
}

// initializeSinks starts the configured outputs. A sink that fails to start
// is dropped; the service keeps running with the rest.
func initializeSinks(ctx context.Context, outputs []string, m *metrics.Metrics, logger *zap.Logger) (*sink.Fanout, error) {
	sinks, err := sink.FromNames(outputs, logger)
	if err != nil {
		return nil, fmt.Errorf("configure outputs: %w", err)
	}
	fanout := sink.NewFanout(sinks, m, logger)
	if err := fanout.Start(ctx); err != nil {
		logger.Warn("continuing without failed sinks", zap.Strings("active", fanout.Names()), zap.Error(err))
	}
	return fanout, nil
}

// secretOrRandom returns configured, or a per-process random secret when it
// is empty. Tokens signed with a random secret do not survive a restart.
func secretOrRandom(configured, envName string, logger *zap.Logger) string {
	if configured != "" {
		return configured
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logger.Fatal("generate secret", zap.Error(err))
	}
	logger.Warn("no secret configured, using a per-process random secret", zap.String("env", envName))
	return hex.EncodeToString(b)
}
