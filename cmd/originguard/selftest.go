package main

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/domainlock"
	"github.com/shortontech/originguard/internal/observability"
	"github.com/shortontech/originguard/internal/probe"
	"github.com/shortontech/originguard/internal/protection"
	"github.com/shortontech/originguard/internal/store"
	"github.com/shortontech/originguard/internal/validator"
	"github.com/shortontech/originguard/pkg/config"
)

const (
	selfTestCanonical = "shop.originguard.test"
	selfTestClone     = "clone.originguard.test"
)

// syntheticHost is a page location that records navigation instead of leaving.
type syntheticHost struct {
	mu       sync.Mutex
	host     string
	navigate []string
}

func (h *syntheticHost) Hostname() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host
}

func (h *syntheticHost) Navigate(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigate = append(h.navigate, target)
}

func (h *syntheticHost) navigations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.navigate...)
}

type selfTestReport struct {
	Verdicts map[string]protection.Verdict

	CanonicalDecision domainlock.Decision
	CanonicalToken    string
	CheckoutAllowed   bool

	CloneDecision   domainlock.Decision
	CloneRedirected []string
}

// runSelfTest exercises the orchestrator against a clean and an automated
// synthetic environment on a scratch store, then runs the domain lock on a
// canonical and a cloned host against an in-process validation endpoint.
func runSelfTest(ctx context.Context, a *app) selfTestReport {
	a.log.Info("TEST MODE: running self-test")
	report := selfTestReport{Verdicts: make(map[string]protection.Verdict)}

	// Synthetic verdicts must not block or log against the configured backend.
	scratch := store.NewMemory()
	defer scratch.Close()

	envs := map[string]probe.Environment{
		"desktop-chrome":  probe.DesktopChrome("Arial", "Verdana"),
		"headless-chrome": probe.HeadlessChrome(),
	}
	for name, env := range envs {
		report.Verdicts[name] = protection.New(env, protection.Deps{
			Policy:  a.cfg.Policy,
			Store:   scratch,
			Metrics: a.metrics,
			Emit:    a.fanout.Emit,
			Logger:  a.log,
		}).Initialize(ctx)
	}

	endpoint := httptest.NewServer(validator.NewHandler(validator.HandlerOptions{
		Tokens:    a.tokens,
		AllowList: validator.AllowList{Domains: []string{selfTestCanonical}},
		Canonical: selfTestCanonical,
		Metrics:   a.metrics,
		Emit:      a.fanout.Emit,
		Logger:    a.log,
	}))
	defer endpoint.Close()
	client := validator.NewClient(endpoint.URL+"/validate-domain", endpoint.Client())

	policy := selfTestPolicy(a.cfg.Domain)
	authorizer := domainlock.AllowList{List: validator.AllowList{Domains: []string{selfTestCanonical}}}

	canonical := &syntheticHost{host: selfTestCanonical}
	guard := domainlock.New(canonical, domainlock.Options{
		Policy:     policy,
		Authorizer: authorizer,
		Validator:  client,
		Emit:       a.fanout.Emit,
		Logger:     a.log,
	})
	report.CanonicalDecision = guard.Start(ctx)
	report.CheckoutAllowed = guard.ValidateCheckout(ctx)
	report.CanonicalToken = guard.Token()
	guard.Teardown()

	clone := &syntheticHost{host: selfTestClone}
	cloneGuard := domainlock.New(clone, domainlock.Options{
		Policy:     policy,
		Authorizer: authorizer,
		Validator:  client,
		Emit:       a.fanout.Emit,
		Logger:     a.log,
	})
	report.CloneDecision = cloneGuard.Start(ctx)
	report.CloneRedirected = clone.navigations()
	cloneGuard.Teardown()

	return report
}

// selfTestPolicy disables the timed monitors so the run is synchronous.
func selfTestPolicy(base config.DomainConfig) config.DomainConfig {
	p := base
	p.CanonicalOrigin = selfTestCanonical
	p.AllowedDomains = []string{selfTestCanonical}
	p.IntegrityInterval = 0
	p.DevtoolsInterval = 0
	p.HeartbeatInterval = 0
	p.InitialDelay = time.Hour
	return p
}

func (r selfTestReport) log(logger *zap.Logger) {
	for name, v := range r.Verdicts {
		fields := []zap.Field{
			zap.String("env", name),
			zap.Bool("allowed", v.Allowed),
			zap.String("reason", v.Reason),
			zap.String("fingerprint", observability.ShortID(v.FingerprintID)),
		}
		if v.Detection != nil {
			fields = append(fields, zap.Int("score", v.Detection.Score), zap.Strings("detections", v.Detection.Detections))
		}
		logger.Info("self-test verdict", fields...)
	}
	logger.Info("self-test domain lock",
		zap.String("canonical_state", r.CanonicalDecision.State.String()),
		zap.Bool("checkout_allowed", r.CheckoutAllowed),
		zap.Bool("token_cached", r.CanonicalToken != ""),
		zap.String("clone_state", r.CloneDecision.State.String()),
		zap.Strings("clone_redirects", r.CloneRedirected))
	logger.Info("TEST MODE: self-test complete")
}
