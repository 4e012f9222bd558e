// Package protection sequences fingerprinting, block-list lookups and bot
// scoring into a single allow/deny verdict per visit.
package protection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/detection"
	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/fingerprint"
	"github.com/shortontech/originguard/internal/metrics"
	"github.com/shortontech/originguard/internal/observability"
	"github.com/shortontech/originguard/internal/probe"
	"github.com/shortontech/originguard/internal/store"
	"github.com/shortontech/originguard/pkg/config"
)

// Reasons carried by verdicts and access-log snapshots.
const (
	ReasonPreviouslyBlocked  = "previously-blocked"
	ReasonBotDetected        = "bot-detected"
	ReasonRepeatedSuspicious = "repeated-suspicious-activity"
	ReasonSuspicious         = "suspicious-activity"
	ReasonClean              = "clean"
	ReasonSystemError        = "system-error"
)

// DefaultRepeatThreshold is the number of suspicious visits inside the
// repeat window that escalates to a block.
const DefaultRepeatThreshold = 3

// ErrorFingerprint is the id reported when initialization itself failed.
const ErrorFingerprint = "error"

// Verdict is the outcome handed back to the page.
type Verdict struct {
	Allowed       bool              `json:"allowed"`
	FingerprintID string            `json:"fingerprint"`
	Reason        string            `json:"reason,omitempty"`
	Detection     *detection.Result `json:"detectionResult,omitempty"`
}

// Fingerprinter yields the stable identifier for the session's browser.
type Fingerprinter interface {
	Get(ctx context.Context) (string, error)
}

// Detector scores an environment for automation signals.
type Detector interface {
	Detect(env probe.Environment) detection.Result
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Policy   config.PolicyConfig
	Store    store.Store
	Detector Detector // nil selects a scorer built from Policy
	Metrics  *metrics.Metrics
	Emit     event.Emitter
	Logger   *zap.Logger
}

// System runs the protection sequence for one browser session.
type System struct {
	env      probe.Environment
	fp       Fingerprinter
	detector Detector
	store    store.Store
	policy   config.PolicyConfig
	metrics  *metrics.Metrics
	emit     event.Emitter
	log      *zap.Logger

	server    event.ServerMeta
	transport *detection.Transport

	mu          sync.Mutex
	fingerprint string
}

// Option customizes a System built by New.
type Option func(*System)

// WithFingerprinter replaces the generator derived from the environment.
func WithFingerprinter(f Fingerprinter) Option {
	return func(s *System) { s.fp = f }
}

// WithRequest attaches request metadata to the verdict event.
func WithRequest(meta event.ServerMeta, tr *detection.Transport) Option {
	return func(s *System) {
		s.server = meta
		s.transport = tr
	}
}

// New prepares a session for env. Unset policy timeouts and thresholds fall
// back to config defaults; a nil Detector uses a scorer built from the policy.
func New(env probe.Environment, deps Deps, opts ...Option) *System {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emit == nil {
		deps.Emit = event.Discard
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	deps.Policy = withDefaults(deps.Policy)
	if deps.Detector == nil {
		deps.Detector = detection.NewScorer(detection.Thresholds{
			Bot:        deps.Policy.BotThreshold,
			Suspicious: deps.Policy.SuspiciousThreshold,
		}, nil, deps.Logger)
	}
	s := &System{
		env:      env,
		detector: deps.Detector,
		store:    deps.Store,
		policy:   deps.Policy,
		metrics:  deps.Metrics,
		emit:     deps.Emit,
		log:      deps.Logger.Named("protection"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.fp == nil {
		s.fp = fingerprint.New(env, fingerprint.Options{
			Fonts: deps.Policy.ProbeFonts,
			Audio: deps.Policy.ProbeAudio,
		}, deps.Logger)
	}
	return s
}

// Fingerprint returns the id computed by the last Initialize, or "".
func (s *System) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Initialize produces the verdict for this session. Every remote step is
// time-boxed and fails open; no error or panic escapes.
func (s *System) Initialize(ctx context.Context) (v Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("initialization panicked", zap.Any("panic", r))
			v = Verdict{Allowed: true, FingerprintID: ErrorFingerprint, Reason: ReasonSystemError}
		}
		s.finish(v, time.Since(start))
	}()

	fp := s.computeFingerprint(ctx)
	s.mu.Lock()
	s.fingerprint = fp
	s.mu.Unlock()
	log := s.log.With(zap.String("fp", observability.ShortID(fp)))

	if s.isBlocked(ctx, fp) {
		log.Info("fingerprint previously blocked")
		s.logAccess(ctx, fp, true, store.Snapshot{Detections: []string{}, Reason: ReasonPreviouslyBlocked})
		return Verdict{FingerprintID: fp, Reason: ReasonPreviouslyBlocked}
	}

	res := s.detect(ctx)
	log.Debug("detection complete", zap.Int("score", res.Score), zap.Strings("detections", res.Detections))

	if res.IsBot {
		log.Info("bot detected", zap.Int("score", res.Score))
		s.block(ctx, fp, ReasonBotDetected, res)
		s.logAccess(ctx, fp, true, snapshot(res, ReasonBotDetected))
		return Verdict{FingerprintID: fp, Reason: ReasonBotDetected, Detection: &res}
	}

	if res.IsSuspicious {
		s.logAccess(ctx, fp, true, snapshot(res, ReasonSuspicious))
		count := s.suspiciousCount(ctx, fp)
		log.Info("suspicious activity", zap.Int("score", res.Score), zap.Int("count", count))
		if count >= s.policy.RepeatThreshold {
			s.block(ctx, fp, ReasonRepeatedSuspicious, res)
			return Verdict{FingerprintID: fp, Reason: ReasonRepeatedSuspicious, Detection: &res}
		}
	} else {
		s.logAccess(ctx, fp, false, snapshot(res, ReasonClean))
	}

	return Verdict{Allowed: true, FingerprintID: fp, Detection: &res}
}

func (s *System) computeFingerprint(ctx context.Context) string {
	fp, err := run(ctx, s, "fingerprint", s.policy.FingerprintTimeout, s.fp.Get)
	if err == nil && fp != "" {
		return fp
	}
	id, uerr := uuid.NewV7()
	if uerr != nil {
		id = uuid.New()
	}
	fallback := "fallback-" + id.String()
	s.log.Warn("fingerprint unavailable, using fallback id", zap.Error(err), zap.String("fp", fallback))
	return fallback
}

func (s *System) isBlocked(ctx context.Context, fp string) bool {
	blocked, err := run(ctx, s, "block_lookup", s.policy.StoreTimeout, func(ctx context.Context) (bool, error) {
		return s.store.IsBlocked(ctx, fp)
	})
	if err != nil {
		s.storeFailed("is_blocked", err)
		return false
	}
	return blocked
}

func (s *System) detect(ctx context.Context) detection.Result {
	res, err := run(ctx, s, "detect", s.policy.DetectorTimeout, func(context.Context) (detection.Result, error) {
		return s.detector.Detect(s.env), nil
	})
	if err != nil {
		s.log.Warn("detection unavailable, treating as clean", zap.Error(err))
		return detection.Clean()
	}
	return res
}

func (s *System) suspiciousCount(ctx context.Context, fp string) int {
	since := time.Now().Add(-s.policy.RepeatWindow)
	n, err := run(ctx, s, "suspicious_count", s.policy.StoreTimeout, func(ctx context.Context) (int, error) {
		return s.store.SuspiciousCount(ctx, fp, since)
	})
	if err != nil {
		s.storeFailed("suspicious_count", err)
		return 0
	}
	return n
}

func (s *System) block(ctx context.Context, fp, reason string, res detection.Result) {
	details := res.Details
	now := time.Now().UTC()
	rec := store.BlockRecord{
		Fingerprint: fp,
		Reason:      reason,
		UserAgent:   s.userAgent(),
		Detection: store.Snapshot{
			Score:      res.Score,
			Detections: res.Detections,
			Details:    &details,
		},
		IsPermanent: true,
		BlockedAt:   now,
		LastAttempt: now,
	}
	_, err := run(ctx, s, "block", s.policy.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Block(ctx, rec)
	})
	if err != nil {
		s.storeFailed("block", err)
	}
}

func (s *System) logAccess(ctx context.Context, fp string, suspicious bool, snap store.Snapshot) {
	rec := store.AccessRecord{
		Fingerprint:  fp,
		IsSuspicious: suspicious,
		UserAgent:    s.userAgent(),
		Detection:    snap,
		AccessedAt:   time.Now().UTC(),
	}
	_, err := run(ctx, s, "log_access", s.policy.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.LogAccess(ctx, rec)
	})
	if err != nil {
		s.storeFailed("log_access", err)
	}
}

func (s *System) storeFailed(op string, err error) {
	s.metrics.IncrementStoreErrors(s.store.Name(), op)
	s.log.Warn("store operation failed", zap.String("backend", s.store.Name()), zap.String("op", op), zap.Error(err))
}

func (s *System) userAgent() (ua string) {
	defer func() {
		if recover() != nil {
			ua = ""
		}
	}()
	return s.env.UserAgent()
}

func (s *System) finish(v Verdict, took time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("verdict reporting panicked", zap.Any("panic", r))
		}
	}()
	score := 0
	e := event.New(event.TypeVerdict)
	e.Fingerprint = v.FingerprintID
	e.Allowed = v.Allowed
	e.Reason = v.Reason
	if v.Detection != nil {
		score = v.Detection.Score
		e.Score = score
		e.Detections = v.Detection.Detections
	}
	if e.Reason == "" {
		e.Reason = ReasonClean
		if v.Detection != nil && v.Detection.IsSuspicious {
			e.Reason = ReasonSuspicious
		}
	}
	e.Server = s.server
	e.Transport = s.transport
	s.emit(e)

	s.metrics.ObserveVerdict(v.Allowed, e.Reason, score)
	s.metrics.ObserveStepLatency("initialize", took)
	s.log.Info("verdict",
		zap.Bool("allowed", v.Allowed),
		zap.String("fp", observability.ShortID(v.FingerprintID)),
		zap.String("reason", e.Reason),
		zap.Int("score", score),
		zap.Duration("took", took))
}

func snapshot(res detection.Result, reason string) store.Snapshot {
	return store.Snapshot{Score: res.Score, Detections: res.Detections, Reason: reason}
}

// withDefaults fills unset repeat and timeout settings from the built-in
// policy so every step stays time-boxed.
func withDefaults(p config.PolicyConfig) config.PolicyConfig {
	def := config.Default().Policy
	if p.RepeatThreshold <= 0 {
		p.RepeatThreshold = DefaultRepeatThreshold
	}
	if p.RepeatWindow <= 0 {
		p.RepeatWindow = def.RepeatWindow
	}
	if p.FingerprintTimeout <= 0 {
		p.FingerprintTimeout = def.FingerprintTimeout
	}
	if p.DetectorTimeout <= 0 {
		p.DetectorTimeout = def.DetectorTimeout
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = def.StoreTimeout
	}
	return p
}

// run races fn against timeout. A timeout, error or panic in fn is returned
// as an error and counted as a fallback for step; fn may keep running in the
// background after a timeout but its result is dropped.
func run[T any](ctx context.Context, s *System, step string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	started := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s panicked: %v", step, r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = result{err: ctx.Err()}
	}
	s.metrics.ObserveStepLatency(step, time.Since(started))

	if r.err != nil {
		cause := "error"
		if errors.Is(r.err, context.DeadlineExceeded) {
			cause = "timeout"
		}
		s.metrics.IncrementStepFallback(step, cause)
		return zero, r.err
	}
	return r.v, nil
}
