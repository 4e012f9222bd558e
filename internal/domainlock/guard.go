package domainlock

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/validator"
	"github.com/shortontech/originguard/pkg/config"
)

// checkoutRedirectDelay is how long ValidateCheckout waits before leaving
// the page after a remote rejection.
var checkoutRedirectDelay = 2 * time.Second

// Host is the page location the guard is bound to.
type Host interface {
	Hostname() string
	Navigate(target string)
}

// Page exposes what the passive monitors measure. ViewportGap is the
// outer-window size minus the document client size.
type Page interface {
	ScriptCount() int
	StylesheetCount() int
	ViewportGap() (width, height int)
	ConsoleRoundTrip() time.Duration
}

// Validator is the remote validation endpoint. *validator.Client satisfies it.
type Validator interface {
	Validate(ctx context.Context, domain, token string) (validator.Response, error)
}

// Options configures a Guard. A nil Storage is replaced by an in-memory one.
type Options struct {
	Policy     config.DomainConfig
	Authorizer Authorizer
	Validator  Validator // nil disables the remote leg
	Storage    Storage
	Page       Page // nil disables the DOM, devtools and viewport monitors
	Emit       event.Emitter
	Logger     *zap.Logger
}

// Guard is the domain-lock state machine for one page session.
type Guard struct {
	host      Host
	policy    config.DomainConfig
	auth      Authorizer
	validator Validator
	storage   Storage
	page      Page
	emit      event.Emitter
	log       *zap.Logger

	target        string
	canonicalHost string

	mu       sync.Mutex
	state    State
	strikes  int
	token    string
	baseline *domBaseline
	cancel   context.CancelFunc
	timers   []*time.Timer
	wg       sync.WaitGroup
}

type domBaseline struct {
	scripts     int
	stylesheets int
}

// New returns an unchecked Guard for host. Nothing runs until Start.
func New(host Host, opts Options) *Guard {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = OriginOfRecord{Storage: opts.Storage}
	}
	if opts.Emit == nil {
		opts.Emit = event.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	g := &Guard{
		host:      host,
		policy:    opts.Policy,
		auth:      opts.Authorizer,
		validator: opts.Validator,
		storage:   opts.Storage,
		page:      opts.Page,
		emit:      opts.Emit,
		log:       opts.Logger.Named("domainlock"),
		target:    validator.RedirectURL(opts.Policy.CanonicalOrigin),
	}
	if u, err := url.Parse(g.target); err == nil {
		g.canonicalHost = stripWWW(validator.NormalizeHost(u.Hostname()))
	}
	return g
}

// State returns the current lock state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Strikes is the number of integrity violations seen so far.
func (g *Guard) Strikes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strikes
}

// Token returns the last domain token accepted from the endpoint.
func (g *Guard) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Start runs the primary domain check and, on an authorized host, starts the
// passive monitors and the remote validation schedule. Monitors run until ctx
// is done or Teardown is called. Start only acts on an unchecked guard.
func (g *Guard) Start(ctx context.Context) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("start panicked", zap.Any("panic", r))
			st := g.State()
			if st == StateUnchecked {
				g.setState(StateUnauthorized)
				g.redirectSafely(ReasonUnauthorizedDomain)
				d = Decision{Allowed: false, State: g.State(), Reason: ReasonUnauthorizedDomain}
				return
			}
			d = Decision{Allowed: st != StateUnauthorized && st != StateRedirecting, State: st}
		}
	}()

	g.mu.Lock()
	if g.state != StateUnchecked {
		st := g.state
		g.mu.Unlock()
		return Decision{Allowed: st != StateUnauthorized && st != StateRedirecting, State: st}
	}
	g.mu.Unlock()

	host := g.host.Hostname()
	if IsLocalDev(host) {
		g.setState(StateLocalDev)
		g.log.Info("local development host, guard disabled", zap.String("host", host))
		return Decision{Allowed: true, State: StateLocalDev}
	}

	if !g.authorized(host) {
		g.setState(StateUnauthorized)
		g.redirect(ReasonUnauthorizedDomain)
		return Decision{Allowed: false, State: g.State(), Reason: ReasonUnauthorizedDomain}
	}
	g.setState(StateAuthorized)

	if cached, ok := g.storage.Get(KeyDomainToken); ok {
		g.mu.Lock()
		g.token = cached
		g.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.state = StateProtected
	g.mu.Unlock()

	g.checkViewport()
	if g.State() == StateRedirecting {
		return Decision{Allowed: false, State: StateRedirecting, Reason: ReasonStrikes + ":" + MonitorViewport}
	}
	g.every(runCtx, g.policy.IntegrityInterval, g.checkIntegrity)
	g.every(runCtx, g.policy.DevtoolsInterval, func(context.Context) {
		g.checkDevtools()
		g.checkViewport()
	})
	if g.validator != nil {
		g.wg.Add(1)
		go g.initialValidation(runCtx)
	}

	g.log.Info("protection active", zap.String("host", host))
	return Decision{Allowed: true, State: StateProtected}
}

// authorized fails closed: a panicking authorizer denies the host.
func (g *Guard) authorized(host string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("authorizer panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	return g.auth.Authorized(host)
}

// ValidateCheckout re-checks the host before a sensitive action. Transport
// failures allow the action; an explicit remote rejection schedules a
// redirect and denies it.
func (g *Guard) ValidateCheckout(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("checkout validation panicked", zap.Any("panic", r))
			ok = true
		}
	}()

	host := g.host.Hostname()
	if IsLocalDev(host) {
		return true
	}
	if !g.authorized(host) {
		g.redirect(ReasonUnauthorizedDomain)
		return false
	}
	if g.validator == nil {
		return true
	}

	resp, err := g.validate(ctx, host)
	if err != nil {
		g.log.Warn("checkout validation unreachable", zap.Error(err))
		return true
	}
	if !resp.Valid {
		g.log.Info("checkout rejected by endpoint", zap.String("reason", resp.Reason))
		g.mu.Lock()
		g.timers = append(g.timers, time.AfterFunc(checkoutRedirectDelay, func() {
			g.redirect(ReasonRemoteInvalid)
		}))
		g.mu.Unlock()
		return false
	}
	return true
}

// Teardown stops every monitor and pending redirect timer and waits for the
// monitors to exit. It is safe to call more than once.
func (g *Guard) Teardown() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	for _, t := range g.timers {
		t.Stop()
	}
	g.timers = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	g.wg.Wait()
}

func (g *Guard) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// validate performs one round trip, caching any token returned. A rejected
// cached token is dropped and the call retried once without it so a stale
// token does not by itself fail an authorized host.
func (g *Guard) validate(ctx context.Context, host string) (validator.Response, error) {
	token := g.Token()
	resp, err := g.validator.Validate(ctx, host, token)
	if err == nil && !resp.Valid && resp.Reason == validator.ReasonInvalidToken && token != "" {
		g.log.Debug("cached token rejected, retrying without it")
		g.setToken("")
		resp, err = g.validator.Validate(ctx, host, "")
	}
	if err != nil {
		return validator.Response{}, err
	}
	if resp.Valid && resp.Token != "" {
		g.setToken(resp.Token)
	}
	return resp, nil
}

func (g *Guard) setToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	if token == "" {
		g.storage.Delete(KeyDomainToken)
		return
	}
	g.storage.Set(KeyDomainToken, token)
}

// onSafeHost reports whether navigation would be pointless: the page is
// already on the canonical origin or on a development host.
func (g *Guard) onSafeHost() bool {
	host := g.host.Hostname()
	if IsLocalDev(host) {
		return true
	}
	return g.canonicalHost != "" && stripWWW(validator.NormalizeHost(host)) == g.canonicalHost
}

// redirectSafely is redirect for recovery paths, where the host itself may panic.
func (g *Guard) redirectSafely(reason string) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("redirect panicked", zap.Any("panic", r))
		}
	}()
	g.redirect(reason)
}

// redirect sends the page to the canonical origin. It is terminal: monitors
// are cancelled and later calls are ignored.
func (g *Guard) redirect(reason string) {
	if g.onSafeHost() {
		g.log.Warn("redirect suppressed on canonical host", zap.String("reason", reason))
		return
	}

	g.mu.Lock()
	if g.state == StateRedirecting {
		g.mu.Unlock()
		return
	}
	g.state = StateRedirecting
	cancel := g.cancel
	strikes := g.strikes
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	host := g.host.Hostname()
	g.log.Warn("redirecting to canonical origin",
		zap.String("host", host),
		zap.String("target", g.target),
		zap.String("reason", reason),
		zap.Int("strikes", strikes))

	e := event.New(event.TypeDomainRedirect)
	e.Domain = host
	e.Reason = reason
	e.Score = strikes
	g.emit(e)

	if g.target != "" {
		g.host.Navigate(g.target)
	}
}
