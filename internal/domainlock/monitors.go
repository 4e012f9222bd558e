package domainlock

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// KeyEvent is a keyboard event observed on the page.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Shift bool
}

// blockedShortcut matches the developer-tools and view-source shortcuts.
func blockedShortcut(k KeyEvent) bool {
	if k.Key == "F12" {
		return true
	}
	if k.Ctrl && k.Shift {
		switch strings.ToUpper(k.Key) {
		case "I", "C", "J":
			return true
		}
	}
	return k.Ctrl && strings.ToUpper(k.Key) == "U"
}

// HandleKey reports whether the event should be suppressed. Each suppressed
// shortcut is a strike.
func (g *Guard) HandleKey(k KeyEvent) bool {
	if !g.protecting() || !blockedShortcut(k) {
		return false
	}
	g.strike(MonitorShortcut, g.policy.ShortcutStrikes)
	return true
}

// HandleContextMenu reports whether the context menu should be suppressed.
func (g *Guard) HandleContextMenu() bool {
	if !g.protecting() {
		return false
	}
	g.strike(MonitorContextMenu, g.policy.ContextMenuStrikes)
	return true
}

func (g *Guard) protecting() bool {
	return g.State() == StateProtected
}

// strike adds one to the shared counter and redirects once the counter
// exceeds the calling monitor's threshold.
func (g *Guard) strike(monitor string, threshold int) {
	g.mu.Lock()
	if g.state != StateProtected {
		g.mu.Unlock()
		return
	}
	g.strikes++
	n := g.strikes
	g.mu.Unlock()

	g.log.Debug("strike", zap.String("monitor", monitor), zap.Int("strikes", n), zap.Int("threshold", threshold))
	if n > threshold {
		g.redirect(ReasonStrikes + ":" + monitor)
	}
}

// every runs fn on a ticker until ctx is done. A non-positive interval
// disables the monitor.
func (g *Guard) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.safely(ctx, fn)
			}
		}
	}()
}

func (g *Guard) safely(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("monitor panicked", zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// checkIntegrity records the script and stylesheet counts on its first run
// and strikes whenever either drifts past its tolerance afterwards.
func (g *Guard) checkIntegrity(context.Context) {
	if g.page == nil {
		return
	}
	scripts, sheets := g.page.ScriptCount(), g.page.StylesheetCount()

	g.mu.Lock()
	if g.baseline == nil {
		g.baseline = &domBaseline{scripts: scripts, stylesheets: sheets}
		g.mu.Unlock()
		return
	}
	base := *g.baseline
	g.mu.Unlock()

	if abs(scripts-base.scripts) > g.policy.ScriptTolerance || abs(sheets-base.stylesheets) > g.policy.StylesheetTolerance {
		g.log.Info("dom drift",
			zap.Int("scripts", scripts), zap.Int("baseline_scripts", base.scripts),
			zap.Int("stylesheets", sheets), zap.Int("baseline_stylesheets", base.stylesheets))
		g.strike(MonitorDOMDrift, g.policy.DOMDriftStrikes)
	}
}

func (g *Guard) checkDevtools() {
	if g.page == nil || g.policy.DevtoolsDelta <= 0 {
		return
	}
	if d := g.page.ConsoleRoundTrip(); d > g.policy.DevtoolsDelta {
		g.strike(MonitorDevtools, g.policy.DevtoolsStrikes)
	}
}

func (g *Guard) checkViewport() {
	if g.page == nil || g.policy.ViewportGap <= 0 {
		return
	}
	w, h := g.page.ViewportGap()
	if w > g.policy.ViewportGap || h > g.policy.ViewportGap {
		g.strike(MonitorViewport, g.policy.ViewportStrikes)
	}
}

// initialValidation waits out the initial delay, validates once, then starts
// the heartbeat. An explicit rejection redirects instead.
func (g *Guard) initialValidation(ctx context.Context) {
	defer g.wg.Done()

	if g.policy.InitialDelay > 0 {
		t := time.NewTimer(g.policy.InitialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	resp, err := g.validate(ctx, g.host.Hostname())
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		g.log.Warn("initial validation unreachable", zap.Error(err))
	case !resp.Valid:
		g.redirect(ReasonRemoteInvalid)
		return
	}
	g.every(ctx, g.policy.HeartbeatInterval, g.heartbeat)
}

// heartbeat re-runs the local domain check and the remote round trip.
func (g *Guard) heartbeat(ctx context.Context) {
	host := g.host.Hostname()
	if !g.authorized(host) {
		g.redirect(ReasonUnauthorizedDomain)
		return
	}
	resp, err := g.validate(ctx, host)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if g.policy.HeartbeatFailClosed {
			g.redirect(ReasonRemoteUnreachable)
			return
		}
		g.log.Warn("heartbeat unreachable", zap.Error(err))
		return
	}
	if !resp.Valid {
		g.redirect(ReasonRemoteInvalid)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
