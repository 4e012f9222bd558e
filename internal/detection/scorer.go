// Package detection scores a browser environment for automation artifacts and
// analyzes the transport-level signals of the request that carried it.
package detection

import (
	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/probe"
)

const (
	DefaultBotThreshold        = 50
	DefaultSuspiciousThreshold = 20
)

// Details is the per-family outcome record kept for audit.
type Details struct {
	Headless               bool `json:"headless"`
	Webdriver              bool `json:"webdriver"`
	Phantom                bool `json:"phantom"`
	Selenium               bool `json:"selenium"`
	SuspiciousUserAgent    bool `json:"suspicious_userAgent"`
	SuspiciousPlugins      bool `json:"suspicious_plugins"`
	SuspiciousLanguages    bool `json:"suspicious_languages"`
	SuspiciousScreen       bool `json:"suspicious_screen"`
	SuspiciousErrors       bool `json:"suspicious_errors"`
	AutomationTools        bool `json:"automation_tools"`
	BrowserInconsistencies bool `json:"browser_inconsistencies"`
}

type Result struct {
	IsBot        bool     `json:"isBot"`
	IsSuspicious bool     `json:"isSuspicious"`
	Detections   []string `json:"detections"`
	Score        int      `json:"score"`
	Details      Details  `json:"details"`
}

// Clean is the zero-score result used when scoring cannot complete.
func Clean() Result {
	return Result{Detections: []string{}}
}

type Thresholds struct {
	Bot        int
	Suspicious int
}

// normalized keeps Suspicious at or below Bot so a bot is always suspicious.
func (t Thresholds) normalized() Thresholds {
	if t.Bot <= 0 {
		t.Bot = DefaultBotThreshold
	}
	if t.Suspicious <= 0 {
		t.Suspicious = DefaultSuspiciousThreshold
	}
	if t.Suspicious > t.Bot {
		t.Suspicious = t.Bot
	}
	return t
}

type Scorer struct {
	checks     []Check
	thresholds Thresholds
	log        *zap.Logger
}

// NewScorer builds a scorer over checks; nil checks selects DefaultChecks.
func NewScorer(th Thresholds, checks []Check, logger *zap.Logger) *Scorer {
	if checks == nil {
		checks = DefaultChecks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{checks: checks, thresholds: th.normalized(), log: logger.Named("detection")}
}

// Detect runs every check against env and sums the triggered weights. It
// reads env only and may be called repeatedly.
func (s *Scorer) Detect(env probe.Environment) Result {
	res := Result{Detections: []string{}}
	families := make(map[Family]bool)
	tags := make(map[string]bool)

	for _, c := range s.checks {
		hit, ok := s.eval(c, env)
		if !ok {
			continue
		}
		res.Score += hit.Weight
		res.Detections = append(res.Detections, hit.Tag)
		families[c.Family] = true
		tags[hit.Tag] = true
	}

	res.IsBot = res.Score >= s.thresholds.Bot
	res.IsSuspicious = res.Score >= s.thresholds.Suspicious
	res.Details = s.details(env, families, tags)
	return res
}

func (s *Scorer) eval(c Check, env probe.Environment) (hit Hit, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("check panicked", zap.String("check", c.Name), zap.Any("panic", r))
			hit, ok = Hit{}, false
		}
	}()
	return c.Eval(env)
}

func (s *Scorer) details(env probe.Environment, families map[Family]bool, tags map[string]bool) (d Details) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("details probe panicked", zap.Any("panic", r))
		}
	}()
	d.Headless = tags[TagWebdriverPresent] || tags[TagWebdriverAttribute]
	d.AutomationTools = families[FamilyAutomation]
	d.SuspiciousUserAgent = families[FamilyUserAgent]
	d.BrowserInconsistencies = families[FamilyInconsistency]
	d.SuspiciousErrors = tags[TagSuspiciousStack]
	d.Webdriver = env.Webdriver()
	d.Phantom = env.HasGlobal("callPhantom") || env.HasGlobal("_phantom")
	d.Selenium = env.HasGlobal("selenium") || env.HasDocumentProperty("selenium")
	d.SuspiciousPlugins = len(env.Plugins()) == 0
	d.SuspiciousLanguages = len(env.Languages()) == 0
	sc := env.Screen()
	d.SuspiciousScreen = sc.Width == 0 || sc.Height == 0
	return d
}
