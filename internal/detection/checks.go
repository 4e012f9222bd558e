package detection

import (
	"strings"

	"github.com/shortontech/originguard/internal/probe"
)

// Family groups checks for the Details record.
type Family int

const (
	FamilyHeadless Family = iota
	FamilyAutomation
	FamilyUserAgent
	FamilyInconsistency
	FamilySoft
)

// Hit is a triggered check.
type Hit struct {
	Tag    string
	Weight int
}

// Check is one independent detector. Eval reports a hit or nothing and must
// not mutate shared state.
type Check struct {
	Name   string
	Family Family
	Eval   func(env probe.Environment) (Hit, bool)
}

func flag(tag string, weight int, family Family, pred func(env probe.Environment) bool) Check {
	return Check{
		Name:   tag,
		Family: family,
		Eval: func(env probe.Environment) (Hit, bool) {
			if pred(env) {
				return Hit{Tag: tag, Weight: weight}, true
			}
			return Hit{}, false
		},
	}
}

// Tags with meaning outside their own check.
const (
	TagWebdriverPresent   = "webdriver-present"
	TagWebdriverAttribute = "webdriver-attribute"
	TagNavigatorWebdriver = "navigator-webdriver"
	TagHeadlessSignature  = "chrome-headless-signature"
	TagSuspiciousStack    = "suspicious-error-stack"
	TagErrorCheckFailed   = "error-check-failed"
	TagTouchInconsistency = "touch-inconsistency"
)

// headlessDocumentSignature is the property chromedriver leaves on document.
const headlessDocumentSignature = "$cdc_asdjflasutopfhvcZLmcfl_"

// AutomationGlobals are names left on window or document by automation frameworks.
var AutomationGlobals = []string{
	"__webdriver_evaluate",
	"__selenium_evaluate",
	"__webdriver_script_function",
	"__webdriver_script_func",
	"__webdriver_script_fn",
	"__fxdriver_evaluate",
	"__driver_unwrapped",
	"__webdriver_unwrapped",
	"__driver_evaluate",
	"__selenium_unwrapped",
	"__fxdriver_unwrapped",
	"_Selenium_IDE_Recorder",
	"_selenium",
	"callSelenium",
	"callPhantom",
	"_phantom",
	"__nightmare",
	"emit",
	"spawn",
	"Buffer",
	"domAutomation",
	"domAutomationController",
}

// BotUserAgentPatterns are lowercase user-agent substrings of crawlers,
// preview bots and automation drivers. Matches stack.
var BotUserAgentPatterns = []string{
	"headless",
	"phantom",
	"selenium",
	"webdriver",
	"bot",
	"crawler",
	"spider",
	"scraper",
	"facebookexternalhit",
	"facebot",
	"twitterbot",
	"whatsapp",
	"telegrambot",
	"slackbot",
	"linkedinbot",
	"pinterestbot",
	"instagrambot",
	"tiktok",
	"bytespider",
	"petalbot",
}

// DefaultChecks returns the standard battery in evaluation order.
func DefaultChecks() []Check {
	checks := []Check{
		flag(TagWebdriverPresent, 25, FamilyHeadless, func(env probe.Environment) bool {
			return env.Webdriver()
		}),
		flag("no-plugins", 5, FamilyHeadless, func(env probe.Environment) bool {
			return len(env.Plugins()) == 0
		}),
		flag("no-languages", 10, FamilyHeadless, func(env probe.Environment) bool {
			return len(env.Languages()) == 0
		}),
		flag("chrome-runtime-missing", 15, FamilyHeadless, func(env probe.Environment) bool {
			c := env.Chrome()
			return c.Present && !c.HasRuntime
		}),
		flag("vendor-mismatch", 10, FamilyHeadless, func(env probe.Environment) bool {
			return env.Chrome().Present && env.Vendor() != "Google Inc."
		}),
		flag(TagWebdriverAttribute, 20, FamilyHeadless, func(env probe.Environment) bool {
			return env.HasDocumentAttribute("webdriver")
		}),
	}

	for _, name := range AutomationGlobals {
		name := name
		checks = append(checks, flag("automation-"+name, 25, FamilyAutomation, func(env probe.Environment) bool {
			return env.HasGlobal(name) || env.HasDocumentProperty(name)
		}))
	}
	checks = append(checks,
		flag(TagHeadlessSignature, 30, FamilyAutomation, func(env probe.Environment) bool {
			return env.HasDocumentProperty(headlessDocumentSignature)
		}),
		flag(TagNavigatorWebdriver, 25, FamilyAutomation, func(env probe.Environment) bool {
			return env.Webdriver()
		}),
	)

	for _, pattern := range BotUserAgentPatterns {
		pattern := pattern
		checks = append(checks, flag("ua-"+pattern, 30, FamilyUserAgent, func(env probe.Environment) bool {
			return strings.Contains(strings.ToLower(env.UserAgent()), pattern)
		}))
	}

	checks = append(checks,
		flag("platform-inconsistency", 10, FamilyInconsistency, func(env probe.Environment) bool {
			return platformInconsistent(env.UserAgent(), env.Platform())
		}),
		flag("zero-screen-size", 20, FamilyInconsistency, func(env probe.Environment) bool {
			s := env.Screen()
			return s.Width == 0 || s.Height == 0
		}),
		flag("abnormal-color-depth", 15, FamilyInconsistency, func(env probe.Environment) bool {
			d := env.Screen().ColorDepth
			return d == 0 || d == 1
		}),
		flag(TagTouchInconsistency, 5, FamilySoft, func(env probe.Environment) bool {
			return env.MaxTouchPoints() > 0 && !env.TouchEvents()
		}),
		flag("no-notification-api", 5, FamilySoft, func(env probe.Environment) bool {
			return !env.HasNotificationAPI()
		}),
		Check{Name: "error-stack", Family: FamilySoft, Eval: errorStack},
		flag("zero-connection-metrics", 15, FamilySoft, func(env probe.Environment) bool {
			c := env.Connection()
			return c.Present && c.RTT == 0 && c.Downlink == 0
		}),
		flag("no-mime-types", 5, FamilySoft, func(env probe.Environment) bool {
			return env.MimeTypeCount() == 0
		}),
	)
	return checks
}

// errorStack flags truncated stacks typical of stripped runtimes. A probe that
// cannot produce a stack at all scores lower.
func errorStack(env probe.Environment) (Hit, bool) {
	stack, err := env.ErrorStack()
	if err != nil {
		return Hit{Tag: TagErrorCheckFailed, Weight: 5}, true
	}
	if len(stack) < 10 {
		return Hit{Tag: TagSuspiciousStack, Weight: 10}, true
	}
	return Hit{}, false
}
