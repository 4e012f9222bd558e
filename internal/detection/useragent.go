package detection

import (
	"strings"
)

// UAAnalysis contains user-agent string analysis
type UAAnalysis struct {
	Length             int      `json:"length"`
	ContainsAutomation bool     `json:"contains_automation"`
	AutomationKeywords []string `json:"automation_keywords"`
	Platform           string   `json:"platform"`
	Browser            string   `json:"browser"`
}

// analyzeUserAgent performs detailed user-agent string analysis
func analyzeUserAgent(userAgent string) UAAnalysis {
	analysis := UAAnalysis{
		Length:             len(userAgent),
		AutomationKeywords: []string{},
	}

	lowerUA := strings.ToLower(userAgent)

	automationKeywords := []string{
		"headless", "selenium", "webdriver", "puppeteer",
		"playwright", "phantom", "jsdom", "nightmare",
		"automated", "bot", "crawler", "spider",
	}

	for _, keyword := range automationKeywords {
		if strings.Contains(lowerUA, keyword) {
			analysis.ContainsAutomation = true
			analysis.AutomationKeywords = append(analysis.AutomationKeywords, keyword)
		}
	}

	analysis.Platform = extractPlatform(lowerUA)
	analysis.Browser = extractBrowser(lowerUA)

	return analysis
}

// extractPlatform extracts the OS family from a lowercased user-agent string
func extractPlatform(lowerUA string) string {
	// iOS UAs contain "Mac OS X", check mobile first
	switch {
	case strings.Contains(lowerUA, "iphone"), strings.Contains(lowerUA, "ipad"), strings.Contains(lowerUA, "ipod"):
		return "iOS"
	case strings.Contains(lowerUA, "android"):
		return "Android"
	case strings.Contains(lowerUA, "windows"):
		return "Windows"
	case strings.Contains(lowerUA, "mac"):
		return "macOS"
	case strings.Contains(lowerUA, "linux"), strings.Contains(lowerUA, "x11"), strings.Contains(lowerUA, "cros"):
		return "Linux"
	}
	return ""
}

// extractBrowser extracts browser information from a lowercased user-agent string
func extractBrowser(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "edg"):
		return "Edge"
	case strings.Contains(lowerUA, "chrome"):
		return "Chrome"
	case strings.Contains(lowerUA, "firefox"):
		return "Firefox"
	case strings.Contains(lowerUA, "safari"):
		return "Safari"
	}
	return ""
}

// platformFamily maps navigator.platform onto the extractPlatform vocabulary
func platformFamily(lowerPlatform string) string {
	switch {
	case strings.HasPrefix(lowerPlatform, "win"):
		return "Windows"
	case strings.HasPrefix(lowerPlatform, "iphone"), strings.HasPrefix(lowerPlatform, "ipad"), strings.HasPrefix(lowerPlatform, "ipod"):
		return "iOS"
	case strings.HasPrefix(lowerPlatform, "mac"):
		return "macOS"
	case strings.Contains(lowerPlatform, "android"):
		return "Android"
	case strings.HasPrefix(lowerPlatform, "linux"), strings.Contains(lowerPlatform, "x11"):
		return "Linux"
	}
	return ""
}

var arch64Tokens = []string{"win64", "wow64", "x86_64", "x64;", "amd64", "aarch64", "arm64"}

// platformInconsistent reports a user agent whose OS family or declared
// 64-bit architecture contradicts navigator.platform. Windows browsers report
// "Win32" on 64-bit builds, so that pairing is consistent.
func platformInconsistent(userAgent, platform string) bool {
	ua := strings.ToLower(userAgent)
	p := strings.ToLower(strings.TrimSpace(platform))
	if ua == "" || p == "" {
		return false
	}

	uaOS, pOS := extractPlatform(ua), platformFamily(p)
	if uaOS != "" && pOS != "" && uaOS != pOS {
		// Android reports a Linux platform string; iPadOS may report MacIntel.
		compatible := (uaOS == "Android" && pOS == "Linux") || (uaOS == "iOS" && pOS == "macOS")
		if !compatible {
			return true
		}
	}

	if strings.Contains(p, "i686") || strings.Contains(p, "i386") {
		for _, tok := range arch64Tokens {
			if strings.Contains(ua, tok) {
				return true
			}
		}
	}
	return false
}
