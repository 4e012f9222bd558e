package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
)

// Transport holds request-level signals observed by the server that received a snapshot.
type Transport struct {
	ClientIP           string     `json:"client_ip"`
	HeaderFingerprint  string     `json:"header_fingerprint"`
	HeaderCount        int        `json:"header_count"`
	MissingExpected    []string   `json:"missing_expected"`
	AutomationHeaders  []string   `json:"automation_headers"`
	InconsistentValues []string   `json:"inconsistent_values"`
	PayloadEntropy     float64    `json:"payload_entropy"`
	UserAgent          UAAnalysis `json:"user_agent_analysis"`
}

// Flagged reports whether any transport signal points at automation.
func (t Transport) Flagged() bool {
	return len(t.AutomationHeaders) > 0 || t.UserAgent.ContainsAutomation || len(t.MissingExpected) >= 3
}

// AnalyzeRequest collects transport signals from r and its already-read body.
func AnalyzeRequest(r *http.Request, body []byte, trustProxy bool) Transport {
	t := Transport{
		ClientIP:           ClientIP(r, trustProxy),
		HeaderFingerprint:  headerFingerprint(r.Header),
		HeaderCount:        len(r.Header),
		MissingExpected:    checkMissingHeaders(r.Header),
		AutomationHeaders:  detectAutomationHeaders(r.Header),
		InconsistentValues: []string{},
		UserAgent:          analyzeUserAgent(r.UserAgent()),
	}
	if len(body) > 0 {
		t.PayloadEntropy = calculateEntropy(body)
	}
	if ua, lang := r.Header.Get("User-Agent"), r.Header.Get("Accept-Language"); ua != "" && lang != "" {
		if isLanguageUAInconsistent(ua, lang) {
			t.InconsistentValues = append(t.InconsistentValues, "language-ua-mismatch")
		}
	}
	return t
}

// ClientIP extracts the client address. Forwarding headers are honored only
// behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// detectAutomationHeaders checks for automation-specific headers and values
func detectAutomationHeaders(headers http.Header) []string {
	found := []string{}
	keywords := []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, header := range keys {
		for _, value := range headers[header] {
			lower := strings.ToLower(value)
			for _, keyword := range keywords {
				if strings.Contains(lower, keyword) {
					found = append(found, fmt.Sprintf("%s: %s", header, value))
					break
				}
			}
		}
	}

	// presence alone is suspicious
	for _, header := range []string{"Chrome-Proxy", "X-Devtools-Emulate-Network-Conditions-Client-Id"} {
		if value := headers.Get(header); value != "" {
			found = append(found, fmt.Sprintf("%s: %s", header, value))
		}
	}
	return found
}

func checkMissingHeaders(headers http.Header) []string {
	missing := []string{}
	for _, expected := range []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"} {
		if headers.Get(expected) == "" {
			missing = append(missing, expected)
		}
	}
	return missing
}

// isLanguageUAInconsistent checks a locale token embedded in the UA against Accept-Language
func isLanguageUAInconsistent(userAgent, acceptLanguage string) bool {
	ua := strings.ToLower(userAgent)
	lang := strings.ToLower(acceptLanguage)
	for _, pair := range [][2]string{{"zh-cn", "zh"}, {"ja-jp", "ja"}, {"ko-kr", "ko"}} {
		if strings.Contains(ua, pair[0]) && !strings.Contains(lang, pair[1]) {
			return true
		}
	}
	return false
}

// headerFingerprint hashes sorted header names with truncated values
func headerFingerprint(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := headers.Get(key)
		if len(value) > 20 {
			value = value[:20] + "..."
		}
		parts = append(parts, key+":"+value)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

// calculateEntropy calculates the Shannon entropy of the data
func calculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	entropy := 0.0
	length := float64(len(data))
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / length
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
