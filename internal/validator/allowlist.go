package validator

import "strings"

// AllowList matches hostnames against a fixed set of domains. A host matches
// an entry when it equals it or is a subdomain of it. Containment, when
// enabled, also accepts any host that merely contains an entry; it admits
// look-alike hosts and is off unless configured.
type AllowList struct {
	Domains     []string
	Containment bool
}

func (a AllowList) Allowed(host string) bool {
	host = NormalizeHost(host)
	if host == "" {
		return false
	}
	for _, d := range a.Domains {
		d = NormalizeHost(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
		if a.Containment && strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// NormalizeHost lowercases host and drops a trailing root dot.
func NormalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// RedirectURL turns a canonical origin into an absolute URL. Bare hosts get https.
func RedirectURL(canonical string) string {
	if canonical == "" || strings.Contains(canonical, "://") {
		return canonical
	}
	return "https://" + canonical
}
