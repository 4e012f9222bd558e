package domainlock

import (
	"net/netip"
	"strings"

	"github.com/shortontech/originguard/internal/validator"
)

// Authorizer decides whether the current host is a legitimate deployment.
type Authorizer interface {
	Authorized(host string) bool
}

// AllowList authorizes hosts on a fixed list of domains.
type AllowList struct {
	List validator.AllowList
}

func (a AllowList) Authorized(host string) bool {
	return a.List.Allowed(host)
}

// OriginOfRecord authorizes the first host it ever sees and persists it.
// Later loads must match it, ignoring a leading "www.".
type OriginOfRecord struct {
	Storage Storage
}

func (o OriginOfRecord) Authorized(host string) bool {
	host = stripWWW(validator.NormalizeHost(host))
	if host == "" {
		return false
	}
	recorded, ok := o.Storage.Get(KeyOriginOfRecord)
	if !ok || recorded == "" {
		o.Storage.Set(KeyOriginOfRecord, host)
		return true
	}
	return stripWWW(validator.NormalizeHost(recorded)) == host
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// IsLocalDev reports whether host is a loopback, private-network or
// link-local address, or a localhost name.
func IsLocalDev(host string) bool {
	host = validator.NormalizeHost(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
