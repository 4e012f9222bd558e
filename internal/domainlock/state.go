// Package domainlock detects a site running on a host it was not deployed to
// and sends visitors back to the canonical origin.
package domainlock

// State is the guard's position in its lifecycle.
type State int

const (
	StateUnchecked State = iota
	StateLocalDev
	StateAuthorized
	StateUnauthorized
	StateProtected
	StateRedirecting
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateLocalDev:
		return "local_dev"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	case StateProtected:
		return "protected"
	case StateRedirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Redirect reasons.
const (
	ReasonUnauthorizedDomain = "unauthorized-domain"
	ReasonRemoteInvalid      = "remote-invalid"
	ReasonRemoteUnreachable  = "remote-unreachable"
	ReasonStrikes            = "strike-threshold"
)

// Monitor names used for strike accounting and logs.
const (
	MonitorDevtools    = "devtools"
	MonitorContextMenu = "context-menu"
	MonitorShortcut    = "shortcut"
	MonitorViewport    = "viewport"
	MonitorDOMDrift    = "dom-drift"
)

// Decision is the outcome of Start.
type Decision struct {
	Allowed bool   `json:"allowed"`
	State   State  `json:"-"`
	Reason  string `json:"reason,omitempty"`
}
