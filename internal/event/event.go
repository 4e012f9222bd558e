package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/originguard/internal/detection"
)

const (
	TypeVerdict          = "verdict"
	TypeDomainValidation = "domain_validation"
	TypeDomainRedirect   = "domain_redirect"
)

// Audit envelope. Optional fields are omitted when empty.
type Event struct {
	EventID string `json:"event_id"`
	TS      string `json:"ts"`   // ISO8601
	Type    string `json:"type"` // "verdict", "domain_validation", ...

	Fingerprint string   `json:"fingerprint,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason,omitempty"`
	Score       int      `json:"score,omitempty"`
	Detections  []string `json:"detections,omitempty"`

	Server    ServerMeta           `json:"server,omitempty"`
	Transport *detection.Transport `json:"transport,omitempty"`
}

// --- Server-side metadata ---

type ServerMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"ua,omitempty"`
	Route     string `json:"route,omitempty"`
}

// New stamps a fresh event id and timestamp.
func New(typ string) Event {
	return Event{
		EventID: uuid.NewString(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Type:    typ,
	}
}

// Emitter receives audit events. Implementations must not block the caller for long.
type Emitter func(Event)

// Discard drops every event.
func Discard(Event) {}
