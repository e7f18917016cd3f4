package docgate

import (
	"time"

	"github.com/aadithya-v/docgate/store"
)

// Record is the session record shared by every manager of an origin.
type Record struct {
	Principal      string    `json:"principal"`
	Token          string    `json:"token"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	SessionNonce   string    `json:"session_nonce"`
}

// IsExpired reports whether the record has expired at now.
func (r *Record) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// State is the lifecycle state of one manager.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Expiring
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expiring:
		return "expiring"
	default:
		return "unauthenticated"
	}
}

// Reason explains why a session is invalid or why it ended.
// It is informational and does not change state machine behavior.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonAbsent        Reason = "absent"
	ReasonUnreadable    Reason = "unreadable"
	ReasonTampered      Reason = "tampered"
	ReasonExpired       Reason = "expired"
	ReasonInactivity    Reason = "inactivity"
	ReasonManualLogout  Reason = "manual logout"
	ReasonRemoteLogout  Reason = "remote logout"
	ReasonRemoteExpired Reason = "remote expiry"
)

// Verdict is the result of Check.
type Verdict struct {
	Valid  bool
	Record *Record
	Reason Reason
}

// EventType identifies a lifecycle event.
type EventType string

const (
	EventEstablished EventType = "established"
	EventWarning     EventType = "warning"
	EventExtended    EventType = "extended"
	EventExpired     EventType = "expired"
	EventTerminated  EventType = "terminated"
	EventRemoteLogin EventType = "remote_login"
	// EventResynced reports that the tab adopted a newer record written by
	// another tab, such as an extension. Any renewal warning is cleared.
	EventResynced EventType = "resynced"
	// EventReload asks the collaborator to rebuild its view from the store.
	EventReload EventType = "reload"
)

// Event is delivered to the manager's listener.
type Event struct {
	Type   EventType
	Reason Reason
	// Record is set for established, warning and extended events.
	Record *Record
	// Remaining is the time left before expiry, set for warning events.
	Remaining time.Duration
	At        time.Time
}

// Status is a snapshot of a manager's local mirror.
type Status struct {
	State          State     `json:"state"`
	Principal      string    `json:"principal,omitempty"`
	SessionNonce   string    `json:"session_nonce,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
	WarningPending bool      `json:"warning_pending"`
	SingleTab      bool      `json:"single_tab"`
}

// toStore converts a Record to its persisted form.
func toStore(r *Record) *store.Record {
	return &store.Record{
		Token:          r.Token,
		Principal:      r.Principal,
		SessionNonce:   r.SessionNonce,
		ExpiresAt:      r.ExpiresAt,
		LastActivityAt: r.LastActivityAt,
	}
}

// fromStore converts a persisted record, recovering IssuedAt from the token.
// IssuedAt is left zero when the token does not decode.
func fromStore(codec Codec, s *store.Record) *Record {
	rec := &Record{
		Principal:      s.Principal,
		Token:          s.Token,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
		SessionNonce:   s.SessionNonce,
	}
	if cl, err := codec.Decode(s.Token); err == nil {
		rec.IssuedAt = cl.IssuedAt
	}
	return rec
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
