package docgate

import (
	"log/slog"
	"time"

	"github.com/aadithya-v/docgate/bus"
	"github.com/aadithya-v/docgate/store"
)

// Config contains configuration options for a Manager.
type Config struct {
	// Origin scopes the default store. Managers with the same origin share a session.
	// Default: "default".
	Origin string

	// SessionDuration is the session length when "remember me" is not requested.
	// Default: 30 minutes.
	SessionDuration time.Duration

	// RememberDuration is the session length when "remember me" is requested.
	// Default: 24 hours.
	RememberDuration time.Duration

	// RenewalDuration is how far from now Extend pushes the expiry.
	// Default: SessionDuration.
	RenewalDuration time.Duration

	// WarningLeadTime is how long before expiry the renewal warning fires.
	// Default: 5 minutes.
	WarningLeadTime time.Duration

	// InactivityCeiling is the longest allowed gap since the last recorded
	// activity before the session is expired, independent of ExpiresAt.
	// Default: 15 minutes.
	InactivityCeiling time.Duration

	// InactivityCheckInterval is how often the inactivity check runs.
	// Default: 30 seconds.
	InactivityCheckInterval time.Duration

	// LoginDelay is an artificial pause before Establish completes.
	// It always runs to completion. Default: none.
	LoginDelay time.Duration

	// DisableNonceScope stops token verification from comparing session nonces.
	DisableNonceScope bool

	// Store is the persisted record backend.
	// Default: SQLite store at DatabasePath.
	Store store.RecordStore

	// DatabasePath is the path for the default SQLite database.
	// Only used if Store is nil.
	// Default: "docgate.db".
	DatabasePath string

	// Bus carries notifications to other managers of the same origin.
	// If nil the manager runs in single-tab mode.
	Bus bus.Bus

	// Logger receives warnings and debug output. Default: slog.Default().
	Logger *slog.Logger

	// Clock is the time source. Default: the system clock.
	Clock Clock

	// OnEvent receives lifecycle events. It may also be set later with SetListener.
	OnEvent func(Event)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Origin:                  "default",
		SessionDuration:         30 * time.Minute,
		RememberDuration:        24 * time.Hour,
		WarningLeadTime:         5 * time.Minute,
		InactivityCeiling:       15 * time.Minute,
		InactivityCheckInterval: 30 * time.Second,
		DatabasePath:            "docgate.db",
	}
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Origin == "" {
		c.Origin = defaults.Origin
	}
	if c.SessionDuration <= 0 {
		c.SessionDuration = defaults.SessionDuration
	}
	if c.RememberDuration <= 0 {
		c.RememberDuration = defaults.RememberDuration
	}
	if c.RenewalDuration <= 0 {
		c.RenewalDuration = c.SessionDuration
	}
	if c.WarningLeadTime <= 0 {
		c.WarningLeadTime = defaults.WarningLeadTime
	}
	if c.InactivityCeiling <= 0 {
		c.InactivityCeiling = defaults.InactivityCeiling
	}
	if c.InactivityCheckInterval <= 0 {
		c.InactivityCheckInterval = defaults.InactivityCheckInterval
	}
	if c.LoginDelay < 0 {
		c.LoginDelay = 0
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
}

// sessionDuration returns the session length for the remember preference.
func (c *Config) sessionDuration(remember bool) time.Duration {
	if remember {
		return c.RememberDuration
	}
	return c.SessionDuration
}
