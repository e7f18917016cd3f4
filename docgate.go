// Package docgate decides whether a documentation viewer counts as logged in.
//
// A Manager plays the part of one browser tab: it mints a session token,
// persists the session record to a shared store, arms renewal, expiry and
// inactivity timers, and keeps other managers of the same origin in sync over
// a broadcast bus.
//
// None of this is a security boundary. The expected credentials are
// configured on the viewer side and the token is a reversible encoding that
// contains the secret, so anyone who can read the store can read the
// password. It keeps casual readers out and nothing more.
package docgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aadithya-v/docgate/bus"
	"github.com/aadithya-v/docgate/store"
)

// storeTimeout bounds store and bus calls made from timers and bus handlers.
const storeTimeout = 5 * time.Second

// Manager is the session lifecycle state machine for one tab.
type Manager struct {
	config Config
	codec  Codec
	store  store.RecordStore
	bus    bus.Bus
	clock  Clock
	log    *slog.Logger

	mu           sync.Mutex
	state        State
	principal    string
	token        string
	nonce        string
	issuedAt     time.Time
	expiresAt    time.Time
	lastActivity time.Time
	warned       bool
	loggingIn    bool
	listener     func(Event)
	sched        schedule
}

// New creates a Manager with the given configuration.
// If Store is not provided, an SQLite store at DatabasePath is used.
// If Bus is nil or cannot be subscribed, the manager logs a warning and runs single-tab.
func New(cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	m := &Manager{
		config:   cfg,
		codec:    Codec{NonceScoped: !cfg.DisableNonceScope},
		clock:    cfg.Clock,
		log:      cfg.Logger.With("origin", cfg.Origin),
		listener: cfg.OnEvent,
	}

	if cfg.Store != nil {
		m.store = cfg.Store
	} else {
		sqliteStore, err := store.NewSQLite(cfg.DatabasePath, cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("docgate: failed to initialize SQLite store: %w", err)
		}
		m.store = sqliteStore
	}

	switch {
	case cfg.Bus == nil:
		m.log.Warn("running in single-tab mode", "error", ErrBroadcastUnavailable)
	default:
		if err := cfg.Bus.Subscribe(m.handleMessage); err != nil {
			m.log.Warn("running in single-tab mode", "error", fmt.Errorf("%w: %v", ErrBroadcastUnavailable, err))
			cfg.Bus.Close()
		} else {
			m.bus = cfg.Bus
		}
	}

	return m, nil
}

// Close cancels all timers and releases the bus and store.
// It does not touch the persisted session.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.sched.cancel()
	m.mu.Unlock()

	var errs []error
	if m.bus != nil {
		if err := m.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("docgate: errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// SetListener sets the function that receives lifecycle events.
// The listener runs outside the manager lock and may call back into the manager.
func (m *Manager) SetListener(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Establish starts a new session for principal.
//
// It does not check the credential; that is the caller's job. After the
// configured login delay it mints a token with a fresh nonce, persists the
// record, arms the timers and broadcasts a login. The delay always runs to
// completion and is not cut short by ctx.
func (m *Manager) Establish(ctx context.Context, principal, secret string, remember bool) (*Record, error) {
	if principal == "" || secret == "" {
		return nil, ErrInvalidInput
	}

	m.mu.Lock()
	m.loggingIn = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loggingIn = false
		m.mu.Unlock()
	}()

	if m.config.LoginDelay > 0 {
		m.clock.Sleep(m.config.LoginDelay)
	}

	now := millis(m.clock.Now())
	nonce := uuid.NewString()
	token, err := m.codec.Encode(Claims{
		Principal: principal,
		Secret:    secret,
		IssuedAt:  now,
		Nonce:     nonce,
	})
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Principal:      principal,
		Token:          token,
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.config.sessionDuration(remember)),
		LastActivityAt: now,
		SessionNonce:   nonce,
	}

	m.mu.Lock()
	if err := m.store.Save(ctx, toStore(rec)); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("docgate: failed to persist session: %w", err)
	}
	m.adoptLocked(rec)
	m.lastActivity = now
	m.armLocked(now)
	m.mu.Unlock()

	m.log.Info("session established",
		"principal", principal,
		"remember", remember,
		"expires_at", rec.ExpiresAt,
	)

	m.flush(outbox{
		msgs:   []bus.Message{bus.Login(nonce)},
		events: []Event{{Type: EventEstablished, Record: rec, At: now}},
	})
	return rec, nil
}

// Check reports whether the persisted session is currently valid.
//
// An absent, unreadable or tampered record is invalid and left alone. An
// expired record is invalid and triggers expiry, which clears it. A valid
// record rehydrates an unauthenticated manager. Check never writes the
// persisted record except through expiry.
func (m *Manager) Check(ctx context.Context) Verdict {
	m.mu.Lock()

	srec, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("treating unreadable session as absent", "error", fmt.Errorf("%w: %v", ErrPersistenceRead, err))
		return Verdict{Reason: ReasonUnreadable}
	}
	if srec == nil {
		m.mu.Unlock()
		return Verdict{Reason: ReasonAbsent}
	}

	rec := fromStore(m.codec, srec)
	now := m.clock.Now()

	if rec.IsExpired(now) {
		var o outbox
		m.expireLocked(ctx, ReasonExpired, &o)
		m.mu.Unlock()
		m.flush(o)
		return Verdict{Record: rec, Reason: ReasonExpired}
	}

	if !m.codec.Verify(rec.Token, rec.Principal, "", rec.SessionNonce) {
		m.mu.Unlock()
		m.log.Debug("persisted token failed verification", "principal", rec.Principal)
		return Verdict{Record: rec, Reason: ReasonTampered}
	}

	var o outbox
	switch {
	case m.loggingIn:
	case m.state == Unauthenticated:
		m.adoptLocked(rec)
		m.armLocked(now)
		m.log.Debug("session rehydrated", "principal", rec.Principal, "expires_at", rec.ExpiresAt)
	case rec.SessionNonce != m.nonce || !rec.ExpiresAt.Equal(m.expiresAt):
		m.readoptLocked(rec, now, &o)
	}
	m.mu.Unlock()
	m.flush(o)

	return Verdict{Valid: true, Record: rec}
}

// Extend pushes the expiry to now plus the renewal duration and clears any
// pending warning. The new expiry is always later than the previous one.
// Token, principal and nonce are unchanged.
func (m *Manager) Extend(ctx context.Context) (*Record, error) {
	m.mu.Lock()

	if m.state == Unauthenticated {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}

	srec, err := m.store.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrPersistenceRead, err)
	}

	var o outbox
	if srec == nil {
		m.dropLocked(ReasonRemoteLogout, &o)
		m.mu.Unlock()
		m.flush(o)
		return nil, ErrNotAuthenticated
	}

	rec := fromStore(m.codec, srec)
	now := m.clock.Now()
	if rec.IsExpired(now) {
		m.expireLocked(ctx, ReasonExpired, &o)
		m.mu.Unlock()
		m.flush(o)
		return nil, ErrNotAuthenticated
	}

	prev := rec.ExpiresAt
	if m.expiresAt.After(prev) {
		prev = m.expiresAt
	}
	next := millis(now.Add(m.config.RenewalDuration))
	if !next.After(prev) {
		next = prev.Add(m.config.RenewalDuration)
	}
	rec.ExpiresAt = next
	if m.lastActivity.After(rec.LastActivityAt) {
		rec.LastActivityAt = millis(m.lastActivity)
	}

	if err := m.store.Save(ctx, toStore(rec)); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("docgate: failed to persist session: %w", err)
	}

	m.adoptLocked(rec)
	m.armLocked(now)
	m.mu.Unlock()

	m.log.Info("session extended", "principal", rec.Principal, "expires_at", rec.ExpiresAt)
	m.emit(Event{Type: EventExtended, Record: rec, At: now})
	return rec, nil
}

// Terminate ends the session: it clears the persisted record, cancels all
// timers and broadcasts a logout. The manager ends up unauthenticated even if
// clearing the store fails. reason is informational.
func (m *Manager) Terminate(ctx context.Context, reason Reason) error {
	m.mu.Lock()
	err := m.store.Clear(ctx)
	principal := m.principal
	m.resetLocked()
	now := m.clock.Now()
	m.mu.Unlock()

	m.log.Info("session terminated", "principal", principal, "reason", reason)
	m.flush(outbox{
		msgs:   []bus.Message{bus.Logout()},
		events: []Event{{Type: EventTerminated, Reason: reason, At: now}},
	})

	if err != nil {
		return fmt.Errorf("docgate: failed to clear session: %w", err)
	}
	return nil
}

// RecordActivity notes user activity. It only updates memory; the next
// inactivity check persists it.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Unauthenticated {
		m.lastActivity = m.clock.Now()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the local mirror.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:          m.state,
		Principal:      m.principal,
		SessionNonce:   m.nonce,
		ExpiresAt:      m.expiresAt,
		LastActivityAt: m.lastActivity,
		WarningPending: m.warned,
		SingleTab:      m.bus == nil,
	}
}

// adoptLocked makes rec the local mirror and enters Authenticated.
// lastActivity only moves forward.
func (m *Manager) adoptLocked(rec *Record) {
	m.state = Authenticated
	m.principal = rec.Principal
	m.token = rec.Token
	m.nonce = rec.SessionNonce
	m.issuedAt = rec.IssuedAt
	m.expiresAt = rec.ExpiresAt
	m.warned = false
	if rec.LastActivityAt.After(m.lastActivity) {
		m.lastActivity = rec.LastActivityAt
	}
}

// readoptLocked replaces the mirror of a live tab with a newer record written
// elsewhere, re-arms the timers and queues EventResynced.
func (m *Manager) readoptLocked(rec *Record, now time.Time, o *outbox) {
	m.adoptLocked(rec)
	m.armLocked(now)
	m.log.Debug("session re-synced from store", "principal", rec.Principal, "expires_at", rec.ExpiresAt)
	o.events = append(o.events, Event{Type: EventResynced, Record: rec, At: now})
}

// resetLocked cancels the timers and returns to Unauthenticated.
func (m *Manager) resetLocked() {
	m.sched.cancel()
	m.state = Unauthenticated
	m.principal = ""
	m.token = ""
	m.nonce = ""
	m.issuedAt = time.Time{}
	m.expiresAt = time.Time{}
	m.lastActivity = time.Time{}
	m.warned = false
}

// expireLocked clears the persisted record, resets the mirror and queues the
// session_expired broadcast and event.
func (m *Manager) expireLocked(ctx context.Context, reason Reason, o *outbox) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to clear expired session", "error", err)
	}
	principal := m.principal
	m.resetLocked()

	m.log.Info("session expired", "principal", principal, "reason", reason)
	o.msgs = append(o.msgs, bus.Expired())
	o.events = append(o.events, Event{Type: EventExpired, Reason: reason, At: m.clock.Now()})
}

// dropLocked resets the mirror after the session ended elsewhere and queues a reload.
func (m *Manager) dropLocked(reason Reason, o *outbox) {
	m.resetLocked()
	m.log.Info("session ended in another tab", "reason", reason)
	o.events = append(o.events, Event{Type: EventReload, Reason: reason, At: m.clock.Now()})
}

// millis truncates t to the millisecond precision used by tokens and the store.
func millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
