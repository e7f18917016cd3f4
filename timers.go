package docgate

import (
	"context"
	"time"

	"github.com/aadithya-v/docgate/store"
)

// minDelay is the earliest a timer may fire after being armed.
const minDelay = time.Millisecond

// schedule holds the three session timers. They are armed and cancelled together.
// gen changes on every cancel so that callbacks already in flight can tell they are stale.
type schedule struct {
	gen    uint64
	warn   Timer
	expiry Timer
	idle   Timer
}

func (s *schedule) cancel() {
	s.gen++
	for _, t := range []Timer{s.warn, s.expiry, s.idle} {
		if t != nil {
			t.Stop()
		}
	}
	s.warn, s.expiry, s.idle = nil, nil, nil
}

// armLocked cancels any running timers and arms a fresh set for the current expiry.
func (m *Manager) armLocked(now time.Time) {
	m.sched.cancel()
	gen := m.sched.gen

	warnIn := clampDelay(m.expiresAt.Add(-m.config.WarningLeadTime).Sub(now))
	expireIn := clampDelay(m.expiresAt.Sub(now))

	m.sched.warn = m.clock.AfterFunc(warnIn, func() { m.onWarningTimer(gen) })
	m.sched.expiry = m.clock.AfterFunc(expireIn, func() { m.onExpiryTimer(gen) })
	m.sched.idle = m.clock.AfterFunc(m.config.InactivityCheckInterval, func() { m.onInactivityTimer(gen) })
}

func clampDelay(d time.Duration) time.Duration {
	if d < minDelay {
		return minDelay
	}
	return d
}

// live reports whether a timer from generation gen should still act.
func (m *Manager) liveLocked(gen uint64) bool {
	return gen == m.sched.gen && m.state != Unauthenticated
}

// onWarningTimer moves to Expiring and asks the collaborator to prompt for renewal.
func (m *Manager) onWarningTimer(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.mu.Lock()
	if !m.liveLocked(gen) || m.warned {
		m.mu.Unlock()
		return
	}

	var o outbox
	if _, handled := m.resyncLocked(ctx, &o); handled {
		m.mu.Unlock()
		m.flush(o)
		return
	}

	now := m.clock.Now()
	m.state = Expiring
	m.warned = true
	rec := m.mirrorLocked()
	m.mu.Unlock()

	m.log.Info("session expiring soon", "principal", rec.Principal, "expires_at", rec.ExpiresAt)
	m.emit(Event{Type: EventWarning, Record: rec, Remaining: rec.ExpiresAt.Sub(now), At: now})
}

// onExpiryTimer expires the session at its absolute expiry, whatever the recent activity.
// A session extended by another tab is re-synced instead.
func (m *Manager) onExpiryTimer(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.mu.Lock()
	if !m.liveLocked(gen) {
		m.mu.Unlock()
		return
	}

	var o outbox
	if _, handled := m.resyncLocked(ctx, &o); !handled {
		m.expireLocked(ctx, ReasonExpired, &o)
	}
	m.mu.Unlock()
	m.flush(o)
}

// onInactivityTimer expires the session when no activity was seen in any tab for
// longer than the inactivity ceiling, and otherwise persists newer local activity.
func (m *Manager) onInactivityTimer(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.mu.Lock()
	if !m.liveLocked(gen) {
		m.mu.Unlock()
		return
	}

	var o outbox
	srec, handled := m.resyncLocked(ctx, &o)
	if handled {
		m.mu.Unlock()
		m.flush(o)
		return
	}

	now := m.clock.Now()
	if srec != nil && srec.LastActivityAt.After(m.lastActivity) {
		m.lastActivity = srec.LastActivityAt
	}

	if now.Sub(m.lastActivity) > m.config.InactivityCeiling {
		m.expireLocked(ctx, ReasonInactivity, &o)
		m.mu.Unlock()
		m.flush(o)
		return
	}

	if srec != nil && m.lastActivity.After(srec.LastActivityAt) {
		srec.LastActivityAt = millis(m.lastActivity)
		if err := m.store.Save(ctx, srec); err != nil {
			m.log.Warn("failed to persist activity", "error", err)
		}
	}

	m.sched.idle = m.clock.AfterFunc(m.config.InactivityCheckInterval, func() { m.onInactivityTimer(gen) })
	m.mu.Unlock()
}

// resyncLocked re-reads the persisted record and brings the mirror in line with it.
// It reports handled when the mirror changed (and the timers were re-armed or
// cancelled), in which case the caller must not act on its old view. A store
// read error is logged and leaves the mirror alone.
func (m *Manager) resyncLocked(ctx context.Context, o *outbox) (*store.Record, bool) {
	srec, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("failed to re-read session", "error", err)
		return nil, false
	}
	if srec == nil {
		m.dropLocked(ReasonRemoteLogout, o)
		return nil, true
	}
	if srec.SessionNonce == m.nonce && srec.ExpiresAt.Equal(m.expiresAt) {
		return srec, false
	}

	rec := fromStore(m.codec, srec)
	now := m.clock.Now()
	if rec.IsExpired(now) {
		return srec, false
	}
	m.readoptLocked(rec, now, o)
	return srec, true
}

// mirrorLocked returns the local mirror as a Record.
func (m *Manager) mirrorLocked() *Record {
	return &Record{
		Principal:      m.principal,
		Token:          m.token,
		IssuedAt:       m.issuedAt,
		ExpiresAt:      m.expiresAt,
		LastActivityAt: m.lastActivity,
		SessionNonce:   m.nonce,
	}
}
