package docgate

import (
	"context"

	"github.com/aadithya-v/docgate/bus"
)

// outbox collects broadcasts and events produced under the lock so they can be
// sent after it is released.
type outbox struct {
	msgs   []bus.Message
	events []Event
}

func (m *Manager) flush(o outbox) {
	for _, msg := range o.msgs {
		m.publish(msg)
	}
	for _, ev := range o.events {
		m.emit(ev)
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
}

// publish broadcasts msg. Failures are logged; other tabs fall back to reading the store.
func (m *Manager) publish(msg bus.Message) {
	if m.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.bus.Publish(ctx, msg); err != nil {
		m.log.Warn("failed to broadcast", "type", msg.Type, "error", err)
	}
}

// handleMessage reacts to a notification from another tab.
// Messages about a session this tab does not hold are ignored.
func (m *Manager) handleMessage(msg bus.Message) {
	switch msg.Type {
	case bus.TypeLogin:
		m.handleRemoteLogin(msg)
	case bus.TypeLogout:
		m.handleRemoteEnd(ReasonRemoteLogout)
	case bus.TypeSessionExpired:
		m.handleRemoteEnd(ReasonRemoteExpired)
	default:
		m.log.Debug("ignoring unknown broadcast", "type", msg.Type)
	}
}

// handleRemoteLogin adopts the nonce of a session minted in another tab.
// An unauthenticated tab has no mirror to update; its next Check picks the
// session up from the store.
func (m *Manager) handleRemoteLogin(msg bus.Message) {
	if msg.Data == nil || msg.Data.SessionNonce == "" {
		m.log.Debug("ignoring login broadcast without nonce")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.mu.Lock()
	if m.loggingIn {
		m.mu.Unlock()
		m.log.Debug("ignoring login broadcast during local login")
		return
	}

	var o outbox
	if m.state != Unauthenticated {
		m.nonce = msg.Data.SessionNonce
		m.resyncLocked(ctx, &o)
	}
	now := m.clock.Now()
	m.mu.Unlock()

	o.events = append(o.events, Event{Type: EventRemoteLogin, At: now})
	m.flush(o)
}

// handleRemoteEnd drops the local session after a logout or expiry elsewhere.
// The persisted record is cleared again only if it still belongs to the
// session this tab knows; a newer session written since is left alone.
func (m *Manager) handleRemoteEnd(reason Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.mu.Lock()
	if m.state == Unauthenticated {
		m.mu.Unlock()
		return
	}

	srec, err := m.store.Load(ctx)
	switch {
	case err != nil:
		m.log.Warn("failed to read session after remote logout", "error", err)
	case srec != nil && srec.SessionNonce == m.nonce:
		if err := m.store.Clear(ctx); err != nil {
			m.log.Warn("failed to clear session after remote logout", "error", err)
		}
	}

	var o outbox
	m.dropLocked(reason, &o)
	m.mu.Unlock()
	m.flush(o)
}
