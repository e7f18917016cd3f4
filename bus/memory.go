package bus

import (
	"context"
	"sync"
)

// Hub is an in-process broadcast channel. Each Open call returns a new endpoint.
// Delivery is synchronous on the publisher's goroutine.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[*Endpoint]struct{})}
}

// Open attaches a new endpoint to the hub.
func (h *Hub) Open() *Endpoint {
	e := &Endpoint{hub: h}

	h.mu.Lock()
	h.endpoints[e] = struct{}{}
	h.mu.Unlock()

	return e
}

func (h *Hub) deliver(from *Endpoint, msg Message) {
	h.mu.RLock()
	targets := make([]*Endpoint, 0, len(h.endpoints))
	for e := range h.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	h.mu.RUnlock()

	// Handlers run outside the hub lock; they may publish in turn.
	for _, e := range targets {
		if handler := e.handlerFunc(); handler != nil {
			handler(msg)
		}
	}
}

// Endpoint is one attachment to a Hub. It implements Bus.
type Endpoint struct {
	hub *Hub

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// Publish delivers msg to every other endpoint of the hub.
func (e *Endpoint) Publish(ctx context.Context, msg Message) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.hub.deliver(e, msg)
	return nil
}

// Subscribe registers the endpoint's handler.
func (e *Endpoint) Subscribe(h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.handler != nil {
		return ErrAlreadySubscribed
	}
	e.handler = h
	return nil
}

// Close detaches the endpoint from the hub.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.handler = nil
	e.mu.Unlock()

	e.hub.mu.Lock()
	delete(e.hub.endpoints, e)
	e.hub.mu.Unlock()
	return nil
}

func (e *Endpoint) handlerFunc() Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}
