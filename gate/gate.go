// Package gate puts a login in front of documentation pages.
//
// A Gate owns one docgate.Manager. It compares submitted credentials against
// a configured pair, keeps the renewal or expiry prompt the viewer should see,
// and forwards everything else to the manager. The comparison is a plain
// string match against a pair that ships with the viewer; it offers no
// confidentiality or integrity guarantee.
//
// There is one session per origin, not one per viewer. The HTTP Server binds
// it to the browser that logged in through a cookie carrying the session
// nonce. A later login from any browser replaces the session and locks the
// earlier browser out.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aadithya-v/docgate"
)

var (
	// ErrInvalidCredentials is returned for a wrong principal or secret.
	// The message does not say which one was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrMissingCredentials is returned when either field is empty.
	ErrMissingCredentials = errors.New("please enter both username and password")
)

// LoginNotice is shown once after a successful login.
const LoginNotice = "Login successful"

// Credentials is the expected principal/secret pair.
type Credentials struct {
	Principal string
	Secret    string
}

// DefaultCredentials returns the pair used when none is configured.
func DefaultCredentials() Credentials {
	return Credentials{Principal: "admin", Secret: "password"}
}

// PromptKind identifies the notice the viewer should see.
type PromptKind string

const (
	PromptRenewal PromptKind = "renewal"
	PromptExpired PromptKind = "expired"
)

// Prompt is a pending notice for the viewer.
type Prompt struct {
	Kind      PromptKind    `json:"kind"`
	Message   string        `json:"message"`
	Remaining time.Duration `json:"remaining,omitempty"`
	ExpiresAt time.Time     `json:"expires_at,omitempty"`
}

// Gate is the access gate collaborator of a session manager.
type Gate struct {
	mgr   *docgate.Manager
	creds Credentials
	log   *slog.Logger
	hook  func(docgate.Event)

	mu     sync.Mutex
	prompt *Prompt
	notice string
}

// Option configures a Gate.
type Option func(*Gate)

// WithCredentials sets the expected credentials. Empty fields keep the defaults.
func WithCredentials(c Credentials) Option {
	return func(g *Gate) {
		if c.Principal != "" {
			g.creds.Principal = c.Principal
		}
		if c.Secret != "" {
			g.creds.Secret = c.Secret
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithEventHook sets a function called with every manager event after the
// gate has updated its prompt.
func WithEventHook(fn func(docgate.Event)) Option {
	return func(g *Gate) { g.hook = fn }
}

// New creates a Gate and registers it as the manager's event listener.
func New(mgr *docgate.Manager, opts ...Option) *Gate {
	g := &Gate{
		mgr:   mgr,
		creds: DefaultCredentials(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	mgr.SetListener(g.handleEvent)
	return g
}

// Manager returns the underlying session manager.
func (g *Gate) Manager() *docgate.Manager {
	return g.mgr
}

// Load reports whether the viewer may see the documentation right now.
func (g *Gate) Load(ctx context.Context) bool {
	return g.mgr.Check(ctx).Valid
}

// Admits reports whether the holder of nonce owns the current valid session.
func (g *Gate) Admits(ctx context.Context, nonce string) bool {
	if nonce == "" {
		return false
	}
	v := g.mgr.Check(ctx)
	return v.Valid && v.Record.SessionNonce == nonce
}

// Submit validates the credentials and establishes a session.
// The principal is trimmed of surrounding whitespace; the secret is not.
func (g *Gate) Submit(ctx context.Context, principal, secret string, remember bool) (*docgate.Record, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" || secret == "" {
		return nil, ErrMissingCredentials
	}

	if principal != g.creds.Principal || secret != g.creds.Secret {
		g.log.Info("login rejected", "principal", principal)
		return nil, ErrInvalidCredentials
	}

	rec, err := g.mgr.Establish(ctx, principal, secret, remember)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.notice = LoginNotice
	g.mu.Unlock()
	return rec, nil
}

// Logout ends the session in every tab.
func (g *Gate) Logout(ctx context.Context) error {
	return g.mgr.Terminate(ctx, docgate.ReasonManualLogout)
}

// Extend renews the session and clears the renewal prompt.
func (g *Gate) Extend(ctx context.Context) (*docgate.Record, error) {
	return g.mgr.Extend(ctx)
}

// DismissWarning hides the renewal prompt without extending.
// The session still expires at its current time.
func (g *Gate) DismissWarning() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.prompt != nil && g.prompt.Kind == PromptRenewal {
		g.prompt = nil
	}
}

// Prompt returns the pending notice, or nil.
func (g *Gate) Prompt() *Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.prompt == nil {
		return nil
	}
	p := *g.prompt
	return &p
}

// TakeNotice returns the one-off login notice and clears it.
func (g *Gate) TakeNotice() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.notice
	g.notice = ""
	return n
}

// Touch records viewer activity.
func (g *Gate) Touch() {
	g.mgr.RecordActivity()
}

func (g *Gate) handleEvent(ev docgate.Event) {
	g.updatePrompt(ev)
	if g.hook != nil {
		g.hook(ev)
	}
}

func (g *Gate) updatePrompt(ev docgate.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch ev.Type {
	case docgate.EventWarning:
		p := &Prompt{
			Kind:      PromptRenewal,
			Message:   "Your session is about to expire. Extend it to stay logged in.",
			Remaining: ev.Remaining,
		}
		if ev.Record != nil {
			p.ExpiresAt = ev.Record.ExpiresAt
		}
		g.prompt = p
	case docgate.EventExpired:
		g.prompt = &Prompt{
			Kind:    PromptExpired,
			Message: "Your session has expired. Please log in again.",
		}
		g.notice = ""
	case docgate.EventEstablished, docgate.EventExtended, docgate.EventResynced:
		g.prompt = nil
	case docgate.EventTerminated, docgate.EventReload:
		g.prompt = nil
		g.notice = ""
	}
}
