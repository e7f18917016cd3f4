package gate

import (
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aadithya-v/docgate"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Log in</title>
</head>
<body>
<main>
<h1>Documentation login</h1>
{{with .Prompt}}<p class="prompt prompt-{{.Kind}}">{{.Message}}</p>{{end}}
{{with .Error}}<p class="error" role="alert">{{.}}</p>{{end}}
<form method="post" action="/login">
<label>Username <input name="username" autocomplete="username" value="{{.Principal}}"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<label><input name="remember" type="checkbox" value="on"> Remember me</label>
<button type="submit">Log in</button>
</form>
</main>
</body>
</html>
`))

type loginView struct {
	Prompt    *Prompt
	Error     string
	Principal string
}

// SessionCookie names the cookie that binds a browser to the session it
// logged in with. Its value is the session nonce.
const SessionCookie = "docgate_session"

// Server is the HTTP front end of a Gate. It serves the documentation only
// to viewers whose session cookie matches the valid session. Doc pages and
// user-initiated session actions count as activity; polling /session does not.
type Server struct {
	gate    *Gate
	docs    fs.FS
	tracker *LoginTracker
	log     *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLoginTracker enables new-location alerts on login.
func WithLoginTracker(t *LoginTracker) ServerOption {
	return func(s *Server) { s.tracker = t }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a Server for g serving pages from docs.
func NewServer(g *Gate, docs fs.FS, opts ...ServerOption) *Server {
	s := &Server{
		gate: g,
		docs: docs,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Get("/session", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/session/extend", s.handleExtend)
		r.Post("/session/dismiss", s.handleDismiss)
		r.Handle("/*", http.FileServer(http.FS(s.docs)))
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireSession admits viewers holding the current session and records
// their request as activity.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admitted(r) {
			s.gate.Touch()
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func viewerNonce(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) admitted(r *http.Request) bool {
	return s.gate.Admits(r.Context(), viewerNonce(r))
}

// expiredPrompt returns the expiry notice for a viewer whose session ended.
func (s *Server) expiredPrompt(r *http.Request) *Prompt {
	if viewerNonce(r) == "" {
		return nil
	}
	if p := s.gate.Prompt(); p != nil && p.Kind == PromptExpired {
		return p
	}
	return nil
}

// setSessionCookie binds the browser to rec. A remembered session gets a
// persistent cookie; otherwise it lasts until the browser closes.
func setSessionCookie(w http.ResponseWriter, r *http.Request, rec *docgate.Record, remember bool) {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    rec.SessionNonce,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		c.MaxAge = int(rec.ExpiresAt.Sub(rec.IssuedAt) / time.Second)
	}
	http.SetCookie(w, c)
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.admitted(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderLogin(w, http.StatusOK, loginView{Prompt: s.expiredPrompt(r)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	principal := r.PostForm.Get("username")
	remember := r.PostForm.Get("remember") != ""

	rec, err := s.gate.Submit(r.Context(), principal, r.PostForm.Get("password"), remember)
	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrInvalidCredentials):
		s.renderLogin(w, http.StatusUnauthorized, loginView{Error: err.Error(), Principal: principal})
		return
	case err != nil:
		s.log.Error("failed to establish session", "error", err)
		s.renderLogin(w, http.StatusInternalServerError, loginView{Error: "Login failed. Please try again."})
		return
	}

	if s.tracker != nil {
		s.tracker.Observe(rec.Principal, ExtractClient(r))
	}
	setSessionCookie(w, r, rec, remember)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout ends the session only for the viewer holding it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.admitted(r) {
		if err := s.gate.Logout(r.Context()); err != nil {
			s.log.Warn("logout did not clear the stored session", "error", err)
		}
	}
	clearSessionCookie(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type statusResponse struct {
	docgate.Status
	Prompt *Prompt `json:"prompt,omitempty"`
	Notice string  `json:"notice,omitempty"`
}

// handleStatus reports the session to its viewer. Other viewers only learn
// that they are logged out. Polling is not activity.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.admitted(r) {
		writeJSON(w, http.StatusOK, statusResponse{
			Status: docgate.Status{
				State:     docgate.Unauthenticated,
				SingleTab: s.gate.Manager().Status().SingleTab,
			},
			Prompt: s.expiredPrompt(r),
		})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.gate.Manager().Status(),
		Prompt: s.gate.Prompt(),
		Notice: s.gate.TakeNotice(),
	})
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gate.Extend(r.Context())
	switch {
	case errors.Is(err, docgate.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.log.Error("failed to extend session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to extend session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"expires_at": rec.ExpiresAt})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.gate.DismissWarning()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, view loginView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, view); err != nil {
		s.log.Error("failed to render login page", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
