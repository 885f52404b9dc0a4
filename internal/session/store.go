// Package session owns the signed-in identity and its bearer credential.
//
// A Store starts out resolving, settles to anonymous or authenticated after
// Restore, and from then on changes only through Login, Logout and Expire.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/metrics"
	"dmarc-dash/internal/prefs"
)

// State is the lifecycle state of a Store.
type State string

const (
	StateResolving     State = "resolving"
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

// ErrNotAuthenticated is returned by operations that need a session.
var ErrNotAuthenticated = errors.New("not signed in")

// Session is the signed-in identity. It is never mutated; login replaces
// it and logout drops it.
type Session struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Token     string `json:"-"`
}

// IsAdmin reports whether the session has the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == backend.RoleAdmin
}

// DisplayName returns "First Last", falling back to the username.
func (s *Session) DisplayName() string {
	if s == nil {
		return ""
	}
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return s.Username
	}
	return name
}

func fromUser(u backend.User, token string) *Session {
	return &Session{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		Token:     token,
	}
}

// Snapshot is a consistent read of the store.
type Snapshot struct {
	State   State    `json:"state"`
	Loading bool     `json:"loading"`
	Session *Session `json:"user,omitempty"`
}

// IsAdmin reports whether the snapshot holds an admin session.
func (s Snapshot) IsAdmin() bool {
	return s.State == StateAuthenticated && s.Session.IsAdmin()
}

// Authenticator is the slice of the backend the store needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (backend.LoginResponse, error)
	WhoAmI(ctx context.Context, token string) (backend.User, error)
}

// LoginError carries a reason suitable for showing next to the login form.
type LoginError struct {
	Reason string
	Err    error
}

func (e *LoginError) Error() string {
	return e.Reason
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// Options configures a Store.
type Options struct {
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Store holds the current session. It is safe for concurrent use.
type Store struct {
	api     Authenticator
	slots   prefs.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	state     State
	session   *Session
	listeners []func(Snapshot)

	resolved    chan struct{}
	resolveOnce sync.Once
}

// NewStore creates a store in the resolving state.
func NewStore(api Authenticator, slots prefs.Store, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		api:      api,
		slots:    slots,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		logger:   logger,
		state:    StateResolving,
		resolved: make(chan struct{}),
	}
	s.metrics.SetSessionState(string(StateResolving))
	return s
}

// Restore resolves the persisted token, if any, into a session.
// Any failure leaves the store anonymous and removes the stored token.
// Loading ends exactly once whatever the outcome.
func (s *Store) Restore(ctx context.Context) Snapshot {
	token, ok, err := s.slots.Get(prefs.KeyAuthToken)
	if err != nil {
		s.logger.Warn("read stored token failed", "err", err)
	}
	if !ok || token == "" {
		s.settle()
		return s.Snapshot()
	}

	user, err := s.api.WhoAmI(ctx, token)
	if err != nil {
		s.logger.Info("stored session rejected", "err", err)
		s.mu.RLock()
		resolving := s.state == StateResolving
		s.mu.RUnlock()
		// A login that completed meanwhile has stored its own token.
		if resolving {
			if err := s.slots.Delete(prefs.KeyAuthToken); err != nil {
				s.logger.Warn("remove stored token failed", "err", err)
			}
		}
		s.settle()
		return s.Snapshot()
	}

	s.mu.Lock()
	// A login that completed while restore was in flight wins.
	if s.state != StateResolving {
		s.mu.Unlock()
		s.settle()
		return s.Snapshot()
	}
	s.state = StateAuthenticated
	s.session = fromUser(user, token)
	s.mu.Unlock()
	s.settle()
	s.notify()
	return s.Snapshot()
}

// settle ends the resolving phase, defaulting to anonymous.
func (s *Store) settle() {
	changed := false
	s.mu.Lock()
	if s.state == StateResolving {
		s.state = StateAnonymous
		changed = true
	}
	s.mu.Unlock()
	s.resolveOnce.Do(func() { close(s.resolved) })
	if changed {
		s.notify()
	}
}

// Login authenticates and replaces the current session. On failure the
// session is unchanged and the error is a *LoginError.
func (s *Store) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return &LoginError{Reason: "Username and password are required"}
	}

	resp, err := s.api.Login(ctx, username, password)
	if err != nil {
		return &LoginError{Reason: backend.UserMessage(err, "Login failed"), Err: err}
	}

	if err := s.slots.Set(prefs.KeyAuthToken, resp.AccessToken, prefs.TokenTTL); err != nil {
		s.logger.Warn("persist token failed, session will not survive restart", "err", err)
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.session = fromUser(resp.User, resp.AccessToken)
	s.mu.Unlock()

	s.logger.Info("signed in", "user", resp.User.Username, "role", resp.User.Role)
	s.settle()
	s.notify()
	return nil
}

// Logout drops the session and the stored token. No request is made.
func (s *Store) Logout() {
	s.clear()
	s.logger.Info("signed out")
}

// Expire ends the session after the backend rejected token. It is a no-op
// unless token is the one the current session holds, so a late 401 for a
// previous session does not end a newer one.
func (s *Store) Expire(token string, cause error) {
	s.mu.RLock()
	active := s.state == StateAuthenticated && s.session != nil && token != "" && s.session.Token == token
	s.mu.RUnlock()
	if !active {
		return
	}
	s.metrics.RecordSessionExpired()
	s.logger.Warn("session expired", "err", cause)
	s.clear()
}

func (s *Store) clear() {
	if err := s.slots.Delete(prefs.KeyAuthToken); err != nil {
		s.logger.Warn("remove stored token failed", "err", err)
	}
	s.mu.Lock()
	s.state = StateAnonymous
	s.session = nil
	s.mu.Unlock()
	s.settle()
	s.notify()
}

// Token returns the bearer credential, or "" when anonymous.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, Loading: s.state == StateResolving}
	if s.session != nil {
		cp := *s.session
		snap.Session = &cp
	}
	return snap
}

// Resolved is closed once the resolving phase has ended.
func (s *Store) Resolved() <-chan struct{} {
	return s.resolved
}

// Wait blocks until the store has resolved or ctx is done.
func (s *Store) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.resolved:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// OnChange registers fn to run after every state change.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.mu.RLock()
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.RUnlock()

	s.metrics.SetSessionState(string(snap.State))
	s.bus.Publish(events.Event{Type: events.SessionChanged, State: string(snap.State)})
	for _, fn := range listeners {
		fn(snap)
	}
}
