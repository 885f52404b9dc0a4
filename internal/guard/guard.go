// Package guard decides, per navigation, whether a view may render for the
// current session.
package guard

import (
	"context"

	"dmarc-dash/internal/session"
)

// View names a navigable screen.
type View string

const (
	ViewLogin          View = "login"
	ViewDashboard      View = "dashboard"
	ViewReports        View = "reports"
	ViewReportDetail   View = "report"
	ViewDomains        View = "domains"
	ViewFiles          View = "files"
	ViewSettings       View = "settings"
	ViewAPIKeys        View = "api_keys"
	ViewUsers          View = "users"
	ViewGlobalSettings View = "global_settings"
)

type policy struct {
	public    bool
	adminOnly bool
}

var policies = map[View]policy{
	ViewLogin:          {public: true},
	ViewDashboard:      {public: true},
	ViewReports:        {},
	ViewReportDetail:   {},
	ViewDomains:        {},
	ViewFiles:          {},
	ViewSettings:       {},
	ViewAPIKeys:        {},
	ViewUsers:          {adminOnly: true},
	ViewGlobalSettings: {adminOnly: true},
}

// Known reports whether v is a registered view.
func Known(v View) bool {
	_, ok := policies[v]
	return ok
}

// Public reports whether v renders without a session.
func Public(v View) bool {
	return policies[v].public
}

// Outcome is what the caller should do with a navigation.
type Outcome string

const (
	// Wait: the session is still resolving; render nothing yet.
	Wait Outcome = "wait"
	// Render: show the view.
	Render Outcome = "render"
	// RedirectLogin: go to the login view.
	RedirectLogin Outcome = "redirect_login"
	// Forbidden: signed in but not allowed; go to Redirect.
	Forbidden Outcome = "forbidden"
	// NotFound: no such view.
	NotFound Outcome = "not_found"
)

// Decision is the guard's verdict for one navigation.
type Decision struct {
	View     View    `json:"view"`
	Outcome  Outcome `json:"outcome"`
	Redirect View    `json:"redirect,omitempty"`
	IsAdmin  bool    `json:"is_admin"`
}

// Allowed reports whether the view should render.
func (d Decision) Allowed() bool {
	return d.Outcome == Render
}

// Decide evaluates a navigation against a session snapshot.
func Decide(v View, snap session.Snapshot) Decision {
	p, ok := policies[v]
	d := Decision{View: v, IsAdmin: snap.IsAdmin()}
	switch {
	case !ok:
		d.Outcome = NotFound
		d.Redirect = ViewDashboard
	case snap.State == session.StateResolving:
		d.Outcome = Wait
	case p.public:
		d.Outcome = Render
	case snap.State != session.StateAuthenticated:
		d.Outcome = RedirectLogin
		d.Redirect = ViewLogin
	case p.adminOnly && !d.IsAdmin:
		d.Outcome = Forbidden
		d.Redirect = ViewDashboard
	default:
		d.Outcome = Render
	}
	return d
}

// Source provides session snapshots.
type Source interface {
	Snapshot() session.Snapshot
	Wait(ctx context.Context) (session.Snapshot, error)
}

// Guard wraps every protected view with one session check.
type Guard struct {
	sessions Source
}

// New returns a guard reading from sessions.
func New(sessions Source) *Guard {
	return &Guard{sessions: sessions}
}

// Navigate decides with the session as it is right now.
func (g *Guard) Navigate(v View) Decision {
	return Decide(v, g.sessions.Snapshot())
}

// Await waits for the session to resolve, then decides. It never returns
// Wait unless ctx ends first.
func (g *Guard) Await(ctx context.Context, v View) (Decision, error) {
	snap, err := g.sessions.Wait(ctx)
	if err != nil {
		return Decide(v, snap), err
	}
	return Decide(v, snap), nil
}
