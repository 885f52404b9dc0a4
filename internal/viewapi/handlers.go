package viewapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dmarc-dash/internal/confirm"
	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/dashboard"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/guard"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/session"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil && !s.opts.Health.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleHealth returns the backend status and version for the footer.
// GET /view/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health checks not enabled")
		return
	}
	s.writeJSON(w, s.opts.Health.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		http.Error(w, "event bus not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	eventCh := s.opts.Bus.Subscribe()
	defer s.opts.Bus.Unsubscribe(eventCh)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := events.FormatSSE(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(data)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sessionResponse is the layout's view of the session.
type sessionResponse struct {
	session.Snapshot
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}

func newSessionResponse(snap session.Snapshot) sessionResponse {
	return sessionResponse{Snapshot: snap, DisplayName: snap.Session.DisplayName(), IsAdmin: snap.IsAdmin()}
}

// GET /view/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, newSessionResponse(s.opts.Sessions.Snapshot()))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /view/session/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.opts.Sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		code := http.StatusUnauthorized
		var le *session.LoginError
		if errors.As(err, &le) && le.Err == nil {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, err.Error())
		return
	}
	s.writeJSON(w, newSessionResponse(s.opts.Sessions.Snapshot()))
}

// POST /view/session/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.opts.Sessions.Logout()
	s.writeJSON(w, newSessionResponse(s.opts.Sessions.Snapshot()))
}

// handleNavigate returns the guard decision for a view.
// GET /view/navigate/{view}
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	view := guard.View(mux.Vars(r)["view"])
	s.writeJSON(w, s.opts.Guard.Navigate(view))
}

type prefsResponse struct {
	SidebarOpen bool            `json:"sidebar_open"`
	Theme       string          `json:"theme"`
	Range       daterange.Range `json:"date_range"`
}

func (s *Server) prefsState() prefsResponse {
	return prefsResponse{
		SidebarOpen: s.opts.Prefs.SidebarOpen(),
		Theme:       s.opts.Prefs.Theme(),
		Range:       s.opts.Ranges.Range(),
	}
}

// GET /view/prefs
func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.prefsState())
}

type prefsUpdate struct {
	SidebarOpen *bool   `json:"sidebar_open"`
	Theme       *string `json:"theme"`
}

// PUT /view/prefs
func (s *Server) handleUpdatePrefs(w http.ResponseWriter, r *http.Request) {
	var req prefsUpdate
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Theme != nil {
		if err := s.opts.Prefs.SetTheme(*req.Theme); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.SidebarOpen != nil {
		if err := s.opts.Prefs.SetSidebarOpen(*req.SidebarOpen); err != nil {
			s.logger.Error("failed to save sidebar state", "err", err)
			s.writeError(w, http.StatusInternalServerError, "failed to save preferences")
			return
		}
	}
	s.opts.Bus.Publish(events.Event{Type: events.PrefsChanged})
	s.writeJSON(w, s.prefsState())
}

type dashboardResponse struct {
	dashboard.Model
	Presets []int `json:"presets"`
}

// GET /view/dashboard
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, dashboardResponse{Model: s.opts.Dashboard.Model(), Presets: daterange.Presets})
}

type rangeRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Preset *int   `json:"preset"`
}

// handleSetRange stores a new range or applies a preset. An unparsable
// date is still stored and reported with 400; the dashboard then shows
// the default window.
// PUT /view/dashboard/range[?wait=1]
func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var err error
	if req.Preset != nil {
		_, err = s.opts.Ranges.ApplyPreset(*req.Preset)
	} else {
		err = s.opts.Ranges.SetRange(req.Start, req.End)
	}
	if wantWait(r) {
		s.opts.Dashboard.Wait()
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, dashboardResponse{Model: s.opts.Dashboard.Model(), Presets: daterange.Presets})
}

// POST /view/dashboard/refresh[?wait=1]
func (s *Server) handleRefreshDashboard(w http.ResponseWriter, r *http.Request) {
	s.opts.Dashboard.Refresh()
	if wantWait(r) {
		s.opts.Dashboard.Wait()
	}
	s.writeJSON(w, dashboardResponse{Model: s.opts.Dashboard.Model(), Presets: daterange.Presets})
}

// queryUpdate changes a list query. Absent fields are left alone; a filter
// with an empty value is cleared.
type queryUpdate struct {
	Search  *string           `json:"search"`
	Page    *int              `json:"page"`
	Filters map[string]string `json:"filters"`
}

// registerList adds GET <path>, PUT <path>/query and POST <path>/refresh
// for one list controller.
func registerList[T any](s *Server, r *mux.Router, path string, view guard.View, c *query.Controller[T]) {
	if c == nil {
		return
	}
	r.HandleFunc(path, s.guarded(view, func(w http.ResponseWriter, r *http.Request) {
		if wantWait(r) {
			c.Wait()
		}
		s.writeJSON(w, c.State())
	})).Methods(http.MethodGet)

	r.HandleFunc(path+"/query", s.guarded(view, func(w http.ResponseWriter, r *http.Request) {
		var req queryUpdate
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		for k, v := range req.Filters {
			c.SetFilter(k, v)
		}
		if req.Search != nil {
			c.SetSearch(*req.Search)
		}
		if req.Page != nil {
			c.SetPage(*req.Page)
		}
		if wantWait(r) {
			c.Wait()
		}
		s.writeJSON(w, c.State())
	})).Methods(http.MethodPut)

	r.HandleFunc(path+"/refresh", s.guarded(view, func(w http.ResponseWriter, r *http.Request) {
		c.Refresh()
		if wantWait(r) {
			c.Wait()
		}
		s.writeJSON(w, c.State())
	})).Methods(http.MethodPost)
}

// GET /view/reports/{id}
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := s.opts.API.Report(r.Context(), id)
	if err != nil {
		s.writeBackendError(w, err, "Failed to load report")
		return
	}
	s.writeJSON(w, detail)
}

// handleProposeFlush returns a confirmation token for a bulk delete.
// POST /view/reports/flush
func (s *Server) handleProposeFlush(w http.ResponseWriter, r *http.Request) {
	var filter confirm.FlushFilter
	if err := decodeBody(w, r, &filter); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	values, err := filter.Values(s.opts.Location)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := s.opts.Gate.Propose("flush", filter.Summary(), func(ctx context.Context) (string, error) {
		n, err := s.opts.API.DeleteReports(ctx, values)
		if err != nil {
			return "", err
		}
		s.afterFlush()
		return fmt.Sprintf("Successfully deleted %d reports.", n), nil
	})
	s.writeJSON(w, p)
}

// POST /view/files/{name}/delete
func (s *Server) handleProposeFileDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if strings.TrimSpace(name) == "" {
		s.writeError(w, http.StatusBadRequest, "file name is required")
		return
	}
	p := s.opts.Gate.Propose("rm-file", []string{"File: " + name}, func(ctx context.Context) (string, error) {
		if err := s.opts.API.DeleteFile(ctx, name); err != nil {
			return "", err
		}
		if s.opts.FilesCache != nil {
			s.opts.FilesCache.Invalidate()
		}
		if s.opts.Files != nil {
			s.opts.Files.Refresh()
		}
		return "Deleted " + name, nil
	})
	s.writeJSON(w, p)
}

// afterFlush reloads every view that shows report data.
func (s *Server) afterFlush() {
	if s.opts.DomainsCache != nil {
		s.opts.DomainsCache.Invalidate()
	}
	if s.opts.Reports != nil {
		s.opts.Reports.Refresh()
	}
	if s.opts.Domains != nil {
		s.opts.Domains.Refresh()
	}
	if s.opts.Dashboard != nil {
		s.opts.Dashboard.Refresh()
	}
}

type confirmResponse struct {
	Message string `json:"message"`
}

// POST /view/confirm/{token}
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	msg, err := s.opts.Gate.Confirm(r.Context(), mux.Vars(r)["token"])
	switch {
	case errors.Is(err, confirm.ErrUnknownToken):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, confirm.ErrExpired):
		s.writeError(w, http.StatusGone, err.Error())
	case err != nil:
		s.writeBackendError(w, err, "Action failed")
	default:
		s.writeJSON(w, confirmResponse{Message: msg})
	}
}

// DELETE /view/confirm/{token}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Gate.Cancel(mux.Vars(r)["token"]) {
		s.writeError(w, http.StatusNotFound, confirm.ErrUnknownToken.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func wantWait(r *http.Request) bool {
	switch r.URL.Query().Get("wait") {
	case "1", "true":
		return true
	}
	return false
}
