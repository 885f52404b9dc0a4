// Package viewapi serves the dashboard view models as JSON for a local
// front end. Every protected route passes through the route guard.
package viewapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/confirm"
	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/dashboard"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/guard"
	"dmarc-dash/internal/health"
	"dmarc-dash/internal/metrics"
	"dmarc-dash/internal/prefs"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/session"
)

// Prefix is the base path of the view-model routes.
const Prefix = "/view"

// Backend is the slice of the backend client used directly by handlers.
type Backend interface {
	Report(ctx context.Context, id string) (backend.ReportDetail, error)
	DeleteReports(ctx context.Context, filter url.Values) (int64, error)
	DeleteFile(ctx context.Context, name string) error
}

// Options wires a Server. Sessions, Guard, Prefs, Ranges, Dashboard, the
// three list controllers, API and Gate are required.
type Options struct {
	Sessions  *session.Store
	Guard     *guard.Guard
	Prefs     *prefs.Prefs
	Ranges    *daterange.Controller
	Dashboard *dashboard.View
	Reports   *query.Controller[backend.ReportRow]
	Domains   *query.Controller[backend.DomainRow]
	Files     *query.Controller[backend.FileEntry]
	API       Backend
	Gate      *confirm.Gate

	// DomainsCache and FilesCache are invalidated after deletions.
	DomainsCache *query.LocalSource[backend.DomainRow]
	FilesCache   *query.LocalSource[backend.FileEntry]

	Health   *health.Checker
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Location *time.Location
	Logger   *slog.Logger
}

// Server handles view API requests.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{opts: opts, logger: opts.Logger}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	v := r.PathPrefix(Prefix).Subrouter()
	v.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Session
	v.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	v.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	v.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)
	v.HandleFunc("/navigate/{view}", s.handleNavigate).Methods(http.MethodGet)

	// Preferences
	v.HandleFunc("/prefs", s.handlePrefs).Methods(http.MethodGet)
	v.HandleFunc("/prefs", s.handleUpdatePrefs).Methods(http.MethodPut)

	// Dashboard
	v.HandleFunc("/dashboard", s.guarded(guard.ViewDashboard, s.handleDashboard)).Methods(http.MethodGet)
	v.HandleFunc("/dashboard/range", s.guarded(guard.ViewDashboard, s.handleSetRange)).Methods(http.MethodPut)
	v.HandleFunc("/dashboard/refresh", s.guarded(guard.ViewDashboard, s.handleRefreshDashboard)).Methods(http.MethodPost)

	// Lists
	registerList(s, v, "/reports", guard.ViewReports, s.opts.Reports)
	registerList(s, v, "/domains", guard.ViewDomains, s.opts.Domains)
	registerList(s, v, "/files", guard.ViewFiles, s.opts.Files)
	v.HandleFunc("/reports/flush", s.guarded(guard.ViewReports, s.handleProposeFlush)).Methods(http.MethodPost)
	v.HandleFunc("/reports/{id}", s.guarded(guard.ViewReportDetail, s.handleReport)).Methods(http.MethodGet)
	v.HandleFunc("/files/{name}/delete", s.guarded(guard.ViewFiles, s.handleProposeFileDelete)).Methods(http.MethodPost)

	// Confirmation; any signed-in user may confirm a proposal they hold.
	v.HandleFunc("/confirm/{token}", s.guarded(guard.ViewSettings, s.handleConfirm)).Methods(http.MethodPost)
	v.HandleFunc("/confirm/{token}", s.guarded(guard.ViewSettings, s.handleCancel)).Methods(http.MethodDelete)

	return r
}

// guarded runs h only when the guard lets view render. Otherwise the
// decision is returned with 503 (resolving), 401, 403 or 404.
func (s *Server) guarded(view guard.View, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := s.opts.Guard.Navigate(view)
		if d.Allowed() {
			h(w, r)
			return
		}
		code := http.StatusUnauthorized
		switch d.Outcome {
		case guard.Wait:
			code = http.StatusServiceUnavailable
		case guard.Forbidden:
			code = http.StatusForbidden
		case guard.NotFound:
			code = http.StatusNotFound
		}
		s.writeJSONStatus(w, code, decisionResponse{Error: http.StatusText(code), Decision: d})
	}
}

type decisionResponse struct {
	Error    string         `json:"error"`
	Decision guard.Decision `json:"decision"`
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSONStatus(w, code, map[string]string{"error": message})
}

// writeBackendError maps a backend failure to a status and a message fit
// for display.
func (s *Server) writeBackendError(w http.ResponseWriter, err error, fallback string) {
	code := http.StatusBadGateway
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindAuth:
			code = be.Status
		case backend.KindNotFound:
			code = http.StatusNotFound
		case backend.KindConflict:
			code = be.Status
		}
	}
	if code == 0 {
		code = http.StatusBadGateway
	}
	s.writeError(w, code, backend.UserMessage(err, fallback))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
