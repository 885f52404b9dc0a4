package viewapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/confirm"
	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/dashboard"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/guard"
	"dmarc-dash/internal/lists"
	"dmarc-dash/internal/prefs"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is a minimal DMARC backend. alice is a user, root an admin.
type fakeBackend struct {
	mu      sync.Mutex
	deletes []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	auth := r.Header.Get("Authorization")
	switch {
	case r.URL.Path == "/api/login":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch body["username"] {
		case "alice":
			io.WriteString(w, `{"access_token":"alice-token","user":{"id":1,"username":"alice","first_name":"Alice","role":"user"}}`)
		case "root":
			io.WriteString(w, `{"access_token":"root-token","user":{"id":2,"username":"root","role":"admin"}}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Incorrect username or password"}`)
		}
	case r.URL.Path == "/api/stats":
		io.WriteString(w, `{"total_reports":2,"total_volume":100,"disposition_stats":{"none":80,"quarantine":15,"reject":5},"recent_activity":[],"volume_series":[]}`)
	case auth == "":
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Not authenticated"}`)
	case r.URL.Path == "/api/reports" && r.Method == http.MethodGet:
		io.WriteString(w, `{"items":[{"id":7,"report_id":"r7","org_name":"google.com","domain":"example.com","total_count":10,"pass_count":9,"fail_count":1}],"total":41,"page":1,"page_size":20,"pages":3}`)
	case r.URL.Path == "/api/reports" && r.Method == http.MethodDelete:
		f.mu.Lock()
		f.deletes = append(f.deletes, r.URL.RawQuery)
		f.mu.Unlock()
		io.WriteString(w, `{"deleted":12}`)
	case r.URL.Path == "/api/reports/7":
		io.WriteString(w, `{"id":7,"report_id":"r7","domain":"example.com","records":[{"id":1,"source_ip":"192.0.2.1","count":3,"disposition":"none","dkim":"pass","spf":"pass"}]}`)
	case strings.HasPrefix(r.URL.Path, "/api/reports/"):
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Report not found"}`)
	case r.URL.Path == "/api/domains":
		io.WriteString(w, `[{"domain":"example.com","report_count":3,"total_volume":10,"pass_count":10}]`)
	case r.URL.Path == "/api/files":
		io.WriteString(w, `[{"name":"a.xml","size":2048,"created":"2024-01-01T00:00:00","processed":true}]`)
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	srv      *httptest.Server
	backend  *fakeBackend
	sessions *session.Store
	reports  *query.Controller[backend.ReportRow]
	bus      *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := quietLogger()

	fb := &fakeBackend{}
	api := httptest.NewServer(fb)
	t.Cleanup(api.Close)

	client, err := backend.NewClient(api.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}
	client.Logger = logger

	bus := events.NewBus(64)
	t.Cleanup(bus.Shutdown)

	slots := prefs.NewMemoryStore()
	p := prefs.NewPrefs(slots, logger)
	sessions := session.NewStore(client, slots, session.Options{Bus: bus, Logger: logger})
	client.Tokens = sessions
	client.OnUnauthorized = sessions.Expire
	sessions.Restore(context.Background())

	ctx := context.Background()
	ranges := daterange.NewController(p, daterange.Options{Location: time.UTC, Bus: bus, Logger: logger})
	dash := dashboard.New(ctx, ranges, client, dashboard.Options{Bus: bus, Logger: logger})
	t.Cleanup(dash.Close)

	reports := query.NewController(ctx, lists.Reports(client), query.Options{Name: "reports", PageSize: 20, Debounce: 10 * time.Millisecond, Bus: bus, Logger: logger})
	t.Cleanup(reports.Close)

	domainsCache := lists.Domains(client.Domains, time.Minute)
	domains := query.NewController(ctx, domainsCache.Fetch, query.Options{Name: "domains", PageSize: 50, Logger: logger})
	t.Cleanup(domains.Close)

	filesCache := lists.Files(client.Files, time.Minute)
	files := query.NewController(ctx, filesCache.Fetch, query.Options{Name: "files", PageSize: 50, Logger: logger})
	t.Cleanup(files.Close)

	s := NewServer(Options{
		Sessions:     sessions,
		Guard:        guard.New(sessions),
		Prefs:        p,
		Ranges:       ranges,
		Dashboard:    dash,
		Reports:      reports,
		Domains:      domains,
		Files:        files,
		API:          client,
		Gate:         confirm.NewGate(time.Minute, confirm.Options{Bus: bus, Logger: logger}),
		DomainsCache: domainsCache,
		FilesCache:   filesCache,
		Bus:          bus,
		Location:     time.UTC,
		Logger:       logger,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, backend: fb, sessions: sessions, reports: reports, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp, out
}

func (e *testEnv) login(t *testing.T, user string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/view/session/login", `{"username":"`+user+`","password":"pw"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}
}

func TestGuard_AnonymousRedirectsProtectedViews(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodGet, "/view/reports", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	d, _ := body["decision"].(map[string]any)
	if d["outcome"] != string(guard.RedirectLogin) || d["redirect"] != string(guard.ViewLogin) {
		t.Errorf("decision = %v", d)
	}

	resp, _ = e.do(t, http.MethodGet, "/view/dashboard", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("dashboard status = %d, want 200 for anonymous", resp.StatusCode)
	}
}

func TestNavigate_AdminOnly(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice")

	_, body := e.do(t, http.MethodGet, "/view/navigate/users", "")
	if body["outcome"] != string(guard.Forbidden) || body["redirect"] != string(guard.ViewDashboard) {
		t.Errorf("alice -> users = %v", body)
	}

	e.do(t, http.MethodPost, "/view/session/logout", "")
	e.login(t, "root")
	_, body = e.do(t, http.MethodGet, "/view/navigate/users", "")
	if body["outcome"] != string(guard.Render) || body["is_admin"] != true {
		t.Errorf("root -> users = %v", body)
	}

	_, body = e.do(t, http.MethodGet, "/view/navigate/nowhere", "")
	if body["outcome"] != string(guard.NotFound) {
		t.Errorf("unknown view = %v", body)
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/view/session/login", `{"username":"mallory","password":"x"}`)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Incorrect username or password" {
		t.Errorf("bad login = %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodPost, "/view/session/login", `{"username":"","password":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty login status = %d, want 400", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, "/view/session/login", `{"username":"alice","password":"pw"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	if body["state"] != string(session.StateAuthenticated) || body["display_name"] != "Alice" {
		t.Errorf("session = %v", body)
	}
	if _, leaked := body["token"]; leaked {
		t.Error("token must not be serialized")
	}
}

func TestReportsListAndQuery(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice")

	resp, body := e.do(t, http.MethodPost, "/view/reports/refresh?wait=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	if body["total"] != float64(41) || body["pages"] != float64(3) || body["can_go_next"] != true {
		t.Errorf("state = %v", body)
	}

	_, body = e.do(t, http.MethodPut, "/view/reports/query?wait=1", `{"page":2}`)
	q, _ := body["query"].(map[string]any)
	if q["page"] != float64(2) {
		t.Errorf("query = %v", q)
	}

	_, body = e.do(t, http.MethodPut, "/view/reports/query?wait=1", `{"filters":{"domain":"example.com"}}`)
	q, _ = body["query"].(map[string]any)
	if q["page"] != float64(1) {
		t.Errorf("filter change should reset page, query = %v", q)
	}

	resp, _ = e.do(t, http.MethodPut, "/view/reports/query", `{"bogus":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp.StatusCode)
	}
}

func TestReportDetail(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice")

	resp, body := e.do(t, http.MethodGet, "/view/reports/7", "")
	if resp.StatusCode != http.StatusOK || body["report_id"] != "r7" {
		t.Errorf("detail = %d %v", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/view/reports/99", "")
	if resp.StatusCode != http.StatusNotFound || body["error"] != "Report not found" {
		t.Errorf("missing report = %d %v", resp.StatusCode, body)
	}
}

func TestFlushRequiresConfirmation(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice")

	resp, body := e.do(t, http.MethodPost, "/view/reports/flush", `{"domain":"example.com","start":"2024-01-01"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("propose status = %d %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	summary, _ := body["summary"].([]any)
	if token == "" || len(summary) != 2 || summary[0] != "Domain: example.com" {
		t.Fatalf("proposal = %v", body)
	}
	e.backend.mu.Lock()
	if len(e.backend.deletes) != 0 {
		t.Error("propose must not delete")
	}
	e.backend.mu.Unlock()

	resp, body = e.do(t, http.MethodPost, "/view/confirm/"+token, "")
	if resp.StatusCode != http.StatusOK || body["message"] != "Successfully deleted 12 reports." {
		t.Fatalf("confirm = %d %v", resp.StatusCode, body)
	}
	e.backend.mu.Lock()
	if len(e.backend.deletes) != 1 || !strings.Contains(e.backend.deletes[0], "domain=example.com") || !strings.Contains(e.backend.deletes[0], "start=1704067200") {
		t.Errorf("deletes = %v", e.backend.deletes)
	}
	e.backend.mu.Unlock()

	resp, _ = e.do(t, http.MethodPost, "/view/confirm/"+token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reused token status = %d, want 404", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/view/reports/flush", `{"start":"someday"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", resp.StatusCode)
	}
	e.reports.Wait()
}

func TestCancelProposal(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice")

	_, body := e.do(t, http.MethodPost, "/view/files/a.xml/delete", "")
	token, _ := body["token"].(string)
	resp, _ := e.do(t, http.MethodDelete, "/view/confirm/"+token, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/view/confirm/"+token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("confirm after cancel status = %d", resp.StatusCode)
	}
}

func TestPrefs(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodGet, "/view/prefs", "")
	if body["theme"] != "light" || body["sidebar_open"] != true {
		t.Errorf("default prefs = %v", body)
	}

	_, body = e.do(t, http.MethodPut, "/view/prefs", `{"theme":"dark","sidebar_open":false}`)
	if body["theme"] != "dark" || body["sidebar_open"] != false {
		t.Errorf("updated prefs = %v", body)
	}

	resp, _ := e.do(t, http.MethodPut, "/view/prefs", `{"theme":"neon"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid theme status = %d", resp.StatusCode)
	}
}

func TestDashboardRange(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPut, "/view/dashboard/range?wait=1", `{"start":"2024-01-01","end":"2024-01-07"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	series, _ := body["volume_series"].([]any)
	if len(series) != 7 {
		t.Errorf("volume_series has %d points, want 7", len(series))
	}
	compliance, _ := body["compliance"].(map[string]any)
	if compliance["pass_rate_pct"] != float64(80) {
		t.Errorf("compliance = %v", compliance)
	}

	resp, _ = e.do(t, http.MethodPut, "/view/dashboard/range?wait=1", `{"start":"bad","end":"2024-01-07"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid range status = %d, want 400", resp.StatusCode)
	}
	_, body = e.do(t, http.MethodGet, "/view/dashboard", "")
	if body["fell_back"] != true {
		t.Errorf("dashboard after invalid range = %v", body)
	}

	_, body = e.do(t, http.MethodPut, "/view/dashboard/range?wait=1", `{"preset":14}`)
	if series, _ := body["volume_series"].([]any); len(series) != 15 {
		t.Errorf("preset 14 gave %d points, want 15", len(series))
	}
}

func TestEventsStream(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/view/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	e.bus.Publish(events.Event{Type: events.PrefsChanged})
	done := make(chan string, 1)
	go func() {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				close(done)
				return
			}
			if strings.HasPrefix(line, "event: ") {
				done <- strings.TrimSpace(strings.TrimPrefix(line, "event: "))
				return
			}
		}
	}()
	select {
	case got := <-done:
		if got != string(events.PrefsChanged) {
			t.Errorf("event = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
