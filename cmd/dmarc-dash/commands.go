package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/confirm"
	"dmarc-dash/internal/dashboard"
	"dmarc-dash/internal/guard"
	"dmarc-dash/internal/lists"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/session"
	"dmarc-dash/internal/timeseries"
	"dmarc-dash/internal/util"
)

// command is one CLI verb. view is checked by the route guard before run;
// an empty view needs no session.
type command struct {
	name    string
	summary string
	view    guard.View
	run     func(ctx context.Context, a *app, args []string) error
}

func commands() []command {
	return []command{
		{"login", "sign in and store the session token", guard.ViewLogin, runLogin},
		{"logout", "sign out and forget the stored token", "", runLogout},
		{"whoami", "show the signed-in user", guard.ViewSettings, runWhoAmI},
		{"stats", "dashboard figures for the selected date range", guard.ViewDashboard, runStats},
		{"range", "show or change the dashboard date range", guard.ViewDashboard, runRange},
		{"reports", "list aggregate reports", guard.ViewReports, runReports},
		{"report", "show one report with its records", guard.ViewReportDetail, runReport},
		{"domains", "per-domain rollup", guard.ViewDomains, runDomains},
		{"files", "list uploaded report files", guard.ViewFiles, runFiles},
		{"rm-file", "delete an uploaded file", guard.ViewFiles, runRemoveFile},
		{"flush", "bulk delete reports matching a filter", guard.ViewReports, runFlush},
		{"upload", "upload report files", guard.ViewFiles, runUpload},
		{"profile", "show or update your profile", guard.ViewSettings, runProfile},
		{"password", "change your password", guard.ViewSettings, runPassword},
		{"keys", "list, create or revoke API keys", guard.ViewAPIKeys, runKeys},
		{"users", "manage user accounts (admin)", guard.ViewUsers, runUsers},
		{"settings", "show or change global settings (admin)", guard.ViewGlobalSettings, runSettings},
		{"prefs", "show or change local preferences", "", runPrefs},
		{"version", "show the backend version", "", runVersion},
		{"serve", "serve the view API, events and metrics", "", runServe},
	}
}

func findCommand(name string) (command, bool) {
	for _, c := range commands() {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flagSet("login", a.out)
	user := fs.String("user", "", "username")
	password := fs.String("password", "", "password (read from stdin when empty)")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	var err error
	if *user == "" {
		if *user, err = a.readLine("Username: "); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = a.readSecret("Password: "); err != nil {
			return err
		}
	}

	if err := a.sessions.Login(ctx, *user, *password); err != nil {
		return err
	}
	snap := a.sessions.Snapshot()
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", snap.Session.DisplayName(), snap.Session.Role)
	return nil
}

func runLogout(ctx context.Context, a *app, args []string) error {
	a.sessions.Logout()
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runWhoAmI(ctx context.Context, a *app, args []string) error {
	fs := flagSet("whoami", a.out)
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	snap := a.sessions.Snapshot()
	if *asJSON {
		return printJSON(a.out, snap)
	}
	s := snap.Session
	tw := newTable(a.out)
	fmt.Fprintf(tw, "User\t%s\n", s.Username)
	fmt.Fprintf(tw, "Name\t%s\n", s.DisplayName())
	fmt.Fprintf(tw, "Role\t%s\n", s.Role)
	return tw.Flush()
}

// rangeFlags registers --preset, --start and --end and applies them.
type rangeFlags struct {
	preset     *int
	start, end *string
}

func addRangeFlags(fs *flag.FlagSet) rangeFlags {
	return rangeFlags{
		preset: fs.Int("preset", -1, "select the last N days (1, 7, 14, 31)"),
		start:  fs.String("start", "", "range start (YYYY-MM-DD)"),
		end:    fs.String("end", "", "range end (YYYY-MM-DD)"),
	}
}

func (f rangeFlags) apply(a *app) error {
	switch {
	case *f.preset >= 0:
		_, err := a.ranges.ApplyPreset(*f.preset)
		return err
	case *f.start != "" || *f.end != "":
		cur := a.ranges.Range()
		start, end := *f.start, *f.end
		if start == "" {
			start = cur.Start
		}
		if end == "" {
			end = cur.End
		}
		return a.ranges.SetRange(start, end)
	}
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := flagSet("stats", a.out)
	rf := addRangeFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if err := rf.apply(a); err != nil {
		a.logger.Warn("date range not usable, showing the default window", "err", err)
	}

	view := dashboard.New(ctx, a.ranges, a.client, dashboard.Options{Logger: a.logger})
	defer view.Close()
	view.Refresh()
	view.Wait()

	m := view.Model()
	if m.Error != "" {
		return errors.New(m.Error)
	}
	if *asJSON {
		return printJSON(a.out, m)
	}

	window := m.Window.Start + " .. " + m.Window.End
	if m.FellBack {
		window += " (default window)"
	}
	tw := newTable(a.out)
	fmt.Fprintf(tw, "Range\t%s\n", window)
	fmt.Fprintf(tw, "Reports\t%s\n", util.Count(m.KPIs.TotalReports))
	fmt.Fprintf(tw, "Messages\t%s\n", util.Count(m.KPIs.TotalVolume))
	fmt.Fprintf(tw, "Failed\t%s\n", util.Count(m.KPIs.FailCount))
	fmt.Fprintf(tw, "Pass rate\t%s\n", util.Percent(m.KPIs.PassRatePct))
	for _, s := range m.Slices {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, util.Count(s.Value))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(a.out)
	tw = newTable(a.out)
	fmt.Fprintln(tw, "DATE\tPASS\tQUARANTINE\tREJECT")
	for _, p := range m.Series {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Date, util.Count(p.Pass), optCount(p.Quarantine), optCount(p.Reject))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(m.Recent) > 0 {
		fmt.Fprintln(a.out)
		tw = newTable(a.out)
		fmt.Fprintln(tw, "ID\tDOMAIN\tORG\tMESSAGES\tPASS\tFAIL")
		for _, r := range m.Recent {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Domain, r.OrgName, util.Count(r.TotalCount), util.Percent(r.PassPct), util.Percent(r.FailPct))
		}
		return tw.Flush()
	}
	return nil
}

func optCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return util.Count(*n)
}

func runRange(ctx context.Context, a *app, args []string) error {
	fs := flagSet("range", a.out)
	rf := addRangeFlags(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	applyErr := rf.apply(a)

	r := a.ranges.Range()
	start, end, fellBack := a.ranges.Timestamps()
	fmt.Fprintf(a.out, "%s .. %s\n", r.Start, r.End)
	if fellBack {
		d := a.ranges.Default()
		fmt.Fprintf(a.out, "not a valid range, fetches use %s .. %s\n", d.Start, d.End)
	}
	fmt.Fprintf(a.out, "start=%d end=%d\n", start, end)
	return applyErr
}

func runReports(ctx context.Context, a *app, args []string) error {
	fs := flagSet("reports", a.out)
	page := fs.Int("page", 1, "page number")
	search := fs.String("search", "", "search text")
	domain := fs.String("domain", "", "only reports for this domain")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	c := query.NewController(ctx, lists.Reports(a.client), query.Options{
		Name:     "reports",
		PageSize: a.cfg.ReportsPageSize,
		Search:   *search,
		Filters:  map[string]string{"domain": *domain},
		Logger:   a.logger,
	})
	st, err := loadPage(c, *page)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, st)
	}

	tw := newTable(a.out)
	fmt.Fprintln(tw, "ID\tDOMAIN\tORG\tEND\tMESSAGES\tPASS")
	for _, r := range st.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Domain, r.OrgName, util.Ago(r.DateEnd), util.Count(r.TotalCount), util.Percent(r.PassRate()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printPager(a, st.Query.Page, st.Pages, st.Total, "reports")
	return nil
}

// loadPage fetches page n of a freshly built controller and waits for it.
func loadPage[T any](c *query.Controller[T], n int) (query.State[T], error) {
	defer c.Close()
	if n > 1 {
		c.SetPage(n)
	} else {
		c.Load()
	}
	c.Wait()
	st := c.State()
	return st, st.Err
}

func printPager(a *app, page, pages, total int, noun string) {
	if pages == 0 {
		fmt.Fprintf(a.out, "No %s\n", noun)
		return
	}
	fmt.Fprintf(a.out, "Page %d of %d (%s %s)\n", page, pages, util.Count(int64(total)), noun)
}

func runReport(ctx context.Context, a *app, args []string) error {
	fs := flagSet("report", a.out)
	asJSON := fs.Bool("json", false, "print JSON")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("usage: dmarc-dash report <id>")
	}

	r, err := a.client.Report(ctx, pos[0])
	if err != nil {
		return errors.New(backend.UserMessage(err, "Failed to load report"))
	}
	if *asJSON {
		return printJSON(a.out, r)
	}

	tw := newTable(a.out)
	fmt.Fprintf(tw, "Report\t%s\n", r.ReportID)
	fmt.Fprintf(tw, "Organization\t%s\n", r.OrgName)
	fmt.Fprintf(tw, "Domain\t%s\n", r.Domain)
	fmt.Fprintf(tw, "Period\t%s .. %s\n", unixDate(r.DateBegin, a), unixDate(r.DateEnd, a))
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.out)

	tw = newTable(a.out)
	fmt.Fprintln(tw, "SOURCE IP\tCOUNT\tDISPOSITION\tDKIM\tSPF")
	for _, rec := range r.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.SourceIP, util.Count(rec.Count), rec.Disposition, rec.DKIM, rec.SPF)
	}
	return tw.Flush()
}

func unixDate(ts int64, a *app) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).In(a.loc).Format(timeseries.DateLayout)
}

func runDomains(ctx context.Context, a *app, args []string) error {
	fs := flagSet("domains", a.out)
	page := fs.Int("page", 1, "page number")
	search := fs.String("search", "", "filter by domain name")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	src := lists.Domains(a.client.Domains, a.cfg.ListCacheTTL)
	c := query.NewController(ctx, src.Fetch, query.Options{Name: "domains", PageSize: a.cfg.DomainsPageSize, Search: *search, Logger: a.logger})
	st, err := loadPage(c, *page)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, st)
	}

	tw := newTable(a.out)
	fmt.Fprintln(tw, "DOMAIN\tREPORTS\tMESSAGES\tPASS\tSTATUS\tLAST SEEN")
	for _, d := range st.Items {
		status := "Issues"
		if d.AllPass() {
			status = "All Pass"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Domain, util.Count(d.ReportCount), util.Count(d.TotalVolume), util.Percent(d.PassRate()), status, util.Ago(d.LastSeen))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printPager(a, st.Query.Page, st.Pages, st.Total, "domains")
	return nil
}

func runFiles(ctx context.Context, a *app, args []string) error {
	fs := flagSet("files", a.out)
	page := fs.Int("page", 1, "page number")
	search := fs.String("search", "", "filter by file name")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	src := lists.Files(a.client.Files, a.cfg.ListCacheTTL)
	c := query.NewController(ctx, src.Fetch, query.Options{Name: "files", PageSize: a.cfg.FilesPageSize, Search: *search, Logger: a.logger})
	st, err := loadPage(c, *page)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, st)
	}

	tw := newTable(a.out)
	fmt.Fprintln(tw, "NAME\tSIZE\tCREATED\tPROCESSED")
	for _, f := range st.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", f.Name, util.Bytes(f.Size), f.Created, f.Processed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printPager(a, st.Query.Page, st.Pages, st.Total, "files")
	return nil
}

func runRemoveFile(ctx context.Context, a *app, args []string) error {
	fs := flagSet("rm-file", a.out)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("usage: dmarc-dash rm-file <name>")
	}
	name := pos[0]

	p := a.gate.Propose("rm-file", []string{"File: " + name}, func(ctx context.Context) (string, error) {
		if err := a.client.DeleteFile(ctx, name); err != nil {
			return "", errors.New(backend.UserMessage(err, "Failed to delete file"))
		}
		return "Deleted " + name, nil
	})
	msg, err := a.confirmAndRun(ctx, p, *yes)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func runFlush(ctx context.Context, a *app, args []string) error {
	fs := flagSet("flush", a.out)
	var f confirm.FlushFilter
	fs.StringVar(&f.Domain, "domain", "", "only reports for this domain")
	fs.StringVar(&f.OrgName, "org", "", "only reports from this organization")
	fs.IntVar(&f.Days, "days", 0, "only reports from the last N days")
	fs.StringVar(&f.Start, "start", "", "only reports from this date on (YYYY-MM-DD)")
	fs.StringVar(&f.End, "end", "", "only reports up to this date (YYYY-MM-DD)")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	values, err := f.Values(a.loc)
	if err != nil {
		return err
	}
	p := a.gate.Propose("flush", f.Summary(), func(ctx context.Context) (string, error) {
		n, err := a.client.DeleteReports(ctx, values)
		if err != nil {
			return "", errors.New(backend.UserMessage(err, "Failed to delete reports"))
		}
		return fmt.Sprintf("Successfully deleted %d reports.", n), nil
	})
	msg, err := a.confirmAndRun(ctx, p, *yes)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func runUpload(ctx context.Context, a *app, args []string) error {
	fs := flagSet("upload", a.out)
	paths, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("usage: dmarc-dash upload <file>...")
	}

	files := make([]backend.UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, backend.UploadFile{Name: filepath.Base(p), Body: f})
	}

	res, err := a.client.Upload(ctx, files)
	if err != nil {
		return errors.New(backend.UserMessage(err, "Upload failed"))
	}
	fmt.Fprintln(a.out, res.Message)
	for _, name := range res.Files {
		fmt.Fprintln(a.out, "  "+name)
	}
	return nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	fs := flagSet("profile", a.out)
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	email := fs.String("email", "", "email address")
	phone := fs.String("phone", "", "phone number")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	u, err := a.client.Profile(ctx)
	if err != nil {
		return errors.New(backend.UserMessage(err, "Failed to load profile"))
	}

	changed := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first":
			u.FirstName, changed = *first, true
		case "last":
			u.LastName, changed = *last, true
		case "email":
			u.Email, changed = *email, true
		case "phone":
			u.Phone, changed = *phone, true
		}
	})
	if changed {
		upd := backend.ProfileUpdate{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Phone: u.Phone}
		if err := a.client.UpdateProfile(ctx, upd); err != nil {
			return errors.New(backend.UserMessage(err, "Failed to update profile"))
		}
		fmt.Fprintln(a.out, "Profile updated")
	}

	if *asJSON {
		return printJSON(a.out, u)
	}
	tw := newTable(a.out)
	fmt.Fprintf(tw, "Username\t%s\n", u.Username)
	fmt.Fprintf(tw, "First name\t%s\n", u.FirstName)
	fmt.Fprintf(tw, "Last name\t%s\n", u.LastName)
	fmt.Fprintf(tw, "Email\t%s\n", u.Email)
	fmt.Fprintf(tw, "Phone\t%s\n", u.Phone)
	fmt.Fprintf(tw, "Role\t%s\n", u.Role)
	return tw.Flush()
}

func runPassword(ctx context.Context, a *app, args []string) error {
	current, err := a.readSecret("Current password: ")
	if err != nil {
		return err
	}
	next, err := a.readSecret("New password: ")
	if err != nil {
		return err
	}
	again, err := a.readSecret("Repeat new password: ")
	if err != nil {
		return err
	}
	if next == "" || next != again {
		return errors.New("new passwords do not match")
	}
	if err := a.client.ChangePassword(ctx, current, next); err != nil {
		return errors.New(backend.UserMessage(err, "Failed to change password"))
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

func runKeys(ctx context.Context, a *app, args []string) error {
	fs := flagSet("keys", a.out)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	switch {
	case len(pos) == 0 || pos[0] == "list":
		keys, err := a.client.APIKeys(ctx)
		if err != nil {
			return errors.New(backend.UserMessage(err, "Failed to load API keys"))
		}
		tw := newTable(a.out)
		fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
		for _, k := range keys {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Prefix, k.CreatedAt, orDash(k.LastUsed))
		}
		return tw.Flush()

	case pos[0] == "add" && len(pos) == 2:
		k, err := a.client.CreateAPIKey(ctx, pos[1])
		if err != nil {
			return errors.New(backend.UserMessage(err, "Failed to create API key"))
		}
		fmt.Fprintf(a.out, "Created key %d (%s). Store it now, it is not shown again:\n%s\n", k.ID, k.Name, k.Secret)
		return nil

	case pos[0] == "revoke" && len(pos) == 2:
		id, err := strconv.ParseInt(pos[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", pos[1])
		}
		p := a.gate.Propose("revoke-key", []string{"API key: " + pos[1]}, func(ctx context.Context) (string, error) {
			if err := a.client.RevokeAPIKey(ctx, id); err != nil {
				return "", errors.New(backend.UserMessage(err, "Failed to revoke API key"))
			}
			return "Revoked key " + pos[1], nil
		})
		msg, err := a.confirmAndRun(ctx, p, *yes)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, msg)
		return nil
	}
	return errors.New("usage: dmarc-dash keys [list | add <name> | revoke <id>]")
}

func runUsers(ctx context.Context, a *app, args []string) error {
	fs := flagSet("users", a.out)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	var nu backend.NewUser
	fs.StringVar(&nu.Username, "username", "", "username (add)")
	fs.StringVar(&nu.Password, "password", "", "initial password (add)")
	fs.StringVar(&nu.FirstName, "first", "", "first name (add)")
	fs.StringVar(&nu.LastName, "last", "", "last name (add)")
	fs.StringVar(&nu.Email, "email", "", "email address (add)")
	fs.StringVar(&nu.Role, "role", backend.RoleUser, "role: user or admin (add, set-role)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	switch {
	case len(pos) == 0 || pos[0] == "list":
		users, err := a.client.Users(ctx)
		if err != nil {
			return errors.New(backend.UserMessage(err, "Failed to load users"))
		}
		tw := newTable(a.out)
		fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tEMAIL\tROLE")
		for _, u := range users {
			name := strings.TrimSpace(u.FirstName + " " + u.LastName)
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, orDash(name), orDash(u.Email), u.Role)
		}
		return tw.Flush()

	case pos[0] == "add":
		if strings.TrimSpace(nu.Username) == "" || nu.Password == "" {
			return errors.New("--username and --password are required")
		}
		if nu.Role != backend.RoleUser && nu.Role != backend.RoleAdmin {
			return fmt.Errorf("invalid role %q", nu.Role)
		}
		u, err := a.client.CreateUser(ctx, nu)
		if err != nil {
			return errors.New(backend.UserMessage(err, "Failed to create user"))
		}
		fmt.Fprintf(a.out, "Created user %s (id %d)\n", u.Username, u.ID)
		return nil

	case pos[0] == "set-role" && len(pos) == 2:
		id, err := strconv.ParseInt(pos[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", pos[1])
		}
		if nu.Role != backend.RoleUser && nu.Role != backend.RoleAdmin {
			return fmt.Errorf("invalid role %q", nu.Role)
		}
		u, err := a.client.UpdateUser(ctx, id, backend.UserUpdate{Role: nu.Role})
		if err != nil {
			return errors.New(backend.UserMessage(err, "Failed to update user"))
		}
		fmt.Fprintf(a.out, "%s is now %s\n", u.Username, u.Role)
		return nil

	case pos[0] == "rm" && len(pos) == 2:
		id, err := strconv.ParseInt(pos[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", pos[1])
		}
		if snap := a.sessions.Snapshot(); snap.Session != nil && snap.Session.UserID == id {
			return errors.New("you cannot delete your own account")
		}
		p := a.gate.Propose("rm-user", []string{"User id: " + pos[1]}, func(ctx context.Context) (string, error) {
			if err := a.client.DeleteUser(ctx, id); err != nil {
				return "", errors.New(backend.UserMessage(err, "Failed to delete user"))
			}
			return "Deleted user " + pos[1], nil
		})
		msg, err := a.confirmAndRun(ctx, p, *yes)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, msg)
		return nil
	}
	return errors.New("usage: dmarc-dash users [list | add --username U --password P | set-role <id> --role R | rm <id>]")
}

func runSettings(ctx context.Context, a *app, args []string) error {
	fs := flagSet("settings", a.out)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}

	settings, err := a.client.Settings(ctx)
	if err != nil {
		return errors.New(backend.UserMessage(err, "Failed to load settings"))
	}
	if len(pos) == 0 {
		return printJSON(a.out, settings)
	}
	if pos[0] != "set" || len(pos) < 2 {
		return errors.New("usage: dmarc-dash settings [set key=value...]")
	}

	for _, kv := range pos[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid setting %q, want key=value", kv)
		}
		settings[k] = settingValue(v)
	}
	if err := a.client.UpdateSettings(ctx, settings); err != nil {
		return errors.New(backend.UserMessage(err, "Failed to save settings"))
	}
	return printJSON(a.out, settings)
}

// settingValue keeps numbers, booleans and JSON documents typed and
// treats everything else as a string.
func settingValue(v string) any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err == nil {
		return out
	}
	return v
}

func runPrefs(ctx context.Context, a *app, args []string) error {
	fs := flagSet("prefs", a.out)
	sidebar := fs.String("sidebar", "", "sidebar open: true or false")
	theme := fs.String("theme", "", "theme: light or dark")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	if *sidebar != "" {
		open, err := strconv.ParseBool(*sidebar)
		if err != nil {
			return fmt.Errorf("invalid --sidebar %q", *sidebar)
		}
		if err := a.prefs.SetSidebarOpen(open); err != nil {
			return err
		}
	}
	if *theme != "" {
		if err := a.prefs.SetTheme(*theme); err != nil {
			return err
		}
	}

	r := a.ranges.Range()
	tw := newTable(a.out)
	fmt.Fprintf(tw, "Sidebar open\t%t\n", a.prefs.SidebarOpen())
	fmt.Fprintf(tw, "Theme\t%s\n", a.prefs.Theme())
	fmt.Fprintf(tw, "Date range\t%s .. %s\n", r.Start, r.End)
	fmt.Fprintf(tw, "Signed in\t%t\n", a.sessions.Snapshot().State == session.StateAuthenticated)
	return tw.Flush()
}

func runVersion(ctx context.Context, a *app, args []string) error {
	v, err := a.client.Version(ctx)
	if err != nil {
		return errors.New(backend.UserMessage(err, "Backend unavailable"))
	}
	fmt.Fprintf(a.out, "backend %s (%s)\n", v, a.cfg.APIBaseURL)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
