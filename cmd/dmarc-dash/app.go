package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/config"
	"dmarc-dash/internal/confirm"
	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/guard"
	"dmarc-dash/internal/metrics"
	"dmarc-dash/internal/prefs"
	"dmarc-dash/internal/session"
)

var errAborted = errors.New("aborted")

// app holds the components shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	loc    *time.Location
	in     *bufio.Reader
	out    io.Writer

	// tty is set when stdin is a terminal; secrets are then read unechoed.
	tty   bool
	ttyFd uintptr

	slots    prefs.Store
	prefs    *prefs.Prefs
	client   *backend.Client
	sessions *session.Store
	guard    *guard.Guard
	ranges   *daterange.Controller
	gate     *confirm.Gate

	// Set only for serve.
	metrics *metrics.Metrics
	bus     *events.Bus
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer, serving bool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		loc:    loc,
		in:     bufio.NewReader(stdin),
		out:    stdout,
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(f.Fd()) {
		a.tty, a.ttyFd = true, f.Fd()
	}
	if serving {
		a.metrics = metrics.New()
		a.bus = events.NewBus(256)
	}

	a.slots, err = prefs.Open(cfg.PrefsBackend, cfg.PrefsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	a.prefs = prefs.NewPrefs(a.slots, logger)

	a.client, err = backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	if err != nil {
		a.slots.Close()
		return nil, err
	}
	a.client.Metrics = a.metrics
	a.client.Logger = logger

	a.sessions = session.NewStore(a.client, a.slots, session.Options{Bus: a.bus, Metrics: a.metrics, Logger: logger})
	a.client.Tokens = a.sessions
	a.client.OnUnauthorized = a.sessions.Expire
	a.guard = guard.New(a.sessions)

	a.ranges = daterange.NewController(a.prefs, daterange.Options{Location: loc, Bus: a.bus, Logger: logger})
	a.gate = confirm.NewGate(cfg.ConfirmTTL, confirm.Options{Metrics: a.metrics, Bus: a.bus, Logger: logger})

	a.sessions.Restore(ctx)
	return a, nil
}

func (a *app) close() {
	if a.bus != nil {
		a.bus.Shutdown()
	}
	if err := a.slots.Close(); err != nil {
		a.logger.Warn("close preferences failed", "err", err)
	}
}

// require runs the route guard for view once the session has resolved.
func (a *app) require(ctx context.Context, view guard.View) error {
	d, err := a.guard.Await(ctx, view)
	if err != nil {
		return err
	}
	switch d.Outcome {
	case guard.Render:
		return nil
	case guard.RedirectLogin:
		return fmt.Errorf("%s: %w (run \"dmarc-dash login\")", view, session.ErrNotAuthenticated)
	case guard.Forbidden:
		return fmt.Errorf("%s: admin role required", view)
	default:
		return fmt.Errorf("%s: no such view", view)
	}
}

// readLine prompts on out and reads one line from stdin.
func (a *app) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.out, prompt)
	}
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret prompts for a password. On a terminal the input is not
// echoed; piped input is read line by line like readLine.
func (a *app) readSecret(prompt string) (string, error) {
	if !a.tty {
		return a.readLine(prompt)
	}
	fmt.Fprint(a.out, prompt)
	b, err := term.ReadPassword(a.ttyFd)
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// confirmAndRun shows a proposal and runs it once the user agrees, or
// straight away with yes.
func (a *app) confirmAndRun(ctx context.Context, p confirm.Proposal, yes bool) (string, error) {
	fmt.Fprintln(a.out, "This cannot be undone:")
	for _, line := range p.Summary {
		fmt.Fprintln(a.out, "  -", line)
	}
	if !yes {
		answer, err := a.readLine("Type yes to continue: ")
		if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "yes") {
			a.gate.Cancel(p.Token)
			return "", errAborted
		}
	}
	return a.gate.Confirm(ctx, p.Token)
}
