// Package confirm implements two-step destructive operations. Propose
// describes what would happen and returns a token; only Confirm with that
// token runs the operation.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmarc-dash/internal/events"
	"dmarc-dash/internal/metrics"
)

// DefaultTTL is how long a proposal stays confirmable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrUnknownToken is returned for a token that was never issued, was
	// already used or was cancelled.
	ErrUnknownToken = errors.New("confirm: unknown or already used token")
	// ErrExpired is returned when the proposal outlived its TTL.
	ErrExpired = errors.New("confirm: token expired")
)

// Action performs the destructive operation and returns a short result
// message such as "Deleted 12 reports".
type Action func(ctx context.Context) (string, error)

// Proposal is a pending destructive operation awaiting confirmation.
type Proposal struct {
	Token     string    `json:"token"`
	Kind      string    `json:"kind"`
	Summary   []string  `json:"summary"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Options configures a Gate.
type Options struct {
	Metrics *metrics.Metrics
	Bus     *events.Bus
	Logger  *slog.Logger
	Now     func() time.Time
}

// Gate holds pending proposals. It is safe for concurrent use.
type Gate struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	bus     *events.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]pending
}

type pending struct {
	proposal Proposal
	run      Action
}

// NewGate creates a gate whose proposals expire after ttl.
func NewGate(ttl time.Duration, opts Options) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		ttl:     ttl,
		now:     opts.Now,
		metrics: opts.Metrics,
		bus:     opts.Bus,
		logger:  opts.Logger,
		pending: make(map[string]pending),
	}
}

// Propose registers run under a fresh token.
func (g *Gate) Propose(kind string, summary []string, run Action) Proposal {
	now := g.now()
	p := Proposal{
		Token:     uuid.NewString(),
		Kind:      kind,
		Summary:   append([]string(nil), summary...),
		ExpiresAt: now.Add(g.ttl),
	}

	g.mu.Lock()
	g.pruneLocked(now)
	g.pending[p.Token] = pending{proposal: p, run: run}
	g.mu.Unlock()

	g.logger.Debug("destructive action proposed", "kind", kind, "expires_at", p.ExpiresAt)
	return p
}

// Confirm runs the action registered under token. A token is consumed by
// its first Confirm, whatever the outcome.
func (g *Gate) Confirm(ctx context.Context, token string) (string, error) {
	g.mu.Lock()
	p, ok := g.pending[token]
	delete(g.pending, token)
	g.mu.Unlock()

	if !ok {
		return "", ErrUnknownToken
	}
	kind := p.proposal.Kind
	if !g.now().Before(p.proposal.ExpiresAt) {
		g.metrics.RecordAction(kind, "expired")
		return "", ErrExpired
	}

	msg, err := p.run(ctx)
	if err != nil {
		g.metrics.RecordAction(kind, "error")
		g.logger.Warn("destructive action failed", "kind", kind, "err", err)
		g.bus.Publish(events.Event{Type: events.ActionCompleted, View: kind, Error: err.Error()})
		return "", err
	}
	g.metrics.RecordAction(kind, "ok")
	g.logger.Info("destructive action completed", "kind", kind, "result", msg)
	g.bus.Publish(events.Event{Type: events.ActionCompleted, View: kind, Detail: msg})
	return msg, nil
}

// Cancel discards a proposal. It reports whether the token was pending.
func (g *Gate) Cancel(token string) bool {
	g.mu.Lock()
	p, ok := g.pending[token]
	delete(g.pending, token)
	g.mu.Unlock()
	if ok {
		g.metrics.RecordAction(p.proposal.Kind, "cancelled")
	}
	return ok
}

// Pending returns the number of live proposals.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(g.now())
	return len(g.pending)
}

func (g *Gate) pruneLocked(now time.Time) {
	for token, p := range g.pending {
		if !now.Before(p.proposal.ExpiresAt) {
			delete(g.pending, token)
		}
	}
}
