package query

import (
	"context"
	"sync"
)

// Latest tracks the most recently issued request so that out-of-order
// responses can be recognised and dropped. Starting a new request cancels
// the context of the one it supersedes.
type Latest struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Ticket identifies one issued request.
type Ticket uint64

// Begin issues a new request derived from parent.
func (l *Latest) Begin(parent context.Context) (context.Context, Ticket) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	l.cancel = cancel
	t := Ticket(l.seq)
	l.mu.Unlock()
	return ctx, t
}

// Current reports whether t is still the latest request.
func (l *Latest) Current(t Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(t) == l.seq
}

// Finish releases the context of t if it is still the latest request.
// It reports whether t was current, so the caller can apply or drop its
// response in one step.
func (l *Latest) Finish(t Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if uint64(t) != l.seq {
		return false
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	return true
}

// Cancel aborts the in-flight request, if any, and invalidates its ticket.
func (l *Latest) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.seq++
}
