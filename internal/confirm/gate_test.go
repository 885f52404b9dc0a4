package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"dmarc-dash/internal/daterange"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newGate(c *clock) *Gate {
	return NewGate(time.Minute, Options{Now: c.now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestGate_ConfirmRunsOnce(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := newGate(c)

	runs := 0
	p := g.Propose("flush", []string{"Delete everything"}, func(ctx context.Context) (string, error) {
		runs++
		return "Deleted 3 reports", nil
	})
	if p.Token == "" || p.Kind != "flush" {
		t.Fatalf("Proposal = %+v", p)
	}
	if !p.ExpiresAt.Equal(c.t.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v", p.ExpiresAt)
	}
	if runs != 0 {
		t.Fatal("Propose must not run the action")
	}

	msg, err := g.Confirm(context.Background(), p.Token)
	if err != nil || msg != "Deleted 3 reports" {
		t.Fatalf("Confirm = %q, %v", msg, err)
	}
	if _, err := g.Confirm(context.Background(), p.Token); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("second Confirm error = %v, want ErrUnknownToken", err)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestGate_Expired(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := newGate(c)

	p := g.Propose("rm-file", nil, func(ctx context.Context) (string, error) {
		t.Error("expired action must not run")
		return "", nil
	})
	c.t = c.t.Add(2 * time.Minute)
	if _, err := g.Confirm(context.Background(), p.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("Confirm error = %v, want ErrExpired", err)
	}
}

func TestGate_ActionError(t *testing.T) {
	c := &clock{t: time.Now()}
	g := newGate(c)
	boom := errors.New("boom")

	p := g.Propose("flush", nil, func(ctx context.Context) (string, error) { return "", boom })
	if _, err := g.Confirm(context.Background(), p.Token); !errors.Is(err, boom) {
		t.Errorf("Confirm error = %v, want boom", err)
	}
	if _, err := g.Confirm(context.Background(), p.Token); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("token should be consumed after a failure, got %v", err)
	}
}

func TestGate_CancelAndPending(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := newGate(c)
	noop := func(ctx context.Context) (string, error) { return "", nil }

	a := g.Propose("flush", nil, noop)
	g.Propose("flush", nil, noop)
	if n := g.Pending(); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}
	if !g.Cancel(a.Token) {
		t.Error("Cancel should report a pending token")
	}
	if g.Cancel(a.Token) {
		t.Error("second Cancel should report false")
	}
	if _, err := g.Confirm(context.Background(), a.Token); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Confirm after Cancel error = %v", err)
	}

	c.t = c.t.Add(time.Hour)
	if n := g.Pending(); n != 0 {
		t.Errorf("Pending after expiry = %d, want 0", n)
	}
}

func TestFlushFilter_Summary(t *testing.T) {
	tests := []struct {
		name string
		f    FlushFilter
		want []string
	}{
		{"empty", FlushFilter{}, []string{"Delete everything"}},
		{"whitespace only", FlushFilter{Domain: "  "}, []string{"Delete everything"}},
		{
			"all fields",
			FlushFilter{Domain: "example.com", OrgName: "google.com", Days: 30, Start: "2024-01-01", End: "2024-01-31"},
			[]string{"Domain: example.com", "Org: google.com", "Last 30 days", "From: 2024-01-01", "To: 2024-01-31"},
		},
		{"days only", FlushFilter{Days: 7}, []string{"Last 7 days"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Summary(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Summary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlushFilter_Values(t *testing.T) {
	f := FlushFilter{Domain: " example.com ", OrgName: "google.com", Days: 30, Start: "2024-01-01", End: "2024-01-02"}
	v, err := f.Values(time.UTC)
	if err != nil {
		t.Fatalf("Values error = %v", err)
	}
	want := map[string]string{
		"domain":   "example.com",
		"org_name": "google.com",
		"days":     "30",
		"start":    "1704067200",
		"end":      "1704153600",
	}
	for k, w := range want {
		if got := v.Get(k); got != w {
			t.Errorf("%s = %q, want %q", k, got, w)
		}
	}

	empty, err := FlushFilter{}.Values(time.UTC)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty filter Values = %v, %v", empty, err)
	}

	var ve *daterange.ValidationError
	if _, err := (FlushFilter{Start: "yesterday"}).Values(time.UTC); !errors.As(err, &ve) || ve.Field != "start date" {
		t.Errorf("bad start error = %v", err)
	}
	if _, err := (FlushFilter{Days: -1}).Values(time.UTC); !errors.As(err, &ve) || ve.Field != "days" {
		t.Errorf("negative days error = %v", err)
	}
}
