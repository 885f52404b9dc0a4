package daterange

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"dmarc-dash/internal/prefs"
)

var utc = time.UTC

func fixedNow() time.Time {
	return time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
}

func newController(p *prefs.Prefs) *Controller {
	return NewController(p, Options{Location: utc, Now: fixedNow, Logger: quietLogger()})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefaultRange(t *testing.T) {
	c := newController(prefs.NewPrefs(prefs.NewMemoryStore(), quietLogger()))
	want := Range{Start: "2024-01-03", End: "2024-01-10"}
	if got := c.Range(); got != want {
		t.Errorf("Range() = %+v, want %+v", got, want)
	}
}

func TestPersistedRange(t *testing.T) {
	store := prefs.NewMemoryStore()
	p := prefs.NewPrefs(store, quietLogger())

	c := newController(p)
	if err := c.SetRange("2023-12-01", "2023-12-31"); err != nil {
		t.Fatalf("SetRange error = %v", err)
	}

	reloaded := newController(p)
	if got := reloaded.Range(); got.Start != "2023-12-01" || got.End != "2023-12-31" {
		t.Errorf("reloaded Range() = %+v", got)
	}

	store.Set(prefs.KeyDateRange, `{"start":"garbage","end":"2023-12-31"}`, prefs.PrefTTL)
	if got := newController(p).Range(); got != c.Default() {
		t.Errorf("invalid persisted range = %+v, want default", got)
	}
	store.Set(prefs.KeyDateRange, `not json`, prefs.PrefTTL)
	if got := newController(p).Range(); got != c.Default() {
		t.Errorf("malformed persisted range = %+v, want default", got)
	}
}

func TestSetRange_NotifiesListeners(t *testing.T) {
	c := newController(prefs.NewPrefs(prefs.NewMemoryStore(), quietLogger()))
	var got []Range
	c.OnChange(func(r Range) { got = append(got, r) })

	c.SetRange("2024-01-01", "2024-01-02")
	c.SetRange("2024-01-05", "2024-01-01") // reversed order is stored as given
	if len(got) != 2 || got[1].Start != "2024-01-05" {
		t.Errorf("listener saw %+v", got)
	}
}

func TestSetRange_InvalidStillStored(t *testing.T) {
	c := newController(prefs.NewPrefs(prefs.NewMemoryStore(), quietLogger()))

	err := c.SetRange("invalid", "2024-01-01")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "start date" {
		t.Fatalf("SetRange error = %v, want start date ValidationError", err)
	}
	if c.Range().Start != "invalid" {
		t.Errorf("Range() = %+v, want stored as given", c.Range())
	}

	start, end, fellBack := c.Timestamps()
	if !fellBack {
		t.Error("expected fallback for invalid range")
	}
	wantStart, wantEnd, _ := Bounds(c.Default(), utc)
	if start != wantStart || end != wantEnd {
		t.Errorf("Timestamps = (%d, %d), want default (%d, %d)", start, end, wantStart, wantEnd)
	}
}

func TestApplyPreset(t *testing.T) {
	c := newController(prefs.NewPrefs(prefs.NewMemoryStore(), quietLogger()))
	tests := []struct {
		days      int
		wantStart string
	}{
		{1, "2024-01-09"},
		{7, "2024-01-03"},
		{14, "2023-12-27"},
		{31, "2023-12-10"},
	}
	for _, tt := range tests {
		r, err := c.ApplyPreset(tt.days)
		if err != nil {
			t.Fatalf("ApplyPreset(%d) error = %v", tt.days, err)
		}
		if r.Start != tt.wantStart || r.End != "2024-01-10" {
			t.Errorf("ApplyPreset(%d) = %+v", tt.days, r)
		}
		if c.Range() != r {
			t.Errorf("Range() = %+v after preset", c.Range())
		}
	}
	if _, err := c.ApplyPreset(-1); err == nil {
		t.Error("negative preset should fail")
	}
}

func TestBounds(t *testing.T) {
	start, end, err := Bounds(Range{Start: "2024-01-01", End: "2024-01-07"}, utc)
	if err != nil {
		t.Fatalf("Bounds error = %v", err)
	}
	if start != 1704067200 {
		t.Errorf("start = %d, want 1704067200", start)
	}
	if end != 1704671999 {
		t.Errorf("end = %d, want 1704671999", end)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2024-03-10 is 23 hours long in New York.
	start, end, err = Bounds(Range{Start: "2024-03-10", End: "2024-03-10"}, ny)
	if err != nil {
		t.Fatalf("Bounds error = %v", err)
	}
	if got := end - start; got != 23*3600-1 {
		t.Errorf("DST day span = %d, want %d", got, 23*3600-1)
	}
}
