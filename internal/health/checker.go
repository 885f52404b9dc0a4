// Package health probes the backend periodically and keeps the last
// known status and version for the layout footer and /healthz.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"dmarc-dash/internal/events"
	"dmarc-dash/internal/metrics"
)

// Prober reports the backend version, failing when it is unreachable.
type Prober interface {
	Version(ctx context.Context) (string, error)
}

// Status is a point-in-time view of backend health.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Version   string    `json:"version,omitempty"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Checker periodically checks backend health.
type Checker struct {
	prober        Prober
	checkInterval time.Duration
	timeout       time.Duration
	healthy       atomic.Bool
	version       atomic.Value // string
	lastCheck     atomic.Value // time.Time
	lastError     atomic.Value // string
	metrics       *metrics.Metrics
	bus           *events.Bus
	logger        *slog.Logger
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewChecker creates a checker and starts probing in the background.
func NewChecker(prober Prober, checkInterval, timeout time.Duration, m *metrics.Metrics, bus *events.Bus, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		prober:        prober,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       m,
		bus:           bus,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	// Unhealthy until the first check.
	c.healthy.Store(false)

	go c.run()

	return c
}

func (c *Checker) run() {
	defer close(c.doneCh)

	c.Check(context.Background())

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Check(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// Check probes the backend once and records the outcome.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.prober.Version(ctx)
	if err != nil {
		c.update(false, "", err.Error())
	} else {
		c.update(true, v, "")
	}
	return c.Status()
}

func (c *Checker) update(healthy bool, version, errMsg string) {
	was := c.healthy.Swap(healthy)
	first := c.lastCheck.Load() == nil
	c.lastCheck.Store(time.Now())
	c.lastError.Store(errMsg)
	if healthy {
		c.version.Store(version)
	}
	if errMsg != "" {
		c.logger.Debug("backend health check failed", "error", errMsg)
	}

	c.metrics.UpdateBackendHealth(healthy)

	if first || was != healthy {
		ev := events.Event{Type: events.BackendHealth, State: "down", Error: errMsg}
		if healthy {
			ev.State = "up"
			ev.Detail = version
		}
		c.bus.Publish(ev)
	}
}

// Healthy returns whether the backend answered the last probe.
func (c *Checker) Healthy() bool {
	return c.healthy.Load()
}

// Version returns the last version reported by a healthy backend.
func (c *Checker) Version() string {
	if v := c.version.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// LastCheck returns the time of the last probe.
func (c *Checker) LastCheck() time.Time {
	if v := c.lastCheck.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// LastError returns the last error message, if any.
func (c *Checker) LastError() string {
	if v := c.lastError.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Status returns all fields at once.
func (c *Checker) Status() Status {
	return Status{
		Healthy:   c.Healthy(),
		Version:   c.Version(),
		LastCheck: c.LastCheck(),
		LastError: c.LastError(),
	}
}

// Shutdown stops the background probe and waits for it to exit.
func (c *Checker) Shutdown() {
	close(c.stopCh)
	<-c.doneCh
}
