// Package shutdown decides when an idle scraper process may exit. The
// process counts as active while it has open HTTP requests or the scrape
// queue reports pending work.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

// IdleMonitorConfig configures the idle monitor.
type IdleMonitorConfig struct {
	// Timeout is the inactivity window before shutdown is signalled.
	// Zero or negative disables the monitor.
	Timeout time.Duration

	Logger *slog.Logger

	// IsHealthCheck excludes requests from activity tracking.
	// Defaults to DefaultIsHealthCheck.
	IsHealthCheck func(*http.Request) bool

	// Busy reports queued or running scrapes. Optional.
	Busy func() bool

	// CheckInterval is how often idleness is evaluated. Defaults to 10s.
	CheckInterval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// IdleMonitor signals shutdown through ShutdownChan once the process has
// been inactive for longer than the configured timeout.
type IdleMonitor struct {
	cfg      IdleMonitorConfig
	lastSeen atomic.Int64 // unix nanos
	inFlight atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	fired  chan struct{}
}

// NewIdleMonitor creates an idle monitor. The activity mark starts at now.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	if cfg.IsHealthCheck == nil {
		cfg.IsHealthCheck = DefaultIsHealthCheck
	}
	if cfg.Busy == nil {
		cfg.Busy = func() bool { return false }
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &IdleMonitor{cfg: cfg, fired: make(chan struct{})}
	m.touch()
	return m
}

// IsEnabled reports whether a positive timeout was configured.
func (m *IdleMonitor) IsEnabled() bool {
	return m.cfg.Timeout > 0
}

// Start launches the background check. It is a no-op when disabled.
func (m *IdleMonitor) Start() {
	if !m.IsEnabled() {
		m.cfg.Logger.Info("idle monitoring disabled (set IDLE_TIMEOUT to enable)")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.cfg.Logger.Info("idle monitoring started", "timeout", m.cfg.Timeout, "interval", m.cfg.CheckInterval)
	go m.watch(ctx)
}

// Stop ends the background check and waits for it to return.
func (m *IdleMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *IdleMonitor) watch(ctx context.Context) {
	defer close(m.done)

	for m.cfg.Clock.Sleep(ctx, m.cfg.CheckInterval) == nil {
		idle, expired := m.expired()
		if !expired {
			continue
		}
		m.cfg.Logger.Info("idle timeout reached, signaling graceful shutdown",
			"idle_time", idle.Round(time.Second),
			"timeout", m.cfg.Timeout,
		)
		close(m.fired)
		return
	}
}

// expired reports how long the process has been idle and whether that
// exceeds the timeout. Pending scrape work refreshes the activity mark.
func (m *IdleMonitor) expired() (time.Duration, bool) {
	if m.cfg.Busy() {
		m.touch()
		return 0, false
	}
	if m.inFlight.Load() > 0 {
		return 0, false
	}

	idle := m.IdleTime()
	if idle > m.cfg.Timeout/2 {
		m.cfg.Logger.Debug("idle check", "idle_time", idle.Round(time.Second), "timeout", m.cfg.Timeout)
	}
	return idle, idle > m.cfg.Timeout
}

func (m *IdleMonitor) touch() {
	m.lastSeen.Store(m.cfg.Clock.Now().UnixNano())
}

// TrackRequest records the start of r and returns the func that records
// its completion. Health checks are not tracked.
func (m *IdleMonitor) TrackRequest(r *http.Request) func() {
	if m.cfg.IsHealthCheck(r) {
		return func() {}
	}

	m.inFlight.Add(1)
	m.touch()
	return func() {
		m.inFlight.Add(-1)
		m.touch()
	}
}

// Middleware tracks every request passing through it.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer m.TrackRequest(r)()
		next.ServeHTTP(w, r)
	})
}

// ShutdownChan is closed when idle shutdown is triggered.
func (m *IdleMonitor) ShutdownChan() <-chan struct{} {
	return m.fired
}

// ActiveRequests returns the number of tracked requests still open.
func (m *IdleMonitor) ActiveRequests() int64 {
	return m.inFlight.Load()
}

// LastRequestTime returns the last activity mark.
func (m *IdleMonitor) LastRequestTime() time.Time {
	return time.Unix(0, m.lastSeen.Load())
}

// IdleTime returns the time elapsed since the last activity mark.
func (m *IdleMonitor) IdleTime() time.Duration {
	return m.cfg.Clock.Now().Sub(m.LastRequestTime())
}

var probePaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
	"/metrics": true,
}

// DefaultIsHealthCheck matches liveness probes and metrics scrapes, by path
// or by a platform health check User-Agent such as Fly-HealthCheck.
func DefaultIsHealthCheck(r *http.Request) bool {
	return probePaths[r.URL.Path] || strings.Contains(r.Header.Get("User-Agent"), "HealthCheck")
}
