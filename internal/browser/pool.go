package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

var (
	// ErrPoolExhausted is returned when every session stays busy for the whole acquire timeout.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrPoolClosed is returned when trying to use a destroyed pool.
	ErrPoolClosed = errors.New("browser pool is closed")
)

// PoolConfig bounds a Pool.
type PoolConfig struct {
	MaxInstances   int
	MaxIdle        time.Duration
	AcquireTimeout time.Duration
	SweepInterval  time.Duration
	// PollInterval is how often a blocked Acquire rechecks for a free session.
	PollInterval time.Duration
	// CloseTimeout bounds a graceful browser close before the process is killed.
	CloseTimeout time.Duration
	Launch       LaunchOptions
	Clock        clock.Clock
}

func (c *PoolConfig) setDefaults() {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 5
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
}

// PooledSession is one browser process owned by the pool.
type PooledSession struct {
	ID         string
	Instance   Instance
	Busy       bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Pool bounds the number of live browser processes and lends them out.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*PooledSession
	pending  int
	closed   bool

	cfg      PoolConfig
	launcher Launcher
	logger   *slog.Logger

	stopSweep context.CancelFunc
}

// NewPool creates a pool. No browser is launched until the first Acquire.
func NewPool(cfg PoolConfig, launcher Launcher, logger *slog.Logger) *Pool {
	cfg.setDefaults()
	return &Pool{
		sessions: make(map[string]*PooledSession),
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.With("component", "pool"),
	}
}

// Acquire lends a session. An idle session is reused when available;
// otherwise a new browser is launched while under MaxInstances. At the cap
// Acquire polls until a session is released or AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*PooledSession, error) {
	deadline := p.cfg.Clock.Now().Add(p.cfg.AcquireTimeout)

	for {
		s, launch, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
		if launch {
			return p.launch(ctx)
		}

		if !p.cfg.Clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: no session freed within %s", ErrPoolExhausted, p.cfg.AcquireTimeout)
		}
		if err := p.cfg.Clock.Sleep(ctx, p.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// tryAcquire marks an idle session busy, or reserves a launch slot.
func (p *Pool) tryAcquire() (*PooledSession, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, ErrPoolClosed
	}
	for _, s := range p.sessions {
		if !s.Busy {
			s.Busy = true
			s.LastUsedAt = p.cfg.Clock.Now()
			return s, false, nil
		}
	}
	if len(p.sessions)+p.pending < p.cfg.MaxInstances {
		p.pending++
		return nil, true, nil
	}
	return nil, false, nil
}

// launch starts a browser outside the lock. The reserved slot is given
// back whether or not the launch succeeds.
func (p *Pool) launch(ctx context.Context) (*PooledSession, error) {
	inst, err := p.launcher.Launch(ctx, p.cfg.Launch)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeInstance(inst)
		return nil, ErrPoolClosed
	}

	now := p.cfg.Clock.Now()
	s := &PooledSession{
		ID:         ulid.Make().String(),
		Instance:   inst,
		Busy:       true,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	p.sessions[s.ID] = s
	total := len(p.sessions)
	p.mu.Unlock()

	p.logger.Info("browser session created", "session_id", s.ID, "total", total)
	return s, nil
}

// Release returns a session to the idle set after closing any secondary pages.
func (p *Pool) Release(s *PooledSession) {
	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CloseTimeout)
	closed, err := s.Instance.CloseExtraPages(ctx)
	cancel()
	if err != nil {
		p.logger.Warn("failed to close extra pages, discarding session", "session_id", s.ID, "error", err)
		p.Discard(s)
		return
	}
	if closed > 0 {
		p.logger.Debug("closed extra pages", "session_id", s.ID, "count", closed)
	}

	p.mu.Lock()
	owned := p.sessions[s.ID] == s
	if owned && !p.closed {
		s.Busy = false
		s.LastUsedAt = p.cfg.Clock.Now()
		p.mu.Unlock()
		return
	}
	delete(p.sessions, s.ID)
	p.mu.Unlock()

	// Swept, discarded or the pool is gone
	p.closeInstance(s.Instance)
}

// Discard removes a session from the pool and terminates its browser.
// Used when a session can no longer be trusted.
func (p *Pool) Discard(s *PooledSession) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.sessions[s.ID] == s {
		delete(p.sessions, s.ID)
	}
	p.mu.Unlock()

	s.Instance.Kill()
	p.logger.Info("browser session discarded", "session_id", s.ID)
}

// StartSweeper runs Sweep every SweepInterval until ctx is done or the pool is destroyed.
func (p *Pool) StartSweeper(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.stopSweep != nil {
		p.stopSweep()
	}
	p.stopSweep = cancel
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep()
			}
		}
	}()
}

// Sweep destroys idle sessions unused for longer than MaxIdle and reports how many it removed.
func (p *Pool) Sweep() int {
	now := p.cfg.Clock.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	var expired []*PooledSession
	for id, s := range p.sessions {
		if !s.Busy && now.Sub(s.LastUsedAt) > p.cfg.MaxIdle {
			expired = append(expired, s)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, s := range expired {
		p.logger.Info("cleaning up idle browser", "session_id", s.ID, "idle_time", now.Sub(s.LastUsedAt))
		p.closeInstance(s.Instance)
	}
	return len(expired)
}

// Destroy stops the sweeper and closes every live session, busy or not.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.stopSweep != nil {
		p.stopSweep()
	}
	sessions := make([]*PooledSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*PooledSession)
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, s := range sessions {
		g.Go(func() error {
			p.closeInstance(s.Instance)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("browser pool destroyed", "closed", len(sessions))
}

// closeInstance closes gracefully within CloseTimeout and kills the process otherwise.
func (p *Pool) closeInstance(inst Instance) {
	done := make(chan error, 1)
	go func() { done <- inst.Close() }()

	timer := time.NewTimer(p.cfg.CloseTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			p.logger.Warn("error closing browser, killing", "error", err)
			inst.Kill()
		}
	case <-timer.C:
		p.logger.Warn("browser close timed out, killing", "timeout", p.cfg.CloseTimeout)
		inst.Kill()
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Total:           len(p.sessions),
		MaxInstances:    p.cfg.MaxInstances,
		PendingLaunches: p.pending,
	}
	for _, s := range p.sessions {
		if s.Busy {
			stats.Busy++
		} else {
			stats.Idle++
		}
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total           int `json:"total"`
	Busy            int `json:"busy"`
	Idle            int `json:"idle"`
	MaxInstances    int `json:"maxInstances"`
	PendingLaunches int `json:"pendingLaunches"`
}
