// Package session owns the browser and page of a single scrape attempt and
// guarantees their teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
)

var (
	// ErrSessionClosed is returned by operations on a closed or force-killed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNotInitialized is returned by Page before Init has succeeded.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("session already initialized")

	errCloseTimeout = errors.New("close timed out")
)

// Pool is the part of browser.Pool a session borrows from.
type Pool interface {
	Acquire(ctx context.Context) (*browser.PooledSession, error)
	Release(s *browser.PooledSession)
	Discard(s *browser.PooledSession)
}

// Teardown records how a session was torn down.
type Teardown string

const (
	TeardownNone     Teardown = ""
	TeardownGraceful Teardown = "graceful"
	TeardownForced   Teardown = "forced-kill"
	TeardownSafety   Teardown = "safety-timer"
)

// Options configures a session.
type Options struct {
	Pool Pool
	// Launcher is used instead of Pool when Dedicated is set, e.g. when an
	// extension must be loaded into a fresh headful browser.
	Launcher  browser.Launcher
	Dedicated bool
	Launch    browser.LaunchOptions

	Page browser.PageOptions
	// Timeout is the configured scrape timeout. The safety timer fires at 3x.
	Timeout time.Duration
	// CloseTimeout bounds each graceful close step.
	CloseTimeout time.Duration
	Logger       *slog.Logger
}

// Session is one browser and its single page for one attempt.
type Session struct {
	opts   Options
	id     string
	logger *slog.Logger

	mu       sync.Mutex
	pooled   *browser.PooledSession
	instance browser.Instance
	page     browser.Page
	safety   *time.Timer
	started  bool
	closed   bool
	teardown Teardown

	closeOnce singleflight.Group
}

// New creates an uninitialized session.
func New(opts Options) *Session {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := ulid.Make().String()
	return &Session{
		opts:   opts,
		id:     id,
		logger: opts.Logger.With("component", "session", "session_id", id),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Init obtains a browser, reuses its default page and configures it.
// On failure everything obtained so far is returned or killed.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.started = true
	s.mu.Unlock()

	var (
		pooled *browser.PooledSession
		inst   browser.Instance
		err    error
	)
	if s.opts.Dedicated {
		inst, err = s.opts.Launcher.Launch(ctx, s.opts.Launch)
	} else {
		pooled, err = s.opts.Pool.Acquire(ctx)
		if pooled != nil {
			inst = pooled.Instance
		}
	}
	if err != nil {
		return fmt.Errorf("acquire browser: %w", err)
	}

	abandon := func() {
		if pooled != nil {
			s.opts.Pool.Discard(pooled)
		} else {
			inst.Kill()
		}
	}

	page, err := inst.DefaultPage(ctx)
	if err != nil {
		abandon()
		return fmt.Errorf("default page: %w", err)
	}
	if err := page.Configure(ctx, s.opts.Page); err != nil {
		abandon()
		return fmt.Errorf("configure page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Closed concurrently while initializing
		abandon()
		return ErrSessionClosed
	}
	s.pooled, s.instance, s.page = pooled, inst, page
	if s.opts.Timeout > 0 {
		s.safety = time.AfterFunc(3*s.opts.Timeout, s.forceKill)
	}

	s.logger.Debug("session initialized", "dedicated", s.opts.Dedicated)
	return nil
}

// Page returns the session's page.
func (s *Session) Page() (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.page == nil {
		return nil, ErrNotInitialized
	}
	return s.page, nil
}

// Closed reports whether the session has been closed or killed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Teardown reports which teardown path ran.
func (s *Session) Teardown() Teardown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardown
}

// take marks the session closed and hands its handles to the caller.
func (s *Session) take() (*browser.PooledSession, browser.Instance, browser.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, nil, false
	}
	s.closed = true
	if s.safety != nil {
		s.safety.Stop()
		s.safety = nil
	}
	pooled, inst, page := s.pooled, s.instance, s.page
	s.pooled, s.instance, s.page = nil, nil, nil
	return pooled, inst, page, true
}

func (s *Session) setTeardown(t Teardown) {
	s.mu.Lock()
	s.teardown = t
	s.mu.Unlock()
}

// forceKill runs when the safety timer fires. A caller still using the
// page will see its operations fail.
func (s *Session) forceKill() {
	pooled, inst, _, ok := s.take()
	if !ok || inst == nil {
		return
	}
	s.logger.Warn("session safety timer fired, killing browser", "after", 3*s.opts.Timeout)
	if pooled != nil {
		s.opts.Pool.Discard(pooled)
	} else {
		inst.Kill()
	}
	s.setTeardown(TeardownSafety)
}

// Close tears the session down. It is idempotent and concurrent calls
// collapse into one.
func (s *Session) Close() error {
	_, err, _ := s.closeOnce.Do("close", func() (any, error) {
		return nil, s.close()
	})
	return err
}

func (s *Session) close() error {
	pooled, inst, page, ok := s.take()
	if !ok || inst == nil {
		return nil
	}

	if pooled != nil {
		return s.closePooled(pooled, page)
	}
	return s.closeDedicated(inst, page)
}

// closePooled resets the page and returns the browser to the pool, or
// discards it when the reset does not finish in time.
func (s *Session) closePooled(pooled *browser.PooledSession, page browser.Page) error {
	err := s.bounded(func(ctx context.Context) error { return page.Reset(ctx) })
	if err != nil {
		s.logger.Warn("page reset failed, discarding browser", "error", err)
		s.opts.Pool.Discard(pooled)
		s.setTeardown(TeardownForced)
		return nil
	}
	s.opts.Pool.Release(pooled)
	s.setTeardown(TeardownGraceful)
	return nil
}

// closeDedicated closes the page then the browser, each within
// CloseTimeout, and kills the process if either step fails.
func (s *Session) closeDedicated(inst browser.Instance, page browser.Page) error {
	err := s.bounded(func(context.Context) error { return page.Close() })
	if err == nil {
		err = s.bounded(func(context.Context) error { return inst.Close() })
	}
	if err != nil {
		s.logger.Warn("graceful close failed, killing browser", "error", err)
		inst.Kill()
		s.setTeardown(TeardownForced)
		return nil
	}
	s.setTeardown(TeardownGraceful)
	return nil
}

// bounded runs fn and gives up after CloseTimeout. fn may keep running in
// the background; the process kill that follows unblocks it.
func (s *Session) bounded(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", errCloseTimeout, s.opts.CloseTimeout)
	}
}
