package browser_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/browser/browsertest"
	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newPool(cfg browser.PoolConfig, l *browsertest.Launcher) *browser.Pool {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 50 * time.Millisecond
	}
	return browser.NewPool(cfg, l, testLogger())
}

func TestPool_ReusesIdleSession(t *testing.T) {
	l := &browsertest.Launcher{}
	p := newPool(browser.PoolConfig{MaxInstances: 2}, l)
	defer p.Destroy()

	first, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(first)

	second, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Acquire() = %s, want reused %s", second.ID, first.ID)
	}
	if got := len(l.Instances()); got != 1 {
		t.Errorf("launched = %d, want 1", got)
	}
}

func TestPool_ExhaustedAfterTimeout(t *testing.T) {
	l := &browsertest.Launcher{}
	clk := clock.NewFake(time.Now())
	p := newPool(browser.PoolConfig{MaxInstances: 2, AcquireTimeout: 30 * time.Second, Clock: clk}, l)
	defer p.Destroy()

	for i := 0; i < 2; i++ {
		if _, err := p.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}

	start := clk.Now()
	_, err := p.Acquire(context.Background())
	if !errors.Is(err, browser.ErrPoolExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
	if waited := clk.Now().Sub(start); waited < 30*time.Second {
		t.Errorf("waited %v, want at least the 30s acquire timeout", waited)
	}
	if got := len(l.Instances()); got != 2 {
		t.Errorf("launched = %d, want 2", got)
	}
}

func TestPool_BlockedAcquireGetsReleasedSession(t *testing.T) {
	l := &browsertest.Launcher{}
	p := newPool(browser.PoolConfig{MaxInstances: 1, AcquireTimeout: 5 * time.Second}, l)
	defer p.Destroy()

	held, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(held)
	}()

	got, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("blocked Acquire() error = %v", err)
	}
	if got.ID != held.ID {
		t.Errorf("Acquire() = %s, want released %s", got.ID, held.ID)
	}
}

func TestPool_CapAndExclusivity(t *testing.T) {
	const maxInstances = 3
	l := &browsertest.Launcher{}
	p := newPool(browser.PoolConfig{MaxInstances: maxInstances, AcquireTimeout: 10 * time.Second}, l)
	defer p.Destroy()

	var (
		mu    sync.Mutex
		owned = make(map[string]bool)
		wg    sync.WaitGroup
	)
	errs := make(chan error, 64)

	for w := 0; w < 12; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				s, err := p.Acquire(context.Background())
				if err != nil {
					errs <- err
					return
				}

				mu.Lock()
				if owned[s.ID] {
					errs <- errors.New("session " + s.ID + " handed out twice")
				}
				owned[s.ID] = true
				mu.Unlock()

				if st := p.Stats(); st.Total > maxInstances {
					errs <- errors.New("pool exceeded MaxInstances")
				}
				time.Sleep(time.Millisecond)

				mu.Lock()
				owned[s.ID] = false
				mu.Unlock()
				p.Release(s)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if got := len(l.Instances()); got > maxInstances {
		t.Errorf("launched = %d, want <= %d", got, maxInstances)
	}
}

func TestPool_ReleaseClosesExtraPages(t *testing.T) {
	l := &browsertest.Launcher{}
	p := newPool(browser.PoolConfig{}, l)
	defer p.Destroy()

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	inst := l.Instances()[0]
	inst.OpenPages(2)

	p.Release(s)

	if got := inst.ExtraClosed(); got != 2 {
		t.Errorf("ExtraClosed() = %d, want 2", got)
	}
	if st := p.Stats(); st.Idle != 1 || st.Busy != 0 {
		t.Errorf("Stats() = %+v, want 1 idle", st)
	}
}

func TestPool_Sweep(t *testing.T) {
	l := &browsertest.Launcher{}
	clk := clock.NewFake(time.Now())
	p := newPool(browser.PoolConfig{MaxInstances: 2, MaxIdle: time.Minute, Clock: clk}, l)
	defer p.Destroy()

	idle, _ := p.Acquire(context.Background())
	reused, _ := p.Acquire(context.Background())
	p.Release(idle)
	p.Release(reused)

	clk.Advance(30 * time.Second)
	again, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	clk.Advance(45 * time.Second)
	if removed := p.Sweep(); removed != 1 {
		t.Fatalf("Sweep() removed %d, want 1", removed)
	}

	st := p.Stats()
	if st.Total != 1 || st.Busy != 1 {
		t.Errorf("Stats() = %+v, want only the busy session left", st)
	}

	// A session released and re-acquired within MaxIdle is never swept
	p.Release(again)
	clk.Advance(30 * time.Second)
	if removed := p.Sweep(); removed != 0 {
		t.Errorf("Sweep() removed %d, want 0", removed)
	}

	closed := 0
	for _, inst := range l.Instances() {
		closed += inst.Closes()
	}
	if closed != 1 {
		t.Errorf("closed instances = %d, want 1", closed)
	}
}

func TestPool_LaunchFailureLeavesNoState(t *testing.T) {
	launchErr := errors.New("no chrome")
	l := &browsertest.Launcher{Err: launchErr}
	p := newPool(browser.PoolConfig{}, l)
	defer p.Destroy()

	if _, err := p.Acquire(context.Background()); !errors.Is(err, launchErr) {
		t.Fatalf("Acquire() error = %v, want %v", err, launchErr)
	}
	if st := p.Stats(); st.Total != 0 || st.PendingLaunches != 0 {
		t.Errorf("Stats() = %+v, want empty", st)
	}
}

func TestPool_Discard(t *testing.T) {
	l := &browsertest.Launcher{}
	p := newPool(browser.PoolConfig{}, l)
	defer p.Destroy()

	s, _ := p.Acquire(context.Background())
	p.Discard(s)

	if got := l.Instances()[0].Kills(); got != 1 {
		t.Errorf("Kills() = %d, want 1", got)
	}
	if st := p.Stats(); st.Total != 0 {
		t.Errorf("Total = %d, want 0", st.Total)
	}
}

func TestPool_Destroy(t *testing.T) {
	l := &browsertest.Launcher{New: func() *browsertest.Instance {
		inst := browsertest.NewInstance()
		inst.HangClose = true
		return inst
	}}
	p := newPool(browser.PoolConfig{MaxInstances: 3}, l)
	p.StartSweeper(context.Background())

	var held []*browser.PooledSession
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		held = append(held, s)
	}
	p.Release(held[0])

	p.Destroy()

	for i, inst := range l.Instances() {
		if !inst.Killed() {
			t.Errorf("instance %d not killed after hung close", i)
		}
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, browser.ErrPoolClosed) {
		t.Errorf("Acquire() after Destroy error = %v, want ErrPoolClosed", err)
	}
	if st := p.Stats(); st.Total != 0 {
		t.Errorf("Total = %d, want 0", st.Total)
	}
}
