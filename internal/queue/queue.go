// Package queue admits scrape work in FIFO order under a concurrency cap
// and a sliding-window rate limit.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

// ErrQueueCleared is returned to every pending caller when the queue is cleared.
var ErrQueueCleared = errors.New("queue cleared")

// Work is one deferred operation.
type Work func(ctx context.Context) (any, error)

// Config bounds admission.
type Config struct {
	MaxConcurrent int
	// RequestsPerMinute caps starts within the sliding window. Zero or less disables the gate.
	RequestsPerMinute int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source used for the sliding window.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithRecheckInterval sets how long a rate-gated dispatch waits before checking again.
func WithRecheckInterval(d time.Duration) Option {
	return func(q *Queue) { q.recheck = d }
}

// WithWindow overrides the 60 second rate-limit window.
func WithWindow(d time.Duration) Option {
	return func(q *Queue) { q.window = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

type item struct {
	ctx        context.Context
	work       Work
	ticket     *Ticket
	enqueuedAt time.Time
}

// Ticket settles when its work has run, was cleared, or its context ended
// before admission.
type Ticket struct {
	done   chan struct{}
	result any
	err    error
	once   sync.Once
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) settle(result any, err error) {
	t.once.Do(func() {
		t.result, t.err = result, err
		close(t.done)
	})
}

// Done is closed once the ticket has settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the ticket settles or ctx is done. Returning early on
// ctx does not withdraw the work.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue is the request admission queue.
type Queue struct {
	mu         sync.Mutex
	items      []*item
	processing int
	starts     []time.Time
	timer      *time.Timer

	cfg     Config
	clock   clock.Clock
	recheck time.Duration
	window  time.Duration
	logger  *slog.Logger
}

// New creates a queue.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	q := &Queue{
		cfg:     cfg,
		clock:   clock.Real(),
		recheck: time.Second,
		window:  time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	return q
}

// Enqueue appends work and returns its ticket. ctx is passed to the work
// when it runs; if ctx ends while the work is still queued, the ticket
// settles with ctx.Err() and the work never runs.
func (q *Queue) Enqueue(ctx context.Context, work Work) *Ticket {
	t := newTicket()

	q.mu.Lock()
	q.items = append(q.items, &item{ctx: ctx, work: work, ticket: t, enqueuedAt: q.clock.Now()})
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Debug("request queued", "position", depth)
	q.dispatch()
	return t
}

// Do enqueues work and waits for its result.
func (q *Queue) Do(ctx context.Context, work Work) (any, error) {
	return q.Enqueue(ctx, work).Wait(ctx)
}

// dispatch starts as many queued items as both gates allow.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.processing < q.cfg.MaxConcurrent && len(q.items) > 0 {
		next := q.items[0]
		if err := next.ctx.Err(); err != nil {
			q.pop()
			next.ticket.settle(nil, err)
			continue
		}

		now := q.clock.Now()
		q.prune(now)
		if q.cfg.RequestsPerMinute > 0 && len(q.starts) >= q.cfg.RequestsPerMinute {
			q.scheduleRecheck()
			return
		}

		q.pop()
		q.processing++
		q.starts = append(q.starts, now)
		q.logger.Debug("request admitted", "waited", now.Sub(next.enqueuedAt), "processing", q.processing)
		go q.run(next)
	}
}

func (q *Queue) pop() {
	q.items[0] = nil
	q.items = q.items[1:]
}

func (q *Queue) run(it *item) {
	result, err := it.work(it.ctx)

	q.mu.Lock()
	q.processing--
	q.mu.Unlock()

	it.ticket.settle(result, err)
	q.dispatch()
}

// prune drops start timestamps that have left the window. Caller holds mu.
func (q *Queue) prune(now time.Time) {
	keep := 0
	for _, ts := range q.starts {
		if now.Sub(ts) < q.window {
			q.starts[keep] = ts
			keep++
		}
	}
	q.starts = q.starts[:keep]
}

// scheduleRecheck arms a single pending recheck. Caller holds mu.
func (q *Queue) scheduleRecheck() {
	if q.timer != nil {
		return
	}
	q.timer = time.AfterFunc(q.recheck, func() {
		q.mu.Lock()
		q.timer = nil
		q.mu.Unlock()
		q.dispatch()
	})
}

// Clear rejects every pending item with ErrQueueCleared and reports how
// many were rejected. Running work is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	for _, it := range items {
		it.ticket.settle(nil, ErrQueueCleared)
	}
	if len(items) > 0 {
		q.logger.Info("queue cleared", "rejected", len(items))
	}
	return len(items)
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending            int `json:"pending"`
	Processing         int `json:"processing"`
	MaxConcurrent      int `json:"maxConcurrent"`
	RequestsPerMinute  int `json:"requestsPerMinute"`
	RequestsLastMinute int `json:"requestsLastMinute"`
}

// Stats returns the current queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune(q.clock.Now())
	return Stats{
		Pending:            len(q.items),
		Processing:         q.processing,
		MaxConcurrent:      q.cfg.MaxConcurrent,
		RequestsPerMinute:  q.cfg.RequestsPerMinute,
		RequestsLastMinute: len(q.starts),
	}
}

// Busy reports whether any work is pending or running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0 || q.processing > 0
}
