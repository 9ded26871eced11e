package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/challenge"
	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
	"github.com/jmylchreest/refyne-api/scraper/internal/consent"
	"github.com/jmylchreest/refyne-api/scraper/internal/cookiejar"
	"github.com/jmylchreest/refyne-api/scraper/internal/extract"
	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
	"github.com/jmylchreest/refyne-api/scraper/internal/metrics"
	"github.com/jmylchreest/refyne-api/scraper/internal/solver"
)

// ErrAttemptTimeout is returned when an attempt outlives twice the configured timeout.
var ErrAttemptTimeout = errors.New("scrape attempt timed out")

// Session is the browser session of one attempt.
type Session interface {
	Init(ctx context.Context) error
	Page() (browser.Page, error)
	Close() error
}

// SessionFactory creates an uninitialized session for cfg.
type SessionFactory func(cfg Config) Session

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	NewSession SessionFactory
	// Keys are the process-wide provider keys used when a config carries none.
	Keys solver.Keys
	// Jar persists per-host cookies. Nil disables persistence.
	Jar     cookiejar.Jar
	Metrics *metrics.Metrics
	Timing  challenge.Timing
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Orchestrator runs scrape attempts with retries and a hard per-attempt timeout.
type Orchestrator struct {
	opts      OrchestratorOptions
	clock     clock.Clock
	dismisser *consent.Dismisser
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timing == (challenge.Timing{}) {
		opts.Timing = challenge.DefaultTiming()
	}
	return &Orchestrator{
		opts:      opts,
		clock:     opts.Clock,
		dismisser: consent.NewDismisser(opts.Logger, consent.WithClock(opts.Clock)),
		logger:    opts.Logger.With("component", "orchestrator"),
	}
}

// Execute runs s until an attempt succeeds or cfg.MaxRetries retries are
// spent. Failures are reported in the Result, never returned.
func (o *Orchestrator) Execute(ctx context.Context, s Scraper, params extract.Params, cfg Config) Result {
	start := o.clock.Now()
	logger := logging.FromContext(logging.WithScraper(ctx, s.Name()), o.logger)

	finish := func(res Result) Result {
		res.Timestamp = start
		elapsed := o.clock.Now().Sub(start)
		res.Duration = elapsed.Milliseconds()
		o.opts.Metrics.Execution(s.Name(), res.Success, elapsed)
		return res
	}

	target, err := s.Target(params)
	if err != nil {
		return finish(Result{Error: err.Error()})
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		data, err := o.attempt(ctx, logger, s, target, params, cfg)
		if err == nil {
			o.opts.Metrics.Attempt(s.Name(), "success")
			if attempt > 0 {
				logger.Info("scrape succeeded after retry", "attempt", attempt)
			}
			return finish(Result{Success: true, Data: data, Retries: attempt})
		}

		lastErr = err
		outcome := "failure"
		if errors.Is(err, ErrAttemptTimeout) {
			outcome = "timeout"
		}
		o.opts.Metrics.Attempt(s.Name(), outcome)
		logger.Warn("scrape attempt failed", "attempt", attempt, "max_retries", cfg.MaxRetries, "error", err)

		if attempt == cfg.MaxRetries {
			break
		}
		if err := o.clock.Sleep(ctx, cfg.RetryDelay.Std()*time.Duration(attempt+1)); err != nil {
			return finish(Result{Error: fmt.Sprintf("%v (retries abandoned: %v)", lastErr, err), Retries: attempt})
		}
	}

	return finish(Result{Error: lastErr.Error(), Retries: cfg.MaxRetries})
}

type attemptResult struct {
	data any
	err  error
}

// attempt runs one session against the hard timeout. The session is
// closed exactly once whichever side of the race finishes first.
func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, s Scraper, target string, params extract.Params, cfg Config) (any, error) {
	sess := o.opts.NewSession(cfg)
	var once sync.Once
	closeSession := func() {
		once.Do(func() {
			if err := sess.Close(); err != nil {
				logger.Warn("session close failed", "error", err)
			}
		})
	}
	defer closeSession()

	hard := 2 * cfg.Timeout.Std()
	actx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer closeSession()
		data, err := o.run(actx, logger, sess, s, target, params, cfg)
		done <- attemptResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, hard)
	}
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, sess Session, s Scraper, target string, params extract.Params, cfg Config) (any, error) {
	if err := sess.Init(ctx); err != nil {
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	page, err := sess.Page()
	if err != nil {
		return nil, err
	}

	host := hostOf(target)
	o.restoreCookies(ctx, logger, page, host)

	if err := page.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}

	if cfg.DismissConsent {
		o.dismisser.Dismiss(ctx, page)
	}

	if cfg.Captcha.Enabled {
		out, err := o.resolver(logger, cfg).Resolve(ctx, page.Challenge())
		if out.State != challenge.StateAbsent {
			o.opts.Metrics.Challenge(string(out.Strategy), string(out.State))
		}
		if err != nil {
			return nil, err
		}
	}

	data, err := s.Extract(ctx, page, params)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", s.Name(), err)
	}

	o.saveCookies(ctx, logger, page, host)
	return data, nil
}

func (o *Orchestrator) resolver(logger *slog.Logger, cfg Config) *challenge.Resolver {
	strategy, _ := challenge.StrategyFor(cfg.Captcha.Provider)

	var remote solver.Solver
	if strategy == challenge.StrategyRemote {
		var err error
		remote, err = solver.New(cfg.Captcha.Provider, cfg.Captcha.APIKey, o.opts.Keys)
		if err != nil {
			logger.Warn("remote solver unavailable", "provider", cfg.Captcha.Provider, "error", err)
		}
	}

	return challenge.NewResolver(challenge.ResolverConfig{
		Strategy:     strategy,
		Provider:     cfg.Captcha.Provider,
		APIKey:       cfg.Captcha.APIKey,
		SolveTimeout: cfg.Captcha.SolveTimeout.Std(),
		Headless:     cfg.Headless,
		Remote:       remote,
		Timing:       o.opts.Timing,
		Clock:        o.clock,
	}, logger)
}

func (o *Orchestrator) restoreCookies(ctx context.Context, logger *slog.Logger, page browser.Page, host string) {
	if o.opts.Jar == nil || host == "" {
		return
	}
	cookies, err := o.opts.Jar.Load(ctx, host)
	if err != nil {
		logger.Warn("failed to load stored cookies", "host", host, "error", err)
		return
	}
	if len(cookies) == 0 {
		return
	}
	if err := page.SetCookies(ctx, cookies); err != nil {
		logger.Warn("failed to restore cookies", "host", host, "error", err)
		return
	}
	logger.Debug("restored cookies", "host", host, "count", len(cookies))
}

func (o *Orchestrator) saveCookies(ctx context.Context, logger *slog.Logger, page browser.Page, host string) {
	if o.opts.Jar == nil || host == "" {
		return
	}
	cookies, err := page.Cookies(ctx)
	if err != nil {
		logger.Warn("failed to read cookies", "host", host, "error", err)
		return
	}
	if err := o.opts.Jar.Save(ctx, host, cookies); err != nil {
		logger.Warn("failed to persist cookies", "host", host, "error", err)
	}
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
