package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
	"github.com/jmylchreest/refyne-api/scraper/internal/solver"
)

var (
	// ErrNoSolverConfigured is returned when a challenge is detected and no strategy is configured.
	ErrNoSolverConfigured = errors.New("reCAPTCHA detected but no reCAPTCHA solver configured")
	// ErrChallengeTimeout is returned when a strategy exhausts its budget.
	ErrChallengeTimeout = errors.New("reCAPTCHA not solved within timeout")
	// ErrExtensionUnavailable is returned when the solver extension is not loaded.
	ErrExtensionUnavailable = errors.New("reCAPTCHA solver extension unavailable")
	// ErrExtensionRequiresHeadful is returned when extension mode is used headless.
	ErrExtensionRequiresHeadful = errors.New("extension solving requires headless=false")
	// ErrSiteKeyNotFound is returned when a remote strategy cannot find the site key.
	ErrSiteKeyNotFound = errors.New("reCAPTCHA site key not found on page")
)

// Strategy selects how a detected challenge is resolved.
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyManual    Strategy = "manual"
	StrategyCheckbox  Strategy = "checkbox"
	StrategyExtension Strategy = "extension"
	StrategyRemote    Strategy = "remote"
)

// StrategyFor maps a provider selector to its strategy.
func StrategyFor(provider string) (Strategy, error) {
	switch p := strings.ToLower(strings.TrimSpace(provider)); p {
	case "", "none":
		return StrategyNone, nil
	case "manual":
		return StrategyManual, nil
	case "checkbox":
		return StrategyCheckbox, nil
	case "extension":
		return StrategyExtension, nil
	default:
		if solver.IsRemote(p) {
			return StrategyRemote, nil
		}
		return StrategyNone, fmt.Errorf("unknown captcha provider %q", provider)
	}
}

// State is the resolution progress of one challenge.
type State string

const (
	StateAbsent      State = "absent"
	StateDetected    State = "detected"
	StateAutoSolving State = "auto-solving"
	StateManualWait  State = "manual-wait"
	StateReload      State = "challenge-reload"
	StateSolved      State = "solved"
	StateTimedOut    State = "timed-out"
	StateFailed      State = "failed"
)

// Outcome describes how a resolution ended.
type Outcome struct {
	State    State
	Strategy Strategy
	Reloads  int
	Elapsed  time.Duration
}

// ResolverConfig configures a Resolver for one scrape.
type ResolverConfig struct {
	Strategy     Strategy
	Provider     string
	APIKey       string
	SolveTimeout time.Duration
	Headless     bool
	// Remote is required for StrategyRemote.
	Remote solver.Solver
	Timing Timing
	Clock  clock.Clock
}

// Resolver detects and resolves a challenge on a page.
type Resolver struct {
	cfg      ResolverConfig
	detector *Detector
	clock    clock.Clock
	logger   *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = 3 * time.Minute
	}
	return &Resolver{
		cfg:      cfg,
		detector: NewDetector(cfg.Timing, logger),
		clock:    cfg.Clock,
		logger:   logger.With("component", "challenge"),
	}
}

// Resolve runs detection and, when a challenge is present, the configured
// strategy followed by the image-challenge reload check.
func (r *Resolver) Resolve(ctx context.Context, page Page) (Outcome, error) {
	start := r.clock.Now()
	out := Outcome{State: StateAbsent, Strategy: r.cfg.Strategy}
	finish := func(state State, err error) (Outcome, error) {
		out.State = state
		out.Elapsed = r.clock.Now().Sub(start)
		return out, err
	}

	detected, err := r.detector.Detect(ctx, page)
	if err != nil {
		return finish(StateAbsent, fmt.Errorf("challenge detection: %w", err))
	}
	if !detected {
		return finish(StateAbsent, nil)
	}
	out.State = StateDetected
	r.logger.Info("reCAPTCHA detected", "url", page.URL(), "strategy", r.cfg.Strategy)

	var solveErr error
	switch r.cfg.Strategy {
	case StrategyNone:
		return finish(StateFailed, ErrNoSolverConfigured)
	case StrategyManual:
		solveErr = r.manual(ctx, page)
	case StrategyCheckbox:
		solveErr = ClickCheckbox(ctx, page, r.cfg.Timing, r.clock, r.cfg.SolveTimeout)
	case StrategyExtension:
		solveErr = r.extension(ctx, page)
	case StrategyRemote:
		solveErr = r.remote(ctx, page)
	default:
		return finish(StateFailed, fmt.Errorf("unsupported strategy %q", r.cfg.Strategy))
	}
	if solveErr != nil {
		return finish(failureState(solveErr), solveErr)
	}

	reloads, err := r.awaitReloads(ctx, page)
	out.Reloads = reloads
	if err != nil {
		return finish(failureState(err), err)
	}

	r.logger.Info("reCAPTCHA solved", "strategy", r.cfg.Strategy, "reloads", reloads,
		"elapsed", r.clock.Now().Sub(start).Round(time.Millisecond))
	return finish(StateSolved, nil)
}

func failureState(err error) State {
	if errors.Is(err, ErrChallengeTimeout) {
		return StateTimedOut
	}
	return StateFailed
}

// solved reports whether the response token is set or the challenge markers are gone.
// Probe errors count as not solved; the page may be mid-navigation.
func (r *Resolver) solved(ctx context.Context, page Page) bool {
	if token, err := page.ResponseToken(ctx); err == nil && token != "" {
		return true
	}
	present, err := r.detector.Quick(ctx, page)
	if err != nil {
		r.logger.Debug("challenge probe failed", "error", err)
		return false
	}
	return !present
}

func (r *Resolver) manual(ctx context.Context, page Page) error {
	r.logger.Info("waiting for manual reCAPTCHA solve",
		"state", StateManualWait,
		"timeout", r.cfg.SolveTimeout,
		"hint", "complete the challenge in the browser window",
	)

	if err := page.ClickCheckbox(ctx); err != nil {
		r.logger.Debug("checkbox auto-click failed", "error", err)
	}

	return poll(ctx, r.clock, r.cfg.Timing.ManualPoll, r.cfg.SolveTimeout, r.progress("manual"), func() (bool, error) {
		return r.solved(ctx, page), nil
	})
}

func (r *Resolver) remote(ctx context.Context, page Page) error {
	if r.cfg.Remote == nil {
		return ErrNoSolverConfigured
	}

	siteKey, err := page.SiteKey(ctx)
	if err != nil {
		return fmt.Errorf("read site key: %w", err)
	}
	if siteKey == "" {
		return ErrSiteKeyNotFound
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SolveTimeout)
	defer cancel()

	r.logger.Info("submitting reCAPTCHA to remote solver", "state", StateAutoSolving, "solver", r.cfg.Remote.Name())
	res, err := r.cfg.Remote.Solve(sctx, solver.SolveParams{SiteKey: siteKey, PageURL: page.URL()})
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, solver.ErrSolverTimeout)) {
			return fmt.Errorf("%w: %s after %s", ErrChallengeTimeout, r.cfg.Remote.Name(), r.cfg.SolveTimeout)
		}
		return fmt.Errorf("remote solver %s: %w", r.cfg.Remote.Name(), err)
	}

	if err := page.InjectToken(ctx, res.Token); err != nil {
		return fmt.Errorf("inject token: %w", err)
	}
	return nil
}

func (r *Resolver) extension(ctx context.Context, page Page) error {
	if r.cfg.Headless {
		return ErrExtensionRequiresHeadful
	}
	ext := page.Extension()

	var missing bool
	err := poll(ctx, r.clock, r.cfg.Timing.ExtensionPoll, r.cfg.Timing.ExtensionWait, nil, func() (bool, error) {
		a, err := ext.Available(ctx)
		if err != nil {
			return false, nil
		}
		if a == ExtensionMissing {
			missing = true
			return true, nil
		}
		return a == ExtensionReady, nil
	})
	if missing {
		return ErrExtensionUnavailable
	}
	if err != nil {
		if errors.Is(err, ErrChallengeTimeout) {
			return fmt.Errorf("%w: not loaded within %s", ErrExtensionUnavailable, r.cfg.Timing.ExtensionWait)
		}
		return err
	}

	if err := ext.SetConfig(ctx, map[string]any{"apiKey": r.cfg.APIKey, "provider": r.cfg.Provider}); err != nil {
		r.logger.Warn("extension setConfig failed", "error", err)
	}

	det, err := ext.Detect(ctx)
	if err != nil {
		return fmt.Errorf("extension detect: %w", err)
	}
	if !det.HasAny {
		r.logger.Debug("extension did not see a challenge, solving anyway")
	}

	r.logger.Info("delegating reCAPTCHA to extension", "state", StateAutoSolving)
	if _, err := ext.Solve(ctx); err != nil {
		return fmt.Errorf("extension solve: %w", err)
	}

	return poll(ctx, r.clock, r.cfg.Timing.ManualPoll, r.cfg.SolveTimeout, r.progress("extension"), func() (bool, error) {
		solved, err := ext.IsSolved(ctx)
		if err != nil {
			// The extension's page hooks vanish while the frame reloads
			r.logger.Debug("extension isSolved failed", "error", err)
			return false, nil
		}
		return solved, nil
	})
}

// awaitReloads checks for the secondary image challenge after an apparent
// solve. Each appearance gets its own polling budget; the retry count of
// the surrounding attempt is not touched.
func (r *Resolver) awaitReloads(ctx context.Context, page Page) (int, error) {
	t := r.cfg.Timing
	for reloads := 0; ; reloads++ {
		if err := r.clock.Sleep(ctx, t.ReloadSettle); err != nil {
			return reloads, err
		}
		visible, err := page.ImageChallengeVisible(ctx)
		if err != nil {
			r.logger.Debug("image challenge check failed", "error", err)
			return reloads, nil
		}
		if !visible {
			return reloads, nil
		}
		if reloads >= t.MaxReloads {
			return reloads, fmt.Errorf("%w: image challenge reappeared %d times", ErrChallengeTimeout, reloads)
		}

		r.logger.Info("image challenge appeared after solve", "state", StateReload, "budget", t.ReloadBudget)
		err = poll(ctx, r.clock, t.ReloadPoll, t.ReloadBudget, r.progress("reload"), func() (bool, error) {
			visible, err := page.ImageChallengeVisible(ctx)
			if err != nil || visible {
				return false, nil
			}
			return r.solved(ctx, page), nil
		})
		if err != nil {
			return reloads + 1, err
		}
	}
}

func (r *Resolver) progress(phase string) *reporter {
	return &reporter{
		every: r.cfg.Timing.ProgressEvery,
		report: func(elapsed time.Duration) {
			r.logger.Info("still waiting for reCAPTCHA", "phase", phase,
				"elapsed", elapsed.Round(time.Second), "timeout", r.cfg.SolveTimeout)
		},
	}
}

// ClickCheckbox clicks the anchor checkbox and polls its checked state
// until it is true or timeout elapses.
func ClickCheckbox(ctx context.Context, page Page, timing Timing, clk clock.Clock, timeout time.Duration) error {
	if err := page.ClickCheckbox(ctx); err != nil {
		return fmt.Errorf("click checkbox: %w", err)
	}
	return poll(ctx, clk, timing.CheckboxPoll, timeout, nil, func() (bool, error) {
		checked, err := page.CheckboxChecked(ctx)
		if err != nil {
			// Cross-origin reads can fail transiently while the frame reloads
			return false, nil
		}
		return checked, nil
	})
}
