package challenge

import (
	"context"
	"log/slog"
	"time"
)

// Timing holds the bounds and poll intervals of the challenge protocol.
type Timing struct {
	IframeWait time.Duration
	GlobalWait time.Duration

	ManualPoll    time.Duration
	ProgressEvery time.Duration
	CheckboxPoll  time.Duration

	ReloadSettle time.Duration
	ReloadPoll   time.Duration
	ReloadBudget time.Duration
	MaxReloads   int

	ExtensionWait time.Duration
	ExtensionPoll time.Duration
}

// DefaultTiming returns the production timing values.
func DefaultTiming() Timing {
	return Timing{
		IframeWait:    10 * time.Second,
		GlobalWait:    5 * time.Second,
		ManualPoll:    2 * time.Second,
		ProgressEvery: 10 * time.Second,
		CheckboxPoll:  500 * time.Millisecond,
		ReloadSettle:  2 * time.Second,
		ReloadPoll:    2 * time.Second,
		ReloadBudget:  90 * time.Second,
		MaxReloads:    3,
		ExtensionWait: 10 * time.Second,
		ExtensionPoll: time.Second,
	}
}

// Detector runs the layered detection chain.
type Detector struct {
	timing Timing
	logger *slog.Logger
}

// NewDetector creates a new challenge detector.
func NewDetector(timing Timing, logger *slog.Logger) *Detector {
	return &Detector{timing: timing, logger: logger}
}

// Detect reports whether a challenge is present. Each layer is a fallback
// for the previous one: a visible anchor iframe, then the vendor global,
// then a synchronous marker query.
func (d *Detector) Detect(ctx context.Context, page Page) (bool, error) {
	found, err := page.WaitChallengeFrame(ctx, d.timing.IframeWait)
	if found {
		d.logger.Debug("challenge detected", "layer", "iframe")
		return true, nil
	}
	if err != nil {
		d.logger.Debug("iframe detection failed", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found, err = page.WaitVendorGlobal(ctx, d.timing.GlobalWait)
	if found {
		d.logger.Debug("challenge detected", "layer", "global")
		return true, nil
	}
	if err != nil {
		d.logger.Debug("global detection failed", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found, err = d.Quick(ctx, page)
	if found {
		d.logger.Debug("challenge detected", "layer", "markers")
	}
	return found, err
}

// Quick runs only the synchronous marker query.
func (d *Detector) Quick(ctx context.Context, page Page) (bool, error) {
	m, err := page.Markers(ctx)
	if err != nil {
		return false, err
	}
	return m.Any(), nil
}
