// Package consent dismisses cookie consent banners before extraction.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/clock"
)

// Evaluator runs a script on the page and returns its boolean result.
type Evaluator interface {
	EvalBool(ctx context.Context, js string, args ...any) (bool, error)
}

// consentButtonSelectors are tried in order. Google's own consent
// screen comes first since the search scraper hits it most.
var consentButtonSelectors = []string{
	// Google consent
	`#L2AGLb`,
	`button[aria-label="Accept all"]`,
	`form[action*="consent.google"] button[jsname="b3VHJd"]`,

	// OneTrust
	`#onetrust-accept-btn-handler`,
	`button[id*="onetrust-accept"]`,
	`#accept-recommended-btn-handler`,

	// Cookiebot
	`#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`#CybotCookiebotDialogBodyButtonAccept`,

	// Quantcast/TCF
	`.qc-cmp2-summary-buttons button[mode="primary"]`,

	// TrustArc / Didomi
	`#truste-consent-button`,
	`#didomi-notice-agree-button`,

	// Generic
	`button[data-testid="accept-cookies"]`,
	`button[data-testid="cookie-accept"]`,
	`button.cookie-accept`,
	`button.accept-cookies`,
	`button#accept-cookies`,
	`div[class*="cookie"] button[class*="accept"]`,
	`div[class*="consent"] button[class*="accept"]`,
}

var acceptTexts = []string{
	"Accept all",
	"Accept All Cookies",
	"Accept cookies",
	"I accept",
	"I agree",
	"Allow all",
	"Got it",
}

// clickFirstVisibleJS clicks the first visible element matching any selector.
const clickFirstVisibleJS = `(selectors) => {
	for (const sel of selectors) {
		let el;
		try { el = document.querySelector(sel); } catch (e) { continue; }
		if (!el) continue;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		el.click();
		return true;
	}
	return false;
}`

// clickByTextJS clicks the first visible button or link whose text matches.
const clickByTextJS = `(texts) => {
	const wanted = texts.map((t) => t.toLowerCase());
	for (const el of document.querySelectorAll('button, a, [role="button"]')) {
		const text = (el.textContent || '').trim().toLowerCase();
		if (!text || text.length > 40) continue;
		if (!wanted.some((w) => text === w || text.startsWith(w))) continue;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		el.click();
		return true;
	}
	return false;
}`

// Dismisser handles cookie consent banner dismissal.
type Dismisser struct {
	logger *slog.Logger
	clock  clock.Clock
	// render is waited before looking for a banner, settle after a click.
	render time.Duration
	settle time.Duration
}

// Option configures a Dismisser.
type Option func(*Dismisser)

// WithClock sets the clock used for the render and settle waits.
func WithClock(c clock.Clock) Option {
	return func(d *Dismisser) { d.clock = c }
}

// NewDismisser creates a new cookie consent dismisser.
func NewDismisser(logger *slog.Logger, opts ...Option) *Dismisser {
	d := &Dismisser{
		logger: logger.With("component", "consent"),
		clock:  clock.Real(),
		render: 500 * time.Millisecond,
		settle: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dismiss clicks a consent button if one is showing and reports whether it did.
// Failures are logged and never returned.
func (d *Dismisser) Dismiss(ctx context.Context, page Evaluator) bool {
	if err := d.clock.Sleep(ctx, d.render); err != nil {
		return false
	}

	clicked, err := page.EvalBool(ctx, clickFirstVisibleJS, consentButtonSelectors)
	if err != nil {
		d.logger.Debug("consent selector check failed", "error", err)
	}
	method := "selector"
	if !clicked {
		clicked, err = page.EvalBool(ctx, clickByTextJS, acceptTexts)
		if err != nil {
			d.logger.Debug("consent text search failed", "error", err)
		}
		method = "text_search"
	}
	if !clicked {
		return false
	}

	d.logger.Info("dismissed cookie consent banner", "method", method)
	_ = d.clock.Sleep(ctx, d.settle)
	return true
}
