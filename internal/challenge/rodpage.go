package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	anchorFrameSelector = `iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"]`
	checkboxSelector    = `#recaptcha-anchor`
)

const markersJS = `() => ({
	container: !!document.querySelector('.g-recaptcha, #recaptcha, [data-sitekey]'),
	anchorFrame: !!document.querySelector('iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"], iframe[src*="recaptcha.net/recaptcha"]'),
	scriptTag: !!document.querySelector('script[src*="recaptcha/api.js"], script[src*="recaptcha/enterprise.js"]'),
	altVendor: !!document.querySelector('.h-captcha, iframe[src*="hcaptcha.com"]'),
})`

const siteKeyJS = `() => {
	const el = document.querySelector('.g-recaptcha[data-sitekey], [data-sitekey]');
	if (el) return el.getAttribute('data-sitekey') || '';
	const frame = document.querySelector('iframe[src*="recaptcha"][src*="k="]');
	if (frame) {
		const m = frame.src.match(/[?&]k=([^&]+)/);
		if (m) return decodeURIComponent(m[1]);
	}
	return '';
}`

const responseTokenJS = `() => {
	const el = document.querySelector('[name="g-recaptcha-response"], #g-recaptcha-response');
	return el ? (el.value || '') : '';
}`

const injectTokenJS = `(token) => {
	document.querySelectorAll('[name="g-recaptcha-response"], #g-recaptcha-response').forEach((el) => {
		el.value = token;
		el.innerHTML = token;
	});
	const widget = document.querySelector('.g-recaptcha[data-callback]');
	const named = widget && widget.getAttribute('data-callback');
	if (named && typeof window[named] === 'function') {
		window[named](token);
		return true;
	}
	if (typeof window.grecaptchaCallback === 'function') {
		window.grecaptchaCallback(token);
		return true;
	}
	return false;
}`

// The bframe is always in the DOM; it is a live challenge only while visible.
const imageChallengeJS = `() => {
	const frames = document.querySelectorAll('iframe[src*="recaptcha/api2/bframe"], iframe[src*="recaptcha/enterprise/bframe"]');
	for (const f of frames) {
		const r = f.getBoundingClientRect();
		const st = window.getComputedStyle(f);
		if (r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none') return true;
	}
	return false;
}`

const vendorGlobalJS = `() => typeof window.grecaptcha !== 'undefined' && window.grecaptcha !== null`

type rodPage struct {
	page      *rod.Page
	opTimeout time.Duration
	ext       Extension
}

// NewRodPage adapts a rod page to the challenge Page interface. When
// extensionLoaded is false, Extension reports ExtensionMissing.
func NewRodPage(page *rod.Page, opTimeout time.Duration, extensionLoaded bool) Page {
	p := &rodPage{page: page, opTimeout: opTimeout}
	if extensionLoaded {
		p.ext = &rodExtension{page: p}
	} else {
		p.ext = MissingExtension{}
	}
	return p
}

func (p *rodPage) op(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.opTimeout)
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// boundedWait maps a deadline that was ours to (false, nil) and keeps
// cancellation of the caller's context as an error.
func boundedWait(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, err
}

func (p *rodPage) WaitChallengeFrame(ctx context.Context, timeout time.Duration) (bool, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	el, err := page.Element(anchorFrameSelector)
	if err != nil {
		return boundedWait(ctx, err)
	}
	return boundedWait(ctx, el.WaitVisible())
}

func (p *rodPage) WaitVendorGlobal(ctx context.Context, timeout time.Duration) (bool, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	return boundedWait(ctx, page.Wait(rod.Eval(vendorGlobalJS)))
}

func (p *rodPage) Markers(ctx context.Context) (Markers, error) {
	res, err := p.op(ctx).Eval(markersJS)
	if err != nil {
		return Markers{}, err
	}
	v := res.Value
	return Markers{
		Container:   v.Get("container").Bool(),
		AnchorFrame: v.Get("anchorFrame").Bool(),
		ScriptTag:   v.Get("scriptTag").Bool(),
		AltVendor:   v.Get("altVendor").Bool(),
	}, nil
}

func (p *rodPage) SiteKey(ctx context.Context) (string, error) {
	res, err := p.op(ctx).Eval(siteKeyJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) ResponseToken(ctx context.Context) (string, error) {
	res, err := p.op(ctx).Eval(responseTokenJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) InjectToken(ctx context.Context, token string) error {
	_, err := p.op(ctx).Eval(injectTokenJS, token)
	return err
}

func (p *rodPage) checkbox(ctx context.Context) (*rod.Element, error) {
	iframe, err := p.op(ctx).Element(anchorFrameSelector)
	if err != nil {
		return nil, err
	}
	frame, err := iframe.Frame()
	if err != nil {
		return nil, err
	}
	return frame.Context(ctx).Timeout(p.opTimeout).Element(checkboxSelector)
}

func (p *rodPage) ClickCheckbox(ctx context.Context) error {
	cb, err := p.checkbox(ctx)
	if err != nil {
		return err
	}
	return cb.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) CheckboxChecked(ctx context.Context) (bool, error) {
	cb, err := p.checkbox(ctx)
	if err != nil {
		return false, err
	}
	checked, err := cb.Attribute("aria-checked")
	if err != nil {
		return false, err
	}
	return checked != nil && *checked == "true", nil
}

func (p *rodPage) ImageChallengeVisible(ctx context.Context) (bool, error) {
	res, err := p.op(ctx).Eval(imageChallengeJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Extension() Extension {
	return p.ext
}

// rodExtension calls the solver extension's window.__captchaSolver bridge.
type rodExtension struct {
	page *rodPage
}

const (
	extAvailableJS = `() => { const s = window.__captchaSolver; return !!(s && typeof s.solve === 'function'); }`
	extDetectJS    = `async () => { const r = await window.__captchaSolver.detect(); return r || {}; }`
	extSolveJS     = `async () => !!(await window.__captchaSolver.solve())`
	extIsSolvedJS  = `async () => !!(await window.__captchaSolver.isSolved())`
	extSetConfigJS = `(cfg) => { window.__captchaSolver.setConfig(cfg); return true; }`
)

func (e *rodExtension) Available(ctx context.Context) (Availability, error) {
	res, err := e.page.op(ctx).Eval(extAvailableJS)
	if err != nil {
		return ExtensionNotYet, err
	}
	if res.Value.Bool() {
		return ExtensionReady, nil
	}
	return ExtensionNotYet, nil
}

func (e *rodExtension) Detect(ctx context.Context) (ExtensionDetection, error) {
	res, err := e.page.op(ctx).Eval(extDetectJS)
	if err != nil {
		return ExtensionDetection{}, err
	}
	return ExtensionDetection{HasAny: res.Value.Get("hasAny").Bool()}, nil
}

func (e *rodExtension) Solve(ctx context.Context) (bool, error) {
	res, err := e.page.op(ctx).Eval(extSolveJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *rodExtension) IsSolved(ctx context.Context) (bool, error) {
	res, err := e.page.op(ctx).Eval(extIsSolvedJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *rodExtension) SetConfig(ctx context.Context, cfg map[string]any) error {
	_, err := e.page.op(ctx).Eval(extSetConfigJS, cfg)
	return err
}
