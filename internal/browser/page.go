package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmylchreest/refyne-api/scraper/internal/challenge"
)

// PageOptions configures a page before navigation.
type PageOptions struct {
	Width             int
	Height            int
	UserAgent         string
	BlockResources    bool
	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
}

// Cookie is a browser cookie in a form that can be persisted.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
	SameSite string    `json:"sameSite,omitempty"`
}

// Page is the single resident page of a session.
type Page interface {
	Configure(ctx context.Context, opts PageOptions) error
	Navigate(ctx context.Context, url string) error
	URL() string
	HTML(ctx context.Context) (string, error)
	EvalBool(ctx context.Context, js string, args ...any) (bool, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Challenge() challenge.Page
	// Reset stops interception and event logging and blanks the page so it
	// can be handed to the next borrower.
	Reset(ctx context.Context) error
	Close() error
}

// allowedHosts always load, even with resource blocking on, so the
// challenge widget can render.
var allowedHosts = []string{
	"google.com/recaptcha",
	"www.google.com/recaptcha",
	"gstatic.com/recaptcha",
	"www.gstatic.com/recaptcha",
	"recaptcha.net",
	"www.recaptcha.net",
}

// shouldBlock reports whether a request of resourceType to u is aborted.
func shouldBlock(resourceType proto.NetworkResourceType, u *url.URL) bool {
	switch resourceType {
	case proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia:
	default:
		return false
	}
	if u == nil {
		return true
	}
	target := strings.ToLower(u.Host + u.Path)
	for _, allowed := range allowedHosts {
		if strings.HasPrefix(target, allowed) {
			return false
		}
	}
	return true
}

type rodPage struct {
	page      *rod.Page
	extension bool
	logger    *slog.Logger

	mu         sync.Mutex
	opts       PageOptions
	router     *rod.HijackRouter
	stopEvents context.CancelFunc
}

func newRodPage(page *rod.Page, extension bool, logger *slog.Logger) *rodPage {
	return &rodPage{
		page:      page,
		extension: extension,
		logger:    logger,
		opts:      PageOptions{OperationTimeout: 30 * time.Second, NavigationTimeout: 60 * time.Second},
	}
}

func (p *rodPage) op(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.opts.OperationTimeout)
}

func (p *rodPage) Configure(ctx context.Context, opts PageOptions) error {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 30 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = opts.OperationTimeout
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts

	page := p.op(ctx)
	if opts.Width > 0 && opts.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	if opts.BlockResources && p.router == nil {
		router := p.page.HijackRequests()
		err := router.Add("*", "", func(h *rod.Hijack) {
			if shouldBlock(h.Request.Type(), h.Request.URL()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		})
		if err != nil {
			return fmt.Errorf("request interception: %w", err)
		}
		go router.Run()
		p.router = router
	}

	if p.stopEvents == nil {
		p.watchEvents()
	}
	return nil
}

// watchEvents logs crashes and uncaught exceptions. They never change control flow.
func (p *rodPage) watchEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	p.stopEvents = cancel

	wait := p.page.Context(ctx).EachEvent(
		func(e *proto.InspectorTargetCrashed) {
			p.logger.Warn("page crashed")
		},
		func(e *proto.RuntimeExceptionThrown) {
			if e.ExceptionDetails != nil {
				p.logger.Debug("page exception", "text", e.ExceptionDetails.Text)
			}
		},
	)
	go wait()
}

func (p *rodPage) Navigate(ctx context.Context, target string) error {
	page := p.page.Context(ctx).Timeout(p.opts.NavigationTimeout)
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", target, err)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.op(ctx).HTML()
}

func (p *rodPage) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	res, err := p.op(ctx).Eval(js, args...)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := p.op(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expires = c.Expires.Time()
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		switch proto.NetworkCookieSameSite(c.SameSite) {
		case proto.NetworkCookieSameSiteStrict:
			param.SameSite = proto.NetworkCookieSameSiteStrict
		case proto.NetworkCookieSameSiteLax:
			param.SameSite = proto.NetworkCookieSameSiteLax
		case proto.NetworkCookieSameSiteNone:
			param.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, param)
	}
	return p.op(ctx).SetCookies(params)
}

func (p *rodPage) Challenge() challenge.Page {
	return challenge.NewRodPage(p.page, p.opts.OperationTimeout, p.extension)
}

func (p *rodPage) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.logger.Debug("stop interception", "error", err)
		}
		p.router = nil
	}
	if p.stopEvents != nil {
		p.stopEvents()
		p.stopEvents = nil
	}
}

func (p *rodPage) Reset(ctx context.Context) error {
	p.stop()
	page := p.op(ctx)
	if err := page.SetCookies(nil); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	return page.Navigate("about:blank")
}

func (p *rodPage) Close() error {
	p.stop()
	return p.page.Close()
}
