// Package browsertest provides in-memory fakes of the browser interfaces.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/challenge"
)

// ErrKilled is returned by fake operations on a killed instance.
var ErrKilled = errors.New("browser process killed")

// Launcher is a fake browser.Launcher.
type Launcher struct {
	// Err, when set, fails every launch.
	Err error
	// New builds each launched instance. Defaults to NewInstance.
	New func() *Instance

	mu        sync.Mutex
	instances []*Instance
	opts      []browser.LaunchOptions
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	newInstance := l.New
	if newInstance == nil {
		newInstance = NewInstance
	}
	inst := newInstance()

	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.opts = append(l.opts, opts)
	l.mu.Unlock()
	return inst, nil
}

// Instances returns every instance launched so far.
func (l *Launcher) Instances() []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Instance(nil), l.instances...)
}

// Options returns the options of every launch so far.
func (l *Launcher) Options() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.opts...)
}

// Instance is a fake browser.Instance.
type Instance struct {
	Page *Page
	// HangClose makes Close block until Kill is called.
	HangClose bool
	CloseErr  error

	mu          sync.Mutex
	extraPages  int
	extraClosed int
	closes      int
	kills       int
	dead        chan struct{}
	killOnce    sync.Once
}

// NewInstance returns an instance with a fresh default page.
func NewInstance() *Instance {
	dead := make(chan struct{})
	return &Instance{Page: newPage(dead), dead: dead}
}

// OpenPages simulates n secondary pages opened by the target site.
func (i *Instance) OpenPages(n int) {
	i.mu.Lock()
	i.extraPages += n
	i.mu.Unlock()
}

func (i *Instance) DefaultPage(ctx context.Context) (browser.Page, error) {
	if i.Killed() {
		return nil, ErrKilled
	}
	return i.Page, nil
}

func (i *Instance) CloseExtraPages(ctx context.Context) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := i.extraPages
	i.extraPages = 0
	i.extraClosed += n
	return n, nil
}

func (i *Instance) Close() error {
	i.mu.Lock()
	i.closes++
	i.mu.Unlock()
	if i.HangClose {
		<-i.dead
		return ErrKilled
	}
	return i.CloseErr
}

func (i *Instance) Kill() {
	i.mu.Lock()
	i.kills++
	i.mu.Unlock()
	i.killOnce.Do(func() { close(i.dead) })
}

// Closes returns how many times Close was called.
func (i *Instance) Closes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closes
}

// Kills returns how many times Kill was called.
func (i *Instance) Kills() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.kills
}

// Killed reports whether Kill has been called.
func (i *Instance) Killed() bool {
	select {
	case <-i.dead:
		return true
	default:
		return false
	}
}

// ExtraClosed returns how many secondary pages CloseExtraPages closed.
func (i *Instance) ExtraClosed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.extraClosed
}

// Page is a fake browser.Page.
type Page struct {
	// HTMLBody is returned by HTML.
	HTMLBody string
	// NavigateFunc, when set, replaces the default navigation.
	NavigateFunc func(ctx context.Context, url string) error
	// EvalFunc, when set, answers EvalBool.
	EvalFunc func(js string, args ...any) bool
	// Probe is returned by Challenge. Defaults to a page without a challenge.
	Probe challenge.Page
	// HangClose and HangReset block the call until the instance is killed.
	HangClose bool
	HangReset bool

	dead chan struct{}

	mu         sync.Mutex
	url        string
	configured []browser.PageOptions
	navigated  []string
	cookies    []browser.Cookie
	evals      []string
	resets     int
	closes     int
}

func newPage(dead chan struct{}) *Page {
	return &Page{url: "about:blank", dead: dead}
}

// NewPage returns a page not tied to any instance.
func NewPage() *Page {
	return newPage(make(chan struct{}))
}

func (p *Page) Configure(ctx context.Context, opts browser.PageOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = append(p.configured, opts)
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.NavigateFunc != nil {
		if err := p.NavigateFunc(ctx, url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.HTMLBody, nil
}

func (p *Page) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	p.mu.Lock()
	p.evals = append(p.evals, js)
	p.mu.Unlock()
	if p.EvalFunc == nil {
		return false, nil
	}
	return p.EvalFunc(js, args...), nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) Challenge() challenge.Page {
	if p.Probe != nil {
		return p.Probe
	}
	return NoChallenge{}
}

func (p *Page) Reset(ctx context.Context) error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	if p.HangReset {
		select {
		case <-p.dead:
			return ErrKilled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.url = "about:blank"
	p.cookies = nil
	p.mu.Unlock()
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	if p.HangClose {
		<-p.dead
		return ErrKilled
	}
	return nil
}

// Configured returns the options passed to Configure.
func (p *Page) Configured() []browser.PageOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.PageOptions(nil), p.configured...)
}

// Navigated returns every URL passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Evals returns every script passed to EvalBool.
func (p *Page) Evals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evals...)
}

// Resets returns how many times Reset was called.
func (p *Page) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// NoChallenge is a challenge.Page with no challenge on it.
type NoChallenge struct{}

func (NoChallenge) URL() string { return "" }

func (NoChallenge) WaitChallengeFrame(context.Context, time.Duration) (bool, error) {
	return false, nil
}

func (NoChallenge) WaitVendorGlobal(context.Context, time.Duration) (bool, error) {
	return false, nil
}

func (NoChallenge) Markers(context.Context) (challenge.Markers, error) {
	return challenge.Markers{}, nil
}

func (NoChallenge) SiteKey(context.Context) (string, error) { return "", nil }
func (NoChallenge) ResponseToken(context.Context) (string, error) { return "", nil }
func (NoChallenge) InjectToken(context.Context, string) error { return nil }
func (NoChallenge) ClickCheckbox(context.Context) error { return nil }

func (NoChallenge) CheckboxChecked(context.Context) (bool, error) { return false, nil }

func (NoChallenge) ImageChallengeVisible(context.Context) (bool, error) { return false, nil }

func (NoChallenge) Extension() challenge.Extension { return challenge.MissingExtension{} }
