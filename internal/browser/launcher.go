// Package browser launches browser processes, configures their pages and
// pools them for reuse across scrapes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ErrExtensionHeadless is returned when an extension is requested for a headless launch.
var ErrExtensionHeadless = errors.New("browser extensions require headless=false")

// LaunchOptions controls how a browser process is started.
type LaunchOptions struct {
	Headless      bool
	ChromePath    string
	ExtensionPath string
	WindowWidth   int
	WindowHeight  int
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// Instance is one running browser process.
type Instance interface {
	// DefaultPage returns the page the browser opened at startup, creating
	// one only if none exists.
	DefaultPage(ctx context.Context) (Page, error)
	// CloseExtraPages closes every page except the default one and reports how many were closed.
	CloseExtraPages(ctx context.Context) (int, error)
	// Close asks the browser to exit.
	Close() error
	// Kill terminates the OS process.
	Kill()
}

// hardenedFlags are applied to every launch. Sandboxing is disabled for
// container compatibility and /dev/shm is avoided.
var hardenedFlags = []flags.Flag{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
	"disable-background-networking",
	"disable-background-timer-throttling",
	"disable-backgrounding-occluded-windows",
	"disable-renderer-backgrounding",
	"disable-infobars",
	"no-first-run",
}

// RodLauncher launches Chromium through rod's launcher.
type RodLauncher struct {
	logger *slog.Logger
}

// NewRodLauncher creates a launcher.
func NewRodLauncher(logger *slog.Logger) *RodLauncher {
	return &RodLauncher{logger: logger.With("component", "launcher")}
}

// Launch starts a browser and connects to it. A failed connect kills the
// started process so no partial state survives.
func (r *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if opts.ExtensionPath != "" && opts.Headless {
		return nil, ErrExtensionHeadless
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New()
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}

	w, h := opts.WindowWidth, opts.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}

	l = l.Headless(opts.Headless).
		Set("window-size", fmt.Sprintf("%d,%d", w, h)).
		Set("lang", "en-US,en")
	for _, flag := range hardenedFlags {
		l = l.Set(flag)
	}

	if opts.ExtensionPath != "" {
		// rod disables extensions by default
		l = l.Delete("disable-extensions").
			Set("load-extension", opts.ExtensionPath).
			Set("disable-extensions-except", opts.ExtensionPath)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	r.logger.Debug("browser launched", "pid", l.PID(), "headless", opts.Headless,
		"extension", opts.ExtensionPath != "")

	return &rodInstance{
		browser:   b,
		launcher:  l,
		extension: opts.ExtensionPath != "",
		logger:    r.logger,
	}, nil
}

type rodInstance struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	extension bool
	logger    *slog.Logger
}

func (i *rodInstance) pages() (rod.Pages, error) {
	pages, err := i.browser.Pages()
	if err != nil {
		return nil, err
	}
	// Extension background pages are not tabs
	tabs := pages[:0]
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if strings.HasPrefix(info.URL, "chrome-extension://") {
			continue
		}
		tabs = append(tabs, p)
	}
	return tabs, nil
}

func (i *rodInstance) DefaultPage(ctx context.Context) (Page, error) {
	pages, err := i.pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else {
		page, err = i.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return nil, fmt.Errorf("create page: %w", err)
		}
	}
	return newRodPage(page, i.extension, i.logger), nil
}

func (i *rodInstance) CloseExtraPages(ctx context.Context) (int, error) {
	pages, err := i.pages()
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, p := range pages[min(1, len(pages)):] {
		if err := p.Context(ctx).Close(); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (i *rodInstance) Close() error {
	return i.browser.Close()
}

func (i *rodInstance) Kill() {
	i.launcher.Kill()
}
