package scraper

import (
	"log/slog"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/challenge"
	"github.com/jmylchreest/refyne-api/scraper/internal/session"
)

// BrowserSessions returns a SessionFactory that borrows headless browsers
// from pool and launches a dedicated browser for headful configs. The
// solver extension is only loaded into dedicated extension-mode browsers.
func BrowserSessions(pool session.Pool, launcher browser.Launcher, launch browser.LaunchOptions, logger *slog.Logger) SessionFactory {
	return func(cfg Config) Session {
		strategy, _ := challenge.StrategyFor(cfg.Captcha.Provider)

		lo := launch
		lo.Headless = cfg.Headless
		lo.WindowWidth = cfg.Viewport.Width
		lo.WindowHeight = cfg.Viewport.Height
		if strategy != challenge.StrategyExtension || cfg.Headless {
			lo.ExtensionPath = ""
		}

		return session.New(session.Options{
			Pool:      pool,
			Launcher:  launcher,
			Dedicated: !cfg.Headless,
			Launch:    lo,
			Page: browser.PageOptions{
				Width:             cfg.Viewport.Width,
				Height:            cfg.Viewport.Height,
				UserAgent:         cfg.UserAgent,
				BlockResources:    cfg.BlockResources,
				NavigationTimeout: cfg.Timeout.Std(),
				OperationTimeout:  cfg.OperationTimeout.Std(),
			},
			Timeout: cfg.Timeout.Std(),
			Logger:  logger,
		})
	}
}
