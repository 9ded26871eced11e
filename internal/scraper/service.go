package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/refyne-api/scraper/internal/extract"
	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
)

// ErrUnknownScraper is returned by Execute for an unregistered name.
var ErrUnknownScraper = errors.New("unknown scraper")

// Queue admits executions.
type Queue interface {
	Do(ctx context.Context, work queue.Work) (any, error)
}

// Service dispatches named scrapes through the request queue to the orchestrator.
type Service struct {
	registry     *Registry
	profiles     Profiles
	orchestrator *Orchestrator
	queue        Queue
	logger       *slog.Logger
}

// NewService creates a service. profiles may be nil.
func NewService(registry *Registry, profiles Profiles, orchestrator *Orchestrator, q Queue, logger *slog.Logger) *Service {
	return &Service{
		registry:     registry,
		profiles:     profiles,
		orchestrator: orchestrator,
		queue:        q,
		logger:       logger.With("component", "scraper"),
	}
}

// Execute resolves the config for name, waits for queue admission and runs
// the scrape. Scrape failures are in the Result; the error is only set for an
// unknown name, an invalid config, or when the request never ran (queue
// cleared, ctx done while queued).
func (s *Service) Execute(ctx context.Context, name string, params extract.Params, overrides *Overrides) (Result, error) {
	sc, ok := s.registry.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownScraper, name)
	}
	cfg, err := s.profiles.Resolve(name, overrides)
	if err != nil {
		return Result{}, err
	}

	ctx = logging.WithScraper(ctx, name)
	v, err := s.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return s.orchestrator.Execute(ctx, sc, params, cfg), nil
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("scrape not run", "error", err)
		return Result{}, err
	}
	return v.(Result), nil
}

// Config returns the effective config for name before request overrides.
func (s *Service) Config(name string) (Config, error) {
	if _, ok := s.registry.Get(name); !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownScraper, name)
	}
	return s.profiles.Resolve(name, nil)
}

// Names returns the registered scraper names.
func (s *Service) Names() []string {
	return s.registry.Names()
}
