package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/refyne-api/scraper/internal/extract"
	"github.com/jmylchreest/refyne-api/scraper/internal/http/mw"
	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
	"github.com/jmylchreest/refyne-api/scraper/internal/scraper"
)

// ScrapeService runs named scrapes.
type ScrapeService interface {
	Execute(ctx context.Context, name string, params extract.Params, overrides *scraper.Overrides) (scraper.Result, error)
	Config(name string) (scraper.Config, error)
	Names() []string
}

// ScrapeRequest is the body of a scrape call.
type ScrapeRequest struct {
	Params map[string]any `json:"params,omitempty" doc:"Scraper-specific parameters, e.g. query for google or url for page"`
	Config map[string]any `json:"config,omitempty" doc:"Per-request overrides of the scraper config"`
}

// ScrapeInput is the input for scrape requests.
type ScrapeInput struct {
	Name string `path:"name" doc:"Registered scraper name"`
	Body ScrapeRequest
}

// ScrapeOutput is the output for scrape requests.
type ScrapeOutput struct {
	Body scraper.Result
}

// ScraperInfo describes one registered scraper.
type ScraperInfo struct {
	Name   string         `json:"name"`
	Config scraper.Config `json:"config"`
}

// ScrapersOutput lists the registered scrapers.
type ScrapersOutput struct {
	Body struct {
		Scrapers []ScraperInfo `json:"scrapers"`
	}
}

// ScrapeHandler handles scrape and registry requests.
type ScrapeHandler struct {
	service ScrapeService
	logger  *slog.Logger
}

// NewScrapeHandler creates a new scrape handler.
func NewScrapeHandler(service ScrapeService, logger *slog.Logger) *ScrapeHandler {
	return &ScrapeHandler{service: service, logger: logger}
}

// Scrape validates the overrides and executes the named scraper. Scrape
// failures are returned as a 200 with success=false.
func (h *ScrapeHandler) Scrape(ctx context.Context, input *ScrapeInput) (*ScrapeOutput, error) {
	subject := ""
	if claims := mw.GetUserClaims(ctx); claims != nil {
		subject = claims.Subject
	}
	log := logging.FromContext(logging.WithScraper(ctx, input.Name), h.logger)
	log.Info("scrape request received",
		"subject", subject,
		"params", len(input.Body.Params),
		"has_config", len(input.Body.Config) > 0,
	)

	overrides, err := scraper.ParseOverrides(input.Body.Config)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	res, err := h.service.Execute(ctx, input.Name, extract.Params(input.Body.Params), overrides)
	if err != nil {
		return nil, statusFor(err)
	}

	log.Info("scrape request completed",
		"success", res.Success,
		"retries", res.Retries,
		"duration_ms", res.Duration,
	)
	return &ScrapeOutput{Body: res}, nil
}

// List returns every registered scraper with its effective default config.
func (h *ScrapeHandler) List(ctx context.Context, _ *struct{}) (*ScrapersOutput, error) {
	out := &ScrapersOutput{}
	out.Body.Scrapers = make([]ScraperInfo, 0)
	for _, name := range h.service.Names() {
		cfg, err := h.service.Config(name)
		if err != nil {
			return nil, statusFor(err)
		}
		out.Body.Scrapers = append(out.Body.Scrapers, ScraperInfo{Name: name, Config: cfg})
	}
	return out, nil
}

// Register adds the scrape operations.
func (h *ScrapeHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "scrape",
		Method:      http.MethodPost,
		Path:        "/v1/scrape/{name}",
		Summary:     "Run a scraper",
		Description: "Queues the named scraper and returns its result envelope",
		Tags:        []string{"Scrape"},
	}, h.Scrape)

	huma.Register(api, huma.Operation{
		OperationID: "listScrapers",
		Method:      http.MethodGet,
		Path:        "/v1/scrapers",
		Summary:     "List scrapers",
		Description: "Returns the registered scrapers and their effective config",
		Tags:        []string{"Scrape"},
	}, h.List)
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, scraper.ErrUnknownScraper):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, scraper.ErrInvalidConfig):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, queue.ErrQueueCleared):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return huma.Error504GatewayTimeout("request ended before the scrape completed", err)
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
