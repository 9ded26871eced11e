// Package handlers provides the huma operations of the scraper service API.
package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
	"github.com/jmylchreest/refyne-api/scraper/internal/version"
)

// PoolStatser reports resource pool usage.
type PoolStatser interface {
	Stats() browser.PoolStats
}

// QueueController exposes the request queue to operators.
type QueueController interface {
	Stats() queue.Stats
	Clear() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Commit  string             `json:"commit,omitempty"`
	Pool    *browser.PoolStats `json:"pool,omitempty"`
	Queue   *queue.Stats       `json:"queue,omitempty"`
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	pool  PoolStatser
	queue QueueController
}

// NewHealthHandler creates a new health handler. Either argument may be nil.
func NewHealthHandler(pool PoolStatser, q QueueController) *HealthHandler {
	return &HealthHandler{pool: pool, queue: q}
}

// HealthOutput is the output wrapper for Huma.
type HealthOutput struct {
	Body HealthResponse
}

// Handle returns the health status.
func (h *HealthHandler) Handle(ctx context.Context) *HealthResponse {
	info := version.Get()
	resp := &HealthResponse{
		Status:  "healthy",
		Version: info.Version,
		Commit:  info.Commit,
	}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Pool = &stats
	}
	if h.queue != nil {
		stats := h.queue.Stats()
		resp.Queue = &stats
	}
	return resp
}

// Register adds the health operation. It is mounted outside auth.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns health status with pool and queue statistics",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: *h.Handle(ctx)}, nil
	})
}
