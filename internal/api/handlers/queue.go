package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
)

// QueueStatsOutput is the output for queue stats requests.
type QueueStatsOutput struct {
	Body queue.Stats
}

// QueueClearOutput is the output for queue clear requests.
type QueueClearOutput struct {
	Body struct {
		Cleared int `json:"cleared" doc:"Number of pending requests rejected"`
	}
}

// QueueHandler serves the queue operator endpoints.
type QueueHandler struct {
	queue  QueueController
	logger *slog.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q QueueController, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: q, logger: logger}
}

// Register adds the queue operations.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "queueStats",
		Method:      http.MethodGet,
		Path:        "/v1/queue",
		Summary:     "Queue statistics",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, _ *struct{}) (*QueueStatsOutput, error) {
		return &QueueStatsOutput{Body: h.queue.Stats()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queueClear",
		Method:      http.MethodPost,
		Path:        "/v1/queue/clear",
		Summary:     "Clear pending requests",
		Description: "Rejects every pending request; running scrapes are not affected",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, _ *struct{}) (*QueueClearOutput, error) {
		out := &QueueClearOutput{}
		out.Body.Cleared = h.queue.Clear()
		logging.FromContext(ctx, h.logger).Warn("queue cleared by operator", "cleared", out.Body.Cleared)
		return out, nil
	})
}
