package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tienda-pos/tienda-pos/internal/sales"
)

// SummaryWarmer precomputes daily sales summaries into the cache so the
// first dashboard request of the day does not pay for the aggregate.
type SummaryWarmer struct {
	logger *slog.Logger
	sales  *sales.Service
}

// NewSummaryWarmer constructs a warmer.
func NewSummaryWarmer(logger *slog.Logger, salesService *sales.Service) *SummaryWarmer {
	return &SummaryWarmer{logger: logger, sales: salesService}
}

// Handle processes TaskSummaryWarmup tasks.
func (w *SummaryWarmer) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SummaryWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	day := time.Now().AddDate(0, 0, -1)
	if payload.Day != "" {
		parsed, err := time.Parse("2006-01-02", payload.Day)
		if err != nil {
			return asynq.SkipRetry
		}
		day = parsed
	}

	summary, err := w.sales.DailySummary(ctx, day)
	if err != nil {
		return err
	}
	w.logger.Info("sales summary warmed",
		slog.String("day", day.Format("2006-01-02")),
		slog.Int64("sales", summary.SaleCount),
		slog.String("net_total", summary.NetTotal.StringFixed(2)))
	return nil
}
