package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity re-walks customer ledgers and verifies the
	// running-balance chain.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskSummaryWarmup precomputes a day's sales summary into the cache.
	TaskSummaryWarmup = "sales:summary_warmup"
)

// SummaryWarmupPayload selects the day to precompute. Day is YYYY-MM-DD;
// empty means yesterday.
type SummaryWarmupPayload struct {
	Day string `json:"day,omitempty"`
}

// NewLedgerIntegrityTask constructs the ledger verification task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewSummaryWarmupTask constructs a summary warmup task.
func NewSummaryWarmupTask(payload SummaryWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryWarmup, data), nil
}
