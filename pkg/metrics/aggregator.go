package metrics

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// StatusCompleted is the status counted as a success by Aggregate
const StatusCompleted = "completed"

// CallMetrics is one call's outcome record
type CallMetrics struct {
	Duration  float64 `json:"duration"` // seconds
	Cost      float64 `json:"cost"`
	Status    string  `json:"status"`
	Sentiment string  `json:"sentiment,omitempty"`
}

// Update carries fields to merge onto an existing record. Nil fields
// leave the current value untouched; set fields overwrite it.
type Update struct {
	Duration  *float64
	Cost      *float64
	Status    *string
	Sentiment *string
}

// Float64 returns a pointer for use in Update literals
func Float64(v float64) *float64 { return &v }

// String returns a pointer for use in Update literals
func String(v string) *string { return &v }

// AggregateMetrics is the rollup over all currently held records
type AggregateMetrics struct {
	TotalCalls      int     `json:"total_calls"`
	AverageDuration float64 `json:"average_duration"`
	TotalCost       float64 `json:"total_cost"`
	SuccessRate     float64 `json:"success_rate"` // percent
}

// Aggregator accumulates per-call outcome records keyed by call id
type Aggregator struct {
	mu      sync.RWMutex
	records map[string]CallMetrics
	logger  *logrus.Logger
}

// NewAggregator creates an empty aggregator
func NewAggregator(logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		records: make(map[string]CallMetrics),
		logger:  logger,
	}
}

// Record merges an update onto the record for callID, creating it if
// needed.
func (a *Aggregator) Record(callID string, update Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record := a.records[callID]
	if update.Duration != nil {
		record.Duration = *update.Duration
	}
	if update.Cost != nil {
		record.Cost = *update.Cost
	}
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.Sentiment != nil {
		record.Sentiment = *update.Sentiment
	}
	a.records[callID] = record
}

// Call returns the record for one call id
func (a *Aggregator) Call(callID string) (CallMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.records[callID]
	return record, ok
}

// Aggregate computes the rollup over all held records. An empty
// aggregator returns zeros rather than a division fault.
func (a *Aggregator) Aggregate() AggregateMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := len(a.records)
	if total == 0 {
		return AggregateMetrics{}
	}

	var totalDuration, totalCost float64
	successful := 0
	for _, record := range a.records {
		totalDuration += record.Duration
		totalCost += record.Cost
		if record.Status == StatusCompleted {
			successful++
		}
	}

	return AggregateMetrics{
		TotalCalls:      total,
		AverageDuration: totalDuration / float64(total),
		TotalCost:       totalCost,
		SuccessRate:     float64(successful) / float64(total) * 100,
	}
}

// Reset drops all records
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = make(map[string]CallMetrics)
}
