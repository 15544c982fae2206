// Package stats implements the Stats & Log Store (spec §4.7): aggregate
// request counters, per-model/per-day rollups, and a bounded request-log
// ring, grounded on original_source/kiro_proxy/stats.rs.
package stats

import (
	"sync"
	"time"
)

const maxLogs = 2000

// RequestLog is one completed (or failed) client request. cmd/gateway saves
// the log ring together with the Aggregate to the vendor's stats file
// (vendor_a_stats.json / vendor_k_stats.json) at shutdown only; nothing is
// written per request.
type RequestLog struct {
	Timestamp    int64   `json:"timestamp"`
	Vendor       string  `json:"vendor"`
	Path         string  `json:"path"`
	Model        string  `json:"model,omitempty"`
	AccountID    string  `json:"account_id,omitempty"`
	Success      bool    `json:"success"`
	Status       int     `json:"status"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
	DurationMS   int64   `json:"duration_ms"`
	Error        string  `json:"error,omitempty"`
}

// ModelStats is one model's rollup within Aggregate.ByModel.
type ModelStats struct {
	Requests     uint64  `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
}

// DailyStats is one UTC day's rollup within Aggregate.Daily.
type DailyStats struct {
	Requests     uint64  `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Credits      float64 `json:"credits"`
}

// Aggregate is the full running total, saved with the log ring to the
// vendor's stats file at shutdown (see RequestLog).
type Aggregate struct {
	TotalRequests     uint64                 `json:"total_requests"`
	SuccessRequests   uint64                 `json:"success_requests"`
	FailedRequests    uint64                 `json:"failed_requests"`
	TotalInputTokens  int64                  `json:"total_input_tokens"`
	TotalOutputTokens int64                  `json:"total_output_tokens"`
	TotalCredits      float64                `json:"total_credits"`
	ByModel           map[string]*ModelStats `json:"by_model"`
	Daily             map[string]*DailyStats `json:"daily"`
}

func newAggregate() Aggregate {
	return Aggregate{
		ByModel: make(map[string]*ModelStats),
		Daily:   make(map[string]*DailyStats),
	}
}

// Store is the in-memory aggregate + bounded log ring guarded by a single
// mutex (spec §5 "Shared-resource policy": Stats Store lives inside one
// write-exclusive state).
type Store struct {
	mu        sync.Mutex
	aggregate Aggregate
	logs      []RequestLog
}

// NewStore builds an empty store, or one restored from persisted state.
func NewStore(aggregate Aggregate, logs []RequestLog) *Store {
	if aggregate.ByModel == nil {
		aggregate.ByModel = make(map[string]*ModelStats)
	}
	if aggregate.Daily == nil {
		aggregate.Daily = make(map[string]*DailyStats)
	}
	if len(logs) > maxLogs {
		logs = logs[len(logs)-maxLogs:]
	}
	return &Store{aggregate: aggregate, logs: logs}
}

func NewEmptyStore() *Store { return NewStore(newAggregate(), nil) }

// Record applies one completed request to the aggregate and log ring.
func (s *Store) Record(log RequestLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregate.TotalRequests++
	if log.Success {
		s.aggregate.SuccessRequests++
	} else {
		s.aggregate.FailedRequests++
	}
	s.aggregate.TotalInputTokens += log.InputTokens
	s.aggregate.TotalOutputTokens += log.OutputTokens
	s.aggregate.TotalCredits += log.Credits

	if log.Model != "" {
		entry := s.aggregate.ByModel[log.Model]
		if entry == nil {
			entry = &ModelStats{}
			s.aggregate.ByModel[log.Model] = entry
		}
		entry.Requests++
		entry.InputTokens += log.InputTokens
		entry.OutputTokens += log.OutputTokens
		entry.Credits += log.Credits
	}

	dayKey := time.Unix(log.Timestamp, 0).UTC().Format("2006-01-02")
	daily := s.aggregate.Daily[dayKey]
	if daily == nil {
		daily = &DailyStats{}
		s.aggregate.Daily[dayKey] = daily
	}
	daily.Requests++
	daily.InputTokens += log.InputTokens
	daily.OutputTokens += log.OutputTokens
	daily.Credits += log.Credits

	s.logs = append(s.logs, log)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
}

// Reset zeroes the aggregate counters, keeping the log ring intact.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregate = newAggregate()
}

// ClearLogs empties the log ring, keeping aggregate counters intact.
func (s *Store) ClearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}

// Logs returns the most recent limit entries (default 200).
func (s *Store) Logs(limit int) []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	start := len(s.logs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]RequestLog, len(s.logs)-start)
	copy(out, s.logs[start:])
	return out
}

// AllLogs returns every retained log entry, for full persistence.
func (s *Store) AllLogs() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Aggregate returns a copy of the running totals.
func (s *Store) Aggregate() Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAggregate(s.aggregate)
}

func cloneAggregate(a Aggregate) Aggregate {
	clone := Aggregate{
		TotalRequests:     a.TotalRequests,
		SuccessRequests:   a.SuccessRequests,
		FailedRequests:    a.FailedRequests,
		TotalInputTokens:  a.TotalInputTokens,
		TotalOutputTokens: a.TotalOutputTokens,
		TotalCredits:      a.TotalCredits,
		ByModel:           make(map[string]*ModelStats, len(a.ByModel)),
		Daily:             make(map[string]*DailyStats, len(a.Daily)),
	}
	for k, v := range a.ByModel {
		copied := *v
		clone.ByModel[k] = &copied
	}
	for k, v := range a.Daily {
		copied := *v
		clone.Daily[k] = &copied
	}
	return clone
}
