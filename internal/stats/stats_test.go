package stats

import "testing"

func TestRecordAccumulatesAggregateAndModel(t *testing.T) {
	s := NewEmptyStore()
	s.Record(RequestLog{Timestamp: 1700000000, Model: "claude-sonnet-4.5", Success: true, InputTokens: 10, OutputTokens: 5, Credits: 0.5})
	s.Record(RequestLog{Timestamp: 1700000001, Model: "claude-sonnet-4.5", Success: false, InputTokens: 2, OutputTokens: 0})

	agg := s.Aggregate()
	if agg.TotalRequests != 2 || agg.SuccessRequests != 1 || agg.FailedRequests != 1 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	if agg.TotalInputTokens != 12 || agg.TotalOutputTokens != 5 {
		t.Fatalf("unexpected token totals: %+v", agg)
	}
	model := agg.ByModel["claude-sonnet-4.5"]
	if model == nil || model.Requests != 2 {
		t.Fatalf("expected per-model rollup, got %+v", model)
	}
}

func TestLogRingDropsOldestPastCapacity(t *testing.T) {
	s := NewEmptyStore()
	for i := 0; i < maxLogs+10; i++ {
		s.Record(RequestLog{Timestamp: int64(i), Success: true})
	}
	all := s.AllLogs()
	if len(all) != maxLogs {
		t.Fatalf("expected ring capped at %d, got %d", maxLogs, len(all))
	}
	if all[0].Timestamp != 10 {
		t.Fatalf("expected oldest 10 entries dropped, got first timestamp %d", all[0].Timestamp)
	}
}

func TestLogsDefaultsToLastTwoHundred(t *testing.T) {
	s := NewEmptyStore()
	for i := 0; i < 300; i++ {
		s.Record(RequestLog{Timestamp: int64(i), Success: true})
	}
	recent := s.Logs(0)
	if len(recent) != 200 {
		t.Fatalf("expected default limit 200, got %d", len(recent))
	}
	if recent[0].Timestamp != 100 {
		t.Fatalf("expected tail starting at 100, got %d", recent[0].Timestamp)
	}
}

func TestResetClearsAggregateNotLogs(t *testing.T) {
	s := NewEmptyStore()
	s.Record(RequestLog{Timestamp: 1, Success: true, InputTokens: 5})
	s.Reset()
	if agg := s.Aggregate(); agg.TotalRequests != 0 {
		t.Fatalf("expected aggregate reset, got %+v", agg)
	}
	if len(s.AllLogs()) != 1 {
		t.Fatalf("expected logs untouched by reset")
	}
}
