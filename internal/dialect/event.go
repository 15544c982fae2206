package dialect

import "encoding/json"

// EventKind discriminates the closed sum type of upstream stream events
// (spec §9 "Tagged variants over duck typing": Text | Thinking | ToolUse).
type EventKind int

const (
	EventText EventKind = iota
	EventThinking
	EventToolUse
)

// UpstreamEvent is a single decoded delta from a vendor codec's stream. Only
// the field matching Kind is populated.
type UpstreamEvent struct {
	Kind    EventKind
	Text    string
	ToolUse UpstreamToolUse
}

// UpstreamToolUse is a fully-accumulated tool call (vendor codecs buffer
// fragmented input and only ever emit one UpstreamEvent per completed call).
type UpstreamToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Usage is the token/credit accounting extracted from an upstream response,
// shared by both vendor codecs (spec §4.4).
type Usage struct {
	InputTokens     int64
	OutputTokens    int64
	CacheReadTokens int64
	CacheWriteTokens int64
	ReasoningTokens int64
	Credits         float64
}
