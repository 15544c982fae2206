package dialect

import (
	"encoding/json"
	"fmt"
)

// BuildAnthropicResponse renders a collected event set as a single
// non-streaming Anthropic messages response.
func BuildAnthropicResponse(events []UpstreamEvent, usage Usage, model string, thinkingFormat ThinkingFormat) map[string]any {
	var blocks []map[string]any
	sawToolUse := false

	var textBuf string
	flushText := func() {
		if textBuf != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": textBuf})
			textBuf = ""
		}
	}

	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			textBuf += ev.Text
		case EventThinking:
			if thinkingFormat != ThinkingAsReasoningContent {
				textBuf += wrapThinkingText(thinkingFormat, ev.Text)
			}
		case EventToolUse:
			flushText()
			sawToolUse = true
			var input any
			_ = json.Unmarshal(ev.ToolUse.Input, &input)
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    ev.ToolUse.ID,
				"name":  ev.ToolUse.Name,
				"input": input,
			})
		}
	}
	flushText()

	stopReason := "end_turn"
	if sawToolUse {
		stopReason = "tool_use"
	}

	return map[string]any{
		"id":          "msg-gateway",
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     blocks,
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens":                usage.InputTokens,
			"output_tokens":               usage.OutputTokens,
			"cache_read_input_tokens":     usage.CacheReadTokens,
			"cache_creation_input_tokens": usage.CacheWriteTokens,
		},
	}
}

// AnthropicStreamEncoder incrementally renders UpstreamEvents into
// Anthropic SSE events (spec §4.5 "Upstream → Client Anthropic").
type AnthropicStreamEncoder struct {
	model          string
	thinkingFormat ThinkingFormat
	blockIndex     int
	textOpen       bool
	sawToolUse     bool
}

func NewAnthropicStreamEncoder(model string, thinkingFormat ThinkingFormat) *AnthropicStreamEncoder {
	return &AnthropicStreamEncoder{model: model, thinkingFormat: thinkingFormat, blockIndex: -1}
}

func sseEvent(eventType string, payload map[string]any) string {
	data, _ := json.Marshal(payload)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// Start emits message_start.
func (e *AnthropicStreamEncoder) Start() []string {
	return []string{sseEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      "msg-gateway",
			"type":    "message",
			"role":    "assistant",
			"model":   e.model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})}
}

func (e *AnthropicStreamEncoder) openTextBlock() string {
	e.blockIndex++
	e.textOpen = true
	return sseEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": e.blockIndex,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	})
}

func (e *AnthropicStreamEncoder) closeBlock() string {
	idx := e.blockIndex
	e.textOpen = false
	return sseEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

// Encode renders one upstream event as zero or more SSE lines.
func (e *AnthropicStreamEncoder) Encode(ev UpstreamEvent) []string {
	switch ev.Kind {
	case EventText:
		var out []string
		if !e.textOpen {
			out = append(out, e.openTextBlock())
		}
		out = append(out, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		}))
		return out
	case EventThinking:
		if e.thinkingFormat == ThinkingAsReasoningContent {
			return nil
		}
		text := wrapThinkingText(e.thinkingFormat, ev.Text)
		var out []string
		if !e.textOpen {
			out = append(out, e.openTextBlock())
		}
		out = append(out, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}))
		return out
	case EventToolUse:
		e.sawToolUse = true
		var out []string
		if e.textOpen {
			out = append(out, e.closeBlock())
		}
		e.blockIndex++
		idx := e.blockIndex
		out = append(out, sseEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    ev.ToolUse.ID,
				"name":  ev.ToolUse.Name,
				"input": map[string]any{},
			},
		}))
		out = append(out, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": string(ev.ToolUse.Input)},
		}))
		out = append(out, sseEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": idx,
		}))
		return out
	}
	return nil
}

// Finish emits the trailing content_block_stop (if a text block is still
// open), message_delta with stop_reason+usage, and message_stop.
func (e *AnthropicStreamEncoder) Finish(usage Usage) []string {
	var out []string
	if e.textOpen {
		out = append(out, e.closeBlock())
	}

	stopReason := "end_turn"
	if e.sawToolUse {
		stopReason = "tool_use"
	}

	out = append(out, sseEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}))
	out = append(out, sseEvent("message_stop", map[string]any{"type": "message_stop"}))
	return out
}

// Error emits a mid-stream error event followed by message_stop, per spec
// §7 "Mid-stream failures after bytes have been sent".
func (e *AnthropicStreamEncoder) Error(errType, message string) []string {
	return []string{
		sseEvent("error", map[string]any{"type": "error", "error": map[string]any{"type": errType, "message": message}}),
		sseEvent("message_stop", map[string]any{"type": "message_stop"}),
	}
}
