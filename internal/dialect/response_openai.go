package dialect

import (
	"encoding/json"
	"fmt"
)

// BuildOpenAIResponse renders a collected event set as a single
// non-streaming chat.completion object (spec §4.5 "Upstream → Client
// OpenAI", non-stream case).
func BuildOpenAIResponse(events []UpstreamEvent, usage Usage, model string, thinkingFormat ThinkingFormat) map[string]any {
	var text string
	var toolCalls []map[string]any
	var reasoning string

	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			text += ev.Text
		case EventThinking:
			if thinkingFormat == ThinkingAsReasoningContent {
				reasoning += ev.Text
			} else {
				text += wrapThinkingText(thinkingFormat, ev.Text)
			}
		case EventToolUse:
			toolCalls = append(toolCalls, map[string]any{
				"id":   ev.ToolUse.ID,
				"type": "function",
				"function": map[string]any{
					"name":      ev.ToolUse.Name,
					"arguments": string(ev.ToolUse.Input),
				},
			})
		}
	}

	finishReason := "stop"
	message := map[string]any{"role": "assistant"}
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
		message["tool_calls"] = toolCalls
		message["content"] = nil
	} else {
		message["content"] = text
	}
	if reasoning != "" {
		message["reasoning_content"] = reasoning
	}

	return map[string]any{
		"id":      "chatcmpl-gateway",
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finishReason}},
		"usage": map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.InputTokens + usage.OutputTokens,
			"prompt_tokens_details": map[string]any{
				"cached_tokens": usage.CacheReadTokens,
			},
			"completion_tokens_details": map[string]any{
				"reasoning_tokens": usage.ReasoningTokens,
			},
		},
	}
}

// OpenAIStreamEncoder incrementally renders UpstreamEvents into OpenAI
// chat.completion.chunk SSE payloads (spec §4.5, streaming case).
type OpenAIStreamEncoder struct {
	model          string
	thinkingFormat ThinkingFormat
	roleSent       bool
	toolIndex      int
	sawToolCall    bool
}

func NewOpenAIStreamEncoder(model string, thinkingFormat ThinkingFormat) *OpenAIStreamEncoder {
	return &OpenAIStreamEncoder{model: model, thinkingFormat: thinkingFormat}
}

func (e *OpenAIStreamEncoder) chunk(delta map[string]any, finishReason *string) []byte {
	choice := map[string]any{"index": 0, "delta": delta}
	if finishReason != nil {
		choice["finish_reason"] = *finishReason
	} else {
		choice["finish_reason"] = nil
	}
	payload := map[string]any{
		"id":      "chatcmpl-gateway",
		"object":  "chat.completion.chunk",
		"model":   e.model,
		"choices": []map[string]any{choice},
	}
	data, _ := json.Marshal(payload)
	return data
}

// Start returns the initial role-only chunk.
func (e *OpenAIStreamEncoder) Start() []byte {
	e.roleSent = true
	return e.chunk(map[string]any{"role": "assistant"}, nil)
}

// Encode renders a single upstream event as zero or more SSE data chunks.
func (e *OpenAIStreamEncoder) Encode(ev UpstreamEvent) [][]byte {
	switch ev.Kind {
	case EventText:
		return [][]byte{e.chunk(map[string]any{"content": ev.Text}, nil)}
	case EventThinking:
		if e.thinkingFormat == ThinkingAsReasoningContent {
			return [][]byte{e.chunk(map[string]any{"reasoning_content": ev.Text}, nil)}
		}
		return [][]byte{e.chunk(map[string]any{"content": wrapThinkingText(e.thinkingFormat, ev.Text)}, nil)}
	case EventToolUse:
		e.sawToolCall = true
		idx := e.toolIndex
		e.toolIndex++
		delta := map[string]any{
			"tool_calls": []map[string]any{{
				"index": idx,
				"id":    ev.ToolUse.ID,
				"type":  "function",
				"function": map[string]any{
					"name":      ev.ToolUse.Name,
					"arguments": string(ev.ToolUse.Input),
				},
			}},
		}
		return [][]byte{e.chunk(delta, nil)}
	}
	return nil
}

// Finish renders the terminal finish_reason chunk, a separate usage-only
// chunk (empty choices), and the literal "[DONE]" sentinel.
func (e *OpenAIStreamEncoder) Finish(usage Usage) [][]byte {
	reason := "stop"
	if e.sawToolCall {
		reason = "tool_calls"
	}
	final := e.chunk(map[string]any{}, &reason)

	usagePayload := map[string]any{
		"id":      "chatcmpl-gateway",
		"object":  "chat.completion.chunk",
		"model":   e.model,
		"choices": []any{},
		"usage": map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.InputTokens + usage.OutputTokens,
		},
	}
	usageData, _ := json.Marshal(usagePayload)

	return [][]byte{final, usageData, []byte("[DONE]")}
}

// FormatSSE renders a raw OpenAI chunk payload as an SSE `data:` line.
func FormatSSE(payload []byte) string {
	if string(payload) == "[DONE]" {
		return "data: [DONE]\n\n"
	}
	return fmt.Sprintf("data: %s\n\n", payload)
}
