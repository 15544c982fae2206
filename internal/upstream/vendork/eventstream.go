// Package vendork implements the Upstream Codec for Vendor-K: JSON request
// bodies and an AWS-EventStream framed binary response (spec §4.4), ported
// from original_source/src-tauri/src/modules/kiro_proxy/event_stream.rs.
package vendork

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

const maxEventStreamMessage = 8 * 1024 * 1024

type toolUseState struct {
	toolUseID string
	name      string
	input     []byte
}

// ParseEventStream reads an AWS-EventStream framed response body and
// invokes onMessage for each decoded Text/Thinking/ToolUse event, returning
// the final accumulated Usage.
//
// Framing per spec §4.4: each message begins with 12 prelude bytes
// (totalLength u32BE, headersLength u32BE, preludeCRC u32BE, unverified),
// followed by TLV headers, a UTF-8 JSON payload, and a 4-byte trailing CRC.
func ParseEventStream(body io.Reader, inputChars int, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
	r := bufio.NewReaderSize(body, 64*1024)

	usage := dialect.Usage{InputTokens: max64(int64(inputChars)/3, 1)}
	var outputChars int
	var current *toolUseState
	processedToolIDs := make(map[string]struct{})

	prelude := make([]byte, 12)

	for {
		if _, err := io.ReadFull(r, prelude); err != nil {
			if err == io.EOF {
				break
			}
			return usage, fmt.Errorf("read eventstream prelude: %w", err)
		}

		totalLength := binary.BigEndian.Uint32(prelude[0:4])
		headersLength := binary.BigEndian.Uint32(prelude[4:8])

		if totalLength == 0 || totalLength > maxEventStreamMessage {
			return usage, fmt.Errorf("upstream eventstream message malformed: totalLength=%d", totalLength)
		}

		remaining := int(totalLength) - len(prelude)
		if remaining < 0 {
			return usage, fmt.Errorf("upstream eventstream message malformed: totalLength smaller than prelude")
		}
		rest := make([]byte, remaining)
		if _, err := io.ReadFull(r, rest); err != nil {
			return usage, fmt.Errorf("read eventstream body: %w", err)
		}

		headersEnd := int(headersLength)
		if headersEnd > len(rest) {
			return usage, fmt.Errorf("upstream eventstream headers out of bounds")
		}
		headers := rest[:headersEnd]

		// rest = headers + payload + 4-byte trailing CRC
		payloadEnd := len(rest) - 4
		if payloadEnd < headersEnd {
			payloadEnd = headersEnd
		}
		payload := rest[headersEnd:payloadEnd]

		eventType := extractEventType(headers)

		if len(payload) > 0 && utf8.Valid(payload) {
			var evJSON map[string]any
			if json.Unmarshal(payload, &evJSON) == nil {
				if err := handleEvent(eventType, evJSON, &usage, &outputChars, &current, processedToolIDs, onMessage); err != nil {
					return usage, err
				}
			}
		}
	}

	if current != nil {
		if _, done := processedToolIDs[current.toolUseID]; !done {
			onMessage(flushToolUse(current))
		}
	}

	if usage.OutputTokens == 0 && outputChars > 0 {
		usage.OutputTokens = max64(int64(outputChars)/3, 1)
	}

	return usage, nil
}

func handleEvent(
	eventType string,
	ev map[string]any,
	usage *dialect.Usage,
	outputChars *int,
	current **toolUseState,
	processedToolIDs map[string]struct{},
	onMessage func(dialect.UpstreamEvent),
) error {
	if text, ok := stringField(ev, "assistantResponseEvent", "content", eventType == "assistantResponseEvent"); ok {
		*outputChars += len([]rune(text))
		onMessage(dialect.UpstreamEvent{Kind: dialect.EventText, Text: text})
	}

	if text, ok := stringField(ev, "reasoningContentEvent", "text", eventType == "reasoningContentEvent"); ok {
		*outputChars += len([]rune(text))
		usage.ReasoningTokens += max64(int64(len([]rune(text)))/3, 1)
		onMessage(dialect.UpstreamEvent{Kind: dialect.EventThinking, Text: text})
	}

	if eventType == "toolUseEvent" || ev["toolUseEvent"] != nil {
		toolData, _ := ev["toolUseEvent"].(map[string]any)
		if toolData == nil {
			toolData = ev
		}
		handleToolUseEvent(toolData, current, processedToolIDs, onMessage)
	}

	if eventType == "messageMetadataEvent" || eventType == "metadataEvent" || ev["messageMetadataEvent"] != nil || ev["metadataEvent"] != nil {
		metadata, _ := ev["messageMetadataEvent"].(map[string]any)
		if metadata == nil {
			metadata, _ = ev["metadataEvent"].(map[string]any)
		}
		if metadata == nil {
			metadata = ev
		}
		if tokenUsage, ok := metadata["tokenUsage"].(map[string]any); ok {
			uncached := asInt64(tokenUsage["uncachedInputTokens"])
			cacheRead := asInt64(tokenUsage["cacheReadInputTokens"])
			cacheWrite := asInt64(tokenUsage["cacheWriteInputTokens"])
			inputTotal := uncached + cacheRead + cacheWrite
			if inputTotal > 0 {
				usage.InputTokens = inputTotal
			}
			if out, ok := numField(tokenUsage, "outputTokens"); ok {
				usage.OutputTokens = out
			}
			usage.CacheReadTokens = cacheRead
			usage.CacheWriteTokens = cacheWrite
		}
		if v, ok := numField(metadata, "inputTokens"); ok {
			usage.InputTokens = v
		}
		if v, ok := numField(metadata, "outputTokens"); ok {
			usage.OutputTokens = v
		}
	}

	if eventType == "usageEvent" || ev["usageEvent"] != nil || ev["usage"] != nil {
		usageJSON, _ := ev["usageEvent"].(map[string]any)
		if usageJSON == nil {
			usageJSON, _ = ev["usage"].(map[string]any)
		}
		if usageJSON == nil {
			usageJSON = ev
		}
		if v, ok := numField(usageJSON, "inputTokens"); ok {
			usage.InputTokens = v
		}
		if v, ok := numField(usageJSON, "outputTokens"); ok {
			usage.OutputTokens = v
		}
	}

	if eventType == "meteringEvent" || ev["meteringEvent"] != nil {
		metering, _ := ev["meteringEvent"].(map[string]any)
		if metering == nil {
			metering = ev
		}
		if credits, ok := floatField(metering, "usage"); ok {
			usage.Credits += credits
		}
	}

	if ev["_type"] != nil || ev["error"] != nil {
		msg := "upstream eventstream returned an error"
		if m, ok := ev["message"].(string); ok && m != "" {
			msg = m
		} else if errObj, ok := ev["error"].(map[string]any); ok {
			if m, ok := errObj["message"].(string); ok && m != "" {
				msg = m
			}
		}
		return fmt.Errorf("%s", msg)
	}

	return nil
}

func handleToolUseEvent(toolData map[string]any, current **toolUseState, processedToolIDs map[string]struct{}, onMessage func(dialect.UpstreamEvent)) {
	toolUseID, _ := toolData["toolUseId"].(string)
	name, _ := toolData["name"].(string)
	stop, _ := toolData["stop"].(bool)

	if toolUseID != "" && name != "" {
		if *current != nil && (*current).toolUseID != toolUseID {
			if _, done := processedToolIDs[(*current).toolUseID]; !done {
				onMessage(flushToolUse(*current))
				processedToolIDs[(*current).toolUseID] = struct{}{}
			}
			*current = nil
		}
		if *current == nil {
			if _, done := processedToolIDs[toolUseID]; !done {
				*current = &toolUseState{toolUseID: toolUseID, name: name}
			}
		}
	}

	if *current != nil {
		switch input := toolData["input"].(type) {
		case string:
			(*current).input = append((*current).input, []byte(input)...)
		case map[string]any, []any:
			data, _ := json.Marshal(input)
			(*current).input = data
		}
	}

	if stop && *current != nil {
		if _, done := processedToolIDs[(*current).toolUseID]; !done {
			onMessage(flushToolUse(*current))
			processedToolIDs[(*current).toolUseID] = struct{}{}
		}
		*current = nil
	}
}

// flushToolUse parses the accumulated input buffer as JSON, matching
// original_source's lenient fallback when the buffer isn't valid JSON.
func flushToolUse(s *toolUseState) dialect.UpstreamEvent {
	input := s.input
	if len(input) == 0 {
		input = []byte("{}")
	} else {
		var v any
		if json.Unmarshal(input, &v) != nil {
			fallback, _ := json.Marshal(map[string]any{
				"_error":       "tool input parse failed",
				"_partialInput": string(s.input),
			})
			input = fallback
		}
	}
	return dialect.UpstreamEvent{Kind: dialect.EventToolUse, ToolUse: dialect.UpstreamToolUse{
		ID:    s.toolUseID,
		Name:  s.name,
		Input: input,
	}}
}

// extractEventType scans the TLV header block for the ":event-type" string
// header (value type 7).
func extractEventType(headers []byte) string {
	offset := 0
	for offset < len(headers) {
		nameLen := int(headers[offset])
		offset++
		if offset+nameLen > len(headers) {
			break
		}
		name := string(headers[offset : offset+nameLen])
		offset += nameLen

		if offset >= len(headers) {
			break
		}
		valueType := headers[offset]
		offset++

		if valueType == 7 {
			if offset+2 > len(headers) {
				break
			}
			valueLen := int(binary.BigEndian.Uint16(headers[offset : offset+2]))
			offset += 2
			if offset+valueLen > len(headers) {
				break
			}
			value := string(headers[offset : offset+valueLen])
			offset += valueLen
			if name == ":event-type" {
				return value
			}
			continue
		}

		skip := 0
		switch valueType {
		case 0, 1:
			skip = 0
		case 2:
			skip = 1
		case 3:
			skip = 2
		case 4:
			skip = 4
		case 5, 8:
			skip = 8
		case 9:
			skip = 16
		case 6:
			if offset+2 > len(headers) {
				return ""
			}
			l := int(binary.BigEndian.Uint16(headers[offset : offset+2]))
			offset += 2
			skip = l
		default:
			return ""
		}
		offset += skip
	}
	return ""
}

func stringField(m map[string]any, wrapper, field string, alsoTopLevel bool) (string, bool) {
	if w, ok := m[wrapper].(map[string]any); ok {
		if v, ok := w[field].(string); ok {
			return v, true
		}
	}
	if alsoTopLevel {
		if v, ok := m[field].(string); ok {
			return v, true
		}
	}
	return "", false
}

func numField(m map[string]any, field string) (int64, bool) {
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	return asInt64(v), v != nil
}

func floatField(m map[string]any, field string) (float64, bool) {
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0
		}
		return int64(n)
	case string:
		var i int64
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i
		}
	}
	return 0
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
