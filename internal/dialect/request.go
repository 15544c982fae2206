package dialect

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// contextWrap matches spec §4.5: the concatenated system prompt is prepended
// to the final (current) message only, with the current time for grounding.
func contextWrap(system, content string, now time.Time) string {
	if system == "" {
		return content
	}
	return fmt.Sprintf("[Context: Current time is %s]\n\n%s\n\n%s", now.Format(time.RFC3339), system, content)
}

// syntheticHello is prepended when the translated history does not begin
// with a user turn, because both upstreams require user-first history.
const syntheticHello = "Hello"

// --- OpenAI → NormalizedRequest ---

// FromOpenAI converts a client OpenAI chat-completions request into the
// vendor-agnostic normalized shape.
func FromOpenAI(req OpenAIChatRequest, now time.Time) (NormalizedRequest, error) {
	var systemParts []string
	var turns []NormalizedMessage

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			text, _, _, err := extractOpenAIContent(m.Content)
			if err != nil {
				return NormalizedRequest{}, fmt.Errorf("translation: system message: %w", err)
			}
			if text != "" {
				systemParts = append(systemParts, text)
			}
		case "tool":
			turns = append(turns, NormalizedMessage{
				Role:        "tool",
				ToolResults: []ToolResult{{ToolUseID: m.ToolCallID, Content: rawContentAsString(m.Content)}},
			})
		default:
			text, images, _, err := extractOpenAIContent(m.Content)
			if err != nil {
				return NormalizedRequest{}, fmt.Errorf("translation: message content: %w", err)
			}
			nm := NormalizedMessage{Role: m.Role, Text: text, Images: images}
			for _, tc := range m.ToolCalls {
				nm.ToolUses = append(nm.ToolUses, ToolUse{
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(orEmptyObject(tc.Function.Arguments)),
				})
			}
			turns = append(turns, nm)
		}
	}

	turns = sanitizeHistory(turns)

	current, history := splitCurrentMessage(turns)
	current.Text = contextWrap(strings.Join(systemParts, "\n\n"), current.Text, now)

	var tools []ToolSpec
	for _, t := range req.Tools {
		tools = append(tools, ToolSpec{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}

	return NormalizedRequest{
		Model:          req.Model,
		RequestedModel: req.Model,
		System:         strings.Join(systemParts, "\n\n"),
		History:        history,
		CurrentMessage: current,
		Tools:          tools,
		Stream:         req.Stream,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
	}, nil
}

// extractOpenAIContent handles both the plain-string and the
// array-of-content-parts shapes OpenAI allows for `content`.
func extractOpenAIContent(raw json.RawMessage) (text string, images []ImagePart, hasContent bool, err error) {
	if len(raw) == 0 {
		return "", nil, false, nil
	}

	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString, nil, asString != "", nil
	}

	var parts []OpenAIImagePart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil, false, err
	}

	var texts []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image_url":
			if img, ok := parseDataURLImage(p.ImageURL.URL); ok {
				images = append(images, img)
			}
		}
	}
	return strings.Join(texts, "\n"), images, len(texts) > 0 || len(images) > 0, nil
}

func rawContentAsString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// parseDataURLImage decodes a "data:<mime>;base64,<data>" URL into an
// ImagePart, matching original_source's parse_data_url_image.
func parseDataURLImage(url string) (ImagePart, bool) {
	if !strings.HasPrefix(url, "data:") {
		return ImagePart{}, false
	}
	comma := strings.IndexByte(url, ',')
	if comma < 0 {
		return ImagePart{}, false
	}
	meta := url[len("data:"):comma]
	data := url[comma+1:]

	semicolon := strings.IndexByte(meta, ';')
	mime := meta
	if semicolon >= 0 {
		mime = meta[:semicolon]
	}
	format := mime
	if slash := strings.IndexByte(mime, '/'); slash >= 0 {
		format = mime[slash+1:]
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return ImagePart{}, false
	}
	return ImagePart{Format: format, Bytes: decoded}, true
}

// --- Anthropic → NormalizedRequest ---

// FromAnthropic converts a client Anthropic messages request into the
// vendor-agnostic normalized shape.
func FromAnthropic(req AnthropicMessagesRequest, now time.Time) (NormalizedRequest, error) {
	system := extractAnthropicSystem(req.System)

	var turns []NormalizedMessage
	for _, m := range req.Messages {
		nm, err := extractAnthropicMessage(m)
		if err != nil {
			return NormalizedRequest{}, fmt.Errorf("translation: %w", err)
		}
		turns = append(turns, nm)
	}

	turns = sanitizeHistory(turns)
	current, history := splitCurrentMessage(turns)
	current.Text = contextWrap(system, current.Text, now)

	var tools []ToolSpec
	for _, t := range req.Tools {
		tools = append(tools, ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return NormalizedRequest{
		Model:          req.Model,
		RequestedModel: req.Model,
		System:         system,
		History:        history,
		CurrentMessage: current,
		Tools:          tools,
		Stream:         req.Stream,
		MaxTokens:      req.MaxTokens,
	}, nil
}

func extractAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []AnthropicContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	return ""
}

func extractAnthropicMessage(m AnthropicMessage) (NormalizedMessage, error) {
	nm := NormalizedMessage{Role: m.Role}

	var asString string
	if json.Unmarshal(m.Content, &asString) == nil {
		nm.Text = asString
		return nm, nil
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nm, err
	}

	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			texts = append(texts, b.Text)
		case "image":
			if b.Source != nil {
				data, err := base64.StdEncoding.DecodeString(b.Source.Data)
				if err == nil {
					format := b.Source.MediaType
					if slash := strings.IndexByte(format, '/'); slash >= 0 {
						format = format[slash+1:]
					}
					nm.Images = append(nm.Images, ImagePart{Format: format, Bytes: data})
				}
			}
		case "tool_use":
			nm.ToolUses = append(nm.ToolUses, ToolUse{ID: b.ID, Name: b.Name, Input: json.RawMessage(orEmptyObject(string(b.Input)))})
		case "tool_result":
			nm.ToolResults = append(nm.ToolResults, ToolResult{ToolUseID: b.ToolUse, Content: contentBlockToString(b.Content)})
		}
	}
	nm.Text = strings.Join(texts, "\n")
	return nm, nil
}

func contentBlockToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []AnthropicContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// --- shared helpers ---

func sanitizeHistory(turns []NormalizedMessage) []NormalizedMessage {
	if len(turns) == 0 || turns[0].Role == "user" {
		return turns
	}
	hello := NormalizedMessage{Role: "user", Text: syntheticHello}
	return append([]NormalizedMessage{hello}, turns...)
}

// splitCurrentMessage pulls the last user-authored turn out as the
// "current message" (spec §4.5: "only the last user message becomes
// currentMessage"); everything else remains history in order.
func splitCurrentMessage(turns []NormalizedMessage) (current NormalizedMessage, history []NormalizedMessage) {
	if len(turns) == 0 {
		return NormalizedMessage{Role: "user", Text: syntheticHello}, nil
	}

	lastUser := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		return turns[len(turns)-1], turns[:len(turns)-1]
	}
	history = append(history, turns[:lastUser]...)
	history = append(history, turns[lastUser+1:]...)
	return turns[lastUser], history
}

func orEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}
