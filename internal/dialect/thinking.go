package dialect

import "fmt"

// ThinkingFormat controls how Thinking events are rendered to the client
// (spec §4.5 "Thinking rendering").
type ThinkingFormat string

const (
	ThinkingAsReasoningContent ThinkingFormat = "reasoning_content"
	ThinkingAsThinkingTag      ThinkingFormat = "thinking"
	ThinkingAsThinkTag         ThinkingFormat = "think"
)

func wrapThinkingText(format ThinkingFormat, text string) string {
	switch format {
	case ThinkingAsThinkingTag:
		return fmt.Sprintf("<thinking>%s</thinking>", text)
	case ThinkingAsThinkTag:
		return fmt.Sprintf("<think>%s</think>", text)
	default:
		return text
	}
}
