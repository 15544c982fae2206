// Package dialect translates between the two client-facing API shapes
// (OpenAI chat-completions, Anthropic messages) and a vendor-agnostic
// normalized request/event representation, per spec §4.5. Vendor codecs
// (internal/upstream/vendora, internal/upstream/vendork) consume the
// normalized request and produce a stream of UpstreamEvent values that this
// package renders back into dialect-shaped responses.
package dialect

import "encoding/json"

// --- OpenAI wire shapes ---

type OpenAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type OpenAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
}

type OpenAIImagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// --- Anthropic wire shapes ---

type AnthropicContentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Source  *AnthropicImage `json:"source,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	ToolUse string          `json:"tool_use_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type AnthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []AnthropicContentBlock
}

type AnthropicMessagesRequest struct {
	Model     string             `json:"model"`
	System    json.RawMessage    `json:"system,omitempty"` // string or []block
	Messages  []AnthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Tools     []AnthropicTool    `json:"tools,omitempty"`
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// --- Normalized intermediate representation ---

// ImagePart is a decoded inline image, ready for a vendor codec to embed.
type ImagePart struct {
	Format string // e.g. "png", "jpeg"
	Bytes  []byte
}

// ToolUse is an assistant-issued tool call with already-parsed arguments.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is a tool-role message result keyed by the originating call id.
type ToolResult struct {
	ToolUseID string
	Content   string
}

// ToolSpec is a tool definition offered to the upstream model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// NormalizedMessage is one turn of conversation history in vendor-agnostic
// shape, after dialect-specific content blocks have been flattened.
type NormalizedMessage struct {
	Role        string // "user" | "assistant" | "tool"
	Text        string
	Images      []ImagePart
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// NormalizedRequest is the vendor-agnostic shape both client dialects are
// translated into before a vendor codec renders its own wire request.
type NormalizedRequest struct {
	Model        string
	RequestedModel string // model as the client asked for it, before mapping
	System       string
	History      []NormalizedMessage // all turns except CurrentMessage
	CurrentMessage NormalizedMessage
	Tools        []ToolSpec
	Stream       bool
	MaxTokens    int
	Temperature  float64
	TopP         float64
	DisableTools bool
}
