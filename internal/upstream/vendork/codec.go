package vendork

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

const kiroVersion = "0.6.18"

// Endpoint is one of the two upstream AWS services a Vendor-K account can be
// routed through, ported from kiro_api.rs's ENDPOINT_CODEWHISPERER /
// ENDPOINT_AMAZONQ constants.
type Endpoint struct {
	URL       string
	Origin    string
	AmzTarget string
}

var EndpointCodeWhisperer = Endpoint{
	URL:       "https://codewhisperer.us-east-1.amazonaws.com/generateAssistantResponse",
	Origin:    "AI_EDITOR",
	AmzTarget: "AmazonCodeWhispererStreamingService.GenerateAssistantResponse",
}

var EndpointAmazonQ = Endpoint{
	URL:       "https://q.us-east-1.amazonaws.com/generateAssistantResponse",
	Origin:    "CLI",
	AmzTarget: "AmazonQDeveloperStreamingService.SendMessage",
}

// OrderedEndpoints returns the two endpoints with the preferred one first,
// matching the login-provider-dependent swap in kiro_api.rs.
func OrderedEndpoints(preferredEndpoint string) []Endpoint {
	list := []Endpoint{EndpointCodeWhisperer, EndpointAmazonQ}
	if strings.Contains(strings.ToLower(preferredEndpoint), "amazonq") {
		list[0], list[1] = list[1], list[0]
	}
	return list
}

// ParseProfileRegion extracts the AWS region from a profile ARN
// ("arn:aws:codewhisperer:eu-central-1:...") with us-east-1 as the
// fallback for any ARN shape it doesn't recognize.
func ParseProfileRegion(profileARN string) string {
	if profileARN == "" {
		return "us-east-1"
	}
	segments := strings.Split(profileARN, ":")
	if len(segments) < 4 || !strings.EqualFold(segments[0], "arn") {
		return "us-east-1"
	}
	switch strings.TrimSpace(segments[3]) {
	case "eu-central-1":
		return "eu-central-1"
	default:
		return "us-east-1"
	}
}

// QServiceEndpoint builds the ListAvailableModels base URL for an account's
// resolved region.
func QServiceEndpoint(profileARN string) string {
	return "https://q." + ParseProfileRegion(profileARN) + ".amazonaws.com"
}

var modelIDMappings = []struct{ substr, mapped string }{
	{"claude-sonnet-4.5", "claude-sonnet-4.5"},
	{"claude-sonnet-4-5", "claude-sonnet-4.5"},
	{"claude-sonnet-4", "claude-sonnet-4"},
	{"claude-haiku-4.5", "claude-haiku-4.5"},
	{"claude-haiku-4-5", "claude-haiku-4.5"},
	{"claude-3-5-sonnet", "claude-sonnet-4.5"},
	{"claude-3-sonnet", "claude-sonnet-4"},
	{"claude-3-haiku", "claude-haiku-4.5"},
	{"gpt-4", "claude-sonnet-4.5"},
	{"gpt-4o", "claude-sonnet-4.5"},
	{"gpt-3.5-turbo", "claude-sonnet-4.5"},
}

// MapModelID maps a client-requested model name onto the closest Vendor-K
// model identifier by substring match, defaulting to Sonnet 4.5.
func MapModelID(model string) string {
	lower := strings.ToLower(model)
	for _, m := range modelIDMappings {
		if strings.Contains(lower, m.substr) {
			return m.mapped
		}
	}
	return "claude-sonnet-4.5"
}

func socialUserAgent(machineID string) string {
	suffix := "KiroIDE-" + kiroVersion
	if strings.TrimSpace(machineID) != "" {
		suffix = "KiroIDE-" + kiroVersion + "-" + strings.TrimSpace(machineID)
	}
	return "aws-sdk-js/1.0.18 ua/2.1 os/windows lang/js api/codewhispererstreaming/1.0.18 m/E " + suffix
}

func socialAmzUserAgent(machineID string) string {
	if strings.TrimSpace(machineID) != "" {
		return "aws-sdk-js/1.0.18 KiroIDE " + kiroVersion + " " + strings.TrimSpace(machineID)
	}
	return "aws-sdk-js/1.0.18 KiroIDE-" + kiroVersion
}

const cliUserAgent = "aws-sdk-rust/1.3.9 os/macos lang/rust/1.87.0"
const cliAmzUserAgent = "aws-sdk-rust/1.3.9 ua/2.1 api/ssooidc/1.88.0 os/macos lang/rust/1.87.0 m/E app/AmazonQ-For-CLI"

// IsIDC reports whether the account authenticated through an AWS IAM
// Identity Center login provider, which uses the CLI-flavored headers
// instead of the social (browser) ones.
func IsIDC(loginProvider string) bool {
	return strings.Contains(strings.ToLower(loginProvider), "idc")
}

// CommonHeaders builds the header set required on every Vendor-K call,
// ported from kiro_api.rs's with_common_headers.
func CommonHeaders(endpoint Endpoint, accessToken, loginProvider, machineID string) map[string]string {
	idc := IsIDC(loginProvider)
	userAgent := socialUserAgent(machineID)
	amzUserAgent := socialAmzUserAgent(machineID)
	agentMode := "spec"
	if idc {
		userAgent = cliUserAgent
		amzUserAgent = cliAmzUserAgent
		agentMode = "vibe"
	}
	return map[string]string{
		"Accept":                       "*/*",
		"Content-Type":                 "application/json",
		"X-Amz-Target":                 endpoint.AmzTarget,
		"User-Agent":                   userAgent,
		"X-Amz-User-Agent":             amzUserAgent,
		"x-amzn-kiro-agent-mode":       agentMode,
		"x-amzn-codewhisperer-optout":  "true",
		"Amz-Sdk-Request":              "attempt=1; max=3",
		"Authorization":                "Bearer " + accessToken,
	}
}

// BuildRequest renders a NormalizedRequest into the Vendor-K
// conversationState JSON body.
func BuildRequest(req dialect.NormalizedRequest, profileARN string) ([]byte, error) {
	modelID := MapModelID(req.Model)
	const origin = "AI_EDITOR"

	var history []map[string]any
	for _, msg := range req.History {
		switch msg.Role {
		case "user":
			entry := map[string]any{
				"content": orContinue(msg.Text),
				"modelId": modelID,
				"origin":  origin,
			}
			if images := renderImages(msg.Images); images != nil {
				entry["images"] = images
			}
			history = append(history, map[string]any{"userInputMessage": entry})
		case "assistant":
			content := strings.TrimSpace(msg.Text)
			if content == "" {
				content = "I understand."
			}
			entry := map[string]any{"content": content}
			if toolUses := renderToolUses(msg.ToolUses); toolUses != nil {
				entry["toolUses"] = toolUses
			}
			history = append(history, map[string]any{"assistantResponseMessage": entry})
		}
	}
	history = sanitizeHistory(history)

	userContext := map[string]any{}
	if tools := renderTools(req.Tools, req.DisableTools); tools != nil {
		userContext["tools"] = tools
	}
	if results := renderToolResults(req.CurrentMessage.ToolResults); results != nil {
		userContext["toolResults"] = results
	}

	currentMessage := map[string]any{
		"content": orContinueDot(req.CurrentMessage.Text),
		"modelId": modelID,
		"origin":  origin,
	}
	if images := renderImages(req.CurrentMessage.Images); images != nil {
		currentMessage["images"] = images
	}
	if len(userContext) > 0 {
		currentMessage["userInputMessageContext"] = userContext
	}

	conversationState := map[string]any{
		"chatTriggerType": "MANUAL",
		"conversationId":  uuid.NewString(),
		"currentMessage": map[string]any{
			"userInputMessage": currentMessage,
		},
	}
	if len(history) > 0 {
		conversationState["history"] = history
	}

	body := map[string]any{
		"conversationState": conversationState,
		"inferenceConfig": map[string]any{
			"maxTokens":   req.MaxTokens,
			"temperature": req.Temperature,
			"topP":        req.TopP,
		},
	}
	if profileARN != "" {
		body["profileArn"] = profileARN
	}

	return json.Marshal(body)
}

// ApplyEndpointOrigin rewrites the currentMessage's userInputMessage.origin
// field in-place for the endpoint actually being attempted, since the two
// Vendor-K endpoints expect different origin tags.
func ApplyEndpointOrigin(body []byte, endpoint Endpoint) ([]byte, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if cs, ok := parsed["conversationState"].(map[string]any); ok {
		if cm, ok := cs["currentMessage"].(map[string]any); ok {
			if uim, ok := cm["userInputMessage"].(map[string]any); ok {
				uim["origin"] = endpoint.Origin
			}
		}
	}
	return json.Marshal(parsed)
}

func orContinue(text string) string {
	if strings.TrimSpace(text) == "" {
		return "Continue"
	}
	return strings.TrimSpace(text)
}

func orContinueDot(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "Continue."
	}
	return trimmed
}

func renderImages(images []dialect.ImagePart) []map[string]any {
	if len(images) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(images))
	for _, img := range images {
		out = append(out, map[string]any{
			"format": img.Format,
			"source": map[string]any{"bytes": string(img.Bytes)},
		})
	}
	return out
}

func renderToolUses(toolUses []dialect.ToolUse) []map[string]any {
	if len(toolUses) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(toolUses))
	for _, tu := range toolUses {
		var input any
		if json.Unmarshal(tu.Input, &input) != nil {
			input = map[string]any{"_raw": string(tu.Input)}
		}
		out = append(out, map[string]any{
			"toolUseId": tu.ID,
			"name":      tu.Name,
			"input":     input,
		})
	}
	return out
}

func renderToolResults(results []dialect.ToolResult) []map[string]any {
	if len(results) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"toolUseId": r.ToolUseID,
			"status":    "success",
			"content":   []map[string]any{{"text": r.Content}},
		})
	}
	return out
}

func renderTools(tools []dialect.ToolSpec, disableTools bool) []map[string]any {
	if disableTools || len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		var schema any
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, map[string]any{
			"toolSpecification": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": map[string]any{"json": schema},
			},
		})
	}
	return out
}

// sanitizeHistory prepends a synthetic opening user turn when the first
// history entry isn't user-authored, matching translator.rs's
// sanitize_history (Vendor-K's own "Hello" turn requirement, separate from
// the dialect package's client-facing synthetic hello).
func sanitizeHistory(history []map[string]any) []map[string]any {
	if len(history) == 0 {
		return history
	}
	if _, ok := history[0]["userInputMessage"]; ok {
		return history
	}
	hello := map[string]any{"userInputMessage": map[string]any{
		"content": "Hello",
		"origin":  "AI_EDITOR",
	}}
	return append([]map[string]any{hello}, history...)
}
