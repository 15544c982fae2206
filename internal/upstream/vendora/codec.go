// Package vendora implements the Upstream Codec for Vendor-A: JSON request
// bodies against Google's Cloud Code backend and an SSE or single-JSON
// response, ported from
// original_source/src-tauri/src/modules/antigravity_proxy/{api,translator}.rs.
package vendora

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
)

const (
	cloudCodeDailyBaseURL = "https://daily-cloudcode-pa.googleapis.com"
	cloudCodeProdBaseURL  = "https://cloudcode-pa.googleapis.com"
	fetchModelsPath       = "/v1internal:fetchAvailableModels"
	generatePath          = "/v1internal:generateContent"
	streamPath            = "/v1internal:streamGenerateContent?alt=sse"
	userAgent             = "antigravity"
)

// ResolveBaseURL picks the Cloud Code host for an account, honoring the
// ANTIGRAVITY_CLOUD_CODE_URL_OVERRIDE escape hatch and the account's
// IsGCPToS flag (spec §4.4 "Vendor-A base URL selection").
func ResolveBaseURL(isGCPToS bool, override string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	if isGCPToS {
		return cloudCodeProdBaseURL
	}
	return cloudCodeDailyBaseURL
}

func GenerateURL(baseURL string) string { return baseURL + generatePath }
func StreamURL(baseURL string) string   { return baseURL + streamPath }
func FetchModelsURL(baseURL string) string { return baseURL + fetchModelsPath }

// sanitizeProjectID drops placeholder/empty project identifiers, matching
// translator.rs's sanitize_project_id.
func sanitizeProjectID(projectID string) string {
	raw := strings.TrimSpace(projectID)
	if raw == "" || raw == "projects" || raw == "projects/" {
		return ""
	}
	if strings.HasPrefix(raw, "projects/") && strings.HasSuffix(raw, "/") {
		return ""
	}
	return raw
}

// BuildRequest renders a NormalizedRequest into the Vendor-A
// generateContent/streamGenerateContent JSON body. Unlike the text-only
// original, this renders images as inlineData parts and tool calls/results
// as functionCall/functionResponse parts, matching the wider Gemini content
// schema Cloud Code is built on.
func BuildRequest(req dialect.NormalizedRequest, projectID, sessionID string) ([]byte, error) {
	var contents []map[string]any
	for _, msg := range req.History {
		contents = append(contents, renderContent(msg))
	}
	contents = append(contents, renderContent(req.CurrentMessage))

	generationConfig := map[string]any{}
	if req.Temperature != 0 {
		generationConfig["temperature"] = req.Temperature
	}
	if req.TopP != 0 {
		generationConfig["topP"] = req.TopP
	}
	if req.MaxTokens != 0 {
		generationConfig["maxOutputTokens"] = req.MaxTokens
	}

	if sessionID == "" {
		sessionID = "desktop-proxy"
	}

	innerRequest := map[string]any{
		"contents":         contents,
		"generationConfig": generationConfig,
		"sessionId":        sessionID,
	}
	if tools := renderTools(req.Tools, req.DisableTools); tools != nil {
		innerRequest["tools"] = tools
	}

	body := map[string]any{
		"requestId":   "req_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		"model":       req.Model,
		"userAgent":   userAgent,
		"requestType": "agent",
		"request":     innerRequest,
	}
	if project := sanitizeProjectID(projectID); project != "" {
		body["project"] = project
	}

	return json.Marshal(body)
}

func renderContent(msg dialect.NormalizedMessage) map[string]any {
	role := "user"
	if msg.Role == "assistant" {
		role = "model"
	}

	var parts []map[string]any
	if msg.Text != "" {
		parts = append(parts, map[string]any{"text": msg.Text})
	}
	for _, img := range msg.Images {
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": "image/" + img.Format,
				"data":     string(img.Bytes),
			},
		})
	}
	for _, tu := range msg.ToolUses {
		var args any
		_ = json.Unmarshal(tu.Input, &args)
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{"name": tu.Name, "args": args},
		})
	}
	for _, tr := range msg.ToolResults {
		parts = append(parts, map[string]any{
			"functionResponse": map[string]any{
				"name":     tr.ToolUseID,
				"response": map[string]any{"result": tr.Content},
			},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	return map[string]any{"role": role, "parts": parts}
}

func renderTools(tools []dialect.ToolSpec, disableTools bool) []map[string]any {
	if disableTools || len(tools) == 0 {
		return nil
	}
	declarations := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		var schema any
		_ = json.Unmarshal(t.InputSchema, &schema)
		declarations = append(declarations, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  schema,
		})
	}
	return []map[string]any{{"functionDeclarations": declarations}}
}
