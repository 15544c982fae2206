package vendork

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gwerr"
)

// CallGenerateAssistantResponse posts a built request body to one Vendor-K
// endpoint and streams the AWS-EventStream response, invoking onMessage for
// each decoded event. Mirrors kiro_api.rs's
// call_generate_assistant_response_stream.
func CallGenerateAssistantResponse(
	ctx context.Context,
	httpClient *http.Client,
	endpoint Endpoint,
	acct *account.Account,
	body []byte,
	inputChars int,
	onMessage func(dialect.UpstreamEvent),
) (dialect.Usage, error) {
	body, err := ApplyEndpointOrigin(body, endpoint)
	if err != nil {
		return dialect.Usage{}, fmt.Errorf("rewrite endpoint origin: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return dialect.Usage{}, fmt.Errorf("build vendor-k request: %w", err)
	}
	for k, v := range CommonHeaders(endpoint, acct.AccessToken, acct.LoginProvider, acct.MachineID) {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return dialect.Usage{}, fmt.Errorf("vendor-k request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(resp.StatusCode, string(respBody)))
	}

	return ParseEventStream(resp.Body, inputChars, onMessage)
}

// ProxyModel is a model entry returned by the Vendor-K ListAvailableModels
// endpoint.
type ProxyModel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// ListAvailableModels queries the account's region-specific Q endpoint for
// its catalog of callable models.
func ListAvailableModels(ctx context.Context, httpClient *http.Client, acct *account.Account) ([]ProxyModel, error) {
	endpoint := QServiceEndpoint(acct.ProfileID) + "/ListAvailableModels"
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ListAvailableModels url: %w", err)
	}
	q := u.Query()
	q.Set("origin", "AI_EDITOR")
	q.Set("maxResults", "100")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build ListAvailableModels request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ListAvailableModels request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ListAvailableModels response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(resp.StatusCode, string(respBody)))
	}

	var parsed struct {
		Models []struct {
			ModelID     string `json:"modelId"`
			ID          string `json:"id"`
			ModelName   string `json:"modelName"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode ListAvailableModels response: %w", err)
	}

	models := make([]ProxyModel, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		id := m.ModelID
		if id == "" {
			id = m.ID
		}
		if id == "" {
			continue
		}
		name := m.ModelName
		if name == "" {
			name = m.Name
		}
		if name == "" {
			name = id
		}
		models = append(models, ProxyModel{ID: id, Name: name, Description: m.Description, Source: "kiro-api"})
	}
	return models, nil
}
