package vendora

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gwerr"
)

func newRequest(ctx context.Context, acct *account.Account, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	return req, nil
}

// GenerateContent performs a single non-streaming call and returns the
// decoded events and usage.
func GenerateContent(ctx context.Context, httpClient *http.Client, acct *account.Account, baseURL string, body []byte) ([]dialect.UpstreamEvent, dialect.Usage, error) {
	req, err := newRequest(ctx, acct, GenerateURL(baseURL), body)
	if err != nil {
		return nil, dialect.Usage{}, fmt.Errorf("build vendor-a request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, dialect.Usage{}, fmt.Errorf("vendor-a request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dialect.Usage{}, fmt.Errorf("read vendor-a response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(resp.StatusCode, string(respBody)))
	}

	return ParseResponse(respBody)
}

// StreamGenerateContent performs a streaming call, invoking onMessage for
// each decoded event as its SSE line arrives.
func StreamGenerateContent(ctx context.Context, httpClient *http.Client, acct *account.Account, baseURL string, body []byte, onMessage func(dialect.UpstreamEvent)) (dialect.Usage, error) {
	req, err := newRequest(ctx, acct, StreamURL(baseURL), body)
	if err != nil {
		return dialect.Usage{}, fmt.Errorf("build vendor-a stream request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return dialect.Usage{}, fmt.Errorf("vendor-a stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return dialect.Usage{}, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(resp.StatusCode, string(respBody)))
	}

	var usage dialect.Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		events, lineUsage, ok := ParseStreamLine([]byte(payload))
		if !ok {
			continue
		}
		for _, ev := range events {
			onMessage(ev)
		}
		if lineUsage.InputTokens > 0 || lineUsage.OutputTokens > 0 {
			usage = lineUsage
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("read vendor-a stream: %w", err)
	}

	return usage, nil
}

// Model is a single entry from the Vendor-A fetchAvailableModels response.
type Model struct {
	ID          string
	Name        string
	Description string
	Source      string
}

// FetchModels lists the models callable by this account.
func FetchModels(ctx context.Context, httpClient *http.Client, acct *account.Account, baseURL, projectID string) ([]Model, error) {
	payload := map[string]any{}
	if project := sanitizeProjectID(projectID); project != "" {
		payload["project"] = project
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal fetchAvailableModels payload: %w", err)
	}

	req, err := newRequest(ctx, acct, FetchModelsURL(baseURL), body)
	if err != nil {
		return nil, fmt.Errorf("build fetchAvailableModels request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchAvailableModels request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fetchAvailableModels response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s", gwerr.FormatUpstreamStatus(resp.StatusCode, string(respBody)))
	}

	var parsed struct {
		Models map[string]struct {
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode fetchAvailableModels response: %w", err)
	}

	models := make([]Model, 0, len(parsed.Models))
	for id, meta := range parsed.Models {
		name := meta.DisplayName
		if name == "" {
			name = id
		}
		models = append(models, Model{ID: id, Name: name, Source: "antigravity-api"})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}
