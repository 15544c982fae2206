package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/dialect"
	"github.com/mira-ai/antigravity-gateway/internal/gwerr"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	authd := s.authenticate

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /api/event_logging/batch", s.handleEventLoggingSink)

	mux.Handle("GET /v1/models", authd(http.HandlerFunc(s.handleModels)))
	mux.Handle("POST /v1/chat/completions", authd(http.HandlerFunc(s.handleChatCompletions)))
	mux.Handle("POST /v1/messages", authd(http.HandlerFunc(s.handleMessages)))
	mux.Handle("POST /v1/messages/count_tokens", authd(http.HandlerFunc(s.handleCountTokens)))

	mux.Handle("GET /admin/stats", authd(http.HandlerFunc(s.handleAdminStats)))
	mux.Handle("GET /admin/accounts", authd(http.HandlerFunc(s.handleAdminAccounts)))
	mux.Handle("GET /admin/logs", authd(http.HandlerFunc(s.handleAdminLogs)))
	mux.Handle("GET /admin/config", authd(http.HandlerFunc(s.handleAdminGetConfig)))
	mux.Handle("POST /admin/config", authd(http.HandlerFunc(s.handleAdminPostConfig)))
	mux.Handle("POST /admin/oauth/session", authd(http.HandlerFunc(s.handleCreateOAuthSession)))
	mux.Handle("GET /admin/oauth/session/{id}", authd(http.HandlerFunc(s.handleRedeemOAuthSession)))
}

// authenticate wraps h with the API-Key Registry's bearer auth (spec §4.8).
// Health is always exempt; everything wired through this wrapper is not.
func (s *Server) authenticate(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := bearerToken(r)
		result, ok := s.Facade.APIKeys.Authenticate(presented)
		if !ok || !result.Authenticated {
			status := http.StatusUnauthorized
			msg := "authentication failed"
			errType := "authentication_error"
			if ok && result.CreditsCapped {
				msg = "Credits limit exceeded"
				status = http.StatusTooManyRequests
				errType = "rate_limit_error"
			}
			writeError(w, r, status, errType, msg)
			return
		}
		r = r.WithContext(withAPIKeyID(r.Context(), result.KeyID))
		h.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && h[:len(prefix)] == prefix {
			return h[len(prefix):]
		}
		return h
	}
	return r.Header.Get("X-Api-Key")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    fmt.Sprintf("antigravity-gateway (%s)", s.Vendor),
		"version": s.Version,
	})
}

func (s *Server) handleEventLoggingSink(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success":true}`))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if err := s.Facade.Pool.Sync(); err != nil {
		slog.Warn("pool sync before model refresh failed", "error", err)
	}
	pa := s.Facade.Pool.Next("")
	if pa == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no_account", "no usable account configured")
		return
	}
	models, err := s.Facade.RefreshModels(r.Context(), pa.Account)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "api_error", err.Error())
		return
	}
	data := make([]map[string]any, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]any{"id": m.ID, "object": "model", "owned_by": m.Source})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var wire dialect.OpenAIChatRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}

	req, err := dialect.FromOpenAI(wire, time.Now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	req.DisableTools = s.Facade.Config().DisableTools
	apiKeyID := apiKeyIDFrom(r.Context())

	if req.Stream {
		s.streamOpenAI(w, r, req, apiKeyID)
		return
	}

	var events []dialect.UpstreamEvent
	usage, err := s.Facade.Dispatch(r.Context(), req, apiKeyID, r.URL.Path, func(ev dialect.UpstreamEvent) {
		events = append(events, ev)
	})
	if err != nil {
		writeUpstreamError(w, r, err, false)
		return
	}
	resp := dialect.BuildOpenAIResponse(events, usage, req.Model, s.Facade.Config().ThinkingFormat)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) streamOpenAI(w http.ResponseWriter, r *http.Request, req dialect.NormalizedRequest, apiKeyID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := dialect.NewOpenAIStreamEncoder(req.Model, s.Facade.Config().ThinkingFormat)
	writeSSE(w, flusher, enc.Start())

	usage, err := s.Facade.Dispatch(r.Context(), req, apiKeyID, r.URL.Path, func(ev dialect.UpstreamEvent) {
		for _, chunk := range enc.Encode(ev) {
			writeSSE(w, flusher, chunk)
		}
	})
	if err != nil {
		status, _, message := classifyErr(err)
		fmt.Fprintf(w, "data: %s\n\n", gwerr.OpenAIJSON(status, message))
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}
	for _, chunk := range enc.Finish(usage) {
		writeSSE(w, flusher, chunk)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload []byte) {
	fmt.Fprint(w, dialect.FormatSSE(payload))
	flusher.Flush()
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var wire dialect.AnthropicMessagesRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}

	req, err := dialect.FromAnthropic(wire, time.Now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	req.DisableTools = s.Facade.Config().DisableTools
	apiKeyID := apiKeyIDFrom(r.Context())

	if req.Stream {
		s.streamAnthropic(w, r, req, apiKeyID)
		return
	}

	var events []dialect.UpstreamEvent
	usage, err := s.Facade.Dispatch(r.Context(), req, apiKeyID, r.URL.Path, func(ev dialect.UpstreamEvent) {
		events = append(events, ev)
	})
	if err != nil {
		writeUpstreamError(w, r, err, true)
		return
	}
	resp := dialect.BuildAnthropicResponse(events, usage, req.Model, s.Facade.Config().ThinkingFormat)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) streamAnthropic(w http.ResponseWriter, r *http.Request, req dialect.NormalizedRequest, apiKeyID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := dialect.NewAnthropicStreamEncoder(req.Model, s.Facade.Config().ThinkingFormat)
	for _, line := range enc.Start() {
		fmt.Fprint(w, line)
	}
	flusher.Flush()

	usage, err := s.Facade.Dispatch(r.Context(), req, apiKeyID, r.URL.Path, func(ev dialect.UpstreamEvent) {
		for _, line := range enc.Encode(ev) {
			fmt.Fprint(w, line)
		}
		flusher.Flush()
	})
	if err != nil {
		_, errType, message := classifyErr(err)
		for _, line := range enc.Error(errType, message) {
			fmt.Fprint(w, line)
		}
		flusher.Flush()
		return
	}
	for _, line := range enc.Finish(usage) {
		fmt.Fprint(w, line)
	}
	flusher.Flush()
}

// handleCountTokens approximates token count as chars/4 rounded up, per
// spec §4.10 ("/v1/messages/count_tokens approximation").
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var wire dialect.AnthropicMessagesRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	req, err := dialect.FromAnthropic(wire, time.Now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	chars := len(req.System) + len(req.CurrentMessage.Text)
	for _, m := range req.History {
		chars += len(m.Text)
	}
	tokens := (chars + 3) / 4

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"input_tokens": tokens})
}

func classifyErr(err error) (status int, errType, message string) {
	if code, body, ok := parseUpstreamStatusError(err); ok {
		status, errType, message = gwerr.Sanitize(code, []byte(body))
		return
	}
	return http.StatusBadGateway, "api_error", err.Error()
}

func parseUpstreamStatusError(err error) (int, string, bool) {
	return gwerr.ParseUpstreamStatus(err.Error())
}

func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error, anthropic bool) {
	status, errType, message := classifyErr(err)
	if anthropic {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(gwerr.AnthropicJSON(errType, message))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(gwerr.OpenAIJSON(status, message))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(gwerr.OpenAIJSON(status, message))
}

func parseLimitParam(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
