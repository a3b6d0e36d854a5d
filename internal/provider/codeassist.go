package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

const (
	codeAssistDefaultBase = "https://cloudcode-pa.googleapis.com"

	// antigravitySystemText is prepended by the Antigravity frontend; the
	// backend rejects requests without it on that provider.
	antigravitySystemText = "You are an AI coding assistant running inside the Antigravity IDE."
	antigravityUserAgent  = "antigravity/1.0.0"
)

// codeAssistAdapter speaks the Cloud Code Assist internal API used by the
// gemini-cli and antigravity OAuth providers. The materialised key is either
// a bare access token or the {token, projectId} envelope.
type codeAssistAdapter struct {
	httpClient *http.Client
}

type codeAssistKey struct {
	Token     string `json:"token"`
	ProjectID string `json:"projectId"`
}

func parseCodeAssistKey(apiKey string) codeAssistKey {
	var key codeAssistKey
	if err := json.Unmarshal([]byte(apiKey), &key); err == nil && key.Token != "" {
		return key
	}
	return codeAssistKey{Token: apiKey}
}

func (a *codeAssistAdapter) Stream(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request) <-chan chat.StreamEvent {
	ch := make(chan chat.StreamEvent, 16)
	go func() {
		defer close(ch)
		a.run(ctx, model, opts, req, ch)
	}()
	return ch
}

func (a *codeAssistAdapter) run(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request, ch chan<- chat.StreamEvent) {
	key := parseCodeAssistKey(opts.APIKey)

	inner := req
	if model.Provider == "antigravity" {
		withSystem := *req
		if withSystem.SystemPrompt == "" {
			withSystem.SystemPrompt = antigravitySystemText
		} else {
			withSystem.SystemPrompt = antigravitySystemText + "\n\n" + withSystem.SystemPrompt
		}
		inner = &withSystem
	}

	genReq, err := buildGenAIRequest(model, inner)
	if err != nil {
		emitError(ctx, ch, err)
		return
	}
	envelope := map[string]any{
		"project":   key.ProjectID,
		"model":     model.ID,
		"request":   genReq,
		"requestId": uuid.NewString(),
	}
	if model.Provider == "antigravity" {
		envelope["userAgent"] = antigravityUserAgent
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to marshal request: %w", err))
		return
	}

	base := codeAssistDefaultBase
	if opts.BaseURL != "" {
		base = opts.BaseURL
	} else if model.BaseURL != "" {
		base = model.BaseURL
	}
	url := fmt.Sprintf("%s/v1internal:streamGenerateContent?alt=sse", base)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to create request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key.Token)
	if model.Provider == "antigravity" {
		httpReq.Header.Set("User-Agent", antigravityUserAgent)
	}
	for k, v := range model.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("request failed: %w", err))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		emitError(ctx, ch, NewError(resp.StatusCode, string(respBody), resp.Header))
		return
	}

	if !emit(ctx, ch, chat.StreamEvent{Type: chat.EventStart}) {
		return
	}

	acc := newAccumulator(model.ID, model.Provider)
	errScan := scanSSE(resp.Body, func(data []byte) bool {
		root := gjson.ParseBytes(data)
		// Chunks arrive wrapped in a response envelope.
		if wrapped := root.Get("response"); wrapped.Exists() {
			root = wrapped
		}
		return handleGenAIChunk(ctx, ch, acc, root)
	})
	if errScan != nil {
		emitError(ctx, ch, fmt.Errorf("stream read failed: %w", errScan))
		return
	}

	acc.endOpenTools(ctx, ch)
	acc.finish(ctx, ch)
}
