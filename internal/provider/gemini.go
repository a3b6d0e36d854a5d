package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

// googleAIAdapter speaks the Generative Language API with API-key auth.
type googleAIAdapter struct {
	httpClient *http.Client
}

func (a *googleAIAdapter) Stream(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request) <-chan chat.StreamEvent {
	ch := make(chan chat.StreamEvent, 16)
	go func() {
		defer close(ch)
		a.run(ctx, model, opts, req, ch)
	}()
	return ch
}

func (a *googleAIAdapter) run(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request, ch chan<- chat.StreamEvent) {
	genReq, err := buildGenAIRequest(model, req)
	if err != nil {
		emitError(ctx, ch, err)
		return
	}
	body, err := json.Marshal(genReq)
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to marshal request: %w", err))
		return
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", baseURL(model, opts.BaseURL), model.ID, opts.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to create request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return handleGenAIChunk(ctx, ch, acc, gjson.ParseBytes(data))
	})
	if errScan != nil {
		emitError(ctx, ch, fmt.Errorf("stream read failed: %w", errScan))
		return
	}

	acc.endOpenTools(ctx, ch)
	acc.finish(ctx, ch)
}

// handleGenAIChunk consumes one streamGenerateContent envelope. Function
// calls arrive whole, so each produces its full start/delta/end sequence.
func handleGenAIChunk(ctx context.Context, ch chan<- chat.StreamEvent, acc *accumulator, root gjson.Result) bool {
	if usage := root.Get("usageMetadata"); usage.Exists() {
		acc.usage.InputTokens = usage.Get("promptTokenCount").Int()
		acc.usage.OutputTokens = usage.Get("candidatesTokenCount").Int() + usage.Get("thoughtsTokenCount").Int()
		acc.usage.CacheReadTokens = usage.Get("cachedContentTokenCount").Int()
	}

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return true
	}

	ok := true
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if call := part.Get("functionCall"); call.Exists() {
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			t := acc.startTool(ctx, ch, acc.nextIndex(), "", call.Get("name").String())
			acc.appendToolArgs(ctx, ch, t, args)
			acc.endTool(ctx, ch, t)
			return true
		}
		text := part.Get("text").String()
		if text == "" {
			return true
		}
		if part.Get("thought").Bool() {
			acc.thinking.WriteString(text)
			if sig := part.Get("thoughtSignature").String(); sig != "" {
				acc.signature = sig
			}
			ok = emit(ctx, ch, chat.StreamEvent{Type: chat.EventThinkingDelta, Text: text})
		} else {
			acc.text.WriteString(text)
			ok = emit(ctx, ch, chat.StreamEvent{Type: chat.EventTextDelta, Text: text})
		}
		return ok
	})
	if !ok {
		return false
	}

	switch candidate.Get("finishReason").String() {
	case "MAX_TOKENS":
		acc.stop = chat.StopMaxTokens
	case "STOP":
		acc.stop = chat.StopEndTurn
	}
	return true
}

// buildGenAIRequest renders the internal request in GenAI shape; the Cloud
// Code Assist adapter wraps the same structure in its outer envelope.
func buildGenAIRequest(model *registry.ModelDef, req *chat.Request) (map[string]any, error) {
	contents := make([]map[string]any, 0, len(req.Messages))
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case chat.RoleTool:
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     msg.ToolName,
						"response": map[string]any{"result": msg.Text()},
					},
				}},
			})
		case chat.RoleAssistant:
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": genAIParts(msg),
			})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": genAIParts(msg),
			})
		}
	}

	generationConfig := map[string]any{}
	if req.Temperature != nil {
		generationConfig["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Thinking != chat.ThinkingNone {
		generationConfig["thinkingConfig"] = genAIThinkingConfig(model.ID, req.Thinking)
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": generationConfig,
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for i := range req.Tools {
			decl := map[string]any{"name": req.Tools[i].Name}
			if req.Tools[i].Description != "" {
				decl["description"] = req.Tools[i].Description
			}
			if len(req.Tools[i].Parameters) > 0 {
				decl["parameters"] = json.RawMessage(req.Tools[i].Parameters)
			}
			decls = append(decls, decl)
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	return body, nil
}

func genAIParts(msg *chat.Message) []map[string]any {
	parts := make([]map[string]any, 0, len(msg.Blocks))
	for i := range msg.Blocks {
		block := &msg.Blocks[i]
		switch block.Type {
		case chat.BlockThinking:
			part := map[string]any{"text": block.Text, "thought": true}
			if block.Signature != "" {
				part["thoughtSignature"] = block.Signature
			}
			parts = append(parts, part)
		case chat.BlockImage:
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{
					"mimeType": block.MimeType,
					"data":     block.Data,
				},
			})
		case chat.BlockToolCall:
			args := block.Arguments
			if args == "" {
				args = "{}"
			}
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{
					"name": block.Name,
					"args": json.RawMessage(args),
				},
			})
		default:
			parts = append(parts, map[string]any{"text": block.Text})
		}
	}
	return parts
}

// genAIThinkingConfig maps the logical level to the model's budget encoding:
// gemini-3 models take a string level, everything else an integer budget.
func genAIThinkingConfig(modelID string, level chat.ThinkingLevel) map[string]any {
	if strings.HasPrefix(modelID, "gemini-3") {
		return map[string]any{
			"includeThoughts": true,
			"thinkingLevel":   string(level),
		}
	}
	return map[string]any{
		"includeThoughts": true,
		"thinkingBudget":  thinkingBudget(level),
	}
}
