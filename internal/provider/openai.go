package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

// openAIAdapter speaks the chat-completions wire format shared by OpenAI and
// the many compatible endpoints.
type openAIAdapter struct {
	httpClient *http.Client
}

func (a *openAIAdapter) Stream(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request) <-chan chat.StreamEvent {
	ch := make(chan chat.StreamEvent, 16)
	go func() {
		defer close(ch)
		a.run(ctx, model, opts, req, ch)
	}()
	return ch
}

func (a *openAIAdapter) run(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request, ch chan<- chat.StreamEvent) {
	body, err := buildOpenAIRequest(model, req)
	if err != nil {
		emitError(ctx, ch, err)
		return
	}

	url := baseURL(model, opts.BaseURL) + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to create request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)
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
		if bytes.Equal(data, []byte("[DONE]")) {
			return false
		}
		return a.handleChunk(ctx, ch, acc, data)
	})
	if errScan != nil {
		emitError(ctx, ch, fmt.Errorf("stream read failed: %w", errScan))
		return
	}

	acc.endOpenTools(ctx, ch)
	acc.finish(ctx, ch)
}

func (a *openAIAdapter) handleChunk(ctx context.Context, ch chan<- chat.StreamEvent, acc *accumulator, data []byte) bool {
	root := gjson.ParseBytes(data)

	if usage := root.Get("usage"); usage.Exists() {
		acc.usage.InputTokens = usage.Get("prompt_tokens").Int()
		acc.usage.OutputTokens = usage.Get("completion_tokens").Int()
		acc.usage.CacheReadTokens = usage.Get("prompt_tokens_details.cached_tokens").Int()
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return true
	}
	delta := choice.Get("delta")

	if content := delta.Get("content"); content.Type == gjson.String && content.String() != "" {
		acc.text.WriteString(content.String())
		if !emit(ctx, ch, chat.StreamEvent{Type: chat.EventTextDelta, Text: content.String()}) {
			return false
		}
	}
	if reasoning := delta.Get("reasoning_content"); reasoning.Type == gjson.String && reasoning.String() != "" {
		acc.thinking.WriteString(reasoning.String())
		if !emit(ctx, ch, chat.StreamEvent{Type: chat.EventThinkingDelta, Text: reasoning.String()}) {
			return false
		}
	}

	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		name := call.Get("function.name").String()
		var t *toolAccum
		if idx := call.Get("index"); idx.Exists() {
			t = acc.tool(int(idx.Int()))
			if t == nil && name != "" {
				t = acc.startTool(ctx, ch, int(idx.Int()), call.Get("id").String(), name)
			}
		} else if name != "" {
			t = acc.startTool(ctx, ch, acc.nextIndex(), call.Get("id").String(), name)
		} else {
			// Continuation chunk without an index; the arguments belong to
			// the call started last.
			t = acc.lastTool()
		}
		if args := call.Get("function.arguments").String(); args != "" {
			acc.appendToolArgs(ctx, ch, t, args)
		}
		return true
	})

	if finish := choice.Get("finish_reason"); finish.Type == gjson.String {
		switch finish.String() {
		case "length":
			acc.stop = chat.StopMaxTokens
		case "tool_calls":
			acc.stop = chat.StopToolUse
		case "stop":
			acc.stop = chat.StopEndTurn
		}
	}
	return true
}

// buildOpenAIRequest renders the internal request in chat-completions shape.
func buildOpenAIRequest(model *registry.ModelDef, req *chat.Request) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case chat.RoleTool:
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": msg.ToolCallID,
				"name":         msg.ToolName,
				"content":      msg.Text(),
			})
		case chat.RoleAssistant:
			entry := map[string]any{"role": "assistant"}
			if text := msg.Text(); text != "" {
				entry["content"] = text
			}
			var toolCalls []map[string]any
			for j := range msg.Blocks {
				block := &msg.Blocks[j]
				if block.Type != chat.BlockToolCall {
					continue
				}
				args := block.Arguments
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   block.ID,
					"type": "function",
					"function": map[string]any{
						"name":      block.Name,
						"arguments": args,
					},
				})
			}
			if toolCalls != nil {
				entry["tool_calls"] = toolCalls
			}
			messages = append(messages, entry)
		default:
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": openAIUserContent(msg),
			})
		}
	}

	body := map[string]any{
		"model":          model.ID,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Thinking != chat.ThinkingNone && model.SupportsReasoning {
		body["reasoning_effort"] = string(req.Thinking)
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for i := range req.Tools {
			fn := map[string]any{"name": req.Tools[i].Name}
			if req.Tools[i].Description != "" {
				fn["description"] = req.Tools[i].Description
			}
			if len(req.Tools[i].Parameters) > 0 {
				fn["parameters"] = json.RawMessage(req.Tools[i].Parameters)
			}
			tools = append(tools, map[string]any{"type": "function", "function": fn})
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

// openAIUserContent returns a plain string for a single text block and the
// typed array form otherwise.
func openAIUserContent(msg *chat.Message) any {
	if len(msg.Blocks) == 1 && msg.Blocks[0].Type == chat.BlockText {
		return msg.Blocks[0].Text
	}
	parts := make([]map[string]any, 0, len(msg.Blocks))
	for i := range msg.Blocks {
		block := &msg.Blocks[i]
		switch block.Type {
		case chat.BlockImage:
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", block.MimeType, block.Data),
				},
			})
		default:
			parts = append(parts, map[string]any{"type": "text", "text": block.Text})
		}
	}
	return parts
}
