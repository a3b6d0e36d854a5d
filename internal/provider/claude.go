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

const (
	anthropicVersion = "2023-06-01"

	// setupTokenPrefix marks tokens minted by the first-party CLI; requests
	// made with one must look like that CLI's own traffic.
	setupTokenPrefix = "sk-ant-sid"

	claudeCodeSystem    = "You are Claude Code, Anthropic's official CLI for Claude."
	claudeCodeBetas     = "claude-code-20250219,interleaved-thinking-2025-05-14"
	claudeCodeUserAgent = "claude-cli/1.0.83 (external, cli)"
)

// claudeCodeTools is the PascalCase tool-name allowlist the first-party CLI
// registers. Client tool names matching one case-insensitively are rewritten
// on the way up and restored on the way down.
var claudeCodeTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "AskUserQuestion", "WebFetch", "WebSearch", "TodoWrite"}

// anthropicAdapter speaks the messages wire format.
type anthropicAdapter struct {
	httpClient *http.Client
}

func (a *anthropicAdapter) Stream(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request) <-chan chat.StreamEvent {
	ch := make(chan chat.StreamEvent, 16)
	go func() {
		defer close(ch)
		a.run(ctx, model, opts, req, ch)
	}()
	return ch
}

func (a *anthropicAdapter) run(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request, ch chan<- chat.StreamEvent) {
	mimic := strings.HasPrefix(opts.APIKey, setupTokenPrefix)
	names := newToolNameMap(req.Tools, mimic)

	body, err := buildAnthropicRequest(model, req, names, mimic)
	if err != nil {
		emitError(ctx, ch, err)
		return
	}

	url := baseURL(model, opts.BaseURL) + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		emitError(ctx, ch, fmt.Errorf("failed to create request: %w", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	if mimic {
		httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)
		httpReq.Header.Set("Anthropic-Beta", claudeCodeBetas)
		httpReq.Header.Set("User-Agent", claudeCodeUserAgent)
	} else {
		httpReq.Header.Set("X-Api-Key", opts.APIKey)
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
		return a.handleEvent(ctx, ch, acc, names, data)
	})
	if errScan != nil {
		emitError(ctx, ch, fmt.Errorf("stream read failed: %w", errScan))
		return
	}

	acc.endOpenTools(ctx, ch)
	acc.finish(ctx, ch)
}

func (a *anthropicAdapter) handleEvent(ctx context.Context, ch chan<- chat.StreamEvent, acc *accumulator, names *toolNameMap, data []byte) bool {
	root := gjson.ParseBytes(data)

	switch root.Get("type").String() {
	case "message_start":
		usage := root.Get("message.usage")
		acc.usage.InputTokens = usage.Get("input_tokens").Int()
		acc.usage.CacheReadTokens = usage.Get("cache_read_input_tokens").Int()
		acc.usage.CacheCreationTokens = usage.Get("cache_creation_input_tokens").Int()

	case "content_block_start":
		block := root.Get("content_block")
		if block.Get("type").String() == "tool_use" {
			index := int(root.Get("index").Int())
			name := names.restore(block.Get("name").String())
			acc.startTool(ctx, ch, index, block.Get("id").String(), name)
		}

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			text := delta.Get("text").String()
			acc.text.WriteString(text)
			return emit(ctx, ch, chat.StreamEvent{Type: chat.EventTextDelta, Text: text})
		case "thinking_delta":
			text := delta.Get("thinking").String()
			acc.thinking.WriteString(text)
			return emit(ctx, ch, chat.StreamEvent{Type: chat.EventThinkingDelta, Text: text})
		case "signature_delta":
			acc.signature += delta.Get("signature").String()
		case "input_json_delta":
			index := int(root.Get("index").Int())
			acc.appendToolArgs(ctx, ch, acc.tool(index), delta.Get("partial_json").String())
		}

	case "content_block_stop":
		index := int(root.Get("index").Int())
		acc.endTool(ctx, ch, acc.tool(index))

	case "message_delta":
		if out := root.Get("usage.output_tokens"); out.Exists() {
			acc.usage.OutputTokens = out.Int()
		}
		switch root.Get("delta.stop_reason").String() {
		case "max_tokens":
			acc.stop = chat.StopMaxTokens
		case "tool_use":
			acc.stop = chat.StopToolUse
		case "end_turn":
			acc.stop = chat.StopEndTurn
		}
	}
	return true
}

func buildAnthropicRequest(model *registry.ModelDef, req *chat.Request, names *toolNameMap, mimic bool) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	var system []map[string]any
	if mimic {
		system = append(system, map[string]any{"type": "text", "text": claudeCodeSystem})
	}
	if req.SystemPrompt != "" {
		system = append(system, map[string]any{"type": "text", "text": req.SystemPrompt})
	}

	messages := make([]map[string]any, 0, len(req.Messages))
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case chat.RoleTool:
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Text(),
				}},
			})
		case chat.RoleAssistant:
			messages = append(messages, map[string]any{
				"role":    "assistant",
				"content": anthropicBlocks(msg, names),
			})
		default:
			messages = append(messages, map[string]any{
				"role":    "user",
				"content": anthropicBlocks(msg, names),
			})
		}
	}

	body := map[string]any{
		"model":      model.ID,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if system != nil {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.Thinking != chat.ThinkingNone {
		body["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": thinkingBudget(req.Thinking),
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for i := range req.Tools {
			tool := map[string]any{"name": names.translate(req.Tools[i].Name)}
			if req.Tools[i].Description != "" {
				tool["description"] = req.Tools[i].Description
			}
			if len(req.Tools[i].Parameters) > 0 {
				tool["input_schema"] = json.RawMessage(req.Tools[i].Parameters)
			} else {
				tool["input_schema"] = map[string]any{"type": "object"}
			}
			tools = append(tools, tool)
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

func anthropicBlocks(msg *chat.Message, names *toolNameMap) []map[string]any {
	blocks := make([]map[string]any, 0, len(msg.Blocks))
	for i := range msg.Blocks {
		block := &msg.Blocks[i]
		switch block.Type {
		case chat.BlockThinking:
			blocks = append(blocks, map[string]any{
				"type":      "thinking",
				"thinking":  block.Text,
				"signature": block.Signature,
			})
		case chat.BlockImage:
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": block.MimeType,
					"data":       block.Data,
				},
			})
		case chat.BlockToolCall:
			args := block.Arguments
			if args == "" {
				args = "{}"
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    block.ID,
				"name":  names.translate(block.Name),
				"input": json.RawMessage(args),
			})
		default:
			blocks = append(blocks, map[string]any{"type": "text", "text": block.Text})
		}
	}
	return blocks
}

func thinkingBudget(level chat.ThinkingLevel) int {
	switch level {
	case chat.ThinkingMinimal:
		return 1024
	case chat.ThinkingLow:
		return 4096
	case chat.ThinkingMedium:
		return 8192
	case chat.ThinkingHigh:
		return 24576
	}
	return 8192
}

// toolNameMap rewrites client tool names into the allowlisted PascalCase
// forms when mimicking the first-party CLI, and restores the originals on
// responses.
type toolNameMap struct {
	upstream map[string]string
	original map[string]string
}

func newToolNameMap(tools []chat.ToolDef, mimic bool) *toolNameMap {
	m := &toolNameMap{
		upstream: make(map[string]string),
		original: make(map[string]string),
	}
	if !mimic {
		return m
	}
	for i := range tools {
		name := tools[i].Name
		for _, allowed := range claudeCodeTools {
			if strings.EqualFold(name, allowed) && name != allowed {
				m.upstream[name] = allowed
				m.original[allowed] = name
				break
			}
		}
	}
	return m
}

func (m *toolNameMap) translate(name string) string {
	if mapped, ok := m.upstream[name]; ok {
		return mapped
	}
	return name
}

func (m *toolNameMap) restore(name string) string {
	if mapped, ok := m.original[name]; ok {
		return mapped
	}
	return name
}
