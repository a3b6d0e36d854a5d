package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

// sseHandler records the request and replies with the given SSE data frames.
type sseHandler struct {
	frames []string

	req  *http.Request
	body []byte
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.req = r
	h.body, _ = io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "text/event-stream")
	for _, frame := range h.frames {
		_, _ = io.WriteString(w, "data: "+frame+"\n\n")
	}
}

func drain(t *testing.T, events <-chan chat.StreamEvent) []chat.StreamEvent {
	t.Helper()
	var out []chat.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestScanSSE(t *testing.T) {
	body := strings.NewReader("event: ping\n\ndata: one\n\n: comment\ndata: two\n\ndata: three\n\n")
	var got []string
	err := scanSSE(body, func(data []byte) bool {
		got = append(got, string(data))
		return len(got) < 2
	})
	require.NoError(t, err)
	// The callback stopped the scan after the second frame.
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestOpenAIAdapterStream(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"get_weather","arguments":"{\"city\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"usage":{"prompt_tokens":12,"completion_tokens":7,"prompt_tokens_details":{"cached_tokens":3}}}`,
		`[DONE]`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "gpt-4o", Provider: "openai", APIFamily: registry.FamilyOpenAIChat, BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyOpenAIChat)

	temp := 0.2
	req := &chat.Request{
		SystemPrompt: "be brief",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "weather?"}}},
		},
		Tools:       []chat.ToolDef{{Name: "get_weather", Description: "Looks up weather", Parameters: []byte(`{"type":"object"}`)}},
		Temperature: &temp,
		MaxTokens:   256,
	}
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "sk-test"}, req))

	// Request shape.
	assert.Equal(t, "/chat/completions", h.req.URL.Path)
	assert.Equal(t, "Bearer sk-test", h.req.Header.Get("Authorization"))
	body := gjson.ParseBytes(h.body)
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "be brief", body.Get("messages.0.content").String())
	assert.Equal(t, "weather?", body.Get("messages.1.content").String())
	assert.True(t, body.Get("stream").Bool())
	assert.True(t, body.Get("stream_options.include_usage").Bool())
	assert.Equal(t, "get_weather", body.Get("tools.0.function.name").String())
	assert.Equal(t, int64(256), body.Get("max_tokens").Int())
	assert.InDelta(t, 0.2, body.Get("temperature").Float(), 1e-9)

	// Event lifecycle: Start first, one terminal Done last.
	require.NotEmpty(t, events)
	assert.Equal(t, chat.EventStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.Terminal())
	}

	msg := last.Message
	require.NotNil(t, msg)
	assert.Equal(t, "Hello", msg.Text())
	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_abc", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, calls[0].Arguments)
	assert.Equal(t, chat.StopToolUse, msg.StopReason)
	assert.Equal(t, int64(12), msg.Usage.InputTokens)
	assert.Equal(t, int64(7), msg.Usage.OutputTokens)
	assert.Equal(t, int64(3), msg.Usage.CacheReadTokens)
}

func TestOpenAIAdapterToolCallWithoutIndex(t *testing.T) {
	// Some compatible endpoints omit the tool_calls index entirely; argument
	// fragments then belong to the call started last.
	h := &sseHandler{frames: []string{
		`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "qwen3-coder", Provider: "custom:http://x/v1", BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyOpenAIChat)
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "sk-test"}, &chat.Request{}))

	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	calls := last.Message.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.JSONEq(t, `{"q":"go"}`, calls[0].Arguments)
}

func TestOpenAIAdapterUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	model := &registry.ModelDef{ID: "gpt-4o", Provider: "openai", BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyOpenAIChat)
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "sk-test"}, &chat.Request{}))

	// The error arrives before Start, so the call is restartable.
	require.Len(t, events, 1)
	require.Equal(t, chat.EventError, events[0].Type)
	var pErr *Error
	require.ErrorAs(t, events[0].Err, &pErr)
	assert.Equal(t, http.StatusTooManyRequests, pErr.StatusCode)
	assert.Equal(t, int64(7000), pErr.RetryAfterMs)
}

func TestAnthropicAdapterMimicry(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"type":"message_start","message":{"usage":{"input_tokens":5,"cache_read_input_tokens":2}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"Read"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"file\":\"a.go\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "claude-sonnet-4-5", Provider: "anthropic", BaseURL: srv.URL, MaxTokens: 64000}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyAnthropicMessages)

	req := &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "read a.go"}}}},
		Tools:    []chat.ToolDef{{Name: "read"}, {Name: "my_tool"}},
	}
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "sk-ant-sid-secret"}, req))

	// Setup tokens travel as Bearer with the first-party CLI fingerprint.
	assert.Equal(t, "/messages", h.req.URL.Path)
	assert.Equal(t, "Bearer sk-ant-sid-secret", h.req.Header.Get("Authorization"))
	assert.Empty(t, h.req.Header.Get("X-Api-Key"))
	assert.Equal(t, claudeCodeBetas, h.req.Header.Get("Anthropic-Beta"))
	assert.Equal(t, claudeCodeUserAgent, h.req.Header.Get("User-Agent"))
	assert.Equal(t, anthropicVersion, h.req.Header.Get("Anthropic-Version"))

	body := gjson.ParseBytes(h.body)
	assert.Equal(t, claudeCodeSystem, body.Get("system.0.text").String())
	assert.Equal(t, "Read", body.Get("tools.0.name").String())
	assert.Equal(t, "my_tool", body.Get("tools.1.name").String())
	assert.Equal(t, int64(64000), body.Get("max_tokens").Int())
	assert.Equal(t, `{"type":"object"}`, body.Get("tools.0.input_schema").Raw)

	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	calls := last.Message.ToolCalls()
	require.Len(t, calls, 1)
	// The allowlisted name is restored to the client's spelling.
	assert.Equal(t, "read", calls[0].Name)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.JSONEq(t, `{"file":"a.go"}`, calls[0].Arguments)
	assert.Equal(t, chat.StopToolUse, last.Message.StopReason)
	assert.Equal(t, int64(5), last.Message.Usage.InputTokens)
	assert.Equal(t, int64(2), last.Message.Usage.CacheReadTokens)
	assert.Equal(t, int64(9), last.Message.Usage.OutputTokens)
}

func TestAnthropicAdapterAPIKey(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"type":"message_start","message":{"usage":{"input_tokens":1}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "claude-sonnet-4-5", Provider: "anthropic", BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyAnthropicMessages)
	req := &chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "hi"}}}},
		Tools:    []chat.ToolDef{{Name: "read"}},
	}
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "sk-ant-api-key"}, req))

	// Plain API keys use the standard header and no mimicry.
	assert.Equal(t, "sk-ant-api-key", h.req.Header.Get("X-Api-Key"))
	assert.Empty(t, h.req.Header.Get("Authorization"))
	assert.Empty(t, h.req.Header.Get("Anthropic-Beta"))

	body := gjson.ParseBytes(h.body)
	assert.False(t, body.Get("system").Exists())
	assert.Equal(t, "read", body.Get("tools.0.name").String())

	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	assert.Equal(t, "hi", last.Message.Text())
	assert.Equal(t, chat.StopEndTurn, last.Message.StopReason)
}

func TestGoogleAIAdapterStream(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"candidates":[{"content":{"parts":[{"text":"pondering","thought":true,"thoughtSignature":"sig-1"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"Paris"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"thoughtsTokenCount":4}}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]},"finishReason":"STOP"}]}`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "gemini-2.5-pro", Provider: "google-genai", BaseURL: srv.URL, SupportsReasoning: true}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyGoogleGenAI)
	req := &chat.Request{
		SystemPrompt: "answer briefly",
		Messages:     []chat.Message{{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "capital of France?"}}}},
		Thinking:     chat.ThinkingLow,
	}
	events := drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "genai-key"}, req))

	assert.Equal(t, "/models/gemini-2.5-pro:streamGenerateContent", h.req.URL.Path)
	assert.Equal(t, "sse", h.req.URL.Query().Get("alt"))
	assert.Equal(t, "genai-key", h.req.URL.Query().Get("key"))

	body := gjson.ParseBytes(h.body)
	assert.Equal(t, "answer briefly", body.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "user", body.Get("contents.0.role").String())
	assert.True(t, body.Get("generationConfig.thinkingConfig.includeThoughts").Bool())
	assert.Equal(t, int64(4096), body.Get("generationConfig.thinkingConfig.thinkingBudget").Int())

	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	msg := last.Message
	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, chat.BlockThinking, msg.Blocks[0].Type)
	assert.Equal(t, "sig-1", msg.Blocks[0].Signature)
	assert.Equal(t, "Paris", msg.Text())
	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	// Function calls arrive without an id, so one is fabricated.
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.JSONEq(t, `{"q":"x"}`, calls[0].Arguments)
	assert.Equal(t, int64(3), msg.Usage.InputTokens)
	assert.Equal(t, int64(6), msg.Usage.OutputTokens)
}

func TestGenAIThinkingConfigGemini3(t *testing.T) {
	cfg := genAIThinkingConfig("gemini-3-pro-preview", chat.ThinkingHigh)
	assert.Equal(t, "high", cfg["thinkingLevel"])
	_, hasBudget := cfg["thinkingBudget"]
	assert.False(t, hasBudget)

	cfg = genAIThinkingConfig("gemini-2.5-pro", chat.ThinkingHigh)
	assert.Equal(t, 24576, cfg["thinkingBudget"])
}

func TestParseCodeAssistKey(t *testing.T) {
	key := parseCodeAssistKey(`{"token":"ya29.abc","projectId":"proj-1"}`)
	assert.Equal(t, "ya29.abc", key.Token)
	assert.Equal(t, "proj-1", key.ProjectID)

	bare := parseCodeAssistKey("ya29.raw-token")
	assert.Equal(t, "ya29.raw-token", bare.Token)
	assert.Empty(t, bare.ProjectID)
}

func TestCodeAssistAdapterStream(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"response":{"candidates":[{"content":{"parts":[{"text":"Hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":1}}}`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "gemini-2.5-pro", Provider: "gemini-cli", BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyCloudCodeAssist)
	req := &chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "hi"}}}}}

	opts := Options{APIKey: `{"token":"ya29.abc","projectId":"proj-1"}`}
	events := drain(t, adapter.Stream(context.Background(), model, opts, req))

	assert.Equal(t, "/v1internal:streamGenerateContent", h.req.URL.Path)
	assert.Equal(t, "sse", h.req.URL.Query().Get("alt"))
	assert.Equal(t, "Bearer ya29.abc", h.req.Header.Get("Authorization"))

	body := gjson.ParseBytes(h.body)
	assert.Equal(t, "proj-1", body.Get("project").String())
	assert.Equal(t, "gemini-2.5-pro", body.Get("model").String())
	assert.NotEmpty(t, body.Get("requestId").String())
	assert.True(t, body.Get("request.contents").IsArray())
	assert.False(t, body.Get("userAgent").Exists())

	last := events[len(events)-1]
	require.Equal(t, chat.EventDone, last.Type)
	assert.Equal(t, "Hi", last.Message.Text())
	assert.Equal(t, chat.StopEndTurn, last.Message.StopReason)
}

func TestCodeAssistAdapterAntigravity(t *testing.T) {
	h := &sseHandler{frames: []string{
		`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`,
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	model := &registry.ModelDef{ID: "gemini-3-pro-preview", Provider: "antigravity", BaseURL: srv.URL}
	adapter := NewSet(srv.Client()).ForFamily(registry.FamilyCloudCodeAssist)
	req := &chat.Request{
		SystemPrompt: "client system",
		Messages:     []chat.Message{{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "hi"}}}},
	}
	drain(t, adapter.Stream(context.Background(), model, Options{APIKey: "ya29.tok"}, req))

	assert.Equal(t, antigravityUserAgent, h.req.Header.Get("User-Agent"))
	body := gjson.ParseBytes(h.body)
	assert.Equal(t, antigravityUserAgent, body.Get("userAgent").String())
	system := body.Get("request.systemInstruction.parts.0.text").String()
	assert.True(t, strings.HasPrefix(system, antigravitySystemText))
	assert.Contains(t, system, "client system")
}

func TestBuildOpenAIRequestToolRoundTrip(t *testing.T) {
	model := &registry.ModelDef{ID: "gpt-4o", Provider: "openai", SupportsReasoning: true}
	req := &chat.Request{
		Messages: []chat.Message{
			{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "weather?"}}},
			{Role: chat.RoleAssistant, Blocks: []chat.Block{
				{Type: chat.BlockToolCall, ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
			}},
			{Role: chat.RoleTool, ToolCallID: "call_1", ToolName: "get_weather", Blocks: []chat.Block{{Type: chat.BlockText, Text: "18C"}}},
		},
		Thinking: chat.ThinkingMedium,
	}
	data, err := buildOpenAIRequest(model, req)
	require.NoError(t, err)

	body := gjson.ParseBytes(data)
	assert.Equal(t, "assistant", body.Get("messages.1.role").String())
	assert.Equal(t, "call_1", body.Get("messages.1.tool_calls.0.id").String())
	assert.Equal(t, "function", body.Get("messages.1.tool_calls.0.type").String())
	assert.Equal(t, "tool", body.Get("messages.2.role").String())
	assert.Equal(t, "call_1", body.Get("messages.2.tool_call_id").String())
	assert.Equal(t, "18C", body.Get("messages.2.content").String())
	assert.Equal(t, "medium", body.Get("reasoning_effort").String())
}

func TestOpenAIUserContentImage(t *testing.T) {
	msg := &chat.Message{Role: chat.RoleUser, Blocks: []chat.Block{
		{Type: chat.BlockText, Text: "what is this?"},
		{Type: chat.BlockImage, MimeType: "image/png", Data: "aGVsbG8="},
	}}
	parts, ok := openAIUserContent(msg).([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	imageURL := parts[1]["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", imageURL)

	single := &chat.Message{Role: chat.RoleUser, Blocks: []chat.Block{{Type: chat.BlockText, Text: "plain"}}}
	assert.Equal(t, "plain", openAIUserContent(single))
}
