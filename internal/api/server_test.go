package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/api/handlers"
	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/config"
	"github.com/zeroai-dev/zeroai/internal/dispatch"
	"github.com/zeroai-dev/zeroai/internal/provider"
	"github.com/zeroai-dev/zeroai/internal/registry"
	"github.com/zeroai-dev/zeroai/internal/settings"
)

// scriptAdapter replays a fixed event sequence for every call.
type scriptAdapter struct {
	events []chat.StreamEvent

	lastReq *chat.Request
}

func (a *scriptAdapter) Stream(_ context.Context, _ *registry.ModelDef, _ provider.Options, req *chat.Request) <-chan chat.StreamEvent {
	a.lastReq = req
	ch := make(chan chat.StreamEvent, len(a.events))
	for _, ev := range a.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type scriptSet struct{ adapter provider.Adapter }

func (s *scriptSet) ForFamily(registry.APIFamily) provider.Adapter { return s.adapter }

func textScript(text string) []chat.StreamEvent {
	return []chat.StreamEvent{
		{Type: chat.EventStart},
		{Type: chat.EventTextDelta, Text: text},
		{Type: chat.EventDone, Message: &chat.AssistantMessage{
			Blocks:     []chat.Block{{Type: chat.BlockText, Text: text}},
			StopReason: chat.StopEndTurn,
			Usage:      chat.Usage{InputTokens: 10, OutputTokens: 5},
		}},
	}
}

func newTestServer(t *testing.T, cfg *settings.Settings, adapter provider.Adapter) (*Server, *config.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	_, err := store.AddAccount("openai", "", config.Credential{Type: config.CredentialAPIKey, Key: "sk-test"})
	require.NoError(t, err)

	catalog := registry.NewCatalog(nil)
	d := dispatch.New(store, catalog, &scriptSet{adapter: adapter}, nil)
	base := handlers.NewBaseHandler(d, store, catalog, nil)
	if cfg == nil {
		cfg = settings.Default()
	}
	return NewServer(cfg, base), store
}

func doJSON(srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestModelsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, nil, &scriptAdapter{})
	require.NoError(t, store.SetEnabledModels([]string{"openai/gpt-4o", "openai/not-a-model", "anthropic/claude-sonnet-4-5"}))

	w := doJSON(srv, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", root.Get("object").String())
	data := root.Get("data").Array()
	// Enabled ids without a catalog entry are skipped.
	require.Len(t, data, 2)
	assert.Equal(t, "openai/gpt-4o", data[0].Get("id").String())
	assert.Equal(t, "model", data[0].Get("object").String())
	assert.Equal(t, "openai", data[0].Get("owned_by").String())
	assert.Equal(t, "anthropic", data[1].Get("owned_by").String())
}

func TestChatCompletions(t *testing.T) {
	adapter := &scriptAdapter{events: textScript("hello")}
	srv, _ := newTestServer(t, nil, adapter)

	body := `{"model":"openai/gpt-4o","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"temperature":0.5}`
	w := doJSON(srv, http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	root := gjson.Parse(w.Body.String())
	assert.True(t, strings.HasPrefix(root.Get("id").String(), "chatcmpl-"))
	assert.Equal(t, "chat.completion", root.Get("object").String())
	assert.Equal(t, "openai/gpt-4o", root.Get("model").String())
	assert.Equal(t, "hello", root.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(10), root.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(15), root.Get("usage.total_tokens").Int())

	// The inbound body was mapped onto the internal request.
	require.NotNil(t, adapter.lastReq)
	assert.Equal(t, "be brief", adapter.lastReq.SystemPrompt)
	require.Len(t, adapter.lastReq.Messages, 1)
	assert.Equal(t, "hi", adapter.lastReq.Messages[0].Text())
	require.NotNil(t, adapter.lastReq.Temperature)
	assert.InDelta(t, 0.5, *adapter.lastReq.Temperature, 1e-9)
}

func TestChatCompletionsStream(t *testing.T) {
	adapter := &scriptAdapter{events: textScript("hello")}
	srv, _ := newTestServer(t, nil, adapter)

	body := `{"model":"openai/gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	w := doJSON(srv, http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var frames []string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.GreaterOrEqual(t, len(frames), 4)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	first := gjson.Parse(frames[0])
	assert.Equal(t, "chat.completion.chunk", first.Get("object").String())
	assert.Equal(t, "assistant", first.Get("choices.0.delta.role").String())

	assert.Equal(t, "hello", gjson.Parse(frames[1]).Get("choices.0.delta.content").String())

	final := gjson.Parse(frames[len(frames)-2])
	assert.Equal(t, "stop", final.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(15), final.Get("usage.total_tokens").Int())
}

func TestChatCompletionsValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, &scriptAdapter{events: textScript("x")})

	w := doJSON(srv, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(srv, http.MethodPost, "/v1/chat/completions", `{"model":"openai/no-such-model","messages":[]}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessagesEndpoint(t *testing.T) {
	adapter := &scriptAdapter{events: []chat.StreamEvent{
		{Type: chat.EventStart},
		{Type: chat.EventDone, Message: &chat.AssistantMessage{
			Blocks: []chat.Block{
				{Type: chat.BlockThinking, Text: "mull", Signature: "sig-1"},
				{Type: chat.BlockText, Text: "answer"},
				{Type: chat.BlockToolCall, ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`},
			},
			StopReason: chat.StopToolUse,
			Usage:      chat.Usage{InputTokens: 7, OutputTokens: 3, CacheReadTokens: 2},
		}},
	}}
	srv, _ := newTestServer(t, nil, adapter)

	body := `{"model":"openai/gpt-4o","max_tokens":100,"system":"be brief","messages":[{"role":"user","content":"hi"}]}`
	w := doJSON(srv, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	root := gjson.Parse(w.Body.String())
	assert.True(t, strings.HasPrefix(root.Get("id").String(), "msg_"))
	assert.Equal(t, "message", root.Get("type").String())
	assert.Equal(t, "assistant", root.Get("role").String())

	content := root.Get("content").Array()
	require.Len(t, content, 3)
	assert.Equal(t, "thinking", content[0].Get("type").String())
	assert.Equal(t, "sig-1", content[0].Get("signature").String())
	assert.Equal(t, "answer", content[1].Get("text").String())
	assert.Equal(t, "tool_use", content[2].Get("type").String())
	assert.Equal(t, "x", content[2].Get("input.q").String())

	assert.Equal(t, "tool_use", root.Get("stop_reason").String())
	assert.Equal(t, int64(7), root.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(2), root.Get("usage.cache_read_input_tokens").Int())

	assert.Equal(t, "be brief", adapter.lastReq.SystemPrompt)
	assert.Equal(t, 100, adapter.lastReq.MaxTokens)
}

func TestMessagesRejectsStreaming(t *testing.T) {
	srv, _ := newTestServer(t, nil, &scriptAdapter{events: textScript("x")})

	body := `{"model":"openai/gpt-4o","stream":true,"max_tokens":100,"messages":[]}`
	w := doJSON(srv, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "error", root.Get("type").String())
	assert.Equal(t, "invalid_request_error", root.Get("error.type").String())
	assert.Contains(t, root.Get("error.message").String(), "streaming")
}

func TestMessagesToolResultSplitting(t *testing.T) {
	adapter := &scriptAdapter{events: textScript("done")}
	srv, _ := newTestServer(t, nil, adapter)

	body := `{"model":"openai/gpt-4o","max_tokens":100,"messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"call_1","name":"lookup","input":{"q":"x"}}]},
		{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"call_1","content":"found it"},
			{"type":"text","text":"now summarise"}
		]}
	]}`
	w := doJSON(srv, http.MethodPost, "/v1/messages", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	msgs := adapter.lastReq.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, chat.RoleAssistant, msgs[0].Role)
	assert.Equal(t, chat.RoleTool, msgs[1].Role)
	assert.Equal(t, "call_1", msgs[1].ToolCallID)
	assert.Equal(t, "found it", msgs[1].Text())
	assert.Equal(t, chat.RoleUser, msgs[2].Role)
	assert.Equal(t, "now summarise", msgs[2].Text())
}

func TestAuthMiddleware(t *testing.T) {
	cfg := settings.Default()
	cfg.APIKeys = []string{"secret"}
	srv, _ := newTestServer(t, cfg, &scriptAdapter{})

	w := doJSON(srv, http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, header := range []map[string]string{
		{"Authorization": "Bearer secret"},
		{"Authorization": "secret"},
		{"X-Api-Key": "secret"},
		{"X-Goog-Api-Key": "secret"},
	} {
		w = doJSON(srv, http.MethodGet, "/v1/models", "", header)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(srv, http.MethodGet, "/v1/models?key=secret", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(srv, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, nil, &scriptAdapter{})

	w := doJSON(srv, http.MethodOptions, "/v1/chat/completions", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
