// Package openai implements the OpenAI compatible endpoints: model listing
// and chat completions in both streaming and aggregate form.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/zeroai-dev/zeroai/internal/api/handlers"
	"github.com/zeroai-dev/zeroai/internal/chat"
)

// Handler serves the /v1 OpenAI surface.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the OpenAI endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Models handles GET /v1/models, listing every enabled model.
func (h *Handler) Models(c *gin.Context) {
	ids, defs, err := h.EnabledModels()
	if err != nil {
		handlers.ErrorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]gin.H, 0, len(ids))
	for i, id := range ids {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  0,
			"owned_by": defs[i].Provider,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		handlers.ErrorJSON(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	root := gjson.ParseBytes(raw)

	fullID := root.Get("model").String()
	if fullID == "" {
		handlers.ErrorJSON(c, http.StatusBadRequest, "model is required")
		return
	}
	req := parseChatRequest(root)

	if root.Get("stream").Bool() {
		h.streamCompletion(c, fullID, req)
		return
	}
	h.completion(c, fullID, req)
}

func (h *Handler) completion(c *gin.Context, fullID string, req *chat.Request) {
	msg, err := h.Dispatcher.Chat(c.Request.Context(), fullID, req)
	if err != nil {
		handlers.ErrorJSON(c, handlers.StatusFromError(err), err.Error())
		return
	}

	message := gin.H{"role": "assistant", "content": nil}
	if text := msg.Text(); text != "" {
		message["content"] = text
	}
	if calls := msg.ToolCalls(); len(calls) > 0 {
		toolCalls := make([]gin.H, 0, len(calls))
		for _, call := range calls {
			toolCalls = append(toolCalls, gin.H{
				"id":   call.ID,
				"type": "function",
				"function": gin.H{
					"name":      call.Name,
					"arguments": call.Arguments,
				},
			})
		}
		message["tool_calls"] = toolCalls
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   fullID,
		"choices": []gin.H{{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason(msg.StopReason),
		}},
		"usage": usageJSON(msg.Usage),
	})
}

func (h *Handler) streamCompletion(c *gin.Context, fullID string, req *chat.Request) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		handlers.ErrorJSON(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := h.Dispatcher.Stream(c.Request.Context(), fullID, req)

	// Delay the SSE headers until the first event so pre-stream failures
	// can still produce a proper error status.
	first := <-events
	if first.Type == chat.EventError {
		handlers.ErrorJSON(c, handlers.StatusFromError(first.Err), first.Err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	id := completionID()
	created := time.Now().Unix()
	writeChunk := func(payload gin.H) {
		data, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return
		}
		data, _ = sjson.SetBytes(data, "id", id)
		data, _ = sjson.SetBytes(data, "object", "chat.completion.chunk")
		data, _ = sjson.SetBytes(data, "created", created)
		data, _ = sjson.SetBytes(data, "model", fullID)
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	handle := func(ev chat.StreamEvent) bool {
		switch ev.Type {
		case chat.EventStart:
			writeChunk(gin.H{"choices": []gin.H{{"index": 0, "delta": gin.H{"role": "assistant"}}}})
		case chat.EventTextDelta:
			writeChunk(gin.H{"choices": []gin.H{{"index": 0, "delta": gin.H{"content": ev.Text}}}})
		case chat.EventThinkingDelta:
			writeChunk(gin.H{"choices": []gin.H{{"index": 0, "delta": gin.H{"reasoning_content": ev.Text}}}})
		case chat.EventToolCallStart:
			writeChunk(gin.H{"choices": []gin.H{{"index": 0, "delta": gin.H{"tool_calls": []gin.H{{
				"index": ev.Index,
				"id":    ev.ToolID,
				"type":  "function",
				"function": gin.H{
					"name":      ev.ToolName,
					"arguments": "",
				},
			}}}}}})
		case chat.EventToolCallDelta:
			writeChunk(gin.H{"choices": []gin.H{{"index": 0, "delta": gin.H{"tool_calls": []gin.H{{
				"index":    ev.Index,
				"function": gin.H{"arguments": ev.Text},
			}}}}}})
		case chat.EventDone:
			writeChunk(gin.H{
				"choices": []gin.H{{"index": 0, "delta": gin.H{}, "finish_reason": finishReason(ev.Message.StopReason)}},
				"usage":   usageJSON(ev.Message.Usage),
			})
			return false
		case chat.EventError:
			data, _ := json.Marshal(gin.H{"error": gin.H{"message": ev.Err.Error(), "type": "api_error"}})
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
			return false
		}
		return true
	}

	if handle(first) {
		for ev := range events {
			if !handle(ev) {
				break
			}
		}
	}
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

// parseChatRequest maps an OpenAI chat-completions body onto the internal
// request.
func parseChatRequest(root gjson.Result) *chat.Request {
	req := &chat.Request{}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "system", "developer":
			if req.SystemPrompt != "" {
				req.SystemPrompt += "\n"
			}
			req.SystemPrompt += contentText(msg.Get("content"))
		case "assistant":
			var blocks []chat.Block
			if text := contentText(msg.Get("content")); text != "" {
				blocks = append(blocks, chat.Block{Type: chat.BlockText, Text: text})
			}
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				blocks = append(blocks, chat.Block{
					Type:      chat.BlockToolCall,
					ID:        call.Get("id").String(),
					Name:      call.Get("function.name").String(),
					Arguments: call.Get("function.arguments").String(),
				})
				return true
			})
			req.Messages = append(req.Messages, chat.Message{Role: chat.RoleAssistant, Blocks: blocks})
		case "tool":
			req.Messages = append(req.Messages, chat.Message{
				Role:       chat.RoleTool,
				ToolCallID: msg.Get("tool_call_id").String(),
				ToolName:   msg.Get("name").String(),
				Blocks:     []chat.Block{{Type: chat.BlockText, Text: contentText(msg.Get("content"))}},
			})
		case "user":
			req.Messages = append(req.Messages, chat.Message{Role: chat.RoleUser, Blocks: userBlocks(msg.Get("content"))})
		}
		return true
	})

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		if !fn.Exists() {
			return true
		}
		def := chat.ToolDef{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
		}
		if params := fn.Get("parameters"); params.Exists() {
			def.Parameters = json.RawMessage(params.Raw)
		}
		req.Tools = append(req.Tools, def)
		return true
	})

	if temp := root.Get("temperature"); temp.Exists() {
		v := temp.Float()
		req.Temperature = &v
	}
	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		req.MaxTokens = int(maxTokens.Int())
	} else if maxTokens = root.Get("max_completion_tokens"); maxTokens.Exists() {
		req.MaxTokens = int(maxTokens.Int())
	}
	if effort := root.Get("reasoning_effort").String(); effort != "" {
		req.Thinking = chat.ThinkingLevel(effort)
	}
	return req
}

// contentText flattens a string-or-array content field into plain text.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var sb strings.Builder
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			sb.WriteString(part.Get("text").String())
		}
		return true
	})
	return sb.String()
}

// userBlocks maps user content onto typed blocks, decoding data URLs into
// image blocks.
func userBlocks(content gjson.Result) []chat.Block {
	if content.Type == gjson.String {
		return []chat.Block{{Type: chat.BlockText, Text: content.String()}}
	}
	var blocks []chat.Block
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "image_url":
			url := part.Get("image_url.url").String()
			mimeType, data, ok := parseDataURL(url)
			if !ok {
				return true
			}
			blocks = append(blocks, chat.Block{Type: chat.BlockImage, MimeType: mimeType, Data: data})
		default:
			if text := part.Get("text").String(); text != "" {
				blocks = append(blocks, chat.Block{Type: chat.BlockText, Text: text})
			}
		}
		return true
	})
	if blocks == nil {
		blocks = []chat.Block{{Type: chat.BlockText}}
	}
	return blocks
}

func parseDataURL(url string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(";base64,"):], true
}

func finishReason(stop chat.StopReason) string {
	switch stop {
	case chat.StopMaxTokens:
		return "length"
	case chat.StopToolUse:
		return "tool_calls"
	}
	return "stop"
}

func usageJSON(u chat.Usage) gin.H {
	return gin.H{
		"prompt_tokens":     u.InputTokens,
		"completion_tokens": u.OutputTokens,
		"total_tokens":      u.InputTokens + u.OutputTokens,
	}
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}
