// Package claude implements the Anthropic compatible /v1/messages endpoint.
// Only the aggregate (non streaming) form is served.
package claude

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zeroai-dev/zeroai/internal/api/handlers"
	"github.com/zeroai-dev/zeroai/internal/chat"
)

// Handler serves the Anthropic surface.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the Anthropic endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Messages handles POST /v1/messages.
func (h *Handler) Messages(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	root := gjson.ParseBytes(raw)

	if root.Get("stream").Bool() {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "streaming is not supported on this endpoint")
		return
	}
	fullID := root.Get("model").String()
	if fullID == "" {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	req := parseMessagesRequest(root)
	msg, err := h.Dispatcher.Chat(c.Request.Context(), fullID, req)
	if err != nil {
		writeError(c, handlers.StatusFromError(err), "api_error", err.Error())
		return
	}

	content := make([]gin.H, 0, len(msg.Blocks))
	for i := range msg.Blocks {
		block := &msg.Blocks[i]
		switch block.Type {
		case chat.BlockThinking:
			content = append(content, gin.H{
				"type":      "thinking",
				"thinking":  block.Text,
				"signature": block.Signature,
			})
		case chat.BlockToolCall:
			args := block.Arguments
			if args == "" {
				args = "{}"
			}
			content = append(content, gin.H{
				"type":  "tool_use",
				"id":    block.ID,
				"name":  block.Name,
				"input": json.RawMessage(args),
			})
		case chat.BlockText:
			content = append(content, gin.H{"type": "text", "text": block.Text})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          "msg_" + uuid.NewString(),
		"type":        "message",
		"role":        "assistant",
		"model":       fullID,
		"content":     content,
		"stop_reason": stopReason(msg.StopReason),
		"usage": gin.H{
			"input_tokens":                msg.Usage.InputTokens,
			"output_tokens":               msg.Usage.OutputTokens,
			"cache_read_input_tokens":     msg.Usage.CacheReadTokens,
			"cache_creation_input_tokens": msg.Usage.CacheCreationTokens,
		},
	})
}

func parseMessagesRequest(root gjson.Result) *chat.Request {
	req := &chat.Request{}

	if system := root.Get("system"); system.Exists() {
		if system.Type == gjson.String {
			req.SystemPrompt = system.String()
		} else if system.IsArray() {
			system.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					if req.SystemPrompt != "" {
						req.SystemPrompt += "\n"
					}
					req.SystemPrompt += block.Get("text").String()
				}
				return true
			})
		}
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if role == "assistant" {
			req.Messages = append(req.Messages, chat.Message{
				Role:   chat.RoleAssistant,
				Blocks: parseBlocks(content),
			})
			return true
		}

		// User turns may interleave plain content with tool results;
		// results become distinct tool-role messages.
		var userBlocks []chat.Block
		flush := func() {
			if userBlocks != nil {
				req.Messages = append(req.Messages, chat.Message{Role: chat.RoleUser, Blocks: userBlocks})
				userBlocks = nil
			}
		}
		if content.Type == gjson.String {
			userBlocks = []chat.Block{{Type: chat.BlockText, Text: content.String()}}
		} else {
			content.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "tool_result" {
					flush()
					req.Messages = append(req.Messages, chat.Message{
						Role:       chat.RoleTool,
						ToolCallID: block.Get("tool_use_id").String(),
						Blocks:     []chat.Block{{Type: chat.BlockText, Text: toolResultText(block.Get("content"))}},
					})
					return true
				}
				userBlocks = append(userBlocks, parseBlock(block))
				return true
			})
		}
		flush()
		return true
	})

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		def := chat.ToolDef{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			def.Parameters = json.RawMessage(schema.Raw)
		}
		req.Tools = append(req.Tools, def)
		return true
	})

	if temp := root.Get("temperature"); temp.Exists() {
		v := temp.Float()
		req.Temperature = &v
	}
	req.MaxTokens = int(root.Get("max_tokens").Int())
	if root.Get("thinking.type").String() == "enabled" {
		req.Thinking = chat.ThinkingMedium
	}
	return req
}

func parseBlocks(content gjson.Result) []chat.Block {
	if content.Type == gjson.String {
		return []chat.Block{{Type: chat.BlockText, Text: content.String()}}
	}
	var blocks []chat.Block
	content.ForEach(func(_, block gjson.Result) bool {
		blocks = append(blocks, parseBlock(block))
		return true
	})
	return blocks
}

func parseBlock(block gjson.Result) chat.Block {
	switch block.Get("type").String() {
	case "thinking":
		return chat.Block{
			Type:      chat.BlockThinking,
			Text:      block.Get("thinking").String(),
			Signature: block.Get("signature").String(),
		}
	case "tool_use":
		return chat.Block{
			Type:      chat.BlockToolCall,
			ID:        block.Get("id").String(),
			Name:      block.Get("name").String(),
			Arguments: block.Get("input").Raw,
		}
	case "image":
		return chat.Block{
			Type:     chat.BlockImage,
			MimeType: block.Get("source.media_type").String(),
			Data:     block.Get("source.data").String(),
		}
	}
	return chat.Block{Type: chat.BlockText, Text: block.Get("text").String()}
}

func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	out := ""
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			out += block.Get("text").String()
		}
		return true
	})
	return out
}

func stopReason(stop chat.StopReason) string {
	switch stop {
	case chat.StopMaxTokens:
		return "max_tokens"
	case chat.StopToolUse:
		return "tool_use"
	}
	return "end_turn"
}

func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}
