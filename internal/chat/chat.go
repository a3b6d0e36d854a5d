// Package chat defines the internal request and event model shared by the
// provider adapters, the dispatch core and the protocol gateways. Every
// upstream wire format is normalised into these types; every client facing
// format is produced from them.
package chat

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of a previously requested tool call.
	RoleTool Role = "tool"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockThinking BlockType = "thinking"
	BlockImage    BlockType = "image"
	BlockToolCall BlockType = "tool_call"
)

// Block is one typed content block inside a message.
type Block struct {
	Type BlockType `json:"type"`

	// Text carries the payload for text and thinking blocks.
	Text string `json:"text,omitempty"`

	// Signature is an opaque provider token attached to thinking blocks.
	Signature string `json:"signature,omitempty"`

	// MimeType and Data describe an image block (base64 payload).
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`

	// ID, Name and Arguments describe a tool call block. Arguments is the
	// JSON-encoded argument object.
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolDef declares a tool the model may call.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Message is one turn of the conversation. Tool results use RoleTool and set
// ToolCallID/ToolName; their payload is the first text block.
type Message struct {
	Role       Role    `json:"role"`
	Blocks     []Block `json:"blocks"`
	ToolCallID string  `json:"tool_call_id,omitempty"`
	ToolName   string  `json:"tool_name,omitempty"`
}

// Text concatenates the text blocks of the message.
func (m *Message) Text() string {
	out := ""
	for i := range m.Blocks {
		if m.Blocks[i].Type == BlockText {
			out += m.Blocks[i].Text
		}
	}
	return out
}

// ThinkingLevel is the logical reasoning-effort requested by the client.
type ThinkingLevel string

const (
	ThinkingNone    ThinkingLevel = ""
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// Request is the provider independent chat request.
type Request struct {
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Messages     []Message     `json:"messages"`
	Tools        []ToolDef     `json:"tools,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Thinking     ThinkingLevel `json:"thinking,omitempty"`
}

// StopReason is the normalised reason a generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "stop"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// Usage carries normalised token accounting.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64 `json:"cache_creation_tokens,omitempty"`
}

// ToolCall is a fully assembled tool invocation request from the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// AssistantMessage is the final aggregated model output.
type AssistantMessage struct {
	Model      string     `json:"model"`
	Provider   string     `json:"provider"`
	Blocks     []Block    `json:"blocks"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Text concatenates the text blocks of the assistant message.
func (m *AssistantMessage) Text() string {
	out := ""
	for i := range m.Blocks {
		if m.Blocks[i].Type == BlockText {
			out += m.Blocks[i].Text
		}
	}
	return out
}

// ToolCalls extracts the tool call blocks in order.
func (m *AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for i := range m.Blocks {
		if m.Blocks[i].Type == BlockToolCall {
			calls = append(calls, ToolCall{ID: m.Blocks[i].ID, Name: m.Blocks[i].Name, Arguments: m.Blocks[i].Arguments})
		}
	}
	return calls
}

// EventType enumerates the internal stream event kinds.
type EventType int

const (
	EventStart EventType = iota
	EventTextDelta
	EventThinkingDelta
	EventToolCallStart
	EventToolCallDelta
	EventToolCallEnd
	EventDone
	EventError
)

// StreamEvent is one element of the normalised provider stream. Exactly one
// terminal event (Done or Error) closes every stream.
type StreamEvent struct {
	Type EventType

	// Text carries a text, thinking, or argument delta.
	Text string

	// Index, ToolID and ToolName describe tool call boundary events.
	Index    int
	ToolID   string
	ToolName string

	// ToolCall is set on EventToolCallEnd.
	ToolCall *ToolCall

	// Message is set on EventDone.
	Message *AssistantMessage

	// Err is set on EventError.
	Err error
}

// Terminal reports whether the event closes the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Collect drains a stream and returns the final assistant message, or the
// stream error. A stream that closes without a terminal event is an error.
func Collect(events <-chan StreamEvent) (*AssistantMessage, error) {
	for ev := range events {
		switch ev.Type {
		case EventDone:
			return ev.Message, nil
		case EventError:
			return nil, ev.Err
		}
	}
	return nil, fmt.Errorf("stream closed without terminal event")
}

var toolCallCounter atomic.Uint64

// NextToolCallID fabricates a stable tool call id for upstreams that omit
// one. Process-local; does not survive restart.
func NextToolCallID() string {
	return fmt.Sprintf("call_%06d", toolCallCounter.Add(1))
}
