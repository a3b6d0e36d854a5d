package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/zeroai-dev/zeroai/internal/chat"
)

// accumulator assembles the final assistant message while an adapter relays
// deltas, and owns the tool-call lifecycle bookkeeping.
type accumulator struct {
	model    string
	provider string

	text      strings.Builder
	thinking  strings.Builder
	signature string

	tools   []*toolAccum
	byIndex map[int]*toolAccum

	stop  chat.StopReason
	usage chat.Usage
}

type toolAccum struct {
	index int
	id    string
	name  string
	args  strings.Builder
	ended bool
}

func newAccumulator(model, providerID string) *accumulator {
	return &accumulator{
		model:    model,
		provider: providerID,
		byIndex:  make(map[int]*toolAccum),
	}
}

// startTool registers a tool call and emits its start event. A missing id is
// fabricated so downstream protocols always see one.
func (a *accumulator) startTool(ctx context.Context, ch chan<- chat.StreamEvent, index int, id, name string) *toolAccum {
	if id == "" {
		id = chat.NextToolCallID()
	}
	t := &toolAccum{index: index, id: id, name: name}
	a.tools = append(a.tools, t)
	a.byIndex[index] = t
	emit(ctx, ch, chat.StreamEvent{Type: chat.EventToolCallStart, Index: index, ToolID: id, ToolName: name})
	return t
}

func (a *accumulator) tool(index int) *toolAccum {
	return a.byIndex[index]
}

// nextIndex returns the append-order index for upstreams that omit one.
func (a *accumulator) nextIndex() int {
	return len(a.tools)
}

// lastTool returns the most recently started call, or nil before the first.
func (a *accumulator) lastTool() *toolAccum {
	if len(a.tools) == 0 {
		return nil
	}
	return a.tools[len(a.tools)-1]
}

func (a *accumulator) appendToolArgs(ctx context.Context, ch chan<- chat.StreamEvent, t *toolAccum, delta string) {
	if t == nil || delta == "" {
		return
	}
	t.args.WriteString(delta)
	emit(ctx, ch, chat.StreamEvent{Type: chat.EventToolCallDelta, Index: t.index, Text: delta})
}

// endTool emits the ToolCallEnd event with parsed arguments, defaulting to an
// empty object when the accumulated fragments do not form valid JSON.
func (a *accumulator) endTool(ctx context.Context, ch chan<- chat.StreamEvent, t *toolAccum) {
	if t == nil || t.ended {
		return
	}
	t.ended = true
	args := t.args.String()
	if !json.Valid([]byte(args)) {
		args = "{}"
	}
	t.args.Reset()
	t.args.WriteString(args)
	emit(ctx, ch, chat.StreamEvent{
		Type:     chat.EventToolCallEnd,
		Index:    t.index,
		ToolID:   t.id,
		ToolName: t.name,
		ToolCall: &chat.ToolCall{ID: t.id, Name: t.name, Arguments: args},
	})
}

// endOpenTools closes any tool call the upstream never terminated explicitly.
func (a *accumulator) endOpenTools(ctx context.Context, ch chan<- chat.StreamEvent) {
	for _, t := range a.tools {
		a.endTool(ctx, ch, t)
	}
}

// finish builds the terminal Done event.
func (a *accumulator) finish(ctx context.Context, ch chan<- chat.StreamEvent) {
	var blocks []chat.Block
	if a.thinking.Len() > 0 {
		blocks = append(blocks, chat.Block{Type: chat.BlockThinking, Text: a.thinking.String(), Signature: a.signature})
	}
	if a.text.Len() > 0 {
		blocks = append(blocks, chat.Block{Type: chat.BlockText, Text: a.text.String()})
	}
	for _, t := range a.tools {
		blocks = append(blocks, chat.Block{Type: chat.BlockToolCall, ID: t.id, Name: t.name, Arguments: t.args.String()})
	}

	stop := a.stop
	if stop == "" {
		if len(a.tools) > 0 {
			stop = chat.StopToolUse
		} else {
			stop = chat.StopEndTurn
		}
	}

	emit(ctx, ch, chat.StreamEvent{Type: chat.EventDone, Message: &chat.AssistantMessage{
		Model:      a.model,
		Provider:   a.provider,
		Blocks:     blocks,
		StopReason: stop,
		Usage:      a.usage,
	}})
}
