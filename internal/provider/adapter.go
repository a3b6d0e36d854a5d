package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

// Options carries the per-call account material: the materialised API key
// and an optional endpoint override from the credential.
type Options struct {
	APIKey  string
	BaseURL string
}

// Adapter streams one request against one upstream wire family. The returned
// channel carries exactly one terminal event (Done or Error) and is closed
// after it. A Start event is emitted once response headers arrive; any error
// before Start leaves the call restartable against another account.
type Adapter interface {
	Stream(ctx context.Context, model *registry.ModelDef, opts Options, req *chat.Request) <-chan chat.StreamEvent
}

// Set holds one adapter per wire family, sharing an HTTP client.
type Set struct {
	openAI     *openAIAdapter
	anthropic  *anthropicAdapter
	googleAI   *googleAIAdapter
	codeAssist *codeAssistAdapter
}

// NewSet builds the adapters on the given client. Streaming responses have no
// overall deadline, so the client should not carry a timeout.
func NewSet(httpClient *http.Client) *Set {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Set{
		openAI:     &openAIAdapter{httpClient: httpClient},
		anthropic:  &anthropicAdapter{httpClient: httpClient},
		googleAI:   &googleAIAdapter{httpClient: httpClient},
		codeAssist: &codeAssistAdapter{httpClient: httpClient},
	}
}

// ForFamily returns the adapter handling an API family, or nil.
func (s *Set) ForFamily(family registry.APIFamily) Adapter {
	switch family {
	case registry.FamilyOpenAIChat:
		return s.openAI
	case registry.FamilyAnthropicMessages:
		return s.anthropic
	case registry.FamilyGoogleGenAI:
		return s.googleAI
	case registry.FamilyCloudCodeAssist:
		return s.codeAssist
	}
	return nil
}

// Chat consumes an adapter stream and returns the final message.
func Chat(ctx context.Context, a Adapter, model *registry.ModelDef, opts Options, req *chat.Request) (*chat.AssistantMessage, error) {
	return chat.Collect(a.Stream(ctx, model, opts, req))
}

// emit sends an event unless the context is already cancelled.
func emit(ctx context.Context, ch chan<- chat.StreamEvent, ev chat.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitError(ctx context.Context, ch chan<- chat.StreamEvent, err error) {
	emit(ctx, ch, chat.StreamEvent{Type: chat.EventError, Err: err})
}

func baseURL(model *registry.ModelDef, override string) string {
	base := model.BaseURL
	if override != "" {
		base = override
	}
	return strings.TrimSuffix(base, "/")
}
