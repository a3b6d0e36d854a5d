// Package dispatch routes a full model id to the right provider adapter,
// resolving accounts from the store and rotating them on rate limits.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/chat"
	"github.com/zeroai-dev/zeroai/internal/config"
	"github.com/zeroai-dev/zeroai/internal/provider"
	"github.com/zeroai-dev/zeroai/internal/registry"
)

// ErrModelNotFound reports an unknown full model id.
var ErrModelNotFound = errors.New("model not found")

// UsageRecorder receives per-request token accounting. Implementations must
// tolerate concurrent calls.
type UsageRecorder interface {
	Record(fullModelID string, usage chat.Usage)
}

// AdapterSet resolves the adapter for an API family. *provider.Set is the
// production implementation.
type AdapterSet interface {
	ForFamily(family registry.APIFamily) provider.Adapter
}

// Dispatcher is the routing core shared by both protocol gateways.
type Dispatcher struct {
	store    *config.Store
	catalog  *registry.Catalog
	adapters AdapterSet
	usage    UsageRecorder
}

// New wires the dispatcher. usage may be nil.
func New(store *config.Store, catalog *registry.Catalog, adapters AdapterSet, usage UsageRecorder) *Dispatcher {
	return &Dispatcher{
		store:    store,
		catalog:  catalog,
		adapters: adapters,
		usage:    usage,
	}
}

// SplitModelID splits "provider/model" into its halves, keeping the base URL
// of a custom:<baseURL> provider intact. Both halves must be non-empty.
func SplitModelID(fullID string) (providerID, modelID string, err error) {
	providerID, modelID, ok := registry.SplitFullID(fullID)
	if !ok {
		return "", "", fmt.Errorf("invalid model id %q, want provider/model", fullID)
	}
	return providerID, modelID, nil
}

// Stream resolves the model and account, then relays the adapter stream.
// Rate-limit errors seen before any non-Start event trigger account rotation;
// afterwards the stream is already partially written and errors surface
// directly.
func (d *Dispatcher) Stream(ctx context.Context, fullID string, req *chat.Request) <-chan chat.StreamEvent {
	out := make(chan chat.StreamEvent, 16)
	go func() {
		defer close(out)
		d.run(ctx, fullID, req, out)
	}()
	return out
}

// Chat drains a dispatched stream into the final message.
func (d *Dispatcher) Chat(ctx context.Context, fullID string, req *chat.Request) (*chat.AssistantMessage, error) {
	return chat.Collect(d.Stream(ctx, fullID, req))
}

func (d *Dispatcher) run(ctx context.Context, fullID string, req *chat.Request, out chan<- chat.StreamEvent) {
	providerID, _, err := SplitModelID(fullID)
	if err != nil {
		d.fail(ctx, out, err)
		return
	}
	model := d.catalog.Lookup(fullID)
	if model == nil {
		d.fail(ctx, out, fmt.Errorf("%w: %s", ErrModelNotFound, fullID))
		return
	}
	adapter := d.adapters.ForFamily(model.APIFamily)
	if adapter == nil {
		d.fail(ctx, out, fmt.Errorf("no adapter for api family %q", model.APIFamily))
		return
	}

	tried := make(map[string]bool)
	var lastErr error

	for {
		sel, errResolve := d.store.ResolveAccount(ctx, providerID)
		if errResolve != nil {
			if lastErr != nil {
				d.fail(ctx, out, lastErr)
			} else {
				d.fail(ctx, out, fmt.Errorf("%w: %v", provider.ErrAuthRequired, errResolve))
			}
			return
		}
		if tried[sel.AccountID] {
			// Rotation wrapped around; every account is rate limited.
			d.fail(ctx, out, lastErr)
			return
		}
		tried[sel.AccountID] = true

		opts := provider.Options{APIKey: sel.APIKey, BaseURL: sel.BaseURL}
		events := adapter.Stream(ctx, model, opts, req)

		started := false
		restart := false
		for ev := range events {
			switch ev.Type {
			case chat.EventStart:
				if !forward(ctx, out, ev) {
					return
				}
			case chat.EventError:
				if !started && isRateLimited(ev.Err) && !isNonRetryable(ev.Err) {
					lastErr = ev.Err
					backoff := computeBackoff(defaultBackoffMs, ev.Err)
					if errRL := d.store.RateLimitAccount(providerID, sel.AccountID, backoff); errRL != nil {
						log.Warnf("failed to mark %s account %s rate limited: %v", providerID, sel.AccountID, errRL)
					}
					log.Debugf("account %s rate limited on %s, rotating (backoff %dms)", sel.AccountID, fullID, backoff)
					restart = true
					break
				}
				d.fail(ctx, out, ev.Err)
				return
			case chat.EventDone:
				if ev.Message != nil {
					ev.Message.Model = fullID
					ev.Message.Provider = providerID
					if d.usage != nil {
						d.usage.Record(fullID, ev.Message.Usage)
					}
				}
				forward(ctx, out, ev)
				return
			default:
				started = true
				if !forward(ctx, out, ev) {
					return
				}
			}
			if restart {
				break
			}
		}
		if !restart {
			// Adapter closed without a terminal event.
			d.fail(ctx, out, fmt.Errorf("upstream stream ended unexpectedly"))
			return
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, out chan<- chat.StreamEvent, err error) {
	forward(ctx, out, chat.StreamEvent{Type: chat.EventError, Err: err})
}

func forward(ctx context.Context, out chan<- chat.StreamEvent, ev chat.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
