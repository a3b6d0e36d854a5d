package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zeroai-dev/zeroai/internal/config"
)

// expiryMarginMs is subtracted from every computed token expiry so tokens
// are considered stale five minutes before the provider does.
const expiryMarginMs = 5 * 60 * 1000

// OAuthProvider is one login/refresh implementation.
type OAuthProvider interface {
	ID() string
	DisplayName() string

	// Login runs the interactive flow and returns the credential to store.
	Login(ctx context.Context, cb *Callbacks) (*config.Credential, error)

	// Refresh exchanges the refresh token for a fresh access token. The
	// returned credential keeps the previous refresh token and extras when
	// the provider omits them from the response.
	Refresh(ctx context.Context, cred config.Credential) (config.Credential, error)
}

// Engine holds the registered OAuth providers and serves as the store's
// refresh callback.
type Engine struct {
	providers map[string]OAuthProvider
}

// NewEngine registers the built-in flows on the given HTTP client.
func NewEngine(httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	e := &Engine{providers: make(map[string]OAuthProvider)}
	e.Register(newAnthropicProvider(httpClient))
	e.Register(newGoogleProvider("gemini-cli", "Gemini CLI", httpClient))
	e.Register(newGoogleProvider("antigravity", "Antigravity", httpClient))
	e.Register(newGoogleProvider("cloud-code-assist", "Cloud Code Assist", httpClient))
	e.Register(newQwenProvider(httpClient))
	return e
}

// Register adds or replaces a provider flow.
func (e *Engine) Register(p OAuthProvider) {
	e.providers[p.ID()] = p
}

// Provider returns the flow for a provider id, or nil.
func (e *Engine) Provider(id string) OAuthProvider {
	return e.providers[id]
}

// ProviderIDs lists the registered flow ids.
func (e *Engine) ProviderIDs() []string {
	ids := make([]string, 0, len(e.providers))
	for id := range e.providers {
		ids = append(ids, id)
	}
	return ids
}

// Login runs the flow for a provider and stores the result as a new account.
func (e *Engine) Login(ctx context.Context, store *config.Store, providerID string, cb *Callbacks) (string, error) {
	p := e.Provider(providerID)
	if p == nil {
		return "", fmt.Errorf("no login flow for provider %s", providerID)
	}
	cred, err := p.Login(ctx, cb)
	if err != nil {
		return "", err
	}
	label := cred.Email
	if label == "" {
		label = p.DisplayName()
	}
	return store.AddAccount(providerID, label, *cred)
}

// RefreshFunc adapts the engine to the store's injected refresh callback.
func (e *Engine) RefreshFunc() config.RefreshFunc {
	return func(ctx context.Context, providerID string, cred config.Credential) (config.Credential, error) {
		p := e.Provider(providerID)
		if p == nil {
			return config.Credential{}, fmt.Errorf("no refresh flow for provider %s", providerID)
		}
		return p.Refresh(ctx, cred)
	}
}

func expiryMs(nowMs int64, expiresInSec int64) int64 {
	return nowMs + expiresInSec*1000 - expiryMarginMs
}
