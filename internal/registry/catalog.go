package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// FetchError describes a failed live model listing.
type FetchError struct {
	StatusCode int
	Message    string
	// IsAuthError marks 401/403/404 responses so callers can distinguish a
	// bad key from a transient failure.
	IsAuthError bool
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model listing failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model listing failed: %s", e.Message)
}

// Catalog merges the static model table with per-provider dynamic snapshots
// produced by live GET /models calls. Lookup prefers static metadata.
type Catalog struct {
	mu      sync.RWMutex
	dynamic map[string][]*ModelDef

	httpClient *http.Client
}

// NewCatalog creates a catalog using the provided HTTP client for live
// listings. A nil client falls back to a default with a short timeout.
func NewCatalog(httpClient *http.Client) *Catalog {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Catalog{
		dynamic:    make(map[string][]*ModelDef),
		httpClient: httpClient,
	}
}

// Lookup resolves a full model id ("provider/model") to its definition. The
// static table wins; the dynamic snapshot covers models discovered live.
// Custom providers accept any model id, since the declared endpoint is the
// only authority on what it serves. Returns nil when the provider or model
// is unknown.
func (c *Catalog) Lookup(fullID string) *ModelDef {
	if def, ok := staticModels[fullID]; ok {
		return def
	}

	provider, modelID, ok := SplitFullID(fullID)
	if !ok {
		return nil
	}

	c.mu.RLock()
	for _, def := range c.dynamic[provider] {
		if def.ID == modelID {
			c.mu.RUnlock()
			return def
		}
	}
	c.mu.RUnlock()

	if strings.HasPrefix(provider, CustomProviderPrefix) {
		if p := Provider(provider); p != nil {
			return defaultModelDef(p, modelID)
		}
	}
	return nil
}

// Snapshot returns the cached dynamic models for a provider.
func (c *Catalog) Snapshot(provider string) []*ModelDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dynamic[provider]
}

// FetchModelsForProvider obtains the model list for one provider and stores
// it as the dynamic snapshot. Statically listed providers return the table
// without any network call. modelsURL overrides the provider's default
// listing endpoint when non-empty.
func (c *Catalog) FetchModelsForProvider(ctx context.Context, providerID, apiKey, modelsURL string) ([]*ModelDef, error) {
	p := Provider(providerID)
	if p == nil {
		return nil, &FetchError{Message: fmt.Sprintf("unknown provider %q", providerID)}
	}

	if p.Listing == ListStatic && !strings.HasPrefix(providerID, CustomProviderPrefix) {
		return StaticModelsForProvider(providerID), nil
	}

	url := modelsURL
	if url == "" {
		if p.Listing == ListOllama {
			url = strings.TrimSuffix(strings.TrimSuffix(p.BaseURL, "/"), "/v1") + "/api/tags"
		} else {
			url = strings.TrimSuffix(p.BaseURL, "/") + "/models"
		}
	}

	body, err := c.get(ctx, url, apiKey)
	if err != nil {
		return nil, err
	}

	var defs []*ModelDef
	if p.Listing == ListOllama {
		defs = parseOllamaTags(p, body)
	} else {
		defs = parseOpenAIModels(p, body)
	}
	if defs == nil {
		return nil, &FetchError{Message: "no models in listing response"}
	}

	c.mu.Lock()
	c.dynamic[providerID] = defs
	c.mu.Unlock()
	log.Debugf("fetched %d models for provider %s", len(defs), providerID)
	return defs, nil
}

func (c *Catalog) get(ctx context.Context, url, apiKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Message: err.Error()}
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return "", &FetchError{Message: errRead.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			StatusCode:  resp.StatusCode,
			Message:     string(bodyBytes),
			IsAuthError: resp.StatusCode == 401 || resp.StatusCode == 403 || resp.StatusCode == 404,
		}
	}
	return string(bodyBytes), nil
}

// parseOpenAIModels reads an OpenAI shaped {"data":[{"id":...}]} listing,
// keeping static metadata for known ids and assigning defaults to the rest.
// Models absent from the live listing are omitted.
func parseOpenAIModels(p *ProviderDef, body string) []*ModelDef {
	data := gjson.Get(body, "data")
	if !data.Exists() || !data.IsArray() {
		return nil
	}
	defs := make([]*ModelDef, 0)
	data.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		if known, ok := staticModels[p.ID+"/"+id]; ok {
			defs = append(defs, known)
			return true
		}
		defs = append(defs, defaultModelDef(p, id))
		return true
	})
	return defs
}

// defaultModelDef assigns conservative metadata to a model the static table
// does not know.
func defaultModelDef(p *ProviderDef, id string) *ModelDef {
	return &ModelDef{
		ID:                id,
		DisplayName:       id,
		Provider:          p.ID,
		APIFamily:         p.APIFamily,
		BaseURL:           p.BaseURL,
		SupportsReasoning: LooksLikeReasoningModel(id),
		InputModalities:   textOnly(),
		ContextWindow:     128000,
		MaxTokens:         8192,
	}
}

// parseOllamaTags reads an Ollama {"models":[{"name":...}]} listing.
func parseOllamaTags(p *ProviderDef, body string) []*ModelDef {
	models := gjson.Get(body, "models")
	if !models.Exists() || !models.IsArray() {
		return nil
	}
	defs := make([]*ModelDef, 0)
	models.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("name").String()
		if name == "" {
			return true
		}
		defs = append(defs, &ModelDef{
			ID:                name,
			DisplayName:       name,
			Provider:          p.ID,
			APIFamily:         FamilyOpenAIChat,
			BaseURL:           p.BaseURL,
			SupportsReasoning: LooksLikeReasoningModel(name),
			InputModalities:   textOnly(),
			ContextWindow:     32768,
			MaxTokens:         8192,
		})
		return true
	})
	return defs
}
