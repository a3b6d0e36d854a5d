package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupStatic(t *testing.T) {
	c := NewCatalog(nil)

	def := c.Lookup("openai/gpt-4o")
	require.NotNil(t, def)
	assert.Equal(t, "gpt-4o", def.ID)
	assert.Equal(t, FamilyOpenAIChat, def.APIFamily)
	assert.Equal(t, "https://api.openai.com/v1", def.BaseURL)
	assert.Equal(t, "openai/gpt-4o", def.FullID())

	anthropic := c.Lookup("anthropic/claude-sonnet-4-5")
	require.NotNil(t, anthropic)
	assert.Equal(t, FamilyAnthropicMessages, anthropic.APIFamily)
	assert.True(t, anthropic.SupportsReasoning)

	assert.Nil(t, c.Lookup("openai/no-such-model"))
	assert.Nil(t, c.Lookup("nope/gpt-4o"))
	assert.Nil(t, c.Lookup("not-a-full-id"))
}

func TestProviderCustomPrefix(t *testing.T) {
	p := Provider("custom:http://localhost:9000/v1/")
	require.NotNil(t, p)
	assert.Equal(t, "http://localhost:9000/v1", p.BaseURL)
	assert.Equal(t, FamilyOpenAIChat, p.APIFamily)
	assert.Equal(t, ListOpenAI, p.Listing)

	assert.Nil(t, Provider("custom:"))
	assert.Nil(t, Provider("unknown-provider"))
}

func TestLookupCustomProvider(t *testing.T) {
	c := NewCatalog(nil)

	// Without a snapshot, any model id resolves against the embedded base URL.
	def := c.Lookup("custom:http://localhost:9000/v1/llama-3.3-70b")
	require.NotNil(t, def)
	assert.Equal(t, "llama-3.3-70b", def.ID)
	assert.Equal(t, "custom:http://localhost:9000/v1", def.Provider)
	assert.Equal(t, "http://localhost:9000/v1", def.BaseURL)
	assert.Equal(t, FamilyOpenAIChat, def.APIFamily)

	assert.Nil(t, c.Lookup("custom:http://localhost:9000/v1/"))
	assert.Nil(t, c.Lookup("custom:llama"))
}

func TestFetchModelsCustomProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"deepseek-r1"}]}`))
	}))
	defer srv.Close()

	providerID := "custom:" + srv.URL + "/v1"
	c := NewCatalog(srv.Client())
	defs, err := c.FetchModelsForProvider(context.Background(), providerID, "", "")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "deepseek-r1", defs[0].ID)

	// The snapshot is keyed by the full custom provider id and serves lookups.
	def := c.Lookup(providerID + "/deepseek-r1")
	require.NotNil(t, def)
	assert.True(t, def.SupportsReasoning)
	assert.Equal(t, srv.URL+"/v1", def.BaseURL)
}

func TestLooksLikeReasoningModel(t *testing.T) {
	assert.True(t, LooksLikeReasoningModel("deepseek-r1-distill"))
	assert.True(t, LooksLikeReasoningModel("qwen3-thinking"))
	assert.True(t, LooksLikeReasoningModel("o3-mini"))
	assert.False(t, LooksLikeReasoningModel("gpt-4o"))
	assert.False(t, LooksLikeReasoningModel("llama-3.3-70b"))
}

func TestFetchModelsStaticProvider(t *testing.T) {
	c := NewCatalog(nil)
	defs, err := c.FetchModelsForProvider(context.Background(), "anthropic", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, defs)
	for _, def := range defs {
		assert.Equal(t, "anthropic", def.Provider)
	}
}

func TestFetchModelsOpenAIListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"ft:custom-r1"},{"id":""}]}`))
	}))
	defer srv.Close()

	c := NewCatalog(srv.Client())
	defs, err := c.FetchModelsForProvider(context.Background(), "openai", "sk-test", srv.URL+"/models")
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// Known ids keep the static metadata.
	assert.Equal(t, "GPT-4o", defs[0].DisplayName)
	assert.Equal(t, 16384, defs[0].MaxTokens)

	// Unknown ids get defaults and a reasoning guess.
	assert.Equal(t, "ft:custom-r1", defs[1].ID)
	assert.True(t, defs[1].SupportsReasoning)
	assert.Equal(t, 128000, defs[1].ContextWindow)

	// The snapshot now serves dynamic lookups.
	def := c.Lookup("openai/ft:custom-r1")
	require.NotNil(t, def)
	assert.Equal(t, FamilyOpenAIChat, def.APIFamily)
}

func TestFetchModelsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCatalog(srv.Client())
	_, err := c.FetchModelsForProvider(context.Background(), "openai", "bad", srv.URL+"/models")
	require.Error(t, err)
	var fErr *FetchError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, http.StatusUnauthorized, fErr.StatusCode)
	assert.True(t, fErr.IsAuthError)
}

func TestFetchModelsOllamaTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.3:latest"},{"name":"qwq:32b"}]}`))
	}))
	defer srv.Close()

	c := NewCatalog(srv.Client())
	defs, err := c.FetchModelsForProvider(context.Background(), "ollama", "", srv.URL+"/api/tags")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "llama3.3:latest", defs[0].ID)
	assert.Equal(t, FamilyOpenAIChat, defs[0].APIFamily)
}
