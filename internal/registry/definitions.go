// Package registry provides model metadata: a static table of known
// providers and models, merged with live model listings for providers that
// expose one. The dispatch core consults it to resolve a full model id into
// the upstream base URL, wire family and capabilities.
package registry

import "strings"

// APIFamily is the wire format a model speaks.
type APIFamily string

const (
	FamilyOpenAIChat        APIFamily = "openai-chat"
	FamilyAnthropicMessages APIFamily = "anthropic-messages"
	FamilyGoogleGenAI       APIFamily = "google-genai"
	FamilyCloudCodeAssist   APIFamily = "cloud-code-assist"
)

// ModelDef describes one model offered by one provider.
type ModelDef struct {
	// ID is the short model id (without the provider prefix).
	ID string `json:"id"`

	// DisplayName is a human readable model name.
	DisplayName string `json:"display_name"`

	// Provider is the provider id this model belongs to.
	Provider string `json:"provider"`

	// APIFamily selects the adapter used for this model.
	APIFamily APIFamily `json:"api_family"`

	// BaseURL is the upstream endpoint root.
	BaseURL string `json:"base_url"`

	// SupportsReasoning marks models that emit thinking deltas.
	SupportsReasoning bool `json:"supports_reasoning"`

	// InputModalities lists accepted input kinds ("text", "image").
	InputModalities []string `json:"input_modalities"`

	// ContextWindow and MaxTokens are advisory capability metadata.
	ContextWindow int `json:"context_window"`
	MaxTokens     int `json:"max_tokens"`

	// ExtraHeaders are added verbatim to every upstream request.
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// FullID returns "<provider>/<id>".
func (m *ModelDef) FullID() string {
	return m.Provider + "/" + m.ID
}

// Listing describes how a provider's model list is obtained.
type Listing int

const (
	// ListStatic providers only serve the built-in table.
	ListStatic Listing = iota
	// ListOpenAI providers expose GET {base}/models in OpenAI shape.
	ListOpenAI
	// ListOllama providers expose GET {base}/api/tags.
	ListOllama
)

// ProviderDef describes one known upstream provider.
type ProviderDef struct {
	ID        string
	BaseURL   string
	APIFamily APIFamily
	Listing   Listing

	// EnvKeys are provider specific environment variables consulted by
	// credential discovery, in priority order.
	EnvKeys []string
}

// CustomProviderPrefix marks user declared OpenAI-compatible endpoints whose
// provider id embeds the base URL, e.g. "custom:http://localhost:8000/v1".
const CustomProviderPrefix = "custom:"

// providers is the build-time provider table. Unknown providers are rejected
// by model lookup.
var providers = map[string]*ProviderDef{
	"openai":            {ID: "openai", BaseURL: "https://api.openai.com/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"OPENAI_API_KEY"}},
	"anthropic":         {ID: "anthropic", BaseURL: "https://api.anthropic.com", APIFamily: FamilyAnthropicMessages, Listing: ListStatic, EnvKeys: []string{"ANTHROPIC_API_KEY"}},
	"google-genai":      {ID: "google-genai", BaseURL: "https://generativelanguage.googleapis.com/v1beta", APIFamily: FamilyGoogleGenAI, Listing: ListStatic, EnvKeys: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
	"gemini-cli":        {ID: "gemini-cli", BaseURL: "https://cloudcode-pa.googleapis.com", APIFamily: FamilyCloudCodeAssist, Listing: ListStatic},
	"antigravity":       {ID: "antigravity", BaseURL: "https://cloudcode-pa.googleapis.com", APIFamily: FamilyCloudCodeAssist, Listing: ListStatic},
	"bedrock":           {ID: "bedrock", BaseURL: "https://bedrock-runtime.us-east-1.amazonaws.com", APIFamily: FamilyAnthropicMessages, Listing: ListStatic, EnvKeys: []string{"AWS_BEARER_TOKEN_BEDROCK"}},
	"xai":               {ID: "xai", BaseURL: "https://api.x.ai/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"XAI_API_KEY"}},
	"groq":              {ID: "groq", BaseURL: "https://api.groq.com/openai/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"GROQ_API_KEY"}},
	"deepseek":          {ID: "deepseek", BaseURL: "https://api.deepseek.com/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"DEEPSEEK_API_KEY"}},
	"together":          {ID: "together", BaseURL: "https://api.together.xyz/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"TOGETHER_API_KEY"}},
	"fireworks":         {ID: "fireworks", BaseURL: "https://api.fireworks.ai/inference/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"FIREWORKS_API_KEY"}},
	"nebius":            {ID: "nebius", BaseURL: "https://api.studio.nebius.com/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"NEBIUS_API_KEY"}},
	"siliconflow":       {ID: "siliconflow", BaseURL: "https://api.siliconflow.com/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"SILICONFLOW_API_KEY"}},
	"minimax":           {ID: "minimax", BaseURL: "https://api.minimax.io/v1", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"MINIMAX_API_KEY"}},
	"moonshot":          {ID: "moonshot", BaseURL: "https://api.moonshot.ai/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"MOONSHOT_API_KEY"}},
	"zhipuai":           {ID: "zhipuai", BaseURL: "https://api.z.ai/api/paas/v4", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"ZHIPUAI_API_KEY", "ZAI_API_KEY"}},
	"openrouter":        {ID: "openrouter", BaseURL: "https://openrouter.ai/api/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"OPENROUTER_API_KEY"}},
	"huggingface":       {ID: "huggingface", BaseURL: "https://router.huggingface.co/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"HF_TOKEN", "HUGGINGFACE_API_KEY"}},
	"mistral":           {ID: "mistral", BaseURL: "https://api.mistral.ai/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"MISTRAL_API_KEY"}},
	"cerebras":          {ID: "cerebras", BaseURL: "https://api.cerebras.ai/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"CEREBRAS_API_KEY"}},
	"perplexity":        {ID: "perplexity", BaseURL: "https://api.perplexity.ai", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"PERPLEXITY_API_KEY"}},
	"novita":            {ID: "novita", BaseURL: "https://api.novita.ai/v3/openai", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"NOVITA_API_KEY"}},
	"baseten":           {ID: "baseten", BaseURL: "https://inference.baseten.co/v1", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"BASETEN_API_KEY"}},
	"qwen":              {ID: "qwen", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"DASHSCOPE_API_KEY", "QWEN_API_KEY"}},
	"ollama":            {ID: "ollama", BaseURL: "http://localhost:11434/v1", APIFamily: FamilyOpenAIChat, Listing: ListOllama, EnvKeys: []string{"OLLAMA_API_KEY"}},
	"vllm":              {ID: "vllm", BaseURL: "http://localhost:8000/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI, EnvKeys: []string{"VLLM_API_KEY"}},
	"lmstudio":          {ID: "lmstudio", BaseURL: "http://localhost:1234/v1", APIFamily: FamilyOpenAIChat, Listing: ListOpenAI},
	"github-copilot":    {ID: "github-copilot", BaseURL: "https://api.githubcopilot.com", APIFamily: FamilyOpenAIChat, Listing: ListStatic, EnvKeys: []string{"GITHUB_COPILOT_API_KEY"}},
	"cloud-code-assist": {ID: "cloud-code-assist", BaseURL: "https://cloudcode-pa.googleapis.com", APIFamily: FamilyCloudCodeAssist, Listing: ListStatic},
}

// SplitFullID splits a full model id into its provider and model halves.
// Regular ids split on the first slash; custom:<baseURL> ids split on the
// last so the embedded URL stays intact.
func SplitFullID(fullID string) (providerID, modelID string, ok bool) {
	idx := strings.Index(fullID, "/")
	if strings.HasPrefix(fullID, CustomProviderPrefix) {
		idx = strings.LastIndex(fullID, "/")
	}
	if idx <= 0 || idx == len(fullID)-1 {
		return "", "", false
	}
	return fullID[:idx], fullID[idx+1:], true
}

// Provider returns the static definition for a provider id, resolving
// custom:<baseURL> providers on the fly.
func Provider(id string) *ProviderDef {
	if strings.HasPrefix(id, CustomProviderPrefix) {
		base := strings.TrimSuffix(strings.TrimPrefix(id, CustomProviderPrefix), "/")
		if base == "" {
			return nil
		}
		return &ProviderDef{ID: id, BaseURL: base, APIFamily: FamilyOpenAIChat, Listing: ListOpenAI}
	}
	return providers[id]
}

// Providers returns all statically known provider ids.
func Providers() []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	return ids
}

func textOnly() []string { return []string{"text"} }

func multimodal() []string { return []string{"text", "image"} }

// staticModels is the build-time model table, keyed by full model id.
var staticModels = buildStaticModels([]*ModelDef{
	{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: "openai", SupportsReasoning: false, InputModalities: multimodal(), ContextWindow: 128000, MaxTokens: 16384},
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: "openai", SupportsReasoning: false, InputModalities: multimodal(), ContextWindow: 128000, MaxTokens: 16384},
	{ID: "gpt-4.1", DisplayName: "GPT-4.1", Provider: "openai", SupportsReasoning: false, InputModalities: multimodal(), ContextWindow: 1047576, MaxTokens: 32768},
	{ID: "o3", DisplayName: "o3", Provider: "openai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 100000},
	{ID: "o4-mini", DisplayName: "o4-mini", Provider: "openai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 100000},

	{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1", Provider: "anthropic", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 32000},
	{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", Provider: "anthropic", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 64000},
	{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Provider: "anthropic", InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 8192},
	{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Provider: "anthropic", InputModalities: multimodal(), ContextWindow: 200000, MaxTokens: 8192},

	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Provider: "google-genai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Provider: "google-genai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite", Provider: "google-genai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", Provider: "google-genai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},

	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro (CLI)", Provider: "gemini-cli", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash (CLI)", Provider: "gemini-cli", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview (Antigravity)", Provider: "antigravity", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro (Antigravity)", Provider: "antigravity", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 1048576, MaxTokens: 65536},

	{ID: "deepseek-chat", DisplayName: "DeepSeek V3", Provider: "deepseek", InputModalities: textOnly(), ContextWindow: 131072, MaxTokens: 8192},
	{ID: "deepseek-reasoner", DisplayName: "DeepSeek R1", Provider: "deepseek", SupportsReasoning: true, InputModalities: textOnly(), ContextWindow: 131072, MaxTokens: 65536},
	{ID: "grok-4", DisplayName: "Grok 4", Provider: "xai", SupportsReasoning: true, InputModalities: multimodal(), ContextWindow: 262144, MaxTokens: 65536},
	{ID: "grok-3-mini", DisplayName: "Grok 3 Mini", Provider: "xai", SupportsReasoning: true, InputModalities: textOnly(), ContextWindow: 131072, MaxTokens: 16384},
	{ID: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B", Provider: "groq", InputModalities: textOnly(), ContextWindow: 131072, MaxTokens: 32768},
	{ID: "kimi-k2-0905-preview", DisplayName: "Kimi K2", Provider: "moonshot", InputModalities: textOnly(), ContextWindow: 262144, MaxTokens: 16384},
	{ID: "glm-4.6", DisplayName: "GLM 4.6", Provider: "zhipuai", SupportsReasoning: true, InputModalities: textOnly(), ContextWindow: 200000, MaxTokens: 98304},
	{ID: "qwen3-coder-plus", DisplayName: "Qwen3 Coder Plus", Provider: "qwen", InputModalities: textOnly(), ContextWindow: 1048576, MaxTokens: 65536},
	{ID: "MiniMax-M2", DisplayName: "MiniMax M2", Provider: "minimax", SupportsReasoning: true, InputModalities: textOnly(), ContextWindow: 196608, MaxTokens: 65536},
	{ID: "sonar-pro", DisplayName: "Sonar Pro", Provider: "perplexity", InputModalities: textOnly(), ContextWindow: 200000, MaxTokens: 8192},
	{ID: "gpt-4o", DisplayName: "GPT-4o (Copilot)", Provider: "github-copilot", InputModalities: multimodal(), ContextWindow: 128000, MaxTokens: 16384},
})

func buildStaticModels(defs []*ModelDef) map[string]*ModelDef {
	out := make(map[string]*ModelDef, len(defs))
	for _, def := range defs {
		p := providers[def.Provider]
		if p != nil {
			def.APIFamily = p.APIFamily
			def.BaseURL = p.BaseURL
		}
		out[def.FullID()] = def
	}
	return out
}

// StaticModelsForProvider returns the built-in models of one provider.
func StaticModelsForProvider(provider string) []*ModelDef {
	var out []*ModelDef
	for _, def := range staticModels {
		if def.Provider == provider {
			out = append(out, def)
		}
	}
	return out
}

// reasoningHints are id substrings that mark a model as reasoning capable
// when no static metadata is available.
var reasoningHints = []string{"thinking", "reason", "-r1", "/r1", "o1", "o3"}

// LooksLikeReasoningModel guesses reasoning support from the model id.
func LooksLikeReasoningModel(id string) bool {
	lower := strings.ToLower(id)
	for _, hint := range reasoningHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
