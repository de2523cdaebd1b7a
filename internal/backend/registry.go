// ABOUTME: Registry maps model identifiers to provider connectors
// ABOUTME: Unknown models silently resolve to the primary provider

package backend

import (
	"github.com/chatrelay/chatrelay/internal/config"
)

// DefaultModel is assigned to newly registered conversations.
const DefaultModel = "gpt-4.1-mini"

// ModelInfo is one selectable model with its display title.
type ModelInfo struct {
	ID    string
	Title string
}

// Category groups models for the selection menu.
type Category struct {
	Key    string
	Title  string
	Models []ModelInfo
}

// Catalog returns the model selection menu: categories in display order.
// Display grouping is independent of routing; routing uses the per-provider
// model sets below.
func Catalog() []Category {
	return []Category{
		{Key: "openai", Title: "OpenAI models", Models: []ModelInfo{
			{ID: "gpt-4o-mini", Title: "GPT-4o mini"},
			{ID: "gpt-4o", Title: "GPT-4o"},
			{ID: "gpt-4.1", Title: "GPT-4.1"},
			{ID: "gpt-4.1-mini", Title: "GPT-4.1 Mini"},
			{ID: "gpt-4.1-nano", Title: "GPT-4.1 Nano"},
			{ID: "o4-mini", Title: "o4 Mini"},
			{ID: "o3", Title: "o3"},
			{ID: "o3-pro", Title: "o3-pro"},
		}},
		{Key: "gemini", Title: "Gemini models", Models: []ModelInfo{
			{ID: "gemini-2.5-pro", Title: "Gemini 2.5 Pro"},
			{ID: "gemini-2.5-flash", Title: "Gemini 2.5 Flash"},
			{ID: "gemini-2.0-flash", Title: "Gemini 2.0 Flash"},
			{ID: "gemini-2.0-flash-lite", Title: "Gemini 2.0 Flash Lite"},
		}},
		{Key: "deepseek", Title: "DeepSeek models", Models: []ModelInfo{
			{ID: "deepseek-chat", Title: "DeepSeek Chat"},
			{ID: "deepseek-reasoner", Title: "DeepSeek Reasoner"},
			{ID: "deepseek-r1-distill-llama-70b", Title: "DeepSeek R1 Distill"},
		}},
		{Key: "llama", Title: "LLaMA & Mistral models", Models: []ModelInfo{
			{ID: "mistral-saba-24b", Title: "Mistral Saba 24B"},
			{ID: "meta-llama/llama-4-maverick-17b-128e-instruct", Title: "LLaMA 4 Maverick"},
			{ID: "compound-beta", Title: "Compound Beta"},
			{ID: "compound-beta-mini", Title: "Compound Beta Mini"},
		}},
		{Key: "grok", Title: "Grok", Models: []ModelInfo{
			{ID: "grok-4-0709", Title: "Grok 4"},
		}},
		{Key: "glm", Title: "GLM", Models: []ModelInfo{
			{ID: "GLM-4.5", Title: "GLM 4.5"},
			{ID: "GLM-4.5-X", Title: "GLM 4.5 X"},
			{ID: "GLM-4.5-Air", Title: "GLM 4.5 Air"},
		}},
	}
}

// ModelTitle returns the display title for a model ID, or the ID itself when
// the model is not in the catalog.
func ModelTitle(modelID string) string {
	for _, cat := range Catalog() {
		for _, m := range cat.Models {
			if m.ID == modelID {
				return m.Title
			}
		}
	}
	return modelID
}

// Per-provider routing sets. Note that the distilled R1 model is served by
// groq even though the menu lists it under DeepSeek.
var (
	geminiModels   = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash", "gemini-2.0-flash-lite"}
	deepseekModels = []string{"deepseek-chat", "deepseek-reasoner"}
	groqModels     = []string{"mistral-saba-24b", "meta-llama/llama-4-maverick-17b-128e-instruct", "deepseek-r1-distill-llama-70b", "compound-beta", "compound-beta-mini"}
	grokModels     = []string{"grok-4-0709"}
	glmModels      = []string{"GLM-4.5", "GLM-4.5-X", "GLM-4.5-Air"}
)

// Default provider endpoints, overridable via config.
const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultDeepSeekURL = "https://api.deepseek.com"
	defaultGroqURL     = "https://api.groq.com/openai/v1"
	defaultGrokURL     = "https://api.x.ai/v1"
	defaultGLMURL      = "https://api.z.ai/api/paas/v4"
)

// Registry holds the fixed set of provider connectors and the designated
// primary. Resolution never fails: an unrecognized model identifier routes
// to the primary provider.
type Registry struct {
	connectors []*Client
	primary    *Client
}

// NewRegistry builds the connector set from provider credentials.
// OpenAI is the primary provider and also serves image generation.
func NewRegistry(cfg config.ProvidersConfig) *Registry {
	primary := NewClient("openai", orDefault(cfg.OpenAI.BaseURL, defaultOpenAIURL), cfg.OpenAI.APIKey, nil)
	return &Registry{
		primary: primary,
		connectors: []*Client{
			NewClient("gemini", orDefault(cfg.Gemini.BaseURL, defaultGeminiURL), cfg.Gemini.APIKey, geminiModels),
			NewClient("deepseek", orDefault(cfg.DeepSeek.BaseURL, defaultDeepSeekURL), cfg.DeepSeek.APIKey, deepseekModels),
			NewClient("groq", orDefault(cfg.Groq.BaseURL, defaultGroqURL), cfg.Groq.APIKey, groqModels),
			NewClient("grok", orDefault(cfg.Grok.BaseURL, defaultGrokURL), cfg.Grok.APIKey, grokModels),
			NewClient("glm", orDefault(cfg.GLM.BaseURL, defaultGLMURL), cfg.GLM.APIKey, glmModels),
		},
	}
}

// Resolve returns the connector whose model set contains modelID, or the
// primary connector when no set matches.
func (r *Registry) Resolve(modelID string) *Client {
	for _, c := range r.connectors {
		if c.HasModel(modelID) {
			return c
		}
	}
	return r.primary
}

// Primary returns the designated primary connector (used for image generation).
func (r *Registry) Primary() *Client {
	return r.primary
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
