// Package llm provides the AI inference collaborator: model configuration and chat clients.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for quick, cheap reviews
	TierLite ModelTier = "lite"
	// TierStandard is the default review model
	TierStandard ModelTier = "standard"
	// TierAdvanced is for the most thorough reviews
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// InferenceMode selects how the resume reaches the model
type InferenceMode string

const (
	// ModeFile attaches the uploaded PDF to the request
	ModeFile InferenceMode = "file"
	// ModeText inlines the text extracted from the PDF into the prompt
	ModeText InferenceMode = "text"
)

// DefaultTemperature keeps reviews stable between runs
const DefaultTemperature float32 = 0.1

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Tier        ModelTier
	Temperature float32
	Mode        InferenceMode
}

// DefaultConfig returns the default Gemini configuration
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Tier:        TierStandard,
		Temperature: DefaultTemperature,
		Mode:        ModeFile,
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// Model returns the model for the configured tier
func (c *Config) Model() string {
	return c.GetModel(c.Tier)
}

// WithModel returns a copy of the config using model for tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := *c
	next.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return &next
}
