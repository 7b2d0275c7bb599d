package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Client is an abstraction over LLM providers
type Client interface {
	// Chat sends prompt, plus an optional attachment, and returns the model's reply
	Chat(ctx context.Context, prompt string, opts ChatOptions) (*ChatResponse, error)
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: config}, nil
}

// Chat implements Client. An attachment is sent inline as a blob ahead of the prompt.
func (c *GeminiClient) Chat(ctx context.Context, prompt string, opts ChatOptions) (*ChatResponse, error) {
	modelName := opts.Model
	if modelName == "" {
		modelName = c.config.Model()
	}
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for tier %s", c.config.Tier)
	}

	model := c.client.GenerativeModel(modelName)
	temperature := c.config.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	model.SetTemperature(temperature)

	var parts []genai.Part
	if opts.File != nil {
		mime := opts.File.MIMEType
		if mime == "" {
			mime = "application/pdf"
		}
		parts = append(parts, genai.Blob{MIMEType: mime, Data: opts.File.Data})
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	out, err := toChatResponse(resp)
	if err != nil {
		return nil, err
	}
	out.Model = modelName
	return out, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// toChatResponse maps the first Gemini candidate onto a multi-part message
func toChatResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	parts := make([]ContentPart, 0, len(candidate.Content.Parts))
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			parts = append(parts, ContentPart{Type: "text", Text: string(p)})
		default:
			parts = append(parts, ContentPart{Type: strings.TrimPrefix(fmt.Sprintf("%T", p), "genai.")})
		}
	}

	role := candidate.Content.Role
	if role == "" || role == "model" {
		role = "assistant"
	}
	return &ChatResponse{Message: Message{Role: role, Content: PartsContent(parts...)}}, nil
}
