package advisory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLMProvider sends advisory prompts to an OpenAI-compatible chat model.
type LLMProvider struct {
	model llms.Model
}

// NewLLMProvider builds a client that asks for JSON-object responses.
func NewLLMProvider(apiKey, baseURL, model string) (*LLMProvider, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithResponseFormat(&openai.ResponseFormat{
			Type: "json_object",
		}),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	return &LLMProvider{model: client}, nil
}

// NewLLMProviderWithModel wraps an existing model.
func NewLLMProviderWithModel(model llms.Model) *LLMProvider {
	return &LLMProvider{model: model}
}

func (p *LLMProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := p.model.GenerateContent(ctx, messages, llms.WithTemperature(0.4))
	if err != nil {
		return "", fmt.Errorf("generate advisory: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generate advisory: no choices returned")
	}
	return resp.Choices[0].Content, nil
}
