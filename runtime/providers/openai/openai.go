// Package openai provides the OpenAI chat-completions generator.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
)

// HTTP constants
const (
	completionsPath     = "/chat/completions"
	contentTypeHeader   = "Content-Type"
	applicationJSON     = "application/json"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	providerName = "OpenAI"
)

// Provider implements providers.Generator for OpenAI chat completions.
type Provider struct {
	providers.BaseProvider
	model    string
	baseURL  string
	apiKey   string
	timeout  time.Duration
	defaults providers.Defaults
}

// NewProvider creates a new OpenAI generator. timeout bounds each Generate
// call; zero uses providers.DefaultHTTPTimeout.
func NewProvider(id, model, baseURL, apiKey string, timeout time.Duration, defaults providers.Defaults) *Provider {
	if timeout <= 0 {
		timeout = providers.DefaultHTTPTimeout
	}
	return &Provider{
		BaseProvider: providers.NewBaseProvider(id, providers.NewHTTPClient(timeout)),
		model:        model,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		timeout:      timeout,
		defaults:     defaults,
	}
}

func init() {
	providers.RegisterGeneratorFactory("openai", func(spec providers.GeneratorSpec) (providers.Generator, error) {
		if spec.APIKey == "" {
			return nil, pkgerrors.Configuration("openai", "NewProvider", errors.New("API key is required"))
		}
		p := NewProvider(spec.ID, spec.Model, spec.BaseURL, spec.APIKey, spec.Timeout, spec.Defaults)
		if spec.HTTPClient != nil {
			p.BaseProvider = providers.NewBaseProvider(spec.ID, spec.HTTPClient)
		}
		return p, nil
	})
}

// OpenAI API request/response structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []any of parts in responses
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (p *Provider) prepareMessages(req providers.GenerateRequest) []openAIMessage {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: providers.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}

// applyRequestDefaults applies provider defaults to zero-valued request parameters
func (p *Provider) applyRequestDefaults(req providers.GenerateRequest) (temperature float32, maxTokens int) {
	temperature = req.Temperature
	if temperature == 0 {
		temperature = p.defaults.Temperature
	}

	maxTokens = req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.defaults.MaxTokens
	}

	return temperature, maxTokens
}

// Generate sends a chat completion request and returns the first choice.
// The call is bounded by the provider timeout in addition to ctx.
func (p *Provider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temperature, maxTokens := p.applyRequestDefaults(req)
	openAIReq := openAIRequest{
		Model:       p.model,
		Messages:    p.prepareMessages(req),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	respBody, err := p.MakeJSONRequest(ctx, p.baseURL+completionsPath, openAIReq, providers.RequestHeaders{
		contentTypeHeader:   applicationJSON,
		authorizationHeader: bearerPrefix + p.apiKey,
	}, providerName)
	if err != nil {
		return providers.GenerateResponse{Latency: time.Since(start)}, err
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return providers.GenerateResponse{Latency: time.Since(start)},
			pkgerrors.Decode(providerName, "Generate", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if openAIResp.Error != nil {
		return providers.GenerateResponse{Latency: time.Since(start)},
			pkgerrors.Transport(providerName, "Generate", fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message))
	}

	if len(openAIResp.Choices) == 0 {
		return providers.GenerateResponse{Latency: time.Since(start)},
			pkgerrors.Decode(providerName, "Generate", errors.New("no choices in response"))
	}

	choice := openAIResp.Choices[0]
	return providers.GenerateResponse{
		Content:      strings.TrimSpace(extractContentString(choice.Message.Content)),
		FinishReason: choice.FinishReason,
		Usage: providers.Usage{
			PromptTokens:     openAIResp.Usage.PromptTokens,
			CompletionTokens: openAIResp.Usage.CompletionTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// extractContentString extracts text content from OpenAI's response content
// which can be either a string or an array of content parts
func extractContentString(content any) string {
	if str, ok := content.(string); ok {
		return str
	}

	parts, ok := content.([]any)
	if !ok {
		return ""
	}
	var text strings.Builder
	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok || partMap["type"] != "text" {
			continue
		}
		if s, ok := partMap["text"].(string); ok {
			text.WriteString(s)
		}
	}
	return text.String()
}
