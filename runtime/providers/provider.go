// Package providers defines the text-generation abstraction used to answer
// each finalized utterance.
//
// A Generator takes a system instruction and the conversation so far and
// returns one reply. Concrete generators live in sub-packages and register
// a factory by type name; see RegisterGeneratorFactory.
package providers

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest represents a request to a generator.
type GenerateRequest struct {
	System      string    `json:"system"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Usage reports token counts for a single request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerateResponse represents a reply from a generator.
type GenerateResponse struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
}

// Defaults holds default request parameters applied to zero-valued fields.
type Defaults struct {
	Temperature float32
	MaxTokens   int
}

// Generator produces one reply per request.
type Generator interface {
	ID() string
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// Close releases idle connections.
	Close() error
}

// UserTurn builds a single-utterance request.
func UserTurn(system, utterance string) GenerateRequest {
	return GenerateRequest{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: utterance}},
	}
}
