// Package mock provides a scripted generator for tests and offline runs.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
)

// DefaultResponse is returned when no repository is configured.
const DefaultResponse = "Mock response"

// Provider is a generator that returns scripted replies without making any
// API calls. It records every request for later inspection.
type Provider struct {
	id         string
	repository ResponseRepository

	mu       sync.Mutex
	requests []providers.GenerateRequest
}

// NewProvider creates a mock generator answering every request with
// DefaultResponse.
func NewProvider(id string) *Provider {
	return NewProviderWithRepository(id, NewInMemoryRepository(DefaultResponse))
}

// NewProviderWithRepository creates a mock generator backed by repo.
func NewProviderWithRepository(id string, repo ResponseRepository) *Provider {
	return &Provider{id: id, repository: repo}
}

func init() {
	providers.RegisterGeneratorFactory("mock", func(spec providers.GeneratorSpec) (providers.Generator, error) {
		if path, ok := spec.AdditionalConfig["file"].(string); ok && path != "" {
			repo, err := NewFileRepository(path)
			if err != nil {
				return nil, pkgerrors.Configuration("mock", "NewProvider", err)
			}
			return NewProviderWithRepository(spec.ID, repo), nil
		}
		return NewProvider(spec.ID), nil
	})
}

// ID returns the provider ID.
func (m *Provider) ID() string {
	return m.id
}

// Generate returns the scripted reply for the last user message.
func (m *Provider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	start := time.Now()

	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := len(m.requests)
	m.mu.Unlock()

	utterance := lastUserMessage(req)
	reply, err := m.repository.GetReply(ctx, utterance, turn)
	if err != nil {
		return providers.GenerateResponse{}, fmt.Errorf("mock repository: %w", err)
	}

	logger.Debug("MockProvider generate", "provider_id", m.id, "turn", turn, "utterance", utterance)

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return providers.GenerateResponse{}, pkgerrors.Timeout("mock", "Generate", ctx.Err())
			}
			return providers.GenerateResponse{}, ctx.Err()
		}
	}

	if reply.Error != "" {
		return providers.GenerateResponse{}, pkgerrors.Transport("mock", "Generate", errors.New(reply.Error))
	}

	return providers.GenerateResponse{
		Content:      reply.Content,
		FinishReason: "stop",
		Latency:      time.Since(start),
	}, nil
}

// Close is a no-op.
func (m *Provider) Close() error {
	return nil
}

// Requests returns a copy of every request received so far.
func (m *Provider) Requests() []providers.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]providers.GenerateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func lastUserMessage(req providers.GenerateRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == providers.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
