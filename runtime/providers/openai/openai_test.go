package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
)

func completion(content string) string {
	return `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":` +
		mustJSON(content) + `},"finish_reason":"stop"}],"usage":{"prompt_tokens":30,"completion_tokens":9,"total_tokens":39}}`
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestNewProvider(t *testing.T) {
	provider := NewProvider("test-openai", "gpt-4o", "https://api.openai.com/v1/", "sk-test", 0,
		providers.Defaults{Temperature: 0.7, MaxTokens: 100})

	if provider.ID() != "test-openai" {
		t.Errorf("Expected ID 'test-openai', got '%s'", provider.ID())
	}
	if provider.baseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL mismatch: got '%s'", provider.baseURL)
	}
	if provider.timeout != providers.DefaultHTTPTimeout {
		t.Errorf("Expected default timeout, got %v", provider.timeout)
	}
}

func TestGenerate_Success(t *testing.T) {
	var got openAIRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion(" Bonjour, comment puis-je vous aider? "))
	}))
	defer server.Close()

	provider := NewProvider("openai", "gpt-4o", server.URL, "sk-test", time.Second,
		providers.Defaults{Temperature: 0.7, MaxTokens: 100})

	resp, err := provider.Generate(context.Background(), providers.UserTurn("Sois bref.", "Bonjour"))
	require.NoError(t, err)

	assert.Equal(t, "Bonjour, comment puis-je vous aider?", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 30, resp.Usage.PromptTokens)
	assert.Equal(t, 9, resp.Usage.CompletionTokens)
	assert.Positive(t, resp.Latency)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Sois bref.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Bonjour", got.Messages[1].Content)
}

func TestGenerate_RequestOverridesDefaults(t *testing.T) {
	var got openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, completion("ok"))
	}))
	defer server.Close()

	provider := NewProvider("openai", "gpt-4o", server.URL, "k", time.Second,
		providers.Defaults{Temperature: 0.7, MaxTokens: 100})

	req := providers.UserTurn("", "Salut")
	req.MaxTokens = 20
	req.Temperature = 0.2
	_, err := provider.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 20, got.MaxTokens)
	assert.InDelta(t, 0.2, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 1, "no system message when System is empty")
}

func TestGenerate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	provider := NewProvider("openai", "gpt-4o", server.URL, "bad", time.Second, providers.Defaults{})
	_, err := provider.Generate(context.Background(), providers.UserTurn("", "Bonjour"))

	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransport)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
	assert.Contains(t, err.Error(), "401")
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	provider := NewProvider("openai", "gpt-4o", server.URL, "k", 50*time.Millisecond, providers.Defaults{})
	start := time.Now()
	_, err := provider.Generate(context.Background(), providers.UserTurn("", "Bonjour"))

	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGenerate_MalformedAndEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind error
	}{
		{"not json", `{`, pkgerrors.ErrDecode},
		{"no choices", `{"choices":[]}`, pkgerrors.ErrDecode},
		{"error body", `{"error":{"message":"overloaded"}}`, pkgerrors.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			provider := NewProvider("openai", "gpt-4o", server.URL, "k", time.Second, providers.Defaults{})
			_, err := provider.Generate(context.Background(), providers.UserTurn("", "x"))
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestExtractContentString(t *testing.T) {
	assert.Equal(t, "plain", extractContentString("plain"))
	assert.Equal(t, "ab", extractContentString([]any{
		map[string]any{"type": "text", "text": "a"},
		map[string]any{"type": "image_url"},
		map[string]any{"type": "text", "text": "b"},
	}))
	assert.Equal(t, "", extractContentString(nil))
}

func TestFactoryRegistration(t *testing.T) {
	_, err := providers.CreateGeneratorFromSpec(providers.GeneratorSpec{Type: "openai", Model: "gpt-4o"})
	assert.ErrorIs(t, err, pkgerrors.ErrConfiguration)

	gen, err := providers.CreateGeneratorFromSpec(providers.GeneratorSpec{
		Type: "openai", Model: "gpt-4o", APIKey: "sk", Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", gen.ID())
	assert.Equal(t, "https://api.openai.com/v1", gen.(*Provider).baseURL)
	assert.NoError(t, gen.Close())
}
