package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

// DefaultHTTPTimeout bounds a single generation request when the caller sets none.
const DefaultHTTPTimeout = 30 * time.Second

// BaseProvider provides common functionality shared across generator implementations.
// It should be embedded in concrete provider structs.
type BaseProvider struct {
	id     string
	client *http.Client
}

// NewBaseProvider creates a new BaseProvider. A nil client is replaced by
// NewHTTPClient(DefaultHTTPTimeout).
func NewBaseProvider(id string, client *http.Client) BaseProvider {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPTimeout)
	}
	return BaseProvider{
		id:     id,
		client: client,
	}
}

// NewHTTPClient returns an HTTP client whose transport records a client span
// for every request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// ID returns the provider ID
func (b *BaseProvider) ID() string {
	return b.id
}

// Close closes the HTTP client's idle connections
func (b *BaseProvider) Close() error {
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
	return nil
}

// GetHTTPClient returns the underlying HTTP client for provider-specific use
func (b *BaseProvider) GetHTTPClient() *http.Client {
	return b.client
}

// RequestHeaders is a map of HTTP header key-value pairs
type RequestHeaders map[string]string

// MakeJSONRequest performs a JSON HTTP POST request with common error handling.
// providerName is used for logging and error context.
func (b *BaseProvider) MakeJSONRequest(
	ctx context.Context,
	url string,
	request any,
	headers RequestHeaders,
	providerName string,
) ([]byte, error) {
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return b.MakeRawRequest(ctx, url, reqBytes, headers, providerName)
}

// MakeRawRequest performs an HTTP POST request with pre-marshaled body.
// A deadline or client timeout becomes a timeout-kind error; any other
// failure, including a non-200 status, is transport-kind.
func (b *BaseProvider) MakeRawRequest(
	ctx context.Context,
	url string,
	body []byte,
	headers RequestHeaders,
	providerName string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	logHeaders := make(map[string]string)
	for k, v := range headers {
		if k == "Authorization" || k == "x-api-key" {
			logHeaders[k] = "***"
		} else {
			logHeaders[k] = v
		}
	}
	logger.APIRequest(providerName, http.MethodPost, url, logHeaders, json.RawMessage(body))

	resp, err := b.client.Do(req)
	if err != nil {
		logger.APIResponse(providerName, 0, "", err)
		if isTimeout(ctx, err) {
			return nil, pkgerrors.Timeout(providerName, "request", err)
		}
		return nil, pkgerrors.Transport(providerName, "request", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, pkgerrors.Timeout(providerName, "read response", err)
		}
		return nil, pkgerrors.Transport(providerName, "read response", err)
	}

	logger.APIResponse(providerName, resp.StatusCode, string(respBytes), nil)

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.Transport(providerName, "request",
			ParseHTTPError(providerName, resp.StatusCode, respBytes)).WithStatusCode(resp.StatusCode)
	}

	return respBytes, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
