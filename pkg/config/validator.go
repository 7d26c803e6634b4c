package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return "config validation error: " + e.Field + ": " + e.Message + " (got: " + e.Value + ")"
	}
	return "config validation error: " + e.Field + ": " + e.Message
}

// Validate checks every section and returns all problems joined into a
// single configuration error.
func (c *Config) Validate() error {
	var errs []error

	required := func(field, value string) {
		if value == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "is required"})
		}
	}
	endpoint := func(field, value string, schemes ...string) {
		if value == "" {
			required(field, value)
			return
		}
		u, err := url.Parse(value)
		if err != nil || u.Host == "" || !slices.Contains(schemes, u.Scheme) {
			errs = append(errs, &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("must be an absolute %v URL", schemes),
				Value:   value,
			})
		}
	}
	positive := func(field string, v int64) {
		if v <= 0 {
			errs = append(errs, &ValidationError{Field: field, Message: "must be positive", Value: fmt.Sprint(v)})
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: "must be in 1..65535", Value: fmt.Sprint(c.Server.Port)})
	}
	positive("server.maxSessions", int64(c.Server.MaxSessions))
	positive("server.shutdownTimeout", int64(c.Server.ShutdownTimeout))
	if c.Server.PublicURL != "" {
		endpoint("server.publicURL", c.Server.PublicURL, "http", "https")
	}

	positive("telephony.frameSize", int64(c.Telephony.FrameSize))
	positive("telephony.frameDuration", int64(c.Telephony.FrameDuration))

	required("recognizer.apiKey", c.Recognizer.APIKey)
	endpoint("recognizer.url", c.Recognizer.URL, "ws", "wss")

	switch c.Generator.Provider {
	case GeneratorOpenAI:
		required("generator.apiKey", c.Generator.APIKey)
		endpoint("generator.baseURL", c.Generator.BaseURL, "http", "https")
		required("generator.model", c.Generator.Model)
	case GeneratorMock:
	default:
		errs = append(errs, &ValidationError{
			Field:   "generator.provider",
			Message: "must be one of: openai, mock",
			Value:   c.Generator.Provider,
		})
	}
	positive("generator.maxTokens", int64(c.Generator.MaxTokens))
	positive("generator.timeout", int64(c.Generator.Timeout))

	endpoint("synthesizer.url", c.Synthesizer.URL, "ws", "wss")
	positive("synthesizer.sampleRate", int64(c.Synthesizer.SampleRate))
	positive("synthesizer.firstAudioTimeout", int64(c.Synthesizer.FirstAudioTimeout))
	positive("synthesizer.timeout", int64(c.Synthesizer.Timeout))

	switch c.Turn.BusyPolicy {
	case BusyPolicyDrop, BusyPolicyQueue:
	default:
		errs = append(errs, &ValidationError{
			Field:   "turn.busyPolicy",
			Message: "must be one of: drop, queue",
			Value:   c.Turn.BusyPolicy,
		})
	}

	if c.Transcript.Enabled {
		required("transcript.dir", c.Transcript.Dir)
	}

	if c.Tracing.Enabled {
		required("tracing.endpoint", c.Tracing.Endpoint)
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return pkgerrors.Configuration("config", "Validate", errors.Join(errs...))
}
