package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/AltairaLabs/VoiceRelay/pkg/errors"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvDeepgramAPIKey = "DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	EnvKyutaiURI      = "KYUTAI_TTS_URI"
	EnvKyutaiAPIKey   = "KYUTAI_API_KEY"
	EnvServerHost     = "TWILIO_SERVER_HOST"
	EnvServerPort     = "TWILIO_SERVER_PORT"
	EnvPublicURL      = "PUBLIC_URL"
	EnvTranscriptDir  = "TRANSCRIPT_DIR"
)

// LoadFile reads a RelayConfig manifest. Fields absent from the file keep
// their Default values.
func LoadFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, pkgerrors.Configuration("config", "LoadFile", err)
	}
	return Parse(data)
}

// Parse decodes a RelayConfig manifest.
func Parse(data []byte) (*Config, error) {
	manifest := RelayConfigK8s{Spec: *Default()}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, pkgerrors.Configuration("config", "Parse", fmt.Errorf("failed to parse RelayConfig: %w", err))
	}
	if manifest.Kind != KindRelay {
		return nil, pkgerrors.Configuration("config", "Parse",
			fmt.Errorf("unexpected kind %q, want %q", manifest.Kind, KindRelay))
	}
	if manifest.APIVersion != APIVersion {
		return nil, pkgerrors.Configuration("config", "Parse",
			fmt.Errorf("unsupported apiVersion %q, want %q", manifest.APIVersion, APIVersion))
	}
	return &manifest.Spec, nil
}

// ApplyEnv overlays environment variables onto c. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvDeepgramAPIKey, &c.Recognizer.APIKey)
	set(EnvOpenAIAPIKey, &c.Generator.APIKey)
	set(EnvKyutaiURI, &c.Synthesizer.URL)
	set(EnvKyutaiAPIKey, &c.Synthesizer.APIKey)
	set(EnvServerHost, &c.Server.Host)
	set(EnvPublicURL, &c.Server.PublicURL)
	set(EnvTranscriptDir, &c.Transcript.Dir)

	if v, ok := lookup(EnvServerPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return pkgerrors.Configuration("config", "ApplyEnv", fmt.Errorf("%s: %w", EnvServerPort, err))
		}
		c.Server.Port = port
	}
	return nil
}

// SynthesizerURL returns the synthesizer endpoint with the Voice override applied.
func (c *SynthesizerConfig) SynthesizerURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	if c.Voice != "" {
		q := u.Query()
		q.Set("voice", c.Voice)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
