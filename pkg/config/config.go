// Package config loads and validates the VoiceRelay process configuration.
//
// Configuration is a K8s-style manifest (apiVersion/kind/metadata/spec) read
// from YAML, overlaid with environment variables. Validate is run once at
// start-up; a missing credential or endpoint is a configuration error and
// stops the process before any call is accepted.
package config

import "time"

// Manifest identifiers.
const (
	APIVersion = "voicerelay.altairalabs.ai/v1alpha1"
	KindRelay  = "RelayConfig"
)

// Generator providers.
const (
	GeneratorOpenAI = "openai"
	GeneratorMock   = "mock"
)

// Busy policies for utterances that arrive while a turn is in flight.
const (
	BusyPolicyDrop  = "drop"
	BusyPolicyQueue = "queue"
)

// ObjectMeta is a simplified metadata structure for manifests.
type ObjectMeta struct {
	Name   string            `yaml:"name,omitempty"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// RelayConfigK8s is the on-disk manifest form of Config.
type RelayConfigK8s struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata,omitempty"`
	Spec       Config     `yaml:"spec"`
}

// Config is the complete relay configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Telephony   TelephonyConfig   `yaml:"telephony"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Turn        TurnConfig        `yaml:"turn"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Logging     LoggingConfigSpec `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally reachable base URL used in the TwiML
	// stream address, e.g. "https://relay.example.com". When empty the
	// request Host header is used.
	PublicURL       string        `yaml:"publicURL,omitempty"`
	StreamPath      string        `yaml:"streamPath"`
	MaxSessions     int           `yaml:"maxSessions"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// TelephonyConfig configures outbound framing.
type TelephonyConfig struct {
	FrameSize     int           `yaml:"frameSize"`
	FrameDuration time.Duration `yaml:"frameDuration"`
	// MarkReplies sends a mark event after each completed reply.
	MarkReplies bool `yaml:"markReplies"`
	// CallerActivity reports caller speech segments detected on the
	// inbound track as events and metrics.
	CallerActivity bool `yaml:"callerActivity"`
}

// RecognizerConfig configures the streaming speech recognizer.
type RecognizerConfig struct {
	Provider          string        `yaml:"provider"`
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"apiKey,omitempty"`
	Model             string        `yaml:"model"`
	Language          string        `yaml:"language"`
	Endpointing       time.Duration `yaml:"endpointing"`
	InterimResults    bool          `yaml:"interimResults"`
	SmartFormat       bool          `yaml:"smartFormat"`
	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`
}

// GeneratorConfig configures the text-generation service.
type GeneratorConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"baseURL"`
	APIKey       string        `yaml:"apiKey,omitempty"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"maxTokens"`
	Temperature  float64       `yaml:"temperature"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
	// MockFile scripts replies for the mock provider.
	MockFile string `yaml:"mockFile,omitempty"`
}

// SynthesizerConfig configures the streaming speech synthesizer.
type SynthesizerConfig struct {
	Provider string `yaml:"provider"`
	// URL is the full streaming endpoint including voice and format query
	// parameters.
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey,omitempty"`
	// Voice overrides the voice query parameter of URL when set.
	Voice             string        `yaml:"voice,omitempty"`
	SampleRate        int           `yaml:"sampleRate"`
	WordByWord        bool          `yaml:"wordByWord"`
	FirstAudioTimeout time.Duration `yaml:"firstAudioTimeout"`
	Timeout           time.Duration `yaml:"timeout"`
}

// TurnConfig configures turn coordination.
type TurnConfig struct {
	BusyPolicy string `yaml:"busyPolicy"`
	// IdleTimeout reports a call with no final transcript for this long.
	// Zero disables the watchdog.
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// TranscriptConfig configures the per-session transcript log.
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"serviceName"`
}

// Default provider settings.
const (
	DefaultDeepgramURL   = "wss://api.deepgram.com/v1/listen"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultKyutaiURL     = "ws://127.0.0.1:8080/api/tts_streaming?voice=cml-tts/fr/2465_1943_000152-0002.wav&format=PcmMessagePack"
	DefaultKyutaiAPIKey  = "public_token"
	DefaultSystemPrompt  = "Tu es un assistant vocal amical. Réponds de manière concise en français (max 2-3 phrases)."
)

// Default returns the built-in configuration. Credentials are left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			StreamPath:      "/ws",
			MaxSessions:     64,
			ShutdownTimeout: 10 * time.Second,
		},
		Telephony: TelephonyConfig{
			FrameSize:      160,
			FrameDuration:  20 * time.Millisecond,
			MarkReplies:    true,
			CallerActivity: true,
		},
		Recognizer: RecognizerConfig{
			Provider:          "deepgram",
			URL:               DefaultDeepgramURL,
			Model:             "nova-2",
			Language:          "fr",
			Endpointing:       500 * time.Millisecond,
			InterimResults:    true,
			SmartFormat:       true,
			KeepAliveInterval: 5 * time.Second,
		},
		Generator: GeneratorConfig{
			Provider:     GeneratorOpenAI,
			BaseURL:      DefaultOpenAIBaseURL,
			Model:        "gpt-4o",
			MaxTokens:    100,
			Temperature:  0.7,
			SystemPrompt: DefaultSystemPrompt,
			Timeout:      15 * time.Second,
		},
		Synthesizer: SynthesizerConfig{
			Provider:          "kyutai",
			URL:               DefaultKyutaiURL,
			APIKey:            DefaultKyutaiAPIKey,
			SampleRate:        24000,
			WordByWord:        true,
			FirstAudioTimeout: 5 * time.Second,
			Timeout:           10 * time.Second,
		},
		Turn: TurnConfig{
			BusyPolicy: BusyPolicyDrop,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Dir:     "transcripts",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "voicerelay",
		},
		Logging: DefaultLoggingConfig(),
	}
}
