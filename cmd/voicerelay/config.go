package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/VoiceRelay/pkg/config"
)

// EnvPrefix namespaces the environment variables bound to flags.
const EnvPrefix = "VOICERELAY"

// Flag names shared by serve and validate.
const (
	flagConfig          = "config"
	flagHost            = "host"
	flagPort            = "port"
	flagPublicURL       = "public-url"
	flagMaxSessions     = "max-sessions"
	flagBusyPolicy      = "busy-policy"
	flagTranscriptDir   = "transcript-dir"
	flagNoTranscript    = "no-transcript"
	flagGenerator       = "generator"
	flagModel           = "model"
	flagMockFile        = "mock-file"
	flagLogLevel        = "log-level"
	flagLogFormat       = "log-format"
	flagTracingEndpoint = "tracing-endpoint"
)

// addConfigFlags registers the configuration overrides on cmd.
func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP(flagConfig, "c", "", "RelayConfig manifest (YAML); built-in defaults when empty")
	flags.String(flagHost, "", "Listen host")
	flags.Int(flagPort, 0, "Listen port")
	flags.String(flagPublicURL, "", "Externally reachable base URL used in the TwiML stream address")
	flags.Int(flagMaxSessions, 0, "Maximum concurrent calls")
	flags.String(flagBusyPolicy, "", "Utterances arriving mid-turn: drop or queue")
	flags.String(flagTranscriptDir, "", "Directory for per-call transcripts")
	flags.Bool(flagNoTranscript, false, "Disable transcripts")
	flags.String(flagGenerator, "", "Text generator provider: openai or mock")
	flags.String(flagModel, "", "Text generator model")
	flags.String(flagMockFile, "", "Scripted replies for the mock generator (YAML)")
	flags.String(flagLogLevel, "", "Default log level: trace, debug, info, warn, error")
	flags.String(flagLogFormat, "", "Log format: text or json")
	flags.String(flagTracingEndpoint, "", "OTLP/HTTP endpoint; enables tracing")
}

// newViper binds cmd's flags and VOICERELAY_* variables, e.g.
// VOICERELAY_PUBLIC_URL for --public-url.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// loadConfig builds the effective configuration: the manifest (or
// defaults), then the legacy environment variables, then VOICERELAY_*
// variables and flags. The result is validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path := v.GetString(flagConfig); path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	overlay(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay copies every explicitly set flag or variable onto cfg.
func overlay(cfg *config.Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) != 0 {
			*dst = v.GetInt(key)
		}
	}

	setString(flagHost, &cfg.Server.Host)
	setInt(flagPort, &cfg.Server.Port)
	setString(flagPublicURL, &cfg.Server.PublicURL)
	setInt(flagMaxSessions, &cfg.Server.MaxSessions)
	setString(flagBusyPolicy, &cfg.Turn.BusyPolicy)
	setString(flagTranscriptDir, &cfg.Transcript.Dir)
	if v.GetBool(flagNoTranscript) {
		cfg.Transcript.Enabled = false
	}
	setString(flagGenerator, &cfg.Generator.Provider)
	setString(flagModel, &cfg.Generator.Model)
	setString(flagMockFile, &cfg.Generator.MockFile)
	setString(flagLogLevel, &cfg.Logging.DefaultLevel)
	setString(flagLogFormat, &cfg.Logging.Format)
	if v.IsSet(flagTracingEndpoint) && v.GetString(flagTracingEndpoint) != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v.GetString(flagTracingEndpoint)
	}
}
