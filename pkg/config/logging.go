package config

import (
	"fmt"

	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

// LoggingConfigSpec defines the logging configuration parameters.
type LoggingConfigSpec struct {
	// DefaultLevel is the default log level for all modules.
	// Supported values: debug, info, warn, error.
	DefaultLevel string `yaml:"defaultLevel,omitempty"`

	// Format specifies the output format: "json" or "text".
	Format string `yaml:"format,omitempty"`

	// CommonFields are key-value pairs added to every log entry.
	CommonFields map[string]string `yaml:"commonFields,omitempty"`

	// Modules configures logging for specific modules.
	// Module names use dot notation (e.g., runtime.session).
	Modules []ModuleLoggingConfig `yaml:"modules,omitempty"`
}

// ModuleLoggingConfig configures logging for a specific module.
type ModuleLoggingConfig struct {
	// Name is the module name using dot notation, e.g. "runtime.stt".
	Name string `yaml:"name"`

	// Level overrides the default level for this module.
	Level string `yaml:"level"`
}

// LogLevel constants for programmatic use.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogFormat constants for programmatic use.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// DefaultLoggingConfig returns a LoggingConfigSpec with sensible defaults.
func DefaultLoggingConfig() LoggingConfigSpec {
	return LoggingConfigSpec{
		DefaultLevel: LogLevelInfo,
		Format:       LogFormatText,
	}
}

// Validate validates the LoggingConfigSpec.
func (c *LoggingConfigSpec) Validate() error {
	if c.DefaultLevel != "" && !isValidLogLevel(c.DefaultLevel) {
		return &ValidationError{
			Field:   "logging.defaultLevel",
			Message: "must be one of: debug, info, warn, error",
			Value:   c.DefaultLevel,
		}
	}

	if c.Format != "" && c.Format != LogFormatJSON && c.Format != LogFormatText {
		return &ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, text",
			Value:   c.Format,
		}
	}

	for i, mod := range c.Modules {
		if mod.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("logging.modules[%d].name", i),
				Message: "module name is required",
			}
		}
		if mod.Level != "" && !isValidLogLevel(mod.Level) {
			return &ValidationError{
				Field:   "logging.modules[" + mod.Name + "].level",
				Message: "must be one of: debug, info, warn, error",
				Value:   mod.Level,
			}
		}
	}

	return nil
}

// ToLoggerSpec converts the spec into the logger package's form.
func (c *LoggingConfigSpec) ToLoggerSpec() *logger.LoggingConfigSpec {
	spec := &logger.LoggingConfigSpec{
		DefaultLevel: c.DefaultLevel,
		Format:       c.Format,
		CommonFields: c.CommonFields,
	}
	for _, mod := range c.Modules {
		spec.Modules = append(spec.Modules, logger.ModuleLoggingSpec{Name: mod.Name, Level: mod.Level})
	}
	return spec
}

func isValidLogLevel(level string) bool {
	switch level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}
