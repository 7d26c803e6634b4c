package providers

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// GeneratorSpec holds the configuration needed to create a generator.
type GeneratorSpec struct {
	ID       string
	Type     string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Defaults Defaults

	// HTTPClient overrides the client built by the factory. Optional.
	HTTPClient *http.Client

	// AdditionalConfig holds provider-specific settings.
	AdditionalConfig map[string]any
}

// GeneratorFactory creates a generator from a spec.
type GeneratorFactory func(spec GeneratorSpec) (Generator, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]GeneratorFactory)
)

// RegisterGeneratorFactory registers a factory function for a generator type.
func RegisterGeneratorFactory(generatorType string, factory GeneratorFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[generatorType] = factory
}

// RegisteredTypes returns the registered generator type names, sorted.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CreateGeneratorFromSpec creates a generator implementation from a spec.
// Returns an error if the generator type is unsupported.
func CreateGeneratorFromSpec(spec GeneratorSpec) (Generator, error) {
	if spec.BaseURL == "" && spec.Type == "openai" {
		spec.BaseURL = "https://api.openai.com/v1"
	}
	if spec.ID == "" {
		spec.ID = spec.Type
	}

	factoriesMu.RLock()
	factory, exists := factories[spec.Type]
	factoriesMu.RUnlock()
	if !exists {
		return nil, &UnsupportedProviderError{ProviderType: spec.Type}
	}

	return factory(spec)
}

// UnsupportedProviderError is returned when a generator type is not recognized.
type UnsupportedProviderError struct {
	ProviderType string
}

func (e *UnsupportedProviderError) Error() string {
	return "unsupported provider type: " + e.ProviderType
}
