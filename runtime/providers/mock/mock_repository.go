package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ResponseRepository provides scripted replies. Implementations may key
// replies by utterance text, by turn number, or both.
type ResponseRepository interface {
	// GetReply returns the reply for the given utterance. turn is 1-indexed.
	GetReply(ctx context.Context, utterance string, turn int) (Reply, error)
}

// Reply is one scripted generator answer.
type Reply struct {
	Content string `yaml:"content"`
	// Delay simulates generation latency.
	Delay time.Duration `yaml:"delay,omitempty"`
	// Error makes the generator fail with this message instead of replying.
	Error string `yaml:"error,omitempty"`
}

// Config is the structure of a mock reply file.
type Config struct {
	// DefaultResponse is used when nothing more specific matches.
	DefaultResponse string `yaml:"defaultResponse"`

	// Replies keyed by exact utterance text.
	Replies map[string]Reply `yaml:"replies,omitempty"`

	// Turns holds replies by turn order; entry 0 answers turn 1.
	Turns []Reply `yaml:"turns,omitempty"`
}

// InMemoryRepository stores replies in memory. Safe for concurrent use.
type InMemoryRepository struct {
	mu     sync.RWMutex
	config Config
}

// NewInMemoryRepository creates a repository that answers every utterance
// with defaultResponse until more specific replies are set.
func NewInMemoryRepository(defaultResponse string) *InMemoryRepository {
	return &InMemoryRepository{config: Config{
		DefaultResponse: defaultResponse,
		Replies:         make(map[string]Reply),
	}}
}

// SetReply scripts the reply for an exact utterance.
func (r *InMemoryRepository) SetReply(utterance string, reply Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Replies[utterance] = reply
}

// GetReply implements ResponseRepository.
func (r *InMemoryRepository) GetReply(_ context.Context, utterance string, turn int) (Reply, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(&r.config, utterance, turn), nil
}

// FileRepository loads replies from a YAML file.
type FileRepository struct {
	config *Config
}

// NewFileRepository reads and parses a mock reply file.
func NewFileRepository(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read mock file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse mock file: %w", err)
	}
	return &FileRepository{config: &cfg}, nil
}

// GetReply implements ResponseRepository.
func (r *FileRepository) GetReply(_ context.Context, utterance string, turn int) (Reply, error) {
	return lookup(r.config, utterance, turn), nil
}

// lookup prefers an exact utterance match, then the turn script, then the default.
func lookup(cfg *Config, utterance string, turn int) Reply {
	if reply, ok := cfg.Replies[utterance]; ok {
		return reply
	}
	if turn >= 1 && turn <= len(cfg.Turns) {
		return cfg.Turns[turn-1]
	}
	return Reply{Content: cfg.DefaultResponse}
}
