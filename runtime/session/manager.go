package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AltairaLabs/VoiceRelay/runtime/events"
	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
	"github.com/AltairaLabs/VoiceRelay/runtime/providers"
	"github.com/AltairaLabs/VoiceRelay/runtime/stt"
	"github.com/AltairaLabs/VoiceRelay/runtime/tts"
)

var (
	// ErrTooManySessions is returned when MaxSessions calls are already live.
	ErrTooManySessions = errors.New("too many concurrent sessions")
	// ErrManagerClosed is returned after Shutdown.
	ErrManagerClosed = errors.New("session manager is shut down")
)

// SpanStarter opens the root trace span for a call.
type SpanStarter interface {
	StartSession(ctx context.Context, sessionID string)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxSessions caps concurrent calls. Zero or less means unlimited.
	MaxSessions int
	Session     Config

	Recognizer  stt.Service
	Generator   providers.Generator
	Synthesizer tts.StreamingService
	Bus         *events.EventBus
	Tracer      SpanStarter
}

// Manager runs sessions for accepted telephony connections, caps their
// number and drains them on shutdown.
type Manager struct {
	cfg ManagerConfig
	sem *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool
	wg       sync.WaitGroup
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*managedSession),
	}
	if cfg.MaxSessions > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return m
}

// Serve runs a session for conn and blocks until it ends. The connection is
// always closed on return.
func (m *Manager) Serve(ctx context.Context, conn Telephony) error {
	if m.sem != nil && !m.sem.TryAcquire(1) {
		_ = conn.Close()
		logger.WarnContext(ctx, "Rejecting call, session limit reached", "max_sessions", m.cfg.MaxSessions)
		return ErrTooManySessions
	}
	if m.sem != nil {
		defer m.sem.Release(1)
	}

	cfg := m.cfg.Session
	cfg.ID = uuid.New().String()
	s := New(cfg, Deps{
		Telephony:   conn,
		Recognizer:  m.cfg.Recognizer,
		Generator:   m.cfg.Generator,
		Synthesizer: m.cfg.Synthesizer,
		Bus:         m.cfg.Bus,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	m.sessions[s.ID()] = &managedSession{session: s, cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}()

	if m.cfg.Tracer != nil {
		m.cfg.Tracer.StartSession(ctx, s.ID())
	}
	return s.Run(ctx)
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Session returns a live session by ID.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// Shutdown rejects new calls, cancels every live session and waits for them
// to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, ms := range m.sessions {
		ms.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
