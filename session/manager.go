// Package session tracks the single active voice session. The app allows
// one live voice stream at a time; the manager makes that ownership an
// explicit acquire/release protocol instead of global mutable state.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBusy is returned when a session is already active.
var ErrBusy = errors.New("a voice session is already active")

// Session is a held claim on the voice pipeline. Release it when the stream
// ends, on any exit path.
type Session struct {
	ConversationID string
	MessageID      string
	StartedAt      time.Time

	release func()
	once    sync.Once
}

// Release returns the claim. Safe to call more than once.
func (s *Session) Release() {
	s.once.Do(s.release)
}

// Manager is the single-owner lock over the voice pipeline.
type Manager struct {
	mu     sync.Mutex
	active *Session
	logger zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "session_manager").Logger()}
}

// Acquire claims the voice pipeline for one conversation/message pair.
// Returns ErrBusy if another session holds it.
func (m *Manager) Acquire(conversationID, messageID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, fmt.Errorf("acquire for conversation %s: %w", conversationID, ErrBusy)
	}
	s := &Session{
		ConversationID: conversationID,
		MessageID:      messageID,
		StartedAt:      time.Now(),
	}
	s.release = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.active == s {
			m.active = nil
			m.logger.Debug().Str("conversation_id", s.ConversationID).Msg("Voice session released")
		}
	}
	m.active = s
	m.logger.Info().
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Msg("Voice session acquired")
	return s, nil
}

// Active returns the current session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
