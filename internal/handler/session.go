package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/mobility/config"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session
// =============================================================================

// Session represents one client connection.
//
// Responses are queued on a send channel drained by a single writer
// goroutine, so concurrently dispatched requests never interleave frames.
// There is no session resumption; a reconnecting client gets a new session.
//
// Session is safe for concurrent use.
type Session struct {
	// Immutable fields (no lock needed)
	ID        string
	Remote    string
	CreatedAt time.Time

	// Connection - protected by connMu
	connMu sync.RWMutex
	conn   net.Conn

	// Send channel - protected by sendMu
	sendMu sync.RWMutex
	sendCh chan *wire.Envelope

	// Counters
	requests atomic.Int64
	dropped  atomic.Int64

	// State management
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(sessionID string)

	sendTimeout time.Duration
}

// SessionConfig holds session configuration options.
type SessionConfig struct {
	SendBufferSize int
	SendTimeoutMs  int
}

// NewSession creates a session with default configuration.
func NewSession(id string, conn net.Conn) *Session {
	return NewSessionWithConfig(id, conn, nil)
}

// NewSessionWithConfig creates a session with custom configuration.
func NewSessionWithConfig(id string, conn net.Conn, cfg *SessionConfig) *Session {
	bufferSize := config.DefaultSessionSendBufferSize
	timeoutMs := config.DefaultSessionSendTimeoutMs

	if cfg != nil {
		if cfg.SendBufferSize > 0 {
			bufferSize = cfg.SendBufferSize
		}
		if cfg.SendTimeoutMs > 0 {
			timeoutMs = cfg.SendTimeoutMs
		}
	}

	remote := ""
	if conn != nil && conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}

	return &Session{
		ID:          id,
		Remote:      remote,
		CreatedAt:   time.Now(),
		conn:        conn,
		sendCh:      make(chan *wire.Envelope, bufferSize),
		sendTimeout: time.Duration(timeoutMs) * time.Millisecond,
	}
}

// SetOnClose sets the close callback.
func (s *Session) SetOnClose(fn func(sessionID string)) {
	s.connMu.Lock()
	s.onClose = fn
	s.connMu.Unlock()
}

// Requests returns the number of requests received on the session.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// Dropped returns the number of responses dropped on a full send buffer.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

// CountRequest records one received request.
func (s *Session) CountRequest() {
	s.requests.Add(1)
}

// =============================================================================
// Send Operations
// =============================================================================

// Send queues a response for the writer goroutine.
// Returns false if the session is closed or the send buffer stays full for
// the send timeout.
func (s *Session) Send(env *wire.Envelope) bool {
	if s.closed.Load() {
		return false
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.sendCh == nil {
		return false
	}

	// Try non-blocking send first
	select {
	case s.sendCh <- env:
		return true
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case s.sendCh <- env:
		return true
	case <-timer.C:
		s.dropped.Add(1)
		log.Warn("send buffer full, dropping response",
			"session_id", s.ID,
			"request_id", env.ID,
			"timeout", s.sendTimeout)
		return false
	}
}

// SendChan returns the send channel for the writer goroutine.
func (s *Session) SendChan() <-chan *wire.Envelope {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	return s.sendCh
}

// =============================================================================
// Close
// =============================================================================

// Close closes the session permanently.
// This is idempotent - calling it multiple times has no additional effect.
func (s *Session) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closed.Store(true)

		// Close send channel; Send holds the read lock while sending.
		s.sendMu.Lock()
		if s.sendCh != nil {
			close(s.sendCh)
			s.sendCh = nil
		}
		s.sendMu.Unlock()

		s.connMu.Lock()
		onClose := s.onClose
		if s.conn != nil {
			closeErr = s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		if onClose != nil {
			onClose(s.ID)
		}

		log.Debug("session closed",
			"session_id", s.ID,
			"requests", s.requests.Load(),
			"dropped", s.dropped.Load())
	})

	return closeErr
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// =============================================================================
// Session Manager
// =============================================================================

// SessionManagerConfig holds session manager configuration.
type SessionManagerConfig struct {
	CleanupInterval time.Duration
	Session         *SessionConfig
	OnSessionClosed func(session *Session)
}

// SessionManager tracks open sessions.
//
// SessionManager is safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cleanupInterval time.Duration
	sessionCfg      *SessionConfig
	onSessionClosed func(session *Session)

	// Background cleanup
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg *SessionManagerConfig) *SessionManager {
	if cfg == nil {
		cfg = &SessionManagerConfig{}
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Duration(config.DefaultSessionCleanupIntervalSec) * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SessionManager{
		sessions:        make(map[string]*Session),
		cleanupInterval: cfg.CleanupInterval,
		sessionCfg:      cfg.Session,
		onSessionClosed: cfg.OnSessionClosed,
		cleanupCtx:      ctx,
		cleanupCancel:   cancel,
	}
}

// Start starts the background cleanup goroutine.
func (sm *SessionManager) Start() {
	sm.cleanupWg.Add(1)
	go sm.cleanupLoop()
}

// Stop stops the cleanup goroutine and closes all remaining sessions.
func (sm *SessionManager) Stop() {
	sm.cleanupCancel()
	sm.cleanupWg.Wait()

	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	// Close outside the lock; onClose re-enters the manager.
	for _, s := range sessions {
		s.Close()
	}
}

func (sm *SessionManager) cleanupLoop() {
	defer sm.cleanupWg.Done()

	ticker := time.NewTicker(sm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.cleanupClosedSessions()
		case <-sm.cleanupCtx.Done():
			return
		}
	}
}

// cleanupClosedSessions removes closed sessions from the map.
func (sm *SessionManager) cleanupClosedSessions() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if session.IsClosed() {
			delete(sm.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		log.Debug("cleaned up closed sessions", "count", removed)
	}
}

// CreateSession creates and registers a session for conn.
func (sm *SessionManager) CreateSession(conn net.Conn) *Session {
	session := NewSessionWithConfig(uuid.NewString(), conn, sm.sessionCfg)
	session.SetOnClose(func(sid string) {
		sm.mu.Lock()
		delete(sm.sessions, sid)
		sm.mu.Unlock()
		if sm.onSessionClosed != nil {
			sm.onSessionClosed(session)
		}
	})

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	log.Info("session created", "session_id", session.ID, "remote", session.Remote)
	return session
}

// GetSession returns a session by ID.
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// RemoveSession closes and removes a session.
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.RLock()
	session, ok := sm.sessions[id]
	sm.mu.RUnlock()

	if ok {
		session.Close()
	}
}

// Count returns the total number of sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountActive returns the number of active (not closed) sessions.
func (sm *SessionManager) CountActive() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	count := 0
	for _, s := range sm.sessions {
		if !s.IsClosed() {
			count++
		}
	}
	return count
}
