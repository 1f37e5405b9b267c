package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/deepily/cosa/pkg/idgen"
	"github.com/deepily/cosa/pkg/services"
)

// defaultSendBuffer bounds the per-session outbound queue. A session that
// cannot drain this many events is considered stuck and gets closed.
const defaultSendBuffer = 64

// TokenVerifier resolves a bearer token to a user identity. Implemented by
// the auth layer.
type TokenVerifier interface {
	Verify(token string) (userID string, isAdmin bool, err error)
}

// Session is one WebSocket client.
//
// subscriptions and userID are mutated only from the session's read loop
// (auth_request, update_subscriptions) and read by EmitToUser, so both are
// guarded by mu. The outbound path is a bounded channel drained by a
// dedicated writer goroutine; EmitToUser never blocks on a slow client.
type Session struct {
	ID   string
	Kind ConnectionKind

	conn   *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	userID        string
	subscriptions map[string]bool
}

// UserID returns the bound user, empty while unauthenticated.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// wants reports whether this session should receive the given event tag.
// Audio sessions see only the fixed whitelist; queue sessions match their
// subscription set, where "*" subscribes to everything.
func (s *Session) wants(event string) bool {
	if s.Kind == ConnectionKindAudio {
		return audioWhitelist[event]
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions["*"] || s.subscriptions[event]
}

// ConnectionManager tracks WebSocket sessions, their user bindings and
// subscriptions, and fans events out per user. One instance per process.
type ConnectionManager struct {
	verifier     TokenVerifier
	writeTimeout time.Duration
	sendBuffer   int
	logger       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session        // session_id -> session
	users    map[string]map[string]bool // user_id -> set(session_id)
	pending  map[string]string          // session_id -> user_id, bound before connect
}

// NewConnectionManager creates a manager. verifier may be nil, in which case
// queue sessions can never authenticate. sendBuffer <= 0 uses the default.
func NewConnectionManager(verifier TokenVerifier, writeTimeout time.Duration, sendBuffer int, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &ConnectionManager{
		verifier:     verifier,
		writeTimeout: writeTimeout,
		sendBuffer:   sendBuffer,
		logger:       logger,
		sessions:     make(map[string]*Session),
		users:        make(map[string]map[string]bool),
		pending:      make(map[string]string),
	}
}

// RegisterUser pre-binds a session id to a user, typically from an
// authenticated HTTP call that minted the id. If the session is already
// connected the binding applies immediately.
func (m *ConnectionManager) RegisterUser(sessionID, userID string) error {
	if !idgen.ValidTwoWord(sessionID) {
		return services.NewValidationError("session_id", "must be two lowercase words")
	}
	m.mu.Lock()
	s, connected := m.sessions[sessionID]
	if !connected {
		m.pending[sessionID] = userID
		m.mu.Unlock()
		return nil
	}
	m.indexUserLocked(sessionID, userID)
	m.mu.Unlock()

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// BindUser lazily associates a connected audio session with a user, e.g.
// when a TTS request names the session. Unknown sessions are an error.
func (m *ConnectionManager) BindUser(sessionID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return services.ErrNotFound
	}
	m.indexUserLocked(sessionID, userID)
	m.mu.Unlock()

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// indexUserLocked adds the session to the per-user index. Caller holds m.mu.
func (m *ConnectionManager) indexUserLocked(sessionID, userID string) {
	set, ok := m.users[userID]
	if !ok {
		set = make(map[string]bool)
		m.users[userID] = set
	}
	set[sessionID] = true
}

// HandleConnection owns one WebSocket session from accept to close. The
// session id must already be validated by the HTTP handler. Blocks until
// the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID string, kind ConnectionKind) {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &Session{
		ID:            sessionID,
		Kind:          kind,
		conn:          conn,
		sendCh:        make(chan []byte, m.sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: map[string]bool{"*": true},
	}

	m.register(s)
	defer m.unregister(s)

	go m.writeLoop(s)

	m.sendEnvelope(s, EventConnect, map[string]string{
		"session_id": sessionID,
		"kind":       string(kind),
	})

	authenticated := kind == ConnectionKindAudio || s.UserID() != ""
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("invalid websocket message", "session_id", sessionID, "error", err)
			m.sendEnvelope(s, EventError, map[string]string{"message": "invalid message"})
			continue
		}

		if !authenticated {
			if msg.Type != ClientAuthRequest || !m.authenticate(s, &msg) {
				_ = conn.Close(websocket.StatusPolicyViolation, "authentication required")
				return
			}
			authenticated = true
			continue
		}
		m.handleClientMessage(s, &msg)
	}
}

// authenticate verifies the token of an auth_request and binds the session.
// Replies auth_success or auth_error; the caller closes on failure.
func (m *ConnectionManager) authenticate(s *Session, msg *ClientMessage) bool {
	if m.verifier == nil {
		m.sendEnvelopeSync(s, EventAuthError, map[string]string{"message": "authentication unavailable"})
		return false
	}
	userID, _, err := m.verifier.Verify(msg.Token)
	if err != nil {
		m.logger.Warn("websocket auth failed", "session_id", s.ID, "error", err)
		m.sendEnvelopeSync(s, EventAuthError, map[string]string{"message": "invalid token"})
		return false
	}

	m.mu.Lock()
	m.indexUserLocked(s.ID, userID)
	m.mu.Unlock()

	s.mu.Lock()
	s.userID = userID
	if len(msg.SubscribedEvents) > 0 {
		s.subscriptions = toSet(msg.SubscribedEvents)
	}
	s.mu.Unlock()

	m.sendEnvelope(s, EventAuthSuccess, map[string]any{
		"session_id":        s.ID,
		"user_id":           userID,
		"subscribed_events": s.subscriptionList(),
	})
	return true
}

// handleClientMessage dispatches a post-auth client message.
func (m *ConnectionManager) handleClientMessage(s *Session, msg *ClientMessage) {
	switch msg.Type {
	case ClientSysPing:
		m.sendEnvelope(s, EventSysPong, nil)

	case ClientUpdateSubscriptions:
		s.mu.Lock()
		switch msg.Mode {
		case "add":
			for _, e := range msg.Events {
				s.subscriptions[e] = true
			}
		case "remove":
			for _, e := range msg.Events {
				delete(s.subscriptions, e)
			}
		default: // replace
			s.subscriptions = toSet(msg.Events)
		}
		s.mu.Unlock()
		m.sendEnvelope(s, EventSubscriptionUpdate, map[string]any{
			"subscribed_events": s.subscriptionList(),
		})

	case ClientAuthRequest:
		// Already authenticated; re-auth is a no-op acknowledgement.
		m.sendEnvelope(s, EventAuthSuccess, map[string]any{
			"session_id": s.ID,
			"user_id":    s.UserID(),
		})

	default:
		m.sendEnvelope(s, EventError, map[string]string{
			"message": fmt.Sprintf("unknown message type %q", msg.Type),
		})
	}
}

// EmitToUser fans an event out to every connected session owned by the user
// whose subscriptions match the tag. Best-effort per session: a session with
// a full buffer gets closed, the rest still receive the event. Events for
// users with no matching sessions are dropped.
func (m *ConnectionManager) EmitToUser(userID, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		m.logger.Warn("failed to marshal event", "event", event, "error", err)
		return
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.users[userID]))
	for id := range m.users[userID] {
		if s, ok := m.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if !s.wants(event) {
			continue
		}
		m.enqueue(s, data)
	}
}

// ActiveSessions returns the number of connected sessions.
func (m *ConnectionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionsForUser returns how many connected sessions the user owns.
func (m *ConnectionManager) SessionsForUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *ConnectionManager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID, ok := m.pending[s.ID]; ok {
		delete(m.pending, s.ID)
		s.userID = userID
		m.indexUserLocked(s.ID, userID)
	}
}

func (m *ConnectionManager) unregister(s *Session) {
	// Read under the session lock; BindUser may race this on an audio
	// session that authenticates while disconnecting.
	userID := s.UserID()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	if userID != "" {
		if set, ok := m.users[userID]; ok {
			delete(set, s.ID)
			if len(set) == 0 {
				delete(m.users, userID)
			}
		}
	}
	m.mu.Unlock()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop drains the session's send buffer. Any write error ends the
// session; the read loop observes the cancelled context and unwinds.
func (m *ConnectionManager) writeLoop(s *Session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendCh:
			writeCtx, cancel := context.WithTimeout(s.ctx, m.writeTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				m.logger.Warn("websocket write failed, closing session",
					"session_id", s.ID, "error", err)
				s.cancel()
				return
			}
		}
	}
}

// enqueue hands data to the session's writer. Overflow closes the session.
func (m *ConnectionManager) enqueue(s *Session, data []byte) {
	select {
	case s.sendCh <- data:
	default:
		m.logger.Warn("session send buffer overflow, closing session", "session_id", s.ID)
		s.cancel()
	}
}

// sendEnvelopeSync writes one message directly, bypassing the send buffer.
// Used for auth failures, where the connection is closed right after and a
// buffered reply could be lost. Safe alongside the writer goroutine because
// the websocket library serializes concurrent writes.
func (m *ConnectionManager) sendEnvelopeSync(s *Session, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(s.ctx, m.writeTimeout)
	defer cancel()
	_ = s.conn.Write(writeCtx, websocket.MessageText, data)
}

// sendEnvelope marshals and enqueues one server message to one session.
func (m *ConnectionManager) sendEnvelope(s *Session, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		m.logger.Warn("failed to marshal message", "session_id", s.ID, "error", err)
		return
	}
	m.enqueue(s, data)
}

func (s *Session) subscriptionList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for e := range s.subscriptions {
		out = append(out, e)
	}
	return out
}

func toSet(events []string) map[string]bool {
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e] = true
	}
	return set
}
