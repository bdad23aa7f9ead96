package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn — минимум, который сессии нужен от транспорта.
// Реальная реализация — wsConn поверх gorilla, в тестах — фейк.
type Conn interface {
	Send(f Frame) error
	Close() error
}

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateInRoom
	StateDisconnected
)

// Session — одно живое аутентифицированное соединение.
// Комната максимум одна; вход в новую означает выход из предыдущей.
type Session struct {
	ID          string
	UserID      int64
	DisplayName string
	ConnectedAt time.Time

	conn Conn

	mu     sync.Mutex
	state  SessionState
	roomID string

	// cleanup гарантирует однократность disconnect-очистки
	cleanup sync.Once
}

func NewSession(userID int64, displayName string, conn Conn) *Session {
	return &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		DisplayName: displayName,
		ConnectedAt: time.Now(),
		conn:        conn,
		state:       StateAuthenticated,
	}
}

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	if roomID == "" {
		if s.state == StateInRoom {
			s.state = StateAuthenticated
		}
	} else {
		s.state = StateInRoom
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	s.roomID = ""
}

func (s *Session) send(f Frame) {
	_ = s.conn.Send(f) // best-effort
}

// Registry держит не больше одной живой сессии на пользователя.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]*Session)}
}

// Register — last-writer-wins: вторая сессия того же пользователя вытесняет
// первую, вытесненная возвращается вызывающему для закрытия и очистки.
func (r *Registry) Register(s *Session) (replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.byUser[s.UserID]
	r.byUser[s.UserID] = s
	return replaced
}

// Unregister удаляет сессию, только если она всё ещё текущая для пользователя.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byUser[s.UserID]; ok && cur == s {
		delete(r.byUser, s.UserID)
	}
}

func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
