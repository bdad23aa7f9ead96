package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/classhub/chat-service/internal/auth"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 256
	maxFrameSize   = 64 * 1024
)

type Server struct {
	upgrader   websocket.Upgrader
	verifier   auth.Verifier
	sessions   *Registry
	dispatcher *Dispatcher

	pingEvery time.Duration
}

func NewServer(verifier auth.Verifier, sessions *Registry, dispatcher *Dispatcher, pingEvery time.Duration) *Server {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &Server{
		verifier:   verifier,
		sessions:   sessions,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: pingEvery,
	}
}

// WS endpoint: GET /ws?access_token=...
// Credential проверяется до upgrade: при отказе сессия не создаётся вовсе.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(credentialFrom(r))
	if err != nil {
		http.Error(w, `{"error":"auth_error"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn)
	sess := NewSession(identity.UserID, identity.DisplayName, c)

	// last-writer-wins: вторая сессия пользователя вытесняет первую
	if replaced := s.sessions.Register(sess); replaced != nil {
		replaced.send(Frame{Type: TypeError, Payload: ErrorPayload{
			Code: CodeAuth, Message: "session replaced by a newer connection",
		}})
		s.dispatcher.HandleDisconnect(r.Context(), replaced)
		_ = replaced.conn.Close()
	}

	sess.send(Frame{Type: TypeConnected, Payload: ConnectedPayload{
		UserID: identity.UserID, DisplayName: identity.DisplayName,
	}})

	go c.writeLoop(s.pingEvery)
	s.readLoop(r, sess, c)

	// единая точка очистки: срабатывает при любом способе обрыва
	s.dispatcher.HandleDisconnect(r.Context(), sess)
	_ = c.Close()
}

func (s *Server) readLoop(r *http.Request, sess *Session, c *wsConn) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read", "user", sess.UserID, "err", err)
			}
			return
		}
		s.dispatcher.Dispatch(r.Context(), sess, data)
	}
}

func credentialFrom(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("access_token")); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// wsConn — Conn поверх gorilla: исходящие кадры идут через буферизованный
// канал в единственный writeLoop, пишет в сокет только он.
type wsConn struct {
	conn *websocket.Conn

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   conn,
		sendCh: make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	case c.sendCh <- data:
		return nil
	default:
		// перегруз — кадр пропускается, медленный клиент не тормозит комнату
		return nil
	}
}

func (c *wsConn) writeLoop(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}
