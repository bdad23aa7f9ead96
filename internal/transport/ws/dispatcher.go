package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/classhub/chat-service/internal/domain"
	"github.com/classhub/chat-service/internal/service"
)

// Интерфейсы объявлены на стороне потребителя: в тестах подставляются фейки.

type MessageSvc interface {
	Send(ctx context.Context, in service.SendInput) (*domain.Message, error)
	Get(ctx context.Context, id string) (*domain.Message, error)
	Edit(ctx context.Context, id string, userID int64, content string) (*domain.Message, error)
	Delete(ctx context.Context, id string, userID int64) (*domain.Message, error)
	ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string) (added bool, count int, err error)
	MarkRead(ctx context.Context, messageID string, userID int64) error
}

type MemberSvc interface {
	IsMember(ctx context.Context, roomID string, userID int64) (bool, error)
	ListMembers(ctx context.Context, roomID string) ([]domain.Member, error)
	TouchLastSeen(ctx context.Context, roomID string, userID int64) error
}

type handlerFunc func(ctx context.Context, s *Session, raw json.RawMessage)

// Dispatcher — таблица обработчиков входящих событий. Мутирующие операции
// комнаты проходят через её последовательную очередь: персист и broadcast
// выполняются одной задачей, поэтому порядок рассылки равен порядку коммитов.
// Ошибки обработчиков всегда локализуются в сессию-отправителя.
type Dispatcher struct {
	sessions *Registry
	hub      *Hub
	bcast    Broadcaster
	messages MessageSvc
	members  MemberSvc

	typing *TypingTracker
	queues *roomQueues

	handlers map[string]handlerFunc
	now      func() time.Time
}

func NewDispatcher(
	sessions *Registry,
	hub *Hub,
	bcast Broadcaster,
	messages MessageSvc,
	members MemberSvc,
	typingTTL time.Duration,
) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		hub:      hub,
		bcast:    bcast,
		messages: messages,
		members:  members,
		queues:   newRoomQueues(),
		now:      time.Now,
	}
	d.typing = NewTypingTracker(typingTTL, d.onTypingExpired)
	d.handlers = map[string]handlerFunc{
		TypeJoinRoom:      d.handleJoinRoom,
		TypeLeaveRoom:     d.handleLeaveRoom,
		TypeSendMessage:   d.handleSendMessage,
		TypeEditMessage:   d.handleEditMessage,
		TypeDeleteMessage: d.handleDeleteMessage,
		TypeToggleReact:   d.handleToggleReaction,
		TypeMarkRead:      d.handleMarkRead,
		TypeTypingStart:   d.handleTypingStart,
		TypeTypingStop:    d.handleTypingStop,
	}
	return d
}

// Typing отдаёт трекер для запуска фоновой очистки.
func (d *Dispatcher) Typing() *TypingTracker { return d.typing }

// SetClock подменяет источник времени в тестах.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
		d.typing.SetClock(now)
	}
}

// Close дожидается выполнения поставленных в очереди задач.
func (d *Dispatcher) Close() {
	d.typing.Close()
	d.queues.Drain()
}

// Dispatch разбирает кадр и зовёт обработчик; неизвестный тип — ошибка отправителю.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var in struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		d.sendErr(s, CodeValidation, "malformed frame")
		return
	}
	h, ok := d.handlers[in.Type]
	if !ok {
		d.sendErr(s, CodeValidation, "unknown event type: "+in.Type)
		return
	}
	h(ctx, s, in.Payload)
}

// --- handlers ---

func (d *Dispatcher) handleJoinRoom(ctx context.Context, s *Session, raw json.RawMessage) {
	var p JoinRoomPayload
	if err := decode(raw, &p); err != nil || p.RoomID == "" {
		d.sendErr(s, CodeValidation, "room_id is required")
		return
	}
	if !d.requireMember(ctx, s, p.RoomID) {
		return
	}

	left := d.hub.Join(p.RoomID, s.UserID, s.conn)
	s.setRoom(p.RoomID)

	if left != "" {
		d.afterLeave(ctx, s, left)
	}

	d.broadcast(ctx, p.RoomID, Frame{Type: TypeUserJoined, Payload: UserEventPayload{
		RoomID: p.RoomID, UserID: s.UserID, DisplayName: s.DisplayName,
	}}, s.UserID)
	d.broadcast(ctx, p.RoomID, Frame{Type: TypeSystemMessage, Payload: SystemMessagePayload{
		Text: s.DisplayName + " joined the room", Timestamp: d.now(),
	}}, s.UserID)

	// roster — только отправителю
	roster, err := d.roster(ctx, p.RoomID)
	if err != nil {
		d.sendErr(s, CodePersistence, "failed to load roster")
		return
	}
	s.send(Frame{Type: TypeOnlineUsers, Payload: roster})
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, s *Session, _ json.RawMessage) {
	room := s.Room()
	if room == "" {
		return
	}
	d.hub.Leave(room, s.UserID, s.conn)
	s.setRoom("")
	d.afterLeave(ctx, s, room)
	d.broadcast(ctx, room, Frame{Type: TypeSystemMessage, Payload: SystemMessagePayload{
		Text: s.DisplayName + " left the room", Timestamp: d.now(),
	}}, s.UserID)
}

// afterLeave — общая часть выхода из комнаты: гасим typing, шлём user_left,
// трогаем last_seen.
func (d *Dispatcher) afterLeave(ctx context.Context, s *Session, room string) {
	if d.typing.Stop(room, s.UserID) {
		d.broadcast(ctx, room, typingFrame(room, s.UserID, false), s.UserID)
	}
	d.broadcast(ctx, room, Frame{Type: TypeUserLeft, Payload: UserEventPayload{
		RoomID: room, UserID: s.UserID, DisplayName: s.DisplayName,
	}}, s.UserID)
	if err := d.members.TouchLastSeen(ctx, room, s.UserID); err != nil {
		slog.Debug("touch last_seen failed", "room", room, "user", s.UserID, "err", err)
	}
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, s *Session, raw json.RawMessage) {
	var p SendMessagePayload
	if err := decode(raw, &p); err != nil {
		d.sendErr(s, CodeValidation, "malformed payload")
		return
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID = s.Room()
	}
	if roomID == "" {
		d.sendErr(s, CodeValidation, "room_id is required")
		return
	}
	if !d.requireMember(ctx, s, roomID) {
		return
	}

	qctx := context.WithoutCancel(ctx)
	d.queues.Do(roomID, func() {
		msg, err := d.messages.Send(qctx, service.SendInput{
			RoomID:    roomID,
			AuthorID:  s.UserID,
			Kind:      domain.MessageKind(p.Kind),
			Content:   p.Content,
			FileURL:   p.FileURL,
			FileName:  p.FileName,
			FileSize:  p.FileSize,
			ReplyToID: p.ReplyToID,
		})
		if err != nil {
			// персист не прошёл — ошибка отправителю, рассылки не было и не будет
			d.sendOpErr(s, "send message", err)
			return
		}
		if d.typing.Stop(roomID, s.UserID) {
			d.broadcast(qctx, roomID, typingFrame(roomID, s.UserID, false), s.UserID)
		}
		d.broadcast(qctx, roomID, Frame{Type: TypeNewMessage, Payload: NewMessagePayload(msg)}, 0)
	})
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, s *Session, raw json.RawMessage) {
	var p EditMessagePayload
	if err := decode(raw, &p); err != nil || p.MessageID == "" {
		d.sendErr(s, CodeValidation, "message_id is required")
		return
	}
	msg, ok := d.resolveMessage(ctx, s, p.MessageID)
	if !ok {
		return
	}

	qctx := context.WithoutCancel(ctx)
	d.queues.Do(msg.RoomID, func() {
		updated, err := d.messages.Edit(qctx, p.MessageID, s.UserID, p.Content)
		if err != nil {
			d.sendOpErr(s, "edit message", err)
			return
		}
		d.broadcast(qctx, updated.RoomID, Frame{Type: TypeMessageEdited, Payload: NewMessagePayload(updated)}, 0)
	})
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, s *Session, raw json.RawMessage) {
	var p MessageRefPayload
	if err := decode(raw, &p); err != nil || p.MessageID == "" {
		d.sendErr(s, CodeValidation, "message_id is required")
		return
	}
	msg, ok := d.resolveMessage(ctx, s, p.MessageID)
	if !ok {
		return
	}

	qctx := context.WithoutCancel(ctx)
	d.queues.Do(msg.RoomID, func() {
		deleted, err := d.messages.Delete(qctx, p.MessageID, s.UserID)
		if err != nil {
			d.sendOpErr(s, "delete message", err)
			return
		}
		d.broadcast(qctx, deleted.RoomID, Frame{Type: TypeMessageDeleted, Payload: MessageDeletedPayload{
			MessageID: deleted.ID, RoomID: deleted.RoomID,
		}}, 0)
	})
}

func (d *Dispatcher) handleToggleReaction(ctx context.Context, s *Session, raw json.RawMessage) {
	var p ToggleReactionPayload
	if err := decode(raw, &p); err != nil || p.MessageID == "" || p.Emoji == "" {
		d.sendErr(s, CodeValidation, "message_id and emoji are required")
		return
	}
	msg, ok := d.resolveMessage(ctx, s, p.MessageID)
	if !ok {
		return
	}

	qctx := context.WithoutCancel(ctx)
	d.queues.Do(msg.RoomID, func() {
		added, count, err := d.messages.ToggleReaction(qctx, p.MessageID, s.UserID, p.Emoji)
		if err != nil {
			d.sendOpErr(s, "toggle reaction", err)
			return
		}
		d.broadcast(qctx, msg.RoomID, Frame{Type: TypeReactionUpdated, Payload: ReactionUpdatedPayload{
			MessageID: p.MessageID, Emoji: p.Emoji, UserID: s.UserID, Added: added, Count: count,
		}}, 0)
	})
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, s *Session, raw json.RawMessage) {
	var p MessageRefPayload
	if err := decode(raw, &p); err != nil || p.MessageID == "" {
		d.sendErr(s, CodeValidation, "message_id is required")
		return
	}
	msg, ok := d.resolveMessage(ctx, s, p.MessageID)
	if !ok {
		return
	}

	qctx := context.WithoutCancel(ctx)
	d.queues.Do(msg.RoomID, func() {
		if err := d.messages.MarkRead(qctx, p.MessageID, s.UserID); err != nil {
			d.sendOpErr(s, "mark read", err)
			return
		}
		d.broadcast(qctx, msg.RoomID, Frame{Type: TypeMessageRead, Payload: MessageReadPayload{
			MessageID: p.MessageID, UserID: s.UserID,
		}}, s.UserID)
	})
}

func (d *Dispatcher) handleTypingStart(ctx context.Context, s *Session, raw json.RawMessage) {
	room, ok := d.typingRoom(ctx, s, raw)
	if !ok {
		return
	}
	d.typing.Start(room, s.UserID)
	d.broadcast(ctx, room, typingFrame(room, s.UserID, true), s.UserID)
}

func (d *Dispatcher) handleTypingStop(ctx context.Context, s *Session, raw json.RawMessage) {
	room, ok := d.typingRoom(ctx, s, raw)
	if !ok {
		return
	}
	if d.typing.Stop(room, s.UserID) {
		d.broadcast(ctx, room, typingFrame(room, s.UserID, false), s.UserID)
	}
}

func (d *Dispatcher) typingRoom(ctx context.Context, s *Session, raw json.RawMessage) (string, bool) {
	var p TypingPayload
	if err := decode(raw, &p); err != nil {
		d.sendErr(s, CodeValidation, "malformed payload")
		return "", false
	}
	room := p.RoomID
	if room == "" {
		room = s.Room()
	}
	if room == "" {
		d.sendErr(s, CodeValidation, "room_id is required")
		return "", false
	}
	if !d.requireMember(ctx, s, room) {
		return "", false
	}
	return room, true
}

// onTypingExpired — синтетический stop по TTL без явного typing_stop.
func (d *Dispatcher) onTypingExpired(roomID string, userID int64) {
	d.broadcast(context.Background(), roomID, typingFrame(roomID, userID, false), userID)
}

// HandleDisconnect выполняет очистку сессии ровно один раз, из какого бы
// состояния соединение ни оборвалось.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, s *Session) {
	s.cleanup.Do(func() {
		qctx := context.WithoutCancel(ctx)
		if room := s.Room(); room != "" {
			if d.hub.Leave(room, s.UserID, s.conn) {
				d.afterLeave(qctx, s, room)
			}
		}
		s.markDisconnected()
		d.sessions.Unregister(s)
	})
}

// --- helpers ---

// resolveMessage находит сообщение и проверяет членство в его комнате.
func (d *Dispatcher) resolveMessage(ctx context.Context, s *Session, messageID string) (*domain.Message, bool) {
	msg, err := d.messages.Get(ctx, messageID)
	if err != nil {
		d.sendOpErr(s, "resolve message", err)
		return nil, false
	}
	if !d.requireMember(ctx, s, msg.RoomID) {
		return nil, false
	}
	return msg, true
}

func (d *Dispatcher) requireMember(ctx context.Context, s *Session, roomID string) bool {
	ok, err := d.members.IsMember(ctx, roomID, s.UserID)
	if err != nil {
		d.sendErr(s, CodePersistence, "membership check failed")
		return false
	}
	if !ok {
		d.sendErr(s, CodeMembership, "not a member of room "+roomID)
		return false
	}
	return true
}

func (d *Dispatcher) roster(ctx context.Context, roomID string) (OnlineUsersPayload, error) {
	members, err := d.members.ListMembers(ctx, roomID)
	if err != nil {
		return OnlineUsersPayload{}, err
	}
	out := OnlineUsersPayload{RoomID: roomID, Roster: make([]RosterItem, 0, len(members))}
	for _, m := range members {
		item := RosterItem{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Online:      d.hub.IsOnline(roomID, m.UserID),
		}
		if !item.Online {
			lastSeen := m.LastSeen
			item.LastSeenAt = &lastSeen
		}
		out.Roster = append(out.Roster, item)
	}
	return out, nil
}

func (d *Dispatcher) broadcast(ctx context.Context, roomID string, f Frame, exclude int64) {
	if err := d.bcast.Broadcast(ctx, roomID, f, exclude); err != nil {
		slog.Warn("broadcast failed", "room", roomID, "type", f.Type, "err", err)
	}
}

func (d *Dispatcher) sendErr(s *Session, code, msg string) {
	s.send(Frame{Type: TypeError, Payload: ErrorPayload{Code: code, Message: msg}})
}

// sendOpErr локализует ошибку операции: доменные ошибки уходят клиенту своим
// текстом, внутренние — фиксированной фразой, детали остаются в логе.
func (d *Dispatcher) sendOpErr(s *Session, op string, err error) {
	code := codeFor(err)
	msg := err.Error()
	if code == CodePersistence {
		slog.Error(op+" failed", "user", s.UserID, "err", err)
		msg = "internal storage error"
	}
	d.sendErr(s, code, msg)
}

func typingFrame(roomID string, userID int64, isTyping bool) Frame {
	return Frame{Type: TypeUserTyping, Payload: UserTypingPayload{
		RoomID: roomID, UserID: userID, IsTyping: isTyping,
	}}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, dst)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotMember):
		return CodeMembership
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrRoomNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrNotAuthor):
		return CodeAuthorization
	case errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrContentTooLong),
		errors.Is(err, domain.ErrBadKind),
		errors.Is(err, domain.ErrMissingFile):
		return CodeValidation
	default:
		return CodePersistence
	}
}
