package ws

import (
	"time"

	"github.com/classhub/chat-service/internal/domain"
)

// Входящие события (клиент → сервер).
const (
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeSendMessage   = "send_message"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
	TypeMarkRead      = "mark_message_read"
	TypeToggleReact   = "toggle_reaction"
	TypeTypingStart   = "typing_start"
	TypeTypingStop    = "typing_stop"
)

// Исходящие события (сервер → клиент).
const (
	TypeConnected       = "connected"
	TypeError           = "error"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeOnlineUsers     = "online_users"
	TypeNewMessage      = "new_message"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeMessageRead     = "message_read"
	TypeReactionUpdated = "reaction_updated"
	TypeUserTyping      = "user_typing"
	TypeSystemMessage   = "system_message"
)

// Коды ошибок, локализуемых отправителю.
const (
	CodeAuth          = "auth_error"
	CodeMembership    = "membership_error"
	CodeNotFound      = "not_found"
	CodeAuthorization = "authorization_error"
	CodePersistence   = "persistence_error"
	CodeValidation    = "validation_error"
)

type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// --- payloads: клиент → сервер ---

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID    string  `json:"room_id"`
	Content   string  `json:"content"`
	Kind      string  `json:"kind,omitempty"`
	FileURL   *string `json:"file_url,omitempty"`
	FileName  *string `json:"file_name,omitempty"`
	FileSize  *int64  `json:"file_size,omitempty"`
	ReplyToID *string `json:"reply_to,omitempty"`
}

type EditMessagePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageRefPayload struct {
	MessageID string `json:"message_id"`
}

type ToggleReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type TypingPayload struct {
	RoomID string `json:"room_id"`
}

// --- payloads: сервер → клиент ---

type ConnectedPayload struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserEventPayload struct {
	RoomID      string `json:"room_id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type RosterItem struct {
	UserID      int64      `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

type OnlineUsersPayload struct {
	RoomID string       `json:"room_id"`
	Roster []RosterItem `json:"roster"`
}

type MessagePayload struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	AuthorID  int64      `json:"author_id"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	FileURL   *string    `json:"file_url,omitempty"`
	FileName  *string    `json:"file_name,omitempty"`
	FileSize  *int64     `json:"file_size,omitempty"`
	ReplyToID *string    `json:"reply_to,omitempty"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewMessagePayload(m *domain.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		RoomID:    m.RoomID,
		AuthorID:  m.AuthorID,
		Kind:      string(m.Kind),
		Content:   m.Content,
		FileURL:   m.FileURL,
		FileName:  m.FileName,
		FileSize:  m.FileSize,
		ReplyToID: m.ReplyToID,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
}

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    int64  `json:"user_id"`
}

type ReactionUpdatedPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    int64  `json:"user_id"`
	Added     bool   `json:"added"`
	Count     int    `json:"count"`
}

type UserTypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   int64  `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type SystemMessagePayload struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
