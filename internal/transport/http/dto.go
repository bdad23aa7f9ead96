package http

import (
	"time"

	"github.com/classhub/chat-service/internal/transport/ws"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RoomItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryResponse отдаёт сообщения по возрастанию created_at; next_cursor —
// для следующей (более старой) страницы.
type HistoryResponse struct {
	Items      []ws.MessagePayload `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type UnreadResponse struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

type MembersResponse struct {
	Items []ws.RosterItem `json:"items"`
}
