package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/classhub/chat-service/internal/domain"
	"github.com/classhub/chat-service/internal/postgres"
	"github.com/classhub/chat-service/internal/service"
	httpmw "github.com/classhub/chat-service/internal/transport/http/middleware"
	"github.com/classhub/chat-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
)

// Presence — живой срез онлайна; реализует ws.Hub.
type Presence interface {
	IsOnline(roomID string, userID int64) bool
}

type Handler struct {
	messages *service.MessageService
	members  *service.MemberService
	presence Presence
}

func NewHandler(messages *service.MessageService, members *service.MemberService, presence Presence) *Handler {
	return &Handler{messages: messages, members: members, presence: presence}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requireMember — общая membership-проверка room-scoped ручек.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request) (roomID string, userID int64, ok bool) {
	roomID = chi.URLParam(r, "id")
	userID = httpmw.UserIDFromCtx(r.Context())
	if userID == 0 {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing user id"})
		return "", 0, false
	}

	member, err := h.members.IsMember(r.Context(), roomID, userID)
	if err != nil {
		slog.Error("handler.requireMember:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return "", 0, false
	}
	if !member {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "not a member of the room"})
		return "", 0, false
	}
	return roomID, userID, true
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.members.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		slog.Error("handler.GetRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RoomItem{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt})
}

// GET /rooms/{id}/messages?before=&limit=
// Гидрация клиента при входе в комнату, до переключения на live-поток.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	roomID, _, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	before := r.URL.Query().Get("before")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	items, next, err := h.messages.History(r.Context(), roomID, before, limit)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.GetHistory:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := HistoryResponse{Items: make([]ws.MessagePayload, 0, len(items)), NextCursor: next}
	for i := range items {
		resp.Items = append(resp.Items, ws.NewMessagePayload(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}/unread
func (h *Handler) GetUnread(w http.ResponseWriter, r *http.Request) {
	roomID, userID, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	count, err := h.messages.UnreadCount(r.Context(), roomID, userID)
	if err != nil {
		slog.Error("handler.GetUnread:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, UnreadResponse{RoomID: roomID, Count: count})
}

// GET /rooms/{id}/members
// Слитый roster: персистентное членство + живое присутствие.
func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
	roomID, _, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	members, err := h.members.ListMembers(r.Context(), roomID)
	if err != nil {
		slog.Error("handler.GetMembers:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := MembersResponse{Items: make([]ws.RosterItem, 0, len(members))}
	for _, m := range members {
		item := ws.RosterItem{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Online:      h.presence.IsOnline(roomID, m.UserID),
		}
		if !item.Online {
			lastSeen := m.LastSeen
			item.LastSeenAt = &lastSeen
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
