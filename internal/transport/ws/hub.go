package ws

import "sync"

// Hub — presence-реестр и fan-out. Держит по каждой комнате множество живых
// соединений; пустые множества удаляются. Состояние процессное, при старте
// пустое — durable membership живёт в store.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[int64]Conn
	userRoom map[int64]string
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[int64]Conn),
		userRoom: make(map[int64]string),
	}
}

// Join добавляет пользователя в комнату и в той же критической секции убирает
// его из предыдущей: нет окна, в котором presence считает его в двух комнатах.
// Возвращает покинутую комнату ("" если её не было или она та же).
func (h *Hub) Join(roomID string, userID int64, c Conn) (left string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.userRoom[userID]; ok && prev != roomID {
		h.removeLocked(prev, userID)
		left = prev
	}

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[int64]Conn)
		h.rooms[roomID] = rs
	}
	rs[userID] = c
	h.userRoom[userID] = roomID
	return left
}

// Leave идемпотентен; удаляет запись только если соединение совпадает,
// чтобы cleanup вытесненной сессии не снёс presence новой.
func (h *Hub) Leave(roomID string, userID int64, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if cur, ok := rs[userID]; !ok || (c != nil && cur != c) {
		return false
	}
	h.removeLocked(roomID, userID)
	return true
}

func (h *Hub) removeLocked(roomID string, userID int64) {
	if rs, ok := h.rooms[roomID]; ok {
		delete(rs, userID)
		if len(rs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if h.userRoom[userID] == roomID {
		delete(h.userRoom, userID)
	}
}

func (h *Hub) OnlineUsers(roomID string) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs := h.rooms[roomID]
	out := make([]int64, 0, len(rs))
	for uid := range rs {
		out = append(out, uid)
	}
	return out
}

func (h *Hub) IsOnline(roomID string, userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rs[userID]
	return ok
}

// Broadcast рассылает кадр всем в комнате; excludeUserID=0 — без исключений.
func (h *Hub) Broadcast(roomID string, f Frame, excludeUserID int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for uid, c := range h.rooms[roomID] {
		if uid == excludeUserID {
			continue
		}
		_ = c.Send(f) // best-effort
	}
}
