package ws

import (
	"sort"
	"testing"
)

func TestHubJoinLeave(t *testing.T) {
	h := NewHub()
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	if left := h.Join("r1", 1, c1); left != "" {
		t.Fatalf("first join must not leave anything, got %q", left)
	}
	h.Join("r1", 2, c2)

	online := h.OnlineUsers("r1")
	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })
	if len(online) != 2 || online[0] != 1 || online[1] != 2 {
		t.Fatalf("unexpected online set %v", online)
	}

	if !h.Leave("r1", 1, c1) {
		t.Fatalf("leave must report removal")
	}
	if h.Leave("r1", 1, c1) {
		t.Fatalf("second leave must be no-op")
	}
	if h.IsOnline("r1", 1) {
		t.Fatalf("user 1 must be offline")
	}
}

func TestHubJoinMovesBetweenRooms(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}

	h.Join("r1", 1, c)
	if left := h.Join("r2", 1, c); left != "r1" {
		t.Fatalf("expected left room r1, got %q", left)
	}
	if h.IsOnline("r1", 1) {
		t.Fatalf("user must not be counted in r1")
	}
	if !h.IsOnline("r2", 1) {
		t.Fatalf("user must be counted in r2")
	}
	// повторный join в ту же комнату — без "выхода"
	if left := h.Join("r2", 1, c); left != "" {
		t.Fatalf("rejoin must not leave, got %q", left)
	}
}

func TestHubLeaveGuardedByConn(t *testing.T) {
	h := NewHub()
	old := &fakeConn{}
	fresh := &fakeConn{}

	h.Join("r1", 1, old)
	h.Join("r1", 1, fresh) // новая сессия того же пользователя

	// cleanup вытесненной сессии не должен снести presence новой
	if h.Leave("r1", 1, old) {
		t.Fatalf("stale conn must not remove presence")
	}
	if !h.IsOnline("r1", 1) {
		t.Fatalf("fresh session must stay online")
	}
	if !h.Leave("r1", 1, fresh) {
		t.Fatalf("fresh conn must remove presence")
	}
}

func TestHubDropsEmptyRooms(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}

	h.Join("r1", 1, c)
	h.Leave("r1", 1, c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms["r1"]; ok {
		t.Fatalf("empty room set must be deleted")
	}
	if _, ok := h.userRoom[1]; ok {
		t.Fatalf("userRoom index must be cleaned")
	}
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	c3 := &fakeConn{}
	h.Join("r1", 1, c1)
	h.Join("r1", 2, c2)
	h.Join("r2", 3, c3)

	h.Broadcast("r1", Frame{Type: TypeUserJoined}, 1)

	if got := len(c1.framesOf(TypeUserJoined)); got != 0 {
		t.Fatalf("excluded user received frame")
	}
	if got := len(c2.framesOf(TypeUserJoined)); got != 1 {
		t.Fatalf("expected 1 frame for user 2, got %d", got)
	}
	if got := len(c3.framesOf(TypeUserJoined)); got != 0 {
		t.Fatalf("other room must not receive frame")
	}

	// exclude=0 — получают все
	h.Broadcast("r1", Frame{Type: TypeNewMessage}, 0)
	if len(c1.framesOf(TypeNewMessage)) != 1 || len(c2.framesOf(TypeNewMessage)) != 1 {
		t.Fatalf("broadcast without exclusion must reach everyone")
	}
}
