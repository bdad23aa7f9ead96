package ws

import "testing"

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	s1 := NewSession(1, "alice", c1)
	if replaced := r.Register(s1); replaced != nil {
		t.Fatalf("first register must not replace")
	}

	s2 := NewSession(1, "alice", c2)
	replaced := r.Register(s2)
	if replaced != s1 {
		t.Fatalf("second register must return the evicted session")
	}

	cur, ok := r.Get(1)
	if !ok || cur != s2 {
		t.Fatalf("registry must hold the newest session")
	}
}

func TestRegistryUnregisterOnlyCurrent(t *testing.T) {
	r := NewRegistry()
	s1 := NewSession(1, "alice", &fakeConn{})
	s2 := NewSession(1, "alice", &fakeConn{})

	r.Register(s1)
	r.Register(s2)

	// запоздалый cleanup вытесненной сессии
	r.Unregister(s1)
	if _, ok := r.Get(1); !ok {
		t.Fatalf("current session must survive stale unregister")
	}

	r.Unregister(s2)
	if _, ok := r.Get(1); ok {
		t.Fatalf("current session must be removed")
	}
	if r.Len() != 0 {
		t.Fatalf("registry must be empty")
	}
}

func TestSessionStateTransitions(t *testing.T) {
	s := NewSession(1, "alice", &fakeConn{})
	if s.State() != StateAuthenticated {
		t.Fatalf("new session must be authenticated")
	}

	s.setRoom("r1")
	if s.State() != StateInRoom || s.Room() != "r1" {
		t.Fatalf("expected in-room state, got %v room %q", s.State(), s.Room())
	}

	s.setRoom("")
	if s.State() != StateAuthenticated || s.Room() != "" {
		t.Fatalf("leaving room must return to authenticated")
	}

	s.markDisconnected()
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected state")
	}
	// disconnected — терминальное, setRoom("") его не оживляет
	s.setRoom("")
	if s.State() != StateDisconnected {
		t.Fatalf("disconnected is terminal")
	}
}
