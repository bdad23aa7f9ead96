package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/classhub/chat-service/internal/domain"
	"github.com/classhub/chat-service/internal/service"
)

// --- фейки ---

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) framesOf(t string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

type fakeMessages struct {
	mu        sync.Mutex
	seq       int
	byID      map[string]*domain.Message
	reactions map[string]map[string]map[int64]bool // msgID -> emoji -> users
	reads     map[string]map[int64]time.Time
	commits   []string // id сообщений в порядке коммитов

	failSend error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byID:      make(map[string]*domain.Message),
		reactions: make(map[string]map[string]map[int64]bool),
		reads:     make(map[string]map[int64]time.Time),
	}
}

func (f *fakeMessages) Send(_ context.Context, in service.SendInput) (*domain.Message, error) {
	if err := service.ValidateSend(&in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return nil, f.failSend
	}
	f.seq++
	m := &domain.Message{
		ID:        fmt.Sprintf("m%d", f.seq),
		RoomID:    in.RoomID,
		AuthorID:  in.AuthorID,
		Kind:      in.Kind,
		Content:   in.Content,
		CreatedAt: time.Now(),
	}
	f.byID[m.ID] = m
	f.commits = append(f.commits, m.ID)
	return cloneMsg(m), nil
}

func (f *fakeMessages) Get(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMsg(m), nil
}

func (f *fakeMessages) Edit(_ context.Context, id string, userID int64, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if m.AuthorID != userID {
		return nil, domain.ErrNotAuthor
	}
	now := time.Now()
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &now
	return cloneMsg(m), nil
}

func (f *fakeMessages) Delete(_ context.Context, id string, userID int64) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if m.AuthorID != userID {
		return nil, domain.ErrNotAuthor
	}
	now := time.Now()
	m.Content = domain.DeletedContent
	m.IsDeleted = true
	m.DeletedAt = &now
	return cloneMsg(m), nil
}

func (f *fakeMessages) ToggleReaction(_ context.Context, messageID string, userID int64, emoji string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[messageID]; !ok {
		return false, 0, domain.ErrMessageNotFound
	}
	byEmoji, ok := f.reactions[messageID]
	if !ok {
		byEmoji = make(map[string]map[int64]bool)
		f.reactions[messageID] = byEmoji
	}
	users, ok := byEmoji[emoji]
	if !ok {
		users = make(map[int64]bool)
		byEmoji[emoji] = users
	}
	added := !users[userID]
	if added {
		users[userID] = true
	} else {
		delete(users, userID)
	}
	return added, len(users), nil
}

func (f *fakeMessages) MarkRead(_ context.Context, messageID string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[messageID]; !ok {
		return domain.ErrMessageNotFound
	}
	byUser, ok := f.reads[messageID]
	if !ok {
		byUser = make(map[int64]time.Time)
		f.reads[messageID] = byUser
	}
	byUser[userID] = time.Now()
	return nil
}

func (f *fakeMessages) content(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byID[id]; ok {
		return m.Content
	}
	return ""
}

func (f *fakeMessages) readMarks(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads[id])
}

func cloneMsg(m *domain.Message) *domain.Message {
	cp := *m
	return &cp
}

type fakeMembers struct {
	mu      sync.Mutex
	members map[string]map[int64]string // roomID -> userID -> displayName
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{members: make(map[string]map[int64]string)}
}

func (f *fakeMembers) add(roomID string, userID int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[int64]string)
	}
	f.members[roomID][userID] = name
}

func (f *fakeMembers) IsMember(_ context.Context, roomID string, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[roomID][userID]
	return ok, nil
}

func (f *fakeMembers) ListMembers(_ context.Context, roomID string) ([]domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Member
	for uid, name := range f.members[roomID] {
		out = append(out, domain.Member{RoomID: roomID, UserID: uid, DisplayName: name})
	}
	return out, nil
}

func (f *fakeMembers) TouchLastSeen(_ context.Context, _ string, _ int64) error { return nil }

// --- каркас ---

type testEnv struct {
	d        *Dispatcher
	hub      *Hub
	sessions *Registry
	messages *fakeMessages
	members  *fakeMembers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := NewHub()
	sessions := NewRegistry()
	messages := newFakeMessages()
	members := newFakeMembers()
	d := NewDispatcher(sessions, hub, NewLocalBroadcaster(hub), messages, members, 3*time.Second)
	t.Cleanup(d.Close)
	return &testEnv{d: d, hub: hub, sessions: sessions, messages: messages, members: members}
}

func (e *testEnv) connect(t *testing.T, userID int64, name string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := NewSession(userID, name, conn)
	if prev := e.sessions.Register(s); prev != nil {
		e.d.HandleDisconnect(context.Background(), prev)
		_ = prev.Conn().Close()
	}
	return s, conn
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(map[string]json.RawMessage{
		"type":    json.RawMessage(`"` + typ + `"`),
		"payload": data,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func (e *testEnv) join(t *testing.T, s *Session, roomID string) {
	t.Helper()
	e.d.Dispatch(context.Background(), s, frame(t, TypeJoinRoom, JoinRoomPayload{RoomID: roomID}))
	if got := s.Room(); got != roomID {
		t.Fatalf("expected session in room %q, got %q", roomID, got)
	}
}

func (e *testEnv) wait() {
	e.d.queues.Drain()
}

// --- тесты ---

func TestJoinRoomRejectedWithoutMembership(t *testing.T) {
	env := newTestEnv(t)
	s, conn := env.connect(t, 2, "bob")

	env.d.Dispatch(context.Background(), s, frame(t, TypeJoinRoom, JoinRoomPayload{RoomID: "r1"}))

	errs := conn.framesOf(TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error frame, got %d", len(errs))
	}
	if p := errs[0].Payload.(ErrorPayload); p.Code != CodeMembership {
		t.Fatalf("expected code %q, got %q", CodeMembership, p.Code)
	}
	if s.Room() != "" {
		t.Fatalf("session must not be in a room")
	}
	if len(env.hub.OnlineUsers("r1")) != 0 {
		t.Fatalf("presence must be empty")
	}
}

func TestSendMessageBroadcastToWholeRoom(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob")

	alice, aliceConn := env.connect(t, 1, "alice")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, alice, "r1")
	env.join(t, bob, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "hello",
	}))
	env.wait()

	// new_message получают все, включая отправителя
	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		msgs := conn.framesOf(TypeNewMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 new_message, got %d", name, len(msgs))
		}
		p := msgs[0].Payload.(MessagePayload)
		if p.Content != "hello" || p.AuthorID != 1 || p.RoomID != "r1" {
			t.Fatalf("%s: unexpected payload %+v", name, p)
		}
	}
}

func TestSendToForeignRoomCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	alice, aliceConn := env.connect(t, 1, "alice")
	env.join(t, alice, "r1")

	bob, bobConn := env.connect(t, 2, "bob")
	env.d.Dispatch(context.Background(), bob, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "sneaky",
	}))
	env.wait()

	errs := bobConn.framesOf(TypeError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Code != CodeMembership {
		t.Fatalf("expected membership error, got %v", errs)
	}
	if len(env.messages.commits) != 0 {
		t.Fatalf("no row must be created")
	}
	if got := aliceConn.framesOf(TypeNewMessage); len(got) != 0 {
		t.Fatalf("no broadcast expected, got %d", len(got))
	}
}

func TestPersistenceFailureNeverBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob")
	alice, aliceConn := env.connect(t, 1, "alice")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, alice, "r1")
	env.join(t, bob, "r1")

	env.messages.failSend = errors.New("pq: connection refused")
	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "lost",
	}))
	env.wait()

	errs := aliceConn.framesOf(TypeError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Code != CodePersistence {
		t.Fatalf("sender must get persistence error, got %v", errs)
	}
	// текст драйвера не уходит клиенту
	if msg := errs[0].Payload.(ErrorPayload).Message; strings.Contains(msg, "pq:") {
		t.Fatalf("internal error text leaked to client: %q", msg)
	}
	if got := bobConn.framesOf(TypeNewMessage); len(got) != 0 {
		t.Fatalf("broadcast must not happen on persistence failure")
	}
	if got := bobConn.framesOf(TypeError); len(got) != 0 {
		t.Fatalf("errors are never broadcast to the room")
	}
}

func TestBroadcastOrderMatchesCommitOrder(t *testing.T) {
	env := newTestEnv(t)
	const senders = 8
	const perSender = 20

	receiver, receiverConn := env.connect(t, 100, "observer")
	env.members.add("r1", 100, "observer")
	env.join(t, receiver, "r1")

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		uid := int64(i + 1)
		env.members.add("r1", uid, fmt.Sprintf("u%d", uid))
		s, _ := env.connect(t, uid, fmt.Sprintf("u%d", uid))
		env.join(t, s, "r1")

		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				env.d.Dispatch(context.Background(), s, frame(t, TypeSendMessage, SendMessagePayload{
					RoomID: "r1", Content: fmt.Sprintf("msg-%d-%d", s.UserID, j),
				}))
			}
		}(s)
	}
	wg.Wait()
	env.wait()

	got := receiverConn.framesOf(TypeNewMessage)
	if len(got) != senders*perSender {
		t.Fatalf("expected %d messages, got %d", senders*perSender, len(got))
	}
	env.messages.mu.Lock()
	commits := append([]string(nil), env.messages.commits...)
	env.messages.mu.Unlock()
	for i, f := range got {
		if id := f.Payload.(MessagePayload).ID; id != commits[i] {
			t.Fatalf("broadcast order diverged from commit order at %d: %s != %s", i, id, commits[i])
		}
	}
}

func TestEditByNonAuthorLeavesMessageUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 3, "carol")
	alice, _ := env.connect(t, 1, "alice")
	carol, carolConn := env.connect(t, 3, "carol")
	env.join(t, alice, "r1")
	env.join(t, carol, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "hello",
	}))
	env.wait()

	// автор правит
	env.d.Dispatch(context.Background(), alice, frame(t, TypeEditMessage, EditMessagePayload{
		MessageID: "m1", Content: "hello world",
	}))
	env.wait()
	if got := env.messages.content("m1"); got != "hello world" {
		t.Fatalf("author edit failed, content %q", got)
	}
	if got := carolConn.framesOf(TypeMessageEdited); len(got) != 1 {
		t.Fatalf("expected message_edited broadcast, got %d", len(got))
	}

	// чужой — нет
	env.d.Dispatch(context.Background(), carol, frame(t, TypeEditMessage, EditMessagePayload{
		MessageID: "m1", Content: "hacked",
	}))
	env.wait()

	errs := carolConn.framesOf(TypeError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Code != CodeAuthorization {
		t.Fatalf("expected authorization error, got %v", errs)
	}
	if got := env.messages.content("m1"); got != "hello world" {
		t.Fatalf("message must be untouched, content %q", got)
	}
}

func TestDeleteSoftDeletesWithPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob")
	alice, _ := env.connect(t, 1, "alice")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, alice, "r1")
	env.join(t, bob, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "oops",
	}))
	env.wait()
	env.d.Dispatch(context.Background(), alice, frame(t, TypeDeleteMessage, MessageRefPayload{MessageID: "m1"}))
	env.wait()

	if got := env.messages.content("m1"); got != domain.DeletedContent {
		t.Fatalf("expected placeholder content, got %q", got)
	}
	deleted := bobConn.framesOf(TypeMessageDeleted)
	if len(deleted) != 1 {
		t.Fatalf("expected message_deleted broadcast, got %d", len(deleted))
	}
	if p := deleted[0].Payload.(MessageDeletedPayload); p.MessageID != "m1" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestReactionToggleIsInvolution(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	alice, aliceConn := env.connect(t, 1, "alice")
	env.join(t, alice, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "hello",
	}))
	env.wait()

	react := frame(t, TypeToggleReact, ToggleReactionPayload{MessageID: "m1", Emoji: "👍"})
	env.d.Dispatch(context.Background(), alice, react)
	env.wait()
	env.d.Dispatch(context.Background(), alice, react)
	env.wait()

	updates := aliceConn.framesOf(TypeReactionUpdated)
	if len(updates) != 2 {
		t.Fatalf("expected 2 reaction_updated, got %d", len(updates))
	}
	first := updates[0].Payload.(ReactionUpdatedPayload)
	second := updates[1].Payload.(ReactionUpdatedPayload)
	if !first.Added || first.Count != 1 {
		t.Fatalf("first toggle: want added=true count=1, got %+v", first)
	}
	if second.Added || second.Count != 0 {
		t.Fatalf("second toggle: want added=false count=0, got %+v", second)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob")
	alice, _ := env.connect(t, 1, "alice")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, alice, "r1")
	env.join(t, bob, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "hello",
	}))
	env.wait()

	mark := frame(t, TypeMarkRead, MessageRefPayload{MessageID: "m1"})
	env.d.Dispatch(context.Background(), bob, mark)
	env.d.Dispatch(context.Background(), bob, mark)
	env.wait()

	if errs := bobConn.framesOf(TypeError); len(errs) != 0 {
		t.Fatalf("repeated mark_message_read must not error: %v", errs)
	}
	if n := env.messages.readMarks("m1"); n != 1 {
		t.Fatalf("expected single effective read mark, got %d", n)
	}
}

func TestJoinSwitchesRoomWithoutDoubleCounting(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r2", 1, "alice")
	env.members.add("r1", 2, "bob")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, bob, "r1")

	alice, _ := env.connect(t, 1, "alice")
	env.join(t, alice, "r1")
	env.join(t, alice, "r2")

	if env.hub.IsOnline("r1", 1) {
		t.Fatalf("alice must have left r1")
	}
	if !env.hub.IsOnline("r2", 1) {
		t.Fatalf("alice must be online in r2")
	}
	if got := bobConn.framesOf(TypeUserLeft); len(got) != 1 {
		t.Fatalf("r1 must see user_left, got %d", len(got))
	}
}

func TestDisconnectCleansUpExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob")
	alice, _ := env.connect(t, 1, "alice")
	bob, bobConn := env.connect(t, 2, "bob")
	env.join(t, alice, "r1")
	env.join(t, bob, "r1")

	env.d.HandleDisconnect(context.Background(), alice)
	env.d.HandleDisconnect(context.Background(), alice) // повторный — no-op
	env.wait()

	if env.hub.IsOnline("r1", 1) {
		t.Fatalf("presence must exclude disconnected user")
	}
	if alice.State() != StateDisconnected {
		t.Fatalf("session must be disconnected, got %v", alice.State())
	}
	if got := bobConn.framesOf(TypeUserLeft); len(got) != 1 {
		t.Fatalf("expected exactly one user_left, got %d", len(got))
	}
	if _, ok := env.sessions.Get(1); ok {
		t.Fatalf("registry must not keep disconnected session")
	}

	// reconnect + rejoin: присутствие восстанавливается без дублей
	alice2, _ := env.connect(t, 1, "alice")
	env.join(t, alice2, "r1")
	if online := env.hub.OnlineUsers("r1"); len(online) != 2 {
		t.Fatalf("expected 2 online users, got %v", online)
	}
}

func TestRosterMergesOfflineMembers(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	env.members.add("r1", 2, "bob") // bob оффлайн

	alice, aliceConn := env.connect(t, 1, "alice")
	env.join(t, alice, "r1")

	rosters := aliceConn.framesOf(TypeOnlineUsers)
	if len(rosters) != 1 {
		t.Fatalf("expected roster frame for joiner, got %d", len(rosters))
	}
	p := rosters[0].Payload.(OnlineUsersPayload)
	if len(p.Roster) != 2 {
		t.Fatalf("roster must include offline members, got %+v", p.Roster)
	}
	byUser := map[int64]RosterItem{}
	for _, it := range p.Roster {
		byUser[it.UserID] = it
	}
	if !byUser[1].Online {
		t.Fatalf("alice must be online")
	}
	if byUser[2].Online {
		t.Fatalf("bob must be offline")
	}
}

func TestUnknownEventTypeIsRejected(t *testing.T) {
	env := newTestEnv(t)
	s, conn := env.connect(t, 1, "alice")

	env.d.Dispatch(context.Background(), s, []byte(`{"type":"fly_to_moon","payload":{}}`))

	errs := conn.framesOf(TypeError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", errs)
	}
}

func TestEmptyContentRejectedBeforeStore(t *testing.T) {
	env := newTestEnv(t)
	env.members.add("r1", 1, "alice")
	alice, conn := env.connect(t, 1, "alice")
	env.join(t, alice, "r1")

	env.d.Dispatch(context.Background(), alice, frame(t, TypeSendMessage, SendMessagePayload{
		RoomID: "r1", Content: "   ",
	}))
	env.wait()

	errs := conn.framesOf(TypeError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", errs)
	}
	if len(env.messages.commits) != 0 {
		t.Fatalf("store must not be touched")
	}
}
