package ws

import (
	"sync"
	"time"
)

type typingKey struct {
	roomID string
	userID int64
}

// TypingTracker — TTL-кэш индикаторов набора, ключ (roomID, userID).
// typing_start продлевает запись; по истечении TTL без продления или явного
// typing_stop трекер сам испускает синтетический "stopped typing".
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]time.Time

	ttl      time.Duration
	now      func() time.Time
	onExpire func(roomID string, userID int64)

	stop     chan struct{}
	stopOnce sync.Once
}

func NewTypingTracker(ttl time.Duration, onExpire func(roomID string, userID int64)) *TypingTracker {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &TypingTracker{
		entries:  make(map[typingKey]time.Time),
		ttl:      ttl,
		now:      time.Now,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
}

// SetClock подменяет источник времени в тестах.
func (t *TypingTracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Start продлевает запись; true — пользователь до этого не печатал.
func (t *TypingTracker) Start(roomID string, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := typingKey{roomID, userID}
	_, existed := t.entries[k]
	t.entries[k] = t.now().Add(t.ttl)
	return !existed
}

// Stop снимает запись; true — запись существовала.
func (t *TypingTracker) Stop(roomID string, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := typingKey{roomID, userID}
	_, existed := t.entries[k]
	delete(t.entries, k)
	return existed
}

// SweepOnce выбрасывает протухшие записи и сообщает о них через onExpire.
func (t *TypingTracker) SweepOnce() {
	t.mu.Lock()
	now := t.now()
	var expired []typingKey
	for k, deadline := range t.entries {
		if now.After(deadline) {
			delete(t.entries, k)
			expired = append(expired, k)
		}
	}
	t.mu.Unlock()

	// callback вне лока: onExpire ходит в broadcaster
	for _, k := range expired {
		if t.onExpire != nil {
			t.onExpire(k.roomID, k.userID)
		}
	}
}

// Run запускает фоновую проверку; шаг — половина TTL, чтобы синтетический
// stop приходил в пределах ttl + ttl/2 после последнего typing_start.
func (t *TypingTracker) Run() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.SweepOnce()
		}
	}
}

func (t *TypingTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
