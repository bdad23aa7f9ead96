package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Broadcaster — точка подмены при горизонтальном масштабировании: локальная
// реализация раздаёт через хаб процесса, redis-реализация гонит те же кадры
// через pub/sub, и подписчик каждого процесса кормит свой хаб.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, f Frame, excludeUserID int64) error
	Close() error
}

type localBroadcaster struct {
	hub *Hub
}

func NewLocalBroadcaster(hub *Hub) Broadcaster {
	return &localBroadcaster{hub: hub}
}

func (b *localBroadcaster) Broadcast(_ context.Context, roomID string, f Frame, excludeUserID int64) error {
	b.hub.Broadcast(roomID, f, excludeUserID)
	return nil
}

func (b *localBroadcaster) Close() error { return nil }

const redisChannel = "chat:broadcast"

type envelope struct {
	RoomID  string          `json:"room_id"`
	Exclude int64           `json:"exclude,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RedisBroadcaster публикует кадры в общий канал; порядок публикаций по одной
// комнате сохраняется, потому что публикует их единственный worker комнаты.
type RedisBroadcaster struct {
	rdb *redis.Client
	hub *Hub
	sub *redis.PubSub
}

func NewRedisBroadcaster(rdb *redis.Client, hub *Hub) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, hub: hub}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, roomID string, f Frame, excludeUserID int64) error {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(envelope{
		RoomID:  roomID,
		Exclude: excludeUserID,
		Type:    f.Type,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Run подписывается и доставляет входящие конверты в локальный хаб.
// Блокирует до отмены контекста.
func (b *RedisBroadcaster) Run(ctx context.Context) {
	b.sub = b.rdb.Subscribe(ctx, redisChannel)
	ch := b.sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("backplane: bad envelope", "err", err)
				continue
			}
			b.hub.Broadcast(env.RoomID, Frame{Type: env.Type, Payload: env.Payload}, env.Exclude)
		}
	}
}

func (b *RedisBroadcaster) Close() error {
	if b.sub != nil {
		return b.sub.Close()
	}
	return nil
}
