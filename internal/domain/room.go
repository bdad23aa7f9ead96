package domain

import "time"

type Room struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Member — постоянное членство в комнате (authorization predicate для всех
// room-операций); живое присутствие поверх него держит ws-хаб.
type Member struct {
	RoomID      string    `db:"room_id"`
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	JoinedAt    time.Time `db:"joined_at"`
	LastSeen    time.Time `db:"last_seen"`
}
