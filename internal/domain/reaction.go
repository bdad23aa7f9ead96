package domain

import "time"

// Reaction уникальна по (message_id, user_id, emoji);
// существование строки и есть состояние, toggle создаёт или удаляет её.
type Reaction struct {
	MessageID string    `db:"message_id"`
	UserID    int64     `db:"user_id"`
	Emoji     string    `db:"emoji"`
	CreatedAt time.Time `db:"created_at"`
}

// ReadMark уникальна по (user_id, message_id), upsert-семантика.
type ReadMark struct {
	UserID    int64     `db:"user_id"`
	MessageID string    `db:"message_id"`
	ReadAt    time.Time `db:"read_at"`
}
