package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ReadRepository struct {
	db *pgxpool.Pool
}

func NewReadRepository(db *pgxpool.Pool) *ReadRepository {
	return &ReadRepository{db: db}
}

// Upsert — идемпотентная отметка чтения; повторный вызов только обновляет read_at.
func (r *ReadRepository) Upsert(ctx context.Context, messageID string, userID int64, readAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_reads (user_id, message_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, message_id) DO UPDATE SET read_at = EXCLUDED.read_at`,
		userID, messageID, readAt)
	return err
}
