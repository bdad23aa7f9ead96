package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ReactionRepository struct {
	db *pgxpool.Pool
}

func NewReactionRepository(db *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Toggle удаляет строку (user_id, message_id, emoji), если она есть, иначе
// создаёт её. Никакой отдельной проверки существования: delete-if-exists,
// затем insert ON CONFLICT — гонка create/create невозможна.
func (r *ReactionRepository) Toggle(ctx context.Context, messageID string, userID int64, emoji string) (added bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}

	if cmd.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			messageID, userID, emoji); err != nil {
			return false, err
		}
		added = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return added, nil
}

func (r *ReactionRepository) Count(ctx context.Context, messageID, emoji string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_reactions WHERE message_id=$1 AND emoji=$2`,
		messageID, emoji).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reactions: %w", err)
	}
	return count, nil
}
