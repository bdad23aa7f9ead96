package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/classhub/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MembershipRepository struct {
	db *pgxpool.Pool
}

func NewMembershipRepository(db *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var rm domain.Room
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM rooms WHERE id=$1`, id).
		Scan(&rm.ID, &rm.Name, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *MembershipRepository) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`,
		roomID, userID).Scan(&exists)
	return exists, err
}

func (r *MembershipRepository) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.room_id, m.user_id, COALESCE(u.display_name, ''), m.joined_at, m.last_seen
		FROM room_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.joined_at ASC`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.JoinedAt, &m.LastSeen); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// TouchLastSeen — best-effort, отсутствие строки не ошибка.
func (r *MembershipRepository) TouchLastSeen(ctx context.Context, roomID string, userID int64, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE room_members SET last_seen=$3 WHERE room_id=$1 AND user_id=$2`,
		roomID, userID, at)
	return err
}
