package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classhub/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, room_id, author_id, kind, content,
	file_url, file_name, file_size, reply_to,
	is_edited, edited_at, is_deleted, deleted_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.RoomID, &m.AuthorID, &m.Kind, &m.Content,
		&m.FileURL, &m.FileName, &m.FileSize, &m.ReplyToID,
		&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO room_messages (room_id, author_id, kind, content, file_url, file_name, file_size, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		m.RoomID, m.AuthorID, m.Kind, m.Content, m.FileURL, m.FileName, m.FileSize, m.ReplyToID)
	return scanMessage(row)
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM room_messages WHERE id=$1`, id)
	return scanMessage(row)
}

// UpdateContent меняет текст только если автор совпадает и сообщение не удалено.
func (r *MessageRepository) UpdateContent(ctx context.Context, id string, authorID int64, content string, editedAt time.Time) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE room_messages
		SET content=$3, is_edited=TRUE, edited_at=$4, updated_at=$4
		WHERE id=$1 AND author_id=$2 AND is_deleted=FALSE
		RETURNING `+messageColumns,
		id, authorID, content, editedAt)
	return scanMessage(row)
}

// SoftDelete заменяет контент на placeholder, строка физически не удаляется.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, authorID int64, deletedAt time.Time) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE room_messages
		SET content=$3, is_deleted=TRUE, deleted_at=$4, updated_at=$4
		WHERE id=$1 AND author_id=$2 AND is_deleted=FALSE
		RETURNING `+messageColumns,
		id, authorID, domain.DeletedContent, deletedAt)
	return scanMessage(row)
}

// History листает историю комнаты назад от курсора; вызывающий получает
// страницу в порядке убывания created_at и сам разворачивает её для клиента.
func (r *MessageRepository) History(ctx context.Context, roomID, before string, limit int) ([]domain.Message, string, error) {
	cur, err := decodeHistoryCursor(before)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM room_messages
		WHERE room_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR created_at < $2
		    OR (created_at = $2 AND id < $3)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $4`,
		roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		if c, e := encodeHistoryCursor(&out[len(out)-1]); e == nil {
			next = c
		}
	}
	return out, next, nil
}

// CountUnread считает сообщения новее последней отметки чтения пользователя,
// свои сообщения не учитываются.
func (r *MessageRepository) CountUnread(ctx context.Context, roomID string, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM room_messages m
		WHERE m.room_id = $1
		  AND m.author_id <> $2
		  AND m.created_at > COALESCE(
		    (SELECT MAX(rm.read_at)
		     FROM message_reads rm
		     JOIN room_messages r2 ON r2.id = rm.message_id
		     WHERE rm.user_id = $2 AND r2.room_id = $1),
		    'epoch'::timestamptz
		  )`,
		roomID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
