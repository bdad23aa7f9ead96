package domain

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// DeletedContent — фиксированный placeholder вместо содержимого удалённого сообщения.
const DeletedContent = "[deleted]"

const MaxContentLen = 4000

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindFile, KindImage, KindSystem:
		return true
	}
	return false
}

type Message struct {
	ID        string      `db:"id"`
	RoomID    string      `db:"room_id"`
	AuthorID  int64       `db:"author_id"`
	Kind      MessageKind `db:"kind"`
	Content   string      `db:"content"`
	FileURL   *string     `db:"file_url"`
	FileName  *string     `db:"file_name"`
	FileSize  *int64      `db:"file_size"`
	ReplyToID *string     `db:"reply_to"`
	IsEdited  bool        `db:"is_edited"`
	EditedAt  *time.Time  `db:"edited_at"`
	IsDeleted bool        `db:"is_deleted"`
	DeletedAt *time.Time  `db:"deleted_at"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}
