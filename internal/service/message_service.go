package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/classhub/chat-service/internal/domain"
	"github.com/classhub/chat-service/internal/postgres"
)

const defaultHistoryLimit = 50
const maxHistoryLimit = 100

type SendInput struct {
	RoomID    string
	AuthorID  int64
	Kind      domain.MessageKind
	Content   string
	FileURL   *string
	FileName  *string
	FileSize  *int64
	ReplyToID *string
}

type MessageService struct {
	messages  *postgres.MessageRepository
	reactions *postgres.ReactionRepository
	reads     *postgres.ReadRepository

	now func() time.Time
}

func NewMessageService(
	messages *postgres.MessageRepository,
	reactions *postgres.ReactionRepository,
	reads *postgres.ReadRepository,
) *MessageService {
	return &MessageService{
		messages:  messages,
		reactions: reactions,
		reads:     reads,
		now:       time.Now,
	}
}

// SetClock подменяет источник времени в тестах.
func (s *MessageService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ValidateSend отсева ради выполняется до любого похода в store.
func ValidateSend(in *SendInput) error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Kind == "" {
		in.Kind = domain.KindText
	}
	if !in.Kind.Valid() || in.Kind == domain.KindSystem {
		// system-сообщения создаёт только сервер
		return domain.ErrBadKind
	}
	switch in.Kind {
	case domain.KindText:
		if in.Content == "" {
			return domain.ErrEmptyContent
		}
	case domain.KindFile, domain.KindImage:
		if in.FileURL == nil || *in.FileURL == "" {
			return domain.ErrMissingFile
		}
	}
	if len(in.Content) > domain.MaxContentLen {
		return domain.ErrContentTooLong
	}
	return nil
}

func (s *MessageService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if err := ValidateSend(&in); err != nil {
		return nil, err
	}
	m := &domain.Message{
		RoomID:    in.RoomID,
		AuthorID:  in.AuthorID,
		Kind:      in.Kind,
		Content:   in.Content,
		FileURL:   in.FileURL,
		FileName:  in.FileName,
		FileSize:  in.FileSize,
		ReplyToID: in.ReplyToID,
	}
	saved, err := s.messages.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("messages.Create: %w", err)
	}
	return saved, nil
}

func (s *MessageService) Get(ctx context.Context, id string) (*domain.Message, error) {
	return s.messages.Get(ctx, id)
}

func (s *MessageService) Edit(ctx context.Context, id string, userID int64, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}
	if len(content) > domain.MaxContentLen {
		return nil, domain.ErrContentTooLong
	}

	cur, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.AuthorID != userID {
		return nil, domain.ErrNotAuthor
	}
	if cur.IsDeleted {
		return nil, domain.ErrMessageNotFound
	}
	return s.messages.UpdateContent(ctx, id, userID, content, s.now())
}

func (s *MessageService) Delete(ctx context.Context, id string, userID int64) (*domain.Message, error) {
	cur, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.AuthorID != userID {
		return nil, domain.ErrNotAuthor
	}
	if cur.IsDeleted {
		// уже удалено — отдать как есть, повторный delete идемпотентен
		return cur, nil
	}
	return s.messages.SoftDelete(ctx, id, userID, s.now())
}

// ToggleReaction — инволюция: второй вызов с теми же аргументами возвращает
// реакции в исходное состояние. Ответ всегда содержит итоговый count.
func (s *MessageService) ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string) (added bool, count int, err error) {
	if _, err = s.messages.Get(ctx, messageID); err != nil {
		return false, 0, err
	}
	added, err = s.reactions.Toggle(ctx, messageID, userID, emoji)
	if err != nil {
		return false, 0, fmt.Errorf("reactions.Toggle: %w", err)
	}
	count, err = s.reactions.Count(ctx, messageID, emoji)
	if err != nil {
		return false, 0, err
	}
	return added, count, nil
}

func (s *MessageService) MarkRead(ctx context.Context, messageID string, userID int64) error {
	if _, err := s.messages.Get(ctx, messageID); err != nil {
		return err
	}
	return s.reads.Upsert(ctx, messageID, userID, s.now())
}

// History отдаёт страницу истории по возрастанию created_at; внутри репозиторий
// ходит назад от курсора в обратном порядке.
func (s *MessageService) History(ctx context.Context, roomID, before string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	items, next, err := s.messages.History(ctx, roomID, before, limit)
	if err != nil {
		return nil, "", err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, next, nil
}

func (s *MessageService) UnreadCount(ctx context.Context, roomID string, userID int64) (int, error) {
	return s.messages.CountUnread(ctx, roomID, userID)
}
