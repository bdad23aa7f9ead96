package postgres

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classhub/chat-service/internal/domain"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// historyCursor указывает на последнее отданное сообщение; история листается
// назад по (created_at, id) DESC, id разрывает равенство created_at.
type historyCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// encodeHistoryCursor собирает курсор следующей страницы из последнего
// сообщения текущей.
func encodeHistoryCursor(m *domain.Message) (string, error) {
	data, err := json.Marshal(historyCursor{CreatedAt: m.CreatedAt, ID: m.ID})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeHistoryCursor(s string) (*historyCursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c historyCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}
