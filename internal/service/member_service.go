package service

import (
	"context"
	"time"

	"github.com/classhub/chat-service/internal/domain"
	"github.com/classhub/chat-service/internal/postgres"
)

// MemberService отвечает на единственный вопрос авторизации room-операций —
// состоит ли пользователь в комнате — и отдаёт персистентный список членов
// для слитого roster-а.
type MemberService struct {
	members *postgres.MembershipRepository

	now func() time.Time
}

func NewMemberService(members *postgres.MembershipRepository) *MemberService {
	return &MemberService{members: members, now: time.Now}
}

func (s *MemberService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *MemberService) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	return s.members.GetRoom(ctx, id)
}

func (s *MemberService) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	return s.members.IsMember(ctx, roomID, userID)
}

func (s *MemberService) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	return s.members.ListMembers(ctx, roomID)
}

// TouchLastSeen — best-effort при уходе из комнаты и обрыве соединения.
func (s *MemberService) TouchLastSeen(ctx context.Context, roomID string, userID int64) error {
	return s.members.TouchLastSeen(ctx, roomID, userID, s.now())
}
