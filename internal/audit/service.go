package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to dashboard users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAgentCreated records a dashboard agent registration.
func (s *Service) LogAgentCreated(ctx context.Context, actor, ip string, agentConfigID int64, message string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeAgentCreated,
		Actor:         actor,
		IPAddress:     ip,
		AgentConfigID: agentConfigID,
		Message:       message,
	})
}

// LogCallTriggered records a dashboard-initiated call.
func (s *Service) LogCallTriggered(ctx context.Context, actor, ip string, agentConfigID int64, callID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallTriggered,
		Actor:         actor,
		IPAddress:     ip,
		AgentConfigID: agentConfigID,
		CallID:        callID,
		Message:       "web call initiated",
	})
}
