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

// Service logs internal audit information: who started or stopped a
// campaign, who dialed outside the pacing loop, and every DNC change.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
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

// LogCampaignAction records a campaign lifecycle change.
func (s *Service) LogCampaignAction(ctx context.Context, t EventType, actorUserID, actorRole, ip, campaignID, message string) error {
	return s.Append(ctx, Event{
		Type:        t,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		Message:     message,
	})
}

// LogManualDial records a single-contact dial issued outside campaign pacing.
func (s *Service) LogManualDial(ctx context.Context, actorUserID, actorRole, ip, campaignID, contactID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeManualDial,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CampaignID:  campaignID,
		ContactID:   contactID,
		Message:     "manual dial queued",
	})
}

// LogDNCAdded records a do-not-call ledger addition.
func (s *Service) LogDNCAdded(ctx context.Context, actorUserID, actorRole, ip, phone, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeDNCAdded,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Phone:       phone,
		Message:     reason,
	})
}
