package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateTurn signals a (call_id, turn_number) conflict. Webhook
	// retries hit this; callers treat it as "already processed".
	ErrDuplicateTurn = errors.New("duplicate turn")
)

type CampaignRepo interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status CampaignStatus, at time.Time) error
}

type ScriptRepo interface {
	CreateScript(ctx context.Context, s Script) error
	GetScript(ctx context.Context, id string) (Script, error)
	GetDefaultScript(ctx context.Context) (Script, error)
}

type ContactRepo interface {
	CreateContact(ctx context.Context, c Contact) error
	GetContact(ctx context.Context, id string) (Contact, error)
	GetContactByPhone(ctx context.Context, phone string) (Contact, bool, error)

	// SelectDialable resolves the dispatch contact set. With explicit ids it
	// filters out DNC and already-qualified contacts; with nil ids it selects
	// status=new, dnc=false, capped at limit.
	SelectDialable(ctx context.Context, ids []string, limit int) ([]Contact, error)

	SetContactStatus(ctx context.Context, id string, status ContactStatus, at time.Time) error
	SetContactDNC(ctx context.Context, id string, dnc bool, at time.Time) error

	// TryMarkDispatched conditionally stamps last_dispatched_at. It returns
	// false without error when another dispatch won inside the window.
	TryMarkDispatched(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error)
}

type CallRepo interface {
	CreateCall(ctx context.Context, c Call) error
	GetCall(ctx context.Context, id string) (Call, error)

	// SetCallDialed records the provider ref once the call is accepted.
	SetCallDialed(ctx context.Context, id, externalRef string, at time.Time) error

	// UpdateCallProgress applies a provider status event. Terminal calls are
	// never moved back to a live status; a late duration still backfills.
	UpdateCallProgress(ctx context.Context, id string, status CallStatus, durationSeconds int, at time.Time) error

	// FinishCall moves the call to a terminal status with an outcome.
	// No-ops (without error) if the call is already terminal.
	FinishCall(ctx context.Context, id string, status CallStatus, outcome string, at time.Time) error

	SetCallRecording(ctx context.Context, id, recordingURL string, at time.Time) error
	AddCallCost(ctx context.Context, id string, costs CallCosts, at time.Time) error

	// HasCallSince reports whether the contact has a call created after
	// the given instant (the compliance lookback check). Failed calls
	// never connected and do not count; counting them would make a
	// dispatch retry block itself.
	HasCallSince(ctx context.Context, contactID string, since time.Time) (bool, error)

	ListActiveCalls(ctx context.Context) ([]Call, error)
	CampaignStats(ctx context.Context, campaignID string) (CampaignCallStats, error)
}

type TurnRepo interface {
	// AppendTurn inserts an immutable turn. Returns ErrDuplicateTurn when
	// (call_id, turn_number) already exists.
	AppendTurn(ctx context.Context, t Turn) error
	LastTurn(ctx context.Context, callID string) (Turn, bool, error)
	ListTurns(ctx context.Context, callID string) ([]Turn, error)
}

type QualificationRepo interface {
	GetQualification(ctx context.Context, contactID string) (QualificationData, bool, error)
	UpsertQualification(ctx context.Context, q QualificationData) error
}

type DNCRepo interface {
	IsOnDNCList(ctx context.Context, phone string) (bool, error)
	// AddDNCEntry appends to the ledger; a duplicate phone is a no-op.
	AddDNCEntry(ctx context.Context, e DNCEntry) error
}

// Store bundles the repositories handed to services. Components take only
// the interfaces they use; this struct exists for wiring in main.
type Store struct {
	Campaigns      CampaignRepo
	Scripts        ScriptRepo
	Contacts       ContactRepo
	Calls          CallRepo
	Turns          TurnRepo
	Qualifications QualificationRepo
	DNC            DNCRepo
}
