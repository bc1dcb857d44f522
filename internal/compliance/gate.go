package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Reason identifies why a contact was blocked from dialing.
type Reason string

const (
	ReasonContactNotFound Reason = "contact_not_found"
	// ReasonDNCFlag: the contact record itself is flagged.
	ReasonDNCFlag Reason = "dnc_flag"
	// ReasonDNCList: the phone is on the global ledger; the contact
	// flag is backfilled as a side effect.
	ReasonDNCList      Reason = "dnc_list"
	ReasonOutsideHours Reason = "outside_hours"
	ReasonRecentCall   Reason = "recent_call"
)

// Result is the outcome of an eligibility check. Transient blocks
// (outside the calling window, over the daily cap) may be retried later
// without consuming a retry attempt; the rest are final for this job.
type Result struct {
	Eligible  bool   `json:"eligible"`
	Reason    Reason `json:"reason,omitempty"`
	Transient bool   `json:"transient,omitempty"`

	// RetryIn is set on transient blocks: how long until the block
	// would clear.
	RetryIn time.Duration `json:"retry_in,omitempty"`
}

// Window is a daily calling window in local hours. StartHour is
// inclusive, EndHour exclusive.
type Window struct {
	StartHour int
	EndHour   int
}

// Contains reports whether the instant falls inside the window,
// evaluated in the given zone.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	h := t.In(loc).Hour()
	return h >= w.StartHour && h < w.EndHour
}

// UntilOpen returns how long until the window next opens, zero when
// already inside it.
func (w Window) UntilOpen(t time.Time, loc *time.Location) time.Duration {
	if w.Contains(t, loc) {
		return 0
	}
	local := t.In(loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, loc)
	if !local.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	return open.Sub(local)
}

// Gate runs the pre-dial eligibility checks. Checks run in a fixed
// order so the reported reason is deterministic: contact existence,
// then the contact's own DNC flag, then the global DNC ledger, then
// the calling window, then the recent-call lookback.
type Gate struct {
	contacts store.ContactRepo
	calls    store.CallRepo
	dnc      store.DNCRepo

	window    Window
	defaultTZ *time.Location
	lookback  time.Duration

	log   *slog.Logger
	clock func() time.Time
}

func NewGate(contacts store.ContactRepo, calls store.CallRepo, dnc store.DNCRepo, window Window, defaultTZ *time.Location, lookback time.Duration, log *slog.Logger) *Gate {
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &Gate{
		contacts:  contacts,
		calls:     calls,
		dnc:       dnc,
		window:    window,
		defaultTZ: defaultTZ,
		lookback:  lookback,
		log:       log,
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// CheckEligible decides whether the contact may be dialed right now.
// A ledger hit with a stale contact flag repairs the flag in place so
// later checks short-circuit cheaply.
func (g *Gate) CheckEligible(ctx context.Context, contactID string, campaign store.Campaign) (Result, error) {
	now := g.clock()

	contact, err := g.contacts.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Reason: ReasonContactNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load contact: %w", err)
	}

	if contact.DNC {
		return Result{Reason: ReasonDNCFlag}, nil
	}

	listed, err := g.dnc.IsOnDNCList(ctx, contact.Phone)
	if err != nil {
		return Result{}, fmt.Errorf("dnc lookup: %w", err)
	}
	if listed {
		if err := g.contacts.SetContactDNC(ctx, contact.ID, true, now); err != nil {
			g.log.WarnContext(ctx, "failed to backfill dnc flag", "contact_id", contact.ID, "error", err)
		}
		return Result{Reason: ReasonDNCList}, nil
	}

	loc := g.defaultTZ
	if campaign.Timezone != "" {
		if l, err := time.LoadLocation(campaign.Timezone); err == nil {
			loc = l
		} else {
			g.log.WarnContext(ctx, "invalid campaign timezone, using default", "campaign_id", campaign.ID, "timezone", campaign.Timezone)
		}
	}
	if !g.window.Contains(now, loc) {
		return Result{Reason: ReasonOutsideHours, Transient: true, RetryIn: g.window.UntilOpen(now, loc)}, nil
	}

	recent, err := g.calls.HasCallSince(ctx, contact.ID, now.Add(-g.lookback))
	if err != nil {
		return Result{}, fmt.Errorf("recent call lookup: %w", err)
	}
	if recent {
		return Result{Reason: ReasonRecentCall}, nil
	}

	return Result{Eligible: true}, nil
}
