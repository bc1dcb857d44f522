package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/samiam2007/kc-media-leadgen/internal/compliance"
	"github.com/samiam2007/kc-media-leadgen/internal/queue"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
	"github.com/samiam2007/kc-media-leadgen/internal/telephony"
	"github.com/samiam2007/kc-media-leadgen/pkg/utils"
)

// dispatchLockWindow guards against two workers dialing the same
// contact at once. Short on purpose: longer protection against repeat
// calls is the compliance gate's lookback.
const dispatchLockWindow = 2 * time.Minute

// SlotLimiter enforces the per-campaign daily call cap.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID string, cap int, now time.Time) (bool, error)
}

// RedisSlotLimiter counts calls per campaign per UTC day.
type RedisSlotLimiter struct {
	rdb *redis.Client
}

func NewRedisSlotLimiter(rdb *redis.Client) *RedisSlotLimiter {
	return &RedisSlotLimiter{rdb: rdb}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context, campaignID string, cap int, now time.Time) (bool, error) {
	return utils.AcquireDailySlot(ctx, l.rdb, utils.DailySlotKey(campaignID, now), cap, utils.UntilEndOfDay(now))
}

// Observer counts initiated calls. Satisfied by the metrics registry.
type Observer interface {
	ObserveCall(direction string)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string) {}

// Processor executes one claimed call job: re-check compliance, take a
// daily cap slot, win the dispatch lock, then hand the call to the
// provider. The eligibility re-check matters because hours or DNC
// state may have changed since the job was enqueued.
type Processor struct {
	campaigns store.CampaignRepo
	contacts  store.ContactRepo
	calls     store.CallRepo

	gate     *compliance.Gate
	limiter  SlotLimiter
	provider telephony.Provider

	// webhookBase is the public prefix for call webhooks, e.g.
	// https://app.example.com/webhooks/twilio.
	webhookBase string

	log   *slog.Logger
	obs   Observer
	clock func() time.Time
}

func NewProcessor(st store.Store, gate *compliance.Gate, limiter SlotLimiter, provider telephony.Provider, webhookBase string, log *slog.Logger) *Processor {
	return &Processor{
		campaigns:   st.Campaigns,
		contacts:    st.Contacts,
		calls:       st.Calls,
		gate:        gate,
		limiter:     limiter,
		provider:    provider,
		webhookBase: webhookBase,
		log:         log,
		obs:         nopObserver{},
		clock:       time.Now,
	}
}

func (p *Processor) WithObserver(obs Observer) *Processor {
	p.obs = obs
	return p
}

func (p *Processor) WithClock(clock func() time.Time) *Processor {
	p.clock = clock
	return p
}

func (p *Processor) Process(ctx context.Context, job queue.CallJob) (queue.Result, error) {
	now := p.clock()

	campaign, err := p.campaigns.GetCampaign(ctx, job.CampaignID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Result{Outcome: queue.OutcomeSkipped, Detail: "campaign_missing"}, nil
	}
	if err != nil {
		return queue.Result{}, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != store.CampaignStatusActive {
		return queue.Result{Outcome: queue.OutcomeSkipped, Detail: "campaign_inactive"}, nil
	}

	elig, err := p.gate.CheckEligible(ctx, job.ContactID, campaign)
	if err != nil {
		return queue.Result{}, fmt.Errorf("eligibility check: %w", err)
	}
	if !elig.Eligible {
		if elig.Transient {
			return queue.Result{Outcome: queue.OutcomeParked, RetryIn: elig.RetryIn, Detail: string(elig.Reason)}, nil
		}
		return queue.Result{Outcome: queue.OutcomeSkipped, Detail: string(elig.Reason)}, nil
	}

	if campaign.DailyCallCap > 0 {
		ok, err := p.limiter.Acquire(ctx, campaign.ID, campaign.DailyCallCap, now)
		if err != nil {
			return queue.Result{}, fmt.Errorf("daily cap: %w", err)
		}
		if !ok {
			// Cap parking does not consume a retry attempt, same as
			// outside_hours.
			return queue.Result{Outcome: queue.OutcomeParked, RetryIn: utils.UntilEndOfDay(now), Detail: "daily_cap"}, nil
		}
	}

	contact, err := p.contacts.GetContact(ctx, job.ContactID)
	if err != nil {
		return queue.Result{}, fmt.Errorf("load contact: %w", err)
	}

	won, err := p.contacts.TryMarkDispatched(ctx, contact.ID, now, dispatchLockWindow)
	if err != nil {
		return queue.Result{}, fmt.Errorf("dispatch lock: %w", err)
	}
	if !won {
		return queue.Result{Outcome: queue.OutcomeSkipped, Detail: "dispatch_race"}, nil
	}

	call := store.Call{
		ID:         uuid.NewString(),
		ContactID:  contact.ID,
		CampaignID: campaign.ID,
		Direction:  store.CallDirectionOutbound,
		Status:     store.CallStatusInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.calls.CreateCall(ctx, call); err != nil {
		return queue.Result{}, fmt.Errorf("create call: %w", err)
	}

	res, err := p.provider.InitiateCall(ctx, telephony.InitiateCallRequest{
		To:                contact.Phone,
		AnswerURL:         fmt.Sprintf("%s/answer?call_id=%s", p.webhookBase, call.ID),
		StatusCallbackURL: fmt.Sprintf("%s/status?call_id=%s", p.webhookBase, call.ID),
		MachineDetection:  true,
		Record:            true,
	})
	if err != nil {
		if ferr := p.calls.FinishCall(ctx, call.ID, store.CallStatusFailed, "initiate_failed", p.clock()); ferr != nil {
			p.log.ErrorContext(ctx, "failed to mark call failed", "call_id", call.ID, "error", ferr)
		}
		return queue.Result{}, fmt.Errorf("initiate call: %w", err)
	}

	if err := p.calls.SetCallDialed(ctx, call.ID, res.CallSID, p.clock()); err != nil {
		p.log.ErrorContext(ctx, "failed to record provider ref", "call_id", call.ID, "error", err)
	}
	if err := p.contacts.SetContactStatus(ctx, contact.ID, store.ContactStatusContacted, p.clock()); err != nil {
		p.log.ErrorContext(ctx, "failed to mark contact contacted", "contact_id", contact.ID, "error", err)
	}

	p.obs.ObserveCall(string(store.CallDirectionOutbound))
	p.log.InfoContext(ctx, "call initiated",
		"call_id", call.ID, "contact_id", contact.ID, "campaign_id", campaign.ID, "provider_ref", res.CallSID)
	return queue.Result{Outcome: queue.OutcomeDone, Detail: call.ID}, nil
}
