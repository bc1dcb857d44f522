package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samiam2007/kc-media-leadgen/internal/queue"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Retry defaults applied when a campaign carries no policy.
const (
	defaultMaxAttempts  = 3
	defaultDelayMinutes = 60
)

// StartResult reports what a campaign start queued.
type StartResult struct {
	Queued              int   `json:"queued"`
	EstimatedDurationMs int64 `json:"estimated_duration_ms"`
}

// StopResult reports what a campaign stop cancelled.
type StopResult struct {
	Cancelled int `json:"cancelled"`
}

// Dispatcher turns a campaign into paced call jobs. Pacing is
// client-side: job i is delayed i intervals, because throughput is
// bounded by the provider's concurrency ceiling anyway and exact rate
// smoothing is not required.
type Dispatcher struct {
	campaigns store.CampaignRepo
	contacts  store.ContactRepo
	queue     queue.Queue

	batchCap   int
	defaultCPM int

	log   *slog.Logger
	clock func() time.Time
}

func NewDispatcher(campaigns store.CampaignRepo, contacts store.ContactRepo, q queue.Queue, batchCap, defaultCPM int, log *slog.Logger) *Dispatcher {
	if batchCap <= 0 {
		batchCap = 100
	}
	if defaultCPM <= 0 {
		defaultCPM = 2
	}
	return &Dispatcher{
		campaigns:  campaigns,
		contacts:   contacts,
		queue:      q,
		batchCap:   batchCap,
		defaultCPM: defaultCPM,
		log:        log,
		clock:      time.Now,
	}
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// StartCampaign enqueues one job per dialable contact, paced at
// callsPerMinute, and marks the campaign active. With a nil contactIDs
// the default selection applies (new, not DNC, capped at the batch
// size); explicit ids are still filtered through the dialable rules.
func (d *Dispatcher) StartCampaign(ctx context.Context, campaignID string, contactIDs []string, callsPerMinute int) (StartResult, error) {
	campaign, err := d.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return StartResult{}, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if campaign.Status == store.CampaignStatusCompleted {
		return StartResult{}, fmt.Errorf("campaign %s: %w: already completed", campaignID, store.ErrInvalidArgument)
	}
	if callsPerMinute <= 0 {
		callsPerMinute = d.defaultCPM
	}

	contacts, err := d.contacts.SelectDialable(ctx, contactIDs, d.batchCap)
	if err != nil {
		return StartResult{}, fmt.Errorf("select contacts: %w", err)
	}

	policy := campaign.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.DelayMinutes <= 0 {
		policy.DelayMinutes = defaultDelayMinutes
	}

	interval := time.Minute / time.Duration(callsPerMinute)
	for i, contact := range contacts {
		job := queue.CallJob{
			JobID:       uuid.NewString(),
			ContactID:   contact.ID,
			CampaignID:  campaign.ID,
			ScriptID:    campaign.ScriptID,
			Attempt:     1,
			MaxAttempts: policy.MaxAttempts,
			BackoffBase: time.Duration(policy.DelayMinutes) * time.Minute,
		}
		if err := d.queue.Enqueue(ctx, job, time.Duration(i)*interval); err != nil {
			return StartResult{}, fmt.Errorf("enqueue contact %s: %w", contact.ID, err)
		}
	}

	if err := d.campaigns.SetCampaignStatus(ctx, campaign.ID, store.CampaignStatusActive, d.clock()); err != nil {
		return StartResult{}, fmt.Errorf("activate campaign: %w", err)
	}

	res := StartResult{
		Queued:              len(contacts),
		EstimatedDurationMs: int64(len(contacts)) * interval.Milliseconds(),
	}
	d.log.InfoContext(ctx, "campaign started",
		"campaign_id", campaign.ID, "queued", res.Queued, "calls_per_minute", callsPerMinute)
	return res, nil
}

// DialContact queues a single immediate call outside the campaign
// pacing loop. The job still runs the full eligibility checks.
func (d *Dispatcher) DialContact(ctx context.Context, campaignID, contactID string) (string, error) {
	campaign, err := d.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if _, err := d.contacts.GetContact(ctx, contactID); err != nil {
		return "", fmt.Errorf("load contact %s: %w", contactID, err)
	}

	policy := campaign.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.DelayMinutes <= 0 {
		policy.DelayMinutes = defaultDelayMinutes
	}

	job := queue.CallJob{
		JobID:       uuid.NewString(),
		ContactID:   contactID,
		CampaignID:  campaign.ID,
		ScriptID:    campaign.ScriptID,
		Attempt:     1,
		MaxAttempts: policy.MaxAttempts,
		BackoffBase: time.Duration(policy.DelayMinutes) * time.Minute,
	}
	if err := d.queue.Enqueue(ctx, job, 0); err != nil {
		return "", fmt.Errorf("enqueue contact %s: %w", contactID, err)
	}
	d.log.InfoContext(ctx, "single call queued", "campaign_id", campaign.ID, "contact_id", contactID, "job_id", job.JobID)
	return job.JobID, nil
}

// StopCampaign pauses the campaign and cancels its pending jobs.
// Best-effort: a job already executing is not interrupted, but its
// processor re-checks the campaign status and skips.
func (d *Dispatcher) StopCampaign(ctx context.Context, campaignID string) (StopResult, error) {
	if _, err := d.campaigns.GetCampaign(ctx, campaignID); err != nil {
		return StopResult{}, fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if err := d.campaigns.SetCampaignStatus(ctx, campaignID, store.CampaignStatusPaused, d.clock()); err != nil {
		return StopResult{}, fmt.Errorf("pause campaign: %w", err)
	}
	cancelled, err := d.queue.CancelByCampaign(ctx, campaignID)
	if err != nil {
		return StopResult{}, fmt.Errorf("cancel pending jobs: %w", err)
	}
	d.log.InfoContext(ctx, "campaign stopped", "campaign_id", campaignID, "cancelled", cancelled)
	return StopResult{Cancelled: cancelled}, nil
}
