package lead

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samiam2007/kc-media-leadgen/internal/crm"
	"github.com/samiam2007/kc-media-leadgen/internal/dialogue"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Qualification thresholds.
const (
	minQualifyScore = 15
	minNurtureScore = 8
)

// timelineTooFar disqualifies regardless of score.
const timelineTooFar = "over_6_months"

// Messenger sends the follow-up SMS. Satisfied by the telephony
// provider.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// Observer counts lead outcomes and outbound messages. Satisfied by
// the metrics registry.
type Observer interface {
	ObserveLead(status string)
	ObserveMessage(purpose string)
}

type nopObserver struct{}

func (nopObserver) ObserveLead(string)    {}
func (nopObserver) ObserveMessage(string) {}

// Evaluation is the outcome of one qualification pass.
type Evaluation struct {
	Qualified  bool                `json:"qualified"`
	Score      int                 `json:"score"`
	Status     store.ContactStatus `json:"status"`
	NextAction string              `json:"next_action"`
	Reason     string              `json:"reason,omitempty"`
}

// Evaluator folds extracted signals into the contact's cumulative
// qualification data, rescoring and re-bucketing on every pass. The
// same data always produces the same evaluation, so replays are safe.
type Evaluator struct {
	contacts store.ContactRepo
	quals    store.QualificationRepo

	crm         crm.Syncer
	sms         Messenger
	bookingLink string

	log   *slog.Logger
	obs   Observer
	clock func() time.Time
}

func NewEvaluator(contacts store.ContactRepo, quals store.QualificationRepo, syncer crm.Syncer, sms Messenger, bookingLink string, log *slog.Logger) *Evaluator {
	return &Evaluator{
		contacts:    contacts,
		quals:       quals,
		crm:         syncer,
		sms:         sms,
		bookingLink: bookingLink,
		log:         log,
		obs:         nopObserver{},
		clock:       time.Now,
	}
}

func (e *Evaluator) WithObserver(obs Observer) *Evaluator {
	e.obs = obs
	return e
}

func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// QualifyLead merges the turn's signals, rescores, updates the contact
// status, and kicks off follow-ups for qualified and nurture leads.
// CRM and SMS failures are logged, never fatal; the evaluation stands
// on its own.
func (e *Evaluator) QualifyLead(ctx context.Context, contactID string, update store.QualificationUpdate) (Evaluation, error) {
	now := e.clock()

	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load contact %s: %w", contactID, err)
	}

	qual, found, err := e.quals.GetQualification(ctx, contactID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load qualification: %w", err)
	}
	if !found {
		qual = store.QualificationData{ContactID: contactID}
	}
	qual.Merge(update)
	qual.Score = dialogue.CalculateLeadScore(qual)
	qual.UpdatedAt = now
	if err := e.quals.UpsertQualification(ctx, qual); err != nil {
		return Evaluation{}, fmt.Errorf("save qualification: %w", err)
	}

	qualified, reason := evaluate(qual)
	status := store.ContactStatusDisqualified
	switch {
	case qualified:
		status = store.ContactStatusQualified
	case qual.Score > minNurtureScore:
		status = store.ContactStatusNurture
	}
	if err := e.contacts.SetContactStatus(ctx, contactID, status, now); err != nil {
		return Evaluation{}, fmt.Errorf("update contact status: %w", err)
	}
	e.obs.ObserveLead(string(status))

	switch status {
	case store.ContactStatusQualified:
		e.handleQualified(ctx, contact, qual)
	case store.ContactStatusNurture:
		e.handleNurture(ctx, contact)
	}

	ev := Evaluation{
		Qualified:  qualified,
		Score:      qual.Score,
		Status:     status,
		NextAction: nextAction(qual.Score, qualified),
	}
	if !qualified {
		ev.Reason = reason
	}
	e.log.InfoContext(ctx, "lead evaluated",
		"contact_id", contactID, "score", qual.Score, "status", status, "next_action", ev.NextAction)
	return ev, nil
}

func evaluate(q store.QualificationData) (bool, string) {
	if q.Timeline == "" || q.Timeline == timelineTooFar {
		return false, "timeline too far out"
	}
	if q.BudgetRange == "" {
		return false, "budget not aligned"
	}
	if q.Score < minQualifyScore {
		if !q.DecisionMaker {
			return false, "not decision maker"
		}
		return false, "low engagement score"
	}
	return true, ""
}

func nextAction(score int, qualified bool) string {
	switch {
	case qualified:
		return "book_meeting"
	case score >= 12:
		return "schedule_callback"
	case score >= 8:
		return "email_nurture"
	default:
		return "archive"
	}
}

func (e *Evaluator) handleQualified(ctx context.Context, contact store.Contact, qual store.QualificationData) {
	if err := e.crm.SyncQualifiedLead(ctx, contact, qual); err != nil {
		e.log.WarnContext(ctx, "crm sync failed", "contact_id", contact.ID, "error", err)
	}
	body := fmt.Sprintf(
		"Hi %s! Great talking with you about aerial media for %s. Here's my calendar to book a 15-minute strategy call: %s",
		contact.FullName, contact.Company, e.bookingLink)
	if _, err := e.sms.SendMessage(ctx, contact.Phone, body); err != nil {
		e.log.WarnContext(ctx, "booking link sms failed", "contact_id", contact.ID, "error", err)
		return
	}
	e.obs.ObserveMessage("booking_link")
}

func (e *Evaluator) handleNurture(ctx context.Context, contact store.Contact) {
	if err := e.crm.EnrollNurture(ctx, contact); err != nil {
		e.log.WarnContext(ctx, "nurture enrollment failed", "contact_id", contact.ID, "error", err)
	}
	body := fmt.Sprintf(
		"Hi %s, thanks for your time today! I'm sending over our portfolio of recent aerial projects. Would love to reconnect when you're ready.",
		contact.FullName)
	if _, err := e.sms.SendMessage(ctx, contact.Phone, body); err != nil {
		e.log.WarnContext(ctx, "nurture sms failed", "contact_id", contact.ID, "error", err)
		return
	}
	e.obs.ObserveMessage("nurture")
}
