package store

import "time"

// Domain models for the calling core. These mirror the persisted schema;
// provider-specific identifiers (Twilio CallSid, recording SIDs) live in
// ExternalRef/RecordingURL columns, never as separate provider models.

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// RetryPolicy is copied onto every job enqueued for the campaign.
type RetryPolicy struct {
	MaxAttempts  int `json:"max_attempts" db:"retry_max_attempts"`
	DelayMinutes int `json:"delay_minutes" db:"retry_delay_minutes"`
}

type Campaign struct {
	ID       string         `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Status   CampaignStatus `json:"status" db:"status"`
	ScriptID string         `json:"script_id" db:"script_id"`

	RetryPolicy  RetryPolicy `json:"retry_policy"`
	DailyCallCap int         `json:"daily_call_cap" db:"daily_call_cap"`

	// Timezone is an optional IANA zone name; the calling window is
	// evaluated in this zone, falling back to the configured default.
	Timezone string `json:"timezone,omitempty" db:"timezone"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	PausedAt  *time.Time `json:"paused_at,omitempty" db:"paused_at"`
}

// Script holds the persona and state guidance used for reply generation.
type Script struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	IsDefault bool      `json:"is_default" db:"is_default"`
	Persona   string    `json:"persona" db:"persona"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ContactStatus string

const (
	ContactStatusNew          ContactStatus = "new"
	ContactStatusContacted    ContactStatus = "contacted"
	ContactStatusQualified    ContactStatus = "qualified"
	ContactStatusNurture      ContactStatus = "nurture"
	ContactStatusDisqualified ContactStatus = "disqualified"
)

type Contact struct {
	ID         string        `json:"id" db:"id"`
	CampaignID string        `json:"campaign_id,omitempty" db:"campaign_id"`
	Phone      string        `json:"phone" db:"phone"`
	FullName   string        `json:"full_name" db:"full_name"`
	Company    string        `json:"company" db:"company"`
	Email      string        `json:"email,omitempty" db:"email"`
	Status     ContactStatus `json:"status" db:"status"`
	DNC        bool          `json:"dnc" db:"dnc"`

	// Source: import, manual, inbound_call.
	Source string `json:"source,omitempty" db:"source"`

	// LastDispatchedAt is the optimistic dispatch lock: set conditionally
	// right before a call is initiated so two concurrent workers cannot
	// both dial the same contact.
	LastDispatchedAt *time.Time `json:"last_dispatched_at,omitempty" db:"last_dispatched_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusVoicemail  CallStatus = "voicemail"
	CallStatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether the status ends the call lifecycle.
// Terminal calls are never moved back to a live status.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusVoicemail, CallStatusFailed:
		return true
	default:
		return false
	}
}

// CallCosts are dollar amounts per provider leg.
type CallCosts struct {
	Telephony float64 `json:"telephony" db:"cost_telephony"`
	TTS       float64 `json:"tts" db:"cost_tts"`
	ASR       float64 `json:"asr" db:"cost_asr"`
	LLM       float64 `json:"llm" db:"cost_llm"`
}

type Call struct {
	ID         string        `json:"id" db:"id"`
	ContactID  string        `json:"contact_id" db:"contact_id"`
	CampaignID string        `json:"campaign_id,omitempty" db:"campaign_id"`
	Direction  CallDirection `json:"direction" db:"direction"`
	Status     CallStatus    `json:"status" db:"status"`

	// ExternalRef is the provider's call identifier.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	StartAt         *time.Time `json:"start_at,omitempty" db:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty" db:"end_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	Costs        CallCosts `json:"costs"`
	Outcome      string    `json:"outcome,omitempty" db:"outcome"`
	RecordingURL string    `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Turn is one utterance/reply exchange within a call. Append-only;
// (call_id, turn_number) is unique and turn numbers are contiguous from 1.
type Turn struct {
	ID          string    `json:"id" db:"id"`
	CallID      string    `json:"call_id" db:"call_id"`
	TurnNumber  int       `json:"turn_number" db:"turn_number"`
	State       string    `json:"state" db:"state"`
	UserInput   string    `json:"user_input" db:"user_input"`
	BotResponse string    `json:"bot_response" db:"bot_response"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// QualificationData holds the cumulative structured signals for a contact.
// One row per contact, upserted by the lead evaluator.
type QualificationData struct {
	ContactID       string    `json:"contact_id" db:"contact_id"`
	Score           int       `json:"score" db:"score"`
	Timeline        string    `json:"timeline,omitempty" db:"timeline"`
	BudgetRange     string    `json:"budget_range,omitempty" db:"budget_range"`
	PropertiesCount int       `json:"properties_count,omitempty" db:"properties_count"`
	NeedsVideo      bool      `json:"needs_video" db:"needs_video"`
	NeedsPhotos     bool      `json:"needs_photos" db:"needs_photos"`
	DecisionMaker   bool      `json:"decision_maker" db:"decision_maker"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// QualificationUpdate is the partial extraction from a single qualify turn.
// Nil fields mean "no signal this turn"; booleans only ever latch to true.
type QualificationUpdate struct {
	Timeline        *string `json:"timeline,omitempty"`
	BudgetRange     *string `json:"budget_range,omitempty"`
	PropertiesCount *int    `json:"properties_count,omitempty"`
	NeedsVideo      *bool   `json:"needs_video,omitempty"`
	NeedsPhotos     *bool   `json:"needs_photos,omitempty"`
	DecisionMaker   *bool   `json:"decision_maker,omitempty"`
}

// IsEmpty reports whether the turn produced no signals at all.
func (u QualificationUpdate) IsEmpty() bool {
	return u.Timeline == nil && u.BudgetRange == nil && u.PropertiesCount == nil &&
		u.NeedsVideo == nil && u.NeedsPhotos == nil && u.DecisionMaker == nil
}

// Merge folds a turn's update into the cumulative data. Later signals win
// for scalar fields; boolean signals never un-set an earlier true.
func (q *QualificationData) Merge(u QualificationUpdate) {
	if u.Timeline != nil {
		q.Timeline = *u.Timeline
	}
	if u.BudgetRange != nil {
		q.BudgetRange = *u.BudgetRange
	}
	if u.PropertiesCount != nil {
		q.PropertiesCount = *u.PropertiesCount
	}
	if u.NeedsVideo != nil && *u.NeedsVideo {
		q.NeedsVideo = true
	}
	if u.NeedsPhotos != nil && *u.NeedsPhotos {
		q.NeedsPhotos = true
	}
	if u.DecisionMaker != nil && *u.DecisionMaker {
		q.DecisionMaker = true
	}
}

// DNCEntry is a row in the append-only do-not-call ledger.
type DNCEntry struct {
	Phone     string    `json:"phone" db:"phone"`
	Reason    string    `json:"reason" db:"reason"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CampaignCallStats aggregates call outcomes for one campaign.
type CampaignCallStats struct {
	TotalCalls         int     `json:"total_calls"`
	CompletedCalls     int     `json:"completed_calls"`
	QualifiedLeads     int     `json:"qualified_leads"`
	AvgDurationSeconds int     `json:"avg_duration_seconds"`
	ConversionRate     float64 `json:"conversion_rate"`
}
