package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory implementation of every repository, used by tests
// and early development.
//
// NOTE: not intended for production; the Postgres implementation is the
// real store.
type Memory struct {
	mu sync.Mutex

	campaigns      map[string]Campaign
	scripts        map[string]Script
	contacts       map[string]Contact
	calls          map[string]Call
	turns          map[string][]Turn // keyed by call id, ordered
	qualifications map[string]QualificationData
	dnc            map[string]DNCEntry
}

func NewMemory() *Memory {
	return &Memory{
		campaigns:      map[string]Campaign{},
		scripts:        map[string]Script{},
		contacts:       map[string]Contact{},
		calls:          map[string]Call{},
		turns:          map[string][]Turn{},
		qualifications: map[string]QualificationData{},
		dnc:            map[string]DNCEntry{},
	}
}

// Repos returns the Store wiring view of this memory instance.
func (m *Memory) Repos() Store {
	return Store{
		Campaigns:      m,
		Scripts:        m,
		Contacts:       m,
		Calls:          m,
		Turns:          m,
		Qualifications: m,
		DNC:            m,
	}
}

/* ------------------------- campaigns ------------------------- */

func (m *Memory) CreateCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) SetCampaignStatus(ctx context.Context, id string, status CampaignStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	switch status {
	case CampaignStatusActive:
		c.StartedAt = &at
	case CampaignStatusPaused:
		c.PausedAt = &at
	}
	m.campaigns[id] = c
	return nil
}

/* ------------------------- scripts ------------------------- */

func (m *Memory) CreateScript(ctx context.Context, s Script) error {
	if s.ID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[s.ID] = s
	return nil
}

func (m *Memory) GetScript(ctx context.Context, id string) (Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return Script{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetDefaultScript(ctx context.Context) (Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scripts {
		if s.IsDefault {
			return s, nil
		}
	}
	return Script{}, ErrNotFound
}

/* ------------------------- contacts ------------------------- */

func (m *Memory) CreateContact(ctx context.Context, c Contact) error {
	if c.ID == "" || c.Phone == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
	return nil
}

func (m *Memory) GetContact(ctx context.Context, id string) (Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetContactByPhone(ctx context.Context, phone string) (Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Phone == phone {
			return c, true, nil
		}
	}
	return Contact{}, false, nil
}

func (m *Memory) SelectDialable(ctx context.Context, ids []string, limit int) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Contact
	if ids != nil {
		for _, id := range ids {
			c, ok := m.contacts[id]
			if !ok || c.DNC || c.Status == ContactStatusQualified {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}

	for _, c := range m.contacts {
		if c.DNC || c.Status != ContactStatusNew {
			continue
		}
		out = append(out, c)
	}
	// Deterministic order for tests and stable pacing.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetContactStatus(ctx context.Context, id string, status ContactStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	m.contacts[id] = c
	return nil
}

func (m *Memory) SetContactDNC(ctx context.Context, id string, dnc bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return ErrNotFound
	}
	c.DNC = dnc
	c.UpdatedAt = at
	m.contacts[id] = c
	return nil
}

func (m *Memory) TryMarkDispatched(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.LastDispatchedAt != nil && now.Sub(*c.LastDispatchedAt) < window {
		return false, nil
	}
	ts := now
	c.LastDispatchedAt = &ts
	c.UpdatedAt = now
	m.contacts[id] = c
	return true, nil
}

/* ------------------------- calls ------------------------- */

func (m *Memory) CreateCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.ContactID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return nil
}

func (m *Memory) GetCall(ctx context.Context, id string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) SetCallDialed(ctx context.Context, id, externalRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.ExternalRef = externalRef
	c.Status = CallStatusQueued
	c.UpdatedAt = at
	m.calls[id] = c
	return nil
}

func (m *Memory) UpdateCallProgress(ctx context.Context, id string, status CallStatus, durationSeconds int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status.IsTerminal() {
		// Late events may still backfill the duration.
		if c.DurationSeconds == 0 && durationSeconds > 0 {
			c.DurationSeconds = durationSeconds
			c.UpdatedAt = at
			m.calls[id] = c
		}
		return nil
	}
	c.Status = status
	if durationSeconds > 0 {
		c.DurationSeconds = durationSeconds
	}
	if status == CallStatusInProgress && c.StartAt == nil {
		ts := at
		c.StartAt = &ts
	}
	if status.IsTerminal() && c.EndAt == nil {
		ts := at
		c.EndAt = &ts
	}
	c.UpdatedAt = at
	m.calls[id] = c
	return nil
}

func (m *Memory) FinishCall(ctx context.Context, id string, status CallStatus, outcome string, at time.Time) error {
	if !status.IsTerminal() {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status.IsTerminal() {
		return nil
	}
	c.Status = status
	c.Outcome = outcome
	ts := at
	c.EndAt = &ts
	c.UpdatedAt = at
	m.calls[id] = c
	return nil
}

func (m *Memory) SetCallRecording(ctx context.Context, id, recordingURL string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.RecordingURL = recordingURL
	c.UpdatedAt = at
	m.calls[id] = c
	return nil
}

func (m *Memory) AddCallCost(ctx context.Context, id string, costs CallCosts, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.Costs.Telephony += costs.Telephony
	c.Costs.TTS += costs.TTS
	c.Costs.ASR += costs.ASR
	c.Costs.LLM += costs.LLM
	c.UpdatedAt = at
	m.calls[id] = c
	return nil
}

func (m *Memory) HasCallSince(ctx context.Context, contactID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.ContactID == contactID && c.Status != CallStatusFailed && !c.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListActiveCalls(ctx context.Context) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if !c.Status.IsTerminal() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CampaignStats(ctx context.Context, campaignID string) (CampaignCallStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats CampaignCallStats
	var durSum, durCount int
	qualifiedContacts := map[string]struct{}{}

	for _, c := range m.calls {
		if c.CampaignID != campaignID {
			continue
		}
		stats.TotalCalls++
		if c.Status == CallStatusCompleted {
			stats.CompletedCalls++
		}
		if c.DurationSeconds > 0 {
			durSum += c.DurationSeconds
			durCount++
		}
		if contact, ok := m.contacts[c.ContactID]; ok && contact.Status == ContactStatusQualified {
			qualifiedContacts[contact.ID] = struct{}{}
		}
	}
	stats.QualifiedLeads = len(qualifiedContacts)
	if durCount > 0 {
		stats.AvgDurationSeconds = durSum / durCount
	}
	if stats.TotalCalls > 0 {
		stats.ConversionRate = float64(stats.QualifiedLeads) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

/* ------------------------- turns ------------------------- */

func (m *Memory) AppendTurn(ctx context.Context, t Turn) error {
	if t.CallID == "" || t.TurnNumber < 1 {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.turns[t.CallID] {
		if existing.TurnNumber == t.TurnNumber {
			return ErrDuplicateTurn
		}
	}
	m.turns[t.CallID] = append(m.turns[t.CallID], t)
	return nil
}

func (m *Memory) LastTurn(ctx context.Context, callID string) (Turn, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.turns[callID]
	if len(ts) == 0 {
		return Turn{}, false, nil
	}
	last := ts[0]
	for _, t := range ts[1:] {
		if t.TurnNumber > last.TurnNumber {
			last = t
		}
	}
	return last, true, nil
}

func (m *Memory) ListTurns(ctx context.Context, callID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Turn(nil), m.turns[callID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })
	return out, nil
}

/* ------------------------- qualification ------------------------- */

func (m *Memory) GetQualification(ctx context.Context, contactID string) (QualificationData, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.qualifications[contactID]
	return q, ok, nil
}

func (m *Memory) UpsertQualification(ctx context.Context, q QualificationData) error {
	if q.ContactID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualifications[q.ContactID] = q
	return nil
}

/* ------------------------- dnc ------------------------- */

func (m *Memory) IsOnDNCList(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dnc[phone]
	return ok, nil
}

func (m *Memory) AddDNCEntry(ctx context.Context, e DNCEntry) error {
	if e.Phone == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dnc[e.Phone]; ok {
		return nil
	}
	m.dnc[e.Phone] = e
	return nil
}
