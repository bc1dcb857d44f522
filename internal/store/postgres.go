package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres implements every repository over database/sql (pgx stdlib driver).
// All writes are single-row; the only cross-row read is CampaignStats.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Repos returns the Store wiring view of this Postgres instance.
func (p *Postgres) Repos() Store {
	return Store{
		Campaigns:      p,
		Scripts:        p,
		Contacts:       p,
		Calls:          p,
		Turns:          p,
		Qualifications: p,
		DNC:            p,
	}
}

/* ------------------------- campaigns ------------------------- */

func (p *Postgres) CreateCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, script_id, retry_max_attempts, retry_delay_minutes, daily_call_cap, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.Status, c.ScriptID, c.RetryPolicy.MaxAttempts, c.RetryPolicy.DelayMinutes, c.DailyCallCap, c.Timezone, c.CreatedAt,
	)
	return err
}

func (p *Postgres) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, status, script_id, retry_max_attempts, retry_delay_minutes, daily_call_cap, timezone, created_at, started_at, paused_at
		FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Status, &c.ScriptID, &c.RetryPolicy.MaxAttempts, &c.RetryPolicy.DelayMinutes, &c.DailyCallCap, &c.Timezone, &c.CreatedAt, &c.StartedAt, &c.PausedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) SetCampaignStatus(ctx context.Context, id string, status CampaignStatus, at time.Time) error {
	var col string
	switch status {
	case CampaignStatusActive:
		col = "started_at"
	case CampaignStatusPaused:
		col = "paused_at"
	}
	q := `UPDATE campaigns SET status = $2 WHERE id = $1`
	args := []any{id, status}
	if col != "" {
		q = fmt.Sprintf(`UPDATE campaigns SET status = $2, %s = $3 WHERE id = $1`, col)
		args = append(args, at)
	}
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

/* ------------------------- scripts ------------------------- */

func (p *Postgres) CreateScript(ctx context.Context, s Script) error {
	if s.ID == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scripts (id, name, is_default, persona, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Name, s.IsDefault, s.Persona, s.CreatedAt,
	)
	return err
}

func (p *Postgres) GetScript(ctx context.Context, id string) (Script, error) {
	var s Script
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, is_default, persona, created_at FROM scripts WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.IsDefault, &s.Persona, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Script{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) GetDefaultScript(ctx context.Context) (Script, error) {
	var s Script
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, is_default, persona, created_at FROM scripts WHERE is_default LIMIT 1`,
	).Scan(&s.ID, &s.Name, &s.IsDefault, &s.Persona, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Script{}, ErrNotFound
	}
	return s, err
}

/* ------------------------- contacts ------------------------- */

func (p *Postgres) CreateContact(ctx context.Context, c Contact) error {
	if c.ID == "" || c.Phone == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO contacts (id, campaign_id, phone, full_name, company, email, status, dnc, source, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		c.ID, c.CampaignID, c.Phone, c.FullName, c.Company, c.Email, c.Status, c.DNC, c.Source, c.CreatedAt,
	)
	return err
}

const contactColumns = `id, COALESCE(campaign_id, ''), phone, full_name, company, email, status, dnc, source, last_dispatched_at, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.CampaignID, &c.Phone, &c.FullName, &c.Company, &c.Email, &c.Status, &c.DNC, &c.Source, &c.LastDispatchedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) GetContact(ctx context.Context, id string) (Contact, error) {
	c, err := scanContact(p.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) GetContactByPhone(ctx context.Context, phone string) (Contact, bool, error) {
	c, err := scanContact(p.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE phone = $1 LIMIT 1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (p *Postgres) SelectDialable(ctx context.Context, ids []string, limit int) ([]Contact, error) {
	var rows *sql.Rows
	var err error
	if ids != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+contactColumns+` FROM contacts
			WHERE id = ANY($1) AND dnc = FALSE AND status <> 'qualified'
			ORDER BY created_at, id`, ids)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+contactColumns+` FROM contacts
			WHERE status = 'new' AND dnc = FALSE
			ORDER BY created_at, id
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SetContactStatus(ctx context.Context, id string, status ContactStatus, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE contacts SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) SetContactDNC(ctx context.Context, id string, dnc bool, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE contacts SET dnc = $2, updated_at = $3 WHERE id = $1`, id, dnc, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) TryMarkDispatched(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE contacts SET last_dispatched_at = $2, updated_at = $2
		WHERE id = $1 AND (last_dispatched_at IS NULL OR last_dispatched_at < $3)`,
		id, now, now.Add(-window))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

/* ------------------------- calls ------------------------- */

func (p *Postgres) CreateCall(ctx context.Context, c Call) error {
	if c.ID == "" || c.ContactID == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO calls (id, contact_id, campaign_id, direction, status, external_ref, start_at, duration_seconds, outcome, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $10)`,
		c.ID, c.ContactID, c.CampaignID, c.Direction, c.Status, c.ExternalRef, c.StartAt, c.DurationSeconds, c.Outcome, c.CreatedAt,
	)
	return err
}

const callColumns = `id, contact_id, COALESCE(campaign_id, ''), direction, status, external_ref, start_at, end_at, duration_seconds,
	cost_telephony, cost_tts, cost_asr, cost_llm, outcome, recording_url, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.ContactID, &c.CampaignID, &c.Direction, &c.Status, &c.ExternalRef, &c.StartAt, &c.EndAt, &c.DurationSeconds,
		&c.Costs.Telephony, &c.Costs.TTS, &c.Costs.ASR, &c.Costs.LLM, &c.Outcome, &c.RecordingURL, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (p *Postgres) GetCall(ctx context.Context, id string) (Call, error) {
	c, err := scanCall(p.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) SetCallDialed(ctx context.Context, id, externalRef string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE calls SET external_ref = $2, status = 'queued', updated_at = $3 WHERE id = $1`,
		id, externalRef, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) UpdateCallProgress(ctx context.Context, id string, status CallStatus, durationSeconds int, at time.Time) error {
	// Terminal guard in SQL: live rows take the new status; terminal rows
	// only backfill a missing duration.
	res, err := p.db.ExecContext(ctx, `
		UPDATE calls SET
			status = CASE WHEN status IN ('completed','voicemail','failed') THEN status ELSE $2 END,
			duration_seconds = CASE WHEN $3 > 0 AND (duration_seconds = 0 OR status NOT IN ('completed','voicemail','failed')) THEN $3 ELSE duration_seconds END,
			start_at = CASE WHEN $2 = 'in_progress' AND start_at IS NULL THEN $4 ELSE start_at END,
			end_at = CASE WHEN $2 IN ('completed','voicemail','failed') AND end_at IS NULL THEN $4 ELSE end_at END,
			updated_at = $4
		WHERE id = $1`,
		id, status, durationSeconds, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) FinishCall(ctx context.Context, id string, status CallStatus, outcome string, at time.Time) error {
	if !status.IsTerminal() {
		return ErrInvalidArgument
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE calls SET status = $2, outcome = $3, end_at = COALESCE(end_at, $4), updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed','voicemail','failed')`,
		id, status, outcome, at)
	if err != nil {
		return err
	}
	// Already-terminal rows are a no-op, but an unknown id is not.
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetCall(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SetCallRecording(ctx context.Context, id, recordingURL string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE calls SET recording_url = $2, updated_at = $3 WHERE id = $1`, id, recordingURL, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) AddCallCost(ctx context.Context, id string, costs CallCosts, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE calls SET
			cost_telephony = cost_telephony + $2,
			cost_tts = cost_tts + $3,
			cost_asr = cost_asr + $4,
			cost_llm = cost_llm + $5,
			updated_at = $6
		WHERE id = $1`,
		id, costs.Telephony, costs.TTS, costs.ASR, costs.LLM, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) HasCallSince(ctx context.Context, contactID string, since time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM calls WHERE contact_id = $1 AND created_at >= $2 AND status <> 'failed')`,
		contactID, since).Scan(&exists)
	return exists, err
}

func (p *Postgres) ListActiveCalls(ctx context.Context) ([]Call, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE status NOT IN ('completed','voicemail','failed')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) CampaignStats(ctx context.Context, campaignID string) (CampaignCallStats, error) {
	var stats CampaignCallStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE c.status = 'completed'),
			COUNT(DISTINCT c.contact_id) FILTER (WHERE ct.status = 'qualified'),
			COALESCE(AVG(c.duration_seconds) FILTER (WHERE c.duration_seconds > 0), 0)::int
		FROM calls c
		JOIN contacts ct ON ct.id = c.contact_id
		WHERE c.campaign_id = $1`,
		campaignID).Scan(&stats.TotalCalls, &stats.CompletedCalls, &stats.QualifiedLeads, &stats.AvgDurationSeconds)
	if err != nil {
		return CampaignCallStats{}, err
	}
	if stats.TotalCalls > 0 {
		stats.ConversionRate = float64(stats.QualifiedLeads) / float64(stats.TotalCalls) * 100
	}
	return stats, nil
}

/* ------------------------- turns ------------------------- */

func (p *Postgres) AppendTurn(ctx context.Context, t Turn) error {
	if t.CallID == "" || t.TurnNumber < 1 {
		return ErrInvalidArgument
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO turns (id, call_id, turn_number, state, user_input, bot_response, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (call_id, turn_number) DO NOTHING`,
		t.ID, t.CallID, t.TurnNumber, t.State, t.UserInput, t.BotResponse, t.Confidence, t.CreatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateTurn
	}
	return nil
}

func (p *Postgres) LastTurn(ctx context.Context, callID string) (Turn, bool, error) {
	var t Turn
	err := p.db.QueryRowContext(ctx, `
		SELECT id, call_id, turn_number, state, user_input, bot_response, confidence, created_at
		FROM turns WHERE call_id = $1 ORDER BY turn_number DESC LIMIT 1`, callID,
	).Scan(&t.ID, &t.CallID, &t.TurnNumber, &t.State, &t.UserInput, &t.BotResponse, &t.Confidence, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, false, nil
	}
	if err != nil {
		return Turn{}, false, err
	}
	return t, true, nil
}

func (p *Postgres) ListTurns(ctx context.Context, callID string) ([]Turn, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, call_id, turn_number, state, user_input, bot_response, confidence, created_at
		FROM turns WHERE call_id = $1 ORDER BY turn_number`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.CallID, &t.TurnNumber, &t.State, &t.UserInput, &t.BotResponse, &t.Confidence, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

/* ------------------------- qualification ------------------------- */

func (p *Postgres) GetQualification(ctx context.Context, contactID string) (QualificationData, bool, error) {
	var q QualificationData
	err := p.db.QueryRowContext(ctx, `
		SELECT contact_id, score, timeline, budget_range, properties_count, needs_video, needs_photos, decision_maker, updated_at
		FROM qualification_data WHERE contact_id = $1`, contactID,
	).Scan(&q.ContactID, &q.Score, &q.Timeline, &q.BudgetRange, &q.PropertiesCount, &q.NeedsVideo, &q.NeedsPhotos, &q.DecisionMaker, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return QualificationData{}, false, nil
	}
	if err != nil {
		return QualificationData{}, false, err
	}
	return q, true, nil
}

func (p *Postgres) UpsertQualification(ctx context.Context, q QualificationData) error {
	if q.ContactID == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO qualification_data (contact_id, score, timeline, budget_range, properties_count, needs_video, needs_photos, decision_maker, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (contact_id) DO UPDATE SET
			score = EXCLUDED.score,
			timeline = EXCLUDED.timeline,
			budget_range = EXCLUDED.budget_range,
			properties_count = EXCLUDED.properties_count,
			needs_video = EXCLUDED.needs_video,
			needs_photos = EXCLUDED.needs_photos,
			decision_maker = EXCLUDED.decision_maker,
			updated_at = EXCLUDED.updated_at`,
		q.ContactID, q.Score, q.Timeline, q.BudgetRange, q.PropertiesCount, q.NeedsVideo, q.NeedsPhotos, q.DecisionMaker, q.UpdatedAt,
	)
	return err
}

/* ------------------------- dnc ------------------------- */

func (p *Postgres) IsOnDNCList(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dnc_entries WHERE phone = $1)`, phone).Scan(&exists)
	return exists, err
}

func (p *Postgres) AddDNCEntry(ctx context.Context, e DNCEntry) error {
	if e.Phone == "" {
		return ErrInvalidArgument
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dnc_entries (phone, reason, source, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) DO NOTHING`,
		e.Phone, e.Reason, e.Source, e.CreatedAt,
	)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
