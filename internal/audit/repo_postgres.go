package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table. Insert-only;
// nothing in the codebase updates or deletes rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, campaign_id, contact_id, phone, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Type, e.ActorUserID, e.ActorRole, e.IPAddress, e.CampaignID, e.ContactID, e.Phone, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
