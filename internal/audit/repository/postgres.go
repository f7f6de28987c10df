package repository

import (
	"context"
	"database/sql"

	"partner-auth-plane/internal/audit/domain"
)

// PostgresRepository persists auth events using the given db.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an auth event repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save appends the event to the auth_events table.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.AuthEvent) error {
	actor := sql.NullString{String: e.ActorID, Valid: e.ActorID != ""}
	partner := sql.NullString{String: e.PartnerID, Valid: e.PartnerID != ""}
	meta := sql.NullString{String: e.Metadata, Valid: e.Metadata != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_events(id, directory_id, partner_id, actor_id, action, ip, metadata, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.DirectoryID, partner, actor, e.Action, e.IP, meta, e.CreatedAt)
	return err
}

// ListByDirectory returns events for the directory, newest first.
func (r *PostgresRepository) ListByDirectory(ctx context.Context, directoryID string, limit, offset int32) ([]*domain.AuthEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, directory_id, partner_id, actor_id, action, ip, metadata, created_at
		 FROM auth_events WHERE directory_id=$1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		directoryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuthEvent
	for rows.Next() {
		var (
			e       domain.AuthEvent
			partner sql.NullString
			actor   sql.NullString
			meta    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DirectoryID, &partner, &actor, &e.Action, &e.IP, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PartnerID = partner.String
		e.ActorID = actor.String
		e.Metadata = meta.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
