package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"partner-auth-plane/internal/directory/domain"
)

const foreignKeyViolation = "23503"

const directoryColumns = `id, name, set_password_token_ttl_seconds, impersonation_token_ttl_seconds,
	cookie_secret_key, cookie_ttl_seconds, sliding_session,
	impersonator_ids, templates, policy_rego, created_at, updated_at`

// PostgresRepository persists directories using the given db. Impersonator
// lists and template bindings are stored as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a directory repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the directory for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Directory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE id=$1`, id)
	return scanDirectory(row)
}

// GetByName returns the directory with the given display name, or nil.
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*domain.Directory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE name=$1`, name)
	return scanDirectory(row)
}

// List returns all directories ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Directory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+directoryColumns+` FROM directories ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Create inserts the directory.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Directory) error {
	impersonators, templates, err := marshalJSONFields(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO directories(
			id, name, set_password_token_ttl_seconds, impersonation_token_ttl_seconds,
			cookie_secret_key, cookie_ttl_seconds, sliding_session,
			impersonator_ids, templates, policy_rego, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
		d.ID, d.Name,
		int64(d.SetPasswordTokenTTL/time.Second), int64(d.ImpersonationTokenTTL/time.Second),
		d.CookieSecretKey, int64(d.CookieTTL/time.Second), d.SlidingSession,
		impersonators, templates, d.PolicyRego, d.CreatedAt)
	return err
}

// Update rewrites the directory's mutable fields.
func (r *PostgresRepository) Update(ctx context.Context, d *domain.Directory) error {
	impersonators, templates, err := marshalJSONFields(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE directories
		 SET name=$2, set_password_token_ttl_seconds=$3, impersonation_token_ttl_seconds=$4,
		     cookie_ttl_seconds=$5, sliding_session=$6,
		     impersonator_ids=$7, templates=$8, policy_rego=$9, updated_at=now()
		 WHERE id=$1`,
		d.ID, d.Name,
		int64(d.SetPasswordTokenTTL/time.Second), int64(d.ImpersonationTokenTTL/time.Second),
		int64(d.CookieTTL/time.Second), d.SlidingSession,
		impersonators, templates, d.PolicyRego)
	return err
}

// RotateSecret replaces the cookie secret key.
func (r *PostgresRepository) RotateSecret(ctx context.Context, id, secret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE directories SET cookie_secret_key=$2, updated_at=now() WHERE id=$1`,
		id, secret)
	return err
}

// Delete removes the directory. The partner foreign key is RESTRICT, so a
// populated directory returns ErrHasPartners.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM directories WHERE id=$1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrHasPartners
		}
	}
	return err
}

func marshalJSONFields(d *domain.Directory) (impersonators, templates []byte, err error) {
	ids := d.ImpersonatorIDs
	if ids == nil {
		ids = []string{}
	}
	impersonators, err = json.Marshal(ids)
	if err != nil {
		return nil, nil, err
	}
	binds := d.Templates
	if binds == nil {
		binds = map[domain.NotificationKind]string{}
	}
	templates, err = json.Marshal(binds)
	if err != nil {
		return nil, nil, err
	}
	return impersonators, templates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectory(row rowScanner) (*domain.Directory, error) {
	var (
		d             domain.Directory
		setPwdSec     int64
		impSec        int64
		cookieSec     int64
		impersonators []byte
		templates     []byte
		policy        sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.Name, &setPwdSec, &impSec,
		&d.CookieSecretKey, &cookieSec, &d.SlidingSession,
		&impersonators, &templates, &policy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.SetPasswordTokenTTL = time.Duration(setPwdSec) * time.Second
	d.ImpersonationTokenTTL = time.Duration(impSec) * time.Second
	d.CookieTTL = time.Duration(cookieSec) * time.Second
	if err := json.Unmarshal(impersonators, &d.ImpersonatorIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(templates, &d.Templates); err != nil {
		return nil, err
	}
	d.PolicyRego = policy.String
	return &d, nil
}
