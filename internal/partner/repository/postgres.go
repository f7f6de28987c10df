package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"partner-auth-plane/internal/partner/domain"
)

const uniqueViolation = "23505"

const partnerColumns = `id, contact_id, directory_id, login, encrypted_password,
	token_set_password_hash, token_set_password_expires_at,
	token_impersonation_hash, token_impersonation_expires_at,
	token_mail_validation_hash, mail_verified,
	nbr_pending_reset_sent, date_last_reset_requested, date_last_reset_succeeded,
	created_at, updated_at`

// PostgresRepository persists auth partners using the given db.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a partner repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the partner for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuthPartner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM auth_partners WHERE id=$1`, id)
	return scanPartner(row)
}

// GetByLogin returns the partner with the given login inside directoryID, or
// nil if not found. At most one row can match by the uniqueness constraint.
func (r *PostgresRepository) GetByLogin(ctx context.Context, directoryID, login string) (*domain.AuthPartner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM auth_partners WHERE directory_id=$1 AND login=$2`,
		directoryID, login)
	return scanPartner(row)
}

// CountByDirectory returns the number of partners in the directory.
func (r *PostgresRepository) CountByDirectory(ctx context.Context, directoryID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM auth_partners WHERE directory_id=$1`, directoryID).Scan(&n)
	return n, err
}

// CreateWithContact inserts the contact and its auth partner in one
// transaction. A (directory, login) clash rolls back and returns
// ErrDuplicateLogin.
func (r *PostgresRepository) CreateWithContact(ctx context.Context, c *domain.Contact, p *domain.AuthPartner) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contacts(id, name, email, created_at) VALUES($1,$2,$3,$4)`,
		c.ID, c.Name, c.Email, c.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_partners(
			id, contact_id, directory_id, login, encrypted_password,
			token_mail_validation_hash, mail_verified, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		p.ID, p.ContactID, p.DirectoryID, p.Login, p.EncryptedPassword,
		p.MailValidationTokenHash, p.MailVerified, p.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateLogin
		}
		return err
	}
	return tx.Commit()
}

// UpdatePasswordHash replaces the stored password hash for the partner.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_partners SET encrypted_password=$2, updated_at=now() WHERE id=$1`,
		id, passwordHash)
	return err
}

// IssueSetPasswordToken stores the hash and expiry of a fresh set-password
// token, superseding any outstanding one.
func (r *PostgresRepository) IssueSetPasswordToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_partners
		 SET token_set_password_hash=$2, token_set_password_expires_at=$3, updated_at=now()
		 WHERE id=$1`,
		id, tokenHash, expiresAt)
	return err
}

// IssueImpersonationToken stores the hash and expiry of a fresh impersonation
// token, superseding any outstanding one.
func (r *PostgresRepository) IssueImpersonationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_partners
		 SET token_impersonation_hash=$2, token_impersonation_expires_at=$3, updated_at=now()
		 WHERE id=$1`,
		id, tokenHash, expiresAt)
	return err
}

// IssueMailValidationToken stores the hash of a fresh mail-validation token.
func (r *PostgresRepository) IssueMailValidationToken(ctx context.Context, id, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_partners
		 SET token_mail_validation_hash=$2, updated_at=now()
		 WHERE id=$1`,
		id, tokenHash)
	return err
}

// ConsumeSetPasswordToken performs the single-use redemption of a
// set-password token. The token match, expiry check, password write, token
// clear, and counter reset happen in one UPDATE, so a concurrent redemption
// of the same token can only succeed once.
func (r *PostgresRepository) ConsumeSetPasswordToken(ctx context.Context, directoryID, tokenHash, newPasswordHash string, now time.Time) (*domain.AuthPartner, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE auth_partners
		 SET encrypted_password=$3,
		     token_set_password_hash='',
		     token_set_password_expires_at=NULL,
		     mail_verified=TRUE,
		     date_last_reset_succeeded=$4,
		     nbr_pending_reset_sent=0,
		     updated_at=$4
		 WHERE directory_id=$1
		   AND token_set_password_hash=$2
		   AND token_set_password_hash <> ''
		   AND token_set_password_expires_at > $4
		 RETURNING `+partnerColumns,
		directoryID, tokenHash, newPasswordHash, now)
	return scanPartner(row)
}

// ConsumeImpersonationToken performs the single-use redemption of an
// impersonation token for one partner, atomically.
func (r *PostgresRepository) ConsumeImpersonationToken(ctx context.Context, directoryID, partnerID, tokenHash string, now time.Time) (*domain.AuthPartner, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE auth_partners
		 SET token_impersonation_hash='',
		     token_impersonation_expires_at=NULL,
		     updated_at=$4
		 WHERE directory_id=$1
		   AND id=$2
		   AND token_impersonation_hash=$3
		   AND token_impersonation_hash <> ''
		   AND token_impersonation_expires_at > $4
		 RETURNING `+partnerColumns,
		directoryID, partnerID, tokenHash, now)
	return scanPartner(row)
}

// ConsumeMailValidationToken redeems a mail-validation token. No expiry
// guards this kind.
func (r *PostgresRepository) ConsumeMailValidationToken(ctx context.Context, directoryID, tokenHash string) (*domain.AuthPartner, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE auth_partners
		 SET token_mail_validation_hash='',
		     mail_verified=TRUE,
		     updated_at=now()
		 WHERE directory_id=$1
		   AND token_mail_validation_hash=$2
		   AND token_mail_validation_hash <> ''
		 RETURNING `+partnerColumns,
		directoryID, tokenHash)
	return scanPartner(row)
}

// RecordResetRequested stamps the reset-request bookkeeping fields.
func (r *PostgresRepository) RecordResetRequested(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_partners
		 SET date_last_reset_requested=$2,
		     date_last_reset_succeeded=NULL,
		     nbr_pending_reset_sent=nbr_pending_reset_sent+1,
		     updated_at=$2
		 WHERE id=$1`,
		id, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(row rowScanner) (*domain.AuthPartner, error) {
	var (
		p             domain.AuthPartner
		password      sql.NullString
		setPwdHash    sql.NullString
		setPwdExp     sql.NullTime
		impHash       sql.NullString
		impExp        sql.NullTime
		mailHash      sql.NullString
		lastRequest   sql.NullTime
		lastSucceeded sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.ContactID, &p.DirectoryID, &p.Login, &password,
		&setPwdHash, &setPwdExp,
		&impHash, &impExp,
		&mailHash, &p.MailVerified,
		&p.PendingResetSent, &lastRequest, &lastSucceeded,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.EncryptedPassword = password.String
	p.SetPasswordTokenHash = setPwdHash.String
	if setPwdExp.Valid {
		t := setPwdExp.Time
		p.SetPasswordTokenExpiresAt = &t
	}
	p.ImpersonationTokenHash = impHash.String
	if impExp.Valid {
		t := impExp.Time
		p.ImpersonationTokenExpiresAt = &t
	}
	p.MailValidationTokenHash = mailHash.String
	if lastRequest.Valid {
		t := lastRequest.Time
		p.LastResetRequestedAt = &t
	}
	if lastSucceeded.Valid {
		t := lastSucceeded.Time
		p.LastResetSucceededAt = &t
	}
	return &p, nil
}
