package repository

import (
	"context"
	"errors"
	"time"

	"partner-auth-plane/internal/partner/domain"
)

// ErrDuplicateLogin is returned by CreateWithContact when the (directory,
// login) uniqueness constraint is violated.
var ErrDuplicateLogin = errors.New("login already used in this directory")

// Repository defines persistence for auth partners and their contacts.
//
// Lookup methods return (nil, nil) when no row matches; errors are storage
// failures only. Consume methods are atomic check-and-clear operations: under
// concurrent calls with the same token exactly one returns the partner, the
// others return (nil, nil).
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuthPartner, error)
	GetByLogin(ctx context.Context, directoryID, login string) (*domain.AuthPartner, error)
	CountByDirectory(ctx context.Context, directoryID string) (int, error)

	// CreateWithContact persists the contact and its auth partner in one
	// transaction. Returns ErrDuplicateLogin on a (directory, login) clash.
	CreateWithContact(ctx context.Context, c *domain.Contact, p *domain.AuthPartner) error

	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// Token issuance overwrites any prior token of the same kind.
	IssueSetPasswordToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	IssueImpersonationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	IssueMailValidationToken(ctx context.Context, id, tokenHash string) error

	// ConsumeSetPasswordToken clears the token, stores the new password hash,
	// marks the mail verified, and resets the reset counters, all in one
	// atomic update guarded by the token hash and its expiry.
	ConsumeSetPasswordToken(ctx context.Context, directoryID, tokenHash, newPasswordHash string, now time.Time) (*domain.AuthPartner, error)

	// ConsumeImpersonationToken clears the token for the given partner when
	// the hash matches and has not expired.
	ConsumeImpersonationToken(ctx context.Context, directoryID, partnerID, tokenHash string, now time.Time) (*domain.AuthPartner, error)

	// ConsumeMailValidationToken clears the token and marks the mail
	// verified. This token kind carries no expiry.
	ConsumeMailValidationToken(ctx context.Context, directoryID, tokenHash string) (*domain.AuthPartner, error)

	// RecordResetRequested stamps the last reset request, clears the last
	// success, and increments the pending counter.
	RecordResetRequested(ctx context.Context, id string, at time.Time) error
}
