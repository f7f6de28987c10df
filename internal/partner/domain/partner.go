package domain

import "time"

// Contact is the underlying profile an auth partner authenticates as. It is
// created together with its first auth partner and deleting it cascades to
// the partner rows.
type Contact struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// AuthPartner is one credential-bearing identity scoped to exactly one
// directory. Login derives from the contact email and is unique per
// directory.
//
// Each token slot holds only a hash; an empty hash means no outstanding token
// of that kind. The mail-validation slot deliberately has no expiry.
type AuthPartner struct {
	ID          string
	ContactID   string
	DirectoryID string
	Login       string

	EncryptedPassword string

	SetPasswordTokenHash      string
	SetPasswordTokenExpiresAt *time.Time

	ImpersonationTokenHash      string
	ImpersonationTokenExpiresAt *time.Time

	MailValidationTokenHash string
	MailVerified            bool

	// Reset-request bookkeeping. PendingResetSent counts reminders sent
	// since the last successful reset; useful after migrations when every
	// partner is asked to reset.
	PendingResetSent     int
	LastResetRequestedAt *time.Time
	LastResetSucceededAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicPartner is the caller-facing view of an auth partner.
type PublicPartner struct {
	Login        string
	MailVerified bool
}

// Public returns the partner without credential material.
func (p *AuthPartner) Public() PublicPartner {
	return PublicPartner{Login: p.Login, MailVerified: p.MailVerified}
}

// HasPassword reports whether a password hash is stored.
func (p *AuthPartner) HasPassword() bool {
	return p.EncryptedPassword != ""
}
