package domain

import "time"

// NotificationKind identifies one of the mails a directory can send to its
// partners. Each kind is statically bound to a template reference on the
// directory.
type NotificationKind string

const (
	KindRequestResetPassword NotificationKind = "request_reset_password"
	KindInviteSetPassword    NotificationKind = "invite_set_password"
	KindInviteValidateEmail  NotificationKind = "invite_validate_email"
)

// Valid reports whether k is one of the known notification kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindRequestResetPassword, KindInviteSetPassword, KindInviteValidateEmail:
		return true
	}
	return false
}

const (
	// DefaultSetPasswordTokenTTL is how long a reset/invite token stays
	// redeemable (24h).
	DefaultSetPasswordTokenTTL = 24 * time.Hour
	// DefaultImpersonationTokenTTL is how long an impersonation token stays
	// redeemable. Impersonation tokens travel in a redirect URL and are
	// expected to be consumed immediately, so the window is one minute.
	DefaultImpersonationTokenTTL = time.Minute
	// DefaultCookieTTL is the session cookie lifetime (one year).
	DefaultCookieTTL = 365 * 24 * time.Hour
)

// Directory is a tenant boundary: logins are unique inside a directory, and
// the directory owns the token policy and template bindings for its partners.
type Directory struct {
	ID   string
	Name string

	SetPasswordTokenTTL   time.Duration
	ImpersonationTokenTTL time.Duration

	// CookieSecretKey signs claim tokens for this directory. It must never be
	// exposed to non-privileged principals; Public() strips it.
	CookieSecretKey string
	CookieTTL       time.Duration
	SlidingSession  bool

	// ImpersonatorIDs are the principals allowed to impersonate any partner
	// of this directory.
	ImpersonatorIDs []string

	// Templates maps each notification kind to a mail template reference.
	Templates map[NotificationKind]string

	// PolicyRego optionally overrides the default impersonation policy.
	PolicyRego string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicDirectory is the view of a directory safe to hand to callers.
type PublicDirectory struct {
	ID   string
	Name string
}

// Public returns the directory without secret material.
func (d *Directory) Public() PublicDirectory {
	return PublicDirectory{ID: d.ID, Name: d.Name}
}

// CanImpersonate reports whether principalID is in the directory's
// impersonator list.
func (d *Directory) CanImpersonate(principalID string) bool {
	for _, id := range d.ImpersonatorIDs {
		if id == principalID {
			return true
		}
	}
	return false
}

// Template returns the template reference bound to kind, or "" when unset.
func (d *Directory) Template(kind NotificationKind) string {
	if d.Templates == nil {
		return ""
	}
	return d.Templates[kind]
}

// Normalize fills zero-valued policy fields with defaults.
func (d *Directory) Normalize() {
	if d.SetPasswordTokenTTL <= 0 {
		d.SetPasswordTokenTTL = DefaultSetPasswordTokenTTL
	}
	if d.ImpersonationTokenTTL <= 0 {
		d.ImpersonationTokenTTL = DefaultImpersonationTokenTTL
	}
	if d.CookieTTL <= 0 {
		d.CookieTTL = DefaultCookieTTL
	}
}
