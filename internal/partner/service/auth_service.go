package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"partner-auth-plane/internal/audit"
	auditdomain "partner-auth-plane/internal/audit/domain"
	ddomain "partner-auth-plane/internal/directory/domain"
	directorysvc "partner-auth-plane/internal/directory/service"
	"partner-auth-plane/internal/partner/domain"
	"partner-auth-plane/internal/partner/repository"
	"partner-auth-plane/internal/policy"
	"partner-auth-plane/internal/security"
)

// Sentinel errors for the auth partner state machine; transport maps them to
// status codes.
var (
	// ErrInvalidCredentials covers every login failure path (unknown login,
	// wrong password, no password set) so callers cannot enumerate logins.
	ErrInvalidCredentials = errors.New("invalid login or password")
	// ErrDuplicateLogin is returned when the login is already used inside the
	// directory.
	ErrDuplicateLogin = errors.New("login already used in this directory")
	// ErrInvalidOrExpiredToken covers every single-use token failure path:
	// mismatch, already consumed, or expired, undifferentiated on purpose.
	ErrInvalidOrExpiredToken = errors.New("invalid token, please request a new one")
	// ErrNotAuthorized is returned when the acting principal may not
	// impersonate the partner.
	ErrNotAuthorized = errors.New("you are not allowed to impersonate this user")
	// ErrMissingFields is returned when a required request field is empty.
	ErrMissingFields = errors.New("missing required fields")
)

// Notifier dispatches a directory-bound notification, optionally deferred
// with a chained follow-up.
type Notifier interface {
	SendNotification(ctx context.Context, dir *ddomain.Directory, kind ddomain.NotificationKind, p *domain.AuthPartner, async bool, extra map[string]string, then func(context.Context) error) (string, error)
}

// ImpersonationAction describes the redirect handed to an authorized
// impersonator. URL embeds the raw single-use token; it must only travel over
// a channel trusted for one-time use.
type ImpersonationAction struct {
	Type      string
	URL       string
	ExpiresAt time.Time
}

// AuthService implements the credential and token lifecycle of auth partners:
// sign-up, login, mail validation, password reset, and impersonation.
type AuthService struct {
	partners repository.Repository
	notifier Notifier
	hasher   *security.Hasher
	policies policy.Evaluator
	auditor  *audit.Logger
	baseURL  string
	now      func() time.Time
}

// NewAuthService returns an AuthService. auditor may be nil; now may be nil
// (time.Now is used then). baseURL is the public base used to build links
// embedded in mails and redirects.
func NewAuthService(
	partners repository.Repository,
	notifier Notifier,
	hasher *security.Hasher,
	policies policy.Evaluator,
	auditor *audit.Logger,
	baseURL string,
	now func() time.Time,
) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		partners: partners,
		notifier: notifier,
		hasher:   hasher,
		policies: policies,
		auditor:  auditor,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		now:      now,
	}
}

// SignUp creates the contact and its auth partner inside dir, issues a
// mail-validation token, and queues the validate-email notification. Returns
// ErrDuplicateLogin when the login is already taken in the directory.
func (s *AuthService) SignUp(ctx context.Context, dir *ddomain.Directory, name, login, password string) (*domain.AuthPartner, error) {
	login = normalizeLogin(login)
	if login == "" || password == "" || name == "" {
		return nil, fmt.Errorf("%w: name, login, and password", ErrMissingFields)
	}
	// The validation mail is part of sign-up; refuse before creating rows so
	// a misconfigured directory is not left with a partner it cannot retry.
	if dir.Template(ddomain.KindInviteValidateEmail) == "" {
		return nil, fmt.Errorf("directory %s, kind %s: %w",
			dir.Name, ddomain.KindInviteValidateEmail, directorysvc.ErrNoTemplateConfigured)
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	contact := &domain.Contact{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     login,
		CreatedAt: now,
	}
	p := &domain.AuthPartner{
		ID:                      uuid.New().String(),
		ContactID:               contact.ID,
		DirectoryID:             dir.ID,
		Login:                   login,
		EncryptedPassword:       hashed,
		MailValidationTokenHash: security.HashOpaqueToken(token),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.partners.CreateWithContact(ctx, contact, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateLogin) {
			return nil, ErrDuplicateLogin
		}
		return nil, err
	}

	extra := map[string]string{
		"token":        token,
		"validate_url": s.baseURL + "/auth/validate-email?token=" + token,
	}
	if _, err := s.notifier.SendNotification(ctx, dir, ddomain.KindInviteValidateEmail, p, true, extra, nil); err != nil {
		return nil, err
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionSignUp, "")
	return p, nil
}

// Login authenticates login/password inside dir. Every failure path returns
// ErrInvalidCredentials. A successful verification against a legacy or
// under-cost hash transparently persists the upgraded hash.
func (s *AuthService) Login(ctx context.Context, dir *ddomain.Directory, login, password string) (*domain.AuthPartner, error) {
	login = normalizeLogin(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	p, err := s.partners.GetByLogin(ctx, dir.ID, login)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.HasPassword() {
		s.record(ctx, dir.ID, "", "", auditdomain.ActionLoginFailure, login)
		return nil, ErrInvalidCredentials
	}
	ok, upgraded := s.hasher.VerifyAndUpgrade(password, p.EncryptedPassword)
	if !ok {
		s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionLoginFailure, "")
		return nil, ErrInvalidCredentials
	}
	if upgraded != "" {
		if err := s.partners.UpdatePasswordHash(ctx, p.ID, upgraded); err != nil {
			return nil, err
		}
		p.EncryptedPassword = upgraded
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionLoginSuccess, "")
	return p, nil
}

// ValidateEmail redeems a mail-validation token: clears it and marks the
// partner's mail verified. This token kind never expires; only the hash
// match gates it.
func (s *AuthService) ValidateEmail(ctx context.Context, dir *ddomain.Directory, token string) (*domain.AuthPartner, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	p, err := s.partners.ConsumeMailValidationToken(ctx, dir.ID, security.HashOpaqueToken(token))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrInvalidOrExpiredToken
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionMailValidated, "")
	return p, nil
}

// RequestPasswordReset issues a fresh set-password token (superseding any
// outstanding one) and queues the reset mail. The reset bookkeeping runs only
// after the mail went out.
func (s *AuthService) RequestPasswordReset(ctx context.Context, dir *ddomain.Directory, p *domain.AuthPartner) (string, error) {
	receipt, err := s.sendSetPasswordMail(ctx, dir, p, ddomain.KindRequestResetPassword)
	if err != nil {
		return "", err
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionResetRequested, "")
	return receipt, nil
}

// SendInvite issues a fresh set-password token and queues the invite mail,
// with the same bookkeeping chain as a reset request.
func (s *AuthService) SendInvite(ctx context.Context, dir *ddomain.Directory, p *domain.AuthPartner) (string, error) {
	receipt, err := s.sendSetPasswordMail(ctx, dir, p, ddomain.KindInviteSetPassword)
	if err != nil {
		return "", err
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionInviteSent, "")
	return receipt, nil
}

func (s *AuthService) sendSetPasswordMail(ctx context.Context, dir *ddomain.Directory, p *domain.AuthPartner, kind ddomain.NotificationKind) (string, error) {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	expiresAt := s.now().UTC().Add(dir.SetPasswordTokenTTL)
	if err := s.partners.IssueSetPasswordToken(ctx, p.ID, security.HashOpaqueToken(token), expiresAt); err != nil {
		return "", err
	}
	extra := map[string]string{
		"token":            token,
		"set_password_url": s.baseURL + "/auth/set-password?token=" + token,
	}
	partnerID := p.ID
	bookkeeping := func(taskCtx context.Context) error {
		return s.partners.RecordResetRequested(taskCtx, partnerID, s.now().UTC())
	}
	return s.notifier.SendNotification(ctx, dir, kind, p, true, extra, bookkeeping)
}

// SetPassword redeems a set-password token: in one atomic step the token is
// cleared, the new password hash stored, the mail marked verified, and the
// reset counters reset. A consumed, unknown, or expired token fails with
// ErrInvalidOrExpiredToken; two concurrent redemptions succeed exactly once.
func (s *AuthService) SetPassword(ctx context.Context, dir *ddomain.Directory, token, newPassword string) (*domain.AuthPartner, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	if newPassword == "" {
		return nil, fmt.Errorf("%w: password", ErrMissingFields)
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}
	p, err := s.partners.ConsumeSetPasswordToken(ctx, dir.ID, security.HashOpaqueToken(token), hashed, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrInvalidOrExpiredToken
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionPasswordSet, "")
	return p, nil
}

// Impersonate issues a single-use impersonation token for p when the acting
// principal is allowed by the directory's impersonation policy. The returned
// action embeds the raw token in a redirect URL.
func (s *AuthService) Impersonate(ctx context.Context, actorID string, dir *ddomain.Directory, p *domain.AuthPartner) (*ImpersonationAction, error) {
	allowed, err := s.policies.AllowImpersonation(ctx, actorID, dir, p.ID, p.Login)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.record(ctx, dir.ID, p.ID, actorID, auditdomain.ActionImpersonationDenied, "")
		return nil, ErrNotAuthorized
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().UTC().Add(dir.ImpersonationTokenTTL)
	if err := s.partners.IssueImpersonationToken(ctx, p.ID, security.HashOpaqueToken(token), expiresAt); err != nil {
		return nil, err
	}
	s.record(ctx, dir.ID, p.ID, actorID, auditdomain.ActionImpersonationGranted, "")
	return &ImpersonationAction{
		Type:      "redirect",
		URL:       fmt.Sprintf("%s/auth/impersonate/%s/%s", s.baseURL, p.ID, token),
		ExpiresAt: expiresAt,
	}, nil
}

// RedeemImpersonation consumes an impersonation token for the given partner.
// Exactly one concurrent redemption can succeed; the rest observe the token
// already cleared and fail with ErrInvalidOrExpiredToken.
func (s *AuthService) RedeemImpersonation(ctx context.Context, dir *ddomain.Directory, partnerID, token string) (*domain.AuthPartner, error) {
	if token == "" || partnerID == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	p, err := s.partners.ConsumeImpersonationToken(ctx, dir.ID, partnerID, security.HashOpaqueToken(token), s.now().UTC())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrInvalidOrExpiredToken
	}
	s.record(ctx, dir.ID, p.ID, "", auditdomain.ActionImpersonationRedeem, "")
	return p, nil
}

func (s *AuthService) record(ctx context.Context, directoryID, partnerID, actorID, action, metadata string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, directoryID, partnerID, actorID, action, metadata)
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
