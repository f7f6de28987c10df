package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	ddomain "partner-auth-plane/internal/directory/domain"
	directorysvc "partner-auth-plane/internal/directory/service"
	"partner-auth-plane/internal/partner/domain"
	"partner-auth-plane/internal/partner/repository"
	"partner-auth-plane/internal/security"
)

type memPartnerRepo struct {
	mu       sync.Mutex
	byID     map[string]*domain.AuthPartner
	contacts map[string]*domain.Contact
}

func newMemPartnerRepo() *memPartnerRepo {
	return &memPartnerRepo{
		byID:     make(map[string]*domain.AuthPartner),
		contacts: make(map[string]*domain.Contact),
	}
}

func (r *memPartnerRepo) GetByID(ctx context.Context, id string) (*domain.AuthPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPartnerRepo) GetByLogin(ctx context.Context, directoryID, login string) (*domain.AuthPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.DirectoryID == directoryID && p.Login == login {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPartnerRepo) CountByDirectory(ctx context.Context, directoryID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.byID {
		if p.DirectoryID == directoryID {
			n++
		}
	}
	return n, nil
}

func (r *memPartnerRepo) CreateWithContact(ctx context.Context, c *domain.Contact, p *domain.AuthPartner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.DirectoryID == p.DirectoryID && existing.Login == p.Login {
			return repository.ErrDuplicateLogin
		}
	}
	cc := *c
	cp := *p
	r.contacts[c.ID] = &cc
	r.byID[p.ID] = &cp
	return nil
}

func (r *memPartnerRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.EncryptedPassword = passwordHash
	}
	return nil
}

func (r *memPartnerRepo) IssueSetPasswordToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.SetPasswordTokenHash = tokenHash
		exp := expiresAt
		p.SetPasswordTokenExpiresAt = &exp
	}
	return nil
}

func (r *memPartnerRepo) IssueImpersonationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.ImpersonationTokenHash = tokenHash
		exp := expiresAt
		p.ImpersonationTokenExpiresAt = &exp
	}
	return nil
}

func (r *memPartnerRepo) IssueMailValidationToken(ctx context.Context, id, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.MailValidationTokenHash = tokenHash
	}
	return nil
}

func (r *memPartnerRepo) ConsumeSetPasswordToken(ctx context.Context, directoryID, tokenHash, newPasswordHash string, now time.Time) (*domain.AuthPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.DirectoryID != directoryID || p.SetPasswordTokenHash == "" {
			continue
		}
		if !security.TokenHashEqual(p.SetPasswordTokenHash, tokenHash) {
			continue
		}
		if p.SetPasswordTokenExpiresAt == nil || !p.SetPasswordTokenExpiresAt.After(now) {
			continue
		}
		p.SetPasswordTokenHash = ""
		p.SetPasswordTokenExpiresAt = nil
		p.EncryptedPassword = newPasswordHash
		p.MailVerified = true
		p.PendingResetSent = 0
		at := now
		p.LastResetSucceededAt = &at
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPartnerRepo) ConsumeImpersonationToken(ctx context.Context, directoryID, partnerID, tokenHash string, now time.Time) (*domain.AuthPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[partnerID]
	if !ok || p.DirectoryID != directoryID || p.ImpersonationTokenHash == "" {
		return nil, nil
	}
	if !security.TokenHashEqual(p.ImpersonationTokenHash, tokenHash) {
		return nil, nil
	}
	if p.ImpersonationTokenExpiresAt == nil || !p.ImpersonationTokenExpiresAt.After(now) {
		return nil, nil
	}
	p.ImpersonationTokenHash = ""
	p.ImpersonationTokenExpiresAt = nil
	cp := *p
	return &cp, nil
}

func (r *memPartnerRepo) ConsumeMailValidationToken(ctx context.Context, directoryID, tokenHash string) (*domain.AuthPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.DirectoryID != directoryID || p.MailValidationTokenHash == "" {
			continue
		}
		if !security.TokenHashEqual(p.MailValidationTokenHash, tokenHash) {
			continue
		}
		p.MailValidationTokenHash = ""
		p.MailVerified = true
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPartnerRepo) RecordResetRequested(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.PendingResetSent++
		stamp := at
		p.LastResetRequestedAt = &stamp
		p.LastResetSucceededAt = nil
	}
	return nil
}

// fakeNotifier records notifications and runs chained follow-ups
// synchronously so tests observe bookkeeping deterministically.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []fakeNotification
	fail error
}

type fakeNotification struct {
	Kind  ddomain.NotificationKind
	Login string
	Extra map[string]string
}

func (n *fakeNotifier) SendNotification(ctx context.Context, dir *ddomain.Directory, kind ddomain.NotificationKind, p *domain.AuthPartner, async bool, extra map[string]string, then func(context.Context) error) (string, error) {
	if n.fail != nil {
		return "", n.fail
	}
	n.mu.Lock()
	n.sent = append(n.sent, fakeNotification{Kind: kind, Login: p.Login, Extra: extra})
	n.mu.Unlock()
	if then != nil {
		if err := then(ctx); err != nil {
			return "", err
		}
	}
	return "queued", nil
}

func (n *fakeNotifier) last(t *testing.T) fakeNotification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no notification sent")
	}
	return n.sent[len(n.sent)-1]
}

type fakePolicy struct {
	allow func(actorID, partnerID string) bool
}

func (f *fakePolicy) AllowImpersonation(ctx context.Context, actorID string, dir *ddomain.Directory, partnerID, partnerLogin string) (bool, error) {
	if f.allow == nil {
		return false, nil
	}
	return f.allow(actorID, partnerID), nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo     *memPartnerRepo
	notifier *fakeNotifier
	policy   *fakePolicy
	clock    *clock
	dir      *ddomain.Directory
	svc      *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemPartnerRepo()
	notifier := &fakeNotifier{}
	pol := &fakePolicy{}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	dir := &ddomain.Directory{
		ID:                    "dir-1",
		Name:                  "demo",
		SetPasswordTokenTTL:   24 * time.Hour,
		ImpersonationTokenTTL: time.Minute,
		CookieSecretKey:       "secret",
		CookieTTL:             ddomain.DefaultCookieTTL,
		Templates: map[ddomain.NotificationKind]string{
			ddomain.KindRequestResetPassword: "tmpl-reset",
			ddomain.KindInviteSetPassword:    "tmpl-invite",
			ddomain.KindInviteValidateEmail:  "tmpl-validate",
		},
	}
	svc := NewAuthService(repo, notifier, security.NewHasher(4), pol, nil, "https://auth.example.com", clk.Now)
	return &fixture{repo: repo, notifier: notifier, policy: pol, clock: clk, dir: dir, svc: svc}
}

func (f *fixture) signUp(t *testing.T) *domain.AuthPartner {
	t.Helper()
	p, err := f.svc.SignUp(context.Background(), f.dir, "Loriot", "loriot@example.org", "supersecret")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return p
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)

	if p.Login != "loriot@example.org" {
		t.Errorf("Login = %q", p.Login)
	}
	if p.EncryptedPassword == "" || p.EncryptedPassword == "supersecret" {
		t.Error("password must be stored hashed")
	}
	if p.MailValidationTokenHash == "" {
		t.Error("sign-up should issue a mail-validation token")
	}
	if p.MailVerified {
		t.Error("mail must not be verified before validation")
	}

	n := f.notifier.last(t)
	if n.Kind != ddomain.KindInviteValidateEmail {
		t.Errorf("notification kind = %q", n.Kind)
	}
	token := n.Extra["token"]
	if token == "" {
		t.Fatal("notification should carry the raw token")
	}
	if !strings.Contains(n.Extra["validate_url"], token) {
		t.Error("validate_url should embed the token")
	}
	if security.HashOpaqueToken(token) != p.MailValidationTokenHash {
		t.Error("stored hash does not match the sent token")
	}
}

func TestSignUp_NormalizesLogin(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.SignUp(context.Background(), f.dir, "Loriot", "  LORIOT@Example.ORG ", "supersecret")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if p.Login != "loriot@example.org" {
		t.Errorf("Login = %q, want lowercase trimmed", p.Login)
	}
}

func TestSignUp_DuplicateLogin(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	_, err := f.svc.SignUp(context.Background(), f.dir, "Other", "loriot@example.org", "otherpass")
	if !errors.Is(err, ErrDuplicateLogin) {
		t.Fatalf("err = %v, want ErrDuplicateLogin", err)
	}
}

func TestSignUp_SameLoginOtherDirectory(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	other := &ddomain.Directory{
		ID:                    "dir-2",
		Name:                  "other",
		SetPasswordTokenTTL:   24 * time.Hour,
		ImpersonationTokenTTL: time.Minute,
		CookieSecretKey:       "secret2",
		Templates: map[ddomain.NotificationKind]string{
			ddomain.KindInviteValidateEmail: "tmpl-validate",
		},
	}
	if _, err := f.svc.SignUp(context.Background(), other, "Loriot", "loriot@example.org", "supersecret"); err != nil {
		t.Fatalf("same login in another directory should work: %v", err)
	}
}

func TestSignUp_NoValidateTemplate(t *testing.T) {
	f := newFixture(t)
	f.dir.Templates = nil

	_, err := f.svc.SignUp(context.Background(), f.dir, "Loriot", "loriot@example.org", "supersecret")
	if !errors.Is(err, directorysvc.ErrNoTemplateConfigured) {
		t.Fatalf("err = %v, want ErrNoTemplateConfigured", err)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("nothing should have been sent")
	}
	if p, _ := f.repo.GetByLogin(context.Background(), f.dir.ID, "loriot@example.org"); p != nil {
		t.Fatal("no partner row should exist after a refused sign-up")
	}

	// Binding the template makes the same sign-up succeed: the first attempt
	// must not have burned the login.
	f.dir.Templates = map[ddomain.NotificationKind]string{
		ddomain.KindInviteValidateEmail: "tmpl-validate",
	}
	if _, err := f.svc.SignUp(context.Background(), f.dir, "Loriot", "loriot@example.org", "supersecret"); err != nil {
		t.Fatalf("retry after binding the template: %v", err)
	}
}

func TestSignUp_MissingFields(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ name, login, password string }{
		{"", "loriot@example.org", "supersecret"},
		{"Loriot", "", "supersecret"},
		{"Loriot", "loriot@example.org", ""},
	} {
		if _, err := f.svc.SignUp(context.Background(), f.dir, tc.name, tc.login, tc.password); !errors.Is(err, ErrMissingFields) {
			t.Errorf("SignUp(%q,%q,%q): err = %v, want ErrMissingFields", tc.name, tc.login, tc.password, err)
		}
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)

	p, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "supersecret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.Login != "loriot@example.org" {
		t.Errorf("Login = %q", p.Login)
	}

	// Login matching is case- and whitespace-insensitive.
	if _, err := f.svc.Login(context.Background(), f.dir, " LORIOT@example.org ", "supersecret"); err != nil {
		t.Fatalf("normalized login should work: %v", err)
	}
}

func TestLogin_UniformFailures(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)

	// Wrong password, unknown login, and missing password are
	// indistinguishable to the caller.
	cases := []struct{ login, password string }{
		{"loriot@example.org", "wrong"},
		{"nobody@example.org", "supersecret"},
		{"loriot@example.org", ""},
		{"", "supersecret"},
	}
	for _, tc := range cases {
		_, err := f.svc.Login(context.Background(), f.dir, tc.login, tc.password)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q): err = %v, want ErrInvalidCredentials", tc.login, tc.password, err)
		}
	}
}

func TestLogin_CrossDirectory(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	other := &ddomain.Directory{ID: "dir-2", Name: "other", CookieSecretKey: "s2"}
	if _, err := f.svc.Login(context.Background(), other, "loriot@example.org", "supersecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("credentials must not cross directories: err = %v", err)
	}
}

// legacyHash is a passlib-style pbkdf2-sha512 hash of "supersecret"
// (1000 rounds, salt "0123456789abcdef").
const legacyHash = "$pbkdf2-sha512$1000$MDEyMzQ1Njc4OWFiY2RlZg$VQNhExC2oeJP5V3.2k9v5dFnuss3eP.iraWezZFjqD9D8a1soKrC36ssDEu0o3aCw6xZSU365YARdEH28VvHJw"

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	if err := f.repo.UpdatePasswordHash(context.Background(), p.ID, legacyHash); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	logged, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "supersecret")
	if err != nil {
		t.Fatalf("Login with legacy hash: %v", err)
	}
	if strings.HasPrefix(logged.EncryptedPassword, "$pbkdf2-sha512$") {
		t.Error("legacy hash should have been upgraded")
	}
	stored, _ := f.repo.GetByID(context.Background(), p.ID)
	if !strings.HasPrefix(stored.EncryptedPassword, "$2") {
		t.Errorf("persisted hash should be bcrypt, got %q", stored.EncryptedPassword)
	}
	if _, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "supersecret"); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestValidateEmail(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	token := f.notifier.last(t).Extra["token"]

	p, err := f.svc.ValidateEmail(context.Background(), f.dir, token)
	if err != nil {
		t.Fatalf("ValidateEmail: %v", err)
	}
	if !p.MailVerified {
		t.Error("mail should be verified")
	}
	if p.MailValidationTokenHash != "" {
		t.Error("token should be cleared")
	}

	// Single use.
	if _, err := f.svc.ValidateEmail(context.Background(), f.dir, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second redemption: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestValidateEmail_WrongDirectory(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	token := f.notifier.last(t).Extra["token"]
	other := &ddomain.Directory{ID: "dir-2", Name: "other", CookieSecretKey: "s2"}
	if _, err := f.svc.ValidateEmail(context.Background(), other, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("cross-directory token: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestValidateEmail_GarbageToken(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)
	for _, token := range []string{"", "garbage"} {
		if _, err := f.svc.ValidateEmail(context.Background(), f.dir, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
			t.Errorf("token %q: err = %v, want ErrInvalidOrExpiredToken", token, err)
		}
	}
}

func TestRequestPasswordReset(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)

	if _, err := f.svc.RequestPasswordReset(context.Background(), f.dir, p); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	n := f.notifier.last(t)
	if n.Kind != ddomain.KindRequestResetPassword {
		t.Errorf("kind = %q", n.Kind)
	}
	token := n.Extra["token"]
	if token == "" {
		t.Fatal("reset mail should carry the raw token")
	}
	if !strings.Contains(n.Extra["set_password_url"], token) {
		t.Error("set_password_url should embed the token")
	}

	stored, _ := f.repo.GetByID(context.Background(), p.ID)
	if stored.SetPasswordTokenHash != security.HashOpaqueToken(token) {
		t.Error("stored hash does not match the sent token")
	}
	if stored.SetPasswordTokenExpiresAt == nil {
		t.Fatal("set-password token must carry an expiry")
	}
	wantExpiry := f.clock.Now().UTC().Add(f.dir.SetPasswordTokenTTL)
	if !stored.SetPasswordTokenExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", stored.SetPasswordTokenExpiresAt, wantExpiry)
	}
	// Bookkeeping ran after the send.
	if stored.PendingResetSent != 1 {
		t.Errorf("PendingResetSent = %d, want 1", stored.PendingResetSent)
	}
	if stored.LastResetRequestedAt == nil {
		t.Error("LastResetRequestedAt should be stamped")
	}
}

func TestRequestPasswordReset_SupersedesOldToken(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)

	if _, err := f.svc.RequestPasswordReset(context.Background(), f.dir, p); err != nil {
		t.Fatalf("first request: %v", err)
	}
	oldToken := f.notifier.last(t).Extra["token"]

	if _, err := f.svc.RequestPasswordReset(context.Background(), f.dir, p); err != nil {
		t.Fatalf("second request: %v", err)
	}
	newToken := f.notifier.last(t).Extra["token"]

	if _, err := f.svc.SetPassword(context.Background(), f.dir, oldToken, "newpass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("superseded token: err = %v, want ErrInvalidOrExpiredToken", err)
	}
	if _, err := f.svc.SetPassword(context.Background(), f.dir, newToken, "newpass"); err != nil {
		t.Fatalf("latest token should work: %v", err)
	}
}

func TestRequestPasswordReset_MailFailureKeepsNoBookkeeping(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	f.notifier.fail = errors.New("smtp down")

	if _, err := f.svc.RequestPasswordReset(context.Background(), f.dir, p); err == nil {
		t.Fatal("mailer failure should surface")
	}
	stored, _ := f.repo.GetByID(context.Background(), p.ID)
	if stored.PendingResetSent != 0 {
		t.Errorf("PendingResetSent = %d, want 0 when the send failed", stored.PendingResetSent)
	}
}

func TestSendInvite(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)

	if _, err := f.svc.SendInvite(context.Background(), f.dir, p); err != nil {
		t.Fatalf("SendInvite: %v", err)
	}
	n := f.notifier.last(t)
	if n.Kind != ddomain.KindInviteSetPassword {
		t.Errorf("kind = %q", n.Kind)
	}
	token := n.Extra["token"]
	if _, err := f.svc.SetPassword(context.Background(), f.dir, token, "invited-pass"); err != nil {
		t.Fatalf("SetPassword from invite: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "invited-pass"); err != nil {
		t.Fatalf("login with invited password: %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	_, _ = f.svc.RequestPasswordReset(context.Background(), f.dir, p)
	token := f.notifier.last(t).Extra["token"]

	updated, err := f.svc.SetPassword(context.Background(), f.dir, token, "newsecret")
	if err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if !updated.MailVerified {
		t.Error("successful set-password proves mail ownership")
	}
	if updated.SetPasswordTokenHash != "" {
		t.Error("token should be cleared")
	}
	if updated.PendingResetSent != 0 {
		t.Errorf("PendingResetSent = %d, want 0", updated.PendingResetSent)
	}
	if updated.LastResetSucceededAt == nil {
		t.Error("LastResetSucceededAt should be stamped")
	}

	// The old password is gone, the new one works.
	if _, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "supersecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.svc.Login(context.Background(), f.dir, "loriot@example.org", "newsecret"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// Single use.
	if _, err := f.svc.SetPassword(context.Background(), f.dir, token, "again"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second redemption: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestSetPassword_Expiry(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	_, _ = f.svc.RequestPasswordReset(context.Background(), f.dir, p)
	token := f.notifier.last(t).Extra["token"]

	// Exactly at the expiry instant the token is no longer valid.
	f.clock.Advance(f.dir.SetPasswordTokenTTL)
	if _, err := f.svc.SetPassword(context.Background(), f.dir, token, "late"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token at expiry: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestSetPassword_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	_, _ = f.svc.RequestPasswordReset(context.Background(), f.dir, p)
	token := f.notifier.last(t).Extra["token"]

	f.clock.Advance(f.dir.SetPasswordTokenTTL - time.Second)
	if _, err := f.svc.SetPassword(context.Background(), f.dir, token, "intime"); err != nil {
		t.Fatalf("token just before expiry: %v", err)
	}
}

func TestSetPassword_WrongDirectory(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	_, _ = f.svc.RequestPasswordReset(context.Background(), f.dir, p)
	token := f.notifier.last(t).Extra["token"]

	other := &ddomain.Directory{ID: "dir-2", Name: "other", CookieSecretKey: "s2", SetPasswordTokenTTL: 24 * time.Hour}
	if _, err := f.svc.SetPassword(context.Background(), other, token, "sneaky"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("cross-directory token: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestImpersonate_Denied(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	f.policy.allow = func(actorID, partnerID string) bool { return false }

	if _, err := f.svc.Impersonate(context.Background(), "actor-1", f.dir, p); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestImpersonate_RedeemOnce(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	f.policy.allow = func(actorID, partnerID string) bool { return actorID == "actor-1" }

	action, err := f.svc.Impersonate(context.Background(), "actor-1", f.dir, p)
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	if action.Type != "redirect" {
		t.Errorf("Type = %q", action.Type)
	}
	prefix := "https://auth.example.com/auth/impersonate/" + p.ID + "/"
	if !strings.HasPrefix(action.URL, prefix) {
		t.Fatalf("URL = %q, want prefix %q", action.URL, prefix)
	}
	token := strings.TrimPrefix(action.URL, prefix)
	wantExpiry := f.clock.Now().UTC().Add(f.dir.ImpersonationTokenTTL)
	if !action.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", action.ExpiresAt, wantExpiry)
	}

	got, err := f.svc.RedeemImpersonation(context.Background(), f.dir, p.ID, token)
	if err != nil {
		t.Fatalf("RedeemImpersonation: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("redeemed partner = %q, want %q", got.ID, p.ID)
	}

	// Single use.
	if _, err := f.svc.RedeemImpersonation(context.Background(), f.dir, p.ID, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second redemption: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestImpersonate_TokenExpires(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	f.policy.allow = func(actorID, partnerID string) bool { return true }

	action, err := f.svc.Impersonate(context.Background(), "actor-1", f.dir, p)
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	token := action.URL[strings.LastIndexByte(action.URL, '/')+1:]

	f.clock.Advance(f.dir.ImpersonationTokenTTL)
	if _, err := f.svc.RedeemImpersonation(context.Background(), f.dir, p.ID, token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expired token: err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRedeemImpersonation_WrongPartner(t *testing.T) {
	f := newFixture(t)
	p := f.signUp(t)
	f.policy.allow = func(actorID, partnerID string) bool { return true }

	action, _ := f.svc.Impersonate(context.Background(), "actor-1", f.dir, p)
	token := action.URL[strings.LastIndexByte(action.URL, '/')+1:]

	if _, err := f.svc.RedeemImpersonation(context.Background(), f.dir, "someone-else", token); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token bound to another partner: err = %v, want ErrInvalidOrExpiredToken", err)
	}
	// The failed attempt must not have consumed the token.
	if _, err := f.svc.RedeemImpersonation(context.Background(), f.dir, p.ID, token); err != nil {
		t.Fatalf("legitimate redemption after failed attempt: %v", err)
	}
}
