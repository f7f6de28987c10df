package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"partner-auth-plane/internal/directory/domain"
	"partner-auth-plane/internal/notify"
	pdomain "partner-auth-plane/internal/partner/domain"
	partnerrepo "partner-auth-plane/internal/partner/repository"
	"partner-auth-plane/internal/security"
	"partner-auth-plane/internal/tasks"
)

// ErrNoTemplateConfigured is returned when a directory has no template bound
// for the requested notification kind.
var ErrNoTemplateConfigured = errors.New("no mail template configured for this notification kind")

// Service mediates per-directory policy: login resolution, notification
// dispatch, and claim token issue/verify with the directory's secret.
type Service struct {
	partners partnerrepo.Repository
	mailer   notify.Mailer
	queue    *tasks.Queue
	codec    *security.ClaimCodec
	now      func() time.Time
}

// NewService returns a directory service. now may be nil; time.Now is used
// then.
func NewService(partners partnerrepo.Repository, mailer notify.Mailer, queue *tasks.Queue, codec *security.ClaimCodec, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{partners: partners, mailer: mailer, queue: queue, codec: codec, now: now}
}

// ResolveByLogin returns the auth partner with the given login inside dir, or
// nil. At most one can exist.
func (s *Service) ResolveByLogin(ctx context.Context, dir *domain.Directory, login string) (*pdomain.AuthPartner, error) {
	return s.partners.GetByLogin(ctx, dir.ID, login)
}

// SendNotification dispatches the mail bound to kind for the partner.
//
// Synchronous sends resolve the template, dispatch immediately, and return a
// confirmation receipt. Asynchronous sends enqueue the dispatch on the task
// queue; when then is non-nil it runs only after the send succeeded. Either
// way a missing template binding fails with ErrNoTemplateConfigured before
// anything is queued.
func (s *Service) SendNotification(ctx context.Context, dir *domain.Directory, kind domain.NotificationKind, p *pdomain.AuthPartner, async bool, extra map[string]string, then func(context.Context) error) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("directory: unknown notification kind %q", kind)
	}
	template := dir.Template(kind)
	if template == "" {
		return "", fmt.Errorf("directory %s, kind %s: %w", dir.Name, kind, ErrNoTemplateConfigured)
	}

	variables := map[string]string{
		"directory": dir.Name,
		"login":     p.Login,
	}
	for k, v := range extra {
		variables[k] = v
	}
	msg := notify.Message{To: p.Login, Template: template, Variables: variables}

	if !async {
		if err := s.mailer.Send(ctx, msg); err != nil {
			return "", err
		}
		return fmt.Sprintf("mail %s sent to %s", template, p.Login), nil
	}

	send := tasks.Task{
		Name: "send-" + string(kind),
		Run: func(taskCtx context.Context) error {
			return s.mailer.Send(taskCtx, msg)
		},
	}
	var err error
	if then != nil {
		err = s.queue.EnqueueChain(send, tasks.Task{Name: "after-" + string(kind), Run: then})
	} else {
		err = s.queue.Enqueue(send)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mail %s queued for %s", template, p.Login), nil
}

// IssueClaimToken signs a claim token binding action to the partner inside
// dir. When saltByPassword is set the partner's current password hash is
// mixed into the signing key, so a password change invalidates the token.
func (s *Service) IssueClaimToken(ctx context.Context, dir *domain.Directory, action string, p *pdomain.AuthPartner, ttl time.Duration, saltByPassword bool) (string, error) {
	salt := ""
	if saltByPassword {
		salt = p.EncryptedPassword
	}
	return s.codec.Issue([]byte(dir.CookieSecretKey), salt, action, dir.ID, p.ID, ttl)
}

// VerifyClaimToken verifies token against dir's secret and returns the
// partner it designates.
//
// When saltByPassword is set, the subject is first read from the unverified
// token to fetch the partner's salt, then the signature is verified with the
// salted key. The unverified subject is only ever used to look the salt up;
// nothing is granted before full verification passes.
func (s *Service) VerifyClaimToken(ctx context.Context, dir *domain.Directory, token, action string, saltByPassword bool) (*pdomain.AuthPartner, error) {
	subject, err := s.codec.PeekSubject(token)
	if err != nil {
		return nil, err
	}
	p, err := s.partners.GetByID(ctx, subject)
	if err != nil {
		return nil, err
	}
	if p == nil || p.DirectoryID != dir.ID {
		return nil, security.ErrInvalidClaimToken
	}
	salt := ""
	if saltByPassword {
		salt = p.EncryptedPassword
	}
	claims, err := s.codec.Verify(token, []byte(dir.CookieSecretKey), salt, action, dir.ID)
	if err != nil {
		return nil, err
	}
	if claims.Partner != p.ID {
		return nil, security.ErrInvalidClaimToken
	}
	return p, nil
}
