// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the demo directory already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"partner-auth-plane/internal/config"
	"partner-auth-plane/internal/db"
	ddomain "partner-auth-plane/internal/directory/domain"
	directoryrepo "partner-auth-plane/internal/directory/repository"
	pdomain "partner-auth-plane/internal/partner/domain"
	partnerrepo "partner-auth-plane/internal/partner/repository"
	"partner-auth-plane/internal/security"
)

const (
	demoDirectory    = "demo"
	demoPartnerName  = "Loriot"
	demoPartnerLogin = "loriot@example.org"
	demoPassword     = "supersecret"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	directories := directoryrepo.NewPostgresRepository(database)
	partners := partnerrepo.NewPostgresRepository(database)

	existing, err := directories.GetByName(ctx, demoDirectory)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Printf("seed: directory %q already exists, nothing to do", demoDirectory)
		return
	}

	secret, err := security.NewOpaqueToken()
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	now := time.Now().UTC()
	dir := &ddomain.Directory{
		ID:                    uuid.New().String(),
		Name:                  demoDirectory,
		SetPasswordTokenTTL:   cfg.SetPasswordTTL(),
		ImpersonationTokenTTL: cfg.ImpersonationTTL(),
		CookieSecretKey:       secret,
		CookieTTL:             ddomain.DefaultCookieTTL,
		SlidingSession:        true,
		Templates: map[ddomain.NotificationKind]string{
			ddomain.KindRequestResetPassword: "demo-reset-password",
			ddomain.KindInviteSetPassword:    "demo-invite-set-password",
			ddomain.KindInviteValidateEmail:  "demo-validate-email",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	dir.Normalize()
	if err := directories.Create(ctx, dir); err != nil {
		log.Fatalf("seed: create directory: %v", err)
	}
	log.Printf("seed: created directory %q (%s)", dir.Name, dir.ID)

	hasher := security.NewHasher(cfg.BcryptCost)
	hashed, err := hasher.Hash(demoPassword)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	contact := &pdomain.Contact{
		ID:        uuid.New().String(),
		Name:      demoPartnerName,
		Email:     demoPartnerLogin,
		CreatedAt: now,
	}
	partner := &pdomain.AuthPartner{
		ID:                uuid.New().String(),
		ContactID:         contact.ID,
		DirectoryID:       dir.ID,
		Login:             demoPartnerLogin,
		EncryptedPassword: hashed,
		MailVerified:      true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := partners.CreateWithContact(ctx, contact, partner); err != nil {
		log.Fatalf("seed: create partner: %v", err)
	}
	log.Printf("seed: created partner %s (login %s)", partner.ID, demoPartnerLogin)

	// Mark the demo partner as allowed to impersonate others in the directory.
	dir.ImpersonatorIDs = []string{partner.ID}
	dir.UpdatedAt = time.Now().UTC()
	if err := directories.Update(ctx, dir); err != nil {
		log.Fatalf("seed: update directory: %v", err)
	}
	log.Printf("seed: granted impersonation to %s", partner.ID)
}
