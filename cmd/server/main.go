package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partner-auth-plane/internal/audit"
	"partner-auth-plane/internal/audit/producer"
	auditrepo "partner-auth-plane/internal/audit/repository"
	"partner-auth-plane/internal/config"
	"partner-auth-plane/internal/db"
	directoryrepo "partner-auth-plane/internal/directory/repository"
	directorysvc "partner-auth-plane/internal/directory/service"
	"partner-auth-plane/internal/notify"
	partnerrepo "partner-auth-plane/internal/partner/repository"
	partnersvc "partner-auth-plane/internal/partner/service"
	"partner-auth-plane/internal/policy"
	"partner-auth-plane/internal/security"
	"partner-auth-plane/internal/server"
	"partner-auth-plane/internal/tasks"
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

	directories := directoryrepo.NewPostgresRepository(database)
	partners := partnerrepo.NewPostgresRepository(database)
	events := auditrepo.NewPostgresRepository(database)

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.MailAPIKey != "" && cfg.MailBaseURL != "" {
		mailer = notify.NewHTTPMailer(cfg.MailAPIKey, cfg.MailBaseURL, cfg.MailSender)
	}

	var emitter audit.EventEmitter
	kp := producer.NewKafkaProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	if kp != nil {
		defer kp.Close()
		emitter = kp
		log.Printf("audit: streaming events to kafka topic %s", cfg.AuditKafkaTopic)
	}
	auditor := audit.NewLogger(events, emitter, server.ClientIPFromContext)

	evaluator := policy.NewOPAEvaluator()
	if err := evaluator.HealthCheck(context.Background()); err != nil {
		log.Fatalf("policy: %v", err)
	}

	queue := tasks.NewQueue(4, 3, time.Second)
	codec := security.NewClaimCodec(nil)
	dirSvc := directorysvc.NewService(partners, mailer, queue, codec, nil)
	authSvc := partnersvc.NewAuthService(
		partners,
		dirSvc,
		security.NewHasher(cfg.BcryptCost),
		evaluator,
		auditor,
		cfg.BaseURL,
		nil,
	)

	api := server.New(directories, dirSvc, authSvc, database, nil)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := queue.Shutdown(ctx); err != nil {
		log.Printf("queue shutdown: %v", err)
	}
	log.Println("http server stopped")
}
