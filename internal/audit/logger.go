package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"partner-auth-plane/internal/audit/domain"
	auditrepo "partner-auth-plane/internal/audit/repository"
)

// emitTimeout bounds the asynchronous event-stream emit so a slow broker
// never blocks a request goroutine that outlived its context.
const emitTimeout = 5 * time.Second

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// EventEmitter publishes an auth event to the event stream (e.g. Kafka).
type EventEmitter interface {
	Emit(ctx context.Context, e *domain.AuthEvent) error
}

// Logger records auth events: persisted to the repository, and optionally
// emitted to an event stream. Both paths are best-effort; failures are logged
// and never surface to the auth operation.
type Logger struct {
	repo        auditrepo.Repository
	emitter     EventEmitter
	ipExtractor IPExtractor
}

// NewLogger returns a Logger. emitter and ipExtractor may be nil.
func NewLogger(repo auditrepo.Repository, emitter EventEmitter, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor}
}

// Record writes one auth event. Best-effort: errors are logged, not returned.
func (l *Logger) Record(ctx context.Context, directoryID, partnerID, actorID, action, metadata string) {
	if l == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	e := &domain.AuthEvent{
		ID:          uuid.New().String(),
		DirectoryID: directoryID,
		PartnerID:   partnerID,
		ActorID:     actorID,
		Action:      action,
		IP:          ip,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if l.repo != nil {
		if err := l.repo.Save(ctx, e); err != nil {
			log.Printf("audit: save %s failed: %v", action, err)
		}
	}
	if l.emitter != nil {
		go func() {
			emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			defer cancel()
			if err := l.emitter.Emit(emitCtx, e); err != nil {
				log.Printf("audit: emit %s failed: %v", action, err)
			}
		}()
	}
}
