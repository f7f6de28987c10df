package notify

import (
	"context"
	"log"
)

// LogMailer logs outgoing mail instead of sending it. Used in development
// when no mail provider is configured. Variables are never logged; they can
// carry raw tokens.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Printf("notify: mail %s to %s (dry run, no provider configured)", msg.Template, msg.To)
	return nil
}
