// Package notify delivers directory-configured transactional mail. Rendering
// happens provider-side: a message references a template and carries the
// variables to substitute, which include raw single-use tokens and therefore
// must never be logged.
package notify

import "context"

// Message is one transactional mail send.
type Message struct {
	To        string
	Template  string
	Variables map[string]string
}

// Mailer dispatches a rendered notification. Implementations must not log
// message variables.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
