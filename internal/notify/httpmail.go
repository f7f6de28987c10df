package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPMailer sends mail through a transactional mail HTTP API (template id +
// variables, rendered by the provider).
type HTTPMailer struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewHTTPMailer returns a mailer that uses the given API key and optional
// sender address.
func NewHTTPMailer(apiKey, baseURL, sender string) *HTTPMailer {
	return &HTTPMailer{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts the message to the mail API. Variables are not logged on
// failure; only the template reference and recipient appear in errors.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if m.APIKey == "" {
		return fmt.Errorf("notify: mail API key not configured")
	}
	if m.BaseURL == "" {
		return fmt.Errorf("notify: mail API base URL not configured")
	}
	body := map[string]any{
		"template":  msg.Template,
		"to":        msg.To,
		"from":      m.Sender,
		"variables": msg.Variables,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the error message; providers return
		// short JSON diagnostics.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: mail API %s to %s: status %d: %s",
			msg.Template, msg.To, resp.StatusCode, snippet)
	}
	return nil
}
