package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMailer_Send(t *testing.T) {
	var got struct {
		Template  string            `json:"template"`
		To        string            `json:"to"`
		From      string            `json:"from"`
		Variables map[string]string `json:"variables"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMailer("key-123", srv.URL, "no-reply@example.org")
	err := m.Send(context.Background(), Message{
		To:       "loriot@example.org",
		Template: "tmpl-reset",
		Variables: map[string]string{
			"token": "raw-token",
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer key-123" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Template != "tmpl-reset" || got.To != "loriot@example.org" || got.From != "no-reply@example.org" {
		t.Errorf("payload = %+v", got)
	}
	if got.Variables["token"] != "raw-token" {
		t.Errorf("variables = %v", got.Variables)
	}
}

func TestHTTPMailer_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown template"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewHTTPMailer("key-123", srv.URL, "no-reply@example.org")
	err := m.Send(context.Background(), Message{
		To:        "loriot@example.org",
		Template:  "tmpl-missing",
		Variables: map[string]string{"token": "raw-token"},
	})
	if err == nil {
		t.Fatal("Send should fail on a non-2xx response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error should carry the status: %v", err)
	}
	// The variables may hold raw tokens; they must not leak into errors.
	if strings.Contains(err.Error(), "raw-token") {
		t.Errorf("error leaks variables: %v", err)
	}
}

func TestHTTPMailer_NotConfigured(t *testing.T) {
	m := NewHTTPMailer("", "", "")
	if err := m.Send(context.Background(), Message{To: "a@b"}); err == nil {
		t.Fatal("unconfigured mailer should fail")
	}
}
