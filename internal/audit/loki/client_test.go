package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEvent(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := PushEvent(context.Background(), srv.URL, ts, "hello", map[string]string{
		"action": "login_success",
		"odd":    "a b/c",
	})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "partner-auth" {
		t.Errorf("job label = %q", s.Stream["job"])
	}
	if s.Stream["action"] != "login_success" {
		t.Errorf("action label = %q", s.Stream["action"])
	}
	if s.Stream["odd"] != "a_b_c" {
		t.Errorf("label not sanitized: %q", s.Stream["odd"])
	}
	if len(s.Values) != 1 || s.Values[0][1] != "hello" {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushEventJSON_DerivesLabels(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw := []byte(`{"directoryId":"d1","action":"sign_up","createdAt":"2026-03-01T12:00:00Z"}`)
	if err := PushEventJSON(context.Background(), srv.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if s.Stream["directory_id"] != "d1" || s.Stream["action"] != "sign_up" {
		t.Errorf("labels = %v", s.Stream)
	}
	wantTS := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if s.Values[0][0] != "1772366400000000000" {
		t.Errorf("timestamp = %q, want %d", s.Values[0][0], wantTS.UnixNano())
	}
}

func TestPushEventJSON_UndecodablePayload(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := PushEventJSON(context.Background(), srv.URL, []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	s := got.Streams[0]
	if s.Stream["job"] != "partner-auth" || len(s.Stream) != 1 {
		t.Errorf("labels = %v, want only the job label", s.Stream)
	}
	if s.Values[0][1] != "not json" {
		t.Errorf("line = %q, raw payload should ship verbatim", s.Values[0][1])
	}
}

func TestPushEvent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := PushEvent(context.Background(), srv.URL, time.Now(), "x", nil); err == nil {
		t.Fatal("non-2xx should error")
	}
}

func TestPushEvent_EmptyURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "x", nil); err == nil {
		t.Fatal("empty base URL should error")
	}
}
