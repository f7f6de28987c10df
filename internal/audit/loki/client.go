// Package loki ships audit log lines to Grafana Loki's push API.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"partner-auth-plane/internal/audit/domain"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

var client = &http.Client{Timeout: 15 * time.Second}

// Loki label values may not contain arbitrary characters; anything outside
// this set is replaced.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// eventLabels derives the stream labels for one auth event. Partner and actor
// ids are high-cardinality and deliberately stay out of the label set; they
// remain queryable in the log line itself.
func eventLabels(ev *domain.AuthEvent) map[string]string {
	labels := make(map[string]string, 2)
	if ev.DirectoryID != "" {
		labels["directory_id"] = ev.DirectoryID
	}
	if ev.Action != "" {
		labels["action"] = ev.Action
	}
	return labels
}

// PushEventJSON decodes an audit event (a Kafka message value) and pushes it
// with labels and the timestamp taken from the event. An undecodable payload
// is still shipped verbatim, stamped with the current time.
func PushEventJSON(ctx context.Context, baseURL string, rawJSON []byte) error {
	ts := time.Now().UTC()
	labels := map[string]string{}
	var ev domain.AuthEvent
	if err := json.Unmarshal(rawJSON, &ev); err == nil {
		labels = eventLabels(&ev)
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return PushEvent(ctx, baseURL, ts, string(rawJSON), labels)
}

// PushEvent sends a single log line to Loki at the given base URL
// (e.g. http://localhost:3100). Returns an error if the HTTP request fails or
// Loki answers non-2xx.
func PushEvent(ctx context.Context, baseURL string, timestamp time.Time, line string, labels map[string]string) error {
	if baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: sanitizeLabels(labels),
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// sanitizeLabels adds the fixed job label and scrubs values; empty values are
// dropped rather than sent as blank labels.
func sanitizeLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	out["job"] = "partner-auth"
	for k, v := range labels {
		v = labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if v != "" {
			out[k] = v
		}
	}
	return out
}
