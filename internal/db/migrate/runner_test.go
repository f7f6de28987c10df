package migrate

import (
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should fail")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error = %q, want mention of DATABASE_URL", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		err := Run("postgres://localhost/app", direction)
		if err == nil {
			t.Errorf("Run(direction=%q) should fail", direction)
			continue
		}
		if !strings.Contains(err.Error(), "direction") {
			t.Errorf("Run(direction=%q) error = %q, want mention of direction", direction, err)
		}
	}
}
