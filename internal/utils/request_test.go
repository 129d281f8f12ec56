package utils

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("GenerateRequestID() = %q, not a UUID: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("GenerateRequestID() repeated %q", id)
		}
		seen[id] = true
	}
}
