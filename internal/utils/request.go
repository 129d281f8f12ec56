package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRequestID generates a unique ID used to correlate the attempts of
// one pool call in logs
func GenerateRequestID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}

	// Fallback to timestamp if the random source fails
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
