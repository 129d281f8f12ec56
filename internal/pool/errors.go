package pool

import (
	"errors"
	"fmt"

	"github.com/arohanajit/ringpool/internal/transport"
)

var (
	// ErrNoNodes is returned when the pool knows no node at all
	ErrNoNodes = errors.New("no nodes in pool")
	// ErrPoolClosed is returned by calls made after Close
	ErrPoolClosed = errors.New("pool is closed")
	// ErrContainerClosed is returned by a container after Close
	ErrContainerClosed = errors.New("connection container is closed")
	// ErrPoolExhausted means no connection could be checked out in time
	ErrPoolExhausted = &transport.Error{Kind: transport.KindPoolExhausted, Err: errors.New("no connection available")}
	// ErrUnknownNode is returned when a mandated node has no container
	ErrUnknownNode = errors.New("node is not part of the pool")
)

// RetriesExhaustedError is returned when a call used up its retry budget or
// its deadline. Last is the failure of the final attempt.
type RetriesExhaustedError struct {
	Attempts int
	Class    Class
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (last failure %s): %v", e.Attempts, e.Class, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// IsRetriesExhausted reports whether err is a RetriesExhaustedError
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
