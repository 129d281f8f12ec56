package pool

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/arohanajit/ringpool/internal/transport"
)

// Class is the retry policy chosen for a failure
type Class int

const (
	// ClassNone is the class of a nil error
	ClassNone Class = iota
	// ClassFatal failures are returned to the caller immediately
	ClassFatal
	// ClassRetriable failures are retried without delay
	ClassRetriable
	// ClassBackoff failures are retried after an increasing delay
	ClassBackoff
	// ClassConnection failures blacklist the node and move to another one
	ClassConnection
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassFatal:
		return "fatal"
	case ClassRetriable:
		return "retriable"
	case ClassBackoff:
		return "backoff"
	case ClassConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Classify picks the retry policy for err. The outermost tagged failure and
// the kinds found further down its cause chain decide the class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	outer, causes := chainKinds(err)
	return classifyKinds(outer, causes)
}

// IsConnectionError reports whether err means the node itself is unreachable
func IsConnectionError(err error) bool {
	return Classify(err) == ClassConnection
}

// IsRetriable reports whether err may be retried right away, possibly on
// another node
func IsRetriable(err error) bool {
	c := Classify(err)
	return c == ClassRetriable || c == ClassConnection
}

// IsRetriableWithBackoff reports whether err should be retried after a delay
func IsRetriableWithBackoff(err error) bool {
	return Classify(err) == ClassBackoff
}

func classifyKinds(outer transport.Kind, causes []transport.Kind) Class {
	has := func(kinds ...transport.Kind) bool {
		for _, c := range causes {
			for _, k := range kinds {
				if c == k {
					return true
				}
			}
		}
		return false
	}

	switch outer {
	case transport.KindAuthorization, transport.KindMalformed:
		return ClassFatal
	case transport.KindConnect, transport.KindSocketTimeout, transport.KindRefused:
		return ClassConnection
	case transport.KindTransport, transport.KindTimeout:
		if has(transport.KindSocketTimeout, transport.KindRefused) {
			return ClassConnection
		}
	}

	if outer == transport.KindUnavailable || outer == transport.KindPoolExhausted ||
		has(transport.KindUnavailable, transport.KindPoolExhausted) {
		return ClassBackoff
	}

	if outer == transport.KindTransport || outer == transport.KindTimeout {
		return ClassRetriable
	}
	return ClassFatal
}

// chainKinds walks the cause chain of err. The first link carrying a kind is
// the outer kind; the kinds of the links below it are the causes.
func chainKinds(err error) (transport.Kind, []transport.Kind) {
	outer := transport.KindUnknown
	var causes []transport.Kind

	queue := []error{err}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}

		if k := linkKind(e); k != transport.KindUnknown {
			if outer == transport.KindUnknown {
				outer = k
			} else {
				causes = append(causes, k)
			}
		}

		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		}
	}
	return outer, causes
}

// linkKind maps one link of a chain, without looking at its causes
func linkKind(e error) transport.Kind {
	if te, ok := e.(*transport.Error); ok {
		return te.Kind
	}
	if e == context.DeadlineExceeded {
		return transport.KindTimeout
	}
	if e == os.ErrDeadlineExceeded {
		return transport.KindSocketTimeout
	}
	if errno, ok := e.(syscall.Errno); ok {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return transport.KindRefused
		case syscall.ETIMEDOUT:
			return transport.KindSocketTimeout
		}
	}
	if opErr, ok := e.(*net.OpError); ok && opErr.Timeout() {
		return transport.KindSocketTimeout
	}
	if e == ErrContainerClosed {
		return transport.KindConnect
	}
	return transport.KindUnknown
}
