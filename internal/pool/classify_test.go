package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"

	"github.com/arohanajit/ringpool/internal/transport"
)

func tagged(kind transport.Kind, cause error) error {
	return transport.NewError(kind, node("a"), "call", cause)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ClassNone},
		{name: "operation timeout", err: tagged(transport.KindTimeout, nil), want: ClassRetriable},
		{name: "bare transport", err: tagged(transport.KindTransport, errors.New("broken pipe")), want: ClassRetriable},
		{name: "transport wrapping socket timeout", err: tagged(transport.KindTransport, tagged(transport.KindSocketTimeout, nil)), want: ClassConnection},
		{name: "transport wrapping net timeout", err: tagged(transport.KindTransport, &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}), want: ClassConnection},
		{name: "transport wrapping refused", err: tagged(transport.KindTransport, fmt.Errorf("dial: %w", syscall.ECONNREFUSED)), want: ClassConnection},
		{name: "timeout wrapping socket timeout", err: tagged(transport.KindTimeout, tagged(transport.KindSocketTimeout, nil)), want: ClassConnection},
		{name: "connect", err: tagged(transport.KindConnect, errors.New("no route")), want: ClassConnection},
		{name: "container closed", err: ErrContainerClosed, want: ClassConnection},
		{name: "unavailable", err: tagged(transport.KindUnavailable, nil), want: ClassBackoff},
		{name: "transport wrapping unavailable", err: tagged(transport.KindTransport, tagged(transport.KindUnavailable, nil)), want: ClassBackoff},
		{name: "pool exhausted", err: fmt.Errorf("a:9160: %w", ErrPoolExhausted), want: ClassBackoff},
		{name: "authorization", err: tagged(transport.KindAuthorization, nil), want: ClassFatal},
		{name: "authorization wrapping socket timeout", err: tagged(transport.KindAuthorization, tagged(transport.KindSocketTimeout, nil)), want: ClassFatal},
		{name: "malformed", err: tagged(transport.KindMalformed, nil), want: ClassFatal},
		{name: "application", err: tagged(transport.KindApplication, nil), want: ClassFatal},
		{name: "untagged", err: errors.New("boom"), want: ClassFatal},
		{name: "caller canceled", err: fmt.Errorf("call: %w", context.Canceled), want: ClassFatal},
		{name: "deadline", err: context.DeadlineExceeded, want: ClassRetriable},
		{name: "joined", err: errors.Join(errors.New("first"), tagged(transport.KindUnavailable, nil)), want: ClassBackoff},
		{name: "multierr", err: multierr.Combine(errors.New("first"), tagged(transport.KindConnect, nil)), want: ClassConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
		})
	}
}

func TestClassifierPredicates(t *testing.T) {
	timedOut := tagged(transport.KindTimeout, nil)
	assert.False(t, IsConnectionError(timedOut))
	assert.True(t, IsRetriable(timedOut))

	bare := tagged(transport.KindTransport, nil)
	assert.False(t, IsConnectionError(bare))
	assert.True(t, IsRetriable(bare))

	socket := tagged(transport.KindTransport, tagged(transport.KindSocketTimeout, nil))
	assert.True(t, IsConnectionError(socket))
	assert.True(t, IsRetriable(socket))

	assert.True(t, IsRetriableWithBackoff(ErrPoolExhausted))
	assert.True(t, IsRetriableWithBackoff(tagged(transport.KindUnavailable, nil)))
	assert.True(t, IsRetriableWithBackoff(tagged(transport.KindTransport, tagged(transport.KindUnavailable, nil))))
	assert.False(t, IsRetriable(tagged(transport.KindUnavailable, nil)))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "connection", ClassConnection.String())
	assert.Equal(t, "unknown", Class(42).String())
}

func TestRetriesExhaustedError(t *testing.T) {
	last := tagged(transport.KindTransport, nil)
	err := fmt.Errorf("run: %w", &RetriesExhaustedError{Attempts: 4, Class: ClassRetriable, Last: last})

	assert.True(t, IsRetriesExhausted(err))
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.False(t, IsRetriesExhausted(last))
}
