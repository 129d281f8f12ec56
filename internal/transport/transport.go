// Package transport defines the boundary between the pool and the wire
// protocol used to talk to a single node.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/arohanajit/ringpool/internal/cluster"
)

// Request is a single call against a node
type Request struct {
	Method string
	Key    []byte
	Value  []byte
	// ContentType of Value, optional
	ContentType string
}

// Response is the reply to a Request
type Response struct {
	Status      int
	Value       []byte
	ContentType string
}

// Conn is an open connection to one node
type Conn interface {
	Call(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Dialer opens connections to nodes
type Dialer interface {
	Dial(ctx context.Context, node cluster.Node) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, node cluster.Node) (Conn, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, node cluster.Node) (Conn, error) {
	return f(ctx, node)
}

// Kind tags an Error with the failure it represents
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is a generic failure of the transport
	KindTransport
	// KindConnect means a connection could not be opened
	KindConnect
	// KindTimeout is an operation timeout reported by the node
	KindTimeout
	// KindSocketTimeout is a socket level read, write or dial timeout
	KindSocketTimeout
	// KindRefused means the node refused the connection
	KindRefused
	// KindUnavailable means the cluster lacks live replicas for the request
	KindUnavailable
	// KindPoolExhausted means no local connection was available
	KindPoolExhausted
	// KindApplication is an error returned by the node for the request
	KindApplication
	// KindAuthorization means the request was not authorized
	KindAuthorization
	// KindMalformed means the request was rejected as invalid
	KindMalformed
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindTransport:     "transport",
	KindConnect:       "connect",
	KindTimeout:       "timeout",
	KindSocketTimeout: "socket_timeout",
	KindRefused:       "refused",
	KindUnavailable:   "unavailable",
	KindPoolExhausted: "pool_exhausted",
	KindApplication:   "application",
	KindAuthorization: "authorization",
	KindMalformed:     "malformed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure tagged with its kind. Err holds the cause, which may
// itself be an *Error.
type Error struct {
	Kind Kind
	Node cluster.Node
	Op   string
	Err  error
}

// NewError creates a tagged error for node
func NewError(kind Kind, node cluster.Node, op string, cause error) *Error {
	return &Error{Kind: kind, Node: node, Op: op, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Node != (cluster.Node{}) {
		msg = e.Node.String() + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
