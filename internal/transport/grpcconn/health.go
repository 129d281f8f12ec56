// Package grpcconn checks node health over the standard gRPC health
// checking protocol.
package grpcconn

import (
	"context"
	"fmt"
	"sync"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/transport"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthChecker implements cluster.HealthChecker with grpc_health_v1. One
// client connection per node is cached and reused across checks.
type HealthChecker struct {
	mu      sync.Mutex
	conns   map[cluster.Node]*grpc.ClientConn
	service string
	opts    []grpc.DialOption
}

// NewHealthChecker creates a HealthChecker for the given service name. The
// empty service asks for the overall server health. Without options the
// connection is insecure.
func NewHealthChecker(service string, opts ...grpc.DialOption) *HealthChecker {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &HealthChecker{
		conns:   make(map[cluster.Node]*grpc.ClientConn),
		service: service,
		opts:    opts,
	}
}

// Check implements cluster.HealthChecker
func (hc *HealthChecker) Check(ctx context.Context, node cluster.Node) error {
	conn, err := hc.conn(node)
	if err != nil {
		return transport.NewError(transport.KindConnect, node, "health", err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: hc.service})
	if err != nil {
		return FromStatus(node, "health", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return transport.NewError(transport.KindUnavailable, node, "health",
			fmt.Errorf("serving status %s", resp.GetStatus()))
	}
	return nil
}

// Close closes every cached connection
func (hc *HealthChecker) Close() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	var errs error
	for node, conn := range hc.conns {
		errs = multierr.Append(errs, conn.Close())
		delete(hc.conns, node)
	}
	return errs
}

func (hc *HealthChecker) conn(node cluster.Node) (*grpc.ClientConn, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if conn, ok := hc.conns[node]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(node.String(), hc.opts...)
	if err != nil {
		return nil, err
	}
	hc.conns[node] = conn
	return conn, nil
}

// FromStatus tags a gRPC error with the matching failure kind
func FromStatus(node cluster.Node, op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return transport.NewError(transport.KindTransport, node, op, err)
	}

	switch st.Code() {
	case codes.Unavailable:
		// The channel could not reach the node
		return transport.NewError(transport.KindTransport, node, op,
			transport.NewError(transport.KindRefused, node, "", err))
	case codes.DeadlineExceeded:
		return transport.NewError(transport.KindTimeout, node, op, err)
	case codes.ResourceExhausted:
		return transport.NewError(transport.KindUnavailable, node, op, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return transport.NewError(transport.KindAuthorization, node, op, err)
	case codes.InvalidArgument, codes.Unimplemented, codes.NotFound:
		return transport.NewError(transport.KindMalformed, node, op, err)
	case codes.Canceled:
		return err
	default:
		return transport.NewError(transport.KindApplication, node, op, err)
	}
}
