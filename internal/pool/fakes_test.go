package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/transport"
)

func node(host string) cluster.Node {
	return cluster.NewNode(host, cluster.DefaultPort)
}

// fakeConn is a connection that answers every call with 200
type fakeConn struct {
	node   cluster.Node
	closed atomic.Bool
}

func (c *fakeConn) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return &transport.Response{Status: 200}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeDialer records dials and can fail them per node
type fakeDialer struct {
	mu    sync.Mutex
	dials map[cluster.Node]int
	fail  map[cluster.Node]error
	conns []*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials: make(map[cluster.Node]int),
		fail:  make(map[cluster.Node]error),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, n cluster.Node) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[n]++
	if err := d.fail[n]; err != nil {
		return nil, err
	}
	conn := &fakeConn{node: n}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount(n cluster.Node) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[n]
}

func (d *fakeDialer) closedConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	closed := 0
	for _, c := range d.conns {
		if c.closed.Load() {
			closed++
		}
	}
	return closed
}

// script is an operation whose outcome is chosen per node and attempt
type script struct {
	mu       sync.Mutex
	calls    []cluster.Node
	behavior func(n cluster.Node, attempt int) error
}

func (s *script) op() Operation {
	return func(ctx context.Context, conn transport.Conn) error {
		n := conn.(*fakeConn).node
		s.mu.Lock()
		s.calls = append(s.calls, n)
		attempt := len(s.calls)
		s.mu.Unlock()
		if s.behavior == nil {
			return nil
		}
		return s.behavior(n, attempt)
	}
}

func (s *script) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *script) nodes() []cluster.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cluster.Node(nil), s.calls...)
}

// fixedUtil reports a constant number of open requests
type fixedUtil int

func (f fixedUtil) OpenRequests() int {
	return int(f)
}

// countingDescriber serves a ring and counts calls; err makes it fail
type countingDescriber struct {
	mu     sync.Mutex
	ranges []cluster.RangeOwners
	err    error
	calls  int
}

func (d *countingDescriber) DescribeRing(ctx context.Context) ([]cluster.RangeOwners, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.ranges, nil
}

func (d *countingDescriber) set(ranges []cluster.RangeOwners, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ranges = ranges
	d.err = err
}

func (d *countingDescriber) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
