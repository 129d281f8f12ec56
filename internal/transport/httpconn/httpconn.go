// Package httpconn talks to storage nodes over their HTTP key-value API.
package httpconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/transport"
)

const (
	defaultDialTimeout = 2 * time.Second
	// maxResponseSize limits how much of a value is read back
	maxResponseSize = 1 << 20
	healthPath      = "/health"
	keysPath        = "/keys/"
)

// Dialer opens HTTP connections to nodes. Each connection owns its own
// keep-alive transport limited to a single TCP connection.
type Dialer struct {
	DialTimeout time.Duration
	// SkipHealthCheck disables the health probe issued on dial
	SkipHealthCheck bool
}

// NewDialer creates a Dialer with default settings
func NewDialer() *Dialer {
	return &Dialer{DialTimeout: defaultDialTimeout}
}

// Dial implements transport.Dialer
func (d *Dialer) Dial(ctx context.Context, node cluster.Node) (transport.Conn, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	netDialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	rt := &http.Transport{
		DialContext:         netDialer.DialContext,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Conn{
		node:      node,
		baseURL:   "http://" + node.String(),
		client:    &http.Client{Transport: rt},
		transport: rt,
	}

	if !d.SkipHealthCheck {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.ping(dialCtx); err != nil {
			c.Close()
			return nil, transport.NewError(transport.KindConnect, node, "dial", err)
		}
	}
	return c, nil
}

// Conn is a connection to one node's HTTP API
type Conn struct {
	node      cluster.Node
	baseURL   string
	client    *http.Client
	transport *http.Transport
}

// Node returns the node this connection talks to
func (c *Conn) Node() cluster.Node {
	return c.node
}

// Call implements transport.Conn
func (c *Conn) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil || len(req.Key) == 0 {
		return nil, transport.NewError(transport.KindMalformed, c.node, "call", errors.New("request key cannot be empty"))
	}

	var body io.Reader
	switch req.Method {
	case http.MethodGet, http.MethodDelete:
	case http.MethodPut:
		if req.Value == nil {
			return nil, transport.NewError(transport.KindMalformed, c.node, "call", errors.New("value cannot be nil"))
		}
		body = bytes.NewReader(req.Value)
	default:
		return nil, transport.NewError(transport.KindMalformed, c.node, "call", fmt.Errorf("unsupported method %q", req.Method))
	}

	op := req.Method + " " + keysPath
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+keysPath+url.PathEscape(string(req.Key)), body)
	if err != nil {
		return nil, transport.NewError(transport.KindMalformed, c.node, op, err)
	}
	if req.Method == http.MethodPut {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapNetError(c.node, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, wrapNetError(c.node, op, err)
	}

	if err := statusError(c.node, op, resp.StatusCode, data); err != nil {
		return nil, err
	}

	return &transport.Response{
		Status:      resp.StatusCode,
		Value:       data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Close implements transport.Conn
func (c *Conn) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Conn) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return wrapNetError(c.node, "ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode != http.StatusOK {
		return transport.NewError(transport.KindUnavailable, c.node, "ping", fmt.Errorf("health check returned status %d", resp.StatusCode))
	}
	return nil
}

// wrapNetError tags a failure from the HTTP client. A socket level cause is
// kept as the inner error so it can be told apart from a generic transport
// failure.
func wrapNetError(node cluster.Node, op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return transport.NewError(transport.KindTimeout, node, op, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return transport.NewError(transport.KindTransport, node, op,
			transport.NewError(transport.KindRefused, node, "", err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transport.NewError(transport.KindTransport, node, op,
			transport.NewError(transport.KindSocketTimeout, node, "", err))
	}
	return transport.NewError(transport.KindTransport, node, op, err)
}

func statusError(node cluster.Node, op string, status int, body []byte) error {
	if status < 400 || status == http.StatusNotFound {
		return nil
	}

	cause := fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body))
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusMethodNotAllowed:
		return transport.NewError(transport.KindMalformed, node, op, cause)
	case http.StatusUnauthorized, http.StatusForbidden:
		return transport.NewError(transport.KindAuthorization, node, op, cause)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return transport.NewError(transport.KindUnavailable, node, op, cause)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return transport.NewError(transport.KindTimeout, node, op, cause)
	case http.StatusBadGateway:
		return transport.NewError(transport.KindTransport, node, op, cause)
	default:
		return transport.NewError(transport.KindApplication, node, op, cause)
	}
}
