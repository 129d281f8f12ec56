package cluster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 10 * time.Second
	healthEndpoint       = "/health"
)

// HealthChecker checks whether a node can serve requests
type HealthChecker interface {
	Check(ctx context.Context, node Node) error
}

// HTTPHealthChecker implements HealthChecker using the node's HTTP health endpoint
type HTTPHealthChecker struct {
	client *http.Client
}

// NewHTTPHealthChecker creates a new HTTPHealthChecker instance
func NewHTTPHealthChecker(client *http.Client) *HTTPHealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHealthChecker{client: client}
}

// Check performs a health check on the specified node
func (hc *HTTPHealthChecker) Check(ctx context.Context, node Node) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s%s", node, healthEndpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status code %d", resp.StatusCode)
	}

	return nil
}

// Prober periodically re-checks blacklisted nodes and lifts the entry of
// any node that answers healthy before its cool-down runs out.
type Prober struct {
	blacklist *Blacklist
	checker   HealthChecker
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	stopOnce  sync.Once
	stopChan  chan struct{}
}

// NewProber creates a new Prober
func NewProber(blacklist *Blacklist, checker HealthChecker, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		blacklist: blacklist,
		checker:   checker,
		interval:  interval,
		timeout:   interval / 2,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the probe loop until ctx is done or Stop is called
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// Stop stops the probe loop
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
}

// ProbeOnce checks every blacklisted node once and returns the nodes that
// recovered
func (p *Prober) ProbeOnce(ctx context.Context) []Node {
	entries := p.blacklist.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		recovered []Node
		wg        sync.WaitGroup
	)
	for node := range entries {
		wg.Add(1)
		go func(node Node) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			if err := p.checker.Check(checkCtx, node); err != nil {
				p.logger.Debug("Blacklisted node still unhealthy",
					zap.String("node", node.String()), zap.Error(err))
				return
			}
			p.blacklist.Remove(node)
			mu.Lock()
			recovered = append(recovered, node)
			mu.Unlock()
		}(node)
	}
	wg.Wait()

	SortNodes(recovered)
	return recovered
}
