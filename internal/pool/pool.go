package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/metrics"
	"github.com/arohanajit/ringpool/internal/transport"
	"github.com/arohanajit/ringpool/internal/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries           = 3
	defaultMaxBackoffRetries    = 5
	defaultMaxConnectionRetries = 8
	defaultRefreshAfterFailures = 3
)

// RetryConfig holds the attempt budget of each failure class
type RetryConfig struct {
	MaxRetries           int
	MaxBackoffRetries    int
	MaxConnectionRetries int
	Backoff              Backoff
	// RefreshAfterFailures triggers one ring refresh inside a call after that
	// many failed attempts. Negative disables it.
	RefreshAfterFailures int
}

// Config configures a Pool
type Config struct {
	Seeds             []cluster.Node
	Container         ContainerConfig
	Retry             RetryConfig
	BlacklistCoolDown time.Duration
	// CallTimeout bounds a whole Run across retries, zero for no bound
	CallTimeout     time.Duration
	RefreshInterval time.Duration
	ProbeInterval   time.Duration
	// AutoDiscover lets ring refreshes add and remove nodes
	AutoDiscover bool
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.MaxBackoffRetries <= 0 {
		c.Retry.MaxBackoffRetries = defaultMaxBackoffRetries
	}
	if c.Retry.MaxConnectionRetries <= 0 {
		c.Retry.MaxConnectionRetries = defaultMaxConnectionRetries
	}
	if c.Retry.RefreshAfterFailures == 0 {
		c.Retry.RefreshAfterFailures = defaultRefreshAfterFailures
	}
	return c
}

// NodeStatus is the view of one node exposed to operators
type NodeStatus struct {
	Node             cluster.Node `json:"node"`
	OpenRequests     int          `json:"open_requests"`
	IdleConnections  int          `json:"idle_connections"`
	Blacklisted      bool         `json:"blacklisted"`
	BlacklistedSince *time.Time   `json:"blacklisted_since,omitempty"`
}

// Option configures optional collaborators of a Pool
type Option func(*Pool)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.PoolMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithDescriber sets where ring descriptions come from
func WithDescriber(d cluster.RingDescriber) Option {
	return func(p *Pool) {
		p.describer = d
	}
}

// WithHealthChecker enables probing of blacklisted nodes
func WithHealthChecker(hc cluster.HealthChecker) Option {
	return func(p *Pool) {
		p.checker = hc
	}
}

// WithBlacklist replaces the blacklist built from the config
func WithBlacklist(b *cluster.Blacklist) Option {
	return func(p *Pool) {
		if b != nil {
			p.blacklist = b
		}
	}
}

// WithIntn sets the random source of host selection
func WithIntn(intn func(n int) int) Option {
	return func(p *Pool) {
		if intn != nil {
			p.intn = intn
		}
	}
}

// Pool routes operations to the nodes of a cluster. It keeps one Container
// per node, picks owners of a key from the ring, balances by utilization and
// retries failures according to their class.
type Pool struct {
	cfg       Config
	dialer    transport.Dialer
	logger    *zap.Logger
	metrics   *metrics.PoolMetrics
	describer cluster.RingDescriber
	checker   cluster.HealthChecker
	intn      func(n int) int

	ring      *cluster.TokenMap
	blacklist *cluster.Blacklist
	prober    *cluster.Prober

	containers atomic.Pointer[map[cluster.Node]*Container]
	membership sync.Mutex
	refreshMu  sync.Mutex

	closed    atomic.Bool
	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Pool with a container for every seed
func New(cfg Config, dialer transport.Dialer, opts ...Option) (*Pool, error) {
	if dialer == nil {
		return nil, errors.New("pool: dialer is required")
	}

	p := &Pool{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		logger: zap.NewNop(),
		intn:   rand.Intn,
		ring:   cluster.NewTokenMap(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.blacklist == nil {
		p.blacklist = cluster.NewBlacklist(p.cfg.BlacklistCoolDown, cluster.WithBlacklistLogger(p.logger))
	}
	if p.checker != nil {
		p.prober = cluster.NewProber(p.blacklist, p.checker, p.cfg.ProbeInterval, p.logger)
	}

	initial := make(map[cluster.Node]*Container, len(p.cfg.Seeds))
	for _, node := range p.cfg.Seeds {
		if _, exists := initial[node]; !exists {
			initial[node] = NewContainer(node, p.dialer, p.cfg.Container, p.logger)
		}
	}
	p.containers.Store(&initial)
	p.metrics.SetPoolNodes(len(initial))

	return p, nil
}

// Ring returns the token map the pool routes with
func (p *Pool) Ring() *cluster.TokenMap {
	return p.ring
}

// Blacklist returns the health view of the pool
func (p *Pool) Blacklist() *cluster.Blacklist {
	return p.blacklist
}

// Nodes returns every node with a container, sorted
func (p *Pool) Nodes() []cluster.Node {
	current := *p.containers.Load()
	nodes := make([]cluster.Node, 0, len(current))
	for node := range current {
		nodes = append(nodes, node)
	}
	cluster.SortNodes(nodes)
	return nodes
}

// Status reports the utilization and health of every node
func (p *Pool) Status() []NodeStatus {
	current := *p.containers.Load()
	entries := p.blacklist.Snapshot()

	out := make([]NodeStatus, 0, len(current))
	for _, node := range p.Nodes() {
		c := current[node]
		status := NodeStatus{
			Node:            node,
			OpenRequests:    c.OpenRequests(),
			IdleConnections: c.IdleConnections(),
		}
		if since, ok := entries[node]; ok {
			status.Blacklisted = true
			status.BlacklistedSince = &since
		}
		out = append(out, status)
	}
	return out
}

func (p *Pool) container(node cluster.Node) (*Container, bool) {
	c, ok := (*p.containers.Load())[node]
	return c, ok
}

// attempt tracks the budgets of one call
type attempt struct {
	count       int
	retries     int
	backoffs    int
	connections int
	failures    int
	refreshed   bool
}

// Run executes fn against a node owning key, or any node when key is nil,
// retrying failures within their budgets. A fatal failure is returned as is;
// a used up budget or deadline yields a *RetriesExhaustedError.
func (p *Pool) Run(ctx context.Context, key []byte, fn Operation) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	logger := p.logger.With(zap.String("call_id", utils.GenerateRequestID()))
	excluded := make(map[cluster.Node]bool)
	var state attempt

	for {
		if p.closed.Load() {
			p.metrics.RecordCall("closed")
			return ErrPoolClosed
		}
		node, c, err := p.pick(key, excluded)
		if err != nil {
			p.metrics.RecordCall("no_nodes")
			return err
		}

		state.count++
		err = c.Execute(ctx, fn)
		class := Classify(err)
		p.recordAttempt(node, c, class)

		if errors.Is(err, ErrContainerClosed) {
			if p.closed.Load() {
				p.metrics.RecordCall("closed")
				return ErrPoolClosed
			}
			// The node was removed under the call; it is not unhealthy
			if !p.holds(node, c) {
				excluded[node] = true
				continue
			}
		}
		if err == nil {
			p.metrics.RecordCall("success")
			return nil
		}
		if class == ClassFatal {
			p.metrics.RecordCall("fatal")
			logger.Debug("Operation failed",
				zap.String("node", node.String()), zap.Error(err))
			return err
		}
		if ctx.Err() != nil {
			return p.exhausted(logger, state.count, class, err)
		}

		logger.Debug("Attempt failed",
			zap.String("node", node.String()),
			zap.Stringer("class", class),
			zap.Int("attempt", state.count),
			zap.Error(err))

		state.failures++
		switch class {
		case ClassConnection:
			p.markDown(logger, node, err)
			excluded[node] = true
			state.connections++
			if state.connections > p.cfg.Retry.MaxConnectionRetries {
				return p.exhausted(logger, state.count, class, err)
			}
		case ClassBackoff:
			if state.backoffs >= p.cfg.Retry.MaxBackoffRetries {
				return p.exhausted(logger, state.count, class, err)
			}
			if err := p.backoff(ctx, state.backoffs); err != nil {
				return p.exhausted(logger, state.count, class, err)
			}
			state.backoffs++
		case ClassRetriable:
			state.retries++
			if state.retries > p.cfg.Retry.MaxRetries {
				return p.exhausted(logger, state.count, class, err)
			}
		}

		p.maybeRefresh(ctx, logger, &state)
	}
}

// RunOnNode executes fn against node only. Retriable failures are retried
// on the same node; a connection failure blacklists it and ends the call.
func (p *Pool) RunOnNode(ctx context.Context, node cluster.Node, fn Operation) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	c, ok := p.container(node)
	if !ok {
		return fmt.Errorf("%s: %w", node, ErrUnknownNode)
	}
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	logger := p.logger.With(
		zap.String("call_id", utils.GenerateRequestID()),
		zap.String("node", node.String()))
	var state attempt

	for {
		if p.closed.Load() {
			p.metrics.RecordCall("closed")
			return ErrPoolClosed
		}
		state.count++
		err := c.Execute(ctx, fn)
		class := Classify(err)
		p.recordAttempt(node, c, class)

		if errors.Is(err, ErrContainerClosed) {
			if p.closed.Load() {
				p.metrics.RecordCall("closed")
				return ErrPoolClosed
			}
			if !p.holds(node, c) {
				return fmt.Errorf("%s: %w", node, ErrUnknownNode)
			}
		}

		switch {
		case err == nil:
			p.metrics.RecordCall("success")
			return nil
		case class == ClassFatal:
			p.metrics.RecordCall("fatal")
			return err
		case ctx.Err() != nil:
			return p.exhausted(logger, state.count, class, err)
		}

		switch class {
		case ClassConnection:
			p.markDown(logger, node, err)
			return p.exhausted(logger, state.count, class, err)
		case ClassBackoff:
			if state.backoffs >= p.cfg.Retry.MaxBackoffRetries {
				return p.exhausted(logger, state.count, class, err)
			}
			if err := p.backoff(ctx, state.backoffs); err != nil {
				return p.exhausted(logger, state.count, class, err)
			}
			state.backoffs++
		case ClassRetriable:
			state.retries++
			if state.retries > p.cfg.Retry.MaxRetries {
				return p.exhausted(logger, state.count, class, err)
			}
		}
	}
}

// RunOnAllNodes executes fn once against every node concurrently. The map
// holds the outcome of each node, nil on success; the error combines the
// failures.
func (p *Pool) RunOnAllNodes(ctx context.Context, fn Operation) (map[cluster.Node]error, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	current := *p.containers.Load()
	if len(current) == 0 {
		return nil, ErrNoNodes
	}
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	logger := p.logger.With(zap.String("call_id", utils.GenerateRequestID()))
	results := make(map[cluster.Node]error, len(current))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for node, c := range current {
		wg.Add(1)
		go func(node cluster.Node, c *Container) {
			defer wg.Done()

			err := c.Execute(ctx, fn)
			class := Classify(err)
			p.recordAttempt(node, c, class)
			if class == ClassConnection && !errors.Is(err, ErrContainerClosed) {
				p.markDown(logger, node, err)
			}

			mu.Lock()
			results[node] = err
			mu.Unlock()
		}(node, c)
	}
	wg.Wait()

	var errs error
	for _, node := range p.sortedKeys(results) {
		if err := results[node]; err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", node, err))
		}
	}
	if errs != nil {
		p.metrics.RecordCall("partial")
	} else {
		p.metrics.RecordCall("success")
	}
	return results, errs
}

// pick chooses the node of the next attempt. Live owners of the key come
// first; otherwise every node not excluded in this call is a candidate,
// filtered through the blacklist.
func (p *Pool) pick(key []byte, excluded map[cluster.Node]bool) (cluster.Node, *Container, error) {
	current := *p.containers.Load()
	if len(current) == 0 {
		return cluster.Node{}, nil, ErrNoNodes
	}

	candidates := p.candidates(current, key, excluded)
	if len(candidates) == 1 {
		node := candidates[0]
		return node, current[node], nil
	}

	utilizers := make(map[cluster.Node]Utilizer, len(candidates))
	for _, node := range candidates {
		utilizers[node] = current[node]
	}
	hosts, err := NewWeightedHosts(utilizers)
	if err != nil {
		return cluster.Node{}, nil, err
	}
	hosts.intn = p.intn
	node := hosts.SelectRandom()
	return node, current[node], nil
}

func (p *Pool) candidates(current map[cluster.Node]*Container, key []byte, excluded map[cluster.Node]bool) []cluster.Node {
	if key != nil {
		var live []cluster.Node
		for _, node := range p.ring.OwnersFor(key) {
			if _, ok := current[node]; ok && !excluded[node] && !p.blacklist.IsBlacklisted(node) {
				live = append(live, node)
			}
		}
		if len(live) > 0 {
			return live
		}
	}

	all := make([]cluster.Node, 0, len(current))
	for node := range current {
		if !excluded[node] {
			all = append(all, node)
		}
	}
	if len(all) == 0 {
		for node := range current {
			all = append(all, node)
		}
	}
	cluster.SortNodes(all)
	return p.blacklist.UsableNodes(all)
}

// holds reports whether c is still the container of node
func (p *Pool) holds(node cluster.Node, c *Container) bool {
	current, ok := p.container(node)
	return ok && current == c
}

func (p *Pool) markDown(logger *zap.Logger, node cluster.Node, err error) {
	p.blacklist.Add(node)
	p.metrics.SetBlacklistedNodes(p.blacklist.Len())
	logger.Warn("Blacklisting node after connection failure",
		zap.String("node", node.String()), zap.Error(err))
}

func (p *Pool) backoff(ctx context.Context, n int) error {
	d := p.cfg.Retry.Backoff.Delay(n)
	p.metrics.ObserveBackoff(d)
	return sleep(ctx, d)
}

func (p *Pool) recordAttempt(node cluster.Node, c *Container, class Class) {
	p.metrics.RecordAttempt(node.String(), class.String())
	p.metrics.SetOpenRequests(node.String(), c.OpenRequests())
}

func (p *Pool) exhausted(logger *zap.Logger, attempts int, class Class, last error) error {
	p.metrics.RecordCall("exhausted")
	logger.Warn("Retries exhausted",
		zap.Int("attempts", attempts),
		zap.Stringer("class", class),
		zap.Error(last))
	return &RetriesExhaustedError{Attempts: attempts, Class: class, Last: last}
}

func (p *Pool) sortedKeys(m map[cluster.Node]error) []cluster.Node {
	nodes := make([]cluster.Node, 0, len(m))
	for node := range m {
		nodes = append(nodes, node)
	}
	cluster.SortNodes(nodes)
	return nodes
}

// Close stops the background loops and closes every container. Calls
// made afterwards fail with ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Waits for a concurrent Start and keeps later ones from spawning loops
	p.startOnce.Do(func() {})
	if p.cancel != nil {
		p.cancel()
	}
	if p.prober != nil {
		p.prober.Stop()
	}
	p.wg.Wait()

	var errs error
	for _, c := range *p.containers.Load() {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}
