package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/arohanajit/ringpool/internal/cluster"
	"go.uber.org/zap"
)

// Refresh fetches the ring from the describer and installs it. A failure
// keeps the previous ring and is only reported to the caller. When
// AutoDiscover is on, nodes joining the ring get a container and nodes
// missing from it are removed.
func (p *Pool) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return p.refresh(ctx)
}

func (p *Pool) refresh(ctx context.Context) error {
	if p.describer == nil {
		return nil
	}

	ranges, err := p.describer.DescribeRing(ctx)
	if err == nil {
		err = p.ring.Replace(ranges)
	}
	if err != nil {
		p.metrics.RecordRingRefresh("failure", 0)
		p.logger.Error("Failed to refresh ring", zap.Error(err))
		return fmt.Errorf("refresh ring: %w", err)
	}

	p.metrics.RecordRingRefresh("success", len(ranges))
	p.logger.Debug("Ring refreshed",
		zap.Int("ranges", len(ranges)),
		zap.Uint64("version", p.ring.Version()))

	if p.cfg.AutoDiscover {
		p.reconcile(p.ring.Nodes())
	}
	return nil
}

// maybeRefresh refreshes the ring once per call after enough failures. It
// never waits behind a refresh already in progress.
func (p *Pool) maybeRefresh(ctx context.Context, logger *zap.Logger, state *attempt) {
	threshold := p.cfg.Retry.RefreshAfterFailures
	if p.describer == nil || threshold < 0 || state.refreshed || state.failures < threshold {
		return
	}
	state.refreshed = true

	if !p.refreshMu.TryLock() {
		return
	}
	defer p.refreshMu.Unlock()

	if err := p.refresh(ctx); err != nil {
		logger.Debug("Ring refresh during call failed, routing with previous ring", zap.Error(err))
	}
}

// reconcile makes the containers match owners
func (p *Pool) reconcile(owners []cluster.Node) {
	if len(owners) == 0 {
		return
	}
	want := make(map[cluster.Node]bool, len(owners))
	for _, node := range owners {
		want[node] = true
		p.AddNode(node)
	}
	for _, node := range p.Nodes() {
		if !want[node] {
			p.RemoveNode(node)
		}
	}
}

// AddNode adds a container for node. It reports false when the node was
// already present.
func (p *Pool) AddNode(node cluster.Node) bool {
	p.membership.Lock()
	defer p.membership.Unlock()

	current := *p.containers.Load()
	if _, exists := current[node]; exists {
		return false
	}

	next := make(map[cluster.Node]*Container, len(current)+1)
	for n, c := range current {
		next[n] = c
	}
	next[node] = NewContainer(node, p.dialer, p.cfg.Container, p.logger)
	p.containers.Store(&next)

	p.metrics.SetPoolNodes(len(next))
	p.logger.Info("Added node to pool", zap.String("node", node.String()))
	return true
}

// RemoveNode closes and drops the container of node. Requests in flight on
// it finish normally. It reports false when the node was not present.
func (p *Pool) RemoveNode(node cluster.Node) bool {
	p.membership.Lock()
	current := *p.containers.Load()
	removed, exists := current[node]
	if !exists {
		p.membership.Unlock()
		return false
	}

	next := make(map[cluster.Node]*Container, len(current))
	for n, c := range current {
		if n != node {
			next[n] = c
		}
	}
	p.containers.Store(&next)
	p.membership.Unlock()

	if err := removed.Close(); err != nil {
		p.logger.Debug("Failed to close container", zap.String("node", node.String()), zap.Error(err))
	}
	p.blacklist.Remove(node)
	p.metrics.SetPoolNodes(len(next))
	p.metrics.DeleteNode(node.String())
	p.logger.Info("Removed node from pool", zap.String("node", node.String()))
	return true
}

// Start refreshes the ring once, then keeps refreshing it every
// RefreshInterval and probing blacklisted nodes until ctx is done or the
// pool is closed. The initial refresh error is returned but the loops run
// regardless.
func (p *Pool) Start(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	var err error
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		err = p.Refresh(ctx)

		if p.describer != nil && p.cfg.RefreshInterval > 0 {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.refreshLoop(ctx)
			}()
		}
		if p.prober != nil {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.prober.Start(ctx)
			}()
		}
	})
	return err
}

func (p *Pool) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				continue
			}
			p.metrics.SetBlacklistedNodes(p.blacklist.Len())
		}
	}
}
