package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultCoolDown = 2 * time.Minute

// Blacklist tracks nodes that recently failed at the connection level.
// Entries expire after the cool-down and are purged lazily on lookup.
// Reads never take a lock; writers copy the map and swap it in.
type Blacklist struct {
	entries  atomic.Pointer[map[Node]time.Time]
	mu       sync.Mutex // serializes writers
	coolDown time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// BlacklistOption configures a Blacklist
type BlacklistOption func(*Blacklist)

// WithClock overrides the wall clock, mostly for tests
func WithClock(now func() time.Time) BlacklistOption {
	return func(b *Blacklist) {
		b.now = now
	}
}

// WithBlacklistLogger sets the logger used for blacklist transitions
func WithBlacklistLogger(logger *zap.Logger) BlacklistOption {
	return func(b *Blacklist) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBlacklist creates an empty Blacklist
func NewBlacklist(coolDown time.Duration, opts ...BlacklistOption) *Blacklist {
	if coolDown <= 0 {
		coolDown = defaultCoolDown
	}
	b := &Blacklist{
		coolDown: coolDown,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	empty := make(map[Node]time.Time)
	b.entries.Store(&empty)
	return b
}

// Add blacklists a node from now on. Re-adding refreshes the timestamp.
func (b *Blacklist) Add(node Node) {
	b.AddAt(node, b.now())
}

// AddAt blacklists a node as of the given time
func (b *Blacklist) AddAt(node Node, at time.Time) {
	b.update(func(m map[Node]time.Time) {
		if _, exists := m[node]; !exists {
			b.logger.Warn("Blacklisting node", zap.String("node", node.String()))
		}
		m[node] = at
	})
}

// Remove takes a node off the blacklist
func (b *Blacklist) Remove(node Node) {
	if _, exists := (*b.entries.Load())[node]; !exists {
		return
	}
	b.update(func(m map[Node]time.Time) {
		if _, exists := m[node]; exists {
			delete(m, node)
			b.logger.Info("Node removed from blacklist", zap.String("node", node.String()))
		}
	})
}

// Clear removes every entry
func (b *Blacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	empty := make(map[Node]time.Time)
	b.entries.Store(&empty)
}

// IsBlacklisted reports whether node was blacklisted within the cool-down
func (b *Blacklist) IsBlacklisted(node Node) bool {
	since, exists := (*b.entries.Load())[node]
	if !exists {
		return false
	}
	if b.expired(since) {
		b.purge(node, since)
		return false
	}
	return true
}

// UsableNodes returns the nodes of all that are not blacklisted. When that
// would leave nothing, every node is returned so that a cluster-wide
// failure cannot stop the pool from making an attempt.
func (b *Blacklist) UsableNodes(all []Node) []Node {
	if len(all) == 0 {
		return nil
	}

	usable := make([]Node, 0, len(all))
	for _, node := range all {
		if !b.IsBlacklisted(node) {
			usable = append(usable, node)
		}
	}
	if len(usable) == 0 {
		b.logger.Warn("All known nodes are blacklisted, allowing attempts against every node",
			zap.Int("nodes", len(all)))
		return append([]Node(nil), all...)
	}
	return usable
}

// Snapshot returns the live entries and when each node was blacklisted
func (b *Blacklist) Snapshot() map[Node]time.Time {
	current := *b.entries.Load()
	out := make(map[Node]time.Time, len(current))
	for node, since := range current {
		if !b.expired(since) {
			out[node] = since
		}
	}
	return out
}

// Len returns the number of live entries
func (b *Blacklist) Len() int {
	return len(b.Snapshot())
}

// CoolDown returns how long an entry stays live
func (b *Blacklist) CoolDown() time.Duration {
	return b.coolDown
}

func (b *Blacklist) expired(since time.Time) bool {
	return b.now().Sub(since) >= b.coolDown
}

// purge drops an expired entry unless it was refreshed in the meantime
func (b *Blacklist) purge(node Node, since time.Time) {
	b.update(func(m map[Node]time.Time) {
		if current, exists := m[node]; exists && current.Equal(since) {
			delete(m, node)
			b.logger.Info("Blacklist entry expired", zap.String("node", node.String()))
		}
	})
}

func (b *Blacklist) update(fn func(map[Node]time.Time)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.entries.Load()
	next := make(map[Node]time.Time, len(current)+1)
	for node, since := range current {
		next[node] = since
	}
	fn(next)
	b.entries.Store(&next)
}
