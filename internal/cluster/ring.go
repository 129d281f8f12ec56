package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
)

var (
	// ErrEmptyRing is returned when a ring description has no ranges
	ErrEmptyRing = errors.New("ring description is empty")
	// ErrInvalidRing is returned when ranges do not partition the ring
	ErrInvalidRing = errors.New("ring ranges do not partition the token space")
)

// ownedRange is a half-open interval [lower, upper) of the ring. An empty
// lower bound is unbounded below and an empty upper bound unbounded above.
type ownedRange struct {
	lower Token
	upper Token
	nodes []Node
}

func (r ownedRange) contains(tok Token) bool {
	if !r.lower.IsMin() && tok.Compare(r.lower) < 0 {
		return false
	}
	return r.upper.IsMin() || tok.Compare(r.upper) < 0
}

// ringSnapshot is an immutable view of the ring. Snapshots are never
// modified after they are installed.
type ringSnapshot struct {
	segments []ownedRange
	ranges   []RangeOwners
	nodes    []Node
	version  uint64
	updated  time.Time
}

// TokenMap maps ring positions to their owning replicas. Readers always see
// a complete snapshot; Replace installs a new one atomically.
type TokenMap struct {
	snap    atomic.Pointer[ringSnapshot]
	version atomic.Uint64
}

// NewTokenMap creates an empty TokenMap
func NewTokenMap() *TokenMap {
	tm := &TokenMap{}
	tm.snap.Store(&ringSnapshot{})
	return tm
}

// Replace validates the description and installs it as the current ring.
// On error the previous ring stays in place.
func (tm *TokenMap) Replace(ranges []RangeOwners) error {
	snap, err := buildSnapshot(ranges)
	if err != nil {
		return err
	}
	snap.version = tm.version.Add(1)
	snap.updated = time.Now()
	tm.snap.Store(snap)
	return nil
}

// OwnersFor returns the replicas owning key in preference order, or nil when
// ownership is unknown.
func (tm *TokenMap) OwnersFor(key []byte) []Node {
	snap := tm.snap.Load()
	if len(snap.segments) == 0 {
		return nil
	}

	tok := TokenForKey(key)
	// First segment whose lower bound is past the token, minus one
	idx := sort.Search(len(snap.segments), func(i int) bool {
		lower := snap.segments[i].lower
		return !lower.IsMin() && lower.Compare(tok) > 0
	}) - 1
	if idx < 0 || !snap.segments[idx].contains(tok) {
		return nil
	}

	owners := snap.segments[idx].nodes
	return append([]Node(nil), owners...)
}

// Ranges returns the ring description currently installed
func (tm *TokenMap) Ranges() []RangeOwners {
	snap := tm.snap.Load()
	out := make([]RangeOwners, len(snap.ranges))
	for i, r := range snap.ranges {
		out[i] = RangeOwners{Range: r.Range, Nodes: append([]Node(nil), r.Nodes...)}
	}
	return out
}

// Nodes returns every distinct owner in the current ring, sorted
func (tm *TokenMap) Nodes() []Node {
	return append([]Node(nil), tm.snap.Load().nodes...)
}

// Empty reports whether no ring has been installed yet
func (tm *TokenMap) Empty() bool {
	return len(tm.snap.Load().segments) == 0
}

// Version returns the number of rings installed so far
func (tm *TokenMap) Version() uint64 {
	return tm.snap.Load().version
}

// LastUpdated returns when the current ring was installed
func (tm *TokenMap) LastUpdated() time.Time {
	return tm.snap.Load().updated
}

func buildSnapshot(ranges []RangeOwners) (*ringSnapshot, error) {
	if len(ranges) == 0 {
		return nil, ErrEmptyRing
	}

	segments := make([]ownedRange, 0, len(ranges)+1)
	kept := make([]RangeOwners, 0, len(ranges))
	distinct := make(map[Node]bool)

	for _, ro := range ranges {
		if len(ro.Nodes) == 0 {
			return nil, fmt.Errorf("%w: range %s has no owners", ErrInvalidRing, ro.Range)
		}
		nodes := dedupeNodes(ro.Nodes)
		for _, n := range nodes {
			distinct[n] = true
		}
		kept = append(kept, RangeOwners{Range: ro.Range, Nodes: nodes})

		if ro.Range.Wraps() {
			segments = append(segments,
				ownedRange{lower: ro.Range.Start, upper: nil, nodes: nodes},
				ownedRange{lower: nil, upper: ro.Range.End, nodes: nodes},
			)
			continue
		}
		segments = append(segments, ownedRange{lower: ro.Range.Start, upper: ro.Range.End, nodes: nodes})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].lower.Compare(segments[j].lower) < 0
	})
	if err := checkPartition(segments); err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(distinct))
	for n := range distinct {
		nodes = append(nodes, n)
	}
	SortNodes(nodes)

	return &ringSnapshot{segments: segments, ranges: kept, nodes: nodes}, nil
}

// checkPartition verifies that sorted segments cover the ring with no gaps
// and no overlaps.
func checkPartition(segments []ownedRange) error {
	if !segments[0].lower.IsMin() {
		return fmt.Errorf("%w: nothing owns tokens below %s", ErrInvalidRing, segments[0].lower)
	}
	for i, seg := range segments {
		last := i == len(segments)-1
		if seg.upper.IsMin() {
			if !last {
				return fmt.Errorf("%w: unbounded range overlaps range starting at %s", ErrInvalidRing, segments[i+1].lower)
			}
			continue
		}
		if seg.upper.Compare(seg.lower) <= 0 && !seg.lower.IsMin() {
			return fmt.Errorf("%w: empty range ending at %s", ErrInvalidRing, seg.upper)
		}
		if last {
			return fmt.Errorf("%w: nothing owns tokens from %s", ErrInvalidRing, seg.upper)
		}
		next := segments[i+1].lower
		switch c := seg.upper.Compare(next); {
		case c < 0:
			return fmt.Errorf("%w: gap between %s and %s", ErrInvalidRing, seg.upper, next)
		case c > 0:
			return fmt.Errorf("%w: overlap between %s and %s", ErrInvalidRing, next, seg.upper)
		}
	}
	return nil
}

func dedupeNodes(nodes []Node) []Node {
	seen := make(map[Node]bool, len(nodes))
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
