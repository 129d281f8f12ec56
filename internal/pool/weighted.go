package pool

import (
	"math/rand"
	"sort"

	"github.com/arohanajit/ringpool/internal/cluster"
)

// weightScale is the span given to a node with no requests in flight
const weightScale = 1 << 16

// WeightedHosts picks nodes at random with a probability inversely
// proportional to their utilization. Boundaries are cumulative weights:
// node i owns the indexes [boundaries[i-1], boundaries[i]).
type WeightedHosts struct {
	boundaries []int
	nodes      []cluster.Node
	intn       func(n int) int
}

// NewWeightedHosts builds the table from the current utilization of the
// given nodes. Every node gets a strictly positive weight.
func NewWeightedHosts(utilizers map[cluster.Node]Utilizer) (*WeightedHosts, error) {
	if len(utilizers) == 0 {
		return nil, ErrNoNodes
	}

	nodes := make([]cluster.Node, 0, len(utilizers))
	for node := range utilizers {
		nodes = append(nodes, node)
	}
	cluster.SortNodes(nodes)

	boundaries := make([]int, len(nodes))
	total := 0
	for i, node := range nodes {
		total += weightFor(utilizers[node].OpenRequests())
		boundaries[i] = total
	}

	return &WeightedHosts{
		boundaries: boundaries,
		nodes:      nodes,
		intn:       rand.Intn,
	}, nil
}

func weightFor(openRequests int) int {
	if openRequests < 0 {
		openRequests = 0
	}
	w := weightScale / (1 + openRequests)
	if w < 1 {
		w = 1
	}
	return w
}

// Total returns the sum of all weights
func (w *WeightedHosts) Total() int {
	return w.boundaries[len(w.boundaries)-1]
}

// Weights returns the span assigned to each node
func (w *WeightedHosts) Weights() map[cluster.Node]int {
	out := make(map[cluster.Node]int, len(w.nodes))
	prev := 0
	for i, node := range w.nodes {
		out[node] = w.boundaries[i] - prev
		prev = w.boundaries[i]
	}
	return out
}

// SelectFor returns the node owning index, in [0, Total()). The owner is
// the first boundary strictly greater than index; a boundary value belongs
// to the next node.
func (w *WeightedHosts) SelectFor(index int) cluster.Node {
	if index < 0 {
		index = 0
	}
	i := sort.Search(len(w.boundaries), func(i int) bool {
		return w.boundaries[i] > index
	})
	if i == len(w.boundaries) {
		i = len(w.boundaries) - 1
	}
	return w.nodes[i]
}

// SelectRandom returns a node drawn according to the weights
func (w *WeightedHosts) SelectRandom() cluster.Node {
	return w.SelectFor(w.intn(w.Total()))
}
