package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arohanajit/ringpool/internal/cluster"
)

func hostsFor(t *testing.T, utils map[cluster.Node]int) *WeightedHosts {
	t.Helper()
	utilizers := make(map[cluster.Node]Utilizer, len(utils))
	for n, u := range utils {
		utilizers[n] = fixedUtil(u)
	}
	hosts, err := NewWeightedHosts(utilizers)
	require.NoError(t, err)
	return hosts
}

// selectionCounts counts the owner of every index in [0, Total())
func selectionCounts(hosts *WeightedHosts) map[cluster.Node]int {
	counts := make(map[cluster.Node]int)
	for i := 0; i < hosts.Total(); i++ {
		counts[hosts.SelectFor(i)]++
	}
	return counts
}

func TestWeightedHosts_Empty(t *testing.T) {
	_, err := NewWeightedHosts(nil)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestWeightedHosts_UniformUtilization(t *testing.T) {
	for _, util := range []int{0, 3, 100} {
		hosts := hostsFor(t, map[cluster.Node]int{node("a"): util, node("b"): util, node("c"): util})

		weights := hosts.Weights()
		assert.Equal(t, weights[node("a")], weights[node("b")])
		assert.Equal(t, weights[node("b")], weights[node("c")])
		assert.Equal(t, weights, selectionCounts(hosts), "utilization %d", util)
	}
}

func TestWeightedHosts_ExhaustiveSelectionMatchesWeights(t *testing.T) {
	hosts := hostsFor(t, map[cluster.Node]int{
		node("a"): 0, node("b"): 1, node("c"): 7, node("d"): 1 << 20,
	})

	weights := hosts.Weights()
	counts := selectionCounts(hosts)
	assert.Equal(t, weights, counts)

	total := 0
	for _, w := range weights {
		total += w
	}
	assert.Equal(t, hosts.Total(), total)
}

func TestWeightedHosts_BoundaryBelongsToNextNode(t *testing.T) {
	hosts := hostsFor(t, map[cluster.Node]int{node("a"): 0, node("b"): 0})

	first := hosts.boundaries[0]
	assert.Equal(t, node("a"), hosts.SelectFor(first-1))
	assert.Equal(t, node("b"), hosts.SelectFor(first), "an index equal to a boundary belongs to the next node")
	assert.Equal(t, node("a"), hosts.SelectFor(0))
	assert.Equal(t, node("b"), hosts.SelectFor(hosts.Total()-1))

	// Out of range indexes clamp
	assert.Equal(t, node("a"), hosts.SelectFor(-5))
	assert.Equal(t, node("b"), hosts.SelectFor(hosts.Total()+10))
}

func TestWeightedHosts_IdleNodeGetsLargestSpan(t *testing.T) {
	hosts := hostsFor(t, map[cluster.Node]int{node("idle"): 0, node("b"): 2, node("c"): 5})
	weights := hosts.Weights()

	assert.Greater(t, weights[node("idle")], weights[node("b")])
	assert.Greater(t, weights[node("idle")], weights[node("c")])
}

func TestWeightedHosts_BusiestNodeGetsSmallestPositiveSpan(t *testing.T) {
	hosts := hostsFor(t, map[cluster.Node]int{node("a"): 1, node("b"): 4, node("busy"): 1 << 30})
	weights := hosts.Weights()

	assert.Less(t, weights[node("busy")], weights[node("a")])
	assert.Less(t, weights[node("busy")], weights[node("b")])
	assert.Positive(t, weights[node("busy")])
	assert.Equal(t, 1, weights[node("busy")])
}

func TestWeightedHosts_NegativeUtilizationClamps(t *testing.T) {
	hosts := hostsFor(t, map[cluster.Node]int{node("a"): -3, node("b"): 0})
	weights := hosts.Weights()
	assert.Equal(t, weights[node("a")], weights[node("b")])
}

func TestWeightedHosts_RandomSelectionFollowsUtilization(t *testing.T) {
	utils := map[cluster.Node]int{node("a"): 5, node("b"): 10, node("c"): 15}
	hosts := hostsFor(t, utils)
	hosts.intn = rand.New(rand.NewSource(42)).Intn

	const samples = 10000
	counts := make(map[cluster.Node]int)
	for i := 0; i < samples; i++ {
		counts[hosts.SelectRandom()]++
	}

	weights := hosts.Weights()
	inverse := 0.0
	for _, u := range utils {
		inverse += 1 / float64(u)
	}
	for n, u := range utils {
		got := float64(counts[n]) / samples
		exact := float64(weights[n]) / float64(hosts.Total())
		assert.InDelta(t, exact, got, 0.02, "node %s", n)
		// Shares track 1/utilization within sampling and smoothing error
		assert.InDelta(t, (1/float64(u))/inverse, got, 0.04, "node %s", n)
	}
	assert.Greater(t, counts[node("a")], counts[node("b")])
	assert.Greater(t, counts[node("b")], counts[node("c")])
}
