package cluster

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(host string) Node {
	return NewNode(host, DefaultPort)
}

func tok(s string) Token {
	return Token(s)
}

// threeRangeRing owns (-inf, g) by a, [g, p) by b and [p, +inf) by c
func threeRangeRing() []RangeOwners {
	return []RangeOwners{
		{Range: TokenRange{End: tok("g")}, Nodes: []Node{testNode("a"), testNode("b")}},
		{Range: TokenRange{Start: tok("g"), End: tok("p")}, Nodes: []Node{testNode("b"), testNode("c")}},
		{Range: TokenRange{Start: tok("p")}, Nodes: []Node{testNode("c"), testNode("a")}},
	}
}

func TestTokenMap_Empty(t *testing.T) {
	tm := NewTokenMap()

	assert.True(t, tm.Empty())
	assert.Nil(t, tm.OwnersFor([]byte("key")))
	assert.Empty(t, tm.Ranges())
	assert.Empty(t, tm.Nodes())
	assert.Equal(t, uint64(0), tm.Version())
}

func TestTokenMap_OwnersFor(t *testing.T) {
	tm := NewTokenMap()
	require.NoError(t, tm.Replace(threeRangeRing()))

	tests := []struct {
		name string
		key  string
		want Node
	}{
		{name: "minimum token", key: "", want: testNode("a")},
		{name: "inside first range", key: "apple", want: testNode("a")},
		{name: "lower endpoint belongs to its range", key: "g", want: testNode("b")},
		{name: "inside middle range", key: "kiwi", want: testNode("b")},
		{name: "upper endpoint belongs to the next range", key: "p", want: testNode("c")},
		{name: "past every boundary", key: "zzzz", want: testNode("c")},
		{name: "high bytes sort last", key: "\xff\xff", want: testNode("c")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owners := tm.OwnersFor([]byte(tt.key))
			require.Len(t, owners, 2)
			assert.Equal(t, tt.want, owners[0])
		})
	}
}

func TestTokenMap_WrapAround(t *testing.T) {
	tm := NewTokenMap()
	require.NoError(t, tm.Replace([]RangeOwners{
		{Range: TokenRange{Start: tok("m"), End: tok("d")}, Nodes: []Node{testNode("x")}},
		{Range: TokenRange{Start: tok("d"), End: tok("m")}, Nodes: []Node{testNode("y")}},
	}))

	assert.Equal(t, []Node{testNode("x")}, tm.OwnersFor([]byte("c")))
	assert.Equal(t, []Node{testNode("y")}, tm.OwnersFor([]byte("d")))
	assert.Equal(t, []Node{testNode("y")}, tm.OwnersFor([]byte("lzz")))
	assert.Equal(t, []Node{testNode("x")}, tm.OwnersFor([]byte("m")))
	assert.Equal(t, []Node{testNode("x")}, tm.OwnersFor([]byte("zebra")))

	// Ranges keep the shape the cluster reported
	ranges := tm.Ranges()
	require.Len(t, ranges, 2)
	assert.True(t, ranges[0].Range.Wraps())
}

func TestTokenMap_WholeRing(t *testing.T) {
	tests := []struct {
		name  string
		rng   TokenRange
		probe []string
	}{
		{name: "unbounded", rng: TokenRange{}, probe: []string{"", "a", "\xff"}},
		{name: "start equals end", rng: TokenRange{Start: tok("m"), End: tok("m")}, probe: []string{"", "a", "m", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTokenMap()
			require.NoError(t, tm.Replace([]RangeOwners{{Range: tt.rng, Nodes: []Node{testNode("solo")}}}))
			for _, key := range tt.probe {
				assert.Equal(t, []Node{testNode("solo")}, tm.OwnersFor([]byte(key)), "key %q", key)
			}
		})
	}
}

func TestTokenMap_RejectsInvalidRing(t *testing.T) {
	tests := []struct {
		name   string
		ranges []RangeOwners
		want   error
	}{
		{name: "empty", ranges: nil, want: ErrEmptyRing},
		{
			name: "gap",
			ranges: []RangeOwners{
				{Range: TokenRange{End: tok("g")}, Nodes: []Node{testNode("a")}},
				{Range: TokenRange{Start: tok("h")}, Nodes: []Node{testNode("b")}},
			},
			want: ErrInvalidRing,
		},
		{
			name: "overlap",
			ranges: []RangeOwners{
				{Range: TokenRange{End: tok("m")}, Nodes: []Node{testNode("a")}},
				{Range: TokenRange{Start: tok("g")}, Nodes: []Node{testNode("b")}},
			},
			want: ErrInvalidRing,
		},
		{
			name: "missing low end",
			ranges: []RangeOwners{
				{Range: TokenRange{Start: tok("g")}, Nodes: []Node{testNode("a")}},
			},
			want: ErrInvalidRing,
		},
		{
			name: "missing high end",
			ranges: []RangeOwners{
				{Range: TokenRange{End: tok("g")}, Nodes: []Node{testNode("a")}},
			},
			want: ErrInvalidRing,
		},
		{
			name: "no owners",
			ranges: []RangeOwners{
				{Range: TokenRange{}, Nodes: nil},
			},
			want: ErrInvalidRing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTokenMap()
			require.NoError(t, tm.Replace(threeRangeRing()))
			before := tm.Version()

			err := tm.Replace(tt.ranges)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			// The previous ring stays installed
			assert.Equal(t, before, tm.Version())
			assert.Equal(t, testNode("b"), tm.OwnersFor([]byte("kiwi"))[0])
		})
	}
}

func TestTokenMap_OwnersAreCopies(t *testing.T) {
	tm := NewTokenMap()
	require.NoError(t, tm.Replace(threeRangeRing()))

	owners := tm.OwnersFor([]byte("kiwi"))
	owners[0] = testNode("intruder")

	assert.Equal(t, testNode("b"), tm.OwnersFor([]byte("kiwi"))[0])
}

func TestTokenMap_NodesAndDedupe(t *testing.T) {
	tm := NewTokenMap()
	require.NoError(t, tm.Replace([]RangeOwners{
		{Range: TokenRange{End: tok("m")}, Nodes: []Node{testNode("b"), testNode("a"), testNode("b")}},
		{Range: TokenRange{Start: tok("m")}, Nodes: []Node{testNode("c")}},
	}))

	assert.Equal(t, []Node{testNode("a"), testNode("b"), testNode("c")}, tm.Nodes())
	assert.Equal(t, []Node{testNode("b"), testNode("a")}, tm.OwnersFor([]byte("a")))
	assert.Equal(t, uint64(1), tm.Version())
	assert.False(t, tm.LastUpdated().IsZero())
}

func TestTokenMap_ConcurrentReplace(t *testing.T) {
	tm := NewTokenMap()
	require.NoError(t, tm.Replace(threeRangeRing()))

	alternate := []RangeOwners{
		{Range: TokenRange{}, Nodes: []Node{testNode("z1"), testNode("z2")}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if (i+j)%2 == 0 {
					assert.NoError(t, tm.Replace(alternate))
				} else {
					assert.NoError(t, tm.Replace(threeRangeRing()))
				}
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				// Every snapshot is complete, so a lookup never comes back empty
				assert.Len(t, tm.OwnersFor([]byte("kiwi")), 2)
			}
		}()
	}
	wg.Wait()
}
