package cluster

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Token is a position on the partitioning ring. Tokens compare as unsigned
// bytes, which matches the order-preserving partitioner used by the cluster.
type Token []byte

// TokenForKey returns the ring position of a row key
func TokenForKey(key []byte) Token {
	return Token(key)
}

// ParseHexToken decodes a token in the hex form reported by the cluster.
// The empty string is the minimum token.
func ParseHexToken(s string) (Token, error) {
	if s == "" {
		return Token{}, nil
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("invalid token %q: %w", s, err)
	}
	return Token(b), nil
}

// Compare returns -1, 0 or 1 comparing t and other as unsigned bytes
func (t Token) Compare(other Token) int {
	return bytes.Compare(t, other)
}

// Equal reports whether both tokens hold the same bytes
func (t Token) Equal(other Token) bool {
	return bytes.Equal(t, other)
}

// IsMin reports whether t is the minimum (empty) token
func (t Token) IsMin() bool {
	return len(t) == 0
}

// String returns the hex form of the token
func (t Token) String() string {
	return hex.EncodeToString(t)
}

// TokenRange is a range of the ring as described by the cluster. An empty
// Start is unbounded below and an empty End is unbounded above. When both
// ends are present and End sorts before Start, the range wraps through the
// maximum token back to the minimum. Start equal to End covers the whole
// ring.
type TokenRange struct {
	Start Token
	End   Token
}

// Wraps reports whether the range crosses the end of the ring
func (r TokenRange) Wraps() bool {
	if r.Start.IsMin() || r.End.IsMin() {
		return false
	}
	return r.End.Compare(r.Start) <= 0
}

func (r TokenRange) String() string {
	start, end := "-inf", "+inf"
	if !r.Start.IsMin() {
		start = r.Start.String()
	}
	if !r.End.IsMin() {
		end = r.End.String()
	}
	return "[" + start + ", " + end + ")"
}

// RangeOwners pairs a token range with its owning replicas, in the
// preference order reported by the cluster.
type RangeOwners struct {
	Range TokenRange
	Nodes []Node
}
