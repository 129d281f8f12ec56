package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/multierr"
)

const (
	defaultDescribeTimeout = 5 * time.Second
	ringEndpoint           = "/cluster/ring"
	maxRingPayload         = 8 << 20
)

// RingDescriber reports the current ring of the cluster
type RingDescriber interface {
	DescribeRing(ctx context.Context) ([]RangeOwners, error)
}

// StaticDescriber always reports the same ring
type StaticDescriber struct {
	Ranges []RangeOwners
}

// DescribeRing implements RingDescriber
func (s *StaticDescriber) DescribeRing(ctx context.Context) ([]RangeOwners, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Ranges, nil
}

// SingleRangeRing returns a ring where nodes own every token
func SingleRangeRing(nodes ...Node) []RangeOwners {
	return []RangeOwners{{Range: TokenRange{}, Nodes: nodes}}
}

// RangeJSON is the wire form of one ring range
type RangeJSON struct {
	StartToken string   `json:"start_token"`
	EndToken   string   `json:"end_token"`
	Endpoints  []string `json:"endpoints"`
}

// ToRangeOwners decodes the wire form
func (r RangeJSON) ToRangeOwners() (RangeOwners, error) {
	start, err := ParseHexToken(r.StartToken)
	if err != nil {
		return RangeOwners{}, err
	}
	end, err := ParseHexToken(r.EndToken)
	if err != nil {
		return RangeOwners{}, err
	}

	nodes := make([]Node, 0, len(r.Endpoints))
	for _, ep := range r.Endpoints {
		node, err := ParseNode(ep)
		if err != nil {
			return RangeOwners{}, err
		}
		nodes = append(nodes, node)
	}
	return RangeOwners{Range: TokenRange{Start: start, End: end}, Nodes: nodes}, nil
}

// RangeOwnersToJSON encodes ranges in their wire form
func RangeOwnersToJSON(ranges []RangeOwners) []RangeJSON {
	out := make([]RangeJSON, 0, len(ranges))
	for _, ro := range ranges {
		endpoints := make([]string, len(ro.Nodes))
		for i, n := range ro.Nodes {
			endpoints[i] = n.String()
		}
		out = append(out, RangeJSON{
			StartToken: ro.Range.Start.String(),
			EndToken:   ro.Range.End.String(),
			Endpoints:  endpoints,
		})
	}
	return out
}

func decodeRanges(wire []RangeJSON) ([]RangeOwners, error) {
	ranges := make([]RangeOwners, 0, len(wire))
	for _, w := range wire {
		ro, err := w.ToRangeOwners()
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, ro)
	}
	return ranges, nil
}

// HTTPDescriber asks seed nodes for the ring over HTTP. Seeds are tried in
// order until one answers.
type HTTPDescriber struct {
	seeds  func() []Node
	client *http.Client
}

// NewHTTPDescriber creates an HTTPDescriber. seeds is called on every
// describe so the seed list can follow membership changes.
func NewHTTPDescriber(seeds func() []Node, client *http.Client) *HTTPDescriber {
	if client == nil {
		client = &http.Client{Timeout: defaultDescribeTimeout}
	}
	return &HTTPDescriber{seeds: seeds, client: client}
}

// DescribeRing implements RingDescriber
func (d *HTTPDescriber) DescribeRing(ctx context.Context) ([]RangeOwners, error) {
	seeds := d.seeds()
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed nodes to describe the ring")
	}

	var errs error
	for _, seed := range seeds {
		ranges, err := d.describeFrom(ctx, seed)
		if err == nil {
			return ranges, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("describe ring via %s: %w", seed, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}

func (d *HTTPDescriber) describeFrom(ctx context.Context, seed Node) ([]RangeOwners, error) {
	url := fmt.Sprintf("http://%s%s", seed, ringEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var wire []RangeJSON
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRingPayload)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode ring: %w", err)
	}
	return decodeRanges(wire)
}
