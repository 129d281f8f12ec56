package cluster

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is used when a node address omits the port
const DefaultPort = 9160

// Node identifies one cluster endpoint. It is a comparable value and is used
// as a map key throughout the pool.
type Node struct {
	// Host is the hostname or IP of the node
	Host string `json:"host"`
	// Port is the service port of the node
	Port int `json:"port"`
}

// NewNode creates a Node from a host and port
func NewNode(host string, port int) Node {
	return Node{Host: host, Port: port}
}

// String returns the node address in host:port form
func (n Node) String() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// ParseNode parses a host[:port] address into a Node
func ParseNode(addr string) (Node, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Node{}, fmt.Errorf("node address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given, use the default one
		if strings.Contains(err.Error(), "missing port") {
			return Node{Host: addr, Port: DefaultPort}, nil
		}
		return Node{}, fmt.Errorf("invalid node address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("invalid port in node address %q", addr)
	}
	if host == "" {
		return Node{}, fmt.Errorf("invalid node address %q: empty host", addr)
	}

	return Node{Host: host, Port: port}, nil
}

// ParseNodes parses a comma-separated list of addresses
func ParseNodes(list string) ([]Node, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}

	parts := strings.Split(list, ",")
	nodes := make([]Node, 0, len(parts))
	seen := make(map[Node]bool)
	for _, part := range parts {
		node, err := ParseNode(part)
		if err != nil {
			return nil, err
		}
		if seen[node] {
			continue
		}
		seen[node] = true
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// SortNodes sorts nodes by host and then port, in place
func SortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Host != nodes[j].Host {
			return nodes[i].Host < nodes[j].Host
		}
		return nodes[i].Port < nodes[j].Port
	})
}
