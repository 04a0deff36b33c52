// Package loadbalance picks which discovered peer to dial.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity peers
//   - WeightedRandom:  heterogeneous peers (Peer.Weight)
//   - ConsistentHash:  key affinity, e.g. one peer per conversation
package loadbalance

import (
	"fmt"

	"netmodule/discovery"
)

// Balancer is the interface for load balancing strategies.
// The node calls Pick() before each dial.
type Balancer interface {
	// Pick selects one peer from the available list.
	// Must be goroutine-safe.
	Pick(peers []discovery.Peer) (*discovery.Peer, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, as used in configuration
// files: "round_robin" or "weighted_random".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
}
