package loadbalance

import (
	"sync/atomic"

	"netmodule/discovery"
)

// RoundRobinBalancer cycles through peers in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // incremented on each Pick()
}

func (b *RoundRobinBalancer) Pick(peers []discovery.Peer) (*discovery.Peer, error) {
	if len(peers) == 0 {
		return nil, discovery.ErrNoPeers
	}
	index := (b.counter.Add(1) - 1) % uint64(len(peers))
	return &peers[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
