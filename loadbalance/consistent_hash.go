package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"netmodule/discovery"
)

// ConsistentHashBalancer maps keys to peers using a hash ring.
// The same key always maps to the same peer until the ring changes.
//
// Virtual nodes: each real peer is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 peers might cluster together on the ring,
// causing uneven load distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int                        // Virtual nodes per real peer
	ring     []uint32                   // Sorted hash values on the ring
	nodes    map[uint32]*discovery.Peer // Hash value → peer mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per peer.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*discovery.Peer),
	}
}

// Add places a peer onto the ring. Virtual nodes hash "{id}#{i}".
func (b *ConsistentHashBalancer) Add(peer discovery.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(peer)
	b.sort()
}

// Set replaces the ring with peers, e.g. after a discovery watch update.
func (b *ConsistentHashBalancer) Set(peers []discovery.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*discovery.Peer, len(peers)*b.replicas)
	for _, p := range peers {
		b.add(p)
	}
	b.sort()
}

func (b *ConsistentHashBalancer) add(peer discovery.Peer) {
	p := peer
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", p.ID, i)))
		if _, taken := b.nodes[hash]; !taken {
			b.ring = append(b.ring, hash)
		}
		b.nodes[hash] = &p
	}
}

// Keep the ring sorted for binary search in Pick()
func (b *ConsistentHashBalancer) sort() {
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick finds the peer responsible for key: the first virtual node clockwise
// from the key's hash, wrapping around past the largest.
//
// Note: Pick takes a key rather than a peer list, so consistent hashing does
// not implement Balancer directly.
func (b *ConsistentHashBalancer) Pick(key string) (*discovery.Peer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, discovery.ErrNoPeers
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
