package loadbalance

import (
	"math/rand"

	"netmodule/discovery"
)

// WeightedRandomBalancer picks a peer with probability proportional to its
// Weight. Peers with a non-positive weight are never picked unless every peer
// has one, in which case the pick is uniform.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(peers []discovery.Peer) (*discovery.Peer, error) {
	if len(peers) == 0 {
		return nil, discovery.ErrNoPeers
	}

	// 计算总权重
	totalWeight := 0
	for _, p := range peers {
		if p.Weight > 0 {
			totalWeight += p.Weight
		}
	}
	if totalWeight == 0 {
		return &peers[rand.Intn(len(peers))], nil
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.Intn(totalWeight)
	for i := range peers {
		if peers[i].Weight <= 0 {
			continue
		}
		r -= peers[i].Weight
		if r < 0 {
			return &peers[i], nil
		}
	}
	return &peers[len(peers)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
