// Package discovery lets peers find each other by group name.
package discovery

import (
	"context"
	"errors"
)

var ErrNoPeers = errors.New("discovery: no peers")

// Peer is one reachable node.
type Peer struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"`
	Network string `json:"network"` // "tcp", "udp" or "ws"
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version"`
}

type Discovery interface {
	Register(ctx context.Context, group string, peer Peer, ttl int64) error
	Deregister(ctx context.Context, group string, id string) error
	Discover(ctx context.Context, group string) ([]Peer, error)
	// Watch emits the full peer list after every change until ctx is done.
	Watch(ctx context.Context, group string) <-chan []Peer
}
