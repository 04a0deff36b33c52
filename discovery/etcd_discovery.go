package discovery

// etcd is used as a "distributed phonebook" for peers:
//
//	Key:   {Prefix}/{group}/{peer ID}
//	Value: JSON-encoded Peer
//
// Registration uses TTL-based leases: if a node crashes, the lease expires
// and the entry is removed automatically, so no "ghost" peers remain.

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/netmodule"

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string // defaults to DefaultPrefix
	Logger      *zap.Logger
}

// EtcdDiscovery implements Discovery on etcd v3.
type EtcdDiscovery struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	logger *zap.Logger
}

// NewEtcdDiscovery connects to the given etcd endpoints.
func NewEtcdDiscovery(cfg EtcdConfig) (*EtcdDiscovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      cfg.Logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDiscovery{client: c, prefix: cfg.Prefix, logger: cfg.Logger}, nil
}

func (d *EtcdDiscovery) key(group, id string) string {
	return d.groupPrefix(group) + id
}

func (d *EtcdDiscovery) groupPrefix(group string) string {
	return d.prefix + "/" + group + "/"
}

// Register stores peer under a lease of ttl seconds and keeps the lease alive
// until the client closes.
//
// Note: leaseID is a local variable, NOT stored on the struct, so several
// nodes may share one EtcdDiscovery.
func (d *EtcdDiscovery) Register(ctx context.Context, group string, peer Peer, ttl int64) error {
	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(peer)
	if err != nil {
		return err
	}

	if _, err := d.client.Put(ctx, d.key(group, peer.ID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive must outlive the caller's ctx; it ends with the client.
	ch, err := d.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		d.logger.Debug("lease keepalive stopped", zap.String("group", group), zap.String("peer", peer.ID))
	}()
	return nil
}

// Deregister removes a peer. Called during graceful shutdown before closing
// the listener.
func (d *EtcdDiscovery) Deregister(ctx context.Context, group string, id string) error {
	_, err := d.client.Delete(ctx, d.key(group, id))
	return err
}

// Discover returns all currently registered peers of group.
func (d *EtcdDiscovery) Discover(ctx context.Context, group string) ([]Peer, error) {
	resp, err := d.client.Get(ctx, d.groupPrefix(group), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	peers := make([]Peer, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var p Peer
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			d.logger.Warn("skipping malformed peer entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// Watch re-fetches the full peer list on every change under the group prefix
// (registrations, deregistrations, lease expirations).
func (d *EtcdDiscovery) Watch(ctx context.Context, group string) <-chan []Peer {
	ch := make(chan []Peer, 1)

	go func() {
		defer close(ch)
		watchChan := d.client.Watch(ctx, d.groupPrefix(group), clientv3.WithPrefix())
		for range watchChan {
			peers, err := d.Discover(ctx, group)
			if err != nil {
				d.logger.Warn("discover after watch event failed", zap.String("group", group), zap.Error(err))
				continue
			}
			select {
			case ch <- peers:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client, which also stops every lease keepalive.
func (d *EtcdDiscovery) Close() error {
	return d.client.Close()
}
