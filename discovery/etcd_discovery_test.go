package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// newEtcd connects to a local etcd or skips the test.
func newEtcd(t *testing.T) *EtcdDiscovery {
	t.Helper()
	d, err := NewEtcdDiscovery(EtcdConfig{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: time.Second,
		Prefix:      "/netmodule-test-" + uuid.NewString(),
		Logger:      zap.NewNop(), // keepalive goroutines log after the test returns
	})
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.client.Get(ctx, "health"); err != nil {
		d.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRegisterAndDiscover(t *testing.T) {
	d := newEtcd(t)
	ctx := context.Background()

	// Register two peers
	p1 := Peer{ID: "a", Addr: "127.0.0.1:8001", Network: "tcp", Weight: 10, Version: "1.0"}
	p2 := Peer{ID: "b", Addr: "127.0.0.1:8002", Network: "tcp", Weight: 5, Version: "1.0"}
	if err := d.Register(ctx, "chat", p1, 10); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(ctx, "chat", p2, 10); err != nil {
		t.Fatal(err)
	}

	peers, err := d.Discover(ctx, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 2 {
		t.Fatalf("expect 2 peers, got %d", len(peers))
	}

	// Deregister one
	if err := d.Deregister(ctx, "chat", p1.ID); err != nil {
		t.Fatal(err)
	}
	peers, err = d.Discover(ctx, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0] != p2 {
		t.Fatalf("expect only %v after deregister, got %v", p2, peers)
	}

	d.Deregister(ctx, "chat", p2.ID)
}

func TestEtcdWatch(t *testing.T) {
	d := newEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := d.Watch(ctx, "chat")
	time.Sleep(100 * time.Millisecond) // let the watch attach

	p := Peer{ID: "w", Addr: "127.0.0.1:9000", Network: "tcp", Weight: 1}
	if err := d.Register(context.Background(), "chat", p, 10); err != nil {
		t.Fatal(err)
	}
	select {
	case peers := <-updates:
		if len(peers) != 1 || peers[0].ID != "w" {
			t.Fatalf("unexpected watch update %v", peers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	updates := m.Watch(ctx, "chat")
	m.Register(ctx, "chat", Peer{ID: "b", Addr: "b:1"}, 0)
	m.Register(ctx, "chat", Peer{ID: "a", Addr: "a:1"}, 0)
	m.Register(ctx, "other", Peer{ID: "x", Addr: "x:1"}, 0)

	peers, _ := m.Discover(ctx, "chat")
	if len(peers) != 2 || peers[0].ID != "a" || peers[1].ID != "b" {
		t.Fatalf("Discover = %v", peers)
	}

	// Only the latest list is kept for a slow watcher.
	if latest := <-updates; len(latest) != 2 {
		t.Fatalf("watch update = %v", latest)
	}
	m.Deregister(ctx, "chat", "a")
	if latest := <-updates; len(latest) != 1 || latest[0].ID != "b" {
		t.Fatalf("watch update after deregister = %v", latest)
	}

	cancel()
	for range updates {
	}
}
