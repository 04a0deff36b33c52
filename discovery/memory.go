package discovery

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Discovery. TTLs are ignored.
type Memory struct {
	mu       sync.Mutex
	groups   map[string]map[string]Peer
	watchers map[string][]chan []Peer
}

func NewMemory() *Memory {
	return &Memory{
		groups:   make(map[string]map[string]Peer),
		watchers: make(map[string][]chan []Peer),
	}
}

func (m *Memory) Register(ctx context.Context, group string, peer Peer, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups[group] == nil {
		m.groups[group] = make(map[string]Peer)
	}
	m.groups[group][peer.ID] = peer
	m.notify(group)
	return nil
}

func (m *Memory) Deregister(ctx context.Context, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups[group], id)
	m.notify(group)
	return nil
}

func (m *Memory) Discover(ctx context.Context, group string) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(group), nil
}

func (m *Memory) Watch(ctx context.Context, group string) <-chan []Peer {
	ch := make(chan []Peer, 1)
	m.mu.Lock()
	m.watchers[group] = append(m.watchers[group], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		ws := m.watchers[group]
		for i, w := range ws {
			if w == ch {
				m.watchers[group] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list returns the peers of group ordered by ID. Callers hold m.mu.
func (m *Memory) list(group string) []Peer {
	peers := make([]Peer, 0, len(m.groups[group]))
	for _, p := range m.groups[group] {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// notify replaces any unread update with the latest list. Callers hold m.mu.
func (m *Memory) notify(group string) {
	peers := m.list(group)
	for _, ch := range m.watchers[group] {
		select {
		case <-ch:
		default:
		}
		ch <- peers
	}
}
