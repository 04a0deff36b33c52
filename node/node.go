// Package node runs a peer: it accepts connections, dials other peers
// (directly or through discovery) and shuts everything down gracefully.
//
//	Serve:  Accept (TCP) / Upgrade (WebSocket) → transport.Conn → OnConn
//	Dial:   Discover → Balancer.Pick → transport.Conn
//	Shutdown: Deregister → close listener → close every conn (in parallel)
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netmodule/discovery"
	"netmodule/loadbalance"
	"netmodule/protocol"
	"netmodule/registry"
	"netmodule/transport"
)

var (
	ErrServing        = errors.New("node: already serving")
	ErrShutdown       = errors.New("node: shut down")
	ErrNoDiscovery    = errors.New("node: no discovery configured")
	ErrUnknownNetwork = errors.New("node: unknown network")
)

const DefaultWSPath = "/netmodule"

type Options struct {
	ID        string // generated when empty
	Group     string // discovery group this node registers under
	Network   string // "tcp" (default) or "ws"
	Advertise string // published address; defaults to the listener address
	WSPath    string
	Weight    int
	TTL       int64 // discovery lease, seconds

	Conn      transport.Options // applied to every accepted and dialed connection
	Discovery discovery.Discovery
	Balancer  loadbalance.Balancer

	// OnConn is called for every accepted connection, on its own goroutine.
	OnConn func(*transport.Conn)
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Group == "" {
		o.Group = "default"
	}
	if o.Network == "" {
		o.Network = "tcp"
	}
	if o.WSPath == "" {
		o.WSPath = DefaultWSPath
	}
	if o.TTL <= 0 {
		o.TTL = 10
	}
	if o.Balancer == nil {
		o.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Conn.Logger == nil {
		o.Conn.Logger = o.Logger
	}
	return o
}

// Node owns a listener and every connection it accepted or dialed.
type Node struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	conns      map[string]*transport.Conn
	listener   net.Listener
	httpServer *http.Server
	advertised string

	ring     *loadbalance.ConsistentHashBalancer
	upgrader websocket.Upgrader
	shutdown atomic.Bool
	wg       sync.WaitGroup // connection watchers
}

func New(opts Options) *Node {
	opts = opts.withDefaults()
	return &Node{
		opts:   opts,
		logger: opts.Logger.With(zap.String("node", opts.ID)),
		conns:  make(map[string]*transport.Conn),
		ring:   loadbalance.NewConsistentHashBalancer(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (n *Node) ID() string { return n.opts.ID }

// Peer describes this node as published to discovery.
func (n *Node) Peer() discovery.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return discovery.Peer{
		ID:      n.opts.ID,
		Addr:    n.advertised,
		Network: n.opts.Network,
		Weight:  n.opts.Weight,
		Version: protocol.VersionString,
	}
}

// ListenAndServe listens on address and calls Serve.
func (n *Node) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return n.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. With Network "ws" the
// listener serves HTTP and upgrades requests on WSPath. The node registers
// itself with discovery once the listener is in place.
func (n *Node) Serve(ln net.Listener) error {
	if n.opts.Network != "tcp" && n.opts.Network != "ws" {
		ln.Close()
		return fmt.Errorf("%w %q", ErrUnknownNetwork, n.opts.Network)
	}

	n.mu.Lock()
	if n.listener != nil {
		n.mu.Unlock()
		ln.Close()
		return ErrServing
	}
	if n.shutdown.Load() {
		n.mu.Unlock()
		ln.Close()
		return ErrShutdown
	}
	n.listener = ln
	n.advertised = n.opts.Advertise
	if n.advertised == "" {
		n.advertised = ln.Addr().String()
	}
	var srv *http.Server
	if n.opts.Network == "ws" {
		mux := http.NewServeMux()
		mux.Handle(n.opts.WSPath, n.WebSocketHandler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		n.httpServer = srv
	}
	n.mu.Unlock()

	if err := n.register(); err != nil {
		ln.Close()
		return err
	}
	n.logger.Info("serving",
		zap.String("network", n.opts.Network),
		zap.Stringer("listen", ln.Addr()),
		zap.String("advertise", n.advertised))

	if srv == nil {
		return n.acceptLoop(ln)
	}
	err := srv.Serve(ln)
	if n.shutdown.Load() {
		return nil
	}
	return err
}

func (n *Node) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// listener.Close() during Shutdown makes Accept fail
			if n.shutdown.Load() {
				return nil
			}
			return err
		}
		n.accept(transport.NewConn(conn, n.opts.Conn))
	}
}

// WebSocketHandler upgrades requests and serves each socket as a connection.
// It can be mounted on any mux; Serve mounts it on WSPath.
func (n *Node) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.shutdown.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		ws, err := n.upgrader.Upgrade(w, r, nil)
		if err != nil {
			n.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		n.accept(transport.NewConn(transport.NewWebSocketStream(ws), n.opts.Conn))
	})
}

func (n *Node) accept(c *transport.Conn) {
	if !n.track(c) {
		c.Close()
		return
	}
	n.logger.Debug("accepted", zap.String("conn", c.ID()), zap.Stringer("remote", c.RemoteAddr()))
	if n.opts.OnConn != nil {
		go n.opts.OnConn(c)
	}
}

// track keeps c until it closes. It reports false once the node shut down.
func (n *Node) track(c *transport.Conn) bool {
	n.mu.Lock()
	if n.shutdown.Load() {
		n.mu.Unlock()
		return false
	}
	n.conns[c.ID()] = c
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		<-c.Done()
		n.mu.Lock()
		delete(n.conns, c.ID())
		n.mu.Unlock()
	}()
	return true
}

// Dial connects to a peer at addr over network ("tcp", "ws" or "udp"). For
// "ws", addr is host:port and the node's WSPath is used unless addr is a
// full ws:// or wss:// URL.
func (n *Node) Dial(ctx context.Context, network, addr string) (*transport.Conn, error) {
	if n.shutdown.Load() {
		return nil, ErrShutdown
	}
	var c *transport.Conn
	switch network {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c = transport.NewConn(conn, n.opts.Conn)
	case "ws":
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, n.wsURL(addr), nil)
		if err != nil {
			return nil, err
		}
		c = transport.NewConn(transport.NewWebSocketStream(ws), n.opts.Conn)
	case "udp":
		return n.DialPacket(ctx, ":0", addr)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownNetwork, network)
	}
	if !n.track(c) {
		c.Close()
		return nil, ErrShutdown
	}
	n.logger.Debug("dialed", zap.String("conn", c.ID()), zap.String("network", network), zap.String("addr", addr))
	return c, nil
}

func (n *Node) wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + n.opts.WSPath
}

// DialPacket binds local and exchanges datagrams with remote.
func (n *Node) DialPacket(ctx context.Context, local, remote string) (*transport.Conn, error) {
	if n.shutdown.Load() {
		return nil, ErrShutdown
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", local)
	if err != nil {
		return nil, err
	}
	c := transport.NewPacketConn(pc, raddr, n.opts.Conn)
	if !n.track(c) {
		c.Close()
		return nil, ErrShutdown
	}
	return c, nil
}

// DialPeer discovers the node's group and dials the peer the balancer picks.
// The node itself is never picked.
func (n *Node) DialPeer(ctx context.Context) (*transport.Conn, error) {
	peers, err := n.Peers(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := n.opts.Balancer.Pick(peers)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("picked peer", zap.String("peer", peer.ID), zap.String("balancer", n.opts.Balancer.Name()))
	return n.Dial(ctx, peer.Network, peer.Addr)
}

// DialKey dials the peer owning key on the consistent-hash ring, so the same
// key reaches the same peer while membership is stable. The ring is kept
// current by Follow; without it each call refreshes the ring from discovery.
func (n *Node) DialKey(ctx context.Context, key string) (*transport.Conn, error) {
	peer, err := n.ring.Pick(key)
	if errors.Is(err, discovery.ErrNoPeers) {
		var peers []discovery.Peer
		if peers, err = n.Peers(ctx); err != nil {
			return nil, err
		}
		n.ring.Set(peers)
		peer, err = n.ring.Pick(key)
	}
	if err != nil {
		return nil, err
	}
	return n.Dial(ctx, peer.Network, peer.Addr)
}

// Peers returns the other members of the node's group.
func (n *Node) Peers(ctx context.Context) ([]discovery.Peer, error) {
	if n.opts.Discovery == nil {
		return nil, ErrNoDiscovery
	}
	all, err := n.opts.Discovery.Discover(ctx, n.opts.Group)
	if err != nil {
		return nil, err
	}
	peers := make([]discovery.Peer, 0, len(all))
	for _, p := range all {
		if p.ID != n.opts.ID {
			peers = append(peers, p)
		}
	}
	if len(peers) == 0 {
		return nil, discovery.ErrNoPeers
	}
	return peers, nil
}

// Follow keeps the hash ring in step with group membership until ctx is done.
func (n *Node) Follow(ctx context.Context) error {
	if n.opts.Discovery == nil {
		return ErrNoDiscovery
	}
	for all := range n.opts.Discovery.Watch(ctx, n.opts.Group) {
		peers := make([]discovery.Peer, 0, len(all))
		for _, p := range all {
			if p.ID != n.opts.ID {
				peers = append(peers, p)
			}
		}
		n.ring.Set(peers)
		n.logger.Debug("membership changed", zap.Int("peers", len(peers)))
	}
	return ctx.Err()
}

// Conns returns the live connections.
func (n *Node) Conns() []*transport.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*transport.Conn, 0, len(n.conns))
	for _, c := range n.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg on every live sendable connection and joins the
// failures.
func (n *Node) Broadcast(ctx context.Context, msg registry.Serializable) error {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var errs []error
	for _, c := range n.Conns() {
		if c.Mode()&transport.ModeSend == 0 {
			continue
		}
		c := c
		g.Go(func() error {
			if err := c.Send(ctx, msg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("conn %s: %w", c.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (n *Node) register() error {
	if n.opts.Discovery == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.opts.Discovery.Register(ctx, n.opts.Group, n.Peer(), n.opts.TTL); err != nil {
		return fmt.Errorf("node: register: %w", err)
	}
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery, so peers stop dialing this node
//  2. Set the shutdown flag, then close the listener
//  3. Close every connection in parallel, bounded by timeout
func (n *Node) Shutdown(timeout time.Duration) error {
	if n.shutdown.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	n.mu.Lock()
	ln, srv, serving := n.listener, n.httpServer, n.listener != nil
	n.mu.Unlock()

	if serving && n.opts.Discovery != nil {
		if err := n.opts.Discovery.Deregister(ctx, n.opts.Group, n.opts.ID); err != nil {
			errs = append(errs, fmt.Errorf("node: deregister: %w", err))
		}
	}
	if srv != nil {
		// Hijacked WebSocket connections are not tracked by the HTTP server.
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	var g errgroup.Group
	for _, c := range n.Conns() {
		g.Go(c.Close)
	}
	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		n.wg.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("node: timeout waiting for connections to close"))
	}
	n.logger.Info("shut down")
	return errors.Join(errs...)
}
