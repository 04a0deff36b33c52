// Command netpeer runs one messaging node. It serves the configured listener,
// optionally connects to another peer, sends text as String messages and
// logs everything it receives.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"netmodule/config"
	"netmodule/logging"
	"netmodule/message"
	"netmodule/node"
	"netmodule/registry"
	"netmodule/transport"
)

func main() {
	fs := flag.NewFlagSet("netpeer", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file (defaults apply when empty)")
	listen := fs.String("listen", "", "override [node].listen")
	dial := fs.String("dial", "", "peer address to connect to")
	network := fs.String("network", "", "network for -dial; defaults to [node].network")
	viaDiscovery := fs.Bool("discover", false, "connect to a peer picked from discovery")
	key := fs.String("key", "", "connect to the peer owning this key on the hash ring")
	send := fs.String("send", "", "text to send once connected")
	stdin := fs.Bool("stdin", false, "send every stdin line once connected")
	_ = fs.Parse(os.Args[1:])

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "netpeer: %v\n", err)
			os.Exit(2)
		}
	}
	if *listen != "" {
		cfg.Node.Listen = *listen
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netpeer: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger, options{
		dial:         *dial,
		network:      *network,
		viaDiscovery: *viaDiscovery,
		key:          *key,
		send:         *send,
		stdin:        *stdin,
	}); err != nil {
		logger.Error("netpeer failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	dial, network, key, send string
	viaDiscovery, stdin      bool
}

func run(cfg config.Config, logger *zap.Logger, o options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, closeDiscovery, err := node.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDiscovery()
	opts.OnConn = func(c *transport.Conn) { consume(ctx, c, logger) }
	n := node.New(opts)

	served := make(chan error, 1)
	if cfg.Node.Network == "udp" {
		// A datagram node has no listener; it pairs with one remote.
		if o.dial == "" {
			return fmt.Errorf("network udp needs -dial")
		}
		close(served)
	} else {
		go func() { served <- n.ListenAndServe(cfg.Node.Listen) }()
		if opts.Discovery != nil {
			go n.Follow(ctx)
		}
	}

	conn, err := connect(ctx, n, cfg, o)
	if err != nil {
		n.Shutdown(cfg.Node.ShutdownTimeout)
		return err
	}
	if conn != nil {
		go consume(ctx, conn, logger)
		if err := outgoing(ctx, conn, o); err != nil {
			logger.Warn("send failed", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
	case err := <-served:
		if err != nil {
			n.Shutdown(cfg.Node.ShutdownTimeout)
			return err
		}
		if conn != nil {
			select {
			case <-ctx.Done():
			case <-conn.Done():
			}
		}
	}
	logger.Info("shutting down")
	return n.Shutdown(cfg.Node.ShutdownTimeout)
}

func connect(ctx context.Context, n *node.Node, cfg config.Config, o options) (*transport.Conn, error) {
	network := o.network
	if network == "" {
		network = cfg.Node.Network
	}
	switch {
	case network == "udp" && o.dial != "":
		return n.DialPacket(ctx, cfg.Node.Listen, o.dial)
	case o.dial != "":
		return n.Dial(ctx, network, o.dial)
	case o.key != "":
		return n.DialKey(ctx, o.key)
	case o.viaDiscovery:
		return n.DialPeer(ctx)
	}
	return nil, nil
}

func outgoing(ctx context.Context, c *transport.Conn, o options) error {
	if o.send != "" {
		if err := c.Send(ctx, message.NewString(o.send)); err != nil {
			return err
		}
	}
	if !o.stdin {
		return nil
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := c.Send(ctx, message.NewString(sc.Text())); err != nil {
			return err
		}
	}
	return sc.Err()
}

// consume logs every message c receives until either side is done.
func consume(ctx context.Context, c *transport.Conn, logger *zap.Logger) {
	if c.Mode()&transport.ModeReceive == 0 {
		return
	}
	logger = logger.With(zap.String("conn", c.ID()), zap.Stringer("remote", c.RemoteAddr()))
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
		}
		msgs, err := c.ReceiveAll()
		if err != nil {
			logger.Warn("receive failed", zap.Error(err))
			return
		}
		for _, m := range msgs {
			if message.IsNone(m) {
				continue
			}
			logger.Info("received", zap.Stringer("type", m.Type()), zap.String("value", describe(m)))
		}
	}
}

func describe(m registry.Serializable) string {
	switch v := m.(type) {
	case *message.String:
		return v.String()
	case *message.Int32:
		return fmt.Sprint(v.Int())
	case *message.Float32:
		return fmt.Sprint(v.Float())
	case *message.Float64:
		return fmt.Sprint(v.Float())
	}
	return fmt.Sprintf("%d payload bytes", m.InfoLength())
}
