package node

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"netmodule/config"
	"netmodule/discovery"
	"netmodule/loadbalance"
	"netmodule/middleware"
	"netmodule/transport"
)

// FromConfig turns file configuration into node options. The returned close
// function releases the discovery backend and must be called after Shutdown.
func FromConfig(cfg config.Config, logger *zap.Logger) (Options, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }

	conn, err := ConnOptions(cfg, logger)
	if err != nil {
		return Options{}, noop, err
	}
	bal, err := loadbalance.New(cfg.Discovery.Balancer)
	if err != nil {
		return Options{}, noop, err
	}

	opts := Options{
		ID:        cfg.Node.ID,
		Group:     cfg.Node.Group,
		Network:   cfg.Node.Network,
		Advertise: cfg.Node.Advertise,
		WSPath:    cfg.Node.WSPath,
		Weight:    cfg.Node.Weight,
		TTL:       cfg.Discovery.TTL,
		Conn:      conn,
		Balancer:  bal,
		Logger:    logger,
	}

	closeFn := noop
	switch cfg.Discovery.Backend {
	case "none":
	case "memory":
		opts.Discovery = discovery.NewMemory()
	case "etcd":
		d, err := discovery.NewEtcdDiscovery(discovery.EtcdConfig{
			Endpoints:   cfg.Discovery.Endpoints,
			DialTimeout: cfg.Discovery.DialTimeout,
			Prefix:      cfg.Discovery.Prefix,
			Logger:      logger,
		})
		if err != nil {
			return Options{}, noop, fmt.Errorf("node: connect etcd: %w", err)
		}
		opts.Discovery = d
		closeFn = d.Close
	default:
		return Options{}, noop, fmt.Errorf("node: unknown discovery backend %q", cfg.Discovery.Backend)
	}
	return opts, closeFn, nil
}

// ConnOptions builds per-connection options, including the send middleware
// chain: logging, then rate limit, retry and timeout when configured.
func ConnOptions(cfg config.Config, logger *zap.Logger) (transport.Options, error) {
	mode, err := parseMode(cfg.Connection.Mode)
	if err != nil {
		return transport.Options{}, err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.Send.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Send.RateLimit, cfg.Send.Burst))
	}
	if cfg.Send.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Send.Retries, cfg.Send.RetryDelay, logger))
	}
	if cfg.Send.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Send.Timeout))
	}

	return transport.Options{
		Mode:              mode,
		HeartbeatInterval: orDisabled(cfg.Connection.HeartbeatInterval),
		HeartbeatTimeout:  orDisabled(cfg.Connection.HeartbeatTimeout),
		ReceiveCapacity:   cfg.Connection.ReceiveCapacity,
		Middlewares:       mws,
		Logger:            logger,
	}, nil
}

func parseMode(s string) (transport.Mode, error) {
	switch s {
	case "send":
		return transport.ModeSend, nil
	case "receive":
		return transport.ModeReceive, nil
	case "", "both":
		return transport.ModeBoth, nil
	}
	return 0, fmt.Errorf("node: unknown connection mode %q", s)
}

// A zero duration in a file means "off", not "default".
func orDisabled(d time.Duration) time.Duration {
	if d <= 0 {
		return transport.NoHeartbeat
	}
	return d
}
