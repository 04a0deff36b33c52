// Package config loads node settings from a TOML file layered over defaults.
// Only keys present in the file override the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Node       Node
	Connection Connection
	Send       Send
	Discovery  Discovery
	Log        Log
}

type Node struct {
	ID              string // empty: generated at startup
	Group           string
	Network         string // "tcp", "udp" or "ws"
	Listen          string
	Advertise       string // address published to discovery; defaults to the listener's
	WSPath          string
	Weight          int
	ShutdownTimeout time.Duration
}

type Connection struct {
	Mode              string // "send", "receive" or "both"
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReceiveCapacity   int
}

type Send struct {
	RateLimit  float64 // envelopes per second; 0 disables
	Burst      int
	Timeout    time.Duration // 0 disables
	Retries    int
	RetryDelay time.Duration
}

type Discovery struct {
	Backend     string // "none", "memory" or "etcd"
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
	TTL         int64 // lease seconds
	Balancer    string
}

type Log struct {
	Level       string
	Development bool
}

func Default() Config {
	return Config{
		Node: Node{
			Group:           "default",
			Network:         "tcp",
			Listen:          "127.0.0.1:7420",
			WSPath:          "/netmodule",
			Weight:          1,
			ShutdownTimeout: 5 * time.Second,
		},
		Connection: Connection{
			Mode:              "both",
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			ReceiveCapacity:   5 * 1024,
		},
		Send: Send{
			Burst:      1,
			Retries:    2,
			RetryDelay: 50 * time.Millisecond,
		},
		Discovery: Discovery{
			Backend:     "none",
			Endpoints:   []string{"localhost:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/netmodule",
			TTL:         10,
			Balancer:    "round_robin",
		},
		Log: Log{Level: "info"},
	}
}

type fileConfig struct {
	Node struct {
		ID              string `toml:"id"`
		Group           string `toml:"group"`
		Network         string `toml:"network"`
		Listen          string `toml:"listen"`
		Advertise       string `toml:"advertise"`
		WSPath          string `toml:"ws_path"`
		Weight          int    `toml:"weight"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
	} `toml:"node"`
	Connection struct {
		Mode              string `toml:"mode"`
		HeartbeatInterval string `toml:"heartbeat_interval"`
		HeartbeatTimeout  string `toml:"heartbeat_timeout"`
		ReceiveCapacity   int    `toml:"receive_capacity"`
	} `toml:"connection"`
	Send struct {
		RateLimit  float64 `toml:"rate_limit"`
		Burst      int     `toml:"burst"`
		Timeout    string  `toml:"timeout"`
		Retries    int     `toml:"retries"`
		RetryDelay string  `toml:"retry_delay"`
	} `toml:"send"`
	Discovery struct {
		Backend     string   `toml:"backend"`
		Endpoints   []string `toml:"endpoints"`
		DialTimeout string   `toml:"dial_timeout"`
		Prefix      string   `toml:"prefix"`
		TTL         int64    `toml:"ttl"`
		Balancer    string   `toml:"balancer"`
	} `toml:"discovery"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
	} `toml:"log"`
}

// Load reads path and overlays every defined key onto Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode is Load for an in-memory document.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	var err error
	duration := func(dst *time.Duration, section, key, value string) {
		if err != nil || !meta.IsDefined(section, key) {
			return
		}
		d, perr := time.ParseDuration(strings.TrimSpace(value))
		if perr != nil {
			err = fmt.Errorf("parse %s.%s: %w", section, key, perr)
			return
		}
		*dst = d
	}
	str := func(dst *string, section, key, value string) {
		if meta.IsDefined(section, key) {
			*dst = strings.TrimSpace(value)
		}
	}

	str(&cfg.Node.ID, "node", "id", raw.Node.ID)
	str(&cfg.Node.Group, "node", "group", raw.Node.Group)
	str(&cfg.Node.Network, "node", "network", raw.Node.Network)
	str(&cfg.Node.Listen, "node", "listen", raw.Node.Listen)
	str(&cfg.Node.Advertise, "node", "advertise", raw.Node.Advertise)
	str(&cfg.Node.WSPath, "node", "ws_path", raw.Node.WSPath)
	if meta.IsDefined("node", "weight") {
		cfg.Node.Weight = raw.Node.Weight
	}
	duration(&cfg.Node.ShutdownTimeout, "node", "shutdown_timeout", raw.Node.ShutdownTimeout)

	str(&cfg.Connection.Mode, "connection", "mode", raw.Connection.Mode)
	duration(&cfg.Connection.HeartbeatInterval, "connection", "heartbeat_interval", raw.Connection.HeartbeatInterval)
	duration(&cfg.Connection.HeartbeatTimeout, "connection", "heartbeat_timeout", raw.Connection.HeartbeatTimeout)
	if meta.IsDefined("connection", "receive_capacity") {
		cfg.Connection.ReceiveCapacity = raw.Connection.ReceiveCapacity
	}

	if meta.IsDefined("send", "rate_limit") {
		cfg.Send.RateLimit = raw.Send.RateLimit
	}
	if meta.IsDefined("send", "burst") {
		cfg.Send.Burst = raw.Send.Burst
	}
	duration(&cfg.Send.Timeout, "send", "timeout", raw.Send.Timeout)
	if meta.IsDefined("send", "retries") {
		cfg.Send.Retries = raw.Send.Retries
	}
	duration(&cfg.Send.RetryDelay, "send", "retry_delay", raw.Send.RetryDelay)

	str(&cfg.Discovery.Backend, "discovery", "backend", raw.Discovery.Backend)
	if meta.IsDefined("discovery", "endpoints") {
		cfg.Discovery.Endpoints = normalizeList(raw.Discovery.Endpoints)
	}
	duration(&cfg.Discovery.DialTimeout, "discovery", "dial_timeout", raw.Discovery.DialTimeout)
	str(&cfg.Discovery.Prefix, "discovery", "prefix", raw.Discovery.Prefix)
	if meta.IsDefined("discovery", "ttl") {
		cfg.Discovery.TTL = raw.Discovery.TTL
	}
	str(&cfg.Discovery.Balancer, "discovery", "balancer", raw.Discovery.Balancer)

	str(&cfg.Log.Level, "log", "level", raw.Log.Level)
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}

	return cfg, err
}

// Validate rejects settings no node can run with.
func (c Config) Validate() error {
	switch c.Node.Network {
	case "tcp", "udp", "ws":
	default:
		return fmt.Errorf("%w: node.network %q", ErrInvalid, c.Node.Network)
	}
	if c.Node.Listen == "" {
		return fmt.Errorf("%w: node.listen is empty", ErrInvalid)
	}
	if c.Node.Network == "ws" && !strings.HasPrefix(c.Node.WSPath, "/") {
		return fmt.Errorf("%w: node.ws_path %q must start with /", ErrInvalid, c.Node.WSPath)
	}
	switch c.Connection.Mode {
	case "send", "receive", "both":
	default:
		return fmt.Errorf("%w: connection.mode %q", ErrInvalid, c.Connection.Mode)
	}
	if c.Connection.HeartbeatInterval > 0 && c.Connection.HeartbeatTimeout > 0 &&
		c.Connection.HeartbeatTimeout <= c.Connection.HeartbeatInterval {
		return fmt.Errorf("%w: connection.heartbeat_timeout must exceed heartbeat_interval", ErrInvalid)
	}
	if c.Connection.ReceiveCapacity < 64 {
		return fmt.Errorf("%w: connection.receive_capacity %d", ErrInvalid, c.Connection.ReceiveCapacity)
	}
	if c.Send.RateLimit < 0 || (c.Send.RateLimit > 0 && c.Send.Burst < 1) {
		return fmt.Errorf("%w: send.rate_limit %v with burst %d", ErrInvalid, c.Send.RateLimit, c.Send.Burst)
	}
	if c.Send.Retries < 0 {
		return fmt.Errorf("%w: send.retries %d", ErrInvalid, c.Send.Retries)
	}
	switch c.Discovery.Backend {
	case "none", "memory":
	case "etcd":
		if len(c.Discovery.Endpoints) == 0 {
			return fmt.Errorf("%w: discovery.endpoints is empty", ErrInvalid)
		}
		if c.Discovery.TTL <= 0 {
			return fmt.Errorf("%w: discovery.ttl %d", ErrInvalid, c.Discovery.TTL)
		}
	default:
		return fmt.Errorf("%w: discovery.backend %q", ErrInvalid, c.Discovery.Backend)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
