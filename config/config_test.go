package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	doc := `
[node]
id = " peer-1 "
network = "ws"
listen = "0.0.0.0:9000"

[connection]
heartbeat_interval = "2s"
heartbeat_timeout = "7s"

[send]
rate_limit = 100.0
burst = 10
timeout = "250ms"

[discovery]
backend = "etcd"
endpoints = ["a:2379", " ", "b:2379"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.Node.ID != "peer-1" || cfg.Node.Network != "ws" || cfg.Node.Listen != "0.0.0.0:9000" {
		t.Fatalf("node = %+v", cfg.Node)
	}
	if cfg.Node.Group != def.Node.Group || cfg.Node.WSPath != def.Node.WSPath {
		t.Fatalf("undefined node keys changed: %+v", cfg.Node)
	}
	if cfg.Connection.HeartbeatInterval != 2*time.Second || cfg.Connection.HeartbeatTimeout != 7*time.Second {
		t.Fatalf("connection = %+v", cfg.Connection)
	}
	if cfg.Connection.ReceiveCapacity != def.Connection.ReceiveCapacity {
		t.Fatalf("receive_capacity changed to %d", cfg.Connection.ReceiveCapacity)
	}
	if cfg.Send.RateLimit != 100 || cfg.Send.Burst != 10 || cfg.Send.Timeout != 250*time.Millisecond {
		t.Fatalf("send = %+v", cfg.Send)
	}
	if cfg.Send.Retries != def.Send.Retries {
		t.Fatalf("retries changed to %d", cfg.Send.Retries)
	}
	if len(cfg.Discovery.Endpoints) != 2 || cfg.Discovery.Endpoints[1] != "b:2379" {
		t.Fatalf("endpoints = %q", cfg.Discovery.Endpoints)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"bad duration": "[connection]\nheartbeat_interval = \"soon\"",
		"bad network":  "[node]\nnetwork = \"carrier-pigeon\"",
		"bad mode":     "[connection]\nmode = \"sideways\"",
		"timeout":      "[connection]\nheartbeat_interval = \"5s\"\nheartbeat_timeout = \"1s\"",
		"backend":      "[discovery]\nbackend = \"zookeeper\"",
		"no endpoints": "[discovery]\nbackend = \"etcd\"\nendpoints = []",
		"syntax":       "[node\n",
	}
	for name, doc := range cases {
		if _, err := Decode(doc); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if _, err := Decode("[node]\nnetwork = \"x\""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
