package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/apdurelay/internal/protocol/frame"
	"github.com/danmuck/apdurelay/internal/service"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
name = "bench.relay"
completion_timeout = "750ms"

[peer]
kind = "TCP"
addr = "127.0.0.1:7301"

[admin]
addr = "127.0.0.1:7400"
cors_origins = [" http://localhost:3000 ", ""]
token = " s3cret "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "bench.relay" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Relay.Capacity != frame.DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", cfg.Relay.Capacity)
	}
	if cfg.Relay.CompletionTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected completion timeout: %v", cfg.Relay.CompletionTimeout)
	}
	if cfg.Peer.Kind != service.PeerTCP || cfg.Peer.Addr != "127.0.0.1:7301" {
		t.Fatalf("unexpected peer: %+v", cfg.Peer)
	}
	if cfg.Chip.Kind != service.ChipLoopback || !cfg.Chip.SelfTest {
		t.Fatalf("expected default chip, got %+v", cfg.Chip)
	}
	if cfg.Admin.Addr != "127.0.0.1:7400" {
		t.Fatalf("unexpected admin addr: %q", cfg.Admin.Addr)
	}
	if len(cfg.Admin.CorsOrigins) != 1 || cfg.Admin.CorsOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.Admin.CorsOrigins)
	}
	if cfg.Admin.Token != "s3cret" {
		t.Fatalf("unexpected admin token: %q", cfg.Admin.Token)
	}
}

func TestLoadTPMChip(t *testing.T) {
	path := writeConfig(t, `
capacity = 4096

[chip]
kind = "tpm"
device = "/dev/tpmrm0"
self_test = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Relay.Capacity != 4096 {
		t.Fatalf("unexpected capacity: %d", cfg.Relay.Capacity)
	}
	if cfg.Chip.Kind != service.ChipTPM || cfg.Chip.SelfTest {
		t.Fatalf("unexpected chip: %+v", cfg.Chip)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "capacity", body: "capacity = 3\n", want: "capacity"},
		{name: "timeout", body: "completion_timeout = \"soon\"\n", want: "completion_timeout"},
		{name: "negative timeout", body: "completion_timeout = \"-1s\"\n", want: "negative"},
		{name: "peer kind", body: "[peer]\nkind = \"usb\"\n", want: "unknown peer kind"},
		{name: "tcp addr", body: "[peer]\nkind = \"tcp\"\naddr = \"\"\n", want: "peer addr"},
		{name: "chip kind", body: "[chip]\nkind = \"hsm\"\n", want: "unknown chip kind"},
		{name: "token without admin", body: "[admin]\ntoken = \"x\"\n", want: "admin token"},
		{name: "unknown key", body: "speed = 9\n", want: "unknown key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateUnknownKindsAreTyped(t *testing.T) {
	cfg := service.DefaultServiceConfig()
	cfg.Chip.Kind = "hsm"
	if err := Validate(cfg); !errors.Is(err, service.ErrUnknownChipKind) {
		t.Fatalf("expected ErrUnknownChipKind, got %v", err)
	}
	cfg = service.DefaultServiceConfig()
	cfg.Relay.Capacity = frame.MaxCapacity + 1
	if err := Validate(cfg); !errors.Is(err, frame.ErrCapacityTooLarge) {
		t.Fatalf("expected ErrCapacityTooLarge, got %v", err)
	}
}

func TestTemplateRoundTripsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := service.DefaultServiceConfig()
	if cfg.Name != def.Name || cfg.Relay != def.Relay || cfg.Peer != def.Peer || cfg.Chip != def.Chip {
		t.Fatalf("template does not match defaults: %+v", cfg)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file error")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}
}
