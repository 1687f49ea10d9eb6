package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/apdurelay/internal/protocol/frame"
	"github.com/danmuck/apdurelay/internal/service"
)

type fileConfig struct {
	Name              string    `toml:"name"`
	Capacity          int       `toml:"capacity"`
	CompletionTimeout string    `toml:"completion_timeout"`
	Peer              peerFile  `toml:"peer"`
	Chip              chipFile  `toml:"chip"`
	Admin             adminFile `toml:"admin"`
}

type peerFile struct {
	Kind   string `toml:"kind"`
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
	Addr   string `toml:"addr"`
}

type chipFile struct {
	Kind     string `toml:"kind"`
	Device   string `toml:"device"`
	SelfTest bool   `toml:"self_test"`
}

type adminFile struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Load reads a relay config file. Keys absent from the file keep their
// defaults.
func Load(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.ServiceConfig{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("capacity") {
		cfg.Relay.Capacity = raw.Capacity
	}
	if meta.IsDefined("completion_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CompletionTimeout))
		if err != nil {
			return service.ServiceConfig{}, fmt.Errorf("parse completion_timeout: %w", err)
		}
		cfg.Relay.CompletionTimeout = d
	}

	if meta.IsDefined("peer", "kind") {
		cfg.Peer.Kind = service.PeerKind(strings.ToLower(strings.TrimSpace(raw.Peer.Kind)))
	}
	if meta.IsDefined("peer", "device") {
		cfg.Peer.Device = strings.TrimSpace(raw.Peer.Device)
	}
	if meta.IsDefined("peer", "baud") {
		cfg.Peer.Baud = raw.Peer.Baud
	}
	if meta.IsDefined("peer", "addr") {
		cfg.Peer.Addr = strings.TrimSpace(raw.Peer.Addr)
	}

	if meta.IsDefined("chip", "kind") {
		cfg.Chip.Kind = service.ChipKind(strings.ToLower(strings.TrimSpace(raw.Chip.Kind)))
	}
	if meta.IsDefined("chip", "device") {
		cfg.Chip.Device = strings.TrimSpace(raw.Chip.Device)
	}
	if meta.IsDefined("chip", "self_test") {
		cfg.Chip.SelfTest = raw.Chip.SelfTest
	}

	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}

	if err := Validate(cfg); err != nil {
		return service.ServiceConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg service.ServiceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := frame.CheckCapacity(cfg.Relay.Capacity); err != nil {
		return fmt.Errorf("capacity: %w", err)
	}
	if cfg.Relay.CompletionTimeout < 0 {
		return fmt.Errorf("completion_timeout must not be negative")
	}
	switch cfg.Peer.Kind {
	case service.PeerSerial:
		if strings.TrimSpace(cfg.Peer.Device) == "" {
			return fmt.Errorf("peer device required for serial peer")
		}
		if cfg.Peer.Baud < 0 {
			return fmt.Errorf("peer baud must not be negative")
		}
	case service.PeerTCP:
		if strings.TrimSpace(cfg.Peer.Addr) == "" {
			return fmt.Errorf("peer addr required for tcp peer")
		}
	default:
		return fmt.Errorf("%w: %q", service.ErrUnknownPeerKind, cfg.Peer.Kind)
	}
	if strings.TrimSpace(cfg.Admin.Token) != "" && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("admin token set without admin addr")
	}
	switch cfg.Chip.Kind {
	case service.ChipLoopback:
	case service.ChipTPM:
		if strings.TrimSpace(cfg.Chip.Device) == "" {
			return fmt.Errorf("chip device required for tpm chip")
		}
	default:
		return fmt.Errorf("%w: %q", service.ErrUnknownChipKind, cfg.Chip.Kind)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
