package config

import (
	"fmt"
	"os"

	"github.com/danmuck/apdurelay/internal/service"
	"github.com/pelletier/go-toml/v2"
)

// Template renders the default relay config as TOML.
func Template() (string, error) {
	data, err := toml.Marshal(toFile(service.DefaultServiceConfig()))
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg service.ServiceConfig) fileConfig {
	origins := cfg.Admin.CorsOrigins
	if origins == nil {
		origins = []string{}
	}
	return fileConfig{
		Name:              cfg.Name,
		Capacity:          cfg.Relay.Capacity,
		CompletionTimeout: cfg.Relay.CompletionTimeout.String(),
		Peer: peerFile{
			Kind:   string(cfg.Peer.Kind),
			Device: cfg.Peer.Device,
			Baud:   cfg.Peer.Baud,
			Addr:   cfg.Peer.Addr,
		},
		Chip: chipFile{
			Kind:     string(cfg.Chip.Kind),
			Device:   cfg.Chip.Device,
			SelfTest: cfg.Chip.SelfTest,
		},
		Admin: adminFile{
			Addr:        cfg.Admin.Addr,
			CorsOrigins: origins,
			Token:       cfg.Admin.Token,
		},
	}
}
