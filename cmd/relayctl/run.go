package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/apdurelay/internal/config"
	"github.com/danmuck/apdurelay/internal/observability"
	"github.com/danmuck/apdurelay/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configPath string
	name       string
	capacity   int
	timeout    time.Duration
	peerKind   string
	device     string
	baud       int
	addr       string
	chipKind   string
	chipDevice string
	noSelfTest bool
	adminAddr  string
	adminToken string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServiceConfig(cmd, f)
			if err != nil {
				return err
			}
			observability.InitLogger("relayctl")
			log.Info().Str("relay", cfg.Name).Msg("starting relay service")
			return service.NewServiceWithConfig(cfg).Run()
		},
	}
	bindRunFlags(cmd, &f)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "relay config file (defaults when empty)")
	fl.StringVar(&f.name, "name", "", "relay name used in logs and metrics")
	fl.IntVar(&f.capacity, "capacity", 0, "fixed frame capacity in bytes")
	fl.DurationVar(&f.timeout, "completion-timeout", 0, "bound on each chip completion wait (0 waits forever)")
	fl.StringVar(&f.peerKind, "peer", "", "peer kind: serial|tcp")
	fl.StringVar(&f.device, "device", "", "serial device for the serial peer")
	fl.IntVar(&f.baud, "baud", 0, "serial baud rate")
	fl.StringVar(&f.addr, "addr", "", "listen address for the tcp peer")
	fl.StringVar(&f.chipKind, "chip", "", "chip kind: loopback|tpm")
	fl.StringVar(&f.chipDevice, "chip-device", "", "TPM device path")
	fl.BoolVar(&f.noSelfTest, "no-self-test", false, "skip the TPM self-test when opening a session")
	fl.StringVar(&f.adminAddr, "admin", "", "admin HTTP listen address (disabled when empty)")
	fl.StringVar(&f.adminToken, "admin-token", "", "bearer token required on admin status and metrics")
}

// resolveServiceConfig loads the config file, then applies only the flags the
// caller set.
func resolveServiceConfig(cmd *cobra.Command, f runFlags) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()
	if path := strings.TrimSpace(f.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return service.ServiceConfig{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("name") {
		cfg.Name = strings.TrimSpace(f.name)
	}
	if changed("capacity") {
		cfg.Relay.Capacity = f.capacity
	}
	if changed("completion-timeout") {
		cfg.Relay.CompletionTimeout = f.timeout
	}
	if changed("peer") {
		cfg.Peer.Kind = service.PeerKind(strings.ToLower(strings.TrimSpace(f.peerKind)))
	}
	if changed("device") {
		cfg.Peer.Device = strings.TrimSpace(f.device)
	}
	if changed("baud") {
		cfg.Peer.Baud = f.baud
	}
	if changed("addr") {
		cfg.Peer.Addr = strings.TrimSpace(f.addr)
	}
	if changed("chip") {
		cfg.Chip.Kind = service.ChipKind(strings.ToLower(strings.TrimSpace(f.chipKind)))
	}
	if changed("chip-device") {
		cfg.Chip.Device = strings.TrimSpace(f.chipDevice)
	}
	if changed("no-self-test") {
		cfg.Chip.SelfTest = !f.noSelfTest
	}
	if changed("admin") {
		cfg.Admin.Addr = strings.TrimSpace(f.adminAddr)
	}
	if changed("admin-token") {
		cfg.Admin.Token = strings.TrimSpace(f.adminToken)
	}

	if err := config.Validate(cfg); err != nil {
		return service.ServiceConfig{}, fmt.Errorf("relay config: %w", err)
	}
	return cfg, nil
}
