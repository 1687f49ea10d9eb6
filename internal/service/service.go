package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/apdurelay/internal/admin"
	"github.com/danmuck/apdurelay/internal/auth"
	"github.com/danmuck/apdurelay/internal/chip"
	"github.com/danmuck/apdurelay/internal/chip/loopback"
	"github.com/danmuck/apdurelay/internal/chip/tpmchip"
	"github.com/danmuck/apdurelay/internal/observability"
	"github.com/danmuck/apdurelay/internal/peer"
	"github.com/danmuck/apdurelay/internal/relay"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerGone        = errors.New("service: peer channel ended")
	ErrUnknownPeerKind = errors.New("service: unknown peer kind")
	ErrUnknownChipKind = errors.New("service: unknown chip kind")
)

const closeTimeout = 2 * time.Second

type PeerKind string

const (
	PeerSerial PeerKind = "serial"
	PeerTCP    PeerKind = "tcp"
)

type ChipKind string

const (
	ChipLoopback ChipKind = "loopback"
	ChipTPM      ChipKind = "tpm"
)

// PeerConfig selects the host link.
type PeerConfig struct {
	Kind   PeerKind
	Device string
	Baud   int
	Addr   string
}

// ChipConfig selects the secure element backend.
type ChipConfig struct {
	Kind     ChipKind
	Device   string
	SelfTest bool
}

// AdminConfig enables the operator HTTP surface when Addr is set. A non-empty
// Token guards the status and metrics routes.
type AdminConfig struct {
	Addr        string
	CorsOrigins []string
	Token       string
}

type ServiceConfig struct {
	Name  string
	Relay relay.Config
	Peer  PeerConfig
	Chip  ChipConfig
	Admin AdminConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:  "relay.local",
		Relay: relay.DefaultConfig(),
		Peer: PeerConfig{
			Kind:   PeerSerial,
			Device: "/dev/ttyACM0",
			Baud:   peer.DefaultBaud,
			Addr:   ":7300",
		},
		Chip: ChipConfig{
			Kind:     ChipLoopback,
			Device:   "/dev/tpmrm0",
			SelfTest: true,
		},
	}
}

// Service owns one relay and the cooperative loop that drives it.
type Service struct {
	cfg       ServiceConfig
	peer      peer.Channel
	transport chip.Transport
	relay     *relay.Relay
	admin     *admin.Server

	mu      sync.Mutex
	running bool
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultServiceConfig().Name
	}
	return &Service{cfg: cfg}
}

// WithChannels injects an already open peer channel and transport in place of
// the configured ones.
func (s *Service) WithChannels(ch peer.Channel, t chip.Transport) *Service {
	s.peer = ch
	s.transport = t
	return s
}

// Relay returns the running relay, or nil before bootstrap.
func (s *Service) Relay() *relay.Relay {
	return s.relay
}

// Run blocks until SIGINT/SIGTERM or until the peer channel ends.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service: already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.bootstrap(); err != nil {
		s.closeAll()
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.peer == nil {
		ch, err := openPeer(s.cfg.Peer)
		if err != nil {
			return err
		}
		s.peer = ch
	}
	if s.transport == nil {
		t, err := openChip(s.cfg.Chip)
		if err != nil {
			return err
		}
		s.transport = t
	}
	r, err := relay.New(
		s.cfg.Relay,
		s.peer,
		s.transport,
		relay.WithLogger(log.Logger.With().Str("relay", s.cfg.Name).Logger()),
		relay.WithObserver(observability.NewRelayMetrics(s.cfg.Name)),
	)
	if err != nil {
		return err
	}
	s.relay = r
	if addr := strings.TrimSpace(s.cfg.Admin.Addr); addr != "" {
		var opts []admin.Option
		if token := strings.TrimSpace(s.cfg.Admin.Token); token != "" {
			opts = append(opts, admin.WithValidator(auth.StaticToken{Token: token}))
		}
		s.admin = admin.New(s.cfg.Name, addr, s.cfg.Admin.CorsOrigins, r, opts...)
	}
	log.Info().
		Str("relay", s.cfg.Name).
		Str("peer", string(s.cfg.Peer.Kind)).
		Str("chip", string(s.cfg.Chip.Kind)).
		Int("capacity", s.cfg.Relay.Capacity).
		Msg("relay service ready")
	return nil
}

func (s *Service) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	if s.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.admin.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	// a blocked peer read only returns once the channel is closed
	stopWatch := context.AfterFunc(ctx, func() { _ = s.peer.Close() })
	defer stopWatch()

	var runErr error
	for ctx.Err() == nil {
		s.relay.Advance(ctx)
		if ctx.Err() != nil {
			break
		}
		if err := peerGone(s.relay); err != nil {
			runErr = err
			break
		}
	}

	cancel()
	s.closeAll()
	wg.Wait()
	snap := s.relay.Snapshot()
	log.Info().
		Str("relay", s.cfg.Name).
		Uint64("cycles", snap.Cycles).
		Uint64("failures", snap.Failures).
		Msg("relay service stopped")
	return runErr
}

// peerGone reports a peer channel that can never deliver another frame.
func peerGone(r *relay.Relay) error {
	if r.State() != relay.StateError {
		return nil
	}
	f := r.LastFailure()
	if f == nil || f.Cause != relay.CauseRead {
		return nil
	}
	if errors.Is(f, peer.ErrClosed) || errors.Is(f, io.EOF) || errors.Is(f, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrPeerGone, f)
	}
	return nil
}

func (s *Service) closeAll() {
	if s.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := s.relay.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("chip session close failed")
		}
		cancel()
	}
	if s.peer != nil {
		_ = s.peer.Close()
	}
	if c, ok := s.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("chip transport close failed")
		}
	}
}

func openPeer(cfg PeerConfig) (peer.Channel, error) {
	switch cfg.Kind {
	case PeerSerial:
		return peer.OpenSerial(peer.SerialConfig{Device: cfg.Device, Baud: cfg.Baud})
	case PeerTCP:
		return peer.Listen(cfg.Addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeerKind, cfg.Kind)
	}
}

func openChip(cfg ChipConfig) (chip.Transport, error) {
	switch cfg.Kind {
	case ChipLoopback:
		return loopback.New(), nil
	case ChipTPM:
		return tpmchip.OpenDevice(cfg.Device, tpmchip.WithSelfTest(cfg.SelfTest))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChipKind, cfg.Kind)
	}
}
