package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/apdurelay/internal/chip"
	"github.com/danmuck/apdurelay/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel is the host side of the relay.
type Channel interface {
	Read(buf []byte) error
	Write(buf []byte) error
}

// Observer receives relay events, typically to update metrics.
type Observer interface {
	Transition(from, to State)
	Failure(cause Cause)
	Exchange(cmdLen, rspLen int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Transition(State, State)          {}
func (nopObserver) Failure(Cause)                    {}
func (nopObserver) Exchange(int, int, time.Duration) {}

// Config sizes the relay buffers and bounds completion waits.
type Config struct {
	Capacity          int
	CompletionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Capacity: frame.DefaultCapacity}
}

type Option func(*Relay)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(r *Relay) {
		if o != nil {
			r.observer = o
		}
	}
}

// Snapshot is a point-in-time view of the relay for status reporting.
type Snapshot struct {
	State       string `json:"state"`
	Capacity    int    `json:"capacity"`
	Cycles      uint64 `json:"cycles"`
	Failures    uint64 `json:"failures"`
	SessionOpen bool   `json:"session_open"`
	LastStatus  string `json:"last_status"`
	LastCause   string `json:"last_cause,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Spurious    uint64 `json:"spurious_completions"`
	Late        uint64 `json:"late_completions"`
	Outstanding bool   `json:"completion_outstanding"`
}

// Relay forwards framed APDUs from a host channel to a chip transport and
// returns the chip's responses. Advance runs one state per call and must be
// called from a single goroutine; State and Snapshot are safe from any.
type Relay struct {
	cfg        Config
	peer       Channel
	transport  chip.Transport
	completion *Completion
	logger     zerolog.Logger
	observer   Observer

	session chip.Session
	peerBuf []byte
	rspBuf  []byte
	rspLen  int

	state       atomic.Uint32
	sessionOpen atomic.Bool
	cycles      atomic.Uint64
	failures    atomic.Uint64

	mu   sync.Mutex
	last *Failure
}

func New(cfg Config, ch Channel, t chip.Transport, opts ...Option) (*Relay, error) {
	if err := frame.CheckCapacity(cfg.Capacity); err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("relay: nil peer channel")
	}
	if t == nil {
		return nil, fmt.Errorf("relay: nil chip transport")
	}
	if cfg.CompletionTimeout < 0 {
		return nil, fmt.Errorf("relay: negative completion timeout")
	}
	r := &Relay{
		cfg:        cfg,
		peer:       ch,
		transport:  t,
		completion: NewCompletion(cfg.CompletionTimeout),
		logger:     log.Logger,
		observer:   nopObserver{},
		peerBuf:    make([]byte, cfg.Capacity),
		rspBuf:     make([]byte, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(uint32(StateInit))
	return r, nil
}

func (r *Relay) State() State {
	return State(r.state.Load())
}

// Advance performs the current state's work and returns the next state.
func (r *Relay) Advance(ctx context.Context) State {
	from := r.State()
	var next State
	switch from {
	case StateInit:
		next = r.open(ctx)
	case StateReceiving:
		next = r.receive(ctx)
	case StateTransmitting:
		next = r.transmit()
	case StateError:
		next = r.reportError()
	default:
		next = from
	}
	r.state.Store(uint32(next))
	if next != from {
		r.logger.Debug().Str("from", from.String()).Str("to", next.String()).Msg("relay transition")
	}
	r.observer.Transition(from, next)
	return next
}

func (r *Relay) fail(cause Cause, err error) State {
	f := &Failure{Cause: cause, Err: err}
	r.mu.Lock()
	r.last = f
	r.mu.Unlock()
	r.failures.Add(1)
	r.observer.Failure(cause)
	r.logger.Warn().Str("cause", string(cause)).Err(err).Msg("relay cycle abandoned")
	return StateError
}

// await waits for the armed operation and folds a non-success status into err.
func (r *Relay) await(ctx context.Context) error {
	st, err := r.completion.Wait(ctx)
	if err != nil {
		return err
	}
	if !st.OK() {
		return fmt.Errorf("%w: %w", ErrCompletion, st.Err())
	}
	return nil
}

func (r *Relay) open(ctx context.Context) State {
	if err := r.completion.Arm(); err != nil {
		return r.fail(CauseOpen, err)
	}
	s, err := r.transport.Open(r.completion.Notify, r)
	if err != nil {
		return r.fail(CauseOpen, err)
	}
	if err := r.await(ctx); err != nil {
		// the close completion arrives unarmed and is dropped
		if cerr := s.Close(); cerr != nil {
			r.logger.Debug().Err(cerr).Msg("release of unopened chip session failed")
		}
		return r.fail(CauseOpen, err)
	}
	r.session = s
	r.sessionOpen.Store(true)
	r.logger.Info().Int("capacity", r.cfg.Capacity).Msg("chip session open")
	return StateReceiving
}

func (r *Relay) receive(ctx context.Context) State {
	if err := r.peer.Read(r.peerBuf); err != nil {
		return r.fail(CauseRead, err)
	}
	cmd, err := frame.Payload(r.peerBuf)
	if err != nil {
		return r.fail(CauseLength, err)
	}
	if r.session == nil {
		return r.fail(CauseTransceive, chip.ErrNoSession)
	}

	// an abandoned transceive may still write rspBuf and rspLen until it
	// completes, so neither is touched before Arm succeeds
	if err := r.completion.Arm(); err != nil {
		return r.fail(CauseTransceive, err)
	}
	start := time.Now()
	r.rspLen = len(r.rspBuf)
	if err := r.session.Transceive(cmd, r.rspBuf, &r.rspLen); err != nil {
		return r.fail(CauseTransceive, err)
	}
	if err := r.await(ctx); err != nil {
		return r.fail(CauseCompletion, err)
	}
	r.observer.Exchange(len(cmd), r.rspLen, time.Since(start))
	r.logger.Debug().Int("cmd_len", len(cmd)).Int("rsp_len", r.rspLen).Msg("apdu exchanged")
	return StateTransmitting
}

func (r *Relay) transmit() State {
	if r.rspLen < 0 || r.rspLen > len(r.rspBuf) {
		return r.fail(CauseResponse, fmt.Errorf("%w: %d", frame.ErrPayloadTooLarge, r.rspLen))
	}
	if err := frame.Encode(r.peerBuf, r.rspBuf[:r.rspLen]); err != nil {
		return r.fail(CauseResponse, err)
	}
	if err := r.peer.Write(r.peerBuf); err != nil {
		return r.fail(CauseWrite, err)
	}
	r.cycles.Add(1)
	return StateReceiving
}

func (r *Relay) reportError() State {
	// capacity is checked in New, so the sentinel always fits
	_ = frame.EncodeError(r.peerBuf)
	if err := r.peer.Write(r.peerBuf); err != nil {
		r.logger.Error().Err(err).Msg("relay error frame not delivered")
	}
	return StateReceiving
}

// Close closes the chip session and waits for the close to complete.
func (r *Relay) Close(ctx context.Context) error {
	if r.session == nil {
		return nil
	}
	s := r.session
	r.session = nil
	r.sessionOpen.Store(false)
	if err := r.completion.Arm(); err != nil {
		_ = s.Close()
		return fmt.Errorf("relay close session: %w", err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("relay close session: %w", err)
	}
	if err := r.await(ctx); err != nil {
		return fmt.Errorf("relay close session: %w", err)
	}
	return nil
}

// LastFailure returns the most recent failure, or nil.
func (r *Relay) LastFailure() *Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Relay) Snapshot() Snapshot {
	snap := Snapshot{
		State:       r.State().String(),
		Capacity:    r.cfg.Capacity,
		Cycles:      r.cycles.Load(),
		Failures:    r.failures.Load(),
		SessionOpen: r.sessionOpen.Load(),
		LastStatus:  r.completion.Status().String(),
		Spurious:    r.completion.Spurious(),
		Late:        r.completion.Late(),
		Outstanding: r.completion.Outstanding(),
	}
	if f := r.LastFailure(); f != nil {
		snap.LastCause = string(f.Cause)
		snap.LastError = f.Err.Error()
	}
	return snap
}
