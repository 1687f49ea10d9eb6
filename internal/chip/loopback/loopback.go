// Package loopback is an in-process chip transport. Each session runs one
// event goroutine that completes issued operations in order, the way a
// platform event handler would. The default responder echoes the command.
package loopback

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/danmuck/apdurelay/internal/chip"
)

var ErrNilCompletion = errors.New("loopback: nil completion func")

// Responder produces the chip's answer to one command APDU.
type Responder func(cmd []byte) ([]byte, chip.Status)

// Echo answers every command with itself.
func Echo(cmd []byte) ([]byte, chip.Status) {
	return cmd, chip.StatusSuccess
}

type options struct {
	responder     Responder
	latency       time.Duration
	openStatus    chip.Status
	closeStatus   chip.Status
	openErr       error
	transceiveErr error
}

type Option func(*options)

// WithResponder replaces the echo responder.
func WithResponder(r Responder) Option {
	return func(o *options) { o.responder = r }
}

// WithLatency delays every completion by d.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithOpenStatus sets the status delivered when an open completes.
func WithOpenStatus(st chip.Status) Option {
	return func(o *options) { o.openStatus = st }
}

// WithCloseStatus sets the status delivered when a close completes.
func WithCloseStatus(st chip.Status) Option {
	return func(o *options) { o.closeStatus = st }
}

// WithOpenError makes Open fail to issue.
func WithOpenError(err error) Option {
	return func(o *options) { o.openErr = err }
}

// WithTransceiveError makes every Transceive fail to issue.
func WithTransceiveError(err error) Option {
	return func(o *options) { o.transceiveErr = err }
}

// Transport hands out loopback sessions.
type Transport struct {
	opts   options
	opened atomic.Int64
}

func New(opts ...Option) *Transport {
	o := options{
		responder:   Echo,
		openStatus:  chip.StatusSuccess,
		closeStatus: chip.StatusSuccess,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Transport{opts: o}
}

// Opened returns how many sessions were issued.
func (t *Transport) Opened() int64 {
	return t.opened.Load()
}

func (t *Transport) Open(done chip.CompletionFunc, arg any) (chip.Session, error) {
	if t.opts.openErr != nil {
		return nil, t.opts.openErr
	}
	if done == nil {
		return nil, ErrNilCompletion
	}
	s := &session{opts: t.opts, worker: chip.NewWorker(done, arg)}
	t.opened.Add(1)
	openStatus := t.opts.openStatus
	if err := s.issue(func() chip.Status { return openStatus }); err != nil {
		return nil, err
	}
	return s, nil
}

type session struct {
	opts   options
	worker *chip.Worker
}

func (s *session) delay(fn func() chip.Status) func() chip.Status {
	if s.opts.latency <= 0 {
		return fn
	}
	latency := s.opts.latency
	return func() chip.Status {
		time.Sleep(latency)
		return fn()
	}
}

func (s *session) issue(fn func() chip.Status) error {
	return s.worker.Issue(s.delay(fn))
}

func (s *session) Transceive(tx, rx []byte, n *int) error {
	if s.worker.Closed() {
		return chip.ErrClosed
	}
	if s.opts.transceiveErr != nil {
		return s.opts.transceiveErr
	}
	cmd := append([]byte(nil), tx...)
	respond := s.opts.responder
	return s.issue(func() chip.Status {
		rsp, st := respond(cmd)
		if !st.OK() {
			*n = 0
			return st
		}
		if len(rsp) > len(rx) {
			*n = 0
			return chip.StatusBufferOverflow
		}
		*n = copy(rx, rsp)
		return st
	})
}

func (s *session) Close() error {
	closeStatus := s.opts.closeStatus
	return s.worker.Shutdown(s.delay(func() chip.Status { return closeStatus }))
}
