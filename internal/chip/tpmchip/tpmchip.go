// Package tpmchip relays raw command buffers to a TPM through go-tpm.
//
// A TPM speaks length-prefixed command/response buffers, so a transceive is
// one call to transport.TPM.Send. Opening a session can self-test the device
// with TPM2_GetRandom before reporting success.
package tpmchip

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/apdurelay/internal/chip"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedDevice = errors.New("tpmchip: unsupported TPM device path")

const selfTestBytes = 8

type Option func(*Transport)

// WithSelfTest toggles the TPM2_GetRandom liveness self-test run when a session opens.
func WithSelfTest(enabled bool) Option {
	return func(t *Transport) { t.selfTest = enabled }
}

// Transport issues sessions on one TPM.
type Transport struct {
	dev      transport.TPM
	selfTest bool
}

func New(dev transport.TPM, opts ...Option) *Transport {
	t := &Transport{dev: dev, selfTest: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OpenDevice opens a Linux TPM character device. /dev/tpmrm0 goes through the
// kernel resource manager and is preferred.
func OpenDevice(path string, opts ...Option) (*Transport, error) {
	switch path {
	case "/dev/tpmrm0":
	case "/dev/tpm0":
		log.Warn().Str("device", path).Msg("direct TPM access bypasses the kernel resource manager")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDevice, path)
	}
	dev, err := linuxtpm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tpm %s: %w", path, err)
	}
	return New(dev, opts...), nil
}

// Close releases the underlying device when it is closable.
func (t *Transport) Close() error {
	if c, ok := t.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *Transport) Open(done chip.CompletionFunc, arg any) (chip.Session, error) {
	if t.dev == nil {
		return nil, fmt.Errorf("tpmchip: no device")
	}
	if done == nil {
		return nil, fmt.Errorf("tpmchip: nil completion func")
	}
	s := &session{dev: t.dev, worker: chip.NewWorker(done, arg)}
	selfTest := t.selfTest
	if err := s.worker.Issue(func() chip.Status {
		if !selfTest {
			return chip.StatusSuccess
		}
		return s.selfTest()
	}); err != nil {
		return nil, err
	}
	return s, nil
}

type session struct {
	dev    transport.TPM
	worker *chip.Worker
}

func (s *session) selfTest() chip.Status {
	rsp, err := tpm2.GetRandom{BytesRequested: selfTestBytes}.Execute(s.dev)
	if err != nil {
		log.Warn().Err(err).Msg("tpm self-test failed")
		return chip.StatusFatal
	}
	if len(rsp.RandomBytes.Buffer) != selfTestBytes {
		log.Warn().Int("bytes", len(rsp.RandomBytes.Buffer)).Msg("tpm self-test short response")
		return chip.StatusProtocol
	}
	return chip.StatusSuccess
}

func (s *session) Transceive(tx, rx []byte, n *int) error {
	if len(tx) == 0 {
		return fmt.Errorf("tpmchip: empty command")
	}
	cmd := append([]byte(nil), tx...)
	return s.worker.Issue(func() chip.Status {
		rsp, err := s.dev.Send(cmd)
		if err != nil {
			*n = 0
			log.Warn().Err(err).Int("cmd_len", len(cmd)).Msg("tpm send failed")
			return chip.StatusTransmission
		}
		if len(rsp) > len(rx) {
			*n = 0
			return chip.StatusBufferOverflow
		}
		*n = copy(rx, rsp)
		return chip.StatusSuccess
	})
}

func (s *session) Close() error {
	return s.worker.Shutdown(func() chip.Status { return chip.StatusSuccess })
}
