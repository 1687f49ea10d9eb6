// Package chip defines the asynchronous secure element transport consumed by
// the relay.
//
// Every operation is issued synchronously and completed out of band: the
// transport invokes the CompletionFunc registered at Open from its own
// goroutine once the operation finishes. Transceive writes the response
// length through its out-parameter before completing.
package chip

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession = errors.New("chip: no open session")
	ErrClosed    = errors.New("chip: session closed")
	ErrBusy      = errors.New("chip: operation already in flight")
)

// CompletionFunc is invoked by a transport when an issued operation finishes.
// arg is the value passed to Open.
type CompletionFunc func(arg any, st Status)

// Transport creates sessions with a secure element.
type Transport interface {
	Open(done CompletionFunc, arg any) (Session, error)
}

// Session is an open channel to the chip.
type Session interface {
	// Transceive sends tx and stores up to len(rx) response bytes into rx.
	// The response length is stored in *n before completion is signaled.
	Transceive(tx, rx []byte, n *int) error
	Close() error
}

// Status is the terminal value of an asynchronous operation.
type Status uint16

const (
	StatusSuccess        Status = 0x0000
	StatusBusy           Status = 0x0001
	StatusFailed         Status = 0x0102
	StatusInvalidInput   Status = 0x0103
	StatusTransmission   Status = 0x0104
	StatusProtocol       Status = 0x0105
	StatusBufferOverflow Status = 0x0106
	StatusFatal          Status = 0x0107
	StatusSession        Status = 0x0109

	// StatusPending marks an armed operation that has not completed.
	StatusPending = StatusBusy
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBusy:
		return "busy"
	case StatusFailed:
		return "error"
	case StatusInvalidInput:
		return "invalid_input"
	case StatusTransmission:
		return "transmission"
	case StatusProtocol:
		return "protocol"
	case StatusBufferOverflow:
		return "buffer_overflow"
	case StatusFatal:
		return "fatal"
	case StatusSession:
		return "session"
	default:
		return fmt.Sprintf("status(0x%04x)", uint16(s))
	}
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Err returns nil for StatusSuccess and a *StatusError otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a non-success completion status.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chip: completed with status %s", e.Status)
}
