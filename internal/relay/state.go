package relay

import (
	"errors"
	"fmt"
)

// State is the relay's position in its receive/transmit cycle.
type State uint32

const (
	StateInit State = iota
	StateReceiving
	StateTransmitting
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReceiving:
		return "receiving"
	case StateTransmitting:
		return "transmitting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Cause names the step that abandoned a cycle.
type Cause string

const (
	CauseOpen       Cause = "open"
	CauseRead       Cause = "read"
	CauseLength     Cause = "length"
	CauseTransceive Cause = "transceive"
	CauseCompletion Cause = "completion"
	CauseResponse   Cause = "response"
	CauseWrite      Cause = "write"
)

var ErrCompletion = errors.New("relay: transport completed with failure status")

// Failure records why the relay moved to StateError.
type Failure struct {
	Cause Cause
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("relay %s failed: %v", f.Cause, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
