package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the size of the big-endian length prefix.
	HeaderLen = 2
	// MinCapacity fits the header plus the two-byte error payload.
	MinCapacity = HeaderLen + 2
	// MaxCapacity is the largest transfer size a 16-bit length can describe.
	MaxCapacity = HeaderLen + 0xFFFF
	// DefaultCapacity is the fixed transfer size used by the provisioning host.
	DefaultCapacity = 2000 - 2
)

// ErrorPayload is the payload of the sentinel frame sent when a cycle fails.
var ErrorPayload = [2]byte{0xFF, 0xFF}

var (
	ErrCapacityTooSmall      = errors.New("frame: capacity smaller than minimum")
	ErrCapacityTooLarge      = errors.New("frame: capacity exceeds 16-bit length range")
	ErrLengthExceedsCapacity = errors.New("frame: declared length exceeds capacity")
	ErrPayloadTooLarge       = errors.New("frame: payload too large")
	ErrShortFrame            = errors.New("frame: short frame")
)

// CheckCapacity reports whether c is a usable fixed transfer size.
func CheckCapacity(c int) error {
	if c < MinCapacity {
		return fmt.Errorf("%w: %d < %d", ErrCapacityTooSmall, c, MinCapacity)
	}
	if c > MaxCapacity {
		return fmt.Errorf("%w: %d > %d", ErrCapacityTooLarge, c, MaxCapacity)
	}
	return nil
}

// DeclaredLen returns the raw length prefix of buf without validating it.
func DeclaredLen(buf []byte) (int, error) {
	if len(buf) < HeaderLen {
		return 0, ErrShortFrame
	}
	return int(binary.BigEndian.Uint16(buf[0:HeaderLen])), nil
}

// Payload returns the meaningful bytes of buf. The declared length must fit
// inside buf after the prefix; bytes past it are padding.
func Payload(buf []byte) ([]byte, error) {
	n, err := DeclaredLen(buf)
	if err != nil {
		return nil, err
	}
	if n > len(buf)-HeaderLen {
		return nil, fmt.Errorf("%w: declared=%d max=%d", ErrLengthExceedsCapacity, n, len(buf)-HeaderLen)
	}
	return buf[HeaderLen : HeaderLen+n], nil
}

// Encode packs payload into buf and zero-fills the rest of buf.
func Encode(buf []byte, payload []byte) error {
	if len(buf) < HeaderLen {
		return ErrShortFrame
	}
	if len(payload) > len(buf)-HeaderLen {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), len(buf)-HeaderLen)
	}
	binary.BigEndian.PutUint16(buf[0:HeaderLen], uint16(len(payload)))
	n := copy(buf[HeaderLen:], payload)
	clear(buf[HeaderLen+n:])
	return nil
}

// EncodeError writes the sentinel error frame 00 02 FF FF into buf.
func EncodeError(buf []byte) error {
	return Encode(buf, ErrorPayload[:])
}

// IsError reports whether buf carries the sentinel error frame.
func IsError(buf []byte) bool {
	p, err := Payload(buf)
	if err != nil || len(p) != len(ErrorPayload) {
		return false
	}
	return p[0] == ErrorPayload[0] && p[1] == ErrorPayload[1]
}

// ReadFrame reads one fixed-size transfer of len(buf) bytes and returns its payload.
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return Payload(buf)
}

// WriteFrame encodes payload into buf and writes all of buf.
func WriteFrame(w io.Writer, buf []byte, payload []byte) error {
	if err := Encode(buf, payload); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}
