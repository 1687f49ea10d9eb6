// Package peer provides the host-facing byte channels the relay reads frames
// from and writes frames to. Every transfer is exactly len(buf) bytes.
package peer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrClosed      = errors.New("peer: channel closed")
	ErrNoHost      = errors.New("peer: no host connected")
	ErrHostDropped = errors.New("peer: host dropped")
	ErrShortWrite  = errors.New("peer: short write")
)

// Channel is a blocking fixed-size transfer channel.
type Channel interface {
	Read(buf []byte) error
	Write(buf []byte) error
	Close() error
}

// Stream adapts an io.ReadWriter to a Channel.
type Stream struct {
	rw io.ReadWriter

	mu     sync.Mutex
	closed bool
}

func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{rw: rw}
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Read fills buf completely or fails.
func (s *Stream) Read(buf []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := io.ReadFull(s.rw, buf); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("peer read: %w", err)
	}
	return nil
}

// Write sends all of buf or fails.
func (s *Stream) Write(buf []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	total := 0
	for total < len(buf) {
		n, err := s.rw.Write(buf[total:])
		total += n
		if err != nil {
			if s.isClosed() {
				return ErrClosed
			}
			return fmt.Errorf("peer write: %w", err)
		}
		if n == 0 {
			return ErrShortWrite
		}
	}
	return nil
}

// Close closes the underlying stream when it is closable. Blocked transfers
// return ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
