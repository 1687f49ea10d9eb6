package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener serves one host at a time over TCP. A Read with no host
// connected blocks in Accept. Any transfer failure drops the host, so the
// next Read waits for a new connection; the failure is reported as
// ErrHostDropped rather than the connection's own error.
type Listener struct {
	ln net.Listener

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) current() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.conn, nil
}

func (l *Listener) accept() (net.Conn, error) {
	conn, err := l.current()
	if err != nil || conn != nil {
		return conn, err
	}
	conn, err = l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("peer accept: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		conn.Close()
		return nil, ErrClosed
	}
	l.conn = conn
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("peer host connected")
	return conn, nil
}

func (l *Listener) drop(conn net.Conn, cause error) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	closed := l.closed
	l.mu.Unlock()
	conn.Close()
	if !closed {
		log.Info().Str("remote", conn.RemoteAddr().String()).Err(cause).Msg("peer host dropped")
	}
}

func (l *Listener) Read(buf []byte) error {
	conn, err := l.accept()
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		l.drop(conn, err)
		if _, cerr := l.current(); cerr != nil {
			return cerr
		}
		return fmt.Errorf("%w: read: %v", ErrHostDropped, err)
	}
	return nil
}

func (l *Listener) Write(buf []byte) error {
	conn, err := l.current()
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrNoHost
	}
	if _, err := conn.Write(buf); err != nil {
		l.drop(conn, err)
		return fmt.Errorf("%w: write: %v", ErrHostDropped, err)
	}
	return nil
}

// Close stops accepting and disconnects the current host.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return l.ln.Close()
}
