package peer

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedBaud = errors.New("peer: unsupported baud rate")

const DefaultBaud = 115200

// SerialConfig selects the TTY and line speed used for the host link.
type SerialConfig struct {
	Device string
	Baud   int
}

func (c SerialConfig) validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("peer: serial device is required")
	}
	if _, ok := baudRates[c.Baud]; !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, c.Baud)
	}
	return nil
}

// OpenSerial opens the TTY in raw 8N1 mode and returns it as a Channel.
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f, err := openRaw(cfg)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return NewStream(f), nil
}
