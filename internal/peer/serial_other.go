//go:build !linux

package peer

import (
	"errors"
	"os"
)

var baudRates = map[int]uint32{
	9600:   0,
	19200:  0,
	38400:  0,
	57600:  0,
	115200: 0,
}

func openRaw(SerialConfig) (*os.File, error) {
	return nil, errors.New("serial peer is only supported on linux")
}
