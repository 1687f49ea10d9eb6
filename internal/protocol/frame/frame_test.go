package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodePacksBigEndianLengthAndPads(t *testing.T) {
	buf := bytes.Repeat([]byte{0xAA}, 16)
	if err := Encode(buf, []byte("HELLO")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := append([]byte{0x00, 0x05, 'H', 'E', 'L', 'L', 'O'}, make([]byte, 9)...)
	if !bytes.Equal(buf, want) {
		t.Fatalf("unexpected frame: % x", buf)
	}
}

func TestEncodeLongPayloadUsesHighByte(t *testing.T) {
	buf := make([]byte, 0x0102+HeaderLen)
	payload := bytes.Repeat([]byte{0x01}, 0x0102)
	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf[0] != 0x01 || buf[1] != 0x02 {
		t.Fatalf("unexpected prefix: % x", buf[:2])
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	buf := make([]byte, 8)
	err := Encode(buf, make([]byte, 7))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeErrorSentinel(t *testing.T) {
	buf := bytes.Repeat([]byte{0x11}, 8)
	if err := EncodeError(buf); err != nil {
		t.Fatalf("encode error frame: %v", err)
	}
	want := []byte{0x00, 0x02, 0xFF, 0xFF, 0, 0, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Fatalf("unexpected sentinel: % x", buf)
	}
	if !IsError(buf) {
		t.Fatalf("expected IsError")
	}
}

func TestIsErrorIgnoresOtherPayloads(t *testing.T) {
	buf := make([]byte, 8)
	_ = Encode(buf, []byte{0x90, 0x00})
	if IsError(buf) {
		t.Fatalf("status word 9000 reported as error frame")
	}
}

func TestPayloadBoundary(t *testing.T) {
	buf := make([]byte, 6)
	buf[1] = 4
	p, err := Payload(buf)
	if err != nil {
		t.Fatalf("declared length == capacity-2 rejected: %v", err)
	}
	if len(p) != 4 {
		t.Fatalf("unexpected payload length: %d", len(p))
	}

	buf[1] = 5
	if _, err := Payload(buf); !errors.Is(err, ErrLengthExceedsCapacity) {
		t.Fatalf("expected ErrLengthExceedsCapacity, got %v", err)
	}
}

func TestCheckCapacity(t *testing.T) {
	if err := CheckCapacity(3); !errors.Is(err, ErrCapacityTooSmall) {
		t.Fatalf("expected ErrCapacityTooSmall, got %v", err)
	}
	if err := CheckCapacity(MaxCapacity + 1); !errors.Is(err, ErrCapacityTooLarge) {
		t.Fatalf("expected ErrCapacityTooLarge, got %v", err)
	}
	if err := CheckCapacity(DefaultCapacity); err != nil {
		t.Fatalf("default capacity rejected: %v", err)
	}
}

func TestReadWriteFrameOverStream(t *testing.T) {
	var wire bytes.Buffer
	out := make([]byte, 12)
	if err := WriteFrame(&wire, out, []byte{0x00, 0xA4, 0x04, 0x00}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if wire.Len() != 12 {
		t.Fatalf("expected full fixed-size transfer, got %d bytes", wire.Len())
	}
	in := make([]byte, 12)
	p, err := ReadFrame(&wire, in)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(p, []byte{0x00, 0xA4, 0x04, 0x00}) {
		t.Fatalf("payload mismatch: % x", p)
	}
}

func TestReadFrameShortTransfer(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x01, 0x02}), make([]byte, 8))
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(nil), make([]byte, 8))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
