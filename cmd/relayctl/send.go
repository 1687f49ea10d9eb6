package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/apdurelay/internal/peer"
	"github.com/danmuck/apdurelay/internal/protocol/frame"
	"github.com/spf13/cobra"
)

var ErrRelayFailed = errors.New("relay reported a failed cycle")

type sendFlags struct {
	addr     string
	device   string
	baud     int
	capacity int
	timeout  time.Duration
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send <hex-apdu>",
		Short: "Send one framed APDU to a relay and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apdu, err := parseHex(args[0])
			if err != nil {
				return err
			}
			ch, err := dialRelay(f)
			if err != nil {
				return err
			}
			defer ch.Close()

			rsp, err := sendAPDU(ch, f.capacity, apdu)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(rsp)))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "relay tcp address (host:port)")
	fl.StringVar(&f.device, "device", "", "serial device wired to the relay")
	fl.IntVar(&f.baud, "baud", peer.DefaultBaud, "serial baud rate")
	fl.IntVar(&f.capacity, "capacity", frame.DefaultCapacity, "fixed frame capacity in bytes")
	fl.DurationVar(&f.timeout, "timeout", 10*time.Second, "tcp exchange deadline")
	cmd.MarkFlagsMutuallyExclusive("addr", "device")
	cmd.MarkFlagsOneRequired("addr", "device")
	return cmd
}

func dialRelay(f sendFlags) (peer.Channel, error) {
	if addr := strings.TrimSpace(f.addr); addr != "" {
		conn, err := net.DialTimeout("tcp", addr, f.timeout)
		if err != nil {
			return nil, fmt.Errorf("dial relay %s: %w", addr, err)
		}
		if f.timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(f.timeout))
		}
		return peer.NewStream(conn), nil
	}
	return peer.OpenSerial(peer.SerialConfig{Device: f.device, Baud: f.baud})
}

// sendAPDU performs one host-side exchange and returns the response payload.
func sendAPDU(ch peer.Channel, capacity int, apdu []byte) ([]byte, error) {
	if err := frame.CheckCapacity(capacity); err != nil {
		return nil, err
	}
	buf := make([]byte, capacity)
	if err := frame.Encode(buf, apdu); err != nil {
		return nil, err
	}
	if err := ch.Write(buf); err != nil {
		return nil, fmt.Errorf("send apdu: %w", err)
	}
	if err := ch.Read(buf); err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	if frame.IsError(buf) {
		return nil, ErrRelayFailed
	}
	rsp, err := frame.Payload(buf)
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	return append([]byte(nil), rsp...), nil
}

func parseHex(raw string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(strings.TrimSpace(raw))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse apdu hex: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse apdu hex: empty apdu")
	}
	return out, nil
}
