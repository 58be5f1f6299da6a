package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/model"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// stc89 implements the P89/STC89 dialect: 128-byte program blocks, a
// single checking/setting handshake exchange and a one-byte checksum.
type stc89 struct {
	codec frame.Codec
}

// NewSTC89 returns the P89/STC89 dialect engine.
func NewSTC89() Dialect {
	return &stc89{codec: frame.Codec{Checksum: frame.Checksum8, MaxPayload: 512}}
}

func (d *stc89) Name() string         { return "stc89" }
func (d *stc89) BlockSize() int       { return 128 }
func (d *stc89) Codec() frame.Codec   { return d.codec }

func (d *stc89) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	if err := pulse(ctx, t, 5*time.Second); err != nil {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "pulse"}
	}
	status, err := readPacket(ctx, t, d.codec, longDeadline, true)
	if err != nil {
		return TargetState{}, err
	}
	if len(status) < 22 {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "status packet too short"}
	}
	magic := uint16(status[20])<<8 | uint16(status[21])
	desc, ok := model.Lookup(magic)
	if !ok {
		return TargetState{}, &protocolerr.UnknownModelError{Magic: magic}
	}
	logrus.Infof("target model: %s", desc.Name)
	return TargetState{
		Descriptor: desc,
		BSLVersion: status[17],
		Registry:   options.NewStc89(),
	}, nil
}

func (d *stc89) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	if err := sendPacket(t, d.codec, []byte{0x8f}); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
		return err
	}
	divisor := baudDivisor(11059200, plan.TransferBaud, 32)
	payload := []byte{0x8e, byte(divisor >> 8), byte(divisor)}
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
		return err
	}
	if err := t.SetBaud(plan.TransferBaud); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := sendPacket(t, d.codec, []byte{0x80}); err != nil {
			return err
		}
		if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
			return &protocolerr.LinkLostError{Phase: "baud switch ping-pong"}
		}
	}
	return nil
}

func (d *stc89) Trim(context.Context, transport.Transport, *TargetState, float64) error {
	return &protocolerr.UnsupportedError{Operation: "trim", Reason: "stc89 has no RC trim"}
}

func (d *stc89) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	if err := sendPacket(t, d.codec, []byte{0x84}); err != nil {
		return err
	}
	_, err := readPacket(ctx, t, d.codec, longDeadline, false)
	return err
}

func (d *stc89) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	return writeBlocks(ctx, t, d.codec, data, d.BlockSize(), report, func(blockIdx int, block []byte) []byte {
		payload := make([]byte, 0, 3+len(block))
		payload = append(payload, 0x85, byte(blockIdx>>8), byte(blockIdx))
		return append(payload, block...)
	}, nil)
}

func (d *stc89) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *stc89) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	payload := append([]byte{0x8d}, st.Registry.MSR...)
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	_, err := readPacket(ctx, t, d.codec, longDeadline, false)
	return err
}

func (d *stc89) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}

// baudDivisor computes the 16-bit BRT reload value for an 8051 UART
// timer, matching the calculation in the original handshake routine.
func baudDivisor(clockHz, transferBaud, sampleRate int) uint16 {
	return uint16(65536 - (clockHz / (transferBaud * sampleRate)))
}

// writeBlocks splits data into blockSize chunks (the final chunk may
// be shorter) and sends one framed packet per chunk built by
// buildPayload, verifying the device's ack after each. finish, if
// non-nil, is sent after the last block (used by dialects with an
// explicit write-finish sentinel).
func writeBlocks(
	ctx context.Context, t transport.Transport, c frame.Codec,
	data []byte, blockSize int,
	report func(sent, total int),
	buildPayload func(blockIdx int, block []byte) []byte,
	finish []byte,
) error {
	total := len(data)
	sent := 0
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[i:end]
		payload := buildPayload(i/blockSize, block)
		if err := sendPacket(t, c, payload); err != nil {
			return fmt.Errorf("writing block %d: %w", i/blockSize, err)
		}
		ack, err := readPacket(ctx, t, c, longDeadline, false)
		if err != nil {
			return err
		}
		if len(ack) == 0 || (ack[0] != 0x00 && ack[0] != 0x8d && ack[0] != 0x50) {
			return &protocolerr.DeviceNakError{Phase: "program block", Code: firstByte(ack)}
		}
		sent += len(block)
		if report != nil {
			report(sent, total)
		}
	}
	if finish != nil {
		if err := sendPacket(t, c, finish); err != nil {
			return err
		}
		if _, err := readPacket(ctx, t, c, longDeadline, false); err != nil {
			return err
		}
	}
	return nil
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
