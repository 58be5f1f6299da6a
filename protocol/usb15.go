package protocol

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/model"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// usb15 implements the U15/USB15 dialect: the same command
// choreography as stc15, carried over USB control/bulk transfers
// instead of a UART, with no baud negotiation and a subtractive
// checksum instead of a sum.
type usb15 struct {
	codec frame.Codec
}

// NewUSB15 returns the U15/USB15 dialect engine.
func NewUSB15() Dialect {
	return &usb15{codec: frame.Codec{Checksum: frame.ChecksumSubtractive16, MaxPayload: 1024}}
}

func (d *usb15) Name() string       { return "usb15" }
func (d *usb15) BlockSize() int     { return 128 }
func (d *usb15) Codec() frame.Codec { return d.codec }

func (d *usb15) sendUSB(t transport.Transport, payload []byte) error {
	wire := d.codec.EncodeUSB(frame.Frame{Direction: frame.DirHost, Payload: payload})
	return t.Write(wire)
}

func (d *usb15) readUSB(ctx context.Context, t transport.Transport, deadline time.Duration) ([]byte, error) {
	header, err := t.ReadExactly(ctx, 5, deadline)
	if err != nil {
		return nil, &protocolerr.LinkLostError{Phase: "read usb header"}
	}
	length := int(header[1])<<8 | int(header[2])
	// header already consumed 5 bytes: direction(1) + length(2) + the
	// first two payload bytes, so only (length-5) payload bytes plus
	// the two-byte checksum remain.
	remaining := length - 5 + 2
	rest, err := t.ReadExactly(ctx, remaining, deadline)
	if err != nil {
		return nil, &protocolerr.LinkLostError{Phase: "read usb body"}
	}
	full := append(append([]byte{}, header...), rest...)
	f, err := d.codec.DecodeUSB(full)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

func (d *usb15) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	if err := d.sendUSB(t, []byte{0x01}); err != nil {
		return TargetState{}, err
	}
	status, err := d.readUSB(ctx, t, longDeadline)
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
	msrLen := len(status) - 23
	if msrLen > 64 {
		msrLen = 64
	}
	reg := options.NewStc15(msrLen, msrLen > 4)
	if msrLen > 0 {
		copy(reg.MSR, status[23:23+msrLen])
	}
	return TargetState{Descriptor: desc, BSLVersion: status[17], Registry: reg}, nil
}

// SwitchBaud sets no baud rate, since USB framing has none to
// negotiate; it only sends the 0x05 test packet and reports a locked
// device (0x0f reply) as a DeviceNakError.
func (d *usb15) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	if err := d.sendUSB(t, []byte{0x05}); err != nil {
		return err
	}
	resp, err := d.readUSB(ctx, t, shortDeadline)
	if err != nil {
		return err
	}
	if len(resp) > 0 && resp[0] == 0x0f {
		return &protocolerr.DeviceNakError{Phase: "locked", Code: 0x0f}
	}
	return nil
}

// Trim is unsupported over USB: usb15 targets trim via the same
// silicon as stc15 but the BSL exposes no trim challenge command over
// the USB control endpoint in the retrieved source.
func (d *usb15) Trim(context.Context, transport.Transport, *TargetState, float64) error {
	return &protocolerr.UnsupportedError{Operation: "trim", Reason: "usb15 does not expose a trim challenge over USB"}
}

func (d *usb15) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	if err := d.sendUSB(t, []byte{0x03}); err != nil {
		return err
	}
	resp, err := d.readUSB(ctx, t, longDeadline)
	if err != nil {
		return err
	}
	if len(resp) < 8 {
		return &protocolerr.DeviceNakError{Phase: "erase", Code: firstByte(resp)}
	}
	st.UID = append([]byte{}, resp[1:8]...)
	return nil
}

func (d *usb15) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	total := len(data)
	sent := 0
	first := true
	for i := 0; i < len(data); i += d.BlockSize() {
		end := i + d.BlockSize()
		if end > len(data) {
			end = len(data)
		}
		block := data[i:end]
		cmd := byte(0x02)
		if first {
			cmd = 0x22
			first = false
		}
		payload := make([]byte, 0, 3+len(block))
		payload = append(payload, cmd, byte((i/d.BlockSize())>>8), byte(i/d.BlockSize()))
		payload = append(payload, block...)
		if err := d.sendUSB(t, payload); err != nil {
			return err
		}
		if _, err := d.readUSB(ctx, t, longDeadline); err != nil {
			return err
		}
		sent += len(block)
		if report != nil {
			report(sent, total)
		}
	}
	return nil
}

func (d *usb15) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *usb15) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	copy(buf, st.Registry.MSR)
	payload := append([]byte{0x04}, buf...)
	if err := d.sendUSB(t, payload); err != nil {
		return err
	}
	resp, err := d.readUSB(ctx, t, longDeadline)
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0x50 {
		return &protocolerr.DeviceNakError{Phase: "program options", Code: firstByte(resp)}
	}
	return nil
}

func (d *usb15) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := d.sendUSB(t, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}
