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

// stc8 implements the P8/STC8 dialect: like STC15 but with a
// trim-divider search instead of a single linear interpolation, a
// 40-byte options packet, and a distinct terminate command.
type stc8 struct {
	codec frame.Codec
}

// NewSTC8 returns the P8/STC8 dialect engine.
func NewSTC8() Dialect {
	return &stc8{codec: frame.Codec{Checksum: frame.Checksum16, MaxPayload: 2048}}
}

func (d *stc8) Name() string       { return "stc8" }
func (d *stc8) BlockSize() int     { return 256 }
func (d *stc8) Codec() frame.Codec { return d.codec }

func (d *stc8) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	if err := pulse(ctx, t, 5*time.Second); err != nil {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "pulse"}
	}
	status, err := readPacket(ctx, t, d.codec, longDeadline, true)
	if err != nil {
		return TargetState{}, err
	}
	if len(status) < 40 {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "status packet too short"}
	}
	magic := uint16(status[20])<<8 | uint16(status[21])
	desc, ok := model.Lookup(magic)
	if !ok {
		return TargetState{}, &protocolerr.UnknownModelError{Magic: magic}
	}
	logrus.Infof("target model: %s", desc.Name)

	reg := options.NewStc8(desc.EepromSizeBytes)
	copy(reg.MSR, status[23:28])

	// status[1:5] is the factory-calibrated operating frequency in Hz,
	// already pre-calibrated by the device, 0xffffffff meaning
	// uncalibrated; status[32:34] is the wakeup-timer frequency in Hz.
	var factoryFreqHz float64
	raw := uint32(status[1])<<24 | uint32(status[2])<<16 | uint32(status[3])<<8 | uint32(status[4])
	if raw != 0xffffffff {
		factoryFreqHz = float64(raw)
	}
	wakeupFreqHz := float64(uint16(status[32])<<8 | uint16(status[33]))

	return TargetState{
		Descriptor:    desc,
		BSLVersion:    status[17],
		MfgDate:       decodePackedBCD(status[28:32]),
		Registry:      reg,
		FactoryFreqHz: factoryFreqHz,
		WakeupFreqHz:  wakeupFreqHz,
	}, nil
}

func (d *stc8) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	// STC8 tries successive trim dividers, accepting the first that
	// converges within tolerance, matching the original's divider
	// search from 1 through 5.
	var lastErr error
	for divider := 1; divider <= 5; divider++ {
		_, freq, err := chooseTrim(ctx, t, d.codec, float64(plan.TransferBaud)*float64(divider), 0x0040, 0x00ff)
		if err == nil {
			st.FreqCounterHz = freq
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return lastErr
	}
	if err := sendPacket(t, d.codec, []byte{0x05}); err != nil {
		return err
	}
	resp, err := readPacket(ctx, t, d.codec, shortDeadline, false)
	if err != nil {
		return &protocolerr.LinkLostError{Phase: "baud switch test"}
	}
	if len(resp) > 0 && resp[0] == 0x0f {
		return &protocolerr.DeviceNakError{Phase: "baud switch test", Code: 0x0f}
	}
	return t.SetBaud(plan.TransferBaud)
}

func (d *stc8) Trim(ctx context.Context, t transport.Transport, st *TargetState, targetHz float64) error {
	counter, freq, err := chooseTrim(ctx, t, d.codec, targetHz, 0x0040, 0x00ff)
	st.FreqCounterHz = freq
	if len(st.Registry.MSR) >= 2 {
		st.Registry.MSR[0] = byte(counter >> 8)
		st.Registry.MSR[1] = byte(counter)
	}
	return err
}

func (d *stc8) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	if err := sendPacket(t, d.codec, []byte{0x03, 0x00, 0x00}); err != nil {
		return err
	}
	resp, err := readPacket(ctx, t, d.codec, longDeadline, false)
	if err != nil {
		return err
	}
	if len(resp) < 8 {
		return &protocolerr.DeviceNakError{Phase: "erase", Code: firstByte(resp)}
	}
	st.UID = append([]byte{}, resp[1:8]...)
	return nil
}

func (d *stc8) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	first := true
	return writeBlocks(ctx, t, d.codec, data, d.BlockSize(), report, func(blockIdx int, block []byte) []byte {
		cmd := byte(0x02)
		if first {
			cmd = 0x22
			first = false
		}
		payload := make([]byte, 0, 3+len(block))
		payload = append(payload, cmd, byte(blockIdx>>8), byte(blockIdx))
		return append(payload, block...)
	}, []byte{0x07})
}

func (d *stc8) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *stc8) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	buf := make([]byte, 40)
	for i := range buf {
		buf[i] = 0xff
	}
	copy(buf, st.Registry.MSR)
	payload := append([]byte{0x04}, buf...)
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	resp, err := readPacket(ctx, t, d.codec, longDeadline, false)
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0x50 {
		return &protocolerr.DeviceNakError{Phase: "program options", Code: firstByte(resp)}
	}
	return nil
}

func (d *stc8) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0xff})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}

// decodePackedBCD decodes a packed-BCD manufacturing date the way the
// STC8 status packet encodes it: one BCD byte per YY/MM/DD/rev field.
func decodePackedBCD(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, '0'+(v>>4), '0'+(v&0x0f))
	}
	return string(out)
}
