package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/model"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// stc15 implements the P15/STC15 dialect: 256-byte program blocks, an
// external-clock baud-switch path alongside the RC-trim path, a
// locked-MCU check on the post-trim test packet, and a write-finish
// sentinel gated on BSL version.
type stc15 struct {
	codec frame.Codec
}

// NewSTC15 returns the P15/STC15 dialect engine.
func NewSTC15() Dialect {
	return &stc15{codec: frame.Codec{Checksum: frame.Checksum16, MaxPayload: 2048}}
}

func (d *stc15) Name() string       { return "stc15" }
func (d *stc15) BlockSize() int     { return 256 }
func (d *stc15) Codec() frame.Codec { return d.codec }

func (d *stc15) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	if err := pulse(ctx, t, 5*time.Second); err != nil {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "pulse"}
	}
	status, err := readPacket(ctx, t, d.codec, longDeadline, true)
	if err != nil {
		return TargetState{}, err
	}
	if len(status) < 36 {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "status packet too short"}
	}
	magic := uint16(status[20])<<8 | uint16(status[21])
	if model.AmbiguousMagics[magic] {
		logrus.Debugf("ambiguous magic 0x%04x, using the table entry for this magic", magic)
	}
	desc, ok := model.Lookup(magic)
	if !ok {
		return TargetState{}, &protocolerr.UnknownModelError{Magic: magic}
	}
	logrus.Infof("target model: %s", desc.Name)

	externalClock := status[19]&0x01 != 0
	msrLen := len(status) - 23
	if msrLen > 64 {
		msrLen = 64
	}
	reg := options.NewStc15(msrLen, msrLen > 4)
	if msrLen > 0 {
		copy(reg.MSR, status[23:23+msrLen])
	}

	// status[1:3] is the wakeup-timer frequency in Hz, status[4] the
	// factory pre-calibrated trim adjust, and status[8:12]/status[13:15]
	// the factory-measured operating frequency: a pre-calibrated 32-bit
	// Hz value when clocked internally, or a raw counter to scale by
	// the handshake baud when the part runs off an external clock.
	wakeupFreqHz := float64(uint16(status[1])<<8 | uint16(status[2]))
	factoryTrimCounter := uint16(status[4])
	var factoryFreqHz float64
	if externalClock {
		count := uint16(status[13])<<8 | uint16(status[14])
		factoryFreqHz = float64(handshakeBaud) * float64(count)
	} else {
		raw := uint32(status[8])<<24 | uint32(status[9])<<16 | uint32(status[10])<<8 | uint32(status[11])
		if raw != 0xffffffff {
			factoryFreqHz = float64(raw)
		}
	}

	return TargetState{
		Descriptor:         desc,
		BSLVersion:         status[17],
		ExternalClock:      externalClock,
		Registry:           reg,
		WakeupFreqHz:       wakeupFreqHz,
		FactoryTrimCounter: factoryTrimCounter,
		FactoryFreqHz:      factoryFreqHz,
	}, nil
}

func (d *stc15) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	if st.ExternalClock {
		if err := d.switchBaudExternal(ctx, t, plan); err != nil {
			return err
		}
	} else {
		counter, freq, err := chooseTrim(ctx, t, d.codec, float64(plan.TransferBaud)*4, 0x0040, 0x00ff)
		var tfe *protocolerr.TrimFailedError
		if err != nil && !errors.As(err, &tfe) {
			return err
		}
		st.FreqCounterHz = freq
		_ = counter
	}

	testPayload := []byte{0x05}
	if st.BSLVersion >= 0x72 {
		testPayload = append(testPayload, 0x00, 0x00)
	}
	if err := sendPacket(t, d.codec, testPayload); err != nil {
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

func (d *stc15) switchBaudExternal(ctx context.Context, t transport.Transport, plan BaudPlan) error {
	divisor := uint16(230400 / plan.TransferBaud)
	payload := []byte{0x01, byte(divisor >> 8), byte(divisor)}
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	_, err := readPacket(ctx, t, d.codec, shortDeadline, false)
	return err
}

func (d *stc15) Trim(ctx context.Context, t transport.Transport, st *TargetState, targetHz float64) error {
	counter, freq, err := chooseTrim(ctx, t, d.codec, targetHz, 0x0040, 0x00ff)
	st.FreqCounterHz = freq
	if len(st.Registry.MSR) >= 2 {
		st.Registry.MSR[0] = byte(counter >> 8)
		st.Registry.MSR[1] = byte(counter)
	}
	return err
}

func (d *stc15) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	payload := []byte{0x03}
	if st.BSLVersion >= 0x72 {
		payload = append(payload, 0x00, 0x00)
	}
	if err := sendPacket(t, d.codec, payload); err != nil {
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

func (d *stc15) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	var finish []byte
	if st.BSLVersion >= 0x72 {
		finish = []byte{0x07}
	}
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
	}, finish)
}

func (d *stc15) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

// buildOptionsPacket embeds the trim counter and MSR bytes into the
// fixed 64-byte options packet layout the STC15 family expects.
func buildOptionsPacket(st *TargetState) []byte {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	copy(buf, st.Registry.MSR)
	return buf
}

func (d *stc15) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	payload := append([]byte{0x04}, buildOptionsPacket(st)...)
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

func (d *stc15) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}
