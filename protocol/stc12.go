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

// stc12a implements the P12A/STC12A dialect: even parity handshake,
// a richer option-commit exchange gated on the reported BSL version.
type stc12a struct {
	codec frame.Codec
}

// NewSTC12A returns the P12A/STC12A dialect engine.
func NewSTC12A() Dialect {
	return &stc12a{codec: frame.Codec{Checksum: frame.Checksum8, MaxPayload: 512}}
}

func (d *stc12a) Name() string       { return "stc12a" }
func (d *stc12a) BlockSize() int     { return 128 }
func (d *stc12a) Codec() frame.Codec { return d.codec }

func (d *stc12a) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	st, err := detectCommon(ctx, t, d.codec, 23, 26)
	if err != nil {
		return TargetState{}, err
	}
	st.Registry = options.NewStc12A()
	return st, nil
}

func (d *stc12a) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	return handshake89Style(ctx, t, d.codec, st, plan, 11059200, 16)
}

func (d *stc12a) Trim(context.Context, transport.Transport, *TargetState, float64) error {
	return &protocolerr.UnsupportedError{Operation: "trim", Reason: "stc12a has no RC trim"}
}

func (d *stc12a) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	return eraseWithCountdown(ctx, t, d.codec, 0x0d)
}

func (d *stc12a) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	return writeBlocks(ctx, t, d.codec, data, d.BlockSize(), report, stdBlockPayload(0x85), nil)
}

func (d *stc12a) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *stc12a) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	payload := append([]byte{0x8d}, st.Registry.MSR...)
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	resp, err := readPacket(ctx, t, d.codec, longDeadline, false)
	if err != nil {
		return err
	}
	if st.BSLVersion >= 0x66 {
		if err := sendPacket(t, d.codec, []byte{0x50}); err != nil {
			return err
		}
		if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
			return err
		}
	}
	if len(resp) > 0 && resp[0] != 0x50 {
		return &protocolerr.DeviceNakError{Phase: "program options", Code: resp[0]}
	}
	return nil
}

func (d *stc12a) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}

// stc12 implements the shared P12/P12B (STC12/STC12B) dialect: even
// parity, a three-step sync/test/commit handshake, a two-byte
// checksum and an explicit write-finish sentinel.
type stc12 struct {
	codec    frame.Codec
	useB     bool // reports the dialect as stc12b; both share the STC12 option layout
}

// NewSTC12 returns the P12/STC12 dialect engine.
func NewSTC12() Dialect { return &stc12{codec: stc12Codec()} }

// NewSTC12B returns the P12B/STC12B dialect engine.
func NewSTC12B() Dialect { return &stc12{codec: stc12Codec(), useB: true} }

func stc12Codec() frame.Codec {
	return frame.Codec{Checksum: frame.Checksum16, MaxPayload: 1024}
}

func (d *stc12) Name() string {
	if d.useB {
		return "stc12b"
	}
	return "stc12"
}
func (d *stc12) BlockSize() int     { return 128 }
func (d *stc12) Codec() frame.Codec { return d.codec }

func (d *stc12) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
	st, err := detectCommon(ctx, t, d.codec, 23, 26)
	if err != nil {
		return TargetState{}, err
	}
	st.Registry = options.NewStc12()
	return st, nil
}

func (d *stc12) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	if err := sendPacket(t, d.codec, []byte{0x50}); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
		return err
	}
	if err := sendPacket(t, d.codec, []byte{0x8f}); err != nil {
		return err
	}
	resp, err := readPacket(ctx, t, d.codec, shortDeadline, false)
	if err != nil || len(resp) == 0 || resp[0] != 0x8f {
		return &protocolerr.LinkLostError{Phase: "handshake check"}
	}
	divisor := baudDivisor(11059200, plan.TransferBaud, 32)
	payload := []byte{0x8e, byte(divisor >> 8), byte(divisor)}
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	resp, err = readPacket(ctx, t, d.codec, shortDeadline, false)
	if err != nil || len(resp) == 0 || resp[0] != 0x84 {
		return &protocolerr.LinkLostError{Phase: "handshake commit"}
	}
	return t.SetBaud(plan.TransferBaud)
}

func (d *stc12) Trim(context.Context, transport.Transport, *TargetState, float64) error {
	return &protocolerr.UnsupportedError{Operation: "trim", Reason: d.Name() + " has no RC trim"}
}

func (d *stc12) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	resp, err := eraseWithCountdownResp(ctx, t, d.codec, 0x0d)
	if err != nil {
		return err
	}
	if len(resp) >= 8 {
		st.UID = append([]byte{}, resp[1:8]...)
	}
	return nil
}

func (d *stc12) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	return writeBlocks(ctx, t, d.codec, data, d.BlockSize(), report, stdBlockPayload(0x85), []byte{0x69})
}

func (d *stc12) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *stc12) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	msr := st.Registry.MSR
	payload := make([]byte, 0, 1+2*len(msr))
	payload = append(payload, 0x8d)
	payload = append(payload, msr...)
	payload = append(payload, msr...)
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
	if len(st.UID) == 0 && len(resp) >= 25 {
		st.UID = append([]byte{}, resp[18:25]...)
	}
	return nil
}

func (d *stc12) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}

// detectCommon runs the generic pulse/sync + status-decode sequence
// shared by the STC12 family, slicing the UID out of
// status[uidStart:uidEnd] when present.
func detectCommon(ctx context.Context, t transport.Transport, c frame.Codec, uidStart, uidEnd int) (TargetState, error) {
	if err := pulse(ctx, t, 5*time.Second); err != nil {
		return TargetState{}, &protocolerr.LinkLostError{Phase: "pulse"}
	}
	status, err := readPacket(ctx, t, c, longDeadline, true)
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
	st := TargetState{Descriptor: desc, BSLVersion: status[17]}
	if uidEnd <= len(status) {
		st.UID = append([]byte{}, status[uidStart:uidEnd]...)
	}
	return st, nil
}

// handshake89Style is the checking/setting/ping-pong handshake used by
// stc12a, parameterized by clock rate and BRT divider; stc89 runs the
// same exchange inline in its own SwitchBaud.
func handshake89Style(ctx context.Context, t transport.Transport, c frame.Codec, st *TargetState, plan BaudPlan, clockHz, brtDivider int) error {
	if err := sendPacket(t, c, []byte{0x8f}); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, c, shortDeadline, false); err != nil {
		return err
	}
	divisor := baudDivisor(clockHz, plan.TransferBaud, brtDivider)
	payload := []byte{0x8e, byte(divisor >> 8), byte(divisor)}
	if err := sendPacket(t, c, payload); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, c, shortDeadline, false); err != nil {
		return err
	}
	if err := t.SetBaud(plan.TransferBaud); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := sendPacket(t, c, []byte{0x80}); err != nil {
			return err
		}
		if _, err := readPacket(ctx, t, c, shortDeadline, false); err != nil {
			return &protocolerr.LinkLostError{Phase: "baud switch ping-pong"}
		}
	}
	return nil
}

func eraseWithCountdown(ctx context.Context, t transport.Transport, c frame.Codec, countdown byte) error {
	_, err := eraseWithCountdownResp(ctx, t, c, countdown)
	return err
}

func eraseWithCountdownResp(ctx context.Context, t transport.Transport, c frame.Codec, countdown byte) ([]byte, error) {
	for b := int(countdown); b >= 0; b-- {
		if err := sendPacket(t, c, []byte{0x84, byte(b)}); err != nil {
			return nil, err
		}
	}
	return readPacket(ctx, t, c, longDeadline, false)
}

func stdBlockPayload(cmd byte) func(int, []byte) []byte {
	return func(blockIdx int, block []byte) []byte {
		payload := make([]byte, 0, 3+len(block))
		payload = append(payload, cmd, byte(blockIdx>>8), byte(blockIdx))
		return append(payload, block...)
	}
}
