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

// stc15a implements the P15A/STC15A dialect: 64-byte program blocks,
// a trimmable RC oscillator, and a 13-byte option buffer with the
// trim counter embedded at msr[3:5].
type stc15a struct {
	codec frame.Codec
}

// NewSTC15A returns the P15A/STC15A dialect engine.
func NewSTC15A() Dialect {
	return &stc15a{codec: frame.Codec{Checksum: frame.Checksum16, MaxPayload: 1024}}
}

func (d *stc15a) Name() string       { return "stc15a" }
func (d *stc15a) BlockSize() int     { return 64 }
func (d *stc15a) Codec() frame.Codec { return d.codec }

func (d *stc15a) Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error) {
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

	reg := options.NewStc15A()
	copy(reg.MSR, status[23:36])

	// The status packet carries four raw frequency-counter words at
	// status[1:9]; their average times the handshake baud, scaled by
	// 12/7, gives the factory-calibrated operating frequency,
	// independent of the trim challenge Trim runs later.
	freqCounter := averageFreqCounterWords(status[1:9])
	st := TargetState{
		Descriptor:         desc,
		BSLVersion:         status[17],
		Registry:           reg,
		FactoryTrimCounter: uint16(freqCounter + 0.5),
		FactoryFreqHz:      float64(handshakeBaud) * freqCounter * 12.0 / 7.0,
	}
	return st, nil
}

// averageFreqCounterWords averages the big-endian uint16 words packed
// into b, as the status packet's frequency-counter field does.
func averageFreqCounterWords(b []byte) float64 {
	var sum float64
	words := len(b) / 2
	for i := 0; i < words; i++ {
		sum += float64(uint16(b[2*i])<<8 | uint16(b[2*i+1]))
	}
	if words == 0 {
		return 0
	}
	return sum / float64(words)
}

func (d *stc15a) SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error {
	divisor := uint16(230400 / plan.TransferBaud)
	payload := []byte{0x8e, byte(divisor >> 8), byte(divisor)}
	if err := sendPacket(t, d.codec, payload); err != nil {
		return err
	}
	if _, err := readPacket(ctx, t, d.codec, shortDeadline, false); err != nil {
		return &protocolerr.LinkLostError{Phase: "baud switch"}
	}
	return t.SetBaud(plan.TransferBaud)
}

func (d *stc15a) Trim(ctx context.Context, t transport.Transport, st *TargetState, targetHz float64) error {
	counter, freq, err := chooseTrim(ctx, t, d.codec, targetHz, 0x0040, 0x00ff)
	if err != nil {
		var tfe *protocolerr.TrimFailedError
		if !errors.As(err, &tfe) {
			return err
		}
	}
	st.FreqCounterHz = freq
	st.Registry.MSR[3] = byte(counter >> 8)
	st.Registry.MSR[4] = byte(counter)
	return err
}

func (d *stc15a) Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error {
	if err := sendPacket(t, d.codec, []byte{0x03}); err != nil {
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

func (d *stc15a) WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
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
	}, nil)
}

func (d *stc15a) WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(int, int)) error {
	if len(data) == 0 {
		return nil
	}
	return d.WriteCode(ctx, t, st, data, report)
}

func (d *stc15a) WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error {
	payload := append([]byte{0x8d}, st.Registry.MSR...)
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

func (d *stc15a) Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error {
	err := sendPacket(t, d.codec, []byte{0x82})
	if err != nil && !bestEffort {
		return err
	}
	return nil
}
