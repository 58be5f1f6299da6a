package protocol

import (
	"context"
	"time"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/model"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/transport"
)

// TargetState is everything learned about the connected device over
// the course of a session: its model, its reported BSL version, and
// the bits of silicon trivia a few dialects expose (UID, external
// clock, manufacturing date). ReferenceVolts is not filled in by any
// dialect engine.
type TargetState struct {
	Descriptor     model.Descriptor
	BSLVersion     byte
	UID            []byte
	ExternalClock  bool
	// FactoryFreqHz, FactoryTrimCounter and WakeupFreqHz are read out of
	// the status packet at identify time: the oscillator frequency (and,
	// on some dialects, the wakeup-timer frequency) the device was
	// factory-calibrated to, independent of anything a later trim or
	// baud switch does.
	FactoryFreqHz      float64
	FactoryTrimCounter uint16
	WakeupFreqHz       float64
	// FreqCounterHz is the frequency a live trim challenge most recently
	// reported, populated during SwitchBaud/Trim, not at identify time.
	FreqCounterHz  float64
	MfgDate        string
	ReferenceVolts float64
	Registry       *options.Registry
}

// BaudPlan is the input to baud negotiation: the handshake baud both
// sides already agree on and the transfer baud the host asks for.
// Divisor is not filled in by the session or any dialect engine.
type BaudPlan struct {
	HandshakeBaud int
	TransferBaud  int
	Divisor       uint16
}

// Dialect is the capability set every BSL dialect engine implements.
// A session drives these eight operations in a fixed order; dialects
// differ only in how each is carried out, not in the order.
type Dialect interface {
	Name() string
	// Detect performs the pulse/sync handshake at handshakeBaud and
	// decodes the status packet into a TargetState, including the
	// factory-calibrated frequency fields the status packet carries.
	Detect(ctx context.Context, t transport.Transport, handshakeBaud int) (TargetState, error)
	// SwitchBaud negotiates and applies the transfer baud rate.
	SwitchBaud(ctx context.Context, t transport.Transport, st *TargetState, plan BaudPlan) error
	// Trim runs the RC oscillator trim search. Dialects without a
	// trimmable oscillator return UnsupportedError.
	Trim(ctx context.Context, t transport.Transport, st *TargetState, targetHz float64) error
	Erase(ctx context.Context, t transport.Transport, st *TargetState, codeLen int) error
	WriteCode(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(sent, total int)) error
	WriteEeprom(ctx context.Context, t transport.Transport, st *TargetState, data []byte, report func(sent, total int)) error
	WriteOptions(ctx context.Context, t transport.Transport, st *TargetState) error
	Terminate(ctx context.Context, t transport.Transport, st *TargetState, bestEffort bool) error
	// BlockSize is the program/erase granularity this dialect expects.
	BlockSize() int
	// Codec is the frame codec this dialect's transport framing uses.
	Codec() frame.Codec
}

const (
	shortDeadline = 1 * time.Second
	longDeadline  = 15 * time.Second
)
