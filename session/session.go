// Package session drives one full programming run: identify,
// baud-switch, optional trim, erase, write code/EEPROM, write options,
// terminate —
// in strict order, with the retry policy spec'd for frame errors and
// link loss, and mapped onto the CLI's three exit codes.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/imagefile"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/progress"
	"github.com/mdraculin/stc-isp/protocol"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// Options carries everything a session needs, translated 1:1 from the
// CLI flags.
type Options struct {
	Port            string
	DialectName     string // "auto" or one of the fixed dialect names
	HandshakeBaud   int
	TransferBaud    int
	Trim            float64 // target oscillator frequency in kHz, 0 = no trim requested
	CodeImagePath   *paths.Path
	EepromImagePath *paths.Path
	SetOptions      map[string]string
	Autoreset       bool
	ResetPin        string // "dtr" or "rts"
	ResetCmd        string
}

// PowerCycle is injected so the session never talks to a terminal or
// a specific reset mechanism directly; the CLI supplies a closure
// that pulses DTR/RTS or runs --resetcmd.
type PowerCycle func() error

// Session runs one programming pass against a single connected
// device.
type Session struct {
	opts     Options
	cycle    PowerCycle
	reporter progress.Reporter
}

// New builds a session ready to Run.
func New(opts Options, cycle PowerCycle, reporter progress.Reporter) *Session {
	if reporter == nil {
		reporter = progress.Discard{}
	}
	return &Session{opts: opts, cycle: cycle, reporter: reporter}
}

// Run executes the full programming sequence and returns the exit
// code the CLI should use: 0 on success, 1 on a protocol/IO failure,
// 2 on user abort.
func (s *Session) Run(ctx context.Context) int {
	if err := s.preflightValidateOptions(); err != nil {
		return s.fail(err, nil, nil)
	}

	if s.cycle != nil {
		if err := s.cycle(); err != nil {
			logrus.Warnf("power cycle hook failed: %v", err)
		}
	}

	dialect, tr, st, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = &protocolerr.UserAbortError{Phase: "connect"}
		}
		return s.fail(err, nil, nil)
	}
	defer tr.Close()

	// Mirrors the original front-end: an identify-only run (no code
	// image) just disconnects cleanly instead of running the write
	// pipeline.
	if s.opts.CodeImagePath == nil {
		s.reporter.OnPhase("terminate")
		if err := dialect.Terminate(ctx, tr, &st, false); err != nil {
			if ctx.Err() != nil {
				err = &protocolerr.UserAbortError{Phase: "terminate"}
			}
			return s.fail(err, dialect, tr)
		}
		logrus.Info("identify completed successfully")
		return 0
	}

	if err := s.program(ctx, dialect, tr, &st); err != nil {
		if ctx.Err() != nil {
			err = &protocolerr.UserAbortError{Phase: "program"}
		}
		return s.fail(err, dialect, tr)
	}

	if len(st.UID) > 0 {
		logrus.Infof("target UID: %X", st.UID)
	}
	logrus.Info("operation completed successfully")
	return 0
}

// preflightValidateOptions rejects an unrecognized option name or an
// out-of-domain value before the power cycle or any transport is
// opened, so BadOptionError never follows device I/O. The real
// per-device registry (with its actual MSR size and current option
// bytes) only exists after identify, so this checks each name/value
// against options.PreflightRegistries instead: the selected dialect's
// default registry, or every dialect's for "auto" and "usb15". An
// option that none of those accepts is rejected here, and applyOptions commits
// the already-validated values onto the real registry once connected.
func (s *Session) preflightValidateOptions() error {
	regs := options.PreflightRegistries(s.opts.DialectName)
	for name, value := range s.opts.SetOptions {
		var lastErr error
		accepted := false
		for _, reg := range regs {
			if err := reg.Set(name, value); err == nil {
				accepted = true
				break
			} else {
				lastErr = err
			}
		}
		if !accepted {
			return &protocolerr.BadOptionError{Name: name, Value: value, Reason: lastErr.Error()}
		}
	}
	return nil
}

func (s *Session) connect(ctx context.Context) (protocol.Dialect, transport.Transport, protocol.TargetState, error) {
	even := s.opts.DialectName != "stc89"
	if s.opts.DialectName == "usb15" {
		tr, err := transport.OpenUSB()
		if err != nil {
			return nil, nil, protocol.TargetState{}, err
		}
		d := protocol.NewUSB15()
		st, err := s.retryDetect(ctx, d, tr)
		return d, tr, st, err
	}

	tr, err := transport.OpenSerial(s.opts.Port, s.opts.HandshakeBaud, even)
	if err != nil {
		return nil, nil, protocol.TargetState{}, err
	}

	if s.opts.DialectName == "auto" {
		name, _, err := protocol.Autodetect(ctx, tr)
		if err != nil {
			tr.Close()
			return nil, nil, protocol.TargetState{}, err
		}
		logrus.Infof("autodetected dialect: %s", name)
		d := protocol.New(name)
		if err := tr.Drain(); err != nil {
			tr.Close()
			return nil, nil, protocol.TargetState{}, err
		}
		st, err := s.retryDetect(ctx, d, tr)
		if err != nil {
			tr.Close()
		}
		return d, tr, st, err
	}

	d := protocol.New(s.opts.DialectName)
	if d == nil {
		tr.Close()
		return nil, nil, protocol.TargetState{}, fmt.Errorf("unknown dialect %q", s.opts.DialectName)
	}
	st, err := s.retryDetect(ctx, d, tr)
	if err != nil {
		tr.Close()
	}
	return d, tr, st, err
}

// retryDetect retries the identify handshake up to three times on a
// FrameError, matching the session-level retry policy.
func (s *Session) retryDetect(ctx context.Context, d protocol.Dialect, tr transport.Transport) (protocol.TargetState, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		st, err := d.Detect(ctx, tr, s.opts.HandshakeBaud)
		if err == nil {
			return st, nil
		}
		var fe *frame.FrameError
		if !errors.As(err, &fe) {
			return protocol.TargetState{}, err
		}
		lastErr = err
		logrus.Debugf("frame error on attempt %d: %v", attempt+1, err)
	}
	return protocol.TargetState{}, lastErr
}

func (s *Session) program(ctx context.Context, d protocol.Dialect, tr transport.Transport, st *protocol.TargetState) error {
	code, eeprom, err := s.loadImages(st)
	if err != nil {
		return err
	}
	// Already rejected by preflightValidateOptions if a name or value
	// was bad; this commits the same values onto the real per-device
	// registry now that identify has populated it.
	if err := s.applyOptions(st); err != nil {
		return err
	}

	plan := protocol.BaudPlan{HandshakeBaud: s.opts.HandshakeBaud, TransferBaud: s.opts.TransferBaud}

	s.reporter.OnPhase("baud-switch")
	if err := s.withHalfBaudFallback(ctx, d, tr, st, plan); err != nil {
		return err
	}

	if s.opts.Trim > 0 {
		s.reporter.OnPhase("trim")
		if err := d.Trim(ctx, tr, st, s.opts.Trim*1000); err != nil {
			var unsupported *protocolerr.UnsupportedError
			if !errors.As(err, &unsupported) {
				return err
			}
			logrus.Warnf("trim skipped: %v", err)
		}
	}

	s.reporter.OnPhase("erase")
	if err := d.Erase(ctx, tr, st, len(code.Data)); err != nil {
		return err
	}

	s.reporter.OnPhase("write-code")
	if err := d.WriteCode(ctx, tr, st, code.Data, s.reporter.OnBytes); err != nil {
		return err
	}

	if len(eeprom.Data) > 0 {
		s.reporter.OnPhase("write-eeprom")
		if err := d.WriteEeprom(ctx, tr, st, eeprom.Data, s.reporter.OnBytes); err != nil {
			return err
		}
	}

	s.reporter.OnPhase("write-options")
	if err := d.WriteOptions(ctx, tr, st); err != nil {
		return err
	}

	s.reporter.OnPhase("terminate")
	return d.Terminate(ctx, tr, st, false)
}

// withHalfBaudFallback retries the baud switch once at half the
// requested transfer baud on LinkLost, per the session retry policy.
func (s *Session) withHalfBaudFallback(ctx context.Context, d protocol.Dialect, tr transport.Transport, st *protocol.TargetState, plan protocol.BaudPlan) error {
	err := d.SwitchBaud(ctx, tr, st, plan)
	if err == nil {
		return nil
	}
	var lle *protocolerr.LinkLostError
	if !errors.As(err, &lle) {
		return err
	}
	logrus.Warnf("baud switch failed at %d, retrying at half rate", plan.TransferBaud)
	plan.TransferBaud /= 2
	return d.SwitchBaud(ctx, tr, st, plan)
}

func (s *Session) loadImages(st *protocol.TargetState) (imagefile.Image, imagefile.Image, error) {
	var code, eeprom imagefile.Image
	if s.opts.CodeImagePath != nil {
		img, err := loadFile(s.opts.CodeImagePath, st.Descriptor.CodeSizeBytes)
		if err != nil {
			return code, eeprom, &protocolerr.BadImageError{Path: s.opts.CodeImagePath.String(), Reason: err.Error()}
		}
		if st.Descriptor.CodeSizeBytes > 0 && len(img.Data) > st.Descriptor.CodeSizeBytes {
			return code, eeprom, &protocolerr.BadImageError{
				Path:   s.opts.CodeImagePath.String(),
				Reason: fmt.Sprintf("image is %d bytes, larger than the %d-byte code flash", len(img.Data), st.Descriptor.CodeSizeBytes),
			}
		}
		code = img
	}
	if s.opts.EepromImagePath != nil {
		img, err := loadFile(s.opts.EepromImagePath, st.Descriptor.EepromSizeBytes)
		if err != nil {
			return code, eeprom, &protocolerr.BadImageError{Path: s.opts.EepromImagePath.String(), Reason: err.Error()}
		}
		if st.Descriptor.EepromSizeBytes > 0 && len(img.Data) > st.Descriptor.EepromSizeBytes {
			return code, eeprom, &protocolerr.BadImageError{
				Path:   s.opts.EepromImagePath.String(),
				Reason: fmt.Sprintf("image is %d bytes, larger than the %d-byte EEPROM", len(img.Data), st.Descriptor.EepromSizeBytes),
			}
		}
		eeprom = img
	}
	return code, eeprom, nil
}

func (s *Session) applyOptions(st *protocol.TargetState) error {
	for name, value := range s.opts.SetOptions {
		if err := st.Registry.Set(name, value); err != nil {
			return &protocolerr.BadOptionError{Name: name, Value: value, Reason: err.Error()}
		}
	}
	return nil
}

func (s *Session) fail(err error, d protocol.Dialect, tr transport.Transport) int {
	tctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	var abort *protocolerr.UserAbortError
	if errors.As(err, &abort) {
		if d != nil && tr != nil {
			_ = d.Terminate(tctx, tr, &protocol.TargetState{}, true)
		}
		logrus.Error(err)
		return 2
	}
	if d != nil && tr != nil {
		_ = d.Terminate(tctx, tr, &protocol.TargetState{}, true)
	}
	logrus.Error(err)
	return 1
}

func loadFile(path *paths.Path, maxSize int) (imagefile.Image, error) {
	f, err := path.Open()
	if err != nil {
		return imagefile.Image{}, err
	}
	defer f.Close()
	return imagefile.LoadAuto(path.String(), f, maxSize)
}

// terminateTimeout is the ceiling the session waits for a best-effort
// terminate before giving up and returning control to the CLI.
const terminateTimeout = 2 * time.Second
