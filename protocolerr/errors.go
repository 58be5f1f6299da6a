// Package protocolerr defines the typed failure modes raised while
// talking to an STC BSL: link loss, device NAKs, unrecognized models,
// ambiguous autodetection, unsupported operations, bad option values,
// bad images, failed RC trim, and user aborts. Malformed frames are
// reported by frame.FrameError instead.
package protocolerr

import "fmt"

// LinkLostError means a transport read or write failed, or the device
// did not answer before the read deadline.
type LinkLostError struct {
	Phase string
}

func (e *LinkLostError) Error() string {
	return fmt.Sprintf("link lost during %s", e.Phase)
}

// DeviceNakError means the device answered with an explicit negative
// acknowledgement for a command it understood.
type DeviceNakError struct {
	Phase string
	Code  byte
}

func (e *DeviceNakError) Error() string {
	return fmt.Sprintf("device rejected %s (code 0x%02x)", e.Phase, e.Code)
}

// UnknownModelError means the magic number decoded from the status
// packet has no entry in the model database.
type UnknownModelError struct {
	Magic uint16
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown MCU model (magic 0x%04x)", e.Magic)
}

// AutodetectAmbiguousError means more than one dialect's signature
// regex matched the model name decoded from the status packet.
type AutodetectAmbiguousError struct {
	Candidates []string
}

func (e *AutodetectAmbiguousError) Error() string {
	return fmt.Sprintf("autodetect ambiguous between dialects: %v", e.Candidates)
}

// UnsupportedError means the requested operation is not meaningful for
// the detected dialect or model, e.g. trim on a part without an RC
// oscillator or EEPROM on a part with none.
type UnsupportedError struct {
	Operation string
	Reason    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s unsupported: %s", e.Operation, e.Reason)
}

// BadOptionError means an option name or value failed validation
// before any bytes were sent to the device.
type BadOptionError struct {
	Name   string
	Value  string
	Reason string
}

func (e *BadOptionError) Error() string {
	return fmt.Sprintf("invalid option %s=%s: %s", e.Name, e.Value, e.Reason)
}

// BadImageError means the code or EEPROM image failed to parse or
// exceeded the target's flash/EEPROM capacity.
type BadImageError struct {
	Path   string
	Reason string
}

func (e *BadImageError) Error() string {
	return fmt.Sprintf("bad image %s: %s", e.Path, e.Reason)
}

// TrimFailedError means the RC oscillator trim search did not converge
// within tolerance before exhausting its challenge/response budget.
type TrimFailedError struct {
	BestErrorPercent float64
}

func (e *TrimFailedError) Error() string {
	return fmt.Sprintf("RC trim failed to converge, best error %.2f%%", e.BestErrorPercent)
}

// UserAbortError means the session was cancelled by the caller
// (SIGINT or a cancelled context) rather than a protocol failure.
type UserAbortError struct {
	Phase string
}

func (e *UserAbortError) Error() string {
	return fmt.Sprintf("aborted during %s", e.Phase)
}
