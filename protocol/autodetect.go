package protocol

import (
	"context"
	"regexp"
	"time"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// signature pairs a dialect name with the regex its model name must
// match. Autodetect tries every entry; list order only sets the order
// in which candidates are reported, and a name matching more than one
// regex is reported as ambiguous rather than resolved by position.
type signature struct {
	dialect string
	pattern *regexp.Regexp
}

var signatures = []signature{
	{"stc89", regexp.MustCompile(`STC(89|90)(C|LE)\d`)},
	{"stc12a", regexp.MustCompile(`STC12(C|LE)\d052`)},
	{"stc12b", regexp.MustCompile(`STC12(C|LE)(52|56)`)},
	{"stc12", regexp.MustCompile(`(STC|IAP)(10|11|12)\D`)},
	{"stc15a", regexp.MustCompile(`(STC|IAP)15[FL][012]0\d(E|EA|)`)},
	{"stc15", regexp.MustCompile(`(STC|IAP|IRC)15\D`)},
	{"stc8", regexp.MustCompile(`(STC|IAP|IRC)8`)},
}

// Autodetect listens at the handshake baud for the lead-in byte,
// decodes the model name the way every dialect's status packet does,
// and matches it against each dialect's signature regex in
// preference order. More than one match is reported as an ambiguity
// rather than guessed at.
func Autodetect(ctx context.Context, t transport.Transport) (string, TargetState, error) {
	probe := frame.Codec{Checksum: frame.Checksum8, MaxPayload: 512}
	if err := pulse(ctx, t, 5*time.Second); err != nil {
		return "", TargetState{}, &protocolerr.LinkLostError{Phase: "autodetect pulse"}
	}
	status, err := readPacket(ctx, t, probe, longDeadline, true)
	if err != nil {
		return "", TargetState{}, err
	}
	name := modelNameFromStatus(status)

	var matches []string
	for _, sig := range signatures {
		if sig.pattern.MatchString(name) {
			matches = append(matches, sig.dialect)
		}
	}
	if len(matches) == 0 {
		return "", TargetState{}, &protocolerr.UnknownModelError{}
	}
	if len(matches) > 1 {
		return "", TargetState{}, &protocolerr.AutodetectAmbiguousError{Candidates: matches}
	}
	return matches[0], TargetState{}, nil
}

// modelNameFromStatus extracts the printable model-name substring the
// status packet carries, used only for signature matching during
// autodetection; the concrete dialect engines look the model up by
// magic number instead once the dialect is known.
func modelNameFromStatus(status []byte) string {
	start := 4
	end := start + 16
	if end > len(status) {
		end = len(status)
	}
	if start >= end {
		return ""
	}
	raw := status[start:end]
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b >= 0x20 && b < 0x7f {
			out = append(out, b)
		}
	}
	return string(out)
}

// New constructs a dialect engine by its CLI name, or nil if name is
// not recognized.
func New(name string) Dialect {
	switch name {
	case "stc89":
		return NewSTC89()
	case "stc12a":
		return NewSTC12A()
	case "stc12b":
		return NewSTC12B()
	case "stc12":
		return NewSTC12()
	case "stc15a":
		return NewSTC15A()
	case "stc15":
		return NewSTC15()
	case "stc8":
		return NewSTC8()
	case "usb15":
		return NewUSB15()
	default:
		return nil
	}
}
