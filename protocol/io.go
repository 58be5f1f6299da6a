package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// sendPacket encodes payload as a host-directed frame and writes it.
func sendPacket(t transport.Transport, c frame.Codec, payload []byte) error {
	wire := c.Encode(frame.Frame{Direction: frame.DirHost, Payload: payload})
	return t.Write(wire)
}

// readPacket reads one device-directed frame with the given deadline.
// Some BSL versions omit the frame preamble on the status packet that
// follows a sync pulse; callers that expect that case pass
// allowMissingPreamble=true and get back the raw bytes read so far
// reinterpreted as a bare payload when no preamble appears.
func readPacket(ctx context.Context, t transport.Transport, c frame.Codec, deadline time.Duration, allowMissingPreamble bool) ([]byte, error) {
	header, err := t.ReadExactly(ctx, frame.HeaderLen, deadline)
	if err != nil {
		return nil, &protocolerr.LinkLostError{Phase: "read header"}
	}
	if allowMissingPreamble && (header[0] != 0x46 || header[1] != 0xb9) {
		logrus.Debug("status packet missing frame start, treating header as payload")
		return readPreambleLess(ctx, t, c, header, deadline)
	}
	remaining, err := frame.DeclaredLength(header, c.Checksum)
	if err != nil {
		return nil, err
	}
	rest, err := t.ReadExactly(ctx, remaining, deadline)
	if err != nil {
		return nil, &protocolerr.LinkLostError{Phase: "read body"}
	}
	full := append(append([]byte{}, header...), rest...)
	f, _, err := c.Decode(full)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// readPreambleLess handles the BSL versions that skip the two-byte
// frame start on the status packet: the five bytes already read are
// [direction, length_hi, length_lo, payload0, payload1], so the
// declared length is recovered from bytes [1:3] rather than [3:5].
func readPreambleLess(ctx context.Context, t transport.Transport, c frame.Codec, already []byte, deadline time.Duration) ([]byte, error) {
	length := int(already[1])<<8 | int(already[2])
	if length < 3 {
		return nil, &frame.FrameError{Kind: "length_out_of_range"}
	}
	checksumWidth := 2
	if c.Checksum == frame.Checksum8 {
		checksumWidth = 1
	}
	remaining := length - 3 + checksumWidth + 1 - (len(already) - 3)
	if remaining < 0 {
		remaining = 0
	}
	rest, err := t.ReadExactly(ctx, remaining, deadline)
	if err != nil {
		return nil, &protocolerr.LinkLostError{Phase: "read preamble-less body"}
	}
	body := append(append([]byte{}, already[3:]...), rest...)
	if len(body) < length-3+checksumWidth+1 {
		return nil, &frame.FrameError{Kind: "truncated"}
	}
	payload := body[:length-3]
	return payload, nil
}

// pulse sends the BSL sync byte repeatedly until the device responds
// with its lead-in byte or the timeout elapses.
func pulse(ctx context.Context, t transport.Transport, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	sync := []byte{0x7f}
	for time.Now().Before(deadline) {
		if err := t.Write(sync); err != nil {
			return err
		}
		buf, err := t.ReadExactly(ctx, 1, 50*time.Millisecond)
		if err == nil && len(buf) == 1 && buf[0] == 0x46 {
			return nil
		}
	}
	return fmt.Errorf("no response from device within %s", timeout)
}
