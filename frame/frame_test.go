package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip8(t *testing.T) {
	c := Codec{Checksum: Checksum8}
	f := Frame{Direction: DirHost, Payload: []byte{0x01, 0x02, 0x03, 0x04}}
	wire := c.Encode(f)

	got, n, err := c.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, f.Direction, got.Direction)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestEncodeDecodeRoundTrip16(t *testing.T) {
	c := Codec{Checksum: Checksum16}
	f := Frame{Direction: DirDevice, Payload: make([]byte, 64)}
	for i := range f.Payload {
		f.Payload[i] = byte(i)
	}
	wire := c.Encode(f)

	got, n, err := c.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestDecodeRejectsBadPreamble(t *testing.T) {
	c := Codec{Checksum: Checksum8}
	wire := c.Encode(Frame{Direction: DirHost, Payload: []byte{1}})
	wire[0] ^= 0xff

	_, _, err := c.Decode(wire)
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "preamble_mismatch", fe.Kind)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	c := Codec{Checksum: Checksum16}
	wire := c.Encode(Frame{Direction: DirHost, Payload: []byte{1, 2, 3}})
	wire[len(wire)-2] ^= 0xff

	_, _, err := c.Decode(wire)
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "checksum_mismatch", fe.Kind)
}

func TestDecodeRejectsMissingTerminator(t *testing.T) {
	c := Codec{Checksum: Checksum8}
	wire := c.Encode(Frame{Direction: DirHost, Payload: []byte{1}})
	wire[len(wire)-1] = 0x00

	_, _, err := c.Decode(wire)
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "terminator_missing", fe.Kind)
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	c := Codec{Checksum: Checksum8, MaxPayload: 8}
	wire := c.Encode(Frame{Direction: DirHost, Payload: make([]byte, 16)})

	_, _, err := c.Decode(wire)
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "length_out_of_range", fe.Kind)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	c := Codec{Checksum: Checksum8}
	wire := c.Encode(Frame{Direction: DirHost, Payload: []byte{1, 2, 3}})

	_, _, err := c.Decode(wire[:len(wire)-2])
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "truncated", fe.Kind)
}
