package imagefile

import (
	"fmt"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBinaryPassesThrough(t *testing.T) {
	img, err := LoadBinary(strings.NewReader("\x01\x02\x03"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, img.Data)
}

func TestLoadBinaryRejectsOversizedImage(t *testing.T) {
	_, err := LoadBinary(strings.NewReader("\x01\x02\x03\x04"), 3)
	require.Error(t, err)
}

func TestLoadIntelHexSimple(t *testing.T) {
	hexFile := ":1000000001020304050607080900010203040506AE\n" +
		":00000001FF\n"
	img, err := LoadIntelHex(strings.NewReader(hexFile), 0)
	require.NoError(t, err)
	require.Len(t, img.Data, 16)
	assert.Equal(t, byte(1), img.Data[0])
}

func TestLoadIntelHexRejectsBadChecksum(t *testing.T) {
	hexFile := ":100000000102030405060708090001020304050600\n"
	_, err := LoadIntelHex(strings.NewReader(hexFile), 0)
	require.Error(t, err)
}

func TestLoadIntelHexRejectsOverlappingRecords(t *testing.T) {
	hexFile := encodeIntelHexRecord(0, 0x00, []byte{0xaa, 0xbb}) +
		encodeIntelHexRecord(1, 0x00, []byte{0xcc}) +
		":00000001FF\n"
	_, err := LoadIntelHex(strings.NewReader(hexFile), 0)
	require.Error(t, err)
}

func TestLoadIntelHexRejectsRecordsPastCodeSize(t *testing.T) {
	hexFile := encodeIntelHexRecord(0, 0x00, []byte{0xaa, 0xbb, 0xcc, 0xdd}) +
		":00000001FF\n"
	_, err := LoadIntelHex(strings.NewReader(hexFile), 3)
	require.Error(t, err)
}

func TestLoadIntelHexAcceptsRecordsExactlyAtCodeSize(t *testing.T) {
	hexFile := encodeIntelHexRecord(0, 0x00, []byte{0xaa, 0xbb, 0xcc}) +
		":00000001FF\n"
	img, err := LoadIntelHex(strings.NewReader(hexFile), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, img.Data)
}

func TestLoadAutoDispatchesOnSuffix(t *testing.T) {
	img, err := LoadAuto("firmware.HEX", strings.NewReader(":00000001FF\n"), 0)
	require.NoError(t, err)
	assert.Empty(t, img.Data)

	img, err = LoadAuto("firmware.bin", strings.NewReader("\x00\x01"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, img.Data)
}

// TestLoadIntelHexRoundTripsArbitraryData checks that any byte slice
// encoded as 16-byte Intel HEX data records starting at address 0
// decodes back to exactly the same bytes, covering lengths that
// aren't a multiple of the record size.
func TestLoadIntelHexRoundTripsArbitraryData(t *testing.T) {
	prop := func(data []byte) bool {
		if len(data) == 0 || len(data) > 4096 {
			return true
		}
		hexFile := encodeIntelHex(data)
		img, err := LoadIntelHex(strings.NewReader(hexFile), 0)
		if err != nil {
			return false
		}
		return string(img.Data) == string(data)
	}
	require.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 4096}))
}

func encodeIntelHex(data []byte) string {
	var sb strings.Builder
	const recLen = 16
	for i := 0; i < len(data); i += recLen {
		end := i + recLen
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		sb.WriteString(encodeIntelHexRecord(uint16(i), 0x00, chunk))
	}
	sb.WriteString(":00000001FF\n")
	return sb.String()
}

func encodeIntelHexRecord(addr uint16, recType byte, data []byte) string {
	raw := make([]byte, 0, 4+len(data)+1)
	raw = append(raw, byte(len(data)), byte(addr>>8), byte(addr), recType)
	raw = append(raw, data...)
	var sum byte
	for _, b := range raw {
		sum += b
	}
	raw = append(raw, byte(0x100-int(sum)))
	return fmt.Sprintf(":%X\n", raw)
}

func TestPadTo(t *testing.T) {
	out := PadTo([]byte{1, 2, 3}, 4)
	assert.Equal(t, []byte{1, 2, 3, 0xff}, out)

	out = PadTo([]byte{1, 2, 3, 4}, 4)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}
