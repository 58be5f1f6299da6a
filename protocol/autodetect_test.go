package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelNameFromStatusExtractsPrintable(t *testing.T) {
	status := make([]byte, 22)
	copy(status[4:], []byte("IAP15F2K61S2\x00\x00\x00\x00"))
	assert.Equal(t, "IAP15F2K61S2", modelNameFromStatus(status))
}

func TestSignatureMatchesExpectedDialect(t *testing.T) {
	cases := map[string]string{
		"STC89C52RC":     "stc89",
		"STC12C5201AD":   "stc12a",
		"STC12C5608AD":   "stc12",
		"IAP15F2K61S2":   "stc15a",
		"IAP15W4K61S4":   "stc15",
		"STC8A8K64S4A12": "stc8",
	}
	for name, want := range cases {
		var matches []string
		for _, sig := range signatures {
			if sig.pattern.MatchString(name) {
				matches = append(matches, sig.dialect)
			}
		}
		assert.Contains(t, matches, want, "model %s should match %s", name, want)
	}
}

func TestNewReturnsNilForUnknownDialect(t *testing.T) {
	assert.Nil(t, New("not-a-dialect"))
	assert.NotNil(t, New("stc89"))
}
