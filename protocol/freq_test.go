package protocol

import "testing"

func TestAverageFreqCounterWords(t *testing.T) {
	// Two words: 0x2B51 and 0x2B53 average to 0x2B52.
	b := []byte{0x2B, 0x51, 0x2B, 0x53}
	got := averageFreqCounterWords(b)
	if got != float64(0x2B52) {
		t.Fatalf("averageFreqCounterWords(%x) = %v, want %v", b, got, float64(0x2B52))
	}
}

func TestAverageFreqCounterWordsEmpty(t *testing.T) {
	if got := averageFreqCounterWords(nil); got != 0 {
		t.Fatalf("averageFreqCounterWords(nil) = %v, want 0", got)
	}
}
