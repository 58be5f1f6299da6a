package protocol

import (
	"context"
	"time"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// trimSample is one challenge/response pair from the RC trim search:
// a trim counter value sent to the device and the frequency counter
// it reported back for that setting.
type trimSample struct {
	counter uint16
	freq    float64
}

// probeTrim sends a single trim-challenge command (0x65) carrying
// counter and returns the frequency the device measured in response.
func probeTrim(ctx context.Context, t transport.Transport, c frame.Codec, counter uint16) (float64, error) {
	payload := []byte{0x65, byte(counter >> 8), byte(counter)}
	if err := sendPacket(t, c, payload); err != nil {
		return 0, err
	}
	resp, err := readPacket(ctx, t, c, shortDeadline, false)
	if err != nil {
		return 0, err
	}
	if len(resp) < 5 {
		return 0, &protocolerr.TrimFailedError{BestErrorPercent: 100}
	}
	// Device reports four raw counter words; the trim search uses
	// their average as its frequency estimate.
	sum := 0
	words := (len(resp) - 1) / 2
	for i := 0; i < words; i++ {
		sum += int(resp[1+2*i])<<8 | int(resp[2+2*i])
	}
	if words == 0 {
		return 0, &protocolerr.TrimFailedError{BestErrorPercent: 100}
	}
	return float64(sum) / float64(words), nil
}

// chooseTrim runs a two-round challenge/response search for the trim
// counter producing the RC oscillator frequency closest to targetHz,
// by probing two bracketing counters and linearly interpolating
// between their reported frequencies before probing the interpolated
// point, matching the STC15/STC8 trim search's convergence strategy.
func chooseTrim(ctx context.Context, t transport.Transport, c frame.Codec, targetHz float64, coarseLo, coarseHi uint16) (uint16, float64, error) {
	a, err := trimRound(ctx, t, c, coarseLo)
	if err != nil {
		return 0, 0, err
	}
	b, err := trimRound(ctx, t, c, coarseHi)
	if err != nil {
		return 0, 0, err
	}
	if a.freq == b.freq {
		return a.counter, a.freq, nil
	}
	slope := (float64(b.counter) - float64(a.counter)) / (b.freq - a.freq)
	interpCounter := uint16(float64(a.counter) + slope*(targetHz-a.freq))
	fine, err := trimRound(ctx, t, c, interpCounter)
	if err != nil {
		return 0, 0, err
	}

	best := a
	if absf(b.freq-targetHz) < absf(best.freq-targetHz) {
		best = b
	}
	if absf(fine.freq-targetHz) < absf(best.freq-targetHz) {
		best = fine
	}

	errPct := absf(best.freq-targetHz) / targetHz * 100
	if errPct > 0.5 {
		return best.counter, best.freq, &protocolerr.TrimFailedError{BestErrorPercent: errPct}
	}
	return best.counter, best.freq, nil
}

func trimRound(ctx context.Context, t transport.Transport, c frame.Codec, counter uint16) (trimSample, error) {
	freq, err := probeTrim(ctx, t, c, counter)
	if err != nil {
		return trimSample{}, err
	}
	return trimSample{counter: counter, freq: freq}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

const trimSettleDelay = 5 * time.Millisecond
