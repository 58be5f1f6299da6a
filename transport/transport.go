// Package transport carries raw bytes between the host and an STC
// device, over either a UART or a USB control/bulk pipe. Dialect
// engines only see the Transport interface; they never touch
// go.bug.st/serial or gousb directly.
package transport

import (
	"context"
	"time"
)

// Transport is the minimal byte pipe a dialect engine needs. Every
// read takes an explicit deadline rather than a port-wide timeout so
// that a single session can run the handshake at a short deadline and
// flash programming at a much longer one.
type Transport interface {
	Write(p []byte) error
	ReadExactly(ctx context.Context, n int, deadline time.Duration) ([]byte, error)
	SetBaud(baud int) error
	SetParity(even bool) error
	AssertReset(d time.Duration) error
	Drain() error
	Close() error
}
