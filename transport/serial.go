package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial is the UART transport used by every dialect except usb15.
// It is grounded on the teacher's serial-open retry loop, generalized
// from a fixed list of candidate baud rates to a single explicit one
// since the BSL handshake baud is always known up front.
type Serial struct {
	port serial.Port
	name string
}

// OpenSerial opens the named port at the given handshake baud rate,
// 8 data bits and (depending on the dialect) even or no parity.
func OpenSerial(name string, baud int, even bool) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if even {
		mode.Parity = serial.EvenParity
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	logrus.Debugf("opened %s at %d baud", name, baud)
	return &Serial{port: port, name: name}, nil
}

func (s *Serial) Write(p []byte) error {
	logrus.Debugf("-> %x", p)
	_, err := s.port.Write(p)
	return err
}

// ReadExactly blocks until n bytes have been read, the deadline
// elapses, or ctx is cancelled, whichever comes first.
func (s *Serial) ReadExactly(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if err := s.port.SetReadTimeout(deadline); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read := 0
	deadlineAt := time.Now().Add(deadline)
	for read < n {
		if err := ctx.Err(); err != nil {
			return buf[:read], err
		}
		if time.Now().After(deadlineAt) {
			return buf[:read], fmt.Errorf("read timeout after %d/%d bytes", read, n)
		}
		got, err := s.port.Read(buf[read:])
		if err != nil {
			return buf[:read], err
		}
		if got == 0 {
			return buf[:read], fmt.Errorf("serial port closed unexpectedly")
		}
		read += got
	}
	logrus.Debugf("<- %x", buf)
	return buf, nil
}

func (s *Serial) SetBaud(baud int) error {
	logrus.Debugf("switching %s to %d baud", s.name, baud)
	return s.port.SetMode(&serial.Mode{BaudRate: baud, DataBits: 8, StopBits: serial.OneStopBit})
}

func (s *Serial) SetParity(even bool) error {
	parity := serial.NoParity
	if even {
		parity = serial.EvenParity
	}
	return s.port.SetMode(&serial.Mode{Parity: parity})
}

// AssertReset pulses DTR low for the given duration, matching the
// BSL's expectation of a brief reset pulse before the sync pulses.
func (s *Serial) AssertReset(d time.Duration) error {
	if err := s.port.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(d)
	return s.port.SetDTR(true)
}

// AssertResetRTS pulses RTS low for the given duration, the -A rts
// alternative to the default DTR reset pulse.
func (s *Serial) AssertResetRTS(d time.Duration) error {
	if err := s.port.SetRTS(false); err != nil {
		return err
	}
	time.Sleep(d)
	return s.port.SetRTS(true)
}

func (s *Serial) Drain() error {
	return s.port.ResetInputBuffer()
}

func (s *Serial) Close() error {
	return s.port.Close()
}
