package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// USB vendor/product IDs for the mask-ROM BSL exposed by usb15-capable
// parts when held in a USB-attached bootloader mode.
const (
	usbVendorID  = gousb.ID(0x5354)
	usbProductID = gousb.ID(0x4312)
)

// USB is the control/bulk transport used only by the usb15 dialect.
// SetBaud and SetParity are no-ops: USB framing has no baud concept.
type USB struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
}

// OpenUSB scans the bus for the STC USB BSL device and claims its
// default interface.
func OpenUSB() (*USB, error) {
	usbCtx := gousb.NewContext()
	dev, err := usbCtx.OpenDeviceWithVIDPID(usbVendorID, usbProductID)
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("opening USB BSL device: %w", err)
	}
	if dev == nil {
		usbCtx.Close()
		return nil, fmt.Errorf("USB BSL device not found (vid=%04x pid=%04x)", usbVendorID, usbProductID)
	}
	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("claiming USB interface: %w", err)
	}
	in, err := iface.InEndpoint(1)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("opening USB in endpoint: %w", err)
	}
	out, err := iface.OutEndpoint(1)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("opening USB out endpoint: %w", err)
	}
	logrus.Debug("opened USB BSL device")
	return &USB{ctx: usbCtx, dev: dev, iface: iface, done: done, in: in, out: out}, nil
}

func (u *USB) Write(p []byte) error {
	logrus.Debugf("usb-> %x", p)
	_, err := u.out.Write(p)
	return err
}

func (u *USB) ReadExactly(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read := 0
	deadlineAt := time.Now().Add(deadline)
	for read < n {
		if time.Now().After(deadlineAt) {
			return buf[:read], fmt.Errorf("USB read timeout after %d/%d bytes", read, n)
		}
		got, err := u.in.Read(buf[read:])
		if err != nil {
			return buf[:read], err
		}
		if got == 0 {
			return buf[:read], fmt.Errorf("USB endpoint returned zero bytes")
		}
		read += got
	}
	logrus.Debugf("usb<- %x", buf)
	return buf, nil
}

// SetBaud is a no-op: USB framing carries no baud rate.
func (u *USB) SetBaud(int) error { return nil }

// SetParity is a no-op: USB framing carries no parity bit.
func (u *USB) SetParity(bool) error { return nil }

// AssertReset is a no-op: usb15 targets are reset by re-enumeration,
// not by a DTR pulse.
func (u *USB) AssertReset(time.Duration) error { return nil }

func (u *USB) Drain() error { return nil }

func (u *USB) Close() error {
	u.done()
	if err := u.dev.Close(); err != nil {
		u.ctx.Close()
		return err
	}
	return u.ctx.Close()
}
