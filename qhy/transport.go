package qhy

import (
	"fmt"
	"sync/atomic"
)

// Transport is an opaque USB device handle.  All transfers are synchronous.
// Implementations shared between goroutines must serialize transfers.
type Transport interface {
	// SendVendorCommand issues a vendor control write with the given request code
	SendVendorCommand(cmd byte, payload []byte) error

	// ReadBulk reads up to len(buf) bytes from an IN endpoint
	ReadBulk(ep byte, buf []byte) (int, error)

	// WriteBulk writes data to an OUT endpoint
	WriteBulk(ep byte, data []byte) (int, error)
}

// device wraps a Transport with the model's command vocabulary
type device struct {
	t     Transport
	proto Protocol
}

func (d device) writeRegisters(b Block) error {
	return d.t.SendVendorCommand(d.proto.RegistersCmd, b[:])
}

func (d device) beginVideo() error {
	return d.t.SendVendorCommand(d.proto.BeginVideoCmd, []byte{100})
}

func (d device) abortVideo() error {
	_, err := d.t.WriteBulk(d.proto.InterruptWriteEP, []byte{0xff})
	return err
}

func (d device) setShutter(mode byte) error {
	return d.t.SendVendorCommand(d.proto.ShutterCmd, []byte{mode})
}

func (d device) selectFilter(slot int) error {
	return d.t.SendVendorCommand(d.proto.CFWCmd, []byte{0x5A, byte(slot)})
}

// readDC201 reads the raw thermistor value from the interrupt endpoint
func (d device) readDC201() (int16, error) {
	buf := make([]byte, 4)
	n, err := d.t.ReadBulk(d.proto.InterruptReadEP, buf)
	if err != nil {
		return 0, err
	}
	if n < 3 {
		return 0, fmt.Errorf("DC201 status short read, got %d bytes", n)
	}
	return int16(uint16(buf[1])<<8 | uint16(buf[2])), nil
}

// writeDC201 sets the TEC PWM and fan speed
func (d device) writeDC201(pwm, fan byte) error {
	_, err := d.t.WriteBulk(d.proto.InterruptWriteEP, []byte{0x01, pwm, fan})
	return err
}

// readPatches performs count sequential bulk reads of size bytes into buf.
// abort is checked between patches.
func (d device) readPatches(buf []byte, size, count int, abort *int32) error {
	if len(buf) < size*count {
		return fmt.Errorf("%w: buffer of %d bytes cannot hold %d patches of %d", ErrReadoutFailed, len(buf), count, size)
	}
	for i := 0; i < count; i++ {
		if atomic.LoadInt32(abort) != 0 {
			return ErrAborted
		}
		patch := buf[i*size : (i+1)*size]
		n, err := d.t.ReadBulk(d.proto.DataEP, patch)
		if err != nil {
			return fmt.Errorf("%w: patch %d: %v", ErrReadoutFailed, i, err)
		}
		if n != size {
			return ShortReadError{Patch: i, Got: n, Want: size}
		}
	}
	return nil
}
