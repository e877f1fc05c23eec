/*Package qhyusb implements the USB transport of QHY cameras on top of libusb.

A Device satisfies qhy.Transport.  Vendor commands go out as control
transfers, frames come in on the bulk data endpoint, and the DC201 cooler
controller and abort command share the interrupt endpoints.  One mutex
serializes every transfer, since the camera corrupts its state if two
transfers overlap.

Transfers have no timeout beyond the libusb default.  A stalled patch
transfer will hang the read, and with it the goroutine driving the camera.
*/
package qhyusb

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"

	"github.com/nasa-jpl/qhyccd/qhy"
)

// vendorOut is the bmRequestType of a host to device vendor request
const vendorOut = 0x40

var (
	// ErrNotFound is generated when no camera with the profile's VID:PID is attached
	ErrNotFound = errors.New("camera not found on the bus")

	// ErrClosed is generated when a transfer is attempted on a closed device
	ErrClosed = errors.New("device closed")
)

// Device is an open camera
type Device struct {
	mu sync.Mutex

	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	closer func()

	in  map[byte]*gousb.InEndpoint
	out map[byte]*gousb.OutEndpoint
}

// epNumber strips the direction bit from an endpoint address
func epNumber(addr byte) int {
	return int(addr & 0x0f)
}

// isIn is true for device to host endpoint addresses
func isIn(addr byte) bool {
	return addr&0x80 != 0
}

// Open finds and claims the camera described by p.  The bus is polled with
// an exponential backoff for a few seconds, since the camera takes a moment
// to enumerate after its firmware is loaded.
func Open(p *qhy.SensorProfile) (*Device, error) {
	var d *Device
	notFound := false
	op := func() error {
		var err error
		d, err = open(p)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return err
		}
		notFound = false
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		if notFound {
			return nil, fmt.Errorf("%s %04x:%04x: %w", p.Name, p.VendorID, p.ProductID, ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

func open(p *qhy.SensorProfile) (*Device, error) {
	d := &Device{
		ctx: gousb.NewContext(),
		in:  map[byte]*gousb.InEndpoint{},
		out: map[byte]*gousb.OutEndpoint{},
	}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(p.VendorID), gousb.ID(p.ProductID))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, ErrNotFound
	}
	err = d.device.SetAutoDetach(true)
	if err != nil {
		d.release()
		return nil, err
	}
	d.iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.release()
		return nil, err
	}
	proto := p.Protocol
	for _, addr := range []byte{proto.DataEP, proto.InterruptReadEP} {
		if addr == 0 {
			continue
		}
		if !isIn(addr) {
			d.release()
			return nil, fmt.Errorf("endpoint %#02x of %s is not an IN endpoint", addr, p.Name)
		}
		ep, err := d.iface.InEndpoint(epNumber(addr))
		if err != nil {
			d.release()
			return nil, fmt.Errorf("IN endpoint %#02x: %w", addr, err)
		}
		d.in[addr] = ep
	}
	if addr := proto.InterruptWriteEP; addr != 0 {
		ep, err := d.iface.OutEndpoint(epNumber(addr))
		if err != nil {
			d.release()
			return nil, fmt.Errorf("OUT endpoint %#02x: %w", addr, err)
		}
		d.out[addr] = ep
	}
	return d, nil
}

func (d *Device) release() {
	if d.closer != nil {
		d.closer()
		d.closer = nil
	}
	if d.device != nil {
		d.device.Close()
		d.device = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
}

// SendVendorCommand implements qhy.Transport
func (d *Device) SendVendorCommand(cmd byte, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return ErrClosed
	}
	n, err := d.device.Control(vendorOut, cmd, 0, 0, payload)
	if err != nil {
		return fmt.Errorf("vendor request %#02x: %w", cmd, err)
	}
	if n != len(payload) {
		return fmt.Errorf("vendor request %#02x: wrote %d of %d bytes", cmd, n, len(payload))
	}
	return nil
}

// ReadBulk implements qhy.Transport
func (d *Device) ReadBulk(ep byte, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return 0, ErrClosed
	}
	in, ok := d.in[ep]
	if !ok {
		return 0, fmt.Errorf("endpoint %#02x is not an open IN endpoint", ep)
	}
	return in.Read(buf)
}

// WriteBulk implements qhy.Transport
func (d *Device) WriteBulk(ep byte, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return 0, ErrClosed
	}
	out, ok := d.out[ep]
	if !ok {
		return 0, fmt.Errorf("endpoint %#02x is not an open OUT endpoint", ep)
	}
	return out.Write(data)
}

// Close releases the interface and the device
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release()
	return nil
}

// Describe returns the manufacturer and product strings of the device
func (d *Device) Describe() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return "", ErrClosed
	}
	var parts []string
	if m, err := d.device.Manufacturer(); err == nil && m != "" {
		parts = append(parts, m)
	}
	if p, err := d.device.Product(); err == nil && p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, " "), nil
}
