package qhy

import (
	"sync"
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
)

type call struct {
	op   string // vendor, read, write
	code byte   // request code or endpoint
	data []byte
}

// fakeTransport records every transfer.  Data endpoint reads produce a ramp
// so that the pixel at readout index i has value uint16(i).
type fakeTransport struct {
	mu    sync.Mutex
	calls []call

	vendorErr map[byte]error
	readErr   error
	writeErr  error

	// shortAt makes the patch with this 1-based index come back half full
	shortAt int

	// onPatch is called before each data read with the patch index
	onPatch func(int)

	dc201    int16
	patches  int
	dataRead int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{vendorErr: map[byte]error{}}
}

func (f *fakeTransport) SendVendorCommand(cmd byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"vendor", cmd, append([]byte(nil), payload...)})
	return f.vendorErr[cmd]
}

func (f *fakeTransport) ReadBulk(ep byte, buf []byte) (int, error) {
	f.mu.Lock()
	hook := f.onPatch
	idx := f.patches
	f.mu.Unlock()
	if ep == 0x86 && hook != nil {
		hook(idx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "read", code: ep})
	if f.readErr != nil {
		return 0, f.readErr
	}
	if ep == 0x81 {
		buf[0] = 0
		buf[1] = byte(uint16(f.dc201) >> 8)
		buf[2] = byte(uint16(f.dc201))
		buf[3] = 0
		return 4, nil
	}
	f.patches++
	if f.patches == f.shortAt {
		return len(buf) / 2, nil
	}
	for i := range buf {
		p := f.dataRead + i
		pix := uint16(p / 2)
		if p%2 == 0 {
			buf[i] = byte(pix)
		} else {
			buf[i] = byte(pix >> 8)
		}
	}
	f.dataRead += len(buf)
	return len(buf), nil
}

func (f *fakeTransport) WriteBulk(ep byte, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"write", ep, append([]byte(nil), data...)})
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return len(data), nil
}

func (f *fakeTransport) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// vendor returns the payloads of the vendor commands with a request code
func (f *fakeTransport) vendor(code byte) [][]byte {
	var out [][]byte
	for _, c := range f.snapshot() {
		if c.op == "vendor" && c.code == code {
			out = append(out, c.data)
		}
	}
	return out
}

// writes returns the payloads written to an endpoint
func (f *fakeTransport) writes(ep byte) [][]byte {
	var out [][]byte
	for _, c := range f.snapshot() {
		if c.op == "write" && c.code == ep {
			out = append(out, c.data)
		}
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 22, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeScheduler struct {
	delays []time.Duration
}

func (s *fakeScheduler) ScheduleTick(d time.Duration) { s.delays = append(s.delays, d) }

func (s *fakeScheduler) last() time.Duration {
	if len(s.delays) == 0 {
		return -1
	}
	return s.delays[len(s.delays)-1]
}

type fakeSink struct {
	frames   []camera.Frame
	failures []error
	err      error
}

func (s *fakeSink) DeliverImage(f camera.Frame) error {
	s.frames = append(s.frames, f)
	return s.err
}

func (s *fakeSink) ExposureFailed(err error) {
	s.failures = append(s.failures, err)
}
