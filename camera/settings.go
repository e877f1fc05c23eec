package camera

import "sync"

// FrameSettings is a concurrent-safe FrameSource that the driver shell mutates
// in response to user commands.  The zero value is a 1x1 binned, full frame light.
type FrameSettings struct {
	mu   sync.Mutex
	aoi  AOI
	bin  Binning
	kind FrameKind
}

// NewFrameSettings returns settings seeded with the given values
func NewFrameSettings(aoi AOI, bin Binning, kind FrameKind) *FrameSettings {
	return &FrameSettings{aoi: aoi, bin: bin, kind: kind}
}

// Subframe implements FrameSource
func (f *FrameSettings) Subframe() AOI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aoi
}

// Binning implements FrameSource
func (f *FrameSettings) Binning() Binning {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bin.H == 0 && f.bin.V == 0 {
		return Binning{H: 1, V: 1}
	}
	return f.bin
}

// FrameKind implements FrameSource
func (f *FrameSettings) FrameKind() FrameKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kind
}

// SetSubframe updates the area of interest
func (f *FrameSettings) SetSubframe(aoi AOI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aoi = aoi
}

// SetBinning updates the binning
func (f *FrameSettings) SetBinning(b Binning) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bin = b
}

// SetFrameKind updates the frame kind
func (f *FrameSettings) SetFrameKind(k FrameKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kind = k
}
