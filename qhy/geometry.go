package qhy

import (
	"fmt"

	"github.com/nasa-jpl/qhyccd/camera"
)

// patchPadPixels is the number of dummy pixels always requested at the end of the frame
const patchPadPixels = 16

// FrameGeometry is the readout geometry of one exposure
type FrameGeometry struct {
	Bin int

	// LineSize is the width of one row of the readout in pixels
	LineSize int

	// VerticalSize is the number of rows read out, after the skips
	VerticalSize int

	// FullVerticalSize is the number of rows of the binned sensor
	FullVerticalSize int

	SkipTop    int
	SkipBottom int

	TopSkipPixels int

	// PatchSize is the size of one bulk transfer in bytes
	PatchSize int

	// PatchCount is the number of bulk transfers that make up the frame
	PatchCount int

	// PatchPad is the number of dummy pixels the sensor emits after the frame
	PatchPad int

	// Sub is the validated subframe in unbinned pixels
	Sub camera.AOI
}

// PayloadBytes is the number of frame bytes, excluding padding
func (g FrameGeometry) PayloadBytes() int {
	return (g.LineSize*g.VerticalSize + g.TopSkipPixels) * 2
}

// TransferBytes is the number of bytes moved over USB for the frame
func (g FrameGeometry) TransferBytes() int {
	return g.PatchSize * g.PatchCount
}

// OutputSize is the (W, H) of the delivered, binned subframe
func (g FrameGeometry) OutputSize() (int, int) {
	return g.Sub.Width / g.Bin, g.Sub.Height / g.Bin
}

// NormalizeSubframe fills zero width and height to the edge of the chip and
// validates that the area lies on the sensor
func NormalizeSubframe(p *SensorProfile, sub camera.AOI) (camera.AOI, error) {
	if sub.Width == 0 {
		sub.Width = p.Width - sub.Left
	}
	if sub.Height == 0 {
		sub.Height = p.Height - sub.Top
	}
	if sub.Left < 0 || sub.Width <= 0 || sub.Right() > p.Width ||
		sub.Top < 0 || sub.Height <= 0 || sub.Bottom() > p.Height {
		return sub, fmt.Errorf("%w: %+v does not fit on %dx%d sensor", ErrInvalidSubframe, sub, p.Width, p.Height)
	}
	return sub, nil
}

// ComputeGeometry derives the line size, vertical size, skips and patch
// accounting from a bin factor and a subframe given in unbinned pixels
func ComputeGeometry(p *SensorProfile, bin camera.Binning, sub camera.AOI) (FrameGeometry, error) {
	var g FrameGeometry
	if bin.H != bin.V {
		return g, fmt.Errorf("%w: horizontal %d and vertical %d must match", ErrInvalidBinning, bin.H, bin.V)
	}
	layout, err := p.Layout(bin.H)
	if err != nil {
		return g, err
	}
	if p.Capabilities.Subframe {
		sub, err = NormalizeSubframe(p, sub)
		if err != nil {
			return g, err
		}
		if sub.Width/bin.H == 0 || sub.Height/bin.V == 0 {
			return g, fmt.Errorf("%w: %dx%d is smaller than one pixel at bin %d",
				ErrInvalidSubframe, sub.Width, sub.Height, bin.H)
		}
	} else {
		sub = camera.AOI{Width: p.Width, Height: p.Height}
	}

	g.Bin = bin.H
	g.Sub = sub
	g.LineSize = layout.LineSize
	g.FullVerticalSize = layout.VerticalSize
	g.PatchSize = layout.PatchSize
	g.TopSkipPixels = p.TopSkipPixels

	if p.Capabilities.Subframe {
		g.SkipTop = sub.Top / bin.V
		g.SkipBottom = layout.VerticalSize - g.SkipTop - sub.Height/bin.V
		if g.SkipBottom < 0 {
			return g, fmt.Errorf("%w: %d rows at bin %d exceed the %d row readout",
				ErrInvalidSubframe, g.SkipTop+sub.Height/bin.V, bin.V, layout.VerticalSize)
		}
	}
	g.VerticalSize = layout.VerticalSize - g.SkipTop - g.SkipBottom
	if g.VerticalSize <= 0 {
		return g, fmt.Errorf("%w: no rows left to read", ErrInvalidSubframe)
	}

	total := g.PayloadBytes()
	if total%g.PatchSize == 0 {
		g.PatchCount = total / g.PatchSize
		g.PatchPad = patchPadPixels
	} else {
		g.PatchCount = total/g.PatchSize + 1
		g.PatchPad = (g.PatchCount*g.PatchSize-total)/2 + patchPadPixels
	}
	return g, nil
}
