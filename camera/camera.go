/*Package camera describes the shared vocabulary for the QHY camera driver:
binning, areas of interest, frame kinds, and the collaborators the exposure
engine consumes from and produces for.

The Minimal type contains the basics, while Sci contains some extended features
typically found on cooled astronomical cameras.

*/
package camera

import (
	"fmt"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
)

// Binning encapsulates information about pixel addition on camera
type Binning struct {
	// H is the horizontal binning factor
	H int `json:"h" koanf:"h" yaml:"h"`

	// V is the vertical binning factor
	V int `json:"v" koanf:"v" yaml:"v"`
}

// String formats the binning in "HxV" form
func (b Binning) String() string {
	return fmt.Sprintf("%dx%d", b.H, b.V)
}

// AOI describes an area of interest on the camera, in unbinned pixels
type AOI struct {
	// Left is the left pixel index.  0-based
	Left int `json:"left"`

	// Top is the top pixel index.  0-based
	Top int `json:"top"`

	// Width is the width in pixels.  Zero spans from Left to the edge of the chip
	Width int `json:"width"`

	// Height is the height in pixels.  Zero spans from Top to the edge of the chip
	Height int `json:"height"`
}

// Right is the exclusive right edge of the AOI
func (a AOI) Right() int {
	return a.Left + a.Width
}

// Bottom is the exclusive bottom edge of the AOI
func (a AOI) Bottom() int {
	return a.Top + a.Height
}

// FrameKind is the type of frame to be captured
type FrameKind int

const (
	// Light is a normal exposure with the shutter open
	Light FrameKind = iota

	// Dark is an exposure with the mechanical shutter closed
	Dark

	// Flat is an exposure of a uniformly illuminated field
	Flat

	// Bias is a minimum-length exposure with the mechanical shutter closed
	Bias
)

var frameKindNames = []string{"light", "dark", "flat", "bias"}

// String returns the lowercase name of the frame kind
func (k FrameKind) String() string {
	if k < 0 || int(k) >= len(frameKindNames) {
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
	return frameKindNames[k]
}

// NeedsShutterClosed is true for frames taken in the dark
func (k FrameKind) NeedsShutterClosed() bool {
	return k == Dark || k == Bias
}

// ParseFrameKind converts a case-insensitive name into a FrameKind
func ParseFrameKind(s string) (FrameKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range frameKindNames {
		if s == name {
			return FrameKind(i), nil
		}
	}
	return Light, fmt.Errorf("unknown frame kind %q, must be one of %s", s, strings.Join(frameKindNames, ", "))
}

// Frame is a delivered image.  Pix is row major and strided by Width.
type Frame struct {
	Pix    []uint16
	Width  int
	Height int

	// Start is when the sensor began integrating
	Start time.Time

	// Exposure is the programmed exposure time
	Exposure time.Duration

	// Kind is the kind of the frame
	Kind FrameKind

	// Metadata holds FITS header cards describing the exposure
	Metadata []fitsio.Card
}

// FrameSource provides the frame configuration owned by the surrounding driver
type FrameSource interface {
	// Subframe returns the requested area of interest in unbinned pixels
	Subframe() AOI

	// Binning returns the requested binning factors
	Binning() Binning

	// FrameKind returns the kind of the next frame
	FrameKind() FrameKind
}

// ImageSink receives completed exposures
type ImageSink interface {
	DeliverImage(Frame) error
}

// FailureReporter may be implemented by an ImageSink that wants to know
// about exposures which did not produce a frame
type FailureReporter interface {
	ExposureFailed(error)
}

// Minimal describes a minimal camera interface with only the basics.
type Minimal interface {
	// GetRes gets the (W, H) of the full sensor in unbinned pixels
	GetRes() ([2]int, error)

	// SetExposureTime sets the exposure time used by the next exposure
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time used by the next exposure
	GetExposureTime() (time.Duration, error)
}

// Sci describes an extended interface for scientific cameras
// we do not enforce this constraint, but a type which implements
// Sci will nearly always implement Minimal.
type Sci interface {
	// GetTempSetpoint gets the temperature setpoint in Celcius
	GetTempSetpoint() (float64, error)

	// SetTempSetpoint sets the temperature setpoint in Celcius
	SetTempSetpoint(float64) error

	// GetTemp gets the current camera temperature in Celcius
	// what the temperature is actually measured on (sensor, pcb, etc)
	// is implementation dependent.
	GetTemp() (float64, error)
}
