package qhy

import (
	"fmt"
	"strings"
	"time"
)

// DownloadSpeed is the sensor readout speed register value
type DownloadSpeed uint8

const (
	// Fast readout
	Fast DownloadSpeed = iota

	// Normal readout
	Normal

	// Slow readout, lowest noise
	Slow
)

var speedNames = []string{"fast", "normal", "slow"}

// String returns the lowercase name of the speed
func (s DownloadSpeed) String() string {
	if int(s) >= len(speedNames) {
		return fmt.Sprintf("DownloadSpeed(%d)", int(s))
	}
	return speedNames[s]
}

// ParseDownloadSpeed converts a name or register value into a DownloadSpeed
func ParseDownloadSpeed(s string) (DownloadSpeed, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range speedNames {
		if s == name || s == fmt.Sprint(i) {
			return DownloadSpeed(i), nil
		}
	}
	return Slow, fmt.Errorf("unknown download speed %q, must be one of %s", s, strings.Join(speedNames, ", "))
}

// Shutter modes understood by the shutter vendor command
const (
	ShutterOpen  byte = 0
	ShutterClose byte = 1
	ShutterFree  byte = 2
)

// BinLayout is one row of a model's binning table
type BinLayout struct {
	// LineSize is the number of pixels per row read out of the sensor
	LineSize int

	// VerticalSize is the number of rows read out of the sensor
	VerticalSize int

	// PatchSize is the size of one USB bulk chunk in bytes
	PatchSize int
}

// Protocol holds the vendor request codes and endpoint addresses of a model
type Protocol struct {
	RegistersCmd  byte
	BeginVideoCmd byte
	ShutterCmd    byte
	CFWCmd        byte
	VersionCmd    byte

	DataEP           byte
	InterruptWriteEP byte
	InterruptReadEP  byte
}

// Capabilities describes the optional hardware of a model.  It is checked
// once when a session is created.
type Capabilities struct {
	Cooler      bool
	FilterWheel bool
	Shutter     bool
	Subframe    bool

	// FilterSlots is the number of positions on the wheel
	FilterSlots int
}

// SensorProfile holds everything that differs between camera models.
// The protocol logic is identical across models.
type SensorProfile struct {
	Name string

	// VendorID and ProductID identify the camera on the bus
	VendorID  uint16
	ProductID uint16

	// Width and Height of the sensor in unbinned pixels
	Width  int
	Height int

	// PixelWidth and PixelHeight in microns
	PixelWidth  float64
	PixelHeight float64

	BitDepth int

	// Binning is indexed by bin factor - 1
	Binning [4]BinLayout

	// TopSkipPixels is the number of dummy pixels read before the first row
	TopSkipPixels int

	// TopSkipNull is the value of the top-skip-null register
	TopSkipNull byte

	// RegisterSettle is the time to wait between the register write and begin video
	RegisterSettle time.Duration

	// ShutterSettle is the mechanical travel time of the shutter
	ShutterSettle time.Duration

	// ReadoutDelay is the extra frame transfer time to wait after the exposure
	// before pulling patches, indexed by download speed then bin factor - 1
	ReadoutDelay [3][4]time.Duration

	// ForcedSpeed, when non-nil, overrides the user's download speed
	ForcedSpeed *DownloadSpeed

	Protocol     Protocol
	Capabilities Capabilities
}

// Layout returns the binning table row for a bin factor
func (p *SensorProfile) Layout(bin int) (BinLayout, error) {
	if bin < 1 || bin > len(p.Binning) || p.Binning[bin-1].LineSize == 0 {
		return BinLayout{}, fmt.Errorf("%w: %d not supported by %s", ErrInvalidBinning, bin, p.Name)
	}
	return p.Binning[bin-1], nil
}

// Readout returns the extra frame transfer delay for a speed and bin factor
func (p *SensorProfile) Readout(speed DownloadSpeed, bin int) time.Duration {
	if int(speed) >= len(p.ReadoutDelay) || bin < 1 || bin > 4 {
		return 0
	}
	return p.ReadoutDelay[speed][bin-1]
}

var slow = Slow

// QHY9 is the profile of the QHY9 cooled CCD with filter wheel and shutter
var QHY9 = SensorProfile{
	Name:        "QHY9",
	VendorID:    0x1618,
	ProductID:   0x8301,
	Width:       3584,
	Height:      2574,
	PixelWidth:  5.4,
	PixelHeight: 5.4,
	BitDepth:    16,
	Binning: [4]BinLayout{
		{LineSize: 3584, VerticalSize: 2574, PatchSize: 3584 * 2},
		{LineSize: 1792, VerticalSize: 1287, PatchSize: 3584 * 2},
		{LineSize: 1194, VerticalSize: 858, PatchSize: 1024}, // 1196 corrupts the frame
		{LineSize: 896, VerticalSize: 644, PatchSize: 1024},
	},
	TopSkipNull:    30,
	RegisterSettle: 200 * time.Millisecond,
	ShutterSettle:  500 * time.Millisecond,
	ReadoutDelay: [3][4]time.Duration{
		Fast:   {2 * time.Second, 0, 0, 0},
		Normal: {6 * time.Second, 2 * time.Second, 0, 0},
		Slow:   {16 * time.Second, 4 * time.Second, 2 * time.Second, time.Second},
	},
	Protocol: Protocol{
		RegistersCmd:     0xB5,
		BeginVideoCmd:    0xB3,
		ShutterCmd:       0xC7,
		CFWCmd:           0xC1,
		VersionCmd:       0xC2,
		DataEP:           0x86,
		InterruptWriteEP: 0x01,
		InterruptReadEP:  0x81,
	},
	Capabilities: Capabilities{
		Cooler:      true,
		FilterWheel: true,
		Shutter:     true,
		Subframe:    true,
		FilterSlots: 5,
	},
}

// QHY5 is the profile of the uncooled QHY5 guide camera
var QHY5 = SensorProfile{
	Name:        "QHY5",
	VendorID:    0x16C0,
	ProductID:   0x296D,
	Width:       1280,
	Height:      1024,
	PixelWidth:  5.2,
	PixelHeight: 5.2,
	BitDepth:    16,
	Binning: [4]BinLayout{
		{LineSize: 3584, VerticalSize: 2574, PatchSize: 3584 * 2},
		{LineSize: 1792, VerticalSize: 1287, PatchSize: 3584 * 2},
		{LineSize: 1196, VerticalSize: 858, PatchSize: 1024},
		{LineSize: 896, VerticalSize: 644, PatchSize: 1024},
	},
	TopSkipNull:    30,
	RegisterSettle: 100 * time.Millisecond,
	ForcedSpeed:    &slow,
	Protocol: Protocol{
		RegistersCmd:     0xB5,
		BeginVideoCmd:    0x12,
		CFWCmd:           0xC1,
		DataEP:           0x86,
		InterruptWriteEP: 0x01,
		InterruptReadEP:  0x81,
	},
}

// Profiles maps lowercase model names to their profiles
var Profiles = map[string]*SensorProfile{
	"qhy9": &QHY9,
	"qhy5": &QHY5,
}

// LookupProfile finds a profile by case-insensitive model name
func LookupProfile(model string) (*SensorProfile, error) {
	p, ok := Profiles[strings.ToLower(model)]
	if !ok {
		return nil, fmt.Errorf("unknown camera model %q", model)
	}
	return p, nil
}
