package qhy

import (
	"time"

	"github.com/nasa-jpl/qhyccd/camera"
)

// MinimumExposure is the shortest exposure the camera accepts.
// Bias frames are always taken at this duration.
const MinimumExposure = time.Millisecond

// Settings are the user-facing register values that persist across exposures
type Settings struct {
	Gain   uint8 `json:"gain" koanf:"Gain" yaml:"Gain"`
	Offset uint8 `json:"offset" koanf:"Offset" yaml:"Offset"`

	// DownloadSpeed is 0 (fast), 1 (normal) or 2 (slow)
	DownloadSpeed DownloadSpeed `json:"downloadSpeed" koanf:"DownloadSpeed" yaml:"DownloadSpeed"`

	Clamp bool `json:"clamp" koanf:"Clamp" yaml:"Clamp"`

	// WindowHeater is the anti-dew heater level, 0..15
	WindowHeater uint8 `json:"windowHeater" koanf:"WindowHeater" yaml:"WindowHeater"`

	// MotorHeating is the filter wheel motor heater level, 0..2
	MotorHeating uint8 `json:"motorHeating" koanf:"MotorHeating" yaml:"MotorHeating"`
}

// DefaultSettings returns the power-on register values
func DefaultSettings() Settings {
	return Settings{Gain: 20, Offset: 120, DownloadSpeed: Slow}
}

// speed is the download speed after the profile's override
func (s Settings) speed(p *SensorProfile) DownloadSpeed {
	if p.ForcedSpeed != nil {
		return *p.ForcedSpeed
	}
	if s.DownloadSpeed > Slow {
		return Slow
	}
	return s.DownloadSpeed
}

// buildRegisters assembles the register block of one exposure from scratch
func buildRegisters(p *SensorProfile, s Settings, g FrameGeometry, kind camera.FrameKind, exposure time.Duration) Registers {
	r := Registers{
		Gain:          s.Gain,
		Offset:        s.Offset,
		ExposureMs:    uint32(exposure / time.Millisecond),
		HBin:          uint8(g.Bin),
		VBin:          uint8(g.Bin),
		LineSize:      uint16(g.LineSize),
		VerticalSize:  uint16(g.VerticalSize),
		SkipTop:       uint16(g.SkipTop),
		SkipBottom:    uint16(g.SkipBottom),
		PatchNumber:   uint16(g.PatchPad),
		AmpVoltage:    1, // amplifier off while integrating
		DownloadSpeed: s.speed(p),
		TopSkipNull:   p.TopSkipNull,
		TopSkipPixels: uint16(g.TopSkipPixels),
		SDRAMMaxSize:  100,
		WindowHeater:  s.WindowHeater,
		MotorHeating:  s.MotorHeating,
	}
	if s.Clamp {
		r.Clamp = 1
	}
	if kind.NeedsShutterClosed() {
		r.MechanicalShutterMode = 1
	}
	if p.Capabilities.Cooler {
		r.DownloadCloseTEC = 1
	}
	return r
}
