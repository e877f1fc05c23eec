package qhy

import (
	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/qhyccd/mathx"
)

// CollectHeaderMetadata returns the FITS cards describing the camera's
// current configuration and, if an exposure is in progress, that exposure
func (s *Session) CollectHeaderMetadata() []fitsio.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headerCardsLocked()
}

func (s *Session) headerCardsLocked() []fitsio.Card {
	start, kind := s.exp.start, s.exp.kind
	if start.IsZero() {
		start, kind = s.clock.Now(), s.frames.FrameKind()
	}
	start = start.UTC()
	bin := s.exp.geom.Bin
	if bin == 0 {
		bin = s.frames.Binning().H
	}
	exptime := s.exp.duration
	if exptime == 0 {
		exptime = s.duration
	}
	clamp := 0
	if s.settings.Clamp {
		clamp = 1
	}
	cards := []fitsio.Card{
		{Name: "INSTRUME", Value: s.profile.Name, Comment: "camera model"},
		{Name: "DATE-OBS", Value: start.Format("2006-01-02T15:04:05.000"), Comment: "UTC date and time of exposure start"},
		{Name: "TIME-OBS", Value: start.Format("15:04:05.000"), Comment: "UTC time of exposure start"},
		{Name: "EXPTIME", Value: exptime.Seconds(), Comment: "exposure time, s"},
		{Name: "FRAMETYP", Value: kind.String(), Comment: "frame kind"},
		{Name: "CCDBIN1", Value: bin, Comment: "horizontal binning"},
		{Name: "CCDBIN2", Value: bin, Comment: "vertical binning"},
		{Name: "PIXSIZE1", Value: s.profile.PixelWidth * float64(bin), Comment: "binned pixel width, um"},
		{Name: "PIXSIZE2", Value: s.profile.PixelHeight * float64(bin), Comment: "binned pixel height, um"},
		{Name: "QHYGAIN", Value: int(s.settings.Gain), Comment: "CCD gain, 0-255"},
		{Name: "QHYBIAS", Value: int(s.settings.Offset), Comment: "CCD offset, 0-255"},
		{Name: "QHYSPEED", Value: int(s.settings.speed(s.profile)), Comment: "download speed, 0=fast 1=normal 2=slow"},
		{Name: "QHYCLAMP", Value: clamp, Comment: "CCD clamp, on/off"},
	}
	if s.thermal != nil {
		st := s.thermal.State()
		cards = append(cards,
			fitsio.Card{Name: "CCDTEMP", Value: mathx.Round(st.CurrentDegC, 0.01), Comment: "CCD temperature, C"},
			fitsio.Card{Name: "CCDTSET", Value: st.SetpointDegC, Comment: "CCD temperature setpoint, C"},
			fitsio.Card{Name: "TECPWM", Value: mathx.Round(st.PWMPercent(), 0.1), Comment: "TEC power, %"})
	}
	if s.wheel != nil {
		slot := s.wheel.Current()
		cards = append(cards,
			fitsio.Card{Name: "FILTER", Value: s.wheel.Name(slot), Comment: "filter name"},
			fitsio.Card{Name: "FLT-SLOT", Value: slot, Comment: "filter slot"})
	}
	cards = append(cards, fitsio.Card{Name: "DATE", Value: s.clock.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file creation date"})
	return cards
}
