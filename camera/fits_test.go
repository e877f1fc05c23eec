package camera_test

import (
	"bytes"
	"testing"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/qhyccd/camera"
)

func rampFrame(w, h int) camera.Frame {
	pix := make([]uint16, w*h)
	for i := range pix {
		pix[i] = uint16(i * 1000)
	}
	return camera.Frame{Pix: pix, Width: w, Height: h, Kind: camera.Dark,
		Metadata: []fitsio.Card{{Name: "FRAMETYP", Value: "dark"}}}
}

func TestWriteFitsRoundTrip(t *testing.T) {
	f := rampFrame(8, 4)
	var buf bytes.Buffer
	if err := camera.WriteFits(&buf, f); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE")) {
		t.Fatalf("output does not begin with a FITS primary header")
	}
	if buf.Len()%2880 != 0 {
		t.Errorf("FITS output is %d bytes, not a multiple of the 2880 byte block", buf.Len())
	}

	fits, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer fits.Close()
	hdr := fits.HDU(0).Header()
	if got := hdr.Axes(); len(got) != 2 || got[0] != 8 || got[1] != 4 {
		t.Errorf("expected 8x4 axes, got %v", got)
	}
	if c := hdr.Get("FRAMETYP"); c == nil || c.Value != "dark" {
		t.Errorf("FRAMETYP card missing or wrong: %v", c)
	}
}

func TestWriteFitsRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := camera.WriteFits(&buf, camera.Frame{}); err != camera.ErrEmptyFrame {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestGray8TakesHighByte(t *testing.T) {
	f := camera.Frame{Pix: []uint16{0x1234, 0xff00}, Width: 2, Height: 1}
	g := f.Gray8()
	if g.Pix[0] != 0x12 || g.Pix[1] != 0xff {
		t.Errorf("expected [0x12 0xff], got %x", g.Pix)
	}
	g16 := f.Gray16()
	if g16.Gray16At(0, 0).Y != 0x1234 {
		t.Errorf("expected 0x1234, got %x", g16.Gray16At(0, 0).Y)
	}
}
