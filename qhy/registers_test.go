package qhy

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fullRegisters() Registers {
	return Registers{
		Gain:                  20,
		Offset:                120,
		ExposureMs:            70000,
		HBin:                  2,
		VBin:                  2,
		LineSize:              1792,
		VerticalSize:          500,
		SkipTop:               50,
		SkipBottom:            737,
		LiveVideoBeginLine:    3,
		PatchNumber:           3600,
		AntiInterlace:         1,
		MultiFieldBin:         4,
		ClockAdjust:           0x1234,
		AmpVoltage:            1,
		DownloadSpeed:         Slow,
		TgateMode:             1,
		ShortExposure:         1,
		VSub:                  1,
		Clamp:                 1,
		TransferBit:           1,
		TopSkipNull:           30,
		TopSkipPixels:         600,
		MechanicalShutterMode: 1,
		DownloadCloseTEC:      1,
		WindowHeater:          9,
		MotorHeating:          2,
		SDRAMMaxSize:          100,
		Trigger:               7,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := fullRegisters()
	got := Decode(Encode(r))
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("decode(encode(r)) mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeExposureDigits(t *testing.T) {
	for _, ms := range []uint32{0, 1, 255, 256, 70000, 65535, 65536, 16777215} {
		b := Encode(Registers{ExposureMs: ms})
		got := uint32(b[2])*65536 + uint32(b[3])*256 + uint32(b[4])
		if got != ms {
			t.Errorf("exposure %d ms encoded as %d %d %d, reconstructs to %d", ms, b[2], b[3], b[4], got)
		}
	}
}

func TestEncodeOffsets(t *testing.T) {
	b := Encode(fullRegisters())
	cases := []struct {
		off  int
		want byte
	}{
		{0, 20}, {1, 120},
		{5, 2}, {6, 2},
		{7, 0x07}, {8, 0x00}, // 1792
		{9, 0x01}, {10, 0xf4}, // 500
		{11, 0}, {12, 50},
		{13, 0x02}, {14, 0xe1}, // 737
		{17, 0x0e}, {18, 0x10}, // 3600
		{22, 4},
		{29, 0x12}, {30, 0x34},
		{32, 1}, {33, 2}, {38, 1},
		{46, 30},
		{47, 0x02}, {48, 0x58}, // 600
		{51, 1}, {52, 1},
		{53, 0x92},
		{58, 100}, {63, 7},
	}
	for _, c := range cases {
		if b[c.off] != c.want {
			t.Errorf("byte %d: expected %#02x got %#02x", c.off, c.want, b[c.off])
		}
	}
}

func TestEncodeUnlistedBytesZero(t *testing.T) {
	listed := map[int]bool{}
	for _, i := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		22, 29, 30, 32, 33, 35, 36, 37, 38, 42, 46, 47, 48, 51, 52, 53, 58, 63} {
		listed[i] = true
	}
	b := Encode(fullRegisters())
	for i, v := range b {
		if !listed[i] && v != 0 {
			t.Errorf("unlisted byte %d is %#02x, expected zero", i, v)
		}
	}
}

func TestEncodeMasksHeaterNibbles(t *testing.T) {
	b := Encode(Registers{WindowHeater: 0xff, MotorHeating: 0x13})
	if b[53] != 0xf3 {
		t.Errorf("expected heater byte 0xf3, got %#02x", b[53])
	}
}

func TestDumpLayout(t *testing.T) {
	var b Block
	b[0] = 0xab
	b[63] = 0x01
	lines := strings.Split(b.Dump(), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "00: ab 00") {
		t.Errorf("first row malformed: %q", lines[0])
	}
	if !strings.HasSuffix(lines[3], " 01") || !strings.HasPrefix(lines[3], "48:") {
		t.Errorf("last row malformed: %q", lines[3])
	}
}

func ExampleEncode() {
	b := Encode(Registers{ExposureMs: 70000})
	fmt.Println(b[2], b[3], b[4])
	// Output: 1 17 112
}
