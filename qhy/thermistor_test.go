package qhy

import (
	"math"
	"testing"
)

func TestVoltageRoundTrip(t *testing.T) {
	// the resistance clamp bounds the invertible range to about -1500..700 mV
	for mv := -1500.0; mv <= 700; mv += 12.5 {
		got := CelsiusToMillivolts(MillivoltsToCelsius(mv))
		if math.Abs(got-mv) > 0.01 {
			t.Errorf("%.1f mV round trips to %.4f mV", mv, got)
		}
	}
}

func TestTemperatureRoundTrip(t *testing.T) {
	for c := -50.0; c <= 50; c += 0.5 {
		got := MillivoltsToCelsius(CelsiusToMillivolts(c))
		if math.Abs(got-c) > 1e-6 {
			t.Errorf("%.1f C round trips to %.8f C", c, got)
		}
	}
}

func TestTemperatureClamped(t *testing.T) {
	if a, b := CelsiusToMillivolts(80), CelsiusToMillivolts(50); a != b {
		t.Errorf("expected 80 C to clamp to 50 C, got %f and %f mV", a, b)
	}
}

func TestZeroMillivoltsIsRoomTemperature(t *testing.T) {
	c := MillivoltsToCelsius(0)
	if c < 20 || c > 30 {
		t.Errorf("expected 0 mV to be near room temperature, got %.2f C", c)
	}
}

func TestColderIsLowerVoltage(t *testing.T) {
	if CelsiusToMillivolts(-20) >= CelsiusToMillivolts(20) {
		t.Error("expected the thermistor network voltage to fall as the sensor cools")
	}
}

func TestRawScaledOnce(t *testing.T) {
	if got := RawToMillivolts(1000); math.Abs(got-1024) > 1e-9 {
		t.Errorf("expected 1024 mV, got %f", got)
	}
}
