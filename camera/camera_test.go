package camera_test

import (
	"fmt"
	"testing"

	"github.com/nasa-jpl/qhyccd/camera"
)

func ExampleBinning_String() {
	fmt.Println(camera.Binning{H: 2, V: 2})
	// Output: 2x2
}

func TestParseFrameKindRoundTrips(t *testing.T) {
	for _, k := range []camera.FrameKind{camera.Light, camera.Dark, camera.Flat, camera.Bias} {
		got, err := camera.ParseFrameKind(k.String())
		if err != nil {
			t.Errorf("unexpected error parsing %s: %v", k, err)
		}
		if got != k {
			t.Errorf("expected %s got %s", k, got)
		}
	}
}

func TestParseFrameKindCaseInsensitive(t *testing.T) {
	got, err := camera.ParseFrameKind(" DARK ")
	if err != nil || got != camera.Dark {
		t.Errorf("expected dark, got %s, err %v", got, err)
	}
}

func TestParseFrameKindRejectsUnknown(t *testing.T) {
	if _, err := camera.ParseFrameKind("twilight"); err == nil {
		t.Error("expected error for unknown frame kind")
	}
}

func TestShutterClosedOnlyForDarkAndBias(t *testing.T) {
	expected := map[camera.FrameKind]bool{
		camera.Light: false,
		camera.Dark:  true,
		camera.Flat:  false,
		camera.Bias:  true,
	}
	for k, want := range expected {
		if got := k.NeedsShutterClosed(); got != want {
			t.Errorf("%s: expected %v got %v", k, want, got)
		}
	}
}

func TestFrameSettingsZeroBinningIsUnity(t *testing.T) {
	var f camera.FrameSettings
	if b := f.Binning(); b.H != 1 || b.V != 1 {
		t.Errorf("expected 1x1, got %s", b)
	}
	f.SetBinning(camera.Binning{H: 3, V: 3})
	if b := f.Binning(); b.H != 3 || b.V != 3 {
		t.Errorf("expected 3x3, got %s", b)
	}
}
