package mathx_test

import (
	"fmt"
	"testing"

	"github.com/nasa-jpl/qhyccd/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(31.6, 1), mathx.Round(0.25, 0.5))
	// Output: 32 0.5
}

func TestRoundNegative(t *testing.T) {
	if out := mathx.Round(-12.36, 0.1); out > -12.39 || out < -12.41 {
		t.Errorf("expected -12.4, got %f", out)
	}
}
