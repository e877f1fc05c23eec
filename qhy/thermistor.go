package qhy

import (
	"math"

	"github.com/nasa-jpl/qhyccd/util"
)

// coefficients of the thermistor's 1/T = A + B ln R + C ln^3 R fit, R in kOhm
const (
	shA = 0.002679
	shB = 0.000291
	shC = 4.28e-7

	kelvin = 273.15

	// adcScale converts a raw DC201 reading to millivolts.  It is applied once.
	adcScale = 1.024
)

// RawToMillivolts converts a raw DC201 reading to millivolts
func RawToMillivolts(raw int16) float64 {
	return adcScale * float64(raw)
}

// MillivoltsToCelsius converts the thermistor network voltage to degrees C.
// The network resistance is clamped to [1, 400] kOhm.
func MillivoltsToCelsius(mv float64) float64 {
	r := 33/(mv/1000+1.625) - 10
	r = util.Clamp(r, 1, 400)
	lnr := math.Log(r)
	t := 1 / (shA + shB*lnr + shC*lnr*lnr*lnr)
	return t - kelvin
}

// CelsiusToMillivolts is the inverse of MillivoltsToCelsius.
// The temperature is clamped to [-50, 50] C.
func CelsiusToMillivolts(degC float64) float64 {
	t := kelvin + util.Clamp(degC, -50, 50)

	// solve C x^3 + B x + (A - 1/T) = 0 for x = ln R
	y := (shA - 1/t) / shC
	x := math.Sqrt(math.Pow(shB/(3*shC), 3) + y*y/4)
	r := math.Exp(math.Cbrt(x-y/2) - math.Cbrt(x+y/2))
	return 33000/(r+10) - 1625
}
