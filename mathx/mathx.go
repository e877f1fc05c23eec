// Package mathx provides rounding helpers used when reporting hardware values
package mathx

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	if x < 0 {
		return float64(int64(x/unit-0.5)) * unit
	}
	return float64(int64(x/unit+0.5)) * unit
}
