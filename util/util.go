// Package util contains misc internal utilities.
package util

import "time"

// Clamp restricts x to the closed interval [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// ClampInt restricts x to the closed interval [low, high]
func ClampInt(x, low, high int) int {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// SecsToDuration converts a floating point number of seconds to a duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	ns := secs * 1e9
	if ns < 0 {
		return time.Duration(ns - 0.5)
	}
	return time.Duration(ns + 0.5)
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal point
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// MSB returns the most significant byte of a 16-bit value
func MSB(v uint16) byte {
	return byte(v / 256)
}

// LSB returns the least significant byte of a 16-bit value
func LSB(v uint16) byte {
	return byte(v & 0xff)
}
