package qhy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBinning is generated when the binning factor is outside 1..4
	// or the horizontal and vertical factors differ
	ErrInvalidBinning = errors.New("invalid binning")

	// ErrInvalidSubframe is generated when the subframe does not fit on the sensor
	ErrInvalidSubframe = errors.New("invalid subframe")

	// ErrAlreadyExposing is generated when an exposure is started while one is in progress
	ErrAlreadyExposing = errors.New("exposure already in progress")

	// ErrExposureFailed is generated when the register write or begin video transfer fails
	ErrExposureFailed = errors.New("exposure failed")

	// ErrReadoutFailed is generated when a bulk transfer errors or is short
	ErrReadoutFailed = errors.New("readout failed")

	// ErrTransportUnavailable is generated when there is no open device handle
	ErrTransportUnavailable = errors.New("transport unavailable, camera not connected")

	// ErrAborted is generated when an abort is observed between patch reads
	ErrAborted = errors.New("exposure aborted")

	// ErrInvalidFilterSlot is generated when a filter slot outside the wheel is addressed
	ErrInvalidFilterSlot = errors.New("invalid filter slot")

	// ErrNoCooler is generated when temperature control is used on a camera without a TEC
	ErrNoCooler = errors.New("camera has no cooler")
)

// ShortReadError is generated when a patch transfer returns fewer bytes than requested
type ShortReadError struct {
	// Patch is the zero-based index of the patch that was short
	Patch int

	// Got is the number of bytes received
	Got int

	// Want is the patch size
	Want int
}

// Error satisfies the error interface
func (e ShortReadError) Error() string {
	return fmt.Sprintf("readout failed: patch %d short read, got %d of %d bytes", e.Patch, e.Got, e.Want)
}

// Unwrap allows errors.Is(err, ErrReadoutFailed)
func (e ShortReadError) Unwrap() error {
	return ErrReadoutFailed
}
