package gpu

import "errors"

var (
	// ErrHelperMissing is returned when an operation needs a helper binary
	// that was not found on PATH.
	ErrHelperMissing = errors.New("helper binary not installed")

	// ErrAlreadySelected is returned when the switch target is already the
	// current selection.
	ErrAlreadySelected = errors.New("gpu already selected")

	// ErrInvalidGPU is returned when the switch target is not a switchable GPU
	ErrInvalidGPU = errors.New("gpu must be \"intel\" or \"nvidia\"")
)
