package gpu

// GPU identifies which graphics processor is (or should be) active.
type GPU string

const (
	// Intel is the integrated GPU.
	Intel GPU = "intel"

	// Nvidia is the discrete GPU.
	Nvidia GPU = "nvidia"

	// Unknown means the identity could not be determined, usually because
	// a helper binary is not installed.
	Unknown GPU = "unknown"
)

// Parse validates a user-supplied GPU name. Only switchable targets are
// accepted; "unknown" is not a valid switch target.
func Parse(s string) (GPU, error) {
	switch GPU(s) {
	case Intel:
		return Intel, nil
	case Nvidia:
		return Nvidia, nil
	default:
		return Unknown, ErrInvalidGPU
	}
}

// SwitchResult is the terminal outcome of one switch operation. Exactly one
// is delivered per launched switch.
type SwitchResult struct {
	Id     string `json:"id"`     // switch job id
	GPU    GPU    `json:"gpu"`    // requested target
	OK     bool   `json:"ok"`     // helper exited zero
	Output string `json:"output"` // captured stderr on failure, empty on success
}
