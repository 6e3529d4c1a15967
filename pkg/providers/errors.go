package providers

import (
	"fmt"
)

// UnavailableError is returned when a requested execution provider is not
// present on the host. There is no local recovery; the message is surfaced
// verbatim to the caller.
type UnavailableError struct {
	Provider  Provider
	Available []Provider
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("execution provider %s is not available on this host (available: %v)", e.Provider, e.Available)
}

// QuantizationError is returned when a model's quantization scheme does not
// meet a provider's structural constraints. These are hard failures: the
// runtime gives no usable diagnostics, so the constraint is checked here
// before a session is ever configured.
type QuantizationError struct {
	Provider Provider
	Reason   string
}

func (e *QuantizationError) Error() string {
	return fmt.Sprintf("quantization scheme not supported by %s: %s", e.Provider, e.Reason)
}
