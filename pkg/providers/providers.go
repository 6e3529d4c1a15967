package providers

import (
	"slices"
)

// Provider is an execution provider name as the runtime reports it.
type Provider string

const (
	CPU      Provider = "CPUExecutionProvider"
	CUDA     Provider = "CUDAExecutionProvider"
	TensorRT Provider = "TensorrtExecutionProvider"
	ROCm     Provider = "ROCMExecutionProvider"
)

// fallbackChains holds the documented fallback chain for each provider,
// excluding the provider itself. Every chain ends on CPU.
var fallbackChains = map[Provider][]Provider{
	CPU:      {},
	CUDA:     {CPU},
	TensorRT: {CUDA, CPU},
	ROCm:     {CPU},
}

// Known reports whether p is a provider this package understands.
func Known(p Provider) bool {
	_, ok := fallbackChains[p]
	return ok
}

// FallbackChain returns the documented fallback chain for p, not including p.
// Unknown providers fall back straight to CPU.
func FallbackChain(p Provider) []Provider {
	chain, ok := fallbackChains[p]
	if !ok {
		return []Provider{CPU}
	}
	return slices.Clone(chain)
}

// Resolve returns the provider list a session would be configured with when
// requesting p: p first, followed by its fallback chain filtered to the
// providers available on the host. If p itself is not available the error is
// returned as-is with no recovery, matching the runtime's behavior.
func Resolve(p Provider, available []Provider) ([]Provider, error) {
	if !Known(p) {
		return nil, &UnavailableError{Provider: p, Available: available}
	}
	if !slices.Contains(available, p) {
		return nil, &UnavailableError{Provider: p, Available: available}
	}
	resolved := []Provider{p}
	for _, fb := range FallbackChain(p) {
		if slices.Contains(available, fb) {
			resolved = append(resolved, fb)
		}
	}
	return resolved, nil
}
