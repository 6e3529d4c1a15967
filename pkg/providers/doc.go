// Package providers models execution-provider session profiles for an
// external accelerated-inference runtime (ONNX Runtime).
//
// The runtime itself owns provider execution; this package owns the
// configuration surface: provider names and their documented fallback chains,
// string-keyed provider option dictionaries (engine cache, shape profiles,
// int8), session-level graph optimization, IO-binding, and the structural
// quantization constraints that providers impose. Profiles validate before a
// job runs so misconfiguration fails in CI rather than inside the runtime.
package providers
