package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// GraphOptLevel is the session-level graph optimization level.
type GraphOptLevel string

const (
	GraphOptDisabled GraphOptLevel = "disabled"
	GraphOptBasic    GraphOptLevel = "basic"
	GraphOptExtended GraphOptLevel = "extended"
	GraphOptAll      GraphOptLevel = "all"
)

func validGraphOptLevel(l GraphOptLevel) bool {
	switch l {
	case "", GraphOptDisabled, GraphOptBasic, GraphOptExtended, GraphOptAll:
		return true
	}
	return false
}

// Profile is a complete execution-provider session profile: which provider a
// job targets and how the session around it is configured. Profiles are
// declared in pipeline YAML and validated before the job's steps run.
type Profile struct {
	Provider Provider `yaml:"provider"`

	// Options is the raw string-keyed provider option dictionary passed
	// through to the runtime (e.g. device_id). TensorRT-specific options are
	// declared structurally on TensorRT and merged in by Render.
	Options map[string]string `yaml:"options"`

	// GraphOptimization defaults to the runtime default ("all") when empty.
	GraphOptimization GraphOptLevel `yaml:"graph_optimization"`

	// IOBinding pre-places tensors on the target device to avoid host/device
	// copies between runs. Only meaningful on device-backed providers.
	IOBinding bool `yaml:"io_binding"`

	TensorRT *TensorRTOptions `yaml:"tensorrt"`

	Quantization *QuantizationSpec `yaml:"quantization"`
}

// Validate checks the profile against the providers available on the host.
// A nil available list skips the availability check (load-time validation);
// run-time validation passes the host's reported list. An unavailable
// provider is returned as-is so the caller sees the runtime's hard failure
// verbatim; everything else accumulates into one error.
func (p *Profile) Validate(available []Provider) error {
	if !Known(p.Provider) {
		return fmt.Errorf("unknown execution provider %q", p.Provider)
	}
	if available != nil {
		if _, err := Resolve(p.Provider, available); err != nil {
			return err
		}
	}

	var result *multierror.Error
	if !validGraphOptLevel(p.GraphOptimization) {
		result = multierror.Append(result, fmt.Errorf("invalid graph optimization level %q", p.GraphOptimization))
	}
	if p.IOBinding && p.Provider == CPU {
		result = multierror.Append(result, fmt.Errorf("io binding requires a device-backed provider, not %s", CPU))
	}
	if p.TensorRT != nil {
		if p.Provider != TensorRT {
			result = multierror.Append(result, fmt.Errorf("tensorrt options declared for provider %s", p.Provider))
		}
		if err := p.TensorRT.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		if p.TensorRT.Int8Enable {
			if err := CheckQuantization(p.Provider, p.Quantization); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// RenderOptions produces the final provider option dictionary, structured
// TensorRT options merged under any raw entries (raw entries win).
func (p *Profile) RenderOptions() map[string]string {
	opts := make(map[string]string)
	if p.TensorRT != nil {
		for k, v := range p.TensorRT.Render() {
			opts[k] = v
		}
	}
	for k, v := range p.Options {
		opts[k] = v
	}
	return opts
}

// SessionEnv renders the profile as environment variables for the step
// process that ultimately builds the runtime session. Keys are stable and
// ordering-independent so test commands stay reproducible.
func (p *Profile) SessionEnv() map[string]string {
	env := map[string]string{
		"MODELCI_EP": string(p.Provider),
	}
	level := p.GraphOptimization
	if level == "" {
		level = GraphOptAll
	}
	env["MODELCI_EP_GRAPH_OPT"] = string(level)
	if p.IOBinding {
		env["MODELCI_EP_IO_BINDING"] = "1"
	} else {
		env["MODELCI_EP_IO_BINDING"] = "0"
	}
	for k, v := range p.RenderOptions() {
		env["MODELCI_EP_OPT_"+strings.ToUpper(k)] = v
	}
	return env
}

// EnvStrings returns SessionEnv as sorted KEY=VALUE pairs.
func (p *Profile) EnvStrings() []string {
	env := p.SessionEnv()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
