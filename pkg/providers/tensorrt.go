package providers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// TensorRT provider option keys, as the runtime spells them.
const (
	OptEngineCacheEnable = "trt_engine_cache_enable"
	OptEngineCachePath   = "trt_engine_cache_path"
	OptInt8Enable        = "trt_int8_enable"
	OptFP16Enable        = "trt_fp16_enable"
	OptMaxWorkspaceSize  = "trt_max_workspace_size"
	OptProfileMinShapes  = "trt_profile_min_shapes"
	OptProfileOptShapes  = "trt_profile_opt_shapes"
	OptProfileMaxShapes  = "trt_profile_max_shapes"
)

// ShapeProfile fixes the min/opt/max shape of one model input so the runtime
// can build (and cache) an engine ahead of the first inference.
type ShapeProfile struct {
	Input string  `yaml:"input"`
	Min   []int64 `yaml:"min"`
	Opt   []int64 `yaml:"opt"`
	Max   []int64 `yaml:"max"`
}

func (sp ShapeProfile) validate() error {
	var result *multierror.Error
	if sp.Input == "" {
		result = multierror.Append(result, fmt.Errorf("shape profile is missing the input name"))
	}
	if len(sp.Min) == 0 {
		result = multierror.Append(result, fmt.Errorf("shape profile %q has no min shape", sp.Input))
	}
	if len(sp.Min) != len(sp.Opt) || len(sp.Opt) != len(sp.Max) {
		result = multierror.Append(result, fmt.Errorf("shape profile %q min/opt/max must have the same rank (got %d/%d/%d)",
			sp.Input, len(sp.Min), len(sp.Opt), len(sp.Max)))
	}
	for i := range sp.Min {
		if sp.Min[i] <= 0 {
			result = multierror.Append(result, fmt.Errorf("shape profile %q min dim %d must be positive", sp.Input, i))
			break
		}
	}
	for i := range sp.Min {
		if i < len(sp.Opt) && i < len(sp.Max) {
			if sp.Opt[i] < sp.Min[i] || sp.Max[i] < sp.Opt[i] {
				result = multierror.Append(result, fmt.Errorf("shape profile %q dim %d must satisfy min <= opt <= max", sp.Input, i))
				break
			}
		}
	}
	return result.ErrorOrNil()
}

func formatShape(input string, dims []int64) string {
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, strconv.FormatInt(d, 10))
	}
	return input + ":" + strings.Join(parts, "x")
}

// TensorRTOptions is the structured form of the TensorRT provider option
// dictionary. Render produces the string-keyed map the runtime consumes.
type TensorRTOptions struct {
	EngineCacheEnable bool           `yaml:"engine_cache_enable"`
	EngineCachePath   string         `yaml:"engine_cache_path"`
	Int8Enable        bool           `yaml:"int8_enable"`
	FP16Enable        bool           `yaml:"fp16_enable"`
	MaxWorkspaceSize  int64          `yaml:"max_workspace_size"`
	ShapeProfiles     []ShapeProfile `yaml:"shape_profiles"`
}

// Validate checks structural constraints: an enabled engine cache needs a
// path, and shape profiles must be well formed.
func (o *TensorRTOptions) Validate() error {
	var result *multierror.Error
	if o.EngineCacheEnable && o.EngineCachePath == "" {
		result = multierror.Append(result, fmt.Errorf("engine cache is enabled but no engine cache path is set"))
	}
	for _, sp := range o.ShapeProfiles {
		if err := sp.validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Render converts the options to the runtime's provider option dictionary.
// Profiles are sorted by input name so the output is deterministic.
func (o *TensorRTOptions) Render() map[string]string {
	opts := make(map[string]string)
	if o.EngineCacheEnable {
		opts[OptEngineCacheEnable] = "true"
		opts[OptEngineCachePath] = o.EngineCachePath
	}
	if o.Int8Enable {
		opts[OptInt8Enable] = "true"
	}
	if o.FP16Enable {
		opts[OptFP16Enable] = "true"
	}
	if o.MaxWorkspaceSize > 0 {
		opts[OptMaxWorkspaceSize] = strconv.FormatInt(o.MaxWorkspaceSize, 10)
	}
	if len(o.ShapeProfiles) > 0 {
		profiles := make([]ShapeProfile, len(o.ShapeProfiles))
		copy(profiles, o.ShapeProfiles)
		sort.Slice(profiles, func(i, j int) bool { return profiles[i].Input < profiles[j].Input })

		mins := make([]string, 0, len(profiles))
		opt := make([]string, 0, len(profiles))
		maxs := make([]string, 0, len(profiles))
		for _, sp := range profiles {
			mins = append(mins, formatShape(sp.Input, sp.Min))
			opt = append(opt, formatShape(sp.Input, sp.Opt))
			maxs = append(maxs, formatShape(sp.Input, sp.Max))
		}
		opts[OptProfileMinShapes] = strings.Join(mins, ",")
		opts[OptProfileOptShapes] = strings.Join(opt, ",")
		opts[OptProfileMaxShapes] = strings.Join(maxs, ",")
	}
	return opts
}
