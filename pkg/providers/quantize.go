package providers

// QuantizationSpec describes how a model was quantized. Static means scales
// were computed offline against calibration data; Symmetric means zero-points
// are fixed at zero.
type QuantizationSpec struct {
	Static     bool `yaml:"static"`
	Symmetric  bool `yaml:"symmetric"`
	PerChannel bool `yaml:"per_channel"`
}

// CheckQuantization validates a quantization scheme against a provider's
// structural constraints. TensorRT only consumes int8 models that are both
// statically and symmetrically quantized; feeding it anything else fails deep
// inside the runtime with an unhelpful message, so the check lives here.
func CheckQuantization(p Provider, q *QuantizationSpec) error {
	if p != TensorRT {
		return nil
	}
	if q == nil {
		return &QuantizationError{Provider: p, Reason: "int8 is enabled but no quantization scheme is declared"}
	}
	if !q.Static {
		return &QuantizationError{Provider: p, Reason: "dynamic quantization is not supported, requantize with static calibration"}
	}
	if !q.Symmetric {
		return &QuantizationError{Provider: p, Reason: "asymmetric quantization is not supported, requantize with symmetric scales"}
	}
	return nil
}
