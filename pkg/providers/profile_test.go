package providers

import (
	"strings"
	"testing"
)

func TestTensorRTRenderEngineCacheAndShapeProfiles(t *testing.T) {
	opts := &TensorRTOptions{
		EngineCacheEnable: true,
		EngineCachePath:   "/tmp/trt_cache",
		ShapeProfiles: []ShapeProfile{
			{Input: "input_ids", Min: []int64{1, 8}, Opt: []int64{4, 128}, Max: []int64{8, 512}},
			{Input: "attention_mask", Min: []int64{1, 8}, Opt: []int64{4, 128}, Max: []int64{8, 512}},
		},
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	rendered := opts.Render()

	if rendered[OptEngineCacheEnable] != "true" {
		t.Errorf("engine cache enable = %q, want true", rendered[OptEngineCacheEnable])
	}
	if rendered[OptEngineCachePath] != "/tmp/trt_cache" {
		t.Errorf("engine cache path = %q", rendered[OptEngineCachePath])
	}
	// Profiles sort by input name: attention_mask before input_ids
	wantMin := "attention_mask:1x8,input_ids:1x8"
	if rendered[OptProfileMinShapes] != wantMin {
		t.Errorf("min shapes = %q, want %q", rendered[OptProfileMinShapes], wantMin)
	}
	wantMax := "attention_mask:8x512,input_ids:8x512"
	if rendered[OptProfileMaxShapes] != wantMax {
		t.Errorf("max shapes = %q, want %q", rendered[OptProfileMaxShapes], wantMax)
	}
}

func TestTensorRTValidateRejectsCacheWithoutPath(t *testing.T) {
	opts := &TensorRTOptions{EngineCacheEnable: true}
	if err := opts.Validate(); err == nil {
		t.Fatal("expected error for engine cache without path")
	}
}

func TestTensorRTValidateRejectsBadShapeProfile(t *testing.T) {
	opts := &TensorRTOptions{
		ShapeProfiles: []ShapeProfile{
			{Input: "x", Min: []int64{1, 3}, Opt: []int64{1}, Max: []int64{1, 3}},
		},
	}
	if err := opts.Validate(); err == nil {
		t.Fatal("expected error for mismatched shape ranks")
	}

	opts = &TensorRTOptions{
		ShapeProfiles: []ShapeProfile{
			{Input: "x", Min: []int64{4}, Opt: []int64{2}, Max: []int64{8}},
		},
	}
	if err := opts.Validate(); err == nil {
		t.Fatal("expected error for opt below min")
	}
}

func TestProfileValidateInt8RequiresStaticSymmetric(t *testing.T) {
	profile := &Profile{
		Provider:     TensorRT,
		TensorRT:     &TensorRTOptions{Int8Enable: true},
		Quantization: &QuantizationSpec{Static: true, Symmetric: false},
	}
	err := profile.Validate(nil)
	if err == nil {
		t.Fatal("expected quantization error")
	}
	if !strings.Contains(err.Error(), "asymmetric") {
		t.Errorf("error should name the asymmetric scheme: %v", err)
	}

	profile.Quantization = &QuantizationSpec{Static: true, Symmetric: true}
	if err := profile.Validate(nil); err != nil {
		t.Errorf("static symmetric int8 should validate, got %v", err)
	}
}

func TestProfileValidateIOBindingOnCPU(t *testing.T) {
	profile := &Profile{Provider: CPU, IOBinding: true}
	if err := profile.Validate(nil); err == nil {
		t.Fatal("expected error for io binding on CPU")
	}
}

func TestProfileValidateAgainstAvailability(t *testing.T) {
	profile := &Profile{Provider: ROCm}
	err := profile.Validate([]Provider{CPU, CUDA})
	if err == nil {
		t.Fatal("expected unavailable provider error")
	}
	// Surfaced verbatim, not wrapped into an aggregate
	if _, ok := err.(*UnavailableError); !ok {
		t.Errorf("expected *UnavailableError, got %T", err)
	}
}

func TestProfileSessionEnv(t *testing.T) {
	profile := &Profile{
		Provider:          CUDA,
		Options:           map[string]string{"device_id": "0"},
		GraphOptimization: GraphOptDisabled,
		IOBinding:         true,
	}
	env := profile.SessionEnv()

	if env["MODELCI_EP"] != string(CUDA) {
		t.Errorf("MODELCI_EP = %q", env["MODELCI_EP"])
	}
	if env["MODELCI_EP_GRAPH_OPT"] != "disabled" {
		t.Errorf("MODELCI_EP_GRAPH_OPT = %q", env["MODELCI_EP_GRAPH_OPT"])
	}
	if env["MODELCI_EP_IO_BINDING"] != "1" {
		t.Errorf("MODELCI_EP_IO_BINDING = %q", env["MODELCI_EP_IO_BINDING"])
	}
	if env["MODELCI_EP_OPT_DEVICE_ID"] != "0" {
		t.Errorf("MODELCI_EP_OPT_DEVICE_ID = %q", env["MODELCI_EP_OPT_DEVICE_ID"])
	}

	// Default graph optimization level is "all"
	env = (&Profile{Provider: CPU}).SessionEnv()
	if env["MODELCI_EP_GRAPH_OPT"] != "all" {
		t.Errorf("default MODELCI_EP_GRAPH_OPT = %q, want all", env["MODELCI_EP_GRAPH_OPT"])
	}

	pairs := (&Profile{Provider: CPU}).EnvStrings()
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1] >= pairs[i] {
			t.Errorf("EnvStrings not sorted: %v", pairs)
			break
		}
	}
}
