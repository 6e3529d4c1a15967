package providers

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveStartsWithRequestedThenFallbackChain(t *testing.T) {
	available := []Provider{TensorRT, CUDA, CPU}

	resolved, err := Resolve(TensorRT, available)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := []Provider{TensorRT, CUDA, CPU}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("Resolve = %v, want %v", resolved, want)
	}
}

func TestResolveFiltersUnavailableFallbacks(t *testing.T) {
	available := []Provider{TensorRT, CPU}

	resolved, err := Resolve(TensorRT, available)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := []Provider{TensorRT, CPU}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("Resolve = %v, want %v", resolved, want)
	}
}

func TestResolveUnavailableProviderIsHardFailure(t *testing.T) {
	_, err := Resolve(CUDA, []Provider{CPU})
	if err == nil {
		t.Fatal("expected error for unavailable provider")
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %T", err)
	}
	if unavailable.Provider != CUDA {
		t.Errorf("error names provider %s, want %s", unavailable.Provider, CUDA)
	}
}

func TestFallbackChains(t *testing.T) {
	cases := []struct {
		provider Provider
		want     []Provider
	}{
		{CPU, []Provider{}},
		{CUDA, []Provider{CPU}},
		{TensorRT, []Provider{CUDA, CPU}},
		{ROCm, []Provider{CPU}},
	}
	for _, tc := range cases {
		got := FallbackChain(tc.provider)
		if len(got) != len(tc.want) {
			t.Errorf("FallbackChain(%s) = %v, want %v", tc.provider, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("FallbackChain(%s) = %v, want %v", tc.provider, got, tc.want)
				break
			}
		}
	}
}

func TestCheckQuantizationTensorRTConstraints(t *testing.T) {
	if err := CheckQuantization(TensorRT, &QuantizationSpec{Static: true, Symmetric: true}); err != nil {
		t.Errorf("static symmetric should pass, got %v", err)
	}

	err := CheckQuantization(TensorRT, &QuantizationSpec{Static: false, Symmetric: true})
	var qerr *QuantizationError
	if !errors.As(err, &qerr) {
		t.Fatalf("dynamic quantization should fail with *QuantizationError, got %v", err)
	}

	err = CheckQuantization(TensorRT, &QuantizationSpec{Static: true, Symmetric: false})
	if !errors.As(err, &qerr) {
		t.Fatalf("asymmetric quantization should fail with *QuantizationError, got %v", err)
	}

	// Other providers accept any scheme
	if err := CheckQuantization(CUDA, &QuantizationSpec{}); err != nil {
		t.Errorf("CUDA should accept any scheme, got %v", err)
	}
}
