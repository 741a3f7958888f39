package kernels

import (
	"math"
	"testing"
)

func TestRBFKernelEval(t *testing.T) {
	tests := []struct {
		name        string
		lengthScale float64
		signalVar   float64
		x1, x2      []float64
		want        float64
	}{
		{
			name:        "identical points return signal variance",
			lengthScale: 1.0,
			signalVar:   2.0,
			x1:          []float64{1, 2, 3},
			x2:          []float64{1, 2, 3},
			want:        2.0,
		},
		{
			name:        "unit distance",
			lengthScale: 1.0,
			signalVar:   1.0,
			x1:          []float64{0},
			x2:          []float64{1},
			want:        math.Exp(-0.5),
		},
		{
			name:        "longer length scale flattens decay",
			lengthScale: 2.0,
			signalVar:   1.0,
			x1:          []float64{0},
			x2:          []float64{2},
			want:        math.Exp(-0.5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewRBFKernel(tt.lengthScale, tt.signalVar)
			got := k.Eval(tt.x1, tt.x2)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Eval(%v, %v) = %v, want %v", tt.x1, tt.x2, got, tt.want)
			}
			if sym := k.Eval(tt.x2, tt.x1); sym != got {
				t.Errorf("kernel not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestRBFKernelInvalidConstructorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-positive lengthScale")
		}
	}()
	NewRBFKernel(0, 1)
}

func TestRBFKernelHyperparameters(t *testing.T) {
	k := NewRBFKernel(1.5, 0.5)

	got := k.Hyperparameters()
	if got[0] != 1.5 || got[1] != 0.5 {
		t.Errorf("Hyperparameters() = %v, want [1.5 0.5]", got)
	}

	if err := k.SetHyperparameters([]float64{2.0, 3.0}); err != nil {
		t.Fatalf("SetHyperparameters: %v", err)
	}
	if k.Eval([]float64{0}, []float64{0}) != 3.0 {
		t.Errorf("signal variance not applied after SetHyperparameters")
	}

	if err := k.SetHyperparameters([]float64{1.0}); err == nil {
		t.Error("expected error for wrong parameter count")
	}
	if err := k.SetHyperparameters([]float64{-1.0, 1.0}); err == nil {
		t.Error("expected error for non-positive parameter")
	}
}

func TestScaledKernel(t *testing.T) {
	base := NewRBFKernel(1.0, 1.0)
	k := NewScaledKernel(base, 4.0)

	x := []float64{1, 2}
	if got, want := k.Eval(x, x), 4.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("Eval(x, x) = %v, want %v", got, want)
	}

	params := k.Hyperparameters()
	if len(params) != 3 || params[0] != 4.0 {
		t.Errorf("Hyperparameters() = %v, want scale first", params)
	}

	if err := k.SetHyperparameters([]float64{2.0, 1.0, 1.0}); err != nil {
		t.Fatalf("SetHyperparameters: %v", err)
	}
	if got, want := k.Eval(x, x), 2.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("Eval(x, x) after rescale = %v, want %v", got, want)
	}

	if err := k.SetHyperparameters(nil); err == nil {
		t.Error("expected error for missing parameters")
	}
}
