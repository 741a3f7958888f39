// Package kernels provides covariance functions for the Gaussian-process
// regression energy model.
package kernels

import (
	"fmt"
	"math"
)

// Kernel represents a covariance function over feature vectors
type Kernel interface {
	// Eval computes the kernel value between two feature vectors x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return &RBFKernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r2 := sumSq / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

// Hyperparameters returns the current hyperparameters
func (k *RBFKernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters
func (k *RBFKernel) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale = params[0]
	k.signalVar = params[1]
	return nil
}

// ScaledKernel multiplies a base kernel by a constant factor, the analog of
// a constant kernel composed with an RBF.
type ScaledKernel struct {
	base  Kernel
	scale float64
}

// NewScaledKernel wraps a base kernel with a constant scale factor
func NewScaledKernel(base Kernel, scale float64) *ScaledKernel {
	if scale <= 0 {
		panic(fmt.Sprintf("scale must be positive, got %v", scale))
	}
	return &ScaledKernel{base: base, scale: scale}
}

// Eval computes the scaled kernel value between x1 and x2
func (k *ScaledKernel) Eval(x1, x2 []float64) float64 {
	return k.scale * k.base.Eval(x1, x2)
}

// Hyperparameters returns the scale followed by the base hyperparameters
func (k *ScaledKernel) Hyperparameters() []float64 {
	return append([]float64{k.scale}, k.base.Hyperparameters()...)
}

// SetHyperparameters sets the scale and the base hyperparameters
func (k *ScaledKernel) SetHyperparameters(params []float64) error {
	if len(params) < 1 {
		return fmt.Errorf("expected at least 1 hyperparameter, got %d", len(params))
	}
	if params[0] <= 0 {
		return fmt.Errorf("scale must be positive, got %v", params[0])
	}
	if err := k.base.SetHyperparameters(params[1:]); err != nil {
		return err
	}
	k.scale = params[0]
	return nil
}
