package tensor

import (
	"fmt"
	"math"
)

// Add performs element-wise addition of two tensors with identical shapes.
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	if !compareShapes(t.Shape, other.Shape) {
		return nil, fmt.Errorf("mismatched shapes for Add operation: %v and %v", t.Shape, other.Shape)
	}

	resultData := make([]float64, len(t.Data))
	for i := range t.Data {
		resultData[i] = t.Data[i] + other.Data[i]
	}

	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad || other.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &AddOperation{A: t, B: other}
	}
	return resultTensor, nil
}

// AddOperation represents the addition operation for backward pass.
type AddOperation struct {
	A *Tensor
	B *Tensor
}

func (op *AddOperation) Inputs() []*Tensor {
	return []*Tensor{op.A, op.B}
}

func (op *AddOperation) Backward(grad *Tensor) error {
	// The gradient passes through unchanged to both inputs.
	for _, in := range []*Tensor{op.A, op.B} {
		if !in.RequiresGrad {
			continue
		}
		g := gradOf(in)
		for i, v := range grad.Data {
			g.Data[i] += v
		}
	}
	return nil
}

// Affine computes scale*x + shift element-wise.
func (t *Tensor) Affine(scale, shift float64) *Tensor {
	resultData := make([]float64, len(t.Data))
	for i, v := range t.Data {
		resultData[i] = scale*v + shift
	}
	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &AffineOperation{Input: t, Scale: scale}
	}
	return resultTensor
}

// MulScalar multiplies every element by val.
func (t *Tensor) MulScalar(val float64) *Tensor {
	return t.Affine(val, 0)
}

// AddScalar adds val to every element.
func (t *Tensor) AddScalar(val float64) *Tensor {
	return t.Affine(1, val)
}

// Normalize computes (x - mean) / std element-wise.
func (t *Tensor) Normalize(mean, std float64) (*Tensor, error) {
	if std == 0 {
		return nil, fmt.Errorf("normalize: zero standard deviation")
	}
	return t.Affine(1/std, -mean/std), nil
}

// AffineOperation represents scale*x + shift for backward pass.
type AffineOperation struct {
	Input *Tensor
	Scale float64
}

func (op *AffineOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *AffineOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for i, v := range grad.Data {
		g.Data[i] += op.Scale * v
	}
	return nil
}

// Sigmoid applies the sigmoid function element-wise to the tensor.
func (t *Tensor) Sigmoid() *Tensor {
	resultData := make([]float64, len(t.Data))
	for i, val := range t.Data {
		resultData[i] = 1.0 / (1.0 + math.Exp(-val))
	}

	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &SigmoidOperation{Input: t, Output: resultTensor}
	}
	return resultTensor
}

// SigmoidOperation represents the sigmoid operation for backward pass.
type SigmoidOperation struct {
	Input  *Tensor
	Output *Tensor
}

func (op *SigmoidOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *SigmoidOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	// d(sigmoid(x))/dx = sigmoid(x) * (1 - sigmoid(x))
	for i, v := range grad.Data {
		s := op.Output.Data[i]
		g.Data[i] += v * s * (1 - s)
	}
	return nil
}

// ReLU applies max(0, x) element-wise.
func (t *Tensor) ReLU() *Tensor {
	resultData := make([]float64, len(t.Data))
	for i, val := range t.Data {
		if val > 0 {
			resultData[i] = val
		}
	}
	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &ReLUOperation{Input: t}
	}
	return resultTensor
}

// ReLUOperation represents the rectified-linear operation for backward pass.
type ReLUOperation struct {
	Input *Tensor
}

func (op *ReLUOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *ReLUOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for i, v := range grad.Data {
		if op.Input.Data[i] > 0 {
			g.Data[i] += v
		}
	}
	return nil
}

// ELU applies the exponential-linear unit with alpha = 1.
func (t *Tensor) ELU() *Tensor {
	resultData := make([]float64, len(t.Data))
	for i, val := range t.Data {
		if val > 0 {
			resultData[i] = val
		} else {
			resultData[i] = math.Expm1(val)
		}
	}
	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &ELUOperation{Input: t}
	}
	return resultTensor
}

// ELUOperation represents the exponential-linear operation for backward pass.
type ELUOperation struct {
	Input *Tensor
}

func (op *ELUOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *ELUOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for i, v := range grad.Data {
		x := op.Input.Data[i]
		if x > 0 {
			g.Data[i] += v
		} else {
			g.Data[i] += v * math.Exp(x)
		}
	}
	return nil
}

// Sum reduces the tensor to a single-element tensor.
func (t *Tensor) Sum() *Tensor {
	total := 0.0
	for _, v := range t.Data {
		total += v
	}
	resultTensor := NewTensor([]int{1}, []float64{total}, t.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &SumOperation{Input: t}
	}
	return resultTensor
}

// SumOperation represents the full reduction for backward pass.
type SumOperation struct {
	Input *Tensor
}

func (op *SumOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *SumOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for i := range g.Data {
		g.Data[i] += grad.Data[0]
	}
	return nil
}

// Mul performs element-wise multiplication of two tensors with identical shapes.
func (t *Tensor) Mul(other *Tensor) (*Tensor, error) {
	if !compareShapes(t.Shape, other.Shape) {
		return nil, fmt.Errorf("mismatched shapes for Mul operation: %v and %v", t.Shape, other.Shape)
	}
	resultData := make([]float64, len(t.Data))
	for i := range t.Data {
		resultData[i] = t.Data[i] * other.Data[i]
	}
	resultTensor := NewTensor(t.Shape, resultData, t.RequiresGrad || other.RequiresGrad)
	if resultTensor.RequiresGrad {
		resultTensor.Creator = &MulOperation{A: t, B: other}
	}
	return resultTensor, nil
}

// MulOperation represents element-wise multiplication for backward pass.
type MulOperation struct {
	A *Tensor
	B *Tensor
}

func (op *MulOperation) Inputs() []*Tensor {
	return []*Tensor{op.A, op.B}
}

func (op *MulOperation) Backward(grad *Tensor) error {
	if op.A.RequiresGrad {
		g := gradOf(op.A)
		for i, v := range grad.Data {
			g.Data[i] += v * op.B.Data[i]
		}
	}
	if op.B.RequiresGrad {
		g := gradOf(op.B)
		for i, v := range grad.Data {
			g.Data[i] += v * op.A.Data[i]
		}
	}
	return nil
}
