package tensor

import "fmt"

// Concat concatenates a slice of tensors along a specified axis.
// All tensors must have the same shape except for the dimension along the concatenation axis.
func Concat(tensors []*Tensor, axis int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}
	first := tensors[0]
	if axis < 0 || axis >= len(first.Shape) {
		return nil, fmt.Errorf("axis %d out of bounds for tensor with shape %v", axis, first.Shape)
	}

	newShape := make([]int, len(first.Shape))
	copy(newShape, first.Shape)
	concatDimSize := 0
	requiresGrad := false
	for i, t := range tensors {
		if i > 0 && !compareShapesExceptAxis(first.Shape, t.Shape, axis) {
			return nil, fmt.Errorf("mismatched shapes for concatenation along axis %d: %v and %v", axis, first.Shape, t.Shape)
		}
		concatDimSize += t.Shape[axis]
		requiresGrad = requiresGrad || t.RequiresGrad
	}
	newShape[axis] = concatDimSize

	outer := numElements(first.Shape[:axis])
	inner := numElements(first.Shape[axis+1:])
	out := NewTensor(newShape, nil, requiresGrad)

	rowLen := concatDimSize * inner
	offset := 0
	for _, t := range tensors {
		block := t.Shape[axis] * inner
		for o := 0; o < outer; o++ {
			copy(out.Data[o*rowLen+offset:o*rowLen+offset+block], t.Data[o*block:(o+1)*block])
		}
		offset += block
	}

	if requiresGrad {
		out.Creator = &ConcatOperation{InputTensors: tensors, Axis: axis}
	}
	return out, nil
}

// ConcatOperation represents the concatenation operation for backward pass.
type ConcatOperation struct {
	InputTensors []*Tensor
	Axis         int
}

func (op *ConcatOperation) Inputs() []*Tensor {
	return op.InputTensors
}

func (op *ConcatOperation) Backward(grad *Tensor) error {
	first := op.InputTensors[0]
	outer := numElements(first.Shape[:op.Axis])
	inner := numElements(first.Shape[op.Axis+1:])
	rowLen := grad.Shape[op.Axis] * inner

	offset := 0
	for _, t := range op.InputTensors {
		block := t.Shape[op.Axis] * inner
		if t.RequiresGrad {
			g := gradOf(t)
			for o := 0; o < outer; o++ {
				src := grad.Data[o*rowLen+offset : o*rowLen+offset+block]
				dst := g.Data[o*block : (o+1)*block]
				for i, v := range src {
					dst[i] += v
				}
			}
		}
		offset += block
	}
	return nil
}

// compareShapesExceptAxis is a helper function to compare two shapes, ignoring a specific axis.
func compareShapesExceptAxis(s1, s2 []int, ignoredAxis int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if i == ignoredAxis {
			continue
		}
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}

// Slice returns a new Tensor holding indices [start, end) of the original along axis.
func (t *Tensor) Slice(axis, start, end int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("axis %d out of bounds for tensor with shape %v", axis, t.Shape)
	}
	if start < 0 || end > t.Shape[axis] || start >= end {
		return nil, fmt.Errorf("invalid slice indices for axis %d: start %d, end %d for dimension size %d", axis, start, end, t.Shape[axis])
	}

	newShape := make([]int, len(t.Shape))
	copy(newShape, t.Shape)
	newShape[axis] = end - start

	outer := numElements(t.Shape[:axis])
	inner := numElements(t.Shape[axis+1:])
	srcRow := t.Shape[axis] * inner
	block := (end - start) * inner

	out := NewTensor(newShape, nil, t.RequiresGrad)
	for o := 0; o < outer; o++ {
		copy(out.Data[o*block:(o+1)*block], t.Data[o*srcRow+start*inner:o*srcRow+end*inner])
	}
	if out.RequiresGrad {
		out.Creator = &SliceOperation{Input: t, Axis: axis, Start: start, End: end}
	}
	return out, nil
}

// SliceOperation represents the slice operation for backward pass.
type SliceOperation struct {
	Input *Tensor
	Axis  int
	Start int
	End   int
}

func (op *SliceOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *SliceOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	outer := numElements(op.Input.Shape[:op.Axis])
	inner := numElements(op.Input.Shape[op.Axis+1:])
	srcRow := op.Input.Shape[op.Axis] * inner
	block := (op.End - op.Start) * inner
	for o := 0; o < outer; o++ {
		dst := g.Data[o*srcRow+op.Start*inner : o*srcRow+op.End*inner]
		for i, v := range grad.Data[o*block : (o+1)*block] {
			dst[i] += v
		}
	}
	return nil
}
