package tensor

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Operation represents an operation in the computation graph.
type Operation interface {
	Inputs() []*Tensor
	Backward(grad *Tensor) error
}

// Tensor represents a multi-dimensional array of float64 values.
// Image tensors use NCHW layout.
type Tensor struct {
	Data         []float64
	Shape        []int
	Grad         *Tensor   `gob:"-"` // Exclude Grad from gob serialization
	Creator      Operation `gob:"-"` // Exclude Creator from gob serialization
	RequiresGrad bool
}

// GobEncode implements the gob.GobEncoder interface.
func (t *Tensor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(t.Data); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.Shape); err != nil {
		return nil, err
	}
	if err := enc.Encode(t.RequiresGrad); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(data))

	if err := dec.Decode(&t.Data); err != nil {
		return err
	}
	if err := dec.Decode(&t.Shape); err != nil {
		return err
	}
	if err := dec.Decode(&t.RequiresGrad); err != nil {
		return err
	}
	if len(t.Data) != numElements(t.Shape) {
		return fmt.Errorf("decoded tensor has %d values for shape %v", len(t.Data), t.Shape)
	}
	return nil
}

// NewTensor creates a new Tensor with the given shape and optional data.
// A nil data slice is replaced by zeros.
func NewTensor(shape []int, data []float64, requiresGrad bool) *Tensor {
	if data == nil {
		data = make([]float64, numElements(shape))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{
		Data:         data,
		Shape:        s,
		RequiresGrad: requiresGrad,
	}
}

// Full returns a tensor of the given shape with every element set to v.
func Full(shape []int, v float64) *Tensor {
	t := NewTensor(shape, nil, false)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Dims4 unpacks an NCHW shape.
func (t *Tensor) Dims4() (n, c, h, w int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected NCHW tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Clone creates a deep copy of the tensor.
// The clone is a new leaf: it shares neither gradient nor creator.
func (t *Tensor) Clone() *Tensor {
	newData := make([]float64, len(t.Data))
	copy(newData, t.Data)
	return NewTensor(t.Shape, newData, t.RequiresGrad)
}

// Detach returns a leaf tensor sharing t's data that does not require grad.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Data: t.Data, Shape: t.Shape}
}

// ZeroGrad resets the gradient of the tensor to zeros.
func (t *Tensor) ZeroGrad() {
	if !t.RequiresGrad {
		return
	}
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, nil, false)
		return
	}
	for i := range t.Grad.Data {
		t.Grad.Data[i] = 0
	}
}

// Inputs returns no inputs: a bare tensor is a leaf of the graph.
func (t *Tensor) Inputs() []*Tensor {
	return []*Tensor{}
}

// Backward performs backpropagation starting from this tensor.
// Gradients accumulate into every reachable tensor that requires grad.
func (t *Tensor) Backward(grad *Tensor) error {
	if grad == nil {
		grad = Full(t.Shape, 1)
	}
	if len(grad.Data) != len(t.Data) {
		return fmt.Errorf("seed gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	// Post-order DFS: every tensor lands after all of its inputs.
	topo := []*Tensor{}
	visited := map[*Tensor]bool{}
	type frame struct {
		t        *Tensor
		expanded bool
	}
	stack := []frame{{t: t}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.t == nil {
			continue
		}
		if f.expanded {
			topo = append(topo, f.t)
			continue
		}
		if visited[f.t] {
			continue
		}
		visited[f.t] = true
		stack = append(stack, frame{t: f.t, expanded: true})
		if f.t.Creator != nil {
			for _, child := range f.t.Creator.Inputs() {
				if child != nil && !visited[child] {
					stack = append(stack, frame{t: child})
				}
			}
		}
	}

	// Seed the gradient of the output tensor
	g := gradOf(t)
	for i := range grad.Data {
		g.Data[i] += grad.Data[i]
	}

	for i := len(topo) - 1; i >= 0; i-- {
		v := topo[i]
		if v.Creator == nil || v.Grad == nil {
			continue
		}
		if err := v.Creator.Backward(v.Grad); err != nil {
			return fmt.Errorf("error during backward pass for tensor with shape %v: %w", v.Shape, err)
		}
	}
	return nil
}

// gradOf returns t.Grad, allocating it on first use.
func gradOf(t *Tensor) *Tensor {
	if t.Grad == nil {
		t.Grad = NewTensor(t.Shape, nil, false)
	}
	return t.Grad
}

// Reshape returns a view of t with a new shape. The data slice is shared.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				return nil, fmt.Errorf("reshape to %v: more than one inferred dimension", newShape)
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of shape %v to %v", t.Shape, newShape)
		}
		shape[infer] = len(t.Data) / known
	}
	if numElements(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape tensor of shape %v to %v", t.Shape, newShape)
	}
	out := &Tensor{Data: t.Data, Shape: shape, RequiresGrad: t.RequiresGrad}
	if out.RequiresGrad {
		out.Creator = &ReshapeOperation{Input: t}
	}
	return out, nil
}

// ReshapeOperation represents the reshape operation for backward pass.
type ReshapeOperation struct {
	Input *Tensor
}

func (op *ReshapeOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *ReshapeOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for i, v := range grad.Data {
		g.Data[i] += v
	}
	return nil
}

// compareShapes is a helper function to compare two shapes.
func compareShapes(s1, s2 []int) bool {
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}
