package nn

import (
	"fmt"

	. "github.com/golangast/egodepth/neural/tensor"
)

// Module is a differentiable building block.
// Forward must not mutate the module, so one module may serve concurrent calls.
type Module interface {
	Forward(x *Tensor) (*Tensor, error)
	// Parameters returns the trainable tensors.
	Parameters() []*Tensor
	// NamedParameters returns every persistent tensor (trainable or not)
	// keyed by its dotted path below prefix.
	NamedParameters(prefix string) []NamedParameter
}

// Stateful exposes the persistent tensors saved in checkpoints.
type Stateful interface {
	NamedParameters(prefix string) []NamedParameter
}

// Trainable exposes the tensors an optimizer updates.
type Trainable interface {
	Parameters() []*Tensor
}

// NamedParameter pairs a tensor with its dotted checkpoint name.
type NamedParameter struct {
	Name   string
	Tensor *Tensor
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Sequential chains modules, feeding each output into the next.
type Sequential struct {
	Layers []Module
}

// NewSequential creates a Sequential container.
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *Tensor) (*Tensor, error) {
	var err error
	for i, l := range s.Layers {
		x, err = l.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// NamedParameters names children by their index, as in "0.weight".
func (s *Sequential) NamedParameters(prefix string) []NamedParameter {
	var params []NamedParameter
	for i, l := range s.Layers {
		params = append(params, l.NamedParameters(join(prefix, fmt.Sprint(i)))...)
	}
	return params
}

// Freeze stops gradient tracking for every parameter of m.
// A frozen module builds no graph during Forward unless its input requires grad.
func Freeze(m Trainable) {
	for _, p := range m.Parameters() {
		p.RequiresGrad = false
		p.Grad = nil
	}
}

// Unfreeze re-enables gradient tracking for every parameter of m.
func Unfreeze(m Trainable) {
	for _, p := range m.Parameters() {
		p.RequiresGrad = true
	}
}

// CountParameters returns the number of scalar values in the trainable tensors.
func CountParameters(m Trainable) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Size()
	}
	return n
}
