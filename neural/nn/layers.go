package nn

import (
	"encoding/gob"
	"fmt"

	. "github.com/golangast/egodepth/neural/tensor"
)

func init() {
	gob.Register(&Conv2d{})
	gob.Register(&BatchNorm2d{})
	gob.Register(&MaxPool2d{})
	gob.Register(&AvgPool2d{})
	gob.Register(&Sequential{})
}

// Conv2d is a 2D convolution with explicit padding.
type Conv2d struct {
	Weight  *Tensor // (out, in, k, k)
	Bias    *Tensor // (out), nil when the layer has no bias
	Stride  int
	Padding int
	PadMode PadMode
}

// NewConv2d creates a square-kernel convolution initialised by ini.
func NewConv2d(ini *Initializer, inChannels, outChannels, kernel, stride, padding int, mode PadMode, bias bool) (*Conv2d, error) {
	if inChannels < 1 || outChannels < 1 || kernel < 1 || stride < 1 || padding < 0 {
		return nil, fmt.Errorf("invalid conv2d geometry: in=%d out=%d kernel=%d stride=%d padding=%d",
			inChannels, outChannels, kernel, stride, padding)
	}
	weight := NewTensor([]int{outChannels, inChannels, kernel, kernel}, nil, true)
	ini.ConvWeight(weight)
	c := &Conv2d{Weight: weight, Stride: stride, Padding: padding, PadMode: mode}
	if bias {
		c.Bias = NewTensor([]int{outChannels}, nil, true)
		ini.ConvBias(c.Bias, inChannels*kernel*kernel)
	}
	return c, nil
}

// NewConv3x3 pads by one pixel (reflect or zero) and applies a 3x3 convolution
// with bias, preserving spatial size.
func NewConv3x3(ini *Initializer, inChannels, outChannels int, reflect bool) (*Conv2d, error) {
	mode := PadZero
	if reflect {
		mode = PadReflect
	}
	return NewConv2d(ini, inChannels, outChannels, 3, 1, 1, mode, true)
}

// InChannels returns the expected input channel count.
func (c *Conv2d) InChannels() int { return c.Weight.Shape[1] }

// OutChannels returns the produced channel count.
func (c *Conv2d) OutChannels() int { return c.Weight.Shape[0] }

func (c *Conv2d) Forward(x *Tensor) (*Tensor, error) {
	if c.Padding > 0 {
		var err error
		x, err = Pad2D(x, c.Padding, c.PadMode)
		if err != nil {
			return nil, err
		}
	}
	return Conv2D(x, c.Weight, c.Bias, c.Stride)
}

func (c *Conv2d) Parameters() []*Tensor {
	if c.Bias != nil {
		return []*Tensor{c.Weight, c.Bias}
	}
	return []*Tensor{c.Weight}
}

func (c *Conv2d) NamedParameters(prefix string) []NamedParameter {
	params := []NamedParameter{{join(prefix, "weight"), c.Weight}}
	if c.Bias != nil {
		params = append(params, NamedParameter{join(prefix, "bias"), c.Bias})
	}
	return params
}

// BatchNorm2d normalises channels with running statistics. Only inference
// behaviour is provided: the statistics never change during Forward.
type BatchNorm2d struct {
	Gamma       *Tensor
	Beta        *Tensor
	RunningMean *Tensor
	RunningVar  *Tensor
	Eps         float64
}

// NewBatchNorm2d creates an identity-initialised batch norm layer.
func NewBatchNorm2d(channels int) *BatchNorm2d {
	gamma := Full([]int{channels}, 1)
	gamma.RequiresGrad = true
	return &BatchNorm2d{
		Gamma:       gamma,
		Beta:        NewTensor([]int{channels}, nil, true),
		RunningMean: NewTensor([]int{channels}, nil, false),
		RunningVar:  Full([]int{channels}, 1),
		Eps:         1e-5,
	}
}

func (b *BatchNorm2d) Forward(x *Tensor) (*Tensor, error) {
	return BatchNorm2D(x, b.Gamma, b.Beta, b.RunningMean, b.RunningVar, b.Eps)
}

func (b *BatchNorm2d) Parameters() []*Tensor {
	return []*Tensor{b.Gamma, b.Beta}
}

func (b *BatchNorm2d) NamedParameters(prefix string) []NamedParameter {
	return []NamedParameter{
		{join(prefix, "weight"), b.Gamma},
		{join(prefix, "bias"), b.Beta},
		{join(prefix, "running_mean"), b.RunningMean},
		{join(prefix, "running_var"), b.RunningVar},
	}
}

// MaxPool2d is a square max pooling window; padded cells never win.
type MaxPool2d struct {
	Kernel, Stride, Padding int
}

func (p *MaxPool2d) Forward(x *Tensor) (*Tensor, error) {
	return MaxPool2D(x, p.Kernel, p.Stride, p.Padding)
}
func (p *MaxPool2d) Parameters() []*Tensor                          { return nil }
func (p *MaxPool2d) NamedParameters(prefix string) []NamedParameter { return nil }

// AvgPool2d averages non-overlapping or strided rectangular windows.
type AvgPool2d struct {
	KernelH, KernelW int
	StrideH, StrideW int
}

func (p *AvgPool2d) Forward(x *Tensor) (*Tensor, error) {
	return AvgPool2D(x, p.KernelH, p.KernelW, p.StrideH, p.StrideW)
}
func (p *AvgPool2d) Parameters() []*Tensor                          { return nil }
func (p *AvgPool2d) NamedParameters(prefix string) []NamedParameter { return nil }
