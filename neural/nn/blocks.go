package nn

import (
	"encoding/gob"

	. "github.com/golangast/egodepth/neural/tensor"
)

func init() {
	gob.Register(&UpConv{})
	gob.Register(&ConvBlock{})
	gob.Register(&DispHead{})
}

// UpConv doubles the resolution, then applies a reflect-padded 3x3 convolution and ELU.
type UpConv struct {
	Conv *Conv2d
}

// NewUpConv creates an UpConv block mapping in to out channels.
func NewUpConv(ini *Initializer, in, out int) (*UpConv, error) {
	conv, err := NewConv3x3(ini, in, out, true)
	if err != nil {
		return nil, err
	}
	return &UpConv{Conv: conv}, nil
}

func (u *UpConv) Forward(x *Tensor) (*Tensor, error) {
	up, err := Upsample2x(x)
	if err != nil {
		return nil, err
	}
	y, err := u.Conv.Forward(up)
	if err != nil {
		return nil, err
	}
	return y.ELU(), nil
}

func (u *UpConv) Parameters() []*Tensor { return u.Conv.Parameters() }

func (u *UpConv) NamedParameters(prefix string) []NamedParameter {
	return u.Conv.NamedParameters(join(prefix, "conv"))
}

// ConvBlock is a reflect-padded 3x3 convolution followed by ELU.
type ConvBlock struct {
	Conv *Conv2d
}

// NewConvBlock creates a ConvBlock mapping in to out channels.
func NewConvBlock(ini *Initializer, in, out int) (*ConvBlock, error) {
	conv, err := NewConv3x3(ini, in, out, true)
	if err != nil {
		return nil, err
	}
	return &ConvBlock{Conv: conv}, nil
}

func (b *ConvBlock) Forward(x *Tensor) (*Tensor, error) {
	y, err := b.Conv.Forward(x)
	if err != nil {
		return nil, err
	}
	return y.ELU(), nil
}

func (b *ConvBlock) Parameters() []*Tensor { return b.Conv.Parameters() }

func (b *ConvBlock) NamedParameters(prefix string) []NamedParameter {
	return b.Conv.NamedParameters(join(prefix, "conv"))
}

// DispHead maps merged features to disparity in (0, 1): a reflect-padded
// 3x3 convolution followed by a sigmoid.
type DispHead struct {
	Conv *Conv2d
}

// NewDispHead creates a head producing out disparity channels.
func NewDispHead(ini *Initializer, in, out int) (*DispHead, error) {
	conv, err := NewConv3x3(ini, in, out, true)
	if err != nil {
		return nil, err
	}
	return &DispHead{Conv: conv}, nil
}

func (h *DispHead) Forward(x *Tensor) (*Tensor, error) {
	y, err := h.Conv.Forward(x)
	if err != nil {
		return nil, err
	}
	return y.Sigmoid(), nil
}

func (h *DispHead) Parameters() []*Tensor { return h.Conv.Parameters() }

func (h *DispHead) NamedParameters(prefix string) []NamedParameter {
	return h.Conv.NamedParameters(join(prefix, "conv"))
}
