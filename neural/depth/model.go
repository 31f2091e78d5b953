package depth

import (
	"fmt"

	"github.com/golangast/egodepth/neural/backbone"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/tensor"
)

// Input normalisation applied before the backbone.
const (
	InputMean = 0.45
	InputStd  = 0.22
)

// CheckpointKind tags checkpoints written for a depth model.
const CheckpointKind = "depth"

// Model chains a backbone and a decoder: image in [0,1] -> disparities.
type Model struct {
	Encoder backbone.Backbone
	Decoder *Decoder
}

// NewModel builds a decoder matching enc's channel schedule. refImages sets
// the disparity channels per head; enc still sees one image.
func NewModel(enc backbone.Backbone, ini *nn.Initializer, numScales, refImages int) (*Model, error) {
	dec, err := NewDecoder(ini, enc.Channels(), numScales, refImages)
	if err != nil {
		return nil, err
	}
	return &Model{Encoder: enc, Decoder: dec}, nil
}

// Forward normalises image (N, 3, H, W), encodes it and decodes
// Decoder.NumScales disparity maps, finest first.
func (m *Model) Forward(image *tensor.Tensor) ([]*tensor.Tensor, error) {
	x, err := image.Normalize(InputMean, InputStd)
	if err != nil {
		return nil, err
	}
	features, err := m.Encoder.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	disps, err := m.Decoder.Forward(features)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return disps, nil
}

func (m *Model) Parameters() []*tensor.Tensor {
	return append(m.Encoder.Parameters(), m.Decoder.Parameters()...)
}

// NamedParameters covers the encoder only when it exposes named tensors.
func (m *Model) NamedParameters(prefix string) []nn.NamedParameter {
	join := func(s string) string {
		if prefix == "" {
			return s
		}
		return prefix + "." + s
	}
	var params []nn.NamedParameter
	if enc, ok := m.Encoder.(nn.Stateful); ok {
		params = append(params, enc.NamedParameters(join("encoder"))...)
	}
	return append(params, m.Decoder.NamedParameters(join("decoder"))...)
}

// DispToDepth converts sigmoid disparity into depth bounded by
// [minDepth, maxDepth]. It returns the scaled disparity and the depth.
func DispToDepth(disp *tensor.Tensor, minDepth, maxDepth float64) (*tensor.Tensor, *tensor.Tensor, error) {
	if minDepth <= 0 || maxDepth <= minDepth {
		return nil, nil, fmt.Errorf("invalid depth range [%v, %v]", minDepth, maxDepth)
	}
	minDisp := 1 / maxDepth
	maxDisp := 1 / minDepth
	scaled := disp.Affine(maxDisp-minDisp, minDisp)
	depth := tensor.NewTensor(scaled.Shape, nil, false)
	for i, v := range scaled.Data {
		depth.Data[i] = 1 / v
	}
	return scaled, depth, nil
}
