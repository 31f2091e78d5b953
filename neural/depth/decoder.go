// Package depth predicts multi-scale disparity maps from backbone features.
package depth

import (
	"errors"
	"fmt"

	"github.com/golangast/egodepth/neural/backbone"
	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/tensor"
)

var (
	// ErrInvalidNumScales is returned when the scale count is outside [1, MaxScales].
	ErrInvalidNumScales = errors.New("invalid number of scales")
	// ErrChannelSchedule is returned when the backbone channels do not fit the decoder.
	ErrChannelSchedule = errors.New("backbone channel schedule does not match decoder")
)

const (
	// MaxScales is the number of decoder stages that can emit a disparity map.
	MaxScales = 5
	// reducedChannels is the width every candidate feature is squeezed to before merging.
	reducedChannels = 8
)

var (
	// upconvPlanes are the output widths of the five decoder stages.
	upconvPlanes = [MaxScales]int{256, 128, 64, 64, 32}
	// expectedChannels is the only backbone schedule the decoder accepts.
	expectedChannels = [backbone.NumFeatures]int{64, 64, 128, 256, 512}
)

// stage upsamples its input, optionally adds a skip feature, then refines.
type stage struct {
	Up     *nn.UpConv
	Refine *nn.ConvBlock
	// Skip is the backbone feature index added after upsampling, or -1.
	Skip int
}

// Decoder turns the five backbone features into NumScales disparity maps.
type Decoder struct {
	NumScales int
	RefImages int
	Stages    [MaxScales]stage
	Reduce    []*nn.ConvBlock
	Heads     []*nn.DispHead
}

// CheckChannels reports whether a backbone with the given channel schedule
// can feed the decoder. Only the basic-block ResNets (18 and 34) qualify.
func CheckChannels(channels [backbone.NumFeatures]int) error {
	if channels != expectedChannels {
		return fmt.Errorf("%w: got %v, want %v", ErrChannelSchedule, channels, expectedChannels)
	}
	return nil
}

// NewDecoder builds a decoder for a backbone with the given channel schedule.
// refImages is the number of disparity channels each head emits.
func NewDecoder(ini *nn.Initializer, channels [backbone.NumFeatures]int, numScales, refImages int) (*Decoder, error) {
	if numScales < 1 || numScales > MaxScales {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidNumScales, numScales, MaxScales)
	}
	if err := CheckChannels(channels); err != nil {
		return nil, err
	}
	if refImages < 1 {
		return nil, fmt.Errorf("decoder needs at least one reference image, got %d", refImages)
	}

	d := &Decoder{NumScales: numScales, RefImages: refImages}
	in := channels[backbone.NumFeatures-1]
	for i, out := range upconvPlanes {
		up, err := nn.NewUpConv(ini, in, out)
		if err != nil {
			return nil, fmt.Errorf("upconv %d: %w", i, err)
		}
		refine, err := nn.NewConvBlock(ini, out, out)
		if err != nil {
			return nil, fmt.Errorf("refine %d: %w", i, err)
		}
		skip := -1
		if i < MaxScales-1 {
			skip = backbone.NumFeatures - 2 - i
			if channels[skip] != out {
				return nil, fmt.Errorf("%w: stage %d produces %d channels but skip %d has %d", ErrChannelSchedule, i, out, skip, channels[skip])
			}
		}
		d.Stages[i] = stage{Up: up, Refine: refine, Skip: skip}
		in = out
	}

	for i, planes := range upconvPlanes[MaxScales-numScales:] {
		reduce, err := nn.NewConvBlock(ini, planes, reducedChannels)
		if err != nil {
			return nil, fmt.Errorf("reduce %d: %w", i, err)
		}
		d.Reduce = append(d.Reduce, reduce)
	}
	for i := 0; i < numScales; i++ {
		head, err := nn.NewDispHead(ini, reducedChannels*(i+1), refImages)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
		d.Heads = append(d.Heads, head)
	}
	return d, nil
}

// Forward returns NumScales disparity maps in (0, 1), finest first.
// Map i has twice the resolution of map i+1.
func (d *Decoder) Forward(features []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(features) != backbone.NumFeatures {
		return nil, fmt.Errorf("decoder expects %d features, got %d", backbone.NumFeatures, len(features))
	}

	// outputs grows append-only: the coarsest feature followed by each stage result.
	outputs := make([]*tensor.Tensor, 0, MaxScales+1)
	outputs = append(outputs, features[backbone.NumFeatures-1])
	for i, st := range d.Stages {
		x, err := st.Up.Forward(outputs[len(outputs)-1])
		if err != nil {
			return nil, fmt.Errorf("stage %d upconv: %w", i, err)
		}
		if st.Skip >= 0 {
			if x, err = x.Add(features[st.Skip]); err != nil {
				return nil, fmt.Errorf("stage %d skip from feature %d: %w", i, st.Skip, err)
			}
		}
		if x, err = st.Refine.Forward(x); err != nil {
			return nil, fmt.Errorf("stage %d refine: %w", i, err)
		}
		outputs = append(outputs, x)
	}

	// The last NumScales entries are the candidates, coarse to fine.
	candidates := outputs[len(outputs)-d.NumScales:]
	reduced := make([]*tensor.Tensor, d.NumScales)
	for i, c := range candidates {
		r, err := d.Reduce[i].Forward(c)
		if err != nil {
			return nil, fmt.Errorf("reduce %d: %w", i, err)
		}
		reduced[i] = r
	}

	disps := make([]*tensor.Tensor, d.NumScales)
	for i := range reduced {
		merged, err := mergeCoarser(reduced[:i+1])
		if err != nil {
			return nil, fmt.Errorf("merge %d: %w", i, err)
		}
		disp, err := d.Heads[i].Forward(merged)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
		disps[d.NumScales-1-i] = disp
	}
	return disps, nil
}

// mergeCoarser upsamples every map but the last to the last one's size and
// concatenates them all on the channel axis, coarsest first.
func mergeCoarser(maps []*tensor.Tensor) (*tensor.Tensor, error) {
	last := maps[len(maps)-1]
	if len(maps) == 1 {
		return last, nil
	}
	_, _, h, w, err := last.Dims4()
	if err != nil {
		return nil, err
	}
	parts := make([]*tensor.Tensor, 0, len(maps))
	for _, m := range maps[:len(maps)-1] {
		up, err := tensor.UpsampleNearest(m, h, w)
		if err != nil {
			return nil, err
		}
		parts = append(parts, up)
	}
	return tensor.Concat(append(parts, last), 1)
}

func (d *Decoder) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, st := range d.Stages {
		params = append(params, st.Up.Parameters()...)
		params = append(params, st.Refine.Parameters()...)
	}
	for i := range d.Reduce {
		params = append(params, d.Reduce[i].Parameters()...)
		params = append(params, d.Heads[i].Parameters()...)
	}
	return params
}

func (d *Decoder) NamedParameters(prefix string) []nn.NamedParameter {
	name := func(format string, i int) string {
		s := fmt.Sprintf(format, i)
		if prefix == "" {
			return s
		}
		return prefix + "." + s
	}
	var params []nn.NamedParameter
	for i, st := range d.Stages {
		params = append(params, st.Up.NamedParameters(name("upconvs.%d", i))...)
		params = append(params, st.Refine.NamedParameters(name("iconvs.%d", i))...)
	}
	for i := range d.Reduce {
		params = append(params, d.Reduce[i].NamedParameters(name("reduce.%d", i))...)
	}
	for i := range d.Heads {
		params = append(params, d.Heads[i].NamedParameters(name("heads.%d", i))...)
	}
	return params
}
