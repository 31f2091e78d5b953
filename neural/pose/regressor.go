// Package pose regresses the relative camera motion between video frames.
package pose

import (
	"errors"
	"fmt"

	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/tensor"
)

// ErrInputChannels is returned when the stacked frames do not match the
// channel count the regressor was built for.
var ErrInputChannels = errors.New("unexpected regressor input channels")

// FlowType selects whether an optical-flow map is stacked with the frames.
type FlowType string

const (
	FlowNone      FlowType = "none"
	FlowClassical FlowType = "classical"
	FlowLearned   FlowType = "learned"
)

// ParseFlowType validates a flow type name.
func ParseFlowType(s string) (FlowType, error) {
	switch FlowType(s) {
	case FlowNone, FlowClassical, FlowLearned:
		return FlowType(s), nil
	}
	return "", fmt.Errorf("unknown flow type %q", s)
}

// InputChannels is 6 for two RGB frames and 8 when a 2-channel flow map is added.
func (f FlowType) InputChannels() int {
	if f == FlowNone {
		return 6
	}
	return 8
}

const (
	// Input normalisation applied to the stacked frames.
	InputMean = 0.45
	InputStd  = 0.22
	// OutputScale keeps the initial pose estimates small.
	OutputScale = 0.01
	// CheckpointKind tags checkpoints written for a regressor.
	CheckpointKind = "pose"
)

type convSpec struct {
	out, stride int
}

// convSpecs describes the seven unpadded 3x3 convolutions, in order.
var convSpecs = [7]convSpec{
	{16, 1}, {32, 2}, {64, 3}, {128, 2}, {256, 2}, {512, 2}, {1024, 2},
}

// Regressor maps stacked frames to a (B, 6) vector: translation then
// axis-angle rotation.
type Regressor struct {
	Flow  FlowType
	Convs [len(convSpecs)]*nn.Conv2d
	Pool  *nn.AvgPool2d
	Trans *nn.Conv2d
	Rot   *nn.Conv2d
}

// NewRegressor builds a regressor for the given flow configuration.
func NewRegressor(ini *nn.Initializer, flow FlowType) (*Regressor, error) {
	if _, err := ParseFlowType(string(flow)); err != nil {
		return nil, err
	}
	r := &Regressor{
		Flow: flow,
		Pool: &nn.AvgPool2d{KernelH: 1, KernelW: 5, StrideH: 1, StrideW: 5},
	}
	in := flow.InputChannels()
	for i, spec := range convSpecs {
		conv, err := nn.NewConv2d(ini, in, spec.out, 3, spec.stride, 0, tensor.PadZero, true)
		if err != nil {
			return nil, fmt.Errorf("conv %d: %w", i, err)
		}
		r.Convs[i] = conv
		in = spec.out
	}
	var err error
	if r.Trans, err = nn.NewConv2d(ini, in, 3, 1, 1, 0, tensor.PadZero, true); err != nil {
		return nil, fmt.Errorf("translation head: %w", err)
	}
	if r.Rot, err = nn.NewConv2d(ini, in, 3, 1, 1, 0, tensor.PadZero, true); err != nil {
		return nil, fmt.Errorf("rotation head: %w", err)
	}
	return r, nil
}

// Forward stacks the frames on the channel axis and regresses their motion.
// frames holds the target frame, the reference frame and, optionally, a flow
// map; with FlowNone anything after the first two entries is ignored.
func (r *Regressor) Forward(frames []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(frames) < 2 {
		return nil, fmt.Errorf("pose regressor needs at least two frames, got %d", len(frames))
	}
	if r.Flow == FlowNone {
		frames = frames[:2]
	}
	x, err := tensor.Concat(frames, 1)
	if err != nil {
		return nil, fmt.Errorf("stacking frames: %w", err)
	}
	if got, want := x.Shape[1], r.Flow.InputChannels(); got != want {
		return nil, fmt.Errorf("%w: flow type %q expects %d channels, got %d", ErrInputChannels, r.Flow, want, got)
	}
	if x, err = x.Normalize(InputMean, InputStd); err != nil {
		return nil, err
	}
	return r.regress(x)
}

// regress runs the conv stack and the pose heads on normalised input.
func (r *Regressor) regress(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, conv := range r.Convs {
		if x, err = conv.Forward(x); err != nil {
			return nil, fmt.Errorf("conv %d: %w", i, err)
		}
		x = x.ReLU()
	}
	if x, err = r.Pool.Forward(x); err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	trans, err := r.Trans.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("translation head: %w", err)
	}
	rot, err := r.Rot.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("rotation head: %w", err)
	}
	out, err := tensor.Concat([]*tensor.Tensor{trans, rot}, 1)
	if err != nil {
		return nil, err
	}
	if out, err = out.Reshape([]int{-1, 6}); err != nil {
		return nil, err
	}
	return out.MulScalar(OutputScale), nil
}

func (r *Regressor) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, c := range r.Convs {
		params = append(params, c.Parameters()...)
	}
	params = append(params, r.Trans.Parameters()...)
	return append(params, r.Rot.Parameters()...)
}

func (r *Regressor) NamedParameters(prefix string) []nn.NamedParameter {
	name := func(s string) string {
		if prefix == "" {
			return s
		}
		return prefix + "." + s
	}
	var params []nn.NamedParameter
	for i, c := range r.Convs {
		params = append(params, c.NamedParameters(name(fmt.Sprintf("convs.%d", i)))...)
	}
	params = append(params, r.Trans.NamedParameters(name("trans_conv"))...)
	return append(params, r.Rot.NamedParameters(name("rot_conv"))...)
}
