package backbone

import (
	"fmt"

	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/tensor"
)

const bottleneckExpansion = 4

// residualBlock is a chain of conv/bn pairs with ReLU in between, plus a
// skip connection that is added before the final ReLU.
type residualBlock struct {
	Convs      []*nn.Conv2d
	BNs        []*nn.BatchNorm2d
	// Downsample projects the identity path (conv 1x1 then batch norm) when
	// the block changes stride or width.
	Downsample *nn.Sequential
}

func newBasicBlock(ini *nn.Initializer, in, planes, stride int) (*residualBlock, error) {
	c1, err := nn.NewConv2d(ini, in, planes, 3, stride, 1, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	c2, err := nn.NewConv2d(ini, planes, planes, 3, 1, 1, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	b := &residualBlock{
		Convs: []*nn.Conv2d{c1, c2},
		BNs:   []*nn.BatchNorm2d{nn.NewBatchNorm2d(planes), nn.NewBatchNorm2d(planes)},
	}
	return b, b.addDownsample(ini, in, planes, stride)
}

func newBottleneck(ini *nn.Initializer, in, planes, stride int) (*residualBlock, error) {
	out := planes * bottleneckExpansion
	c1, err := nn.NewConv2d(ini, in, planes, 1, 1, 0, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	c2, err := nn.NewConv2d(ini, planes, planes, 3, stride, 1, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	c3, err := nn.NewConv2d(ini, planes, out, 1, 1, 0, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	b := &residualBlock{
		Convs: []*nn.Conv2d{c1, c2, c3},
		BNs:   []*nn.BatchNorm2d{nn.NewBatchNorm2d(planes), nn.NewBatchNorm2d(planes), nn.NewBatchNorm2d(out)},
	}
	return b, b.addDownsample(ini, in, out, stride)
}

func (b *residualBlock) addDownsample(ini *nn.Initializer, in, out, stride int) error {
	if stride == 1 && in == out {
		return nil
	}
	conv, err := nn.NewConv2d(ini, in, out, 1, stride, 0, tensor.PadZero, false)
	if err != nil {
		return err
	}
	b.Downsample = nn.NewSequential(conv, nn.NewBatchNorm2d(out))
	return nil
}

func (b *residualBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	identity := x
	if b.Downsample != nil {
		var err error
		identity, err = b.Downsample.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("downsample: %w", err)
		}
	}
	y := x
	for i, conv := range b.Convs {
		var err error
		if y, err = conv.Forward(y); err != nil {
			return nil, fmt.Errorf("conv%d: %w", i+1, err)
		}
		if y, err = b.BNs[i].Forward(y); err != nil {
			return nil, fmt.Errorf("bn%d: %w", i+1, err)
		}
		if i < len(b.Convs)-1 {
			y = y.ReLU()
		}
	}
	sum, err := y.Add(identity)
	if err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}
	return sum.ReLU(), nil
}

func (b *residualBlock) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for i := range b.Convs {
		params = append(params, b.Convs[i].Parameters()...)
		params = append(params, b.BNs[i].Parameters()...)
	}
	if b.Downsample != nil {
		params = append(params, b.Downsample.Parameters()...)
	}
	return params
}

func (b *residualBlock) NamedParameters(prefix string) []nn.NamedParameter {
	var params []nn.NamedParameter
	for i := range b.Convs {
		params = append(params, b.Convs[i].NamedParameters(fmt.Sprintf("%s.conv%d", prefix, i+1))...)
		params = append(params, b.BNs[i].NamedParameters(fmt.Sprintf("%s.bn%d", prefix, i+1))...)
	}
	if b.Downsample != nil {
		params = append(params, b.Downsample.NamedParameters(prefix+".downsample")...)
	}
	return params
}

// ResNet is the native residual encoder. Parameter names follow the usual
// "conv1", "bn1", "layerK.i.*" layout so exported weights map one to one.
type ResNet struct {
	Depth          Depth
	NumInputImages int
	Conv1          *nn.Conv2d
	BN1            *nn.BatchNorm2d
	MaxPool        *nn.MaxPool2d
	Layers         [4][]*residualBlock
}

// NewResNet builds a randomly initialised ResNet taking numInputImages
// channel-stacked RGB frames. Convolutions use Kaiming initialisation and
// batch norms start as the identity.
func NewResNet(depth Depth, numInputImages int, seed uint64) (*ResNet, error) {
	if err := depth.Validate(); err != nil {
		return nil, err
	}
	if numInputImages < 1 {
		return nil, fmt.Errorf("resnet needs at least one input image, got %d", numInputImages)
	}
	ini := nn.NewInitializer(nn.InitKaiming, seed)

	conv1, err := nn.NewConv2d(ini, 3*numInputImages, 64, 7, 2, 3, tensor.PadZero, false)
	if err != nil {
		return nil, err
	}
	r := &ResNet{
		Depth:          depth,
		NumInputImages: numInputImages,
		Conv1:          conv1,
		BN1:            nn.NewBatchNorm2d(64),
		MaxPool:        &nn.MaxPool2d{Kernel: 3, Stride: 2, Padding: 1},
	}

	inplanes := 64
	for stage, planes := range [4]int{64, 128, 256, 512} {
		stride := 2
		if stage == 0 {
			stride = 1
		}
		for i := 0; i < blockCounts[depth][stage]; i++ {
			var block *residualBlock
			if depth.Bottleneck() {
				block, err = newBottleneck(ini, inplanes, planes, stride)
				inplanes = planes * bottleneckExpansion
			} else {
				block, err = newBasicBlock(ini, inplanes, planes, stride)
				inplanes = planes
			}
			if err != nil {
				return nil, fmt.Errorf("layer%d.%d: %w", stage+1, i, err)
			}
			r.Layers[stage] = append(r.Layers[stage], block)
			stride = 1
		}
	}
	return r, nil
}

// Channels returns the channel schedule of the five feature maps.
func (r *ResNet) Channels() [NumFeatures]int { return Channels(r.Depth) }

// Forward returns [relu(bn1(conv1)), layer1(maxpool), layer2, layer3, layer4].
func (r *ResNet) Forward(image *tensor.Tensor) ([]*tensor.Tensor, error) {
	_, c, _, _, err := image.Dims4()
	if err != nil {
		return nil, err
	}
	if want := 3 * r.NumInputImages; c != want {
		return nil, fmt.Errorf("resnet expects %d input channels, got %d", want, c)
	}

	x, err := r.Conv1.Forward(image)
	if err != nil {
		return nil, fmt.Errorf("conv1: %w", err)
	}
	if x, err = r.BN1.Forward(x); err != nil {
		return nil, fmt.Errorf("bn1: %w", err)
	}
	features := make([]*tensor.Tensor, 0, NumFeatures)
	features = append(features, x.ReLU())

	if x, err = r.MaxPool.Forward(features[0]); err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	for stage, blocks := range r.Layers {
		for i, block := range blocks {
			if x, err = block.Forward(x); err != nil {
				return nil, fmt.Errorf("layer%d.%d: %w", stage+1, i, err)
			}
		}
		features = append(features, x)
	}
	return features, nil
}

func (r *ResNet) Parameters() []*tensor.Tensor {
	params := append(r.Conv1.Parameters(), r.BN1.Parameters()...)
	for _, blocks := range r.Layers {
		for _, b := range blocks {
			params = append(params, b.Parameters()...)
		}
	}
	return params
}

func (r *ResNet) NamedParameters(prefix string) []nn.NamedParameter {
	name := func(s string) string {
		if prefix == "" {
			return s
		}
		return prefix + "." + s
	}
	params := append(r.Conv1.NamedParameters(name("conv1")), r.BN1.NamedParameters(name("bn1"))...)
	for stage, blocks := range r.Layers {
		for i, b := range blocks {
			params = append(params, b.NamedParameters(name(fmt.Sprintf("layer%d.%d", stage+1, i)))...)
		}
	}
	return params
}
