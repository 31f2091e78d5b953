// Package backbone provides the image encoders that feed the disparity
// decoder: a native ResNet and an ONNX Runtime variant for exported
// pretrained weights.
package backbone

import (
	"errors"
	"fmt"

	"github.com/golangast/egodepth/neural/tensor"
)

// NumFeatures is the number of maps every backbone returns.
const NumFeatures = 5

var (
	// ErrInvalidDepth is returned for a ResNet depth outside 18/34/50/101/152.
	ErrInvalidDepth = errors.New("invalid resnet depth")
	// ErrCGORequired is returned by the ONNX backbone in builds without cgo.
	ErrCGORequired = errors.New("onnx backbone requires CGO support; rebuild with CGO_ENABLED=1")
)

// Backbone encodes an (N, 3*k, H, W) image into five feature maps at strides
// 2, 4, 8, 16 and 32, ordered finest first.
type Backbone interface {
	Forward(image *tensor.Tensor) ([]*tensor.Tensor, error)
	Channels() [NumFeatures]int
	Parameters() []*tensor.Tensor
}

// Depth selects a ResNet variant by layer count.
type Depth int

// blockCounts lists the residual blocks in each of the four stages.
var blockCounts = map[Depth][4]int{
	18:  {2, 2, 2, 2},
	34:  {3, 4, 6, 3},
	50:  {3, 4, 6, 3},
	101: {3, 4, 23, 3},
	152: {3, 8, 36, 3},
}

// Validate reports ErrInvalidDepth for unsupported layer counts.
func (d Depth) Validate() error {
	if _, ok := blockCounts[d]; !ok {
		return fmt.Errorf("%w: %d (want 18, 34, 50, 101 or 152)", ErrInvalidDepth, int(d))
	}
	return nil
}

// Bottleneck reports whether the variant uses bottleneck blocks.
func (d Depth) Bottleneck() bool { return d > 34 }

// Channels returns the channel count of each feature map for depth d.
func Channels(d Depth) [NumFeatures]int {
	ch := [NumFeatures]int{64, 64, 128, 256, 512}
	if d.Bottleneck() {
		for i := 1; i < NumFeatures; i++ {
			ch[i] *= 4
		}
	}
	return ch
}

// FeatureSize returns the spatial size of feature map level (0-based) for an
// input of size h x w. Every stage rounds up when halving.
func FeatureSize(level, h, w int) (int, int) {
	for i := 0; i <= level; i++ {
		h = (h + 1) / 2
		w = (w + 1) / 2
	}
	return h, w
}
