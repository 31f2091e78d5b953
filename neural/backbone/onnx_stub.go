//go:build !cgo
// +build !cgo

package backbone

import "github.com/golangast/egodepth/neural/tensor"

// ONNX is unavailable in builds without cgo.
type ONNX struct{}

// NewONNX returns ErrCGORequired.
func NewONNX(opts ONNXOptions) (*ONNX, error) {
	return nil, ErrCGORequired
}

func (o *ONNX) Close() error { return nil }

func (o *ONNX) Channels() [NumFeatures]int { return [NumFeatures]int{} }

func (o *ONNX) Parameters() []*tensor.Tensor { return nil }

func (o *ONNX) Forward(image *tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, ErrCGORequired
}
