//go:build cgo
// +build cgo

package backbone

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/golangast/egodepth/neural/tensor"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// ONNX runs a pretrained encoder through ONNX Runtime. Its features are
// constants: nothing is trainable and no graph is recorded.
type ONNX struct {
	opts ONNXOptions
}

// NewONNX initialises the ONNX Runtime environment and checks the options.
// Call Close when the backbone is no longer needed.
func NewONNX(opts ONNXOptions) (*ONNX, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("onnx backbone: model path must be provided")
	}
	if opts.InputName == "" || len(opts.OutputNames) != NumFeatures {
		return nil, fmt.Errorf("onnx backbone: need an input name and %d output names, got %q and %v", NumFeatures, opts.InputName, opts.OutputNames)
	}
	if err := opts.Depth.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx backbone: %w", err)
	}

	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if opts.ORTSharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.ORTSharedLibraryPath)
		} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx backbone: %w", err)
		}
	}
	envRefs++
	return &ONNX{opts: opts}, nil
}

// Close releases the shared ONNX Runtime environment.
func (o *ONNX) Close() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

func (o *ONNX) Channels() [NumFeatures]int { return Channels(o.opts.Depth) }

func (o *ONNX) Parameters() []*tensor.Tensor { return nil }

// Forward runs one session per call, so concurrent calls do not share state.
func (o *ONNX) Forward(image *tensor.Tensor) ([]*tensor.Tensor, error) {
	n, c, h, w, err := image.Dims4()
	if err != nil {
		return nil, err
	}
	data := make([]float32, len(image.Data))
	for i, v := range image.Data {
		data[i] = float32(v)
	}
	in, err := ort.NewTensor(ort.NewShape(int64(n), int64(c), int64(h), int64(w)), data)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()

	channels := o.Channels()
	outs := make([]*ort.Tensor[float32], NumFeatures)
	values := make([]ort.Value, NumFeatures)
	defer func() {
		for _, t := range outs {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	shapes := make([][]int, NumFeatures)
	for i := range outs {
		fh, fw := FeatureSize(i, h, w)
		shapes[i] = []int{n, channels[i], fh, fw}
		outs[i], err = ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(channels[i]), int64(fh), int64(fw)))
		if err != nil {
			return nil, err
		}
		values[i] = outs[i]
	}

	session, err := ort.NewAdvancedSession(
		o.opts.ModelPath,
		[]string{o.opts.InputName},
		o.opts.OutputNames,
		[]ort.Value{in},
		values,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx backbone: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("onnx backbone: %w", err)
	}

	features := make([]*tensor.Tensor, NumFeatures)
	for i, t := range outs {
		raw := t.GetData()
		vals := make([]float64, len(raw))
		for j, v := range raw {
			vals[j] = float64(v)
		}
		features[i] = tensor.NewTensor(shapes[i], vals, false)
	}
	return features, nil
}
