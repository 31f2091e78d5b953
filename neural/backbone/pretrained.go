package backbone

import (
	"fmt"

	"github.com/golangast/egodepth/neural/nn"
	"github.com/golangast/egodepth/neural/tensor"
)

// CheckpointKind tags checkpoints written for a ResNet encoder.
const CheckpointKind = "resnet"

// LoadPretrained restores r from a checkpoint. A checkpoint trained on single
// RGB frames can seed a multi-frame encoder: its conv1 kernel is repeated once
// per input image along the channel axis and divided by the image count.
func (r *ResNet) LoadPretrained(path string) error {
	ckpt, err := nn.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := r.adaptConv1(ckpt); err != nil {
		return err
	}
	if err := ckpt.Apply(r); err != nil {
		return fmt.Errorf("loading resnet%d weights from %s: %w", r.Depth, path, err)
	}
	return nil
}

func (r *ResNet) adaptConv1(ckpt *nn.Checkpoint) error {
	w, ok := ckpt.Params["conv1.weight"]
	if !ok || r.NumInputImages == 1 || len(w.Shape) != 4 || w.Shape[1] != 3 {
		return nil
	}
	n := r.NumInputImages
	src, err := tensor.Concat(repeat(w, n), 1)
	if err != nil {
		return fmt.Errorf("adapting conv1 to %d input images: %w", n, err)
	}
	ckpt.Params["conv1.weight"] = src.MulScalar(1 / float64(n))
	return nil
}

func repeat(t *tensor.Tensor, n int) []*tensor.Tensor {
	out := make([]*tensor.Tensor, n)
	for i := range out {
		out[i] = t
	}
	return out
}
