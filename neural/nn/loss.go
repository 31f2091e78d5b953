package nn

import (
	"fmt"

	. "github.com/golangast/egodepth/neural/tensor"
)

// MSELoss returns the mean squared difference between pred and target as a
// scalar tensor on the autograd graph. target is treated as a constant.
func MSELoss(pred, target *Tensor) (*Tensor, error) {
	if !sameShape(pred.Shape, target.Shape) {
		return nil, fmt.Errorf("MSELoss: prediction shape %v does not match target shape %v", pred.Shape, target.Shape)
	}
	diff, err := pred.Add(target.Detach().MulScalar(-1))
	if err != nil {
		return nil, err
	}
	sq, err := diff.Mul(diff)
	if err != nil {
		return nil, err
	}
	return sq.Sum().MulScalar(1 / float64(pred.Size())), nil
}
