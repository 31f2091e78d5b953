package pose

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/golangast/egodepth/neural/tensor"
)

// OutputType selects which components of a pose vector are used.
type OutputType string

const (
	// OutputTranslation keeps the translation and ignores the rotation.
	OutputTranslation OutputType = "translation"
	// OutputPose uses translation and rotation.
	OutputPose OutputType = "pose"
)

// ParseOutputType validates an output type name.
func ParseOutputType(s string) (OutputType, error) {
	switch OutputType(s) {
	case OutputTranslation, OutputPose:
		return OutputType(s), nil
	}
	return "", fmt.Errorf("unknown pose output type %q", s)
}

// Vectors splits a (B, 6) regressor output into per-sample vectors.
func Vectors(p *tensor.Tensor) ([][6]float64, error) {
	if len(p.Shape) != 2 || p.Shape[1] != 6 {
		return nil, fmt.Errorf("expected a (B, 6) pose tensor, got shape %v", p.Shape)
	}
	out := make([][6]float64, p.Shape[0])
	for i := range out {
		copy(out[i][:], p.Data[i*6:(i+1)*6])
	}
	return out, nil
}

// Transform converts [tx ty tz rx ry rz] into a 4x4 rigid transform. The
// rotation is an axis-angle vector applied via Rodrigues' formula; with
// OutputTranslation it is ignored.
func Transform(vec [6]float64, out OutputType) *mat.Dense {
	T := mat.NewDense(4, 4, nil)
	T.Set(3, 3, 1)

	rot := rotation(vec[3], vec[4], vec[5])
	if out == OutputTranslation {
		rot = identity3()
	}
	T.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rot)
	for i := 0; i < 3; i++ {
		T.Set(i, 3, vec[i])
	}
	return T
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func rotation(rx, ry, rz float64) *mat.Dense {
	theta := math.Sqrt(rx*rx + ry*ry + rz*rz)
	R := identity3()
	if theta < 1e-12 {
		return R
	}
	kx, ky, kz := rx/theta, ry/theta, rz/theta
	K := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})
	var K2 mat.Dense
	K2.Mul(K, K)

	var term mat.Dense
	term.Scale(math.Sin(theta), K)
	R.Add(R, &term)
	term.Scale(1-math.Cos(theta), &K2)
	R.Add(R, &term)
	return R
}

// Invert returns the inverse of a rigid transform: [R^T, -R^T t].
func Invert(T *mat.Dense) *mat.Dense {
	var R, t mat.Dense
	R.CloneFrom(T.Slice(0, 3, 0, 3).T())
	t.Mul(&R, T.Slice(0, 3, 3, 4))
	t.Scale(-1, &t)

	inv := mat.NewDense(4, 4, nil)
	inv.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&R)
	inv.Slice(0, 3, 3, 4).(*mat.Dense).Copy(&t)
	inv.Set(3, 3, 1)
	return inv
}

// Compose returns a*b, the transform applying b first and then a.
func Compose(a, b mat.Matrix) *mat.Dense {
	var c mat.Dense
	c.Mul(a, b)
	return &c
}
