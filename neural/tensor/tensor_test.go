package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func randomTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape, nil, true)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

// checkGradients compares the analytical gradients of sum(f() * seed) with
// central differences for every element of every input.
func checkGradients(t *testing.T, inputs []*Tensor, f func() (*Tensor, error)) {
	t.Helper()
	out, err := f()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	rng := rand.New(rand.NewSource(7))
	seed := NewTensor(out.Shape, nil, false)
	for i := range seed.Data {
		seed.Data[i] = rng.Float64()*2 - 1
	}
	for _, in := range inputs {
		in.Grad = nil
	}
	if err := out.Backward(seed); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	loss := func() float64 {
		o, err := f()
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		s := 0.0
		for i, v := range o.Data {
			s += v * seed.Data[i]
		}
		return s
	}

	const eps = 1e-6
	for k, in := range inputs {
		for i := range in.Data {
			orig := in.Data[i]
			in.Data[i] = orig + eps
			lp := loss()
			in.Data[i] = orig - eps
			lm := loss()
			in.Data[i] = orig

			num := (lp - lm) / (2 * eps)
			got := 0.0
			if in.Grad != nil {
				got = in.Grad.Data[i]
			}
			if math.Abs(num-got) > 1e-5*(1+math.Abs(num)) {
				t.Fatalf("input %d element %d: analytical gradient %g, numerical %g", k, i, got, num)
			}
		}
	}
}

func TestBackwardSharedSubgraph(t *testing.T) {
	x := NewTensor([]int{3}, []float64{1, -2, 3}, true)
	b := x.MulScalar(2)
	c, err := b.Add(x)
	if err != nil {
		t.Fatal(err)
	}
	d, err := c.Add(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Sum().Backward(nil); err != nil {
		t.Fatal(err)
	}
	for i, g := range x.Grad.Data {
		if g != 5 {
			t.Errorf("grad[%d] = %v; want 5", i, g)
		}
	}
}

func TestConv2DKnownValues(t *testing.T) {
	input := Full([]int{1, 1, 3, 3}, 1)
	weight := Full([]int{1, 1, 2, 2}, 1)
	bias := NewTensor([]int{1}, []float64{0.5}, false)
	out, err := Conv2D(input, weight, bias, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !compareShapes(out.Shape, []int{1, 1, 2, 2}) {
		t.Fatalf("shape = %v; want [1 1 2 2]", out.Shape)
	}
	for i, v := range out.Data {
		if v != 4.5 {
			t.Errorf("out[%d] = %v; want 4.5", i, v)
		}
	}
}

func TestConv2DChannelMismatch(t *testing.T) {
	_, err := Conv2D(Full([]int{1, 2, 4, 4}, 0), Full([]int{1, 3, 3, 3}, 0), nil, 1)
	if err == nil {
		t.Fatal("expected an error for mismatched input channels")
	}
}

func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := randomTensor(rng, 2, 3, 5, 6)
	w := randomTensor(rng, 4, 3, 3, 3)
	b := randomTensor(rng, 4)
	for _, stride := range []int{1, 2, 3} {
		checkGradients(t, []*Tensor{x, w, b}, func() (*Tensor, error) {
			return Conv2D(x, w, b, stride)
		})
	}
}

func TestConv2DTilingMatchesSingleTile(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randomTensor(rng, 2, 2, 9, 7)
	w := randomTensor(rng, 3, 2, 3, 3)

	whole, err := Conv2D(x, w, nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	saved := maxTileElements
	maxTileElements = 1
	defer func() { maxTileElements = saved }()

	tiled, err := Conv2D(x, w, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range whole.Data {
		if math.Abs(whole.Data[i]-tiled.Data[i]) > 1e-12 {
			t.Fatalf("tiled output differs at %d: %v vs %v", i, tiled.Data[i], whole.Data[i])
		}
	}
	checkGradients(t, []*Tensor{x, w}, func() (*Tensor, error) {
		return Conv2D(x, w, nil, 2)
	})
}

func TestPad2DReflect(t *testing.T) {
	x := NewTensor([]int{1, 1, 2, 3}, []float64{1, 2, 3, 4, 5, 6}, false)
	out, err := Pad2D(x, 1, PadReflect)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
	}
	if !compareShapes(out.Shape, []int{1, 1, 4, 5}) {
		t.Fatalf("shape = %v; want [1 1 4 5]", out.Shape)
	}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("padded[%d] = %v; want %v", i, out.Data[i], v)
		}
	}
}

func TestPad2DZeroAndGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomTensor(rng, 1, 2, 3, 4)
	out, err := Pad2D(x, 1, PadZero)
	if err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 0 || out.Data[len(out.Data)-1] != 0 {
		t.Errorf("zero padding left non-zero corners")
	}
	for _, mode := range []PadMode{PadZero, PadReflect} {
		t.Run(mode.String(), func(t *testing.T) {
			checkGradients(t, []*Tensor{x}, func() (*Tensor, error) {
				return Pad2D(x, 2, mode)
			})
		})
	}
	if _, err := Pad2D(x, 3, PadReflect); err == nil {
		t.Error("expected an error for reflect padding wider than the input")
	}
}

func TestUpsampleNearest(t *testing.T) {
	x := NewTensor([]int{1, 1, 1, 3}, []float64{1, 2, 3}, false)
	out, err := UpsampleNearest(x, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 2, 2, 3, 1, 1, 2, 2, 3}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("upsampled[%d] = %v; want %v", i, out.Data[i], v)
		}
	}

	rng := rand.New(rand.NewSource(4))
	y := randomTensor(rng, 2, 2, 3, 2)
	checkGradients(t, []*Tensor{y}, func() (*Tensor, error) {
		return Upsample2x(y)
	})
	checkGradients(t, []*Tensor{y}, func() (*Tensor, error) {
		return UpsampleNearest(y, 7, 5)
	})
}

func TestPoolingGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randomTensor(rng, 2, 2, 6, 10)
	checkGradients(t, []*Tensor{x}, func() (*Tensor, error) {
		return AvgPool2D(x, 1, 5, 1, 5)
	})
	checkGradients(t, []*Tensor{x}, func() (*Tensor, error) {
		return MaxPool2D(x, 3, 2, 1)
	})

	out, err := AvgPool2D(x, 1, 5, 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !compareShapes(out.Shape, []int{2, 2, 6, 2}) {
		t.Errorf("avgpool shape = %v; want [2 2 6 2]", out.Shape)
	}
}

func TestBatchNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	x := randomTensor(rng, 2, 3, 2, 2)
	gamma := randomTensor(rng, 3)
	beta := randomTensor(rng, 3)
	mean := NewTensor([]int{3}, []float64{0.1, -0.2, 0.3}, false)
	variance := NewTensor([]int{3}, []float64{1, 2, 0.5}, false)
	checkGradients(t, []*Tensor{x, gamma, beta}, func() (*Tensor, error) {
		return BatchNorm2D(x, gamma, beta, mean, variance, 1e-5)
	})
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x := randomTensor(rng, 2, 3, 4)
	tests := []struct {
		name string
		fn   func() (*Tensor, error)
	}{
		{"sigmoid", func() (*Tensor, error) { return x.Sigmoid(), nil }},
		{"relu", func() (*Tensor, error) { return x.ReLU(), nil }},
		{"elu", func() (*Tensor, error) { return x.ELU(), nil }},
		{"normalize", func() (*Tensor, error) { return x.Normalize(0.45, 0.22) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checkGradients(t, []*Tensor{x}, tc.fn)
		})
	}
}

func TestConcatChannels(t *testing.T) {
	a := NewTensor([]int{2, 1, 1, 2}, []float64{1, 2, 3, 4}, true)
	b := NewTensor([]int{2, 2, 1, 2}, []float64{5, 6, 7, 8, 9, 10, 11, 12}, true)
	out, err := Concat([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 5, 6, 7, 8, 3, 4, 9, 10, 11, 12}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("concat[%d] = %v; want %v", i, out.Data[i], v)
		}
	}
	checkGradients(t, []*Tensor{a, b}, func() (*Tensor, error) {
		return Concat([]*Tensor{a, b}, 1)
	})
	if _, err := Concat([]*Tensor{a, Full([]int{1, 1, 1, 2}, 0)}, 1); err == nil {
		t.Error("expected an error for mismatched batch sizes")
	}
}

func TestSliceAndReshape(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	x := randomTensor(rng, 2, 4, 3)
	checkGradients(t, []*Tensor{x}, func() (*Tensor, error) {
		return x.Slice(1, 1, 3)
	})
	r, err := x.Reshape([]int{-1, 6})
	if err != nil {
		t.Fatal(err)
	}
	if !compareShapes(r.Shape, []int{4, 6}) {
		t.Errorf("reshape shape = %v; want [4 6]", r.Shape)
	}
	if _, err := x.Reshape([]int{5, -1}); err == nil {
		t.Error("expected an error for an incompatible reshape")
	}
}
