package nn_test

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	. "github.com/golangast/egodepth/neural/nn"
	. "github.com/golangast/egodepth/neural/tensor"
)

func TestConv3x3PreservesSize(t *testing.T) {
	ini := NewInitializer(InitDefault, 1)
	for _, reflect := range []bool{true, false} {
		conv, err := NewConv3x3(ini, 2, 5, reflect)
		if err != nil {
			t.Fatalf("NewConv3x3: %v", err)
		}
		out, err := conv.Forward(Full([]int{1, 2, 4, 6}, 0.5))
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		want := []int{1, 5, 4, 6}
		for i := range want {
			if out.Shape[i] != want[i] {
				t.Fatalf("reflect=%v: shape %v; want %v", reflect, out.Shape, want)
			}
		}
	}
}

func TestReflectPaddingKeepsConstantInputConstant(t *testing.T) {
	ini := NewInitializer(InitDefault, 2)
	refl, _ := NewConv3x3(ini, 1, 1, true)
	zero := &Conv2d{Weight: refl.Weight, Bias: refl.Bias, Stride: 1, Padding: 1, PadMode: PadZero}

	x := Full([]int{1, 1, 3, 3}, 1)
	a, err := refl.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := zero.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-a.Data[4]) > 1e-12 {
			t.Errorf("reflect output not constant: %v", a.Data)
			break
		}
	}
	if math.Abs(a.Data[4]-b.Data[4]) > 1e-12 {
		t.Errorf("centre differs between padding modes: %v vs %v", a.Data[4], b.Data[4])
	}
}

func TestInitializerDeterministic(t *testing.T) {
	for _, scheme := range []InitScheme{InitDefault, InitKaiming} {
		t.Run(string(scheme), func(t *testing.T) {
			a, _ := NewConv2d(NewInitializer(scheme, 42), 4, 8, 3, 1, 0, PadZero, true)
			b, _ := NewConv2d(NewInitializer(scheme, 42), 4, 8, 3, 1, 0, PadZero, true)
			c, _ := NewConv2d(NewInitializer(scheme, 43), 4, 8, 3, 1, 0, PadZero, true)
			same, differ := true, false
			for i := range a.Weight.Data {
				same = same && a.Weight.Data[i] == b.Weight.Data[i]
				differ = differ || a.Weight.Data[i] != c.Weight.Data[i]
			}
			if !same {
				t.Error("equal seeds produced different weights")
			}
			if !differ {
				t.Error("different seeds produced identical weights")
			}
		})
	}
}

func TestDefaultInitBounds(t *testing.T) {
	conv, err := NewConv2d(NewInitializer(InitDefault, 3), 16, 4, 3, 1, 0, PadZero, true)
	if err != nil {
		t.Fatal(err)
	}
	bound := 1 / math.Sqrt(16*9)
	for _, p := range conv.Parameters() {
		for _, v := range p.Data {
			if math.Abs(v) > bound {
				t.Fatalf("value %v outside +-%v", v, bound)
			}
		}
	}
}

func TestKaimingInitStatistics(t *testing.T) {
	conv, err := NewConv2d(NewInitializer(InitKaiming, 4), 32, 64, 3, 1, 0, PadZero, true)
	if err != nil {
		t.Fatal(err)
	}
	sumSq := 0.0
	for _, v := range conv.Weight.Data {
		sumSq += v * v
	}
	std := math.Sqrt(sumSq / float64(conv.Weight.Size()))
	want := math.Sqrt(2.0 / (64 * 9))
	if math.Abs(std-want)/want > 0.05 {
		t.Errorf("weight std %v; want about %v", std, want)
	}
	for _, v := range conv.Bias.Data {
		if v != 0 {
			t.Fatalf("kaiming bias %v; want 0", v)
		}
	}
}

func TestSequentialNamedParameters(t *testing.T) {
	ini := NewInitializer(InitDefault, 5)
	up, _ := NewUpConv(ini, 4, 2)
	block, _ := NewConvBlock(ini, 2, 2)
	seq := NewSequential(up, block, &MaxPool2d{Kernel: 1, Stride: 1}, NewBatchNorm2d(2))

	got := seq.NamedParameters("decoder")
	want := []string{
		"decoder.0.conv.weight", "decoder.0.conv.bias",
		"decoder.1.conv.weight", "decoder.1.conv.bias",
		"decoder.3.weight", "decoder.3.bias", "decoder.3.running_mean", "decoder.3.running_var",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d named parameters; want %d", len(got), len(want))
	}
	for i, np := range got {
		if np.Name != want[i] {
			t.Errorf("name[%d] = %q; want %q", i, np.Name, want[i])
		}
	}
	if n := len(seq.Parameters()); n != 6 {
		t.Errorf("trainable parameters = %d; want 6", n)
	}

	out, err := seq.Forward(Full([]int{1, 4, 3, 5}, 0.2))
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape[2] != 6 || out.Shape[3] != 10 {
		t.Errorf("shape %v; want spatial 6x10", out.Shape)
	}
}

func TestDispHeadRange(t *testing.T) {
	head, err := NewDispHead(NewInitializer(InitDefault, 6), 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	x := NewTensor([]int{2, 8, 4, 4}, nil, false)
	for i := range x.Data {
		x.Data[i] = float64(i%17) - 8
	}
	out, err := head.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out.Data {
		if v <= 0 || v >= 1 {
			t.Fatalf("disparity %v outside (0,1)", v)
		}
	}
}

func TestFreeze(t *testing.T) {
	conv, _ := NewConv3x3(NewInitializer(InitDefault, 7), 1, 1, true)
	Freeze(conv)
	out, err := conv.Forward(Full([]int{1, 1, 3, 3}, 1))
	if err != nil {
		t.Fatal(err)
	}
	if out.RequiresGrad || out.Creator != nil {
		t.Error("frozen module recorded a graph")
	}
	Unfreeze(conv)
	for _, p := range conv.Parameters() {
		if !p.RequiresGrad {
			t.Error("Unfreeze left a parameter frozen")
		}
	}
}

func squaredError(t *testing.T, m Module, x, target *Tensor) *Tensor {
	t.Helper()
	y, err := m.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	loss, err := MSELoss(y, target)
	if err != nil {
		t.Fatal(err)
	}
	return loss
}

func TestMSELoss(t *testing.T) {
	pred := NewTensor([]int{1, 1, 1, 2}, []float64{1, 3}, true)
	target := NewTensor([]int{1, 1, 1, 2}, []float64{0, 1}, false)
	loss, err := MSELoss(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	if loss.Data[0] != 2.5 {
		t.Errorf("MSELoss = %v; want 2.5", loss.Data[0])
	}
	if err := loss.Backward(nil); err != nil {
		t.Fatal(err)
	}
	if pred.Grad.Data[0] != 1 || pred.Grad.Data[1] != 2 {
		t.Errorf("grad = %v; want [1 2]", pred.Grad.Data)
	}
	if _, err := MSELoss(pred, NewTensor([]int{2}, nil, false)); err == nil {
		t.Error("MSELoss accepted mismatched shapes")
	}
}

func TestAdamReducesLoss(t *testing.T) {
	conv, _ := NewConv3x3(NewInitializer(InitDefault, 8), 2, 1, true)
	x := NewTensor([]int{1, 2, 4, 4}, nil, false)
	for i := range x.Data {
		x.Data[i] = math.Sin(float64(i))
	}
	target := Full([]int{1, 1, 4, 4}, 0.3)

	opt := NewOptimizer(conv.Parameters(), 0.05, 1)
	first := squaredError(t, conv, x, target).Data[0]
	for step := 0; step < 50; step++ {
		opt.ZeroGrad()
		loss := squaredError(t, conv, x, target)
		if err := loss.Backward(nil); err != nil {
			t.Fatal(err)
		}
		opt.Step()
	}
	last := squaredError(t, conv, x, target).Data[0]
	if last >= first/2 {
		t.Errorf("loss went from %v to %v; expected it to at least halve", first, last)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	src, _ := NewConvBlock(NewInitializer(InitDefault, 9), 3, 4)
	path := filepath.Join(t.TempDir(), "block.gob")
	ckpt := NewCheckpoint("conv_block", src)
	if err := SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.ID != ckpt.ID || loaded.Kind != "conv_block" {
		t.Errorf("header = %s/%s; want %s/conv_block", loaded.ID, loaded.Kind, ckpt.ID)
	}

	dst, _ := NewConvBlock(NewInitializer(InitDefault, 10), 3, 4)
	if err := loaded.Apply(dst); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, v := range src.Conv.Weight.Data {
		if dst.Conv.Weight.Data[i] != v {
			t.Fatalf("weight %d not restored", i)
		}
	}

	wrong, _ := NewConvBlock(NewInitializer(InitDefault, 11), 3, 5)
	if err := loaded.Apply(wrong); !errors.Is(err, ErrCheckpointMismatch) {
		t.Errorf("Apply with wrong shape: err = %v; want ErrCheckpointMismatch", err)
	}
}
