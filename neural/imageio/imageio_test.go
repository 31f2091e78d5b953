package imageio

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golangast/egodepth/neural/tensor"
)

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromImageChannels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	got := FromImage(img)
	want := []float64{1, 0, 0, 0, 0, 1}
	if len(got.Shape) != 4 || got.Shape[1] != 3 || got.Shape[2] != 1 || got.Shape[3] != 2 {
		t.Fatalf("shape = %v; want [1 3 1 2]", got.Shape)
	}
	for i, v := range want {
		if got.Data[i] != v {
			t.Errorf("Data[%d] = %v; want %v", i, got.Data[i], v)
		}
	}
}

func TestFlattenTransparentIsWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	out := FromImage(Flatten(img))
	for i, v := range out.Data {
		if v != 1 {
			t.Fatalf("Data[%d] = %v; want 1", i, v)
		}
	}
}

func TestLoadResizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	path := writePNG(t, img)

	got, err := Load(path, 20, 6)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Shape[2] != 6 || got.Shape[3] != 20 {
		t.Fatalf("shape = %v; want 6x20", got.Shape)
	}
	for c, want := range []float64{128.0 / 255, 64.0 / 255, 32.0 / 255} {
		v := got.Data[c*120+55]
		if math.Abs(v-want) > 0.01 {
			t.Errorf("channel %d = %v; want %v", c, v, want)
		}
	}

	if _, err := Load(path, 0, 6); err == nil {
		t.Error("Load accepted a zero width")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.png"), 4, 4); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestResizeScalers(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for _, name := range []string{Bicubic, Bilinear, Nearest, CatmullRom, ""} {
		out := Resize(img, 4, 2, name)
		if b := out.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
			t.Errorf("Resize(%q) bounds = %v", name, b)
		}
	}
	if Resize(img, 8, 8, Bilinear) != image.Image(img) {
		t.Error("Resize to the same size should return the input")
	}
}

func TestStack(t *testing.T) {
	a := tensor.Full([]int{1, 3, 2, 2}, 0)
	b := tensor.Full([]int{1, 3, 2, 2}, 1)
	s, err := Stack(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if s.Shape[0] != 2 || s.Data[12] != 1 || s.Data[11] != 0 {
		t.Errorf("Stack = %v %v", s.Shape, s.Data)
	}
}

func TestDisparityImage(t *testing.T) {
	disp := tensor.NewTensor([]int{2, 1, 1, 2}, []float64{0.25, 0.5, 0.1, 0.2}, false)
	img, err := DisparityImage(disp, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Gray16At(1, 0).Y; got != 0xffff {
		t.Errorf("peak = %d; want 65535", got)
	}
	if got := img.Gray16At(0, 0).Y; got != 0x8000 {
		t.Errorf("half = %d; want 32768", got)
	}
	if _, err := DisparityImage(disp, 2); err == nil {
		t.Error("DisparityImage accepted an out of range index")
	}

	path := filepath.Join(t.TempDir(), "disp.png")
	if err := SavePNG(img, path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	back, err := Decode(path)
	if err != nil {
		t.Fatal(err)
	}
	if b := back.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Errorf("decoded bounds = %v", b)
	}
}

func TestFlowRoundTrip(t *testing.T) {
	flow := tensor.NewTensor([]int{1, 2, 2, 2}, []float64{1.5, -2, 0, 10, -0.25, 3, 0.5, -7}, false)
	img, err := EncodeFlow(flow)
	if err != nil {
		t.Fatal(err)
	}
	path := writePNG(t, img)

	same, err := LoadFlow(path, 2, 2)
	if err != nil {
		t.Fatalf("LoadFlow: %v", err)
	}
	for i, v := range flow.Data {
		if math.Abs(same.Data[i]-v) > 1.0/64 {
			t.Errorf("flow[%d] = %v; want %v", i, same.Data[i], v)
		}
	}

	// Doubling the width doubles u and leaves v unchanged.
	wide, err := LoadFlow(path, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(wide.Data[0]-3) > 1.0/32 || math.Abs(wide.Data[8]+0.25) > 1.0/64 {
		t.Errorf("rescaled flow = %v", wide.Data)
	}

	if _, err := EncodeFlow(tensor.Full([]int{1, 3, 2, 2}, 0)); err == nil {
		t.Error("EncodeFlow accepted three channels")
	}
}
