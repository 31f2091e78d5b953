package imageio

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/golangast/egodepth/neural/tensor"
)

// flowScale and flowOffset define the 16-bit PNG flow encoding:
// stored = flow*64 + 2^15 in the red (u) and green (v) channels.
const (
	flowScale  = 64.0
	flowOffset = 1 << 15
)

// LoadFlow reads a 16-bit PNG flow map and returns a (1, 2, height, width)
// tensor of (u, v) displacements in pixels of the resized frame.
func LoadFlow(path string, width, height int) (*tensor.Tensor, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return FlowFromImage(img, width, height)
}

// FlowFromImage decodes an encoded flow image, resampling it with nearest
// neighbour so vectors are never blended, and rescales the vectors.
func FlowFromImage(img image.Image, width, height int) (*tensor.Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	b := img.Bounds()
	src := image.NewRGBA64(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(src, src.Bounds(), img, b, draw.Src, nil)
	su := float64(width) / float64(b.Dx())
	sv := float64(height) / float64(b.Dy())

	plane := width * height
	t := tensor.NewTensor([]int{1, 2, height, width}, nil, false)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := src.RGBA64At(x, y)
			i := y*width + x
			t.Data[i] = (float64(c.R) - flowOffset) / flowScale * su
			t.Data[plane+i] = (float64(c.G) - flowOffset) / flowScale * sv
		}
	}
	return t, nil
}

// EncodeFlow is the inverse of FlowFromImage at the original size.
func EncodeFlow(flow *tensor.Tensor) (*image.RGBA64, error) {
	n, c, h, w, err := flow.Dims4()
	if err != nil {
		return nil, err
	}
	if n != 1 || c != 2 {
		return nil, fmt.Errorf("expected a (1, 2, H, W) flow tensor, got shape %v", flow.Shape)
	}
	img := image.NewRGBA64(image.Rect(0, 0, w, h))
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetRGBA64(x, y, color.RGBA64{
				R: clamp16(flow.Data[i]*flowScale + flowOffset),
				G: clamp16(flow.Data[plane+i]*flowScale + flowOffset),
				B: 0xffff,
				A: 0xffff,
			})
		}
	}
	return img, nil
}

func clamp16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v + 0.5)
}
