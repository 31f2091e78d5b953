// Package imageio converts between image files and NCHW tensors.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	resize "github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/golangast/egodepth/neural/tensor"
)

// Interpolation names accepted by Resize.
const (
	Bicubic    = "bicubic"
	Bilinear   = "bilinear"
	Nearest    = "nearest"
	CatmullRom = "catmullrom"
)

// Decode reads a PNG or JPEG file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// Flatten composites img over a white background, dropping transparency.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// Resize scales img to width x height. "bicubic" uses a true bicubic
// filter; the other names select an x/image/draw scaler.
func Resize(img image.Image, width, height int, interpolation string) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	if strings.EqualFold(strings.TrimSpace(interpolation), Bicubic) {
		return resize.Resize(uint(width), uint(height), img, resize.Bicubic)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	chooseScaler(interpolation).Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func chooseScaler(name string) draw.Scaler {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Bilinear:
		return draw.BiLinear
	case Nearest:
		return draw.NearestNeighbor
	default:
		return draw.CatmullRom
	}
}

// FromImage returns a (1, 3, H, W) tensor with RGB values in [0, 1].
func FromImage(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	t := tensor.NewTensor([]int{1, 3, h, w}, nil, false)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA64)
			i := y*w + x
			t.Data[i] = float64(c.R) / 0xffff
			t.Data[plane+i] = float64(c.G) / 0xffff
			t.Data[2*plane+i] = float64(c.B) / 0xffff
		}
	}
	return t
}

// Load decodes an image file, flattens transparency and resizes it to
// width x height with bicubic filtering.
func Load(path string, width, height int) (*tensor.Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return FromImage(Resize(Flatten(img), width, height, Bicubic)), nil
}

// Stack concatenates single images along the batch axis.
func Stack(images ...*tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Concat(images, 0)
}

// DisparityImage renders channel 0 of batch item index as a 16-bit
// grayscale image scaled so the largest value is white.
func DisparityImage(t *tensor.Tensor, index int) (*image.Gray16, error) {
	n, c, h, w, err := t.Dims4()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= n {
		return nil, fmt.Errorf("batch index %d out of range for %d items", index, n)
	}
	plane := t.Data[index*c*h*w : index*c*h*w+h*w]
	peak := 0.0
	for _, v := range plane {
		if v > peak {
			peak = v
		}
	}
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.0
			if peak > 0 {
				v = plane[y*w+x] / peak
			}
			if v < 0 {
				v = 0
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v*0xffff + 0.5)})
		}
	}
	return img, nil
}

// SavePNG writes img to path.
func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
