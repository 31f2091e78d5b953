package tensor

import (
	"fmt"
	"math"
)

// PadMode selects how Pad2D fills the border.
type PadMode int

const (
	// PadZero fills the border with zeros.
	PadZero PadMode = iota
	// PadReflect mirrors the interior without repeating the edge value.
	PadReflect
)

func (m PadMode) String() string {
	switch m {
	case PadZero:
		return "zero"
	case PadReflect:
		return "reflect"
	}
	return fmt.Sprintf("PadMode(%d)", int(m))
}

// padIndex maps a padded coordinate to its source, or -1 for a zero cell.
func padIndex(i, pad, size int, mode PadMode) int {
	src := i - pad
	if src >= 0 && src < size {
		return src
	}
	if mode == PadZero {
		return -1
	}
	if src < 0 {
		return -src
	}
	return 2*(size-1) - src
}

// Pad2D pads the two spatial axes of an NCHW tensor by pad on every side.
func Pad2D(input *Tensor, pad int, mode PadMode) (*Tensor, error) {
	n, c, h, w, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("pad2d: %w", err)
	}
	if pad < 0 {
		return nil, fmt.Errorf("pad2d: negative padding %d", pad)
	}
	if mode == PadReflect && (pad >= h || pad >= w) {
		return nil, fmt.Errorf("pad2d: reflect padding %d needs spatial size > %d, got %v", pad, pad, input.Shape)
	}
	ph, pw := h+2*pad, w+2*pad
	out := NewTensor([]int{n, c, ph, pw}, nil, input.RequiresGrad)
	for p := 0; p < n*c; p++ {
		src := input.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*ph*pw : (p+1)*ph*pw]
		for i := 0; i < ph; i++ {
			si := padIndex(i, pad, h, mode)
			if si < 0 {
				continue
			}
			for j := 0; j < pw; j++ {
				sj := padIndex(j, pad, w, mode)
				if sj < 0 {
					continue
				}
				dst[i*pw+j] = src[si*w+sj]
			}
		}
	}
	if out.RequiresGrad {
		out.Creator = &Pad2DOperation{Input: input, Pad: pad, Mode: mode}
	}
	return out, nil
}

// Pad2DOperation represents the padding operation for backward pass.
type Pad2DOperation struct {
	Input *Tensor
	Pad   int
	Mode  PadMode
}

func (op *Pad2DOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *Pad2DOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	n, c, h, w := op.Input.Shape[0], op.Input.Shape[1], op.Input.Shape[2], op.Input.Shape[3]
	ph, pw := h+2*op.Pad, w+2*op.Pad
	for p := 0; p < n*c; p++ {
		src := grad.Data[p*ph*pw : (p+1)*ph*pw]
		dst := g.Data[p*h*w : (p+1)*h*w]
		for i := 0; i < ph; i++ {
			si := padIndex(i, op.Pad, h, op.Mode)
			if si < 0 {
				continue
			}
			for j := 0; j < pw; j++ {
				sj := padIndex(j, op.Pad, w, op.Mode)
				if sj < 0 {
					continue
				}
				dst[si*w+sj] += src[i*pw+j]
			}
		}
	}
	return nil
}

// UpsampleNearest resizes the spatial axes of an NCHW tensor to (outH, outW)
// by nearest-neighbour lookup, source index floor(dst*in/out).
func UpsampleNearest(input *Tensor, outH, outW int) (*Tensor, error) {
	n, c, h, w, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("upsample: %w", err)
	}
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("upsample: invalid target size %dx%d", outH, outW)
	}
	rows := nearestIndex(outH, h)
	cols := nearestIndex(outW, w)
	out := NewTensor([]int{n, c, outH, outW}, nil, input.RequiresGrad)
	for p := 0; p < n*c; p++ {
		src := input.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*outH*outW : (p+1)*outH*outW]
		for i, si := range rows {
			for j, sj := range cols {
				dst[i*outW+j] = src[si*w+sj]
			}
		}
	}
	if out.RequiresGrad {
		out.Creator = &UpsampleOperation{Input: input, rows: rows, cols: cols}
	}
	return out, nil
}

// Upsample2x doubles both spatial axes by nearest-neighbour lookup.
func Upsample2x(input *Tensor) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("upsample: expected NCHW tensor, got shape %v", input.Shape)
	}
	return UpsampleNearest(input, 2*input.Shape[2], 2*input.Shape[3])
}

func nearestIndex(out, in int) []int {
	idx := make([]int, out)
	for i := range idx {
		idx[i] = i * in / out
	}
	return idx
}

// UpsampleOperation represents nearest-neighbour resizing for backward pass.
type UpsampleOperation struct {
	Input *Tensor
	rows  []int
	cols  []int
}

func (op *UpsampleOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *UpsampleOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	n, c, h, w := op.Input.Shape[0], op.Input.Shape[1], op.Input.Shape[2], op.Input.Shape[3]
	outH, outW := len(op.rows), len(op.cols)
	for p := 0; p < n*c; p++ {
		src := grad.Data[p*outH*outW : (p+1)*outH*outW]
		dst := g.Data[p*h*w : (p+1)*h*w]
		for i, si := range op.rows {
			for j, sj := range op.cols {
				dst[si*w+sj] += src[i*outW+j]
			}
		}
	}
	return nil
}

// AvgPool2D averages non-overlapping or strided (kh, kw) windows without padding.
func AvgPool2D(input *Tensor, kh, kw, sh, sw int) (*Tensor, error) {
	n, c, h, w, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("avgpool: %w", err)
	}
	if kh < 1 || kw < 1 || sh < 1 || sw < 1 {
		return nil, fmt.Errorf("avgpool: invalid window %dx%d stride %dx%d", kh, kw, sh, sw)
	}
	if h < kh || w < kw {
		return nil, fmt.Errorf("avgpool: input %v is smaller than the %dx%d window", input.Shape, kh, kw)
	}
	oh, ow := (h-kh)/sh+1, (w-kw)/sw+1
	scale := 1 / float64(kh*kw)
	out := NewTensor([]int{n, c, oh, ow}, nil, input.RequiresGrad)
	for p := 0; p < n*c; p++ {
		src := input.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*oh*ow : (p+1)*oh*ow]
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				sum := 0.0
				for a := 0; a < kh; a++ {
					for b := 0; b < kw; b++ {
						sum += src[(i*sh+a)*w+j*sw+b]
					}
				}
				dst[i*ow+j] = sum * scale
			}
		}
	}
	if out.RequiresGrad {
		out.Creator = &AvgPoolOperation{Input: input, KH: kh, KW: kw, SH: sh, SW: sw}
	}
	return out, nil
}

// AvgPoolOperation represents average pooling for backward pass.
type AvgPoolOperation struct {
	Input          *Tensor
	KH, KW, SH, SW int
}

func (op *AvgPoolOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *AvgPoolOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	n, c, h, w := op.Input.Shape[0], op.Input.Shape[1], op.Input.Shape[2], op.Input.Shape[3]
	oh, ow := grad.Shape[2], grad.Shape[3]
	scale := 1 / float64(op.KH*op.KW)
	for p := 0; p < n*c; p++ {
		src := grad.Data[p*oh*ow : (p+1)*oh*ow]
		dst := g.Data[p*h*w : (p+1)*h*w]
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				v := src[i*ow+j] * scale
				for a := 0; a < op.KH; a++ {
					for b := 0; b < op.KW; b++ {
						dst[(i*op.SH+a)*w+j*op.SW+b] += v
					}
				}
			}
		}
	}
	return nil
}

// MaxPool2D takes the maximum over k x k windows with the given stride and
// implicit -inf padding.
func MaxPool2D(input *Tensor, k, stride, pad int) (*Tensor, error) {
	n, c, h, w, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	if k < 1 || stride < 1 || pad < 0 || 2*pad > k {
		return nil, fmt.Errorf("maxpool: invalid kernel %d stride %d padding %d", k, stride, pad)
	}
	oh := (h+2*pad-k)/stride + 1
	ow := (w+2*pad-k)/stride + 1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("maxpool: input %v is too small for kernel %d", input.Shape, k)
	}
	out := NewTensor([]int{n, c, oh, ow}, nil, input.RequiresGrad)
	argmax := make([]int, len(out.Data))
	for p := 0; p < n*c; p++ {
		base := p * h * w
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				best := math.Inf(-1)
				bestIdx := -1
				for a := 0; a < k; a++ {
					y := i*stride - pad + a
					if y < 0 || y >= h {
						continue
					}
					for b := 0; b < k; b++ {
						x := j*stride - pad + b
						if x < 0 || x >= w {
							continue
						}
						if v := input.Data[base+y*w+x]; v > best || bestIdx < 0 {
							best, bestIdx = v, base+y*w+x
						}
					}
				}
				o := (p*oh+i)*ow + j
				out.Data[o] = best
				argmax[o] = bestIdx
			}
		}
	}
	if out.RequiresGrad {
		out.Creator = &MaxPoolOperation{Input: input, argmax: argmax}
	}
	return out, nil
}

// MaxPoolOperation represents max pooling for backward pass.
type MaxPoolOperation struct {
	Input  *Tensor
	argmax []int
}

func (op *MaxPoolOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input}
}

func (op *MaxPoolOperation) Backward(grad *Tensor) error {
	if !op.Input.RequiresGrad {
		return nil
	}
	g := gradOf(op.Input)
	for o, idx := range op.argmax {
		g.Data[idx] += grad.Data[o]
	}
	return nil
}

// BatchNorm2D normalises each channel with fixed statistics:
// y = gamma * (x - mean) / sqrt(variance + eps) + beta.
// mean and variance are treated as constants.
func BatchNorm2D(input, gamma, beta, mean, variance *Tensor, eps float64) (*Tensor, error) {
	n, c, h, w, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("batchnorm: %w", err)
	}
	for _, p := range []*Tensor{gamma, beta, mean, variance} {
		if len(p.Shape) != 1 || p.Shape[0] != c {
			return nil, fmt.Errorf("batchnorm: parameter shape %v does not match %d channels of input %v", p.Shape, c, input.Shape)
		}
	}
	invStd := make([]float64, c)
	for ch := range invStd {
		invStd[ch] = 1 / math.Sqrt(variance.Data[ch]+eps)
	}
	requiresGrad := input.RequiresGrad || gamma.RequiresGrad || beta.RequiresGrad
	out := NewTensor(input.Shape, nil, requiresGrad)
	plane := h * w
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			off := (b*c + ch) * plane
			scale := gamma.Data[ch] * invStd[ch]
			shift := beta.Data[ch] - mean.Data[ch]*scale
			for i := off; i < off+plane; i++ {
				out.Data[i] = input.Data[i]*scale + shift
			}
		}
	}
	if requiresGrad {
		out.Creator = &BatchNormOperation{Input: input, Gamma: gamma, Beta: beta, Mean: mean, invStd: invStd}
	}
	return out, nil
}

// BatchNormOperation represents inference-mode batch normalisation for backward pass.
type BatchNormOperation struct {
	Input  *Tensor
	Gamma  *Tensor
	Beta   *Tensor
	Mean   *Tensor
	invStd []float64
}

func (op *BatchNormOperation) Inputs() []*Tensor {
	return []*Tensor{op.Input, op.Gamma, op.Beta}
}

func (op *BatchNormOperation) Backward(grad *Tensor) error {
	n, c, h, w := op.Input.Shape[0], op.Input.Shape[1], op.Input.Shape[2], op.Input.Shape[3]
	plane := h * w
	var gx, gg, gb *Tensor
	if op.Input.RequiresGrad {
		gx = gradOf(op.Input)
	}
	if op.Gamma.RequiresGrad {
		gg = gradOf(op.Gamma)
	}
	if op.Beta.RequiresGrad {
		gb = gradOf(op.Beta)
	}
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			off := (b*c + ch) * plane
			scale := op.Gamma.Data[ch] * op.invStd[ch]
			for i := off; i < off+plane; i++ {
				gv := grad.Data[i]
				if gx != nil {
					gx.Data[i] += gv * scale
				}
				if gg != nil {
					gg.Data[ch] += gv * (op.Input.Data[i] - op.Mean.Data[ch]) * op.invStd[ch]
				}
				if gb != nil {
					gb.Data[ch] += gv
				}
			}
		}
	}
	return nil
}
