package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// maxTileElements bounds the im2col buffer built for one convolution tile, so
// full-resolution feature maps never need a single giant column matrix.
var maxTileElements = 1 << 21

// convGeometry describes one valid (unpadded) 2D convolution.
type convGeometry struct {
	n, c, h, w  int
	o, kh, kw   int
	stride      int
	oh, ow      int
	k           int // c*kh*kw, the im2col row count
	rowsPerTile int
	tiles       int
}

func newConvGeometry(input, weight, bias *Tensor, stride int) (convGeometry, error) {
	var g convGeometry
	if len(input.Shape) != 4 {
		return g, fmt.Errorf("conv2d expects NCHW input, got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return g, fmt.Errorf("conv2d expects (out, in, kh, kw) weights, got shape %v", weight.Shape)
	}
	if stride < 1 {
		return g, fmt.Errorf("conv2d stride must be positive, got %d", stride)
	}
	g.n, g.c, g.h, g.w = input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	g.o, g.kh, g.kw = weight.Shape[0], weight.Shape[2], weight.Shape[3]
	g.stride = stride
	if weight.Shape[1] != g.c {
		return g, fmt.Errorf("conv2d: input has %d channels but weights expect %d (input %v, weights %v)", g.c, weight.Shape[1], input.Shape, weight.Shape)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != g.o) {
		return g, fmt.Errorf("conv2d: bias shape %v does not match %d output channels", bias.Shape, g.o)
	}
	if g.n < 1 || g.o < 1 || g.kh < 1 || g.kw < 1 {
		return g, fmt.Errorf("conv2d: empty input %v or weights %v", input.Shape, weight.Shape)
	}
	if g.h < g.kh || g.w < g.kw {
		return g, fmt.Errorf("conv2d: input %v is smaller than the %dx%d kernel", input.Shape, g.kh, g.kw)
	}
	g.oh = (g.h-g.kh)/stride + 1
	g.ow = (g.w-g.kw)/stride + 1
	g.k = g.c * g.kh * g.kw

	g.rowsPerTile = maxTileElements / (g.k * g.ow)
	if g.rowsPerTile < 1 {
		g.rowsPerTile = 1
	}
	if g.rowsPerTile > g.oh {
		g.rowsPerTile = g.oh
	}
	g.tiles = (g.oh + g.rowsPerTile - 1) / g.rowsPerTile
	return g, nil
}

func (g *convGeometry) tileRows(tile int) (int, int) {
	r0 := tile * g.rowsPerTile
	r1 := r0 + g.rowsPerTile
	if r1 > g.oh {
		r1 = g.oh
	}
	return r0, r1
}

// im2col writes the receptive fields of output rows [r0, r1) of batch item b
// into buf as a k x ((r1-r0)*ow) row-major matrix.
func (g *convGeometry) im2col(x []float64, b, r0, r1 int, buf []float64) {
	cols := (r1 - r0) * g.ow
	for c := 0; c < g.c; c++ {
		plane := x[(b*g.c+c)*g.h*g.w : (b*g.c+c+1)*g.h*g.w]
		for ki := 0; ki < g.kh; ki++ {
			for kj := 0; kj < g.kw; kj++ {
				row := buf[((c*g.kh+ki)*g.kw+kj)*cols:][:cols]
				j := 0
				for oh := r0; oh < r1; oh++ {
					base := (oh*g.stride+ki)*g.w + kj
					for ow := 0; ow < g.ow; ow++ {
						row[j] = plane[base+ow*g.stride]
						j++
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds columns back into dx.
func (g *convGeometry) col2im(cols []float64, b, r0, r1 int, dx []float64) {
	n := (r1 - r0) * g.ow
	for c := 0; c < g.c; c++ {
		plane := dx[(b*g.c+c)*g.h*g.w : (b*g.c+c+1)*g.h*g.w]
		for ki := 0; ki < g.kh; ki++ {
			for kj := 0; kj < g.kw; kj++ {
				row := cols[((c*g.kh+ki)*g.kw+kj)*n:][:n]
				j := 0
				for oh := r0; oh < r1; oh++ {
					base := (oh*g.stride+ki)*g.w + kj
					for ow := 0; ow < g.ow; ow++ {
						plane[base+ow*g.stride] += row[j]
						j++
					}
				}
			}
		}
	}
}

// Conv2D computes a valid cross-correlation of input (N,C,H,W) with weight
// (O,C,KH,KW) at the given stride, plus an optional per-channel bias.
// Padding is a separate op (see Pad2D).
func Conv2D(input, weight, bias *Tensor, stride int) (*Tensor, error) {
	g, err := newConvGeometry(input, weight, bias, stride)
	if err != nil {
		return nil, err
	}

	requiresGrad := input.RequiresGrad || weight.RequiresGrad || (bias != nil && bias.RequiresGrad)
	out := NewTensor([]int{g.n, g.o, g.oh, g.ow}, nil, requiresGrad)
	wMat := mat.NewDense(g.o, g.k, weight.Data)

	parallelFor(g.n*g.tiles, func(task int) {
		b := task / g.tiles
		r0, r1 := g.tileRows(task % g.tiles)
		cols := (r1 - r0) * g.ow

		buf := make([]float64, g.k*cols)
		g.im2col(input.Data, b, r0, r1, buf)

		var res mat.Dense
		res.Mul(wMat, mat.NewDense(g.k, cols, buf))

		for oc := 0; oc < g.o; oc++ {
			dst := out.Data[((b*g.o+oc)*g.oh+r0)*g.ow:][:cols]
			copy(dst, res.RawRowView(oc))
			if bias != nil {
				bv := bias.Data[oc]
				for i := range dst {
					dst[i] += bv
				}
			}
		}
	})

	if requiresGrad {
		out.Creator = &Conv2DOperation{Input: input, Weight: weight, Bias: bias, geom: g}
	}
	return out, nil
}

// Conv2DOperation represents the convolution for backward pass.
type Conv2DOperation struct {
	Input  *Tensor
	Weight *Tensor
	Bias   *Tensor
	geom   convGeometry
}

func (op *Conv2DOperation) Inputs() []*Tensor {
	if op.Bias != nil {
		return []*Tensor{op.Input, op.Weight, op.Bias}
	}
	return []*Tensor{op.Input, op.Weight}
}

func (op *Conv2DOperation) Backward(grad *Tensor) error {
	g := op.geom
	needX := op.Input.RequiresGrad
	needW := op.Weight.RequiresGrad
	needB := op.Bias != nil && op.Bias.RequiresGrad
	if !needX && !needW && !needB {
		return nil
	}

	wMat := mat.NewDense(g.o, g.k, op.Weight.Data)
	var dx *Tensor
	if needX {
		dx = gradOf(op.Input)
	}

	// Weight and bias gradients are accumulated per batch item and summed in
	// batch order afterwards, which keeps the result independent of scheduling.
	partialW := make([]*mat.Dense, g.n)
	partialB := make([][]float64, g.n)

	parallelFor(g.n, func(b int) {
		var dW *mat.Dense
		if needW {
			dW = mat.NewDense(g.o, g.k, nil)
		}
		var db []float64
		if needB {
			db = make([]float64, g.o)
		}

		for tile := 0; tile < g.tiles; tile++ {
			r0, r1 := g.tileRows(tile)
			cols := (r1 - r0) * g.ow

			gt := mat.NewDense(g.o, cols, nil)
			for oc := 0; oc < g.o; oc++ {
				seg := grad.Data[((b*g.o+oc)*g.oh+r0)*g.ow:][:cols]
				copy(gt.RawRowView(oc), seg)
				if needB {
					for _, v := range seg {
						db[oc] += v
					}
				}
			}

			if needW {
				buf := make([]float64, g.k*cols)
				g.im2col(op.Input.Data, b, r0, r1, buf)
				var part mat.Dense
				part.Mul(gt, mat.NewDense(g.k, cols, buf).T())
				dW.Add(dW, &part)
			}
			if needX {
				var dcols mat.Dense
				dcols.Mul(wMat.T(), gt)
				g.col2im(dcols.RawMatrix().Data, b, r0, r1, dx.Data)
			}
		}
		partialW[b] = dW
		partialB[b] = db
	})

	if needW {
		wg := gradOf(op.Weight)
		for _, dW := range partialW {
			for i, v := range dW.RawMatrix().Data {
				wg.Data[i] += v
			}
		}
	}
	if needB {
		bg := gradOf(op.Bias)
		for _, db := range partialB {
			for i, v := range db {
				bg.Data[i] += v
			}
		}
	}
	return nil
}
