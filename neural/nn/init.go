package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	. "github.com/golangast/egodepth/neural/tensor"
)

// InitScheme names a weight initialisation strategy.
type InitScheme string

const (
	// InitDefault draws weights and biases from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
	InitDefault InitScheme = "default"
	// InitKaiming draws weights from N(0, 2/fan_out) and zeroes biases.
	InitKaiming InitScheme = "kaiming"
)

// ParseInitScheme validates a scheme name.
func ParseInitScheme(s string) (InitScheme, error) {
	switch InitScheme(s) {
	case InitDefault, InitKaiming:
		return InitScheme(s), nil
	}
	return "", fmt.Errorf("unknown init scheme %q", s)
}

// Initializer fills freshly created parameters from a seeded generator.
// It is not safe for concurrent use; build models from a single goroutine.
type Initializer struct {
	Scheme InitScheme
	rng    *rand.Rand
}

// NewInitializer returns an initializer whose draws depend only on seed.
func NewInitializer(scheme InitScheme, seed uint64) *Initializer {
	return &Initializer{Scheme: scheme, rng: rand.New(rand.NewSource(seed))}
}

// ConvWeight initialises a (out, in, kh, kw) kernel.
func (in *Initializer) ConvWeight(w *Tensor) {
	fanIn := 1
	for _, d := range w.Shape[1:] {
		fanIn *= d
	}
	fanOut := w.Shape[0] * fanIn / w.Shape[1]
	switch in.Scheme {
	case InitKaiming:
		std := math.Sqrt(2 / float64(fanOut))
		for i := range w.Data {
			w.Data[i] = in.rng.NormFloat64() * std
		}
	default:
		in.uniform(w, fanIn)
	}
}

// ConvBias initialises a bias vector belonging to a kernel with the given fan-in.
func (in *Initializer) ConvBias(b *Tensor, fanIn int) {
	if in.Scheme == InitKaiming {
		for i := range b.Data {
			b.Data[i] = 0
		}
		return
	}
	in.uniform(b, fanIn)
}

func (in *Initializer) uniform(t *Tensor, fanIn int) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range t.Data {
		t.Data[i] = (in.rng.Float64()*2 - 1) * bound
	}
}
