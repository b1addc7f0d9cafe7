package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/selfdist/dino/tensor"
)

// WeightNormLinear is a bias-free linear layer whose effective weight
// rows are renormalized to unit L2 norm on every forward pass. The unit
// constraint on the final projection is what keeps the head away from
// the degenerate collapsed solution, so it is enforced here rather than
// left to initialization. Truncated-normal initialization is
// deliberately not applied to this layer.
type WeightNormLinear struct {
	// V is the underlying direction parameter; the effective weight is
	// V with rows scaled to unit norm.
	V *tensor.Tensor
}

func NewWeightNormLinear(rng *rand.Rand, in, out int) *WeightNormLinear {
	v := tensor.Randn(rng, out, in)
	v.Scale(1 / math.Sqrt(float64(in)))
	return &WeightNormLinear{V: v}
}

func (l *WeightNormLinear) effective() (w *tensor.Tensor, norms []float64) {
	w = l.V.Clone()
	norms = w.NormalizeRows()
	return w, norms
}

func (l *WeightNormLinear) Forward(x *tensor.Tensor) *tensor.Tensor {
	w, _ := l.effective()
	return tensor.MatMulT(x, w)
}

type weightNormCache struct {
	x     *tensor.Tensor
	w     *tensor.Tensor // row-normalized weight
	norms []float64
}

func (l *WeightNormLinear) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	w, norms := l.effective()
	return tensor.MatMulT(x, w), &weightNormCache{x: x, w: w, norms: norms}
}

func (l *WeightNormLinear) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	wc := c.(*weightNormCache)
	gradW := tensor.MatMulTA(grad, wc.x) // [out, in], gradient w.r.t. normalized rows

	// Project the per-row gradient onto the tangent space of the unit
	// sphere, then rescale by the stored norm: for each row,
	// dV = (dW − (dW·ŵ)ŵ)/‖v‖.
	gradV := make([]float64, l.V.Size())
	out := l.V.Dim(0)
	for i := 0; i < out; i++ {
		gw, w := gradW.Row(i), wc.w.Row(i)
		dot := floats.Dot(gw, w)
		dst := gradV[i*l.V.Dim(1) : (i+1)*l.V.Dim(1)]
		for j := range dst {
			dst[j] = (gw[j] - dot*w[j]) / wc.norms[i]
		}
	}
	l.V.AccumulateGrad(gradV)

	return tensor.MatMul(grad, wc.w)
}

func (l *WeightNormLinear) Params() []*tensor.Tensor {
	return []*tensor.Tensor{l.V}
}

func (l *WeightNormLinear) Clone() Layer {
	return &WeightNormLinear{V: l.V.Clone()}
}

// L2Bottleneck is the head's final projection: a linear map into the
// bottleneck dimension, L2 normalization of the bottleneck activations,
// and a weight-normalized linear map to the output dimension.
type L2Bottleneck struct {
	In         *Linear
	WeightNorm *WeightNormLinear
}

func NewL2Bottleneck(rng *rand.Rand, in, bottleneck, out int) *L2Bottleneck {
	return &L2Bottleneck{
		In:         NewLinear(rng, in, bottleneck),
		WeightNorm: NewWeightNormLinear(rng, bottleneck, out),
	}
}

func (l *L2Bottleneck) Forward(x *tensor.Tensor) *tensor.Tensor {
	h := l.In.Forward(x)
	h.NormalizeRows()
	return l.WeightNorm.Forward(h)
}

type bottleneckCache struct {
	inCache Cache
	hhat    *tensor.Tensor // unit-normalized bottleneck activations
	norms   []float64
	wnCache Cache
}

func (l *L2Bottleneck) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	h, inCache := l.In.ForwardWithCache(x)
	norms := h.NormalizeRows()
	y, wnCache := l.WeightNorm.ForwardWithCache(h)
	return y, &bottleneckCache{inCache: inCache, hhat: h, norms: norms, wnCache: wnCache}
}

func (l *L2Bottleneck) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	bc := c.(*bottleneckCache)
	gh := l.WeightNorm.Backward(grad, bc.wnCache)

	// Backward through the row-wise L2 normalization.
	rows, cols := gh.Dim(0), gh.Dim(1)
	for i := 0; i < rows; i++ {
		g, h := gh.Row(i), bc.hhat.Row(i)
		dot := floats.Dot(g, h)
		for j := 0; j < cols; j++ {
			g[j] = (g[j] - dot*h[j]) / bc.norms[i]
		}
	}

	return l.In.Backward(gh, bc.inCache)
}

func (l *L2Bottleneck) Params() []*tensor.Tensor {
	return append(l.In.Params(), l.WeightNorm.Params()...)
}

func (l *L2Bottleneck) Clone() Layer {
	return &L2Bottleneck{
		In:         l.In.Clone().(*Linear),
		WeightNorm: l.WeightNorm.Clone().(*WeightNormLinear),
	}
}
