package nn

import (
	"math/rand"

	"github.com/selfdist/dino/tensor"
)

// Linear is a fully connected layer y = x·Wᵀ + b with weight shape
// [out, in]. Weights are initialized truncated-normal(std=0.02), biases
// zero.
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

func NewLinear(rng *rand.Rand, in, out int) *Linear {
	return &Linear{
		W: tensor.TruncNormal(rng, 0.02, out, in),
		B: tensor.New(out),
	}
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := tensor.MatMulT(x, l.W)
	y.AddRow(l.B.Data)
	return y
}

func (l *Linear) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	return l.Forward(x), x
}

func (l *Linear) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	x := c.(*tensor.Tensor)
	l.W.AccumulateGrad(tensor.MatMulTA(grad, x).Data)
	l.B.AccumulateGrad(grad.ColSum())
	return tensor.MatMul(grad, l.W)
}

func (l *Linear) Params() []*tensor.Tensor {
	return []*tensor.Tensor{l.W, l.B}
}

func (l *Linear) Clone() Layer {
	return &Linear{W: l.W.Clone(), B: l.B.Clone()}
}
