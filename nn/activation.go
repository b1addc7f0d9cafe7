package nn

import (
	"math"

	"github.com/selfdist/dino/tensor"
)

// GELU applies the tanh approximation of the Gaussian error linear unit.
type GELU struct{}

const geluC = 0.7978845608028654 // sqrt(2/pi)

func (GELU) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := x.Clone()
	for i, v := range y.Data {
		y.Data[i] = 0.5 * v * (1 + math.Tanh(geluC*(v+0.044715*v*v*v)))
	}
	return y
}

func (g GELU) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	return g.Forward(x), x
}

func (GELU) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	x := c.(*tensor.Tensor)
	out := grad.Clone()
	for i, v := range x.Data {
		u := geluC * (v + 0.044715*v*v*v)
		t := math.Tanh(u)
		d := 0.5*(1+t) + 0.5*v*(1-t*t)*geluC*(1+3*0.044715*v*v)
		out.Data[i] *= d
	}
	return out
}

func (GELU) Params() []*tensor.Tensor { return nil }
func (GELU) Clone() Layer             { return &GELU{} }

// ReLU applies max(0, x).
type ReLU struct{}

func (ReLU) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := x.Clone()
	for i, v := range y.Data {
		if v < 0 {
			y.Data[i] = 0
		}
	}
	return y
}

func (r ReLU) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	return r.Forward(x), x
}

func (ReLU) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	x := c.(*tensor.Tensor)
	out := grad.Clone()
	for i, v := range x.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

func (ReLU) Params() []*tensor.Tensor { return nil }
func (ReLU) Clone() Layer             { return &ReLU{} }
