// Package nn provides the neural-network layers used by the projection
// head and the demo encoder. Layers are stateless with respect to
// activations: Forward runs in evaluation mode, ForwardWithCache runs in
// training mode and returns an opaque cache that Backward consumes. A
// layer that is only ever driven through Forward (the teacher network)
// therefore never allocates gradient state.
package nn

import (
	"fmt"

	"github.com/selfdist/dino/tensor"
)

// Cache holds layer-specific forward activations needed by Backward.
type Cache any

// Layer is a differentiable module operating on rank-2 [batch, features]
// tensors.
type Layer interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
	ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache)

	// Backward accumulates parameter gradients and returns the
	// gradient with respect to the layer input.
	Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor

	Params() []*tensor.Tensor
	Clone() Layer
}

// Sequential chains layers.
type Sequential struct {
	Layers []Layer
}

func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

func (s *Sequential) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	caches := make([]Cache, len(s.Layers))
	for i, l := range s.Layers {
		x, caches[i] = l.ForwardWithCache(x)
	}
	return x, caches
}

func (s *Sequential) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	caches := c.([]Cache)
	for i := len(s.Layers) - 1; i >= 0; i-- {
		grad = s.Layers[i].Backward(grad, caches[i])
	}
	return grad
}

func (s *Sequential) Params() []*tensor.Tensor {
	var ps []*tensor.Tensor
	for _, l := range s.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (s *Sequential) Clone() Layer {
	out := &Sequential{Layers: make([]Layer, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = l.Clone()
	}
	return out
}

// Activation returns the activation layer registered under name.
func Activation(name string) (Layer, error) {
	switch name {
	case "", "gelu", "GELU":
		return &GELU{}, nil
	case "relu", "ReLU":
		return &ReLU{}, nil
	}
	return nil, fmt.Errorf("nn: unknown activation %q", name)
}
