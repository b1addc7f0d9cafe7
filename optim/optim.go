// Package optim provides the gradient-descent optimizers driven by the
// trainer. Parameters are split into two groups, bias-like and regular,
// so that weight decay can be scheduled on the regular group only.
package optim

import (
	"math"

	"github.com/selfdist/dino/tensor"
)

// ParamGroup is a set of parameters sharing a learning rate and weight
// decay. LR and WeightDecay are written in place by schedule bindings.
type ParamGroup struct {
	Params      []*tensor.Tensor
	LR          float64
	WeightDecay float64
}

// Optimizer updates the student parameters from their accumulated
// gradients. The teacher's parameters are never registered with an
// optimizer.
type Optimizer interface {
	Step()
	ZeroGrad()
	Groups() []*ParamGroup
}

// SplitBias partitions parameters into bias-like (rank ≤ 1: biases and
// normalization scales) and regular tensors. Bias-like parameters are
// conventionally exempt from weight decay.
func SplitBias(params []*tensor.Tensor) (bias, regular []*tensor.Tensor) {
	for _, p := range params {
		if p.Rank() <= 1 {
			bias = append(bias, p)
		} else {
			regular = append(regular, p)
		}
	}
	return bias, regular
}

// NewGroups builds the conventional (bias, regular) group pair with a
// shared initial learning rate.
func NewGroups(params []*tensor.Tensor, lr float64) []*ParamGroup {
	bias, regular := SplitBias(params)
	return []*ParamGroup{
		{Params: bias, LR: lr},
		{Params: regular, LR: lr},
	}
}

// SGD is plain stochastic gradient descent with decoupled weight decay.
type SGD struct {
	groups []*ParamGroup
}

func NewSGD(groups []*ParamGroup) *SGD {
	return &SGD{groups: groups}
}

func (o *SGD) Step() {
	for _, g := range o.groups {
		for _, p := range g.Params {
			if p.Grad == nil {
				continue
			}
			for i := range p.Data {
				p.Data[i] -= g.LR * (p.Grad[i] + g.WeightDecay*p.Data[i])
			}
		}
	}
}

func (o *SGD) ZeroGrad()             { zeroGrad(o.groups) }
func (o *SGD) Groups() []*ParamGroup { return o.groups }

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	groups []*ParamGroup

	Beta1 float64
	Beta2 float64
	Eps   float64

	m map[*tensor.Tensor][]float64
	v map[*tensor.Tensor][]float64
	t int
}

func NewAdamW(groups []*ParamGroup) *AdamW {
	return &AdamW{
		groups: groups,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		m:      make(map[*tensor.Tensor][]float64),
		v:      make(map[*tensor.Tensor][]float64),
	}
}

func (o *AdamW) Step() {
	o.t++
	bias1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bias2 := 1 - math.Pow(o.Beta2, float64(o.t))

	for _, g := range o.groups {
		for _, p := range g.Params {
			if p.Grad == nil {
				continue
			}
			m, v := o.state(p)
			for i := range p.Data {
				grad := p.Grad[i]
				m[i] = o.Beta1*m[i] + (1-o.Beta1)*grad
				v[i] = o.Beta2*v[i] + (1-o.Beta2)*grad*grad
				mHat := m[i] / bias1
				vHat := v[i] / bias2

				// decoupled decay, then the Adam update
				p.Data[i] -= g.LR * g.WeightDecay * p.Data[i]
				p.Data[i] -= g.LR * mHat / (math.Sqrt(vHat) + o.Eps)
			}
		}
	}
}

func (o *AdamW) state(p *tensor.Tensor) (m, v []float64) {
	m, ok := o.m[p]
	if !ok {
		m = make([]float64, p.Size())
		v = make([]float64, p.Size())
		o.m[p] = m
		o.v[p] = v
	}
	return m, o.v[p]
}

func (o *AdamW) ZeroGrad()             { zeroGrad(o.groups) }
func (o *AdamW) Groups() []*ParamGroup { return o.groups }

func zeroGrad(groups []*ParamGroup) {
	for _, g := range groups {
		for _, p := range g.Params {
			p.ZeroGrad()
		}
	}
}
