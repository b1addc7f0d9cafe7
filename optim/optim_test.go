package optim

import (
	"math"
	"testing"

	"github.com/selfdist/dino/tensor"
)

func TestSplitBias(t *testing.T) {
	w := tensor.New(4, 4)
	b := tensor.New(4)
	gamma := tensor.New(8)

	bias, regular := SplitBias([]*tensor.Tensor{w, b, gamma})
	if len(bias) != 2 || len(regular) != 1 {
		t.Errorf("split = %d bias, %d regular", len(bias), len(regular))
	}
	if regular[0] != w {
		t.Error("weight landed in bias group")
	}
}

func TestSGDStep(t *testing.T) {
	p := tensor.FromSlice([]float64{1, 2}, 2)
	p.AccumulateGrad([]float64{0.5, -0.5})

	opt := NewSGD([]*ParamGroup{{Params: []*tensor.Tensor{p}, LR: 0.1}})
	opt.Step()

	if math.Abs(p.Data[0]-0.95) > 1e-12 || math.Abs(p.Data[1]-2.05) > 1e-12 {
		t.Errorf("params after step = %v", p.Data)
	}
}

func TestSGDWeightDecay(t *testing.T) {
	p := tensor.FromSlice([]float64{1}, 1)
	p.EnsureGrad() // zero gradient, decay only

	opt := NewSGD([]*ParamGroup{{Params: []*tensor.Tensor{p}, LR: 0.1, WeightDecay: 0.5}})
	opt.Step()

	if math.Abs(p.Data[0]-0.95) > 1e-12 {
		t.Errorf("param after decay = %v", p.Data[0])
	}
}

func TestSGDSkipsNilGrad(t *testing.T) {
	p := tensor.FromSlice([]float64{1}, 1)
	opt := NewSGD([]*ParamGroup{{Params: []*tensor.Tensor{p}, LR: 0.1, WeightDecay: 0.5}})
	opt.Step()
	if p.Data[0] != 1 {
		t.Errorf("parameter without gradient was updated: %v", p.Data[0])
	}
}

func TestAdamWFirstStep(t *testing.T) {
	p := tensor.FromSlice([]float64{1}, 1)
	p.AccumulateGrad([]float64{0.3})

	groups := []*ParamGroup{{Params: []*tensor.Tensor{p}, LR: 0.01}}
	opt := NewAdamW(groups)
	opt.Step()

	// after bias correction the first update is ≈ lr·sign(grad)
	if math.Abs(p.Data[0]-(1-0.01)) > 1e-6 {
		t.Errorf("param after first Adam step = %v", p.Data[0])
	}
}

func TestAdamWDecayOnlyOnConfiguredGroup(t *testing.T) {
	b := tensor.FromSlice([]float64{1}, 1)
	w := tensor.FromSlice([]float64{1, 0, 0, 1}, 2, 2)
	b.EnsureGrad()
	w.EnsureGrad()

	groups := NewGroups([]*tensor.Tensor{w, b}, 0.1)
	groups[1].WeightDecay = 0.5 // regular group only

	NewAdamW(groups).Step()

	if b.Data[0] != 1 {
		t.Errorf("bias decayed: %v", b.Data[0])
	}
	if math.Abs(w.Data[0]-0.95) > 1e-12 {
		t.Errorf("weight not decayed: %v", w.Data[0])
	}
}

func TestZeroGrad(t *testing.T) {
	p := tensor.New(2)
	p.AccumulateGrad([]float64{1, 1})

	opt := NewSGD([]*ParamGroup{{Params: []*tensor.Tensor{p}, LR: 0.1}})
	opt.ZeroGrad()

	if p.Grad[0] != 0 || p.Grad[1] != 0 {
		t.Errorf("grad after ZeroGrad = %v", p.Grad)
	}
}
