package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/selfdist/dino/tensor"
)

// checkGradients verifies analytic input and parameter gradients of a
// layer against central finite differences on the scalar objective
// sum(weights ⊙ forward(x)).
func checkGradients(t *testing.T, l Layer, x *tensor.Tensor, tol float64) {
	t.Helper()

	rng := rand.New(rand.NewSource(7))
	probe := func() *tensor.Tensor {
		y, _ := l.ForwardWithCache(x)
		return y
	}
	y0 := probe()
	weights := make([]float64, y0.Size())
	for i := range weights {
		weights[i] = rng.NormFloat64()
	}
	obj := func() float64 {
		s := 0.0
		for i, v := range probe().Data {
			s += weights[i] * v
		}
		return s
	}

	for _, p := range l.Params() {
		p.ZeroGrad()
	}
	y, cache := l.ForwardWithCache(x)
	gradOut := tensor.FromSlice(weights, y.Shape()...)
	gradIn := l.Backward(gradOut, cache)

	const h = 1e-6
	numGrad := func(v *float64) float64 {
		old := *v
		*v = old + h
		plus := obj()
		*v = old - h
		minus := obj()
		*v = old
		return (plus - minus) / (2 * h)
	}

	for i := range x.Data {
		num := numGrad(&x.Data[i])
		if math.Abs(num-gradIn.Data[i]) > tol {
			t.Errorf("input grad[%d] = %v, numeric %v", i, gradIn.Data[i], num)
		}
	}
	for pi, p := range l.Params() {
		for i := range p.Data {
			num := numGrad(&p.Data[i])
			if math.Abs(num-p.Grad[i]) > tol {
				t.Errorf("param %d grad[%d] = %v, numeric %v", pi, i, p.Grad[i], num)
			}
		}
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear(rng, 4, 3)
	checkGradients(t, l, tensor.Randn(rng, 5, 4), 1e-4)
}

func TestGELUGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	checkGradients(t, &GELU{}, tensor.Randn(rng, 3, 4), 1e-4)
}

func TestReLUForward(t *testing.T) {
	x := tensor.FromSlice([]float64{-1, 0, 2}, 1, 3)
	y := (&ReLU{}).Forward(x)
	want := []float64{0, 0, 2}
	for i, v := range want {
		if y.Data[i] != v {
			t.Errorf("relu[%d] = %v, want %v", i, y.Data[i], v)
		}
	}
}

func TestWeightNormLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := NewWeightNormLinear(rng, 4, 3)
	checkGradients(t, l, tensor.Randn(rng, 5, 4), 1e-4)
}

func TestWeightNormRowsUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	l := NewWeightNormLinear(rng, 6, 4)
	// Scale the direction parameter arbitrarily; the effective weight
	// must still have unit rows.
	l.V.Scale(3.7)

	w, _ := l.effective()
	for i := 0; i < w.Dim(0); i++ {
		norm := 0.0
		for _, v := range w.Row(i) {
			norm += v * v
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-9 {
			t.Errorf("row %d norm = %v", i, math.Sqrt(norm))
		}
	}
}

func TestL2BottleneckGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	l := NewL2Bottleneck(rng, 5, 3, 4)
	checkGradients(t, l, tensor.Randn(rng, 4, 5), 1e-4)
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm(2)
	bn.RunMean = []float64{1, -1}
	bn.RunVar = []float64{4, 1}

	x := tensor.FromSlice([]float64{3, 0}, 1, 2)
	y := bn.Forward(x)

	if math.Abs(y.At(0, 0)-1) > 1e-3 {
		t.Errorf("eval output = %v, want ~1", y.At(0, 0))
	}
	// eval mode must not touch running stats
	if bn.RunMean[0] != 1 || bn.RunVar[0] != 4 {
		t.Error("Forward modified running statistics")
	}
}

func TestBatchNormTrainUpdatesRunningStats(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	bn := NewBatchNorm(3)
	before := append([]float64{}, bn.RunMean...)

	bn.ForwardWithCache(tensor.Randn(rng, 8, 3))

	changed := false
	for i := range before {
		if bn.RunMean[i] != before[i] {
			changed = true
		}
	}
	if !changed {
		t.Error("ForwardWithCache did not update running statistics")
	}
}

func TestBatchNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	bn := NewBatchNorm(3)
	checkGradients(t, bn, tensor.Randn(rng, 6, 3), 1e-4)
}

func TestMLPEncoderMultiSizeCrops(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	enc := NewMLPEncoder(rng, 3, 4, []int{16}, 8)

	global := enc.Forward(tensor.Randn(rng, 2, 3, 32, 32))
	local := enc.Forward(tensor.Randn(rng, 2, 3, 12, 12))

	for _, y := range []*tensor.Tensor{global, local} {
		if y.Dim(0) != 2 || y.Dim(1) != 8 {
			t.Fatalf("embedding shape = %v", y.Shape())
		}
	}
}

func TestMLPEncoderBackwardAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	enc := NewMLPEncoder(rng, 1, 2, []int{4}, 3)

	y, cache := enc.ForwardWithCache(tensor.Randn(rng, 2, 1, 5, 5))
	enc.Backward(tensor.Full(1, y.Shape()...), cache)

	nonzero := false
	for _, p := range enc.Params() {
		for _, g := range p.Grad {
			if g != 0 {
				nonzero = true
			}
		}
	}
	if !nonzero {
		t.Error("no gradient accumulated in encoder parameters")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	enc := NewMLPEncoder(rng, 3, 4, []int{8}, 4)
	clone := enc.Clone()

	p0 := enc.Params()[0]
	c0 := clone.Params()[0]
	if p0.Data[0] != c0.Data[0] {
		t.Fatal("clone does not copy values")
	}
	p0.Data[0] += 1
	if p0.Data[0] == c0.Data[0] {
		t.Error("clone shares parameter storage")
	}
}

func TestActivationLookup(t *testing.T) {
	for _, name := range []string{"", "gelu", "GELU", "relu", "ReLU"} {
		if _, err := Activation(name); err != nil {
			t.Errorf("Activation(%q) failed: %v", name, err)
		}
	}
	if _, err := Activation("swish"); err == nil {
		t.Error("expected error for unknown activation")
	}
}
