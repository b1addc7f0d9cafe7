package dino

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/selfdist/dino/tensor"
)

// identityHead builds a head whose MLP is a single linear layer pinned
// to the identity, so raw logits equal the input embeddings.
func identityHead(t *testing.T, dim int, cfg func(*HeadConfig)) *Head {
	t.Helper()
	hc := HeadConfig{EmbedDim: dim, OutDim: dim, InitTemp: 1}
	if cfg != nil {
		cfg(&hc)
	}
	h, err := NewHead(rand.New(rand.NewSource(1)), hc)
	if err != nil {
		t.Fatal(err)
	}
	w := h.Params()[0] // [out, in]
	for i := range w.Data {
		w.Data[i] = 0
	}
	for i := 0; i < dim; i++ {
		w.Set(1, i, i)
	}
	return h
}

func TestNewHeadValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tests := []struct {
		name string
		cfg  HeadConfig
	}{
		{"zero out dim", HeadConfig{EmbedDim: 8, OutDim: 0}},
		{"negative out dim", HeadConfig{EmbedDim: 8, OutDim: -3}},
		{"zero embed dim", HeadConfig{EmbedDim: 0, OutDim: 8}},
		{"negative bottleneck", HeadConfig{EmbedDim: 8, OutDim: 8, BottleneckDim: -1}},
		{"bad hidden dim", HeadConfig{EmbedDim: 8, OutDim: 8, HiddenDims: []int{16, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHead(rng, tt.cfg); !errors.Is(err, ErrHeadConfig) {
				t.Errorf("NewHead() error = %v, want ErrHeadConfig", err)
			}
		})
	}
}

func TestHeadOutputIsLogProbability(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	h, err := NewHead(rng, DefaultHeadConfig(16, 32))
	if err != nil {
		t.Fatal(err)
	}

	y := h.Forward(tensor.Randn(rng, 3, 5, 16))

	for c := 0; c < 3; c++ {
		for b := 0; b < 5; b++ {
			sum := 0.0
			for k := 0; k < 32; k++ {
				sum += math.Exp(y.At(c, b, k))
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Errorf("crop %d batch %d: probabilities sum to %v", c, b, sum)
			}
		}
	}
}

func TestHeadPromotesRank2Input(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	h, err := NewHead(rng, DefaultHeadConfig(8, 12))
	if err != nil {
		t.Fatal(err)
	}

	y := h.Forward(tensor.Randn(rng, 4, 8))
	if got := y.Shape(); got[0] != 1 || got[1] != 4 || got[2] != 12 {
		t.Errorf("promoted output shape = %v", got)
	}
}

func TestHeadCenterUpdate(t *testing.T) {
	h := identityHead(t, 3, func(c *HeadConfig) { c.CenterMomentum = 0.5 })

	// raw logits equal the input, so the center follows its column
	// mean: c1 = 0.5·0 + 0.5·mean
	x := tensor.FromSlice([]float64{1, 2, 3, 3, 4, 5}, 1, 2, 3)
	h.Forward(x)

	want := []float64{1, 1.5, 2} // 0.5 · column means {2, 3, 4}
	for i, v := range want {
		if math.Abs(h.Center()[i]-v) > 1e-12 {
			t.Errorf("center[%d] = %v, want %v", i, h.Center()[i], v)
		}
	}
}

func TestHeadCenterFrozenWithoutMomentum(t *testing.T) {
	h := identityHead(t, 3, nil) // CenterMomentum zero
	h.Forward(tensor.Randn(rand.New(rand.NewSource(5)), 2, 4, 3))

	for i, v := range h.Center() {
		if v != 0 {
			t.Errorf("center[%d] = %v, want frozen 0", i, v)
		}
	}
}

func TestHeadCenterUpdatesInTrainingMode(t *testing.T) {
	h := identityHead(t, 3, func(c *HeadConfig) { c.CenterMomentum = 0.9 })
	h.ForwardWithCache(tensor.FromSlice([]float64{1, 1, 1}, 1, 1, 3))

	if h.Center()[0] == 0 {
		t.Error("ForwardWithCache did not update center")
	}
}

func TestHeadTemperatureSharpens(t *testing.T) {
	h := identityHead(t, 2, nil)
	x := tensor.FromSlice([]float64{1, 0}, 1, 1, 2)

	h.Temp = 1
	warm := h.Forward(x.Clone()).At(0, 0, 0)
	h.Temp = 0.1
	sharp := h.Forward(x.Clone()).At(0, 0, 0)

	// lower temperature concentrates mass on the larger logit
	if math.Exp(sharp) <= math.Exp(warm) {
		t.Errorf("p(temp=0.1) = %v not sharper than p(temp=1) = %v", math.Exp(sharp), math.Exp(warm))
	}
}

func TestHeadBackwardGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	cfg := HeadConfig{EmbedDim: 5, OutDim: 6, HiddenDims: []int{8}, BottleneckDim: 4, InitTemp: 0.7}
	h, err := NewHead(rng, cfg)
	if err != nil {
		t.Fatal(err)
	}

	x := tensor.Randn(rng, 2, 3, 5)
	weights := tensor.Randn(rng, 2, 3, 6)

	obj := func() float64 {
		y, _ := h.ForwardWithCache(x)
		s := 0.0
		for i, v := range y.Data {
			s += weights.Data[i] * v
		}
		return s
	}

	for _, p := range h.Params() {
		p.ZeroGrad()
	}
	_, cache := h.ForwardWithCache(x)
	gradIn := h.Backward(weights, cache)

	const hh = 1e-6
	for i := range x.Data {
		old := x.Data[i]
		x.Data[i] = old + hh
		plus := obj()
		x.Data[i] = old - hh
		minus := obj()
		x.Data[i] = old
		num := (plus - minus) / (2 * hh)
		if math.Abs(num-gradIn.Data[i]) > 1e-4 {
			t.Fatalf("input grad[%d] = %v, numeric %v", i, gradIn.Data[i], num)
		}
	}
}

func TestHeadCloneIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h, err := NewHead(rng, DefaultHeadConfig(8, 10))
	if err != nil {
		t.Fatal(err)
	}
	h.CenterMomentum = 0.9

	c := h.Clone()
	if c.Temp != h.Temp || c.CenterMomentum != h.CenterMomentum {
		t.Error("clone dropped mutable fields")
	}
	if len(c.WeightNormParams()) == 0 {
		t.Error("clone lost the bottleneck reference")
	}

	h.Params()[0].Data[0] += 1
	if h.Params()[0].Data[0] == c.Params()[0].Data[0] {
		t.Error("clone shares parameter storage")
	}

	h.Forward(tensor.Randn(rng, 1, 2, 8))
	for _, v := range c.Center() {
		if v != 0 {
			t.Error("clone shares center storage")
		}
	}
}
