// Package dino implements the self-distillation training core: the
// projection head, the student/teacher model pair, the teacher update
// rule, the multi-crop loss, and the trainer that sequences them.
package dino

import (
	"fmt"
	"math/rand"

	"github.com/selfdist/dino/nn"
	"github.com/selfdist/dino/tensor"
)

// HeadConfig configures the projection head.
type HeadConfig struct {
	EmbedDim int
	OutDim   int

	// HiddenDims are the widths of the MLP hidden layers. Empty means
	// the head projects straight from the embedding.
	HiddenDims []int

	// BottleneckDim enables the L2 bottleneck before the final
	// weight-normalized projection. Zero selects a plain output layer
	// instead.
	BottleneckDim int

	UseBN bool
	Act   string

	// InitTemp and CenterMomentum seed the mutable Temp and
	// CenterMomentum fields; schedules usually overwrite both before
	// the first step.
	InitTemp       float64
	InitCenter     float64
	CenterMomentum float64
}

// DefaultHeadConfig returns the canonical head layout: two 2048-wide
// GELU hidden layers and a 256-dimensional L2 bottleneck.
func DefaultHeadConfig(embedDim, outDim int) HeadConfig {
	return HeadConfig{
		EmbedDim:      embedDim,
		OutDim:        outDim,
		HiddenDims:    []int{2048, 2048},
		BottleneckDim: 256,
		Act:           "gelu",
		InitTemp:      1.0,
	}
}

// Head maps embeddings to centered, temperature-scaled log
// probabilities. Temp and CenterMomentum are written in place by
// schedule bindings between steps; the running center is updated by the
// forward pass itself whenever CenterMomentum is non-zero, in training
// and evaluation alike, because centering is part of the training
// dynamics rather than a train-only statistic.
type Head struct {
	EmbedDim int
	OutDim   int

	Temp           float64
	CenterMomentum float64

	mlp        *nn.Sequential
	bottleneck *nn.L2Bottleneck // nil when BottleneckDim is zero
	center     []float64
}

// NewHead validates cfg and builds the head. Every linear layer is
// initialized truncated-normal(std=0.02) with zero bias except the
// weight-normalized output projection, which keeps its own
// initialization.
func NewHead(rng *rand.Rand, cfg HeadConfig) (*Head, error) {
	if cfg.EmbedDim <= 0 || cfg.OutDim <= 0 {
		return nil, fmt.Errorf("%w: embed_dim=%d out_dim=%d", ErrHeadConfig, cfg.EmbedDim, cfg.OutDim)
	}
	if cfg.BottleneckDim < 0 {
		return nil, fmt.Errorf("%w: bottleneck_dim=%d", ErrHeadConfig, cfg.BottleneckDim)
	}
	for _, d := range cfg.HiddenDims {
		if d <= 0 {
			return nil, fmt.Errorf("%w: hidden dim %d", ErrHeadConfig, d)
		}
	}

	h := &Head{
		EmbedDim:       cfg.EmbedDim,
		OutDim:         cfg.OutDim,
		Temp:           cfg.InitTemp,
		CenterMomentum: cfg.CenterMomentum,
		center:         make([]float64, cfg.OutDim),
	}
	if h.Temp == 0 {
		h.Temp = 1
	}
	for i := range h.center {
		h.center[i] = cfg.InitCenter
	}

	var layers []nn.Layer
	dims := append([]int{cfg.EmbedDim}, cfg.HiddenDims...)
	for i := 0; i+1 < len(dims); i++ {
		layers = append(layers, nn.NewLinear(rng, dims[i], dims[i+1]))
		if cfg.UseBN {
			layers = append(layers, nn.NewBatchNorm(dims[i+1]))
		}
		act, err := nn.Activation(cfg.Act)
		if err != nil {
			return nil, err
		}
		layers = append(layers, act)
	}

	last := dims[len(dims)-1]
	if cfg.BottleneckDim == 0 {
		layers = append(layers, nn.NewLinear(rng, last, cfg.OutDim))
	} else {
		h.bottleneck = nn.NewL2Bottleneck(rng, last, cfg.BottleneckDim, cfg.OutDim)
		layers = append(layers, h.bottleneck)
	}
	h.mlp = &nn.Sequential{Layers: layers}
	return h, nil
}

// Center returns the running center vector. The caller must not modify
// it.
func (h *Head) Center() []float64 { return h.center }

// WeightNormParams returns the parameters of the weight-normalized
// output projection, or nil when the head has no bottleneck. The
// trainer zeroes their gradients during the freeze epochs.
func (h *Head) WeightNormParams() []*tensor.Tensor {
	if h.bottleneck == nil {
		return nil
	}
	return h.bottleneck.WeightNorm.Params()
}

// promote lifts [batch, embed] input to a single-crop [1, batch, embed]
// stack.
func (h *Head) promote(x *tensor.Tensor) *tensor.Tensor {
	if x.Rank() == 2 {
		return x.Reshape(1, x.Dim(0), x.Dim(1))
	}
	return x
}

// updateCenter folds the raw (pre-centering) logits into the running
// center: c ← m·c + (1−m)·mean(logits), the mean taken per output
// dimension over all crop and batch rows. It runs on every forward
// pass while CenterMomentum is non-zero.
func (h *Head) updateCenter(logits *tensor.Tensor) {
	m := h.CenterMomentum
	if m == 0 {
		return
	}
	mean := logits.ColMean()
	for i := range h.center {
		h.center[i] = m*h.center[i] + (1-m)*mean[i]
	}
}

func (h *Head) finish(logits *tensor.Tensor) *tensor.Tensor {
	h.updateCenter(logits)
	logits.SubRow(h.center)
	logits.Scale(1 / h.Temp)
	return tensor.LogSoftmaxRows(logits)
}

// Forward computes log probabilities in evaluation mode. The input is
// [crops, batch, embed] or [batch, embed]; the output matches with the
// last axis replaced by OutDim.
func (h *Head) Forward(x *tensor.Tensor) *tensor.Tensor {
	x = h.promote(x)
	crops, batch := x.Dim(0), x.Dim(1)
	logits := h.mlp.Forward(x.Reshape(crops*batch, x.Dim(2)))
	return h.finish(logits).Reshape(crops, batch, h.OutDim)
}

type headCache struct {
	crops, batch int
	temp         float64
	logProbs     *tensor.Tensor // flattened [crops·batch, out]
	mlpCache     nn.Cache
}

// ForwardWithCache computes log probabilities in training mode and
// returns the cache Backward needs.
func (h *Head) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, *headCache) {
	x = h.promote(x)
	crops, batch := x.Dim(0), x.Dim(1)
	logits, mc := h.mlp.ForwardWithCache(x.Reshape(crops*batch, x.Dim(2)))
	logProbs := h.finish(logits)
	cache := &headCache{crops: crops, batch: batch, temp: h.Temp, logProbs: logProbs, mlpCache: mc}
	return logProbs.Reshape(crops, batch, h.OutDim), cache
}

// Backward propagates a gradient with respect to the log-probability
// output back to the embeddings, accumulating parameter gradients. The
// running center is treated as a constant.
func (h *Head) Backward(grad *tensor.Tensor, c *headCache) *tensor.Tensor {
	flat := grad.Reshape(c.crops*c.batch, h.OutDim)
	g := tensor.LogSoftmaxRowsBackward(c.logProbs, flat)
	g.Scale(1 / c.temp)
	ge := h.mlp.Backward(g, c.mlpCache)
	return ge.Reshape(c.crops, c.batch, h.EmbedDim)
}

// Params returns the head parameters in a fixed order.
func (h *Head) Params() []*tensor.Tensor { return h.mlp.Params() }

// Clone returns an independent copy with identical parameters, center,
// temperature, and centering momentum.
func (h *Head) Clone() *Head {
	out := &Head{
		EmbedDim:       h.EmbedDim,
		OutDim:         h.OutDim,
		Temp:           h.Temp,
		CenterMomentum: h.CenterMomentum,
		mlp:            h.mlp.Clone().(*nn.Sequential),
		center:         append([]float64{}, h.center...),
	}
	// rebind the bottleneck pointer into the cloned layer list
	for _, l := range out.mlp.Layers {
		if b, ok := l.(*nn.L2Bottleneck); ok {
			out.bottleneck = b
		}
	}
	return out
}
