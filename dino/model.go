package dino

import (
	"fmt"

	"github.com/selfdist/dino/nn"
	"github.com/selfdist/dino/tensor"
)

// Model is the encoder + projection head composite. It encodes each
// crop batch independently, stacks the embeddings to
// [crops, batch, embed], and applies the head. Routing is the caller's
// concern: the model processes exactly the crop batches it is given.
type Model struct {
	Enc  nn.Encoder
	Head *Head
}

// NewModel pairs an encoder with a head, verifying that the embedding
// dimensions agree.
func NewModel(enc nn.Encoder, head *Head) (*Model, error) {
	if enc.EmbedDim() != head.EmbedDim {
		return nil, fmt.Errorf("%w: encoder embed_dim %d, head embed_dim %d",
			ErrShapeMismatch, enc.EmbedDim(), head.EmbedDim)
	}
	return &Model{Enc: enc, Head: head}, nil
}

func checkBatches(crops []*tensor.Tensor) (int, error) {
	if len(crops) == 0 {
		return 0, fmt.Errorf("%w: empty crop batch list", ErrShapeMismatch)
	}
	batch := crops[0].Dim(0)
	for i, c := range crops[1:] {
		if c.Dim(0) != batch {
			return 0, fmt.Errorf("%w: crop batch %d has batch size %d, want %d",
				ErrShapeMismatch, i+1, c.Dim(0), batch)
		}
	}
	return batch, nil
}

// Forward runs the composite in evaluation mode, returning
// [crops, batch, out] log probabilities.
func (m *Model) Forward(crops []*tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := checkBatches(crops); err != nil {
		return nil, err
	}
	embeds := make([]*tensor.Tensor, len(crops))
	for i, c := range crops {
		embeds[i] = m.Enc.Forward(c)
	}
	return m.Head.Forward(tensor.Stack(embeds)), nil
}

type modelCache struct {
	encCaches []nn.Cache
	headCache *headCache
}

// ForwardWithCache runs the composite in training mode.
func (m *Model) ForwardWithCache(crops []*tensor.Tensor) (*tensor.Tensor, *modelCache, error) {
	if _, err := checkBatches(crops); err != nil {
		return nil, nil, err
	}
	cache := &modelCache{encCaches: make([]nn.Cache, len(crops))}
	embeds := make([]*tensor.Tensor, len(crops))
	for i, c := range crops {
		embeds[i], cache.encCaches[i] = m.Enc.ForwardWithCache(c)
	}
	y, hc := m.Head.ForwardWithCache(tensor.Stack(embeds))
	cache.headCache = hc
	return y, cache, nil
}

// Backward accumulates gradients from a [crops, batch, out] gradient of
// the log-probability output.
func (m *Model) Backward(grad *tensor.Tensor, c *modelCache) {
	gradEmbed := m.Head.Backward(grad, c.headCache)
	for i, g := range gradEmbed.Unstack() {
		m.Enc.Backward(g, c.encCaches[i])
	}
}

// Params returns encoder then head parameters in a fixed order, so two
// clones of the same model pair up position by position.
func (m *Model) Params() []*tensor.Tensor {
	return append(m.Enc.Params(), m.Head.Params()...)
}

// Clone produces an independently owned copy with identical parameter
// values: an explicit parameter-by-parameter clone, used to derive the
// teacher from the student at construction.
func (m *Model) Clone() *Model {
	return &Model{Enc: m.Enc.Clone(), Head: m.Head.Clone()}
}
