package nn

import (
	"math/rand"

	"github.com/selfdist/dino/tensor"
)

// Encoder maps a batch of images to embeddings. Implementations must
// accept crop batches of varying spatial size, since the multi-crop
// policy produces views at more than one resolution.
type Encoder interface {
	EmbedDim() int
	Forward(x *tensor.Tensor) *tensor.Tensor
	ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache)
	Backward(grad *tensor.Tensor, c Cache)
	Params() []*tensor.Tensor
	Clone() Encoder
}

// MLPEncoder pools each channel of a [batch, channels, H, W] crop batch
// to a fixed PoolSize×PoolSize grid with adaptive average pooling, then
// maps the flattened grid through an MLP. The pooling front end is what
// makes a plain MLP usable under multi-crop, where global and local
// views arrive at different resolutions.
type MLPEncoder struct {
	Channels int
	PoolSize int
	embedDim int
	mlp      *Sequential
}

// NewMLPEncoder builds an encoder with the given hidden layer widths.
func NewMLPEncoder(rng *rand.Rand, channels, poolSize int, hiddenDims []int, embedDim int) *MLPEncoder {
	dims := append([]int{channels * poolSize * poolSize}, hiddenDims...)
	var layers []Layer
	for i := 0; i+1 < len(dims); i++ {
		layers = append(layers, NewLinear(rng, dims[i], dims[i+1]), &GELU{})
	}
	layers = append(layers, NewLinear(rng, dims[len(dims)-1], embedDim))
	return &MLPEncoder{
		Channels: channels,
		PoolSize: poolSize,
		embedDim: embedDim,
		mlp:      &Sequential{Layers: layers},
	}
}

func (e *MLPEncoder) EmbedDim() int { return e.embedDim }

type mlpEncoderCache struct {
	inShape  []int
	mlpCache Cache
}

// pool applies adaptive average pooling over the spatial axes.
func (e *MLPEncoder) pool(x *tensor.Tensor) *tensor.Tensor {
	batch, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	p := e.PoolSize
	out := tensor.New(batch, ch*p*p)

	for b := 0; b < batch; b++ {
		dst := out.Row(b)
		for c := 0; c < ch; c++ {
			for i := 0; i < p; i++ {
				y0, y1 := i*h/p, ((i+1)*h + p - 1) / p
				for j := 0; j < p; j++ {
					x0, x1 := j*w/p, ((j+1)*w + p - 1) / p
					sum := 0.0
					for y := y0; y < y1; y++ {
						for xx := x0; xx < x1; xx++ {
							sum += x.At(b, c, y, xx)
						}
					}
					dst[(c*p+i)*p+j] = sum / float64((y1-y0)*(x1-x0))
				}
			}
		}
	}
	return out
}

func (e *MLPEncoder) Forward(x *tensor.Tensor) *tensor.Tensor {
	return e.mlp.Forward(e.pool(x))
}

func (e *MLPEncoder) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	y, mc := e.mlp.ForwardWithCache(e.pool(x))
	return y, &mlpEncoderCache{inShape: x.Shape(), mlpCache: mc}
}

// Backward accumulates parameter gradients. The gradient with respect to
// the input image is not needed and is discarded after the pooled layer.
func (e *MLPEncoder) Backward(grad *tensor.Tensor, c Cache) {
	ec := c.(*mlpEncoderCache)
	e.mlp.Backward(grad, ec.mlpCache)
}

func (e *MLPEncoder) Params() []*tensor.Tensor { return e.mlp.Params() }

func (e *MLPEncoder) Clone() Encoder {
	return &MLPEncoder{
		Channels: e.Channels,
		PoolSize: e.PoolSize,
		embedDim: e.embedDim,
		mlp:      e.mlp.Clone().(*Sequential),
	}
}
