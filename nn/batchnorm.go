package nn

import (
	"math"

	"github.com/selfdist/dino/tensor"
)

// BatchNorm normalizes each feature column over the batch. Training mode
// (ForwardWithCache) uses batch statistics and updates the running
// estimates; evaluation mode (Forward) uses the running estimates only,
// so a network held in evaluation mode keeps its statistics frozen.
type BatchNorm struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor

	// Running statistics are buffers, not parameters. They are not
	// returned by Params and are therefore untouched by the optimizer
	// and the teacher update rule.
	RunMean []float64
	RunVar  []float64

	Momentum float64
	Eps      float64
}

func NewBatchNorm(dim int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:    tensor.Full(1, dim),
		Beta:     tensor.New(dim),
		RunMean:  make([]float64, dim),
		RunVar:   make([]float64, dim),
		Momentum: 0.1,
		Eps:      1e-5,
	}
	for i := range bn.RunVar {
		bn.RunVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := x.Clone()
	cols := y.Dim(1)
	for i := 0; i < y.Dim(0); i++ {
		row := y.Row(i)
		for j := 0; j < cols; j++ {
			xhat := (row[j] - bn.RunMean[j]) / math.Sqrt(bn.RunVar[j]+bn.Eps)
			row[j] = bn.Gamma.Data[j]*xhat + bn.Beta.Data[j]
		}
	}
	return y
}

type batchNormCache struct {
	xhat   *tensor.Tensor
	invStd []float64
}

func (bn *BatchNorm) ForwardWithCache(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	rows, cols := x.Dim(0), x.Dim(1)
	mean := x.ColMean()

	variance := make([]float64, cols)
	for i := 0; i < rows; i++ {
		row := x.Row(i)
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	for j := range variance {
		variance[j] /= float64(rows)
	}

	invStd := make([]float64, cols)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.Eps)
	}

	xhat := x.Clone()
	y := tensor.New(x.Shape()...)
	for i := 0; i < rows; i++ {
		xr, yr := xhat.Row(i), y.Row(i)
		for j := range xr {
			xr[j] = (xr[j] - mean[j]) * invStd[j]
			yr[j] = bn.Gamma.Data[j]*xr[j] + bn.Beta.Data[j]
		}
	}

	for j := range mean {
		bn.RunMean[j] = (1-bn.Momentum)*bn.RunMean[j] + bn.Momentum*mean[j]
		bn.RunVar[j] = (1-bn.Momentum)*bn.RunVar[j] + bn.Momentum*variance[j]
	}

	return y, &batchNormCache{xhat: xhat, invStd: invStd}
}

func (bn *BatchNorm) Backward(grad *tensor.Tensor, c Cache) *tensor.Tensor {
	bc := c.(*batchNormCache)
	rows, cols := grad.Dim(0), grad.Dim(1)

	gradGamma := make([]float64, cols)
	gradBeta := make([]float64, cols)
	meanG := make([]float64, cols)
	meanGX := make([]float64, cols)
	for i := 0; i < rows; i++ {
		gr, xr := grad.Row(i), bc.xhat.Row(i)
		for j := range gr {
			gradGamma[j] += gr[j] * xr[j]
			gradBeta[j] += gr[j]
			meanG[j] += gr[j]
			meanGX[j] += gr[j] * xr[j]
		}
	}
	bn.Gamma.AccumulateGrad(gradGamma)
	bn.Beta.AccumulateGrad(gradBeta)

	n := float64(rows)
	for j := range meanG {
		meanG[j] /= n
		meanGX[j] /= n
	}

	out := tensor.New(grad.Shape()...)
	for i := 0; i < rows; i++ {
		gr, xr, or := grad.Row(i), bc.xhat.Row(i), out.Row(i)
		for j := range gr {
			or[j] = bn.Gamma.Data[j] * bc.invStd[j] * (gr[j] - meanG[j] - xr[j]*meanGX[j])
		}
	}
	return out
}

func (bn *BatchNorm) Params() []*tensor.Tensor {
	return []*tensor.Tensor{bn.Gamma, bn.Beta}
}

func (bn *BatchNorm) Clone() Layer {
	out := NewBatchNorm(bn.Gamma.Size())
	out.Gamma.CopyFrom(bn.Gamma)
	out.Beta.CopyFrom(bn.Beta)
	copy(out.RunMean, bn.RunMean)
	copy(out.RunVar, bn.RunVar)
	out.Momentum = bn.Momentum
	out.Eps = bn.Eps
	return out
}
