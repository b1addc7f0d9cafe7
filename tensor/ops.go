package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MatMul computes a·b for rank-2 tensors [m,k]·[k,n] -> [m,n].
func MatMul(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.Dim(1) != b.Dim(0) {
		panic(&ShapeError{Op: "matmul", Shapes: [][]int{a.shape, b.shape}})
	}
	m, k, n := a.Dim(0), a.Dim(1), b.Dim(1)
	var out mat.Dense
	out.Mul(mat.NewDense(m, k, a.Data), mat.NewDense(k, n, b.Data))
	return FromSlice(out.RawMatrix().Data, m, n)
}

// MatMulT computes a·bᵀ for rank-2 tensors [m,k]·([n,k])ᵀ -> [m,n].
func MatMulT(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.Dim(1) != b.Dim(1) {
		panic(&ShapeError{Op: "matmult", Shapes: [][]int{a.shape, b.shape}})
	}
	m, k, n := a.Dim(0), a.Dim(1), b.Dim(0)
	var out mat.Dense
	out.Mul(mat.NewDense(m, k, a.Data), mat.NewDense(n, k, b.Data).T())
	return FromSlice(out.RawMatrix().Data, m, n)
}

// MatMulTA computes aᵀ·b for rank-2 tensors ([m,k])ᵀ·[m,n] -> [k,n].
func MatMulTA(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.Dim(0) != b.Dim(0) {
		panic(&ShapeError{Op: "matmulta", Shapes: [][]int{a.shape, b.shape}})
	}
	m, k, n := a.Dim(0), a.Dim(1), b.Dim(1)
	var out mat.Dense
	out.Mul(mat.NewDense(m, k, a.Data).T(), mat.NewDense(m, n, b.Data))
	return FromSlice(out.RawMatrix().Data, k, n)
}

// AddRow adds the vector row to every row of a rank-2 tensor in place.
func (t *Tensor) AddRow(row []float64) {
	if t.Rank() != 2 || t.Dim(1) != len(row) {
		panic(&ShapeError{Op: "addrow", Shapes: [][]int{t.shape, {len(row)}}})
	}
	for i := 0; i < t.Dim(0); i++ {
		floats.Add(t.Row(i), row)
	}
}

// SubRow subtracts the vector row from every row of a rank-2 tensor in
// place.
func (t *Tensor) SubRow(row []float64) {
	if t.Rank() != 2 || t.Dim(1) != len(row) {
		panic(&ShapeError{Op: "subrow", Shapes: [][]int{t.shape, {len(row)}}})
	}
	for i := 0; i < t.Dim(0); i++ {
		floats.Sub(t.Row(i), row)
	}
}

// Scale multiplies every element by s in place and returns t.
func (t *Tensor) Scale(s float64) *Tensor {
	floats.Scale(s, t.Data)
	return t
}

// ColMean returns the per-column mean of a rank-2 tensor.
func (t *Tensor) ColMean() []float64 {
	if t.Rank() != 2 {
		panic(&ShapeError{Op: "colmean", Shapes: [][]int{t.shape}})
	}
	rows, cols := t.Dim(0), t.Dim(1)
	mean := make([]float64, cols)
	for i := 0; i < rows; i++ {
		floats.Add(mean, t.Row(i))
	}
	floats.Scale(1/float64(rows), mean)
	return mean
}

// ColSum returns the per-column sum of a rank-2 tensor.
func (t *Tensor) ColSum() []float64 {
	if t.Rank() != 2 {
		panic(&ShapeError{Op: "colsum", Shapes: [][]int{t.shape}})
	}
	sum := make([]float64, t.Dim(1))
	for i := 0; i < t.Dim(0); i++ {
		floats.Add(sum, t.Row(i))
	}
	return sum
}

// LogSoftmaxRows applies a numerically stable log-softmax to every row
// of a rank-2 tensor, returning a new tensor.
func LogSoftmaxRows(t *Tensor) *Tensor {
	if t.Rank() != 2 {
		panic(&ShapeError{Op: "logsoftmax", Shapes: [][]int{t.shape}})
	}
	out := New(t.shape...)
	for i := 0; i < t.Dim(0); i++ {
		src, dst := t.Row(i), out.Row(i)
		max := floats.Max(src)
		sum := 0.0
		for j, v := range src {
			dst[j] = v - max
			sum += math.Exp(dst[j])
		}
		lse := math.Log(sum)
		for j := range dst {
			dst[j] -= lse
		}
	}
	return out
}

// LogSoftmaxRowsBackward propagates a gradient through LogSoftmaxRows.
// logProbs must be the forward output.
func LogSoftmaxRowsBackward(logProbs, grad *Tensor) *Tensor {
	if logProbs.Rank() != 2 || grad.Rank() != 2 {
		panic(&ShapeError{Op: "logsoftmax backward", Shapes: [][]int{logProbs.shape, grad.shape}})
	}
	out := New(logProbs.shape...)
	for i := 0; i < logProbs.Dim(0); i++ {
		lp, g, dst := logProbs.Row(i), grad.Row(i), out.Row(i)
		gsum := floats.Sum(g)
		for j := range dst {
			dst[j] = g[j] - math.Exp(lp[j])*gsum
		}
	}
	return out
}

// NormalizeRows scales every row of a rank-2 tensor to unit L2 norm in
// place and returns the original norms. Zero rows are left untouched and
// report a norm of 1 so the backward pass stays finite.
func (t *Tensor) NormalizeRows() []float64 {
	if t.Rank() != 2 {
		panic(&ShapeError{Op: "normalize", Shapes: [][]int{t.shape}})
	}
	norms := make([]float64, t.Dim(0))
	for i := range norms {
		row := t.Row(i)
		n := floats.Norm(row, 2)
		if n == 0 {
			norms[i] = 1
			continue
		}
		norms[i] = n
		floats.Scale(1/n, row)
	}
	return norms
}

// GradNorm returns the global L2 norm over the gradient buffers of
// params.
func GradNorm(params []*Tensor) float64 {
	sum := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			sum += g * g
		}
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales all gradients so their global norm does not
// exceed maxNorm.
func ClipGradNorm(params []*Tensor, maxNorm float64) {
	norm := GradNorm(params)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		floats.Scale(scale, p.Grad)
	}
}
