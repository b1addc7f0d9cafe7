// Package tensor implements dense float64 tensors with explicit gradient
// storage. There is no recorded computation graph; layers that need
// backpropagation keep their own forward caches and call the backward
// helpers in this package directly.
package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense, row-major tensor. Grad is nil until a gradient is
// first accumulated, so parameter tensors that are never optimized (the
// teacher network) carry no gradient buffer at all.
type Tensor struct {
	shape []int
	Data  []float64
	Grad  []float64
}

// ShapeError reports an operation applied to tensors of incompatible
// shapes. Tensor operations panic with *ShapeError on misuse; callers
// that construct tensors from external input are expected to validate
// dimensions up front.
type ShapeError struct {
	Op     string
	Shapes [][]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("tensor: %s: incompatible shapes %v", e.Op, e.Shapes)
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New returns a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	for _, d := range shape {
		if d <= 0 {
			panic(&ShapeError{Op: "new", Shapes: [][]int{shape}})
		}
	}
	return &Tensor{
		shape: slices.Clone(shape),
		Data:  make([]float64, shapeSize(shape)),
	}
}

// FromSlice wraps data in a tensor of the given shape. The slice is not
// copied.
func FromSlice(data []float64, shape ...int) *Tensor {
	if len(data) != shapeSize(shape) {
		panic(&ShapeError{Op: "fromslice", Shapes: [][]int{{len(data)}, shape}})
	}
	return &Tensor{shape: slices.Clone(shape), Data: data}
}

// Full returns a tensor filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Shape returns the dimensions of t. The caller must not modify the
// returned slice.
func (t *Tensor) Shape() []int { return t.shape }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.shape) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float64 {
	return t.Data[t.offset(idx)]
}

// Set writes the element at the given multi-index.
func (t *Tensor) Set(v float64, idx ...int) {
	t.Data[t.offset(idx)] = v
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(&ShapeError{Op: "index", Shapes: [][]int{t.shape, idx}})
	}
	off := 0
	for i, ix := range idx {
		off = off*t.shape[i] + ix
	}
	return off
}

// Row returns the i-th row of a rank-2 tensor as a slice sharing the
// underlying storage.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic(&ShapeError{Op: "row", Shapes: [][]int{t.shape}})
	}
	c := t.shape[1]
	return t.Data[i*c : (i+1)*c]
}

// Reshape returns a tensor of the given shape sharing storage with t.
// The element count must match.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if shapeSize(shape) != len(t.Data) {
		panic(&ShapeError{Op: "reshape", Shapes: [][]int{t.shape, shape}})
	}
	return &Tensor{shape: slices.Clone(shape), Data: t.Data, Grad: t.Grad}
}

// Clone returns an independent deep copy of the tensor values. Gradients
// are not cloned.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), Data: slices.Clone(t.Data)}
}

// CopyFrom overwrites the values of t with those of src.
func (t *Tensor) CopyFrom(src *Tensor) {
	if !slices.Equal(t.shape, src.shape) {
		panic(&ShapeError{Op: "copy", Shapes: [][]int{t.shape, src.shape}})
	}
	copy(t.Data, src.Data)
}

// EnsureGrad returns the gradient buffer, allocating it on first use.
func (t *Tensor) EnsureGrad() []float64 {
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
	return t.Grad
}

// AccumulateGrad adds g element-wise into the gradient buffer.
func (t *Tensor) AccumulateGrad(g []float64) {
	if len(g) != len(t.Data) {
		panic(&ShapeError{Op: "accumulate", Shapes: [][]int{t.shape, {len(g)}}})
	}
	grad := t.EnsureGrad()
	for i, v := range g {
		grad[i] += v
	}
}

// ZeroGrad clears the gradient buffer if one has been allocated.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// Stack concatenates tensors of identical shape along a new leading axis.
func Stack(ts []*Tensor) *Tensor {
	if len(ts) == 0 {
		panic(&ShapeError{Op: "stack", Shapes: nil})
	}
	for _, t := range ts[1:] {
		if !slices.Equal(t.shape, ts[0].shape) {
			panic(&ShapeError{Op: "stack", Shapes: [][]int{ts[0].shape, t.shape}})
		}
	}
	shape := append([]int{len(ts)}, ts[0].shape...)
	out := New(shape...)
	n := ts[0].Size()
	for i, t := range ts {
		copy(out.Data[i*n:(i+1)*n], t.Data)
	}
	return out
}

// Unstack splits a tensor along its leading axis into views sharing the
// underlying storage.
func (t *Tensor) Unstack() []*Tensor {
	if len(t.shape) < 2 {
		panic(&ShapeError{Op: "unstack", Shapes: [][]int{t.shape}})
	}
	n := shapeSize(t.shape[1:])
	out := make([]*Tensor, t.shape[0])
	for i := range out {
		out[i] = &Tensor{shape: slices.Clone(t.shape[1:]), Data: t.Data[i*n : (i+1)*n]}
	}
	return out
}
