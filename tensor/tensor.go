// Package tensor gives the rest of the module a single dense 2-D float64
// value, stored as its own row-major slice, with the operator set the graph
// and codec packages depend on. gonum's mat computes MatMul and its floats
// package backs the same-shape element-wise kernels.
package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense, row-major 2-D matrix of float64.
type Tensor struct {
	Rows, Cols int
	data       []float64
}

// New allocates a zero-filled Rows x Cols tensor.
func New(rows, cols int) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor: invalid shape (%d, %d)", rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, data: make([]float64, rows*cols)}
}

// FromData copies data (row-major) into a new Rows x Cols tensor.
func FromData(data []float64, rows, cols int) *Tensor {
	t := New(rows, cols)
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: data length %d does not match shape (%d, %d)", len(data), rows, cols))
	}
	copy(t.data, data)
	return t
}

// Ones returns a Rows x Cols tensor filled with 1.
func Ones(rows, cols int) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// Identity returns an n x n identity matrix.
func Identity(n int) *Tensor {
	t := New(n, n)
	for i := 0; i < n; i++ {
		t.data[i*n+i] = 1
	}
	return t
}

// Random fills a Rows x Cols tensor with iid N(0, std) samples drawn from rng.
// rng is supplied by the caller (the owning Graph) so draws stay reproducible
// per spec.md's seedable-RNG requirement.
func Random(rows, cols int, std float64, rng *rand.Rand) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		t.data[i] = rng.NormFloat64() * std
	}
	return t
}

// Data returns the underlying row-major slice. Callers must not retain it
// past a mutating call on t.
func (t *Tensor) Data() []float64 { return t.data }

// Shape returns [Rows, Cols].
func (t *Tensor) Shape() []int { return []int{t.Rows, t.Cols} }

func (t *Tensor) index(r, c int) int {
	if r < 0 || r >= t.Rows || c < 0 || c >= t.Cols {
		panic(fmt.Sprintf("tensor: index (%d,%d) out of bounds for shape (%d,%d)", r, c, t.Rows, t.Cols))
	}
	return r*t.Cols + c
}

// Get returns the element at (row, col).
func (t *Tensor) Get(r, c int) float64 { return t.data[t.index(r, c)] }

// Set assigns the element at (row, col).
func (t *Tensor) Set(r, c int, v float64) { t.data[t.index(r, c)] = v }

// Copy returns an independent deep copy.
func (t *Tensor) Copy() *Tensor {
	out := New(t.Rows, t.Cols)
	copy(out.data, t.data)
	return out
}

func sameShape(a, b *Tensor) bool { return a.Rows == b.Rows && a.Cols == b.Cols }

// binary applies f element-wise, broadcasting either operand the way spec.md's
// "broadcast along an axis" requires: same shape, 1x1 scalar, single row, or
// single column. A smaller a is first expanded to the output shape.
func binary(a, b *Tensor, f func(x, y float64) float64, opName string) *Tensor {
	if !sameShape(a, b) && (a.Rows < b.Rows || a.Cols < b.Cols) && (a.Rows == 1 || a.Cols == 1) {
		a = a.Broadcast(max(a.Rows, b.Rows), max(a.Cols, b.Cols))
	}
	out := New(a.Rows, a.Cols)
	switch {
	case sameShape(a, b):
		for i := range a.data {
			out.data[i] = f(a.data[i], b.data[i])
		}
	case b.Rows == 1 && b.Cols == 1:
		bv := b.data[0]
		for i := range a.data {
			out.data[i] = f(a.data[i], bv)
		}
	case b.Rows == 1 && b.Cols == a.Cols:
		for r := 0; r < a.Rows; r++ {
			for c := 0; c < a.Cols; c++ {
				out.Set(r, c, f(a.Get(r, c), b.Get(0, c)))
			}
		}
	case b.Cols == 1 && b.Rows == a.Rows:
		for r := 0; r < a.Rows; r++ {
			for c := 0; c < a.Cols; c++ {
				out.Set(r, c, f(a.Get(r, c), b.Get(r, 0)))
			}
		}
	default:
		panic(fmt.Sprintf("tensor: shapes (%d,%d) and (%d,%d) are not broadcastable for %s", a.Rows, a.Cols, b.Rows, b.Cols, opName))
	}
	return out
}

// Add returns a + b, broadcasting b as needed.
func (a *Tensor) Add(b *Tensor) *Tensor {
	if sameShape(a, b) {
		out := a.Copy()
		floats.Add(out.data, b.data)
		return out
	}
	return binary(a, b, func(x, y float64) float64 { return x + y }, "add")
}

// Sub returns a - b, broadcasting b as needed.
func (a *Tensor) Sub(b *Tensor) *Tensor {
	if sameShape(a, b) {
		out := a.Copy()
		floats.Sub(out.data, b.data)
		return out
	}
	return binary(a, b, func(x, y float64) float64 { return x - y }, "sub")
}

// Mul returns the Hadamard (element-wise) product a * b.
func (a *Tensor) Mul(b *Tensor) *Tensor {
	if sameShape(a, b) {
		out := a.Copy()
		floats.Mul(out.data, b.data)
		return out
	}
	return binary(a, b, func(x, y float64) float64 { return x * y }, "mul")
}

// Div returns the element-wise quotient a / b.
func (a *Tensor) Div(b *Tensor) *Tensor {
	return binary(a, b, func(x, y float64) float64 { return x / y }, "div")
}

// Pow returns the element-wise power a^b.
func (a *Tensor) Pow(b *Tensor) *Tensor {
	return binary(a, b, math.Pow, "pow")
}

// ElemMin returns the element-wise minimum of a and b.
func (a *Tensor) ElemMin(b *Tensor) *Tensor {
	return binary(a, b, math.Min, "min")
}

// ElemMax returns the element-wise maximum of a and b.
func (a *Tensor) ElemMax(b *Tensor) *Tensor {
	return binary(a, b, math.Max, "max")
}

// Scale multiplies every element by a scalar.
func (t *Tensor) Scale(s float64) *Tensor {
	out := t.Copy()
	floats.Scale(s, out.data)
	return out
}

// AddScalar adds a scalar to every element.
func (t *Tensor) AddScalar(s float64) *Tensor {
	out := t.Copy()
	floats.AddConst(s, out.data)
	return out
}

// Apply returns a new tensor with f applied element-wise.
func (t *Tensor) Apply(f func(float64) float64) *Tensor {
	out := New(t.Rows, t.Cols)
	for i, v := range t.data {
		out.data[i] = f(v)
	}
	return out
}

func (t *Tensor) Neg() *Tensor  { return t.Apply(func(v float64) float64 { return -v }) }
func (t *Tensor) Abs() *Tensor  { return t.Apply(math.Abs) }
func (t *Tensor) Log() *Tensor  { return t.Apply(math.Log) }
func (t *Tensor) Exp() *Tensor  { return t.Apply(math.Exp) }
func (t *Tensor) Sqrt() *Tensor { return t.Apply(math.Sqrt) }
func (t *Tensor) Tanh() *Tensor { return t.Apply(math.Tanh) }
func (t *Tensor) Erf() *Tensor  { return t.Apply(math.Erf) }

func (t *Tensor) dense() *mat.Dense { return mat.NewDense(t.Rows, t.Cols, t.data) }

// MatMul returns the matrix product t . other using gonum's BLAS-backed Mul.
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	if t.Cols != other.Rows {
		panic(fmt.Sprintf("tensor: incompatible shapes for matmul: (%d,%d) and (%d,%d)", t.Rows, t.Cols, other.Rows, other.Cols))
	}
	var c mat.Dense
	c.Mul(t.dense(), other.dense())
	out := New(t.Rows, other.Cols)
	copy(out.data, c.RawMatrix().Data)
	return out
}

// Transpose returns the matrix transpose.
func (t *Tensor) Transpose() *Tensor {
	out := New(t.Cols, t.Rows)
	for r := 0; r < t.Rows; r++ {
		for c := 0; c < t.Cols; c++ {
			out.Set(c, r, t.Get(r, c))
		}
	}
	return out
}

// Reshape returns a copy of t's data under a new shape; the element count
// must match (row-major order is preserved).
func (t *Tensor) Reshape(rows, cols int) *Tensor {
	if rows*cols != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %d elements into (%d,%d)", len(t.data), rows, cols))
	}
	return FromData(t.data, rows, cols)
}

// View returns the rectangular sub-block [rowStart:rowEnd, colStart:colEnd).
func (t *Tensor) View(rowStart, rowEnd, colStart, colEnd int) *Tensor {
	if rowStart < 0 || rowEnd > t.Rows || colStart < 0 || colEnd > t.Cols || rowStart >= rowEnd || colStart >= colEnd {
		panic(fmt.Sprintf("tensor: invalid view [%d:%d, %d:%d) of shape (%d,%d)", rowStart, rowEnd, colStart, colEnd, t.Rows, t.Cols))
	}
	out := New(rowEnd-rowStart, colEnd-colStart)
	for r := rowStart; r < rowEnd; r++ {
		for c := colStart; c < colEnd; c++ {
			out.Set(r-rowStart, c-colStart, t.Get(r, c))
		}
	}
	return out
}

// SetView writes src into the rectangular sub-block starting at
// (rowStart, colStart), mutating t in place.
func (t *Tensor) SetView(rowStart, colStart int, src *Tensor) {
	if rowStart+src.Rows > t.Rows || colStart+src.Cols > t.Cols || rowStart < 0 || colStart < 0 {
		panic(fmt.Sprintf("tensor: view of shape (%d,%d) at (%d,%d) does not fit in (%d,%d)", src.Rows, src.Cols, rowStart, colStart, t.Rows, t.Cols))
	}
	for r := 0; r < src.Rows; r++ {
		for c := 0; c < src.Cols; c++ {
			t.Set(rowStart+r, colStart+c, src.Get(r, c))
		}
	}
}

// ScaleInPlace multiplies every element by s, mutating t instead of
// allocating. Used by optimizers to update an accumulator tensor
// without replacing it, so the accumulator's identity (and its
// backing array) survives for the life of training.
func (t *Tensor) ScaleInPlace(s float64) {
	floats.Scale(s, t.data)
}

// AddScaledInPlace adds alpha*b element-wise into t, mutating t.
// Shapes must match exactly; unlike Add, it does not broadcast.
func (t *Tensor) AddScaledInPlace(alpha float64, b *Tensor) {
	if !sameShape(t, b) {
		panic(fmt.Sprintf("tensor: shapes (%d,%d) and (%d,%d) do not match for AddScaledInPlace", t.Rows, t.Cols, b.Rows, b.Cols))
	}
	floats.AddScaled(t.data, alpha, b.data)
}

// AddScaledSquareInPlace adds alpha*(b .* b) element-wise into t,
// mutating t. The Adam/RMSProp/Yogi second-moment update in one pass,
// without allocating the intermediate b*b tensor.
func (t *Tensor) AddScaledSquareInPlace(alpha float64, b *Tensor) {
	if !sameShape(t, b) {
		panic(fmt.Sprintf("tensor: shapes (%d,%d) and (%d,%d) do not match for AddScaledSquareInPlace", t.Rows, t.Cols, b.Rows, b.Cols))
	}
	for i, v := range b.data {
		t.data[i] += alpha * v * v
	}
}

// SubInPlace subtracts b element-wise from t, mutating t. Shapes must
// match exactly.
func (t *Tensor) SubInPlace(b *Tensor) {
	if !sameShape(t, b) {
		panic(fmt.Sprintf("tensor: shapes (%d,%d) and (%d,%d) do not match for SubInPlace", t.Rows, t.Cols, b.Rows, b.Cols))
	}
	floats.Sub(t.data, b.data)
}

// JoinHorizontal concatenates tensors with equal row counts along columns.
func JoinHorizontal(parts ...*Tensor) *Tensor {
	if len(parts) == 0 {
		panic("tensor: JoinHorizontal requires at least one part")
	}
	rows := parts[0].Rows
	cols := 0
	for _, p := range parts {
		if p.Rows != rows {
			panic("tensor: JoinHorizontal requires equal row counts")
		}
		cols += p.Cols
	}
	out := New(rows, cols)
	colOff := 0
	for _, p := range parts {
		out.SetView(0, colOff, p)
		colOff += p.Cols
	}
	return out
}

// Broadcast expands a 1xCols or Rowsx1 tensor to the target shape.
func (t *Tensor) Broadcast(rows, cols int) *Tensor {
	if t.Rows == rows && t.Cols == cols {
		return t.Copy()
	}
	out := New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			srcR, srcC := r, c
			if t.Rows == 1 {
				srcR = 0
			}
			if t.Cols == 1 {
				srcC = 0
			}
			out.Set(r, c, t.Get(srcR, srcC))
		}
	}
	return out
}

// Sum reduces all elements to a 1x1 tensor.
func (t *Tensor) Sum() *Tensor { return FromData([]float64{floats.Sum(t.data)}, 1, 1) }

// Mean reduces all elements to a 1x1 tensor.
func (t *Tensor) Mean() *Tensor {
	return FromData([]float64{floats.Sum(t.data) / float64(len(t.data))}, 1, 1)
}

// SumRows sums over axis 0, producing a 1 x Cols tensor. Used internally by
// bias-gradient pullbacks (e.g. Linear's db = column-sum of g).
func (t *Tensor) SumRows() *Tensor {
	out := New(1, t.Cols)
	for r := 0; r < t.Rows; r++ {
		for c := 0; c < t.Cols; c++ {
			out.data[c] += t.Get(r, c)
		}
	}
	return out
}

// SumCols sums over axis 1, producing a Rows x 1 tensor.
func (t *Tensor) SumCols() *Tensor {
	out := New(t.Rows, 1)
	for r := 0; r < t.Rows; r++ {
		out.data[r] = floats.Sum(t.data[r*t.Cols : (r+1)*t.Cols])
	}
	return out
}

// RowApply returns a new tensor with f applied to each row independently.
// f must return a row of the same width.
func (t *Tensor) RowApply(f func(row *Tensor) *Tensor) *Tensor {
	rows := make([]*Tensor, t.Rows)
	for r := 0; r < t.Rows; r++ {
		rows[r] = f(t.View(r, r+1, 0, t.Cols))
	}
	return JoinVertical(rows...)
}

// JoinVertical stacks tensors with equal column counts along rows.
func JoinVertical(parts ...*Tensor) *Tensor {
	if len(parts) == 0 {
		panic("tensor: JoinVertical requires at least one part")
	}
	cols := parts[0].Cols
	rows := 0
	for _, p := range parts {
		if p.Cols != cols {
			panic("tensor: JoinVertical requires equal column counts")
		}
		rows += p.Rows
	}
	out := New(rows, cols)
	rowOff := 0
	for _, p := range parts {
		out.SetView(rowOff, 0, p)
		rowOff += p.Rows
	}
	return out
}

// IsApprox reports whether a and b have the same shape and are
// element-wise equal within tol.
func (a *Tensor) IsApprox(b *Tensor, tol float64) bool {
	if !sameShape(a, b) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

// String renders the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%dx%d)%v", t.Rows, t.Cols, t.data)
}
