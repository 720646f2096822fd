// Package matrix wraps the dense linear-algebra primitives the
// sequential and associative Kalman engines are built on: allocation,
// vertical concatenation, triu masking, in-place QR with Q^T
// application, triangular solves and inverses. Every function that
// returns a matrix allocates a fresh one; the caller owns it.
package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

var nan = math.NaN()

// formatExcerpt caps how many leading/trailing rows and columns Format
// prints before eliding the middle with "...": the stacked block
// systems the sequential engine folds can grow arbitrarily tall, and
// an unbounded printout of Rbar would swamp the CLI driver's log.
const formatExcerpt = 8

// Format renders m as a bracket-squeezed matrix or vector, suited to
// logging the short state and observation vectors the CLI driver
// prints per step as well as the potentially tall Rbar/rbar factors
// the sequential engine carries internally.
func Format(m mat.Matrix) fmt.Formatter {
	return mat.Formatted(m, mat.Prefix(""), mat.Squeeze(), mat.Excerpt(formatExcerpt))
}

// Zeros allocates a fresh r x c matrix of zeros.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Identity allocates a fresh n x n identity matrix.
func Identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// isNilMatrix reports whether m is nil, either as a bare interface value
// or as one of the concrete pointer types the sequential engine's step
// fields (rbar, ybar, ...) are declared with -- a zero-valued *mat.Dense
// field passed straight through as a mat.Matrix argument is a non-nil
// interface wrapping a nil pointer, which m == nil does not catch.
func isNilMatrix(m mat.Matrix) bool {
	switch v := m.(type) {
	case nil:
		return true
	case *mat.Dense:
		return v == nil
	case *mat.VecDense:
		return v == nil
	case *mat.SymDense:
		return v == nil
	case *mat.TriDense:
		return v == nil
	default:
		return false
	}
}

// Copy returns a freshly allocated copy of m. A nil m yields a nil copy,
// which keeps step-equation bookkeeping free of nil checks at call sites.
func Copy(m mat.Matrix) *mat.Dense {
	if isNilMatrix(m) {
		return nil
	}
	cp := &mat.Dense{}
	cp.CloneFrom(m)
	return cp
}

// Dims returns (0, 0) for a nil matrix instead of panicking.
func Dims(m mat.Matrix) (r, c int) {
	if isNilMatrix(m) {
		return 0, 0
	}
	return m.Dims()
}

// VCat vertically concatenates a over b and returns a freshly allocated
// result. Either argument may be nil or zero-row, in which case the
// other is returned (copied). a and b must share the same column count
// when both are non-empty.
func VCat(a, b mat.Matrix) *mat.Dense {
	ar, ac := Dims(a)
	br, bc := Dims(b)
	switch {
	case ar == 0 && br == 0:
		return nil
	case ar == 0:
		return Copy(b)
	case br == 0:
		return Copy(a)
	}
	if ac != bc {
		panic(fmt.Sprintf("matrix: VCat column mismatch %d != %d", ac, bc))
	}

	out := mat.NewDense(ar+br, ac, nil)
	out.Slice(0, ar, 0, ac).(*mat.Dense).Copy(a)
	out.Slice(ar, ar+br, 0, ac).(*mat.Dense).Copy(b)
	return out
}

// Chop returns the rows x cols leading submatrix of m as a freshly
// allocated copy, discarding trailing rows and columns.
func Chop(m mat.Matrix, rows, cols int) *mat.Dense {
	mr, mc := Dims(m)
	if rows > mr || cols > mc {
		panic(fmt.Sprintf("matrix: Chop out of range: want %dx%d, have %dx%d", rows, cols, mr, mc))
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}

// Triu returns a copy of m with every entry strictly below the main
// diagonal masked to zero.
func Triu(m mat.Matrix) *mat.Dense {
	out := Copy(m)
	TriuInPlace(out)
	return out
}

// TriuInPlace masks every entry of m strictly below the main diagonal
// to zero, in place.
func TriuInPlace(m *mat.Dense) {
	r, c := m.Dims()
	for i := 1; i < r; i++ {
		for j := 0; j < c && j < i; j++ {
			m.Set(i, j, 0)
		}
	}
}

// IsUpperTriangular reports whether every entry of m strictly below the
// main diagonal is zero to within tol.
func IsUpperTriangular(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	for i := 1; i < r; i++ {
		for j := 0; j < c && j < i; j++ {
			if v := m.At(i, j); v < -tol || v > tol {
				return false
			}
		}
	}
	return true
}

// QR holds the QR factorization of an "A" block; ApplyQT carries Q^T
// over to the auxiliary "B" and "y" blocks, mirroring the
// Paige-Saunders step: factor A, then carry B and y along for the ride.
type QR struct {
	decomp *mat.QR
	rows   int
	cols   int
}

// Factorize computes the QR factorization of a (rows >= cols required,
// which always holds for the stacked Paige-Saunders blocks). It is
// unconditionally defined, even for rank-deficient a.
func Factorize(a mat.Matrix) *QR {
	r, c := a.Dims()
	decomp := &mat.QR{}
	decomp.Factorize(a)
	return &QR{decomp: decomp, rows: r, cols: c}
}

// RTo returns the rows x cols upper-trapezoidal R factor.
func (q *QR) RTo() *mat.Dense {
	r := &mat.Dense{}
	q.decomp.RTo(r)
	return r
}

// ApplyQT applies Q^T to b (b has the same row count as the factorized
// matrix) and returns the freshly allocated result. A nil b returns nil.
func (q *QR) ApplyQT(b mat.Matrix) *mat.Dense {
	if isNilMatrix(b) {
		return nil
	}
	br, bc := Dims(b)
	if br != q.rows {
		panic(fmt.Sprintf("matrix: ApplyQT row mismatch %d != %d", br, q.rows))
	}
	qFull := &mat.Dense{}
	q.decomp.QTo(qFull)
	res := mat.NewDense(br, bc, nil)
	res.Mul(qFull.T(), b)
	return res
}

// TriSolve solves the upper-triangular system r*x = y and returns x.
// r must be square and upper-triangular (its strict lower part, if
// non-zero, is ignored). Rank-deficient r propagates NaNs rather than
// erroring, per the "underdetermined step" error-handling design.
func TriSolve(r mat.Matrix, y mat.Matrix) *mat.Dense {
	n, _ := Dims(r)
	yr, yc := Dims(y)
	if n == 0 || yr == 0 {
		return mat.NewDense(n, yc, nil)
	}
	tri := triFromUpper(r, n)
	out := mat.NewDense(n, yc, nil)
	if err := tri.SolveTo(out, false, y); err != nil {
		nanFill(out)
	}
	return out
}

// LeftDivide solves the (possibly rectangular, possibly rank-deficient)
// least-squares system a*x = b with gonum's Dense.Solve (LU for square
// a, QR or LQ otherwise) and returns x. Singular or
// rank-deficient a yields a NaN-filled result rather than an error.
func LeftDivide(a, b mat.Matrix) *mat.Dense {
	ar, ac := Dims(a)
	out := mat.NewDense(ac, colsOf(b), nil)
	if ar == 0 || ac == 0 {
		nanFill(out)
		return out
	}
	if err := out.Solve(a, b); err != nil {
		nanFill(out)
	}
	return out
}

// Inverse returns the inverse of the square matrix m. A singular m
// yields a NaN-filled result.
func Inverse(m mat.Matrix) *mat.Dense {
	n, _ := Dims(m)
	out := mat.NewDense(n, n, nil)
	if err := out.Inverse(m); err != nil {
		nanFill(out)
	}
	return out
}

// MulAdd computes dst + alpha*(a*b) and returns the freshly allocated
// result; it is the kernel's GEMM/AXPY-style mutate-multiply-accumulate
// primitive. A nil dst is treated as zero.
func MulAdd(dst, a, b mat.Matrix, alpha float64) *mat.Dense {
	prod := &mat.Dense{}
	prod.Mul(a, b)
	prod.Scale(alpha, prod)
	if isNilMatrix(dst) {
		return prod
	}
	out := &mat.Dense{}
	out.Add(dst, prod)
	return out
}

// symmetryAbsTol and symmetryRelTol bound how far m may drift from its
// own transpose and still be accepted by ToSymDense -- covariance
// factors recovered via Factor.Explicit() pick up floating-point drift
// across many folded Paige-Saunders steps, so an exact equality check
// would reject numerically-fine results.
const (
	symmetryAbsTol = 1e-6
	symmetryRelTol = 1e-2
)

// ToSymDense converts m into a SymDense, verifying it is symmetric to
// within symmetryAbsTol/symmetryRelTol.
func ToSymDense(m *mat.Dense) (*mat.SymDense, error) {
	r, c := Dims(m)
	if r != c {
		return nil, fmt.Errorf("matrix: ToSymDense: %dx%d matrix is not square", r, c)
	}

	mT := m.T()
	vals := make([]float64, r*c)
	idx := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if i != j && !scalar.EqualWithinAbsOrRel(mT.At(i, j), m.At(i, j), symmetryAbsTol, symmetryRelTol) {
				return nil, fmt.Errorf("matrix: ToSymDense: entry (%d,%d) breaks symmetry: %.6f != %.6f", i, j, mT.At(i, j), m.At(i, j))
			}
			vals[idx] = m.At(i, j)
			idx++
		}
	}

	return mat.NewSymDense(r, vals), nil
}

func colsOf(m mat.Matrix) int {
	if isNilMatrix(m) {
		return 0
	}
	_, c := m.Dims()
	return c
}

func nanFill(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, nan)
		}
	}
}

func triFromUpper(r mat.Matrix, n int) *mat.TriDense {
	tri := mat.NewTriDense(n, mat.Upper, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			tri.SetTri(i, j, r.At(i, j))
		}
	}
	return tri
}
