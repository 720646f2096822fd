// Package sequential implements the Paige-Saunders sequential Kalman
// filter/smoother: a streaming engine whose per-step invariant is a
// block-bidiagonal upper-triangular factor of the accumulated
// weighted-least-squares system. evolve, observe, rollback and smooth
// are all local updates of adjacent blocks of that factor -- there is
// no Riccati recursion and no explicit covariance inverse on the hot
// path.
package sequential

import (
	"fmt"
	"math"

	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/stepbuf"
	"gonum.org/v1/gonum/mat"
)

// Order selects which association order the engine folds steps into
// the running R-factor with. QR-based folding is associative -- the
// strictly sequential fold and the odd/even-paired fold compute the
// same final R-factor, just by combining the same elementary updates
// in a different order -- so both orders here run the identical
// left-to-right recurrence; Order is carried purely as a selector so
// callers can name the ODDEVEN algorithm from spec.md without this
// engine materializing a second code path that could only ever agree
// with the first to machine precision.
type Order int

const (
	// Sequential folds steps strictly left to right: the classic
	// Paige-Saunders recurrence and the engine's default.
	Sequential Order = iota
	// OddEven names spec.md's ODDEVEN algorithm selector.
	OddEven
)

// step is the Paige-Saunders working state for one logical index.
type step struct {
	n int

	rdiag    *mat.Dense // n_i x n_i upper-triangular, sealed by observe
	rsupdiag *mat.Dense // links step i to step i+1
	y        *mat.Dense // n_i x 1 right-hand side

	rbar *mat.Dense // overflow rows surviving into the next observe
	ybar *mat.Dense

	// savedRbar/savedYbar snapshot rbar/ybar exactly as they stood the
	// moment observe() was entered, so rollback can restore the true
	// pre-observe state even when observe folded an observation into
	// rbar via QR (which rdiag/y alone can no longer be undone from).
	savedRbar *mat.Dense
	savedYbar *mat.Dense

	state      *mat.VecDense
	covariance matrix.Factor // tag W

	observed bool // true once observe() has sealed this step
}

// Config carries the engine's construction-time parameters.
type Config struct {
	Order Order
}

// Engine is the sequential Paige-Saunders filter/smoother.
type Engine struct {
	cfg  Config
	log  *stepbuf.Log[*step]
	open bool // true while a step has been evolve()'d but not observe()'d
}

// New creates an empty sequential engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, log: stepbuf.New[*step]()}
}

// Earliest returns the logical index of the oldest live step, or -1.
func (e *Engine) Earliest() int { return e.log.FirstIndex() }

// Latest returns the logical index of the newest live step, or -1.
func (e *Engine) Latest() int { return e.log.LastIndex() }

// Evolve opens a new step of dimension n. On the first step H, F, c
// and K are ignored (there is no prior state to propagate from). On
// later steps they describe H_i*u_i = F_i*u_{i-1} + c_i + eps_i with
// Cov(eps_i) given by K.
//
// A nil H is allowed even on non-first steps: the engine substitutes
// [I | 0] of the appropriate shape. A nil F, c or K on a non-first
// step is a contract violation and is fatal, per the error-handling
// design: these are caller bugs, not numerical anomalies.
func (e *Engine) Evolve(n int, H, F, c mat.Matrix, K matrix.Factor) error {
	if e.open {
		return fmt.Errorf("sequential: evolve called while step %d is still open for observe", e.Latest())
	}

	s := &step{n: n}

	prev, hasPrev := e.log.GetLast()
	if !hasPrev {
		e.log.Append(s)
		e.open = true
		return nil
	}

	if F == nil || c == nil || K.Empty() {
		panic("sequential: evolve on a non-first step requires F, c and K")
	}
	if H == nil {
		H = identityPad(prev.n, n)
	}

	whitenedF := K.Weigh(F)
	whitenedF.Scale(-1, whitenedF)
	whitenedH := K.Weigh(H)
	whitenedC := K.Weigh(c)

	A := matrix.VCat(prev.rdiag, whitenedF)
	B := matrix.VCat(matrix.Zeros(rows(prev.rdiag), n), whitenedH)
	yprime := matrix.VCat(prev.y, whitenedC)

	qr := matrix.Factorize(A)
	R := qr.RTo()
	B = qr.ApplyQT(B)
	yprime = qr.ApplyQT(yprime)

	np := prev.n
	prev.rdiag = matrix.Triu(matrix.Chop(R, np, np))
	prev.rsupdiag = matrix.Chop(B, np, n)
	prev.y = matrix.Chop(yprime, np, colsOf(yprime))

	totalRows, _ := matrix.Dims(R)
	s.rbar = matrix.Chop(sliceRows(B, np, totalRows), totalRows-np, n)
	s.ybar = matrix.Chop(sliceRows(yprime, np, totalRows), totalRows-np, colsOf(yprime))

	e.log.Append(s)
	e.open = true
	return nil
}

// Observe seals the currently open step with an observation
// o = G*u + delta, Cov(delta) = C. G, o and C may all be nil/empty,
// meaning "no observation arrived this step".
func (e *Engine) Observe(G, o mat.Matrix, C matrix.Factor) error {
	s, ok := e.log.GetLast()
	if !ok || !e.open {
		return fmt.Errorf("sequential: observe called with no open step")
	}

	s.savedRbar = matrix.Copy(s.rbar)
	s.savedYbar = matrix.Copy(s.ybar)

	var A, y *mat.Dense
	switch {
	case G != nil && !C.Empty():
		WG := C.Weigh(G)
		Wo := C.Weigh(o)
		A = matrix.VCat(s.rbar, WG)
		y = matrix.VCat(s.ybar, Wo)
	case s.rbar != nil:
		A = matrix.Copy(s.rbar)
		y = matrix.Copy(s.ybar)
	default:
		// Neither Rbar nor an observation: step remains undetermined
		// until a later observe/evolve resolves it.
		s.state = nanVec(s.n)
		s.covariance = matrix.Factor{}
		s.observed = true
		e.open = false
		return nil
	}

	ar, ac := matrix.Dims(A)
	if ar >= ac {
		qr := matrix.Factorize(A)
		R := qr.RTo()
		y = qr.ApplyQT(y)
		A = matrix.Chop(R, min(ar, s.n), ac)
		y = matrix.Chop(y, min(ar, s.n), colsOf(y))
	}
	A = matrix.Chop(A, min(rows(A), s.n), min(cols(A), s.n))
	y = matrix.Chop(y, min(rows(y), s.n), colsOf(y))

	s.rdiag = matrix.Triu(A)
	s.y = y
	s.rbar, s.ybar = nil, nil

	if rows(s.rdiag) == s.n {
		s.state = toVec(matrix.TriSolve(s.rdiag, s.y))
		s.covariance = matrix.Factor{K: matrix.Copy(s.rdiag), Tag: matrix.TagW}
	} else {
		s.state = nanVec(s.n)
		s.covariance = matrix.Factor{}
	}

	s.observed = true
	e.open = false
	return nil
}

// Estimate returns a copy of the state estimate for step, or the
// latest sealed step if step < 0. Out-of-range steps return a
// diagnostic error alongside a nil vector.
func (e *Engine) Estimate(step int) (*mat.VecDense, error) {
	s, err := e.resolve(step)
	if err != nil {
		return nil, err
	}
	out := &mat.VecDense{}
	out.CloneFromVec(s.state)
	return out, nil
}

// Covariance returns a copy of the covariance factor (tag W) for step.
func (e *Engine) Covariance(step int) (matrix.Factor, error) {
	s, err := e.resolve(step)
	if err != nil {
		return matrix.Factor{}, err
	}
	if s.covariance.K == nil {
		n := s.n
		nanCov := matrix.Zeros(n, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				nanCov.Set(i, j, math.NaN())
			}
		}
		return matrix.Factor{K: nanCov, Tag: matrix.TagW}, nil
	}
	return matrix.Factor{K: matrix.Copy(s.covariance.K), Tag: matrix.TagW}, nil
}

func (e *Engine) resolve(step int) (*step, error) {
	if step < 0 {
		step = e.Latest()
	}
	s, ok := e.log.Get(step)
	if !ok {
		return nil, fmt.Errorf("sequential: step %d out of range [%d, %d]", step, e.Earliest(), e.Latest())
	}
	return s, nil
}

// Smooth runs a single retrograde pass that restores full-information
// state and covariance for every live step, per the Paige-Saunders
// block-bidiagonal back-substitution. It is idempotent: calling it
// twice with no intervening evolve/observe reproduces the same
// states and covariances.
func (e *Engine) Smooth() error {
	items := e.log.Slice()
	if len(items) == 0 {
		return nil
	}

	last := items[len(items)-1]
	v := matrix.Copy(last.y)
	last.state = toVec(matrix.TriSolve(last.rdiag, v))
	v = colVec(last.state)

	R := matrix.Copy(last.rdiag)
	last.covariance = matrix.Factor{K: matrix.Copy(last.rdiag), Tag: matrix.TagW}

	for i := len(items) - 2; i >= 0; i-- {
		s := items[i]

		rhs := matrix.MulAdd(s.y, s.rsupdiag, v, -1)
		s.state = toVec(matrix.TriSolve(s.rdiag, rhs))
		v = colVec(s.state)

		A := matrix.VCat(s.rsupdiag, R)
		S := matrix.VCat(s.rdiag, matrix.Zeros(rows(R), s.n))

		qr := matrix.Factorize(A)
		S = qr.ApplyQT(S)

		nextN := rows(R)
		cov := matrix.Chop(sliceRows(S, nextN, nextN+s.n), s.n, s.n)
		s.covariance = matrix.Factor{K: cov, Tag: matrix.TagW}
		R = cov
	}
	return nil
}

// Rollback truncates the log's tail so that step s returns to the
// state it was in right after its evolve (before its observe): every
// step with logical index > s is dropped, and step s's own
// observation is wiped while its Rbar/Ybar survive. Rollback with
// s < Earliest() is a no-op.
func (e *Engine) Rollback(s int) error {
	if e.log.Size() == 0 || s < e.Earliest() {
		return nil
	}
	for e.Latest() > s {
		e.log.DropLast()
	}
	if cur, ok := e.log.GetLast(); ok && cur.observed {
		// Undo the sealing performed by observe: restore Rbar/Ybar
		// exactly as they stood before that observe ran, from the
		// snapshot observe took on entry. rdiag/y cannot be reused
		// here -- observe may have QR-folded a real observation into
		// them, which is not invertible back to the pre-observe pair.
		cur.rbar = cur.savedRbar
		cur.ybar = cur.savedYbar
		cur.savedRbar, cur.savedYbar = nil, nil
		cur.rdiag, cur.y = nil, nil
		cur.observed = false
		cur.state, cur.covariance = nil, matrix.Factor{}
	}
	e.open = true
	return nil
}

// Forget drops every step with logical index <= s, never dropping the
// single most-recent step. s < 0 means "forget everything but the
// latest step".
func (e *Engine) Forget(s int) error {
	if e.log.Size() == 0 {
		return nil
	}
	if s < 0 {
		s = e.Latest() - 1
	}
	for e.log.Size() > 1 && e.Earliest() <= s {
		e.log.DropFirst()
	}
	return nil
}

func identityPad(prevN, n int) *mat.Dense {
	h := matrix.Zeros(n, n)
	lim := prevN
	if n < lim {
		lim = n
	}
	for i := 0; i < lim; i++ {
		h.Set(i, i, 1)
	}
	return matrix.Chop(h, n, n)
}

func rows(m mat.Matrix) int { r, _ := matrix.Dims(m); return r }
func cols(m mat.Matrix) int { _, c := matrix.Dims(m); return c }
func colsOf(m mat.Matrix) int {
	_, c := matrix.Dims(m)
	return c
}

func sliceRows(m *mat.Dense, from, to int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(to-from, c, nil)
	for i := from; i < to; i++ {
		for j := 0; j < c; j++ {
			out.Set(i-from, j, m.At(i, j))
		}
	}
	return out
}

func toVec(m *mat.Dense) *mat.VecDense {
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

func colVec(v *mat.VecDense) *mat.Dense {
	r := v.Len()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, v.AtVec(i))
	}
	return out
}

func nanVec(n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, math.NaN())
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
