package sequential

import (
	"fmt"

	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/stepbuf"
	"gonum.org/v1/gonum/mat"
)

// convStep is a Conventional step's raw, un-reduced equations: unlike
// the Paige-Saunders step, nothing here is folded into a running
// factor as steps arrive. solveAll re-stacks everything from scratch.
type convStep struct {
	n int

	H, F, c mat.Matrix
	K       matrix.Factor

	G, o mat.Matrix
	Cov  matrix.Factor

	hasEvolve, hasObserve bool

	state      *mat.VecDense
	covariance matrix.Factor
}

// ConventionalEngine is the dense, Rbar-free reference implementation:
// every observe/smooth/rollback call re-solves the entire stacked
// weighted-least-squares system with one QR factorization rather than
// maintaining Paige-Saunders' running R-factor. It exists to give the
// Ultimate recurrence an independent implementation to cross-check
// against (spec's algorithm-agreement invariant), not for performance.
type ConventionalEngine struct {
	log  *stepbuf.Log[*convStep]
	open bool
}

// NewConventional creates an empty Conventional engine.
func NewConventional() *ConventionalEngine {
	return &ConventionalEngine{log: stepbuf.New[*convStep]()}
}

func (e *ConventionalEngine) Earliest() int { return e.log.FirstIndex() }
func (e *ConventionalEngine) Latest() int   { return e.log.LastIndex() }

// Evolve has the same contract as the Paige-Saunders engine's Evolve.
func (e *ConventionalEngine) Evolve(n int, H, F, c mat.Matrix, K matrix.Factor) error {
	if e.open {
		return fmt.Errorf("sequential: evolve called while step %d is still open for observe", e.Latest())
	}
	s := &convStep{n: n}
	if _, hasPrev := e.log.GetLast(); hasPrev {
		if F == nil || c == nil || K.Empty() {
			panic("sequential: evolve on a non-first step requires F, c and K")
		}
		s.H, s.F, s.c, s.K = H, F, c, K
		s.hasEvolve = true
	}
	e.log.Append(s)
	e.open = true
	return nil
}

// Observe has the same contract as the Paige-Saunders engine's Observe.
func (e *ConventionalEngine) Observe(G, o mat.Matrix, C matrix.Factor) error {
	s, ok := e.log.GetLast()
	if !ok || !e.open {
		return fmt.Errorf("sequential: observe called with no open step")
	}
	if G != nil && !C.Empty() {
		s.G, s.o, s.Cov = G, o, C
		s.hasObserve = true
	}
	e.open = false
	return e.solveAll()
}

// Estimate returns a copy of the state estimate for step (the latest
// sealed step if step < 0).
func (e *ConventionalEngine) Estimate(step int) (*mat.VecDense, error) {
	s, err := e.resolve(step)
	if err != nil {
		return nil, err
	}
	out := &mat.VecDense{}
	out.CloneFromVec(s.state)
	return out, nil
}

// Covariance returns a copy of the explicit covariance factor for step.
func (e *ConventionalEngine) Covariance(step int) (matrix.Factor, error) {
	s, err := e.resolve(step)
	if err != nil {
		return matrix.Factor{}, err
	}
	return matrix.Factor{K: matrix.Copy(s.covariance.K), Tag: s.covariance.Tag}, nil
}

func (e *ConventionalEngine) resolve(step int) (*convStep, error) {
	if step < 0 {
		step = e.Latest()
	}
	s, ok := e.log.Get(step)
	if !ok {
		return nil, fmt.Errorf("sequential: step %d out of range [%d, %d]", step, e.Earliest(), e.Latest())
	}
	return s, nil
}

// Smooth re-solves the full stacked system, which already gives every
// step its full-information estimate -- there is no separate forward
// pass to fold in, so Smooth is solveAll plus the idempotence that
// implies.
func (e *ConventionalEngine) Smooth() error { return e.solveAll() }

// Rollback drops every step with logical index > s and re-solves.
func (e *ConventionalEngine) Rollback(s int) error {
	if e.log.Size() == 0 || s < e.Earliest() {
		return nil
	}
	for e.Latest() > s {
		e.log.DropLast()
	}
	if cur, ok := e.log.GetLast(); ok {
		cur.G, cur.o, cur.Cov, cur.hasObserve = nil, nil, matrix.Factor{}, false
	}
	e.open = true
	return e.solveAll()
}

// Forget drops every step with logical index <= s, keeping at least
// the most recent step.
func (e *ConventionalEngine) Forget(s int) error {
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

// solveAll rebuilds the full block system from every logged step and
// solves it in a single QR factorization, then distributes the
// solution and the corresponding diagonal covariance blocks back onto
// each step.
func (e *ConventionalEngine) solveAll() error {
	items := e.log.Slice()
	if len(items) == 0 {
		return nil
	}

	offsets := make([]int, len(items))
	total := 0
	for i, s := range items {
		offsets[i] = total
		total += s.n
	}

	rowCount := 0
	for i, s := range items {
		if i > 0 && s.hasEvolve {
			rowCount += s.n
		}
		if s.hasObserve {
			rowCount += rows(s.o)
		}
	}
	if rowCount < total {
		// Underdetermined: at least one step has neither an evolution
		// link nor an observation pinning it down yet.
		for _, s := range items {
			s.state = nanVec(s.n)
			s.covariance = matrix.Factor{}
		}
		return nil
	}

	A := matrix.Zeros(rowCount, total)
	y := matrix.Zeros(rowCount, 1)

	r := 0
	for i, s := range items {
		if i > 0 && s.hasEvolve {
			H := s.H
			if H == nil {
				H = identityPad(items[i-1].n, s.n)
			}
			whitenedF := s.K.Weigh(s.F)
			whitenedF.Scale(-1, whitenedF)
			whitenedH := s.K.Weigh(H)
			whitenedC := s.K.Weigh(s.c)

			placeBlock(A, r, offsets[i-1], whitenedF)
			placeBlock(A, r, offsets[i], whitenedH)
			placeCol(y, r, whitenedC)
			r += s.n
		}
		if s.hasObserve {
			WG := s.Cov.Weigh(s.G)
			Wo := s.Cov.Weigh(s.o)
			placeBlock(A, r, offsets[i], WG)
			placeCol(y, r, Wo)
			r += rows(s.o)
		}
	}

	qr := matrix.Factorize(A)
	R := qr.RTo()
	yq := qr.ApplyQT(y)

	x := matrix.TriSolve(matrix.Triu(matrix.Chop(R, total, total)), matrix.Chop(yq, total, 1))
	fullCov := matrix.Inverse(mulRtR(matrix.Chop(R, total, total)))

	for i, s := range items {
		off := offsets[i]
		s.state = toVec(matrix.Chop(sliceRows(x, off, off+s.n), s.n, 1))
		s.covariance = matrix.Factor{K: blockDiag(fullCov, off, s.n), Tag: matrix.TagC}
	}
	return nil
}

func placeBlock(dst *mat.Dense, rowOff, colOff int, src mat.Matrix) {
	sr, sc := matrix.Dims(src)
	for i := 0; i < sr; i++ {
		for j := 0; j < sc; j++ {
			dst.Set(rowOff+i, colOff+j, src.At(i, j))
		}
	}
}

func placeCol(dst *mat.Dense, rowOff int, src mat.Matrix) {
	sr, _ := matrix.Dims(src)
	for i := 0; i < sr; i++ {
		dst.Set(rowOff+i, 0, src.At(i, 0))
	}
}

func blockDiag(m mat.Matrix, off, n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, m.At(off+i, off+j))
		}
	}
	return out
}

func mulRtR(r mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.Mul(r.T(), r)
	return out
}
