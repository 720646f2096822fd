// Package ultimatekalman is the capability interface over the four
// Kalman filtering/smoothing algorithm variants: Ultimate and OddEven
// (both the Paige-Saunders sequential recurrence), Conventional (a
// dense, Rbar-free re-solve) and Associative (the parallel-scan
// smoother). Ultimate and OddEven work through QR/orthogonal
// transforms only, with no explicit covariance inverse on their hot
// path; Conventional inverts R^T*R to recover covariances, and
// Associative works with explicit covariances and gain-style solves.
package ultimatekalman

import (
	"fmt"

	"github.com/milosgajdos/ultimatekalman/estimate"
	"github.com/milosgajdos/ultimatekalman/kalman/associative"
	"github.com/milosgajdos/ultimatekalman/kalman/sequential"
	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/parallel"
	"github.com/milosgajdos/ultimatekalman/stepbuf"
	"gonum.org/v1/gonum/mat"
)

// Algorithm selects which engine Create builds.
type Algorithm int

const (
	// Ultimate is the Paige-Saunders sequential recurrence, folding
	// steps strictly left to right.
	Ultimate Algorithm = iota
	// Conventional re-solves the full stacked least-squares system
	// from scratch on every observe, smooth and rollback; the reference,
	// unoptimized variant.
	Conventional
	// OddEven names the same Paige-Saunders recurrence under spec.md's
	// odd/even-paired association order selector.
	OddEven
	// Associative is the parallel-scan smoother of Sarkka and
	// Garcia-Fernandez, driven by the parallel runtime's prefix scan.
	Associative
)

func (a Algorithm) String() string {
	switch a {
	case Ultimate:
		return "ultimate"
	case Conventional:
		return "conventional"
	case OddEven:
		return "oddeven"
	case Associative:
		return "associative"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Estimate is a single step's state and covariance, returned as a
// convenience pairing for callers that want both without a second
// lookup.
type Estimate interface {
	State() *mat.VecDense
	Covariance() matrix.Factor
}

// Kalman is the capability set every algorithm variant implements:
// the streaming evolve/observe/estimate/covariance/smooth/rollback/
// forget operations of spec.md's sequential engine. Associative is
// adapted to the same streaming shape even though its underlying
// scan only runs once the trajectory is read back.
type Kalman interface {
	Earliest() int
	Latest() int
	Evolve(n int, H, F, c mat.Matrix, K matrix.Factor) error
	Observe(G, o mat.Matrix, C matrix.Factor) error
	Estimate(step int) (*mat.VecDense, error)
	Covariance(step int) (matrix.Factor, error)
	Smooth() error
	Rollback(step int) error
	Forget(step int) error
}

// Result bundles an Estimate's state and covariance for a resolved
// step, per algo's Estimate/Covariance.
func Result(algo Kalman, step int) (Estimate, error) {
	state, err := algo.Estimate(step)
	if err != nil {
		return nil, err
	}
	cov, err := algo.Covariance(step)
	if err != nil {
		return nil, err
	}
	return estimate.NewBase(state, cov), nil
}

// Create builds a fresh engine implementing algo. cfg tunes the
// parallel runtime Associative drives its prefix scans on; the
// sequential-family algorithms ignore it (they make no use of the
// parallel runtime).
func Create(algo Algorithm, cfg parallel.Config) (Kalman, error) {
	switch algo {
	case Ultimate:
		return sequential.New(sequential.Config{Order: sequential.Sequential}), nil
	case OddEven:
		return sequential.New(sequential.Config{Order: sequential.OddEven}), nil
	case Conventional:
		return sequential.NewConventional(), nil
	case Associative:
		return newAssociativeAdapter(parallel.NewRuntime(cfg)), nil
	default:
		return nil, fmt.Errorf("ultimatekalman: unknown algorithm %v", algo)
	}
}

// associativeStep is the evolve/observe pair the adapter buffers for
// one logical step before it has an equation the associative engine
// can consume.
type associativeStep struct {
	eq   associative.StepEq
	open bool
}

// associativeAdapter presents the batch associative engine through
// the streaming Kalman interface: evolve/observe append a step
// equation to a log, and estimate/covariance/smooth lazily re-run the
// two prefix scans over the whole buffered trajectory whenever it has
// changed since the last run.
type associativeAdapter struct {
	rt      *parallel.Runtime
	log     *stepbuf.Log[*associativeStep]
	results []associative.Result
	dirty   bool
	open    bool
}

func newAssociativeAdapter(rt *parallel.Runtime) *associativeAdapter {
	return &associativeAdapter{rt: rt, log: stepbuf.New[*associativeStep]()}
}

func (a *associativeAdapter) Earliest() int { return a.log.FirstIndex() }
func (a *associativeAdapter) Latest() int   { return a.log.LastIndex() }

func (a *associativeAdapter) Evolve(n int, H, F, c mat.Matrix, K matrix.Factor) error {
	if a.open {
		return fmt.Errorf("associative: evolve called while step %d is still open for observe", a.Latest())
	}
	s := &associativeStep{eq: associative.StepEq{N: n, F: F, C: c, K: K}}
	a.log.Append(s)
	a.open = true
	return nil
}

func (a *associativeAdapter) Observe(G, o mat.Matrix, C matrix.Factor) error {
	s, ok := a.log.GetLast()
	if !ok || !a.open {
		return fmt.Errorf("associative: observe called with no open step")
	}
	if G != nil && !C.Empty() {
		s.eq.G, s.eq.O, s.eq.Cov = G, o, C
	}
	a.open = false
	a.dirty = true
	return nil
}

func (a *associativeAdapter) Smooth() error { return a.ensure() }

func (a *associativeAdapter) Estimate(step int) (*mat.VecDense, error) {
	if err := a.ensure(); err != nil {
		return nil, err
	}
	r, err := a.resolve(step)
	if err != nil {
		return nil, err
	}
	out := &mat.VecDense{}
	out.CloneFromVec(r.State)
	return out, nil
}

func (a *associativeAdapter) Covariance(step int) (matrix.Factor, error) {
	if err := a.ensure(); err != nil {
		return matrix.Factor{}, err
	}
	r, err := a.resolve(step)
	if err != nil {
		return matrix.Factor{}, err
	}
	return matrix.Factor{K: matrix.Copy(r.Covariance), Tag: matrix.TagC}, nil
}

func (a *associativeAdapter) resolve(step int) (associative.Result, error) {
	if step < 0 {
		step = a.Latest()
	}
	pos := step - a.Earliest()
	if pos < 0 || pos >= len(a.results) {
		return associative.Result{}, fmt.Errorf("associative: step %d out of range [%d, %d]", step, a.Earliest(), a.Latest())
	}
	return a.results[pos], nil
}

// Rollback drops every step with logical index > s; the next
// estimate/covariance/smooth call re-runs the scan over what remains.
func (a *associativeAdapter) Rollback(s int) error {
	if a.log.Size() == 0 || s < a.Earliest() {
		return nil
	}
	for a.Latest() > s {
		a.log.DropLast()
	}
	if cur, ok := a.log.GetLast(); ok {
		cur.eq.G, cur.eq.O, cur.eq.Cov = nil, nil, matrix.Factor{}
	}
	a.open = true
	a.dirty = true
	return nil
}

// Forget drops every step with logical index <= s, keeping at least
// the most recent step. The new earliest step must itself carry an
// observation (it becomes the scan's seed); if it does not, the next
// ensure() reports that as an error rather than silently degrading.
func (a *associativeAdapter) Forget(s int) error {
	if a.log.Size() == 0 {
		return nil
	}
	if s < 0 {
		s = a.Latest() - 1
	}
	for a.log.Size() > 1 && a.Earliest() <= s {
		a.log.DropFirst()
	}
	a.dirty = true
	return nil
}

func (a *associativeAdapter) ensure() error {
	if !a.dirty {
		return nil
	}
	items := a.log.Slice()
	if len(items) == 0 {
		a.results = nil
		a.dirty = false
		return nil
	}
	steps := make([]associative.StepEq, len(items))
	for i, s := range items {
		steps[i] = s.eq
	}
	results, err := associative.Run(a.rt, steps)
	if err != nil {
		return err
	}
	a.results = results
	a.dirty = false
	return nil
}
