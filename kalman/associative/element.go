// Package associative implements the parallel-scan Kalman smoother of
// Sarkka and Garcia-Fernandez, "Temporal Parallelization of Bayesian
// Smoothers" (IEEE TAC 66(1), 2021): the whole trajectory is smoothed
// by two associative prefix scans over per-step "elements" instead of
// a sequential recurrence, so the work can run on the parallel
// runtime's prefix_scan primitive.
package associative

import (
	"fmt"

	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/parallel"
	"gonum.org/v1/gonum/mat"
)

// StepEq is one step's equation pair: the evolution H_i*u_i =
// F_i*u_{i-1} + c_i + eps_i (Cov(eps_i) = K), and an optional
// observation o_i = G_i*u_i + delta_i (Cov(delta_i) = Cov). A step
// with no observation this round has a nil G and O and an empty Cov.
type StepEq struct {
	N int

	F mat.Matrix
	C mat.Matrix // evolution constant c_i
	K matrix.Factor

	G   mat.Matrix
	O   mat.Matrix
	Cov matrix.Factor
}

// Result is one step's smoothed state and explicit covariance.
type Result struct {
	State      *mat.VecDense
	Covariance *mat.SymDense
}

// filterElement is the Sarkka/Garcia-Fernandez filtering element: the
// affine-Gaussian summary (A, b, Z) of a step's conditional
// distribution given its predecessor, plus the information-form
// terms (e, J) that combineFilter uses to condition on later steps'
// observations.
type filterElement struct {
	A, b, Z, e, J *mat.Dense
}

// smoothingElement is the corresponding element for the reverse scan.
type smoothingElement struct {
	E, g, L *mat.Dense
}

// Run smooths the whole trajectory steps[0..l) with two prefix scans
// driven by rt, and returns one Result per step.
func Run(rt *parallel.Runtime, steps []StepEq) ([]Result, error) {
	l := len(steps)
	if l == 0 {
		return nil, nil
	}
	if steps[0].G == nil || steps[0].O == nil || steps[0].Cov.Empty() {
		return nil, fmt.Errorf("associative: step 0 must carry an observation to seed the filter")
	}

	m0, P0, err := seed(steps[0])
	if err != nil {
		return nil, err
	}

	filtered := make([]Result, l)
	filtered[0] = Result{State: m0, Covariance: symExplicit(P0)}

	if l == 1 {
		return filtered, nil
	}

	elements := make([]any, l-1)
	rt.ForEachRange(l-1, func(begin, end int) {
		for k := begin; k < end; k++ {
			i := k + 1
			elements[k] = buildFilterElement(i, steps[i], m0, P0)
		}
	})

	scanned := rt.PrefixScan(elements, combineFilter, 1)
	for k := 0; k < l-1; k++ {
		fe := scanned[k].(*filterElement)
		state := toVec(fe.b)
		filtered[k+1] = Result{State: state, Covariance: symExplicit(fe.Z)}
	}

	smoothElems := make([]any, l)
	rt.ForEachRange(l, func(begin, end int) {
		for i := begin; i < end; i++ {
			if i == l-1 {
				smoothElems[i] = &smoothingElement{
					E: matrix.Zeros(steps[i].N, steps[i].N),
					g: colVec(filtered[i].State),
					L: matrix.Copy(filtered[i].Covariance),
				}
				continue
			}
			smoothElems[i] = buildSmoothingElement(filtered[i], steps[i+1])
		}
	})

	scannedS := rt.PrefixScan(smoothElems, combineSmooth, -1)

	results := make([]Result, l)
	results[l-1] = filtered[l-1]
	for i := 0; i < l-1; i++ {
		se := scannedS[i].(*smoothingElement)
		results[i] = Result{State: toVec(se.g), Covariance: symExplicit(se.L)}
	}
	return results, nil
}

// seed computes the initial filtered (m0, P0) directly from step 0's
// observation, per spec: whiten, QR-factor, back-substitute.
func seed(s0 StepEq) (*mat.VecDense, *mat.Dense, error) {
	WG := s0.Cov.Weigh(s0.G)
	Wo := s0.Cov.Weigh(s0.O)

	qr := matrix.Factorize(WG)
	R := qr.RTo()
	Wo = qr.ApplyQT(Wo)

	n := s0.N
	R = matrix.Triu(matrix.Chop(R, n, n))
	Wo = matrix.Chop(Wo, n, 1)

	m0 := toVec(matrix.TriSolve(R, Wo))
	P0 := matrix.Inverse(mulT(R, R))
	return m0, P0, nil
}

// buildFilterElement constructs step i's filtering element per the
// reference algorithm's two branches (observed / unobserved), with
// the step-1 special cases that fold in the seeded (m0, P0).
func buildFilterElement(i int, s StepEq, m0 *mat.VecDense, P0 *mat.Dense) *filterElement {
	n := s.N
	K := s.K.Explicit()
	if i == 1 {
		// K_1 <- K_1 + F_1*P0*F_1^T
		fp := mul(s.F, P0)
		fpft := mul(fp, denseT(s.F))
		K = add(K, fpft)
	}

	if s.G == nil || s.O == nil || s.Cov.Empty() {
		A := matrix.Copy(s.F)
		b := matrix.Copy(s.C)
		if i == 1 {
			A = matrix.Zeros(n, n)
			b = add(colVec(m0), s.C)
		}
		return &filterElement{
			A: A, b: b, Z: K,
			e: matrix.Zeros(n, 1),
			J: matrix.Zeros(n, n),
		}
	}

	S := add(mul(mul(s.G, K), denseT(s.G)), s.Cov.Explicit())
	Kgain := rightDivide(mul(K, denseT(s.G)), S)

	var A, b, Z *mat.Dense
	if i != 1 {
		A = sub(s.F, mul(Kgain, mul(s.G, s.F)))
		innov := sub(s.O, mul(s.G, s.C))
		b = add(s.C, mul(Kgain, innov))
		Z = sub(K, mul(Kgain, mul(s.G, K)))
	} else {
		A = matrix.Zeros(n, n)
		fm0c := add(mul(s.F, colVec(m0)), s.C)
		innov := sub(s.O, mul(s.G, fm0c))
		b = add(fm0c, mul(Kgain, innov))
		Z = sub(K, mul(mul(Kgain, S), denseT(Kgain)))
	}

	innovC := sub(s.O, mul(s.G, s.C))
	GtSinv := rightDivide(denseT(s.G), S)
	e := mul(denseT(s.F), mul(GtSinv, innovC))
	J := mul(denseT(s.F), mul(GtSinv, mul(s.G, s.F)))

	return &filterElement{A: A, b: b, Z: Z, e: e, J: J}
}

// combineFilter implements the filtering combiner from spec section
// 4.6; nil is the scan identity (return the non-nil side unchanged).
func combineFilter(a, b any) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	si := a.(*filterElement)
	sj := b.(*filterElement)

	M := add(matrix.Identity(rows(si.Z)), mul(si.Z, sj.J))
	X := rightDivide(sj.A, M)
	N := add(matrix.Identity(rows(sj.J)), mul(sj.J, si.Z))
	Y := rightDivide(denseT(si.A), N)

	return &filterElement{
		A: mul(X, si.A),
		b: add(mul(X, add(mul(si.Z, sj.e), si.b)), sj.b),
		Z: add(mul(mul(X, si.Z), denseT(sj.A)), sj.Z),
		e: add(mul(Y, sub(sj.e, mul(sj.J, si.b))), si.e),
		J: add(mul(mul(Y, sj.J), si.A), si.J),
	}
}

// buildSmoothingElement constructs step i's smoothing element from its
// own filtered result and the next step's evolution equation.
func buildSmoothingElement(filtered Result, next StepEq) *smoothingElement {
	P := filtered.Covariance
	F := next.F
	Q := next.K.Explicit()
	x := colVec(filtered.State)

	FPFtQ := add(mul(mul(F, matrix.Copy(P)), denseT(F)), Q)
	E := rightDivide(mul(matrix.Copy(P), denseT(F)), FPFtQ)

	g := sub(x, mul(E, add(mul(F, x), next.C)))
	L := sub(matrix.Copy(P), mul(mul(E, F), matrix.Copy(P)))

	return &smoothingElement{E: E, g: g, L: L}
}

// combineSmooth implements the smoothing combiner from spec section
// 4.6; nil is the scan identity.
func combineSmooth(a, b any) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	si := a.(*smoothingElement)
	sj := b.(*smoothingElement)

	return &smoothingElement{
		E: mul(sj.E, si.E),
		g: add(mul(sj.E, si.g), sj.g),
		L: add(mul(mul(sj.E, si.L), denseT(sj.E)), sj.L),
	}
}

func rows(m mat.Matrix) int { r, _ := m.Dims(); return r }

func mul(a, b mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.Mul(a, b)
	return out
}

// mulT returns a^T * b.
func mulT(a, b mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.Mul(a.T(), b)
	return out
}

func denseT(m mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.CloneFrom(m.T())
	return out
}

func add(a, b mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.Add(a, b)
	return out
}

func sub(a, b mat.Matrix) *mat.Dense {
	out := &mat.Dense{}
	out.Sub(a, b)
	return out
}

// rightDivide returns a*inverse(m), computed by solving the
// transposed system m^T*x^T = a^T with matrix.LeftDivide and transposing the result
// back, matching the "mldivide on the transposed problem" approach
// the reference combiner formulas are written against.
func rightDivide(a, m mat.Matrix) *mat.Dense {
	xt := matrix.LeftDivide(m.T(), denseT(a))
	return denseT(xt)
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

// symExplicit copies m's symmetric part into a fresh SymDense; the
// combiner algebra keeps covariances numerically symmetric to machine
// precision, so averaging with the transpose guards only against
// accumulated rounding.
func symExplicit(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			sym.SetSym(i, j, v)
		}
	}
	return sym
}
