package matrix

import "gonum.org/v1/gonum/mat"

// Tag identifies the representation a covariance Factor's matrix is
// stored in. The tag travels with the matrix through every operation;
// it never silently changes meaning.
type Tag byte

const (
	// TagC is the explicit covariance matrix.
	TagC Tag = 'C'
	// TagW is a whitening factor: left-multiplying by K whitens.
	TagW Tag = 'W'
	// TagU is an upper-triangular Cholesky-like factor; whitening is
	// by triangular solve.
	TagU Tag = 'U'
	// TagF is an alias of TagU kept for parity with the reference
	// implementation's factor tags.
	TagF Tag = 'F'
	// Tagw is a diagonal whitening factor stored as a column vector.
	Tagw Tag = 'w'
)

// Factor is a covariance factor: a matrix paired with the tag that
// says how to interpret it.
type Factor struct {
	K   mat.Matrix
	Tag Tag
}

// Empty reports whether f carries no matrix, i.e. "no noise supplied".
func (f Factor) Empty() bool {
	r, c := Dims(f.K)
	return r == 0 || c == 0
}

// Weigh produces W*a, the whitened form of a, with semantics
// depending on f.Tag:
//
//	TagW      -> K * a                    (dense multiply)
//	TagU/TagF -> solve K*x = a             (K upper-triangular)
//	Tagw      -> row-scale a by K          (K a column vector)
//	TagC      -> factor K = U^T*U (upper Cholesky), then solve U^T*x = a
func (f Factor) Weigh(a mat.Matrix) *mat.Dense {
	if f.Empty() || a == nil {
		return Copy(a)
	}
	switch f.Tag {
	case TagW:
		out := &mat.Dense{}
		out.Mul(f.K, a)
		return out
	case TagU, TagF:
		return TriSolve(f.K, a)
	case Tagw:
		return scaleRows(f.K, a)
	case TagC:
		u := choleskyUpper(f.K)
		n, _ := Dims(u)
		_, ac := Dims(a)
		out := mat.NewDense(n, ac, nil)
		if err := triFromUpper(u, n).SolveTo(out, true, a); err != nil {
			nanFill(out)
		}
		return out
	default:
		panic("matrix: unknown covariance tag")
	}
}

// Explicit returns the explicit covariance matrix C that f's whitening
// operation is defined with respect to: the matrix such that Weigh(a)
// whitens a drawn from N(0, C). For TagW, Weigh multiplies by K, so
// C is the Gramian inverse (K^T K)^-1 -- the sequential engine's
// R-factors share this convention. For TagU/TagF, Weigh solves K*x = a
// instead, so C is K*K^T, the Cholesky-style product (the associative
// engine's inputs share this convention). For Tagw, C is diag(1/k_i^2).
// For TagC, C is K itself.
func (f Factor) Explicit() *mat.Dense {
	if f.Empty() {
		return Copy(f.K)
	}
	switch f.Tag {
	case TagC:
		return Copy(f.K)
	case TagW:
		gram := &mat.Dense{}
		gram.Mul(f.K.T(), f.K)
		return Inverse(gram)
	case TagU, TagF:
		out := &mat.Dense{}
		out.Mul(f.K, f.K.T())
		return out
	case Tagw:
		n, _ := Dims(f.K)
		out := Zeros(n, n)
		for i := 0; i < n; i++ {
			k := f.K.At(i, 0)
			out.Set(i, i, 1/(k*k))
		}
		return out
	default:
		panic("matrix: unknown covariance tag")
	}
}

// FactorFromSym wraps a symmetric covariance matrix as a TagC factor.
func FactorFromSym(cov mat.Symmetric) Factor {
	return Factor{K: cov, Tag: TagC}
}

func scaleRows(k mat.Matrix, a mat.Matrix) *mat.Dense {
	ar, ac := Dims(a)
	out := mat.NewDense(ar, ac, nil)
	for i := 0; i < ar; i++ {
		s := k.At(i, 0)
		for j := 0; j < ac; j++ {
			out.Set(i, j, a.At(i, j)*s)
		}
	}
	return out
}

// choleskyUpper returns the upper Cholesky factor U of the symmetric
// positive (semi-)definite matrix cov, such that U^T*U == cov. A
// non-PD input yields a NaN-filled factor rather than an error.
func choleskyUpper(cov mat.Matrix) *mat.Dense {
	n, _ := Dims(cov)
	sym, err := ToSymDense(Copy(cov))
	if err != nil {
		out := Zeros(n, n)
		nanFill(out)
		return out
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		out := Zeros(n, n)
		nanFill(out)
		return out
	}
	var u mat.TriDense
	chol.UTo(&u)
	return Copy(&u)
}
