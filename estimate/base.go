// Package estimate holds the resolved-step result type the capability
// interface hands back to callers: a state vector paired with its
// covariance factor.
package estimate

import (
	"github.com/milosgajdos/ultimatekalman/matrix"
	"gonum.org/v1/gonum/mat"
)

// Base is a step's resolved state estimate and covariance factor.
type Base struct {
	state *mat.VecDense
	cov   matrix.Factor
}

// NewBase pairs state with its covariance factor cov.
func NewBase(state *mat.VecDense, cov matrix.Factor) *Base {
	return &Base{state: state, cov: cov}
}

// State returns the state estimate.
func (b *Base) State() *mat.VecDense { return b.state }

// Covariance returns the covariance factor.
func (b *Base) Covariance() matrix.Factor { return b.cov }
