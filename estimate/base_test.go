package estimate

import (
	"testing"

	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestBaseState(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 1.0})
	cov := matrix.Factor{K: matrix.Identity(2), Tag: matrix.TagW}

	b := NewBase(state, cov)
	assert.NotNil(b)

	for i := 0; i < state.Len(); i++ {
		assert.Equal(state.AtVec(i), b.State().AtVec(i))
	}
}

func TestBaseCovariance(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 2.0})
	cov := matrix.Factor{K: mat.NewDense(2, 2, []float64{1.0, 0, 0, 2.0}), Tag: matrix.TagW}

	b := NewBase(state, cov)
	got := b.Covariance()
	assert.Equal(matrix.TagW, got.Tag)
	assert.Equal(1.0, got.K.At(0, 0))
	assert.Equal(2.0, got.K.At(1, 1))
}
