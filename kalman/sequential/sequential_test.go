package sequential

import (
	"math"
	"testing"

	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

// identityNoise returns a TagW factor whitening by the identity, i.e.
// "no noise distortion", at dimension n.
func identityNoise(n int) matrix.Factor {
	return matrix.Factor{K: matrix.Identity(n), Tag: matrix.TagW}
}

func TestSingleStepIdentityFilter(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	assert.NoError(e.Evolve(2, nil, nil, nil, matrix.Factor{}))

	o := mat.NewDense(2, 1, []float64{3, 4})
	assert.NoError(e.Observe(matrix.Identity(2), o, identityNoise(2)))

	est, err := e.Estimate(-1)
	assert.NoError(err)
	assert.InDeltaSlice([]float64{3, 4}, est.RawVector().Data, 1e-9)

	cov, err := e.Covariance(-1)
	assert.NoError(err)
	assert.False(cov.Empty())
	assert.True(matrix.IsUpperTriangular(cov.K, 1e-9))
}

func TestEvolveWithoutObserveOpensStep(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	assert.NoError(e.Evolve(2, nil, nil, nil, matrix.Factor{}))
	err := e.Evolve(2, nil, matrix.Identity(2), matrix.Zeros(2, 1), identityNoise(2))
	assert.Error(err)
}

func TestRotationPredictionOnly(t *testing.T) {
	assert := assert.New(t)

	theta := 2 * math.Pi / 16
	F := mat.NewDense(2, 2, []float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	})
	c := matrix.Zeros(2, 1)

	e := New(Config{})
	assert.NoError(e.Evolve(2, nil, nil, nil, matrix.Factor{}))
	assert.NoError(e.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 0}), identityNoise(2)))

	for i := 0; i < 15; i++ {
		assert.NoError(e.Evolve(2, nil, F, c, identityNoise(2)))
		assert.NoError(e.Observe(nil, nil, matrix.Factor{}))
	}

	est, err := e.Estimate(-1)
	assert.NoError(err)
	// Steps 1..15 each rotate by 2*pi/16, so step 15 sits at F^15*(1, 0).
	assert.InDeltaSlice([]float64{math.Cos(15 * theta), math.Sin(15 * theta)}, est.RawVector().Data, 1e-6)
}

func TestRotationWithObservations(t *testing.T) {
	assert := assert.New(t)

	theta := 2 * math.Pi / 16
	F := mat.NewDense(2, 2, []float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	})
	c := matrix.Zeros(2, 1)

	e := New(Config{})
	assert.NoError(e.Evolve(2, nil, nil, nil, matrix.Factor{}))
	assert.NoError(e.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 0}), identityNoise(2)))

	for i := 0; i < 8; i++ {
		assert.NoError(e.Evolve(2, nil, F, c, identityNoise(2)))
		theta2 := theta * float64(i+1)
		obs := mat.NewDense(2, 1, []float64{math.Cos(theta2), math.Sin(theta2)})
		assert.NoError(e.Observe(matrix.Identity(2), obs, identityNoise(2)))
	}

	est, err := e.Estimate(-1)
	assert.NoError(err)
	theta8 := theta * 8
	assert.InDeltaSlice([]float64{math.Cos(theta8), math.Sin(theta8)}, est.RawVector().Data, 1e-6)
}

func TestRollbackReproducesPostObserveState(t *testing.T) {
	assert := assert.New(t)

	theta := 2 * math.Pi / 16
	F := mat.NewDense(2, 2, []float64{
		math.Cos(theta), -math.Sin(theta),
		math.Sin(theta), math.Cos(theta),
	})
	c := matrix.Zeros(2, 1)

	build := func() *Engine {
		e := New(Config{})
		e.Evolve(2, nil, nil, nil, matrix.Factor{})
		e.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 0}), identityNoise(2))
		for i := 0; i < 4; i++ {
			e.Evolve(2, nil, F, c, identityNoise(2))
			obs := mat.NewDense(2, 1, []float64{1, 0})
			e.Observe(matrix.Identity(2), obs, identityNoise(2))
		}
		return e
	}

	reference := build()
	wantState, err := reference.Estimate(-1)
	assert.NoError(err)
	wantCov, err := reference.Covariance(-1)
	assert.NoError(err)

	rolledBack := build()
	assert.NoError(rolledBack.Rollback(4))
	// redo the final step's observe exactly as it ran the first time
	assert.NoError(rolledBack.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 0}), identityNoise(2)))

	gotState, err := rolledBack.Estimate(-1)
	assert.NoError(err)
	gotCov, err := rolledBack.Covariance(-1)
	assert.NoError(err)

	assert.InDeltaSlice(wantState.RawVector().Data, gotState.RawVector().Data, 1e-9)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(wantCov.K.At(i, j), gotCov.K.At(i, j), 1e-9)
		}
	}
}

func TestRollbackDropsLaterSteps(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	e.Evolve(1, nil, nil, nil, matrix.Factor{})
	e.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{1}), identityNoise(1))
	for i := 0; i < 3; i++ {
		e.Evolve(1, nil, matrix.Identity(1), matrix.Zeros(1, 1), identityNoise(1))
		e.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{1}), identityNoise(1))
	}
	assert.Equal(3, e.Latest())

	assert.NoError(e.Rollback(1))
	assert.Equal(1, e.Latest())
}

func TestSmoothIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	e.Evolve(2, nil, nil, nil, matrix.Factor{})
	e.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 2}), identityNoise(2))
	for i := 0; i < 3; i++ {
		e.Evolve(2, nil, matrix.Identity(2), matrix.Zeros(2, 1), identityNoise(2))
		e.Observe(matrix.Identity(2), mat.NewDense(2, 1, []float64{1, 2}), identityNoise(2))
	}

	assert.NoError(e.Smooth())
	first, err := e.Estimate(0)
	assert.NoError(err)

	assert.NoError(e.Smooth())
	second, err := e.Estimate(0)
	assert.NoError(err)

	assert.InDeltaSlice(first.RawVector().Data, second.RawVector().Data, 1e-12)
}

func TestEstimateOutOfRangeErrors(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	e.Evolve(1, nil, nil, nil, matrix.Factor{})
	e.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{1}), identityNoise(1))

	_, err := e.Estimate(5)
	assert.Error(err)
}

func TestForgetKeepsLatestStep(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	e.Evolve(1, nil, nil, nil, matrix.Factor{})
	e.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{1}), identityNoise(1))
	for i := 0; i < 4; i++ {
		e.Evolve(1, nil, matrix.Identity(1), matrix.Zeros(1, 1), identityNoise(1))
		e.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{1}), identityNoise(1))
	}

	assert.NoError(e.Forget(-1))
	assert.Equal(1, e.log.Size())
	assert.Equal(e.Latest(), e.Earliest())
}

func TestUnobservedStepYieldsNaNEstimate(t *testing.T) {
	assert := assert.New(t)

	e := New(Config{})
	e.Evolve(2, nil, nil, nil, matrix.Factor{})
	assert.NoError(e.Observe(nil, nil, matrix.Factor{}))

	est, err := e.Estimate(-1)
	assert.NoError(err)
	for _, v := range est.RawVector().Data {
		assert.True(math.IsNaN(v))
	}
}
