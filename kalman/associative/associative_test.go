package associative

import (
	"testing"

	"github.com/milosgajdos/ultimatekalman/kalman/sequential"
	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/parallel"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func identityNoise(n int) matrix.Factor {
	return matrix.Factor{K: matrix.Identity(n), Tag: matrix.TagW}
}

// TestAgreesWithSequentialEngine drives the same scalar trajectory
// through both engines and checks the associative engine's smoothed
// states and explicit covariances against the sequential engine's,
// per the cross-algorithm agreement the reference scenario requires.
func TestAgreesWithSequentialEngine(t *testing.T) {
	assert := assert.New(t)

	obs := []float64{1.0, 1.2, 0.8}

	seq := sequential.New(sequential.Config{})
	assert.NoError(seq.Evolve(1, nil, nil, nil, matrix.Factor{}))
	assert.NoError(seq.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{obs[0]}), identityNoise(1)))
	for i := 1; i < len(obs); i++ {
		assert.NoError(seq.Evolve(1, nil, matrix.Identity(1), matrix.Zeros(1, 1), identityNoise(1)))
		assert.NoError(seq.Observe(matrix.Identity(1), mat.NewDense(1, 1, []float64{obs[i]}), identityNoise(1)))
	}
	assert.NoError(seq.Smooth())

	steps := make([]StepEq, len(obs))
	steps[0] = StepEq{N: 1, G: matrix.Identity(1), O: mat.NewDense(1, 1, []float64{obs[0]}), Cov: identityNoise(1)}
	for i := 1; i < len(obs); i++ {
		steps[i] = StepEq{
			N: 1,
			F: matrix.Identity(1), C: matrix.Zeros(1, 1), K: identityNoise(1),
			G: matrix.Identity(1), O: mat.NewDense(1, 1, []float64{obs[i]}), Cov: identityNoise(1),
		}
	}

	rt := parallel.NewRuntime(parallel.Config{Workers: 2, BlockSize: 1})
	results, err := Run(rt, steps)
	assert.NoError(err)
	assert.Len(results, len(obs))

	for i := range obs {
		wantState, err := seq.Estimate(i)
		assert.NoError(err)
		assert.InDelta(wantState.AtVec(0), results[i].State.AtVec(0), 1e-6)

		wantCov, err := seq.Covariance(i)
		assert.NoError(err)
		wantExplicit := wantCov.Explicit()
		assert.InDelta(wantExplicit.At(0, 0), results[i].Covariance.At(0, 0), 1e-6)
	}
}

func TestRunSingleStep(t *testing.T) {
	assert := assert.New(t)

	steps := []StepEq{
		{N: 2, G: matrix.Identity(2), O: mat.NewDense(2, 1, []float64{1, 2}), Cov: identityNoise(2)},
	}
	rt := parallel.NewRuntime(parallel.Config{})
	results, err := Run(rt, steps)
	assert.NoError(err)
	assert.Len(results, 1)
	assert.InDeltaSlice([]float64{1, 2}, results[0].State.RawVector().Data, 1e-9)
}

func TestRunRequiresSeedObservation(t *testing.T) {
	assert := assert.New(t)

	steps := []StepEq{{N: 1}}
	rt := parallel.NewRuntime(parallel.Config{})
	_, err := Run(rt, steps)
	assert.Error(err)
}
