// Package reference builds spec.md section 6's reference numeric
// scenario: a 16-step planar rotation, so the driver can run all four
// algorithm selectors over identical input and compare their output.
// New replays a fixed, pre-drawn deviate table; the exact table
// shipped with the original MATLAB implementation was not available
// to this port, so the values below are a hardcoded substitute chosen
// once and never resampled, which preserves run-to-run reproducibility
// (the property the driver and its tests actually depend on) without
// claiming bit-parity with the original reference numbers. Random
// builds the same scenario shape from freshly sampled deviates.
package reference

import (
	"fmt"
	"math"
	"time"

	"github.com/milosgajdos/ultimatekalman/matrix"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

const (
	// Steps is the scenario's step count.
	Steps = 16
	// EvolutionStd is the per-axis standard deviation of evolution noise.
	EvolutionStd = 1e-3
	// ObservationStd is the per-axis standard deviation of observation noise.
	ObservationStd = 1e-1
)

// evolDeviates holds Steps-1 fixed (dx, dy) evolution deviates.
var evolDeviates = [Steps - 1][2]float64{
	{0.482, -0.731}, {-0.214, 0.903}, {0.657, 0.128}, {-0.905, -0.348},
	{0.231, 0.786}, {-0.664, 0.092}, {0.815, -0.427}, {-0.137, -0.852},
	{0.609, 0.355}, {-0.721, 0.184}, {0.298, -0.916}, {0.873, 0.071},
	{-0.456, 0.632}, {0.117, -0.589}, {-0.802, 0.244},
}

// obsDeviates holds Steps fixed (dx, dy) observation deviates.
var obsDeviates = [Steps][2]float64{
	{0.274, -0.518}, {-0.833, 0.146}, {0.492, 0.701}, {-0.265, -0.904},
	{0.718, 0.217}, {-0.386, 0.655}, {0.927, -0.143}, {-0.609, -0.472},
	{0.154, 0.836}, {-0.745, 0.329}, {0.481, -0.662}, {0.208, 0.915},
	{-0.937, 0.086}, {0.363, -0.527}, {-0.179, 0.748}, {0.661, -0.294},
}

// Rotation returns the 2x2 rotation matrix for angle theta radians.
func Rotation(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(2, 2, []float64{c, -s, s, c})
}

// Scenario is the fully materialized reference trajectory: the true
// (noise-free) states, the noisy observations, and the evolution/
// observation models every algorithm variant is driven with.
type Scenario struct {
	F   *mat.Dense
	G   *mat.Dense
	K   matrix.Factor
	Cov matrix.Factor

	Truth        []*mat.VecDense
	Observations []*mat.VecDense
}

// New builds the 16-step rotation scenario from the fixed deviate
// tables above.
func New() *Scenario {
	return build(evolDeviates[:], obsDeviates[:])
}

// Random builds the same 16-step rotation scenario, but draws a fresh
// set of evolution and observation deviates on every call instead of
// replaying the fixed tables above. Evolution deviates are drawn one
// step at a time, mirroring how a live filter loop samples process
// noise incrementally as each step arrives; observation deviates are
// drawn as a single correlated batch via an SVD whitening transform,
// mirroring an offline scenario generator that materializes a whole
// trajectory up front. Unlike New, two calls to Random do not produce
// the same trajectory.
func Random() (*Scenario, error) {
	stepDeviates, err := newStepDeviateSource()
	if err != nil {
		return nil, err
	}
	evol := make([][2]float64, Steps-1)
	for i := range evol {
		evol[i] = stepDeviates.next()
	}

	obsSamples, err := sampleCorrelatedDeviates(Steps)
	if err != nil {
		return nil, err
	}
	obs := make([][2]float64, Steps)
	for i := range obs {
		obs[i] = [2]float64{obsSamples.At(0, i), obsSamples.At(1, i)}
	}

	return build(evol, obs), nil
}

// stepDeviateSource draws independent, zero-mean, unit-variance planar
// (dx, dy) deviates one step at a time -- the shape Random's evolution
// loop needs, since a live filter samples process noise as each step
// is folded in rather than all at once.
type stepDeviateSource struct {
	dist *distmv.Normal
}

func newStepDeviateSource() (*stepDeviateSource, error) {
	src := xrand.New(xrand.NewSource(uint64(time.Now().UnixNano())))
	dist, ok := distmv.NewNormal([]float64{0, 0}, unitCov2(), src)
	if !ok {
		return nil, fmt.Errorf("reference: could not build evolution deviate distribution")
	}
	return &stepDeviateSource{dist: dist}, nil
}

func (s *stepDeviateSource) next() [2]float64 {
	r := s.dist.Rand(nil)
	return [2]float64{r[0], r[1]}
}

// sampleCorrelatedDeviates draws n planar (dx, dy) deviates at once as
// columns of a 2 x n matrix, whitened from independent standard normals
// through the SVD of the (here, identity) covariance -- the technique
// generalizes to a correlated observation noise model without changing
// the draw loop, which is the whole point of whitening via SVD instead
// of sampling each axis independently.
func sampleCorrelatedDeviates(n int) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("reference: invalid deviate count %d", n)
	}

	var svd mat.SVD
	if ok := svd.Factorize(unitCov2(), mat.SVDFull); !ok {
		return nil, fmt.Errorf("reference: SVD factorization of observation covariance failed")
	}
	u := &mat.Dense{}
	svd.UTo(u)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	u.Mul(u, mat.NewDiagDense(len(vals), vals))

	raw := make([]float64, 2*n)
	src := xrand.New(xrand.NewSource(uint64(time.Now().UnixNano())))
	for i := range raw {
		raw[i] = src.NormFloat64()
	}
	samples := mat.NewDense(2, n, raw)
	samples.Mul(u, samples)
	return samples, nil
}

func unitCov2() *mat.SymDense {
	return mat.NewSymDense(2, []float64{1, 0, 0, 1})
}

// build assembles the rotation scenario given per-step (dx, dy)
// evolution and observation deviates, scaled by EvolutionStd and
// ObservationStd respectively.
func build(evolDev, obsDev [][2]float64) *Scenario {
	theta := 2 * math.Pi / 16
	F := Rotation(theta)
	G := matrix.Identity(2)
	K := matrix.Factor{K: matrix.Zeros(2, 2), Tag: matrix.TagW}
	K.K.(*mat.Dense).Set(0, 0, 1/EvolutionStd)
	K.K.(*mat.Dense).Set(1, 1, 1/EvolutionStd)
	Cov := matrix.Factor{K: matrix.Zeros(2, 2), Tag: matrix.TagW}
	Cov.K.(*mat.Dense).Set(0, 0, 1/ObservationStd)
	Cov.K.(*mat.Dense).Set(1, 1, 1/ObservationStd)

	truth := make([]*mat.VecDense, Steps)
	obs := make([]*mat.VecDense, Steps)

	truth[0] = mat.NewVecDense(2, []float64{1, 0})
	for i := 1; i < Steps; i++ {
		prev := truth[i-1]
		next := &mat.Dense{}
		next.Mul(F, prev)
		d := evolDev[i-1]
		truth[i] = mat.NewVecDense(2, []float64{
			next.At(0, 0) + d[0]*EvolutionStd,
			next.At(1, 0) + d[1]*EvolutionStd,
		})
	}
	for i := 0; i < Steps; i++ {
		d := obsDev[i]
		obs[i] = mat.NewVecDense(2, []float64{
			truth[i].AtVec(0) + d[0]*ObservationStd,
			truth[i].AtVec(1) + d[1]*ObservationStd,
		})
	}

	return &Scenario{F: F, G: G, K: K, Cov: Cov, Truth: truth, Observations: obs}
}
