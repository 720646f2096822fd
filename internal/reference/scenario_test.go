package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewScenarioShape(t *testing.T) {
	assert := assert.New(t)

	s := New()
	assert.Len(s.Truth, Steps)
	assert.Len(s.Observations, Steps)
	assert.Equal(2, s.F.RawMatrix().Rows)
}

func TestNewScenarioIsReproducible(t *testing.T) {
	assert := assert.New(t)

	a := New()
	b := New()
	for i := 0; i < Steps; i++ {
		assert.Equal(a.Truth[i].RawVector().Data, b.Truth[i].RawVector().Data)
		assert.Equal(a.Observations[i].RawVector().Data, b.Observations[i].RawVector().Data)
	}
}

func TestRandomScenarioShape(t *testing.T) {
	assert := assert.New(t)

	s, err := Random()
	assert.NoError(err)
	assert.Len(s.Truth, Steps)
	assert.Len(s.Observations, Steps)
}

func TestRandomScenarioVariesAcrossCalls(t *testing.T) {
	assert := assert.New(t)

	a, err := Random()
	assert.NoError(err)
	b, err := Random()
	assert.NoError(err)

	differs := false
	for i := 0; i < Steps; i++ {
		if a.Observations[i].AtVec(0) != b.Observations[i].AtVec(0) {
			differs = true
			break
		}
	}
	assert.True(differs)
}
