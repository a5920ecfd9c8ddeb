package wrappers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
)

// seqEnv emits two-channel observations labeled by an increasing step
// counter
type seqEnv struct {
	step int
}

func (s *seqEnv) Reset(relaunch, sampleTrack, render bool) (mat.Vector,
	error) {
	s.step = 0
	return s.obs(), nil
}

func (s *seqEnv) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	s.step++
	return s.obs(), 1.0, false, nil
}

func (s *seqEnv) obs() mat.Vector {
	return mat.NewVecDense(2, []float64{float64(s.step), -float64(s.step)})
}

func (s *seqEnv) SampleAction() mat.Vector {
	return mat.NewVecDense(speedway.ActionDims, nil)
}

func (s *seqEnv) ActionSpec() environment.Spec {
	return vecSpec(speedway.ActionDims, environment.Action)
}

func (s *seqEnv) ObservationSpec() environment.Spec {
	return vecSpec(2, environment.Observation)
}

func (s *seqEnv) TrackName() string  { return "seq" }
func (s *seqEnv) LastSpeed() float64 { return 0 }
func (s *seqEnv) RacePosition() int  { return 1 }
func (s *seqEnv) Close() error       { return nil }

func TestStackerResetFillsWindow(t *testing.T) {
	env, err := NewStacker(&seqEnv{}, 3)
	require.NoError(t, err)

	obs, err := env.Reset(false, false, false)
	require.NoError(t, err)

	// Three copies of the first observation
	require.Equal(t, 6, obs.Len())
	want := []float64{0, 0, 0, 0, 0, 0}
	for i := range want {
		assert.Equal(t, want[i], obs.AtVec(i))
	}
}

func TestStackerSlidesWindow(t *testing.T) {
	env, err := NewStacker(&seqEnv{}, 3)
	require.NoError(t, err)

	_, err = env.Reset(false, false, false)
	require.NoError(t, err)

	action := mat.NewVecDense(speedway.ActionDims, nil)

	obs, _, _, err := env.Step(action)
	require.NoError(t, err)
	assertStack(t, obs, []float64{0, 0, 0, 0, 1, -1})

	obs, _, _, err = env.Step(action)
	require.NoError(t, err)
	assertStack(t, obs, []float64{0, 0, 1, -1, 2, -2})

	obs, _, _, err = env.Step(action)
	require.NoError(t, err)
	assertStack(t, obs, []float64{1, -1, 2, -2, 3, -3})
}

func assertStack(t *testing.T, obs mat.Vector, want []float64) {
	t.Helper()
	require.Equal(t, len(want), obs.Len())
	for i := range want {
		assert.Equal(t, want[i], obs.AtVec(i), "element %v", i)
	}
}

func TestStackerObservationSpec(t *testing.T) {
	env, err := NewStacker(&seqEnv{}, 4)
	require.NoError(t, err)

	spec := env.ObservationSpec()
	assert.Equal(t, 8, spec.Shape.Len())
	assert.Equal(t, -1.0, spec.LowerBound.AtVec(7))
	assert.Equal(t, 1.0, spec.UpperBound.AtVec(7))
}

func TestStackerRejectsBadCount(t *testing.T) {
	_, err := NewStacker(&seqEnv{}, 0)
	assert.Error(t, err)
}
