package speedway

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func action(steer, accel, brake float64) mat.Vector {
	return mat.NewVecDense(ActionDims, []float64{steer, accel, brake})
}

func TestResetObservation(t *testing.T) {
	env := New(1)

	obs, err := env.Reset(true, false, false)
	require.NoError(t, err)
	require.Equal(t, ObservationDims, obs.Len())

	// A relaunch starts centered, aligned, and stationary
	assert.Zero(t, obs.AtVec(0))
	assert.Zero(t, obs.AtVec(1))
	assert.Zero(t, obs.AtVec(2))
}

func TestFullThrottleAccelerates(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)

	last := 0.0
	for i := 0; i < 50; i++ {
		obs, reward, done, err := env.Step(action(0, 1, -1))
		require.NoError(t, err)
		require.False(t, done)

		assert.Greater(t, env.LastSpeed(), last)
		assert.Equal(t, env.LastSpeed()/300.0, obs.AtVec(2))
		if i > 0 {
			assert.Greater(t, reward, 0.0)
		}
		last = env.LastSpeed()
	}
}

func TestFullBrakeStops(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		_, _, _, err := env.Step(action(0, 1, -1))
		require.NoError(t, err)
	}
	require.Greater(t, env.LastSpeed(), 0.0)

	for i := 0; i < 200; i++ {
		_, _, _, err := env.Step(action(0, -1, 1))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, env.LastSpeed(), 0.0)
	}
	assert.Zero(t, env.LastSpeed())
}

func TestFullLockRunsOffTrack(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		obs, reward, done, err := env.Step(action(1, 1, -1))
		require.NoError(t, err)
		if done {
			assert.Negative(t, reward)
			assert.GreaterOrEqual(t, math.Abs(obs.AtVec(1)*halfWidth),
				halfWidth-1e-9)
			return
		}
	}
	t.Fatal("car never left the track under full steering lock")
}

func TestStepValidatesAction(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)

	_, _, _, err = env.Step(mat.NewVecDense(2, nil))
	assert.Error(t, err)
}

func TestSampleTrack(t *testing.T) {
	env := New(3)

	seen := make(map[string]bool)
	for i := 0; i < 60; i++ {
		_, err := env.Reset(false, true, false)
		require.NoError(t, err)
		seen[env.TrackName()] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
	for name := range seen {
		assert.Contains(t, []string{"oval-gp", "wheel-2", "alpine-1"}, name)
	}
}

func TestRacePosition(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)

	assert.Equal(t, 1, env.RacePosition())

	// A stationary car falls behind every pacer
	for i := 0; i < 20; i++ {
		_, _, _, err := env.Step(action(0, -1, 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 1+len(pacerSpeeds), env.RacePosition())
}

func TestSampleActionWithinBounds(t *testing.T) {
	env := New(1)
	for i := 0; i < 100; i++ {
		a := env.SampleAction()
		require.Equal(t, ActionDims, a.Len())
		for j := 0; j < a.Len(); j++ {
			assert.GreaterOrEqual(t, a.AtVec(j), -1.0)
			assert.LessOrEqual(t, a.AtVec(j), 1.0)
		}
	}
}

func TestSpecs(t *testing.T) {
	env := New(1)

	assert.Equal(t, ActionDims, env.ActionSpec().Shape.Len())
	assert.Equal(t, ObservationDims, env.ObservationSpec().Shape.Len())
	assert.Equal(t, -1.0, env.ActionSpec().LowerBound.AtVec(0))
	assert.Equal(t, 1.0, env.ActionSpec().UpperBound.AtVec(2))
}

func TestClosedEnvironmentFails(t *testing.T) {
	env := New(1)
	_, err := env.Reset(true, false, false)
	require.NoError(t, err)
	require.NoError(t, env.Close())

	_, err = env.Reset(true, false, false)
	assert.Error(t, err)
	_, _, _, err = env.Step(action(0, 0, 0))
	assert.Error(t, err)
}
