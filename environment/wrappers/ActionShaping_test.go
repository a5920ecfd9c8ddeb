package wrappers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
)

// recordEnv captures the last native action forwarded to Step
type recordEnv struct {
	lastAction mat.Vector
	obs        int
}

func newRecordEnv() *recordEnv { return &recordEnv{obs: 2} }

func (r *recordEnv) Reset(relaunch, sampleTrack, render bool) (mat.Vector,
	error) {
	return mat.NewVecDense(r.obs, nil), nil
}

func (r *recordEnv) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	r.lastAction = action
	return mat.NewVecDense(r.obs, nil), 0, false, nil
}

func (r *recordEnv) SampleAction() mat.Vector {
	return mat.NewVecDense(speedway.ActionDims, nil)
}

func (r *recordEnv) ActionSpec() environment.Spec {
	return vecSpec(speedway.ActionDims, environment.Action)
}

func (r *recordEnv) ObservationSpec() environment.Spec {
	return vecSpec(r.obs, environment.Observation)
}

func (r *recordEnv) TrackName() string  { return "record" }
func (r *recordEnv) LastSpeed() float64 { return 0 }
func (r *recordEnv) RacePosition() int  { return 1 }
func (r *recordEnv) Close() error       { return nil }

func vecSpec(dims int, t environment.SpecType) environment.Spec {
	lower := mat.NewVecDense(dims, nil)
	upper := mat.NewVecDense(dims, nil)
	for i := 0; i < dims; i++ {
		lower.SetVec(i, -1.0)
		upper.SetVec(i, 1.0)
	}
	return environment.NewSpec(mat.NewVecDense(dims, nil), t, lower, upper,
		environment.Continuous)
}

// native returns the channels of the last action the wrapped
// environment received
func native(t *testing.T, r *recordEnv) (steer, accel, brake float64) {
	t.Helper()
	require.NotNil(t, r.lastAction)
	require.Equal(t, speedway.ActionDims, r.lastAction.Len())
	return r.lastAction.AtVec(speedway.Steer),
		r.lastAction.AtVec(speedway.Accelerate),
		r.lastAction.AtVec(speedway.Brake)
}

func TestNoBrakeNoBackwards(t *testing.T) {
	inner := newRecordEnv()
	env := NewNoBrakeNoBackwards(inner, 1)

	assert.Equal(t, 2, env.ActionSpec().Shape.Len())

	_, _, _, err := env.Step(mat.NewVecDense(2, []float64{0.3, 0.7}))
	require.NoError(t, err)

	steer, accel, brake := native(t, inner)
	assert.Equal(t, 0.3, steer)
	assert.Equal(t, 0.7, accel)
	assert.Equal(t, -1.0, brake)

	// Wrong dimensionality is rejected
	_, _, _, err = env.Step(mat.NewVecDense(3, nil))
	assert.Error(t, err)

	braked := env.TryBrake(mat.NewVecDense(2, []float64{0.3, 0.7}))
	assert.Equal(t, 0.3, braked.AtVec(0))
	assert.Equal(t, -1.0, braked.AtVec(1))
}

func TestHalfBrakeNoBackwards(t *testing.T) {
	inner := newRecordEnv()
	env := NewHalfBrakeNoBackwards(inner, 1)

	assert.Equal(t, 3, env.ActionSpec().Shape.Len())

	_, _, _, err := env.Step(mat.NewVecDense(3, []float64{-0.2, 0.4, 1.0}))
	require.NoError(t, err)

	steer, accel, brake := native(t, inner)
	assert.Equal(t, -0.2, steer)
	assert.Equal(t, 0.4, accel)
	// Full policy brake maps to half native brake
	assert.Equal(t, 0.0, brake)

	_, _, _, err = env.Step(mat.NewVecDense(3, []float64{0, 0, -1.0}))
	require.NoError(t, err)
	_, _, brake = native(t, inner)
	assert.Equal(t, -1.0, brake)

	braked := env.TryBrake(mat.NewVecDense(3, []float64{0.5, 0.9, -1.0}))
	assert.Equal(t, 0.5, braked.AtVec(speedway.Steer))
	assert.Equal(t, -1.0, braked.AtVec(speedway.Accelerate))
	assert.Equal(t, 1.0, braked.AtVec(speedway.Brake))
}

func TestNoBackwardsPassesActionThrough(t *testing.T) {
	inner := newRecordEnv()
	env := NewNoBackwards(inner, 1)

	action := mat.NewVecDense(3, []float64{0.1, -0.6, 0.9})
	_, _, _, err := env.Step(action)
	require.NoError(t, err)

	steer, accel, brake := native(t, inner)
	assert.Equal(t, 0.1, steer)
	assert.Equal(t, -0.6, accel)
	assert.Equal(t, 0.9, brake)
}

func TestBitsPieces(t *testing.T) {
	inner := newRecordEnv()
	env := NewBitsPieces(inner, 1)

	_, _, _, err := env.Step(mat.NewVecDense(2, []float64{0.2, 0.01}))
	require.NoError(t, err)
	_, accel, brake := native(t, inner)
	assert.Equal(t, 1.0, accel)
	assert.Equal(t, -1.0, brake)

	_, _, _, err = env.Step(mat.NewVecDense(2, []float64{0.2, -0.01}))
	require.NoError(t, err)
	_, accel, brake = native(t, inner)
	assert.Equal(t, -1.0, accel)
	assert.Equal(t, 1.0, brake)

	braked := env.TryBrake(mat.NewVecDense(2, []float64{0.2, 0.9}))
	assert.Equal(t, -1.0, braked.AtVec(1))
}

func TestBitsPiecesCont(t *testing.T) {
	inner := newRecordEnv()
	env := NewBitsPiecesCont(inner, 1)

	// Positive channel scales the throttle
	_, _, _, err := env.Step(mat.NewVecDense(2, []float64{0, 0.6}))
	require.NoError(t, err)
	_, accel, brake := native(t, inner)
	assert.InDelta(t, 0.2, accel, 1e-12)
	assert.Equal(t, -1.0, brake)

	// Negative channel scales the brake
	_, _, _, err = env.Step(mat.NewVecDense(2, []float64{0, -0.8}))
	require.NoError(t, err)
	_, accel, brake = native(t, inner)
	assert.Equal(t, -1.0, accel)
	assert.InDelta(t, 0.6, brake, 1e-12)
}

func TestShapedSampleActionWithinBounds(t *testing.T) {
	env := NewNoBrakeNoBackwards(newRecordEnv(), 7)

	for i := 0; i < 100; i++ {
		action := env.SampleAction()
		require.Equal(t, 2, action.Len())
		for j := 0; j < action.Len(); j++ {
			assert.GreaterOrEqual(t, action.AtVec(j), -1.0)
			assert.LessOrEqual(t, action.AtVec(j), 1.0)
		}
	}
}

func TestDiscretizedTables(t *testing.T) {
	inner := newRecordEnv()
	env, err := NewDiscretized(inner, 9, 1)
	require.NoError(t, err)

	spec := env.ActionSpec()
	assert.Equal(t, environment.Discrete, spec.Cardinality)
	assert.Equal(t, 8.0, spec.UpperBound.AtVec(0))

	// Three steering levels, each as (throttle, coast, brake)
	want := []struct {
		steer, accel, brake float64
	}{
		{-1, 1, -1}, {-1, -1, -1}, {-1, -1, 1},
		{0, 1, -1}, {0, -1, -1}, {0, -1, 1},
		{1, 1, -1}, {1, -1, -1}, {1, -1, 1},
	}
	for i, w := range want {
		_, _, _, err := env.Step(mat.NewVecDense(1, []float64{float64(i)}))
		require.NoError(t, err)

		steer, accel, brake := native(t, inner)
		assert.Equal(t, w.steer, steer, "action %v", i)
		assert.Equal(t, w.accel, accel, "action %v", i)
		assert.Equal(t, w.brake, brake, "action %v", i)
	}

	_, _, _, err = env.Step(mat.NewVecDense(1, []float64{9}))
	assert.Error(t, err)
	_, _, _, err = env.Step(mat.NewVecDense(2, nil))
	assert.Error(t, err)
}

func TestDiscretizedTryBrake(t *testing.T) {
	env, err := NewDiscretized(newRecordEnv(), 9, 1)
	require.NoError(t, err)

	// Any action maps to the full-brake entry of its steering level
	for i, want := range []float64{2, 2, 2, 5, 5, 5, 8, 8, 8} {
		braked := env.TryBrake(mat.NewVecDense(1, []float64{float64(i)}))
		assert.Equal(t, want, braked.AtVec(0))
	}
}

func TestDiscretizedSingleLevelCentersSteering(t *testing.T) {
	inner := newRecordEnv()
	env, err := NewDiscretized(inner, 3, 1)
	require.NoError(t, err)

	_, _, _, err = env.Step(mat.NewVecDense(1, []float64{0}))
	require.NoError(t, err)

	steer, _, _ := native(t, inner)
	assert.Equal(t, 0.0, steer)
}

func TestDiscretizedRejectsBadCount(t *testing.T) {
	for _, count := range []int{0, -3, 4, 7} {
		_, err := NewDiscretized(newRecordEnv(), count, 1)
		assert.Error(t, err, "count %v", count)
	}
}
