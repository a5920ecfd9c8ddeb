package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"

	"github.com/racekit/sacdrive/initwfn"
)

func testActor(t *testing.T, batch int) *GaussianActor {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)

	actor, err := NewGaussianActor(3, 2, batch, 1,
		Arch{HiddenSizes: []int{8}}, init.InitWFn(), "Actor", false)
	require.NoError(t, err)
	return actor
}

func runActor(t *testing.T, actor *GaussianActor, states,
	noise []float64) {
	t.Helper()

	require.NoError(t, actor.SetInput(states))
	require.NoError(t, actor.SetNoise(noise))

	vm := G.NewTapeMachine(actor.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())
}

func TestGaussianActorActionBounds(t *testing.T) {
	actor := testActor(t, 4)

	states := []float64{
		0.1, -0.5, 2.0,
		1.0, 1.0, 1.0,
		-3.0, 0.0, 0.2,
		0.0, 0.0, 0.0,
	}
	noise := []float64{
		0.3, -1.2,
		2.5, 0.0,
		-0.7, 1.9,
		0.0, -3.1,
	}
	runActor(t, actor, states, noise)

	actions := actor.Actions().Data().([]float64)
	require.Len(t, actions, 8)
	for _, a := range actions {
		assert.Greater(t, a, -1.0)
		assert.Less(t, a, 1.0)
	}

	logProb := actor.LogProb().Data().([]float64)
	require.Len(t, logProb, 4)
	for _, lp := range logProb {
		assert.False(t, math.IsNaN(lp))
		assert.False(t, math.IsInf(lp, 0))
	}
}

func TestGaussianActorModeIgnoresNoise(t *testing.T) {
	actor := testActor(t, 1)
	states := []float64{0.4, -0.2, 1.3}

	runActor(t, actor, states, []float64{1.7, -2.4})
	first := append([]float64(nil),
		actor.Mode().Data().([]float64)...)
	sampled := append([]float64(nil),
		actor.Actions().Data().([]float64)...)

	runActor(t, actor, states, []float64{-0.9, 0.1})
	second := actor.Mode().Data().([]float64)

	assert.Equal(t, first, second)
	assert.NotEqual(t, sampled, actor.Actions().Data().([]float64))
}

func TestGaussianActorZeroNoiseMatchesMode(t *testing.T) {
	actor := testActor(t, 1)
	states := []float64{-0.6, 0.9, 0.0}

	runActor(t, actor, states, []float64{0.0, 0.0})

	actions := actor.Actions().Data().([]float64)
	mode := actor.Mode().Data().([]float64)
	for i := range actions {
		assert.InDelta(t, mode[i], actions[i], 1e-12)
	}
}

func TestGaussianActorCarryStateValidation(t *testing.T) {
	init, err := initwfn.NewZeroes()
	require.NoError(t, err)

	// Carried state on a stateless architecture
	_, err = NewGaussianActor(3, 2, 1, 1, Arch{HiddenSizes: []int{4}},
		init.InitWFn(), "Actor", true)
	assert.Error(t, err)

	// Carried state with a multi-row input
	_, err = NewGaussianActor(3, 2, 2, 1,
		Arch{HiddenSizes: []int{4}, LSTMLayers: 1}, init.InitWFn(), "Actor",
		true)
	assert.Error(t, err)
}
