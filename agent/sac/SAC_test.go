package sac

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
	"github.com/racekit/sacdrive/environment/wrappers"
	"github.com/racekit/sacdrive/network"
	"github.com/racekit/sacdrive/timestep"
)

// testConfig returns a small config that keeps test updates cheap
func testConfig() Config {
	return Config{
		BatchSize:            4,
		HiddenSizes:          []int{8},
		InitialRandomActions: 0,
		Seed:                 14,
	}
}

// testAgent constructs a SAC agent on the simulator environment
func testAgent(t *testing.T, c Config) (*SAC, environment.Environment) {
	t.Helper()

	env := speedway.New(c.Seed)
	_, err := env.Reset(true, true, false)
	require.NoError(t, err)

	agent, err := New(env, c)
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close() })

	return agent, env
}

// fillBuffer feeds n environment transitions to the agent
func fillBuffer(t *testing.T, agent *SAC, env environment.Environment,
	n int) {
	t.Helper()

	state, err := env.Reset(false, false, false)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		action := env.SampleAction()
		next, reward, done, err := env.Step(action)
		require.NoError(t, err)

		err = agent.Observe(timestep.New(state, action, reward, next, done))
		require.NoError(t, err)

		state = next
		if done {
			require.NoError(t, agent.EndEpisode())
			state, err = env.Reset(false, false, false)
			require.NoError(t, err)
		}
	}
}

// netWeights returns a copy of the backing data of every learnable of n
func netWeights(n network.NeuralNet) [][]float64 {
	out := make([][]float64, len(n.Learnables()))
	for i, node := range n.Learnables() {
		backing := node.Value().Data().([]float64)
		data := make([]float64, len(backing))
		copy(data, backing)
		out[i] = data
	}
	return out
}

func TestUpdateWaitsForPrefill(t *testing.T) {
	c := testConfig()
	c.PrefillBuffer = 8
	agent, env := testAgent(t, c)

	fillBuffer(t, agent, env, 7)

	_, learned, err := agent.Update()
	require.NoError(t, err)
	assert.False(t, learned)

	fillBuffer(t, agent, env, 1)

	_, learned, err = agent.Update()
	require.NoError(t, err)
	assert.True(t, learned)
}

func TestDelayedPolicyStep(t *testing.T) {
	c := testConfig()
	c.PolicyUpdateFreq = 2
	agent, env := testAgent(t, c)

	fillBuffer(t, agent, env, 16)

	before := netWeights(agent.actor)

	// First update: the policy step is skipped
	losses, learned, err := agent.Update()
	require.NoError(t, err)
	require.True(t, learned)
	assert.Zero(t, losses.Actor)
	assert.Equal(t, before, netWeights(agent.actor))

	// The critics stepped regardless
	assert.NotZero(t, losses.QF1)
	assert.NotZero(t, losses.QF2)
	assert.NotZero(t, losses.VF)

	// Second update: the policy steps
	_, learned, err = agent.Update()
	require.NoError(t, err)
	require.True(t, learned)
	assert.NotEqual(t, before, netWeights(agent.actor))

	// Third update: skipped again
	losses, learned, err = agent.Update()
	require.NoError(t, err)
	require.True(t, learned)
	assert.Zero(t, losses.Actor)
}

func TestPolicyStepSyncsSelectionPolicy(t *testing.T) {
	c := testConfig()
	c.PolicyUpdateFreq = 1
	agent, env := testAgent(t, c)

	fillBuffer(t, agent, env, 16)

	_, learned, err := agent.Update()
	require.NoError(t, err)
	require.True(t, learned)

	assert.Equal(t, netWeights(agent.actor), netWeights(agent.selActor))
}

func TestFixedEntropyWeightNeverChanges(t *testing.T) {
	c := testConfig()
	c.EntropyWeight = 0.2
	agent, env := testAgent(t, c)

	require.Equal(t, 0.2, agent.Alpha())

	fillBuffer(t, agent, env, 16)
	for i := 0; i < 3; i++ {
		losses, learned, err := agent.Update()
		require.NoError(t, err)
		require.True(t, learned)
		assert.Zero(t, losses.Alpha)
		assert.Equal(t, 0.2, agent.Alpha())
	}
}

func TestAutoEntropyTuningMovesAlpha(t *testing.T) {
	c := testConfig()
	c.AutoEntropyTuning = true
	agent, env := testAgent(t, c)

	require.Equal(t, 1.0, agent.Alpha())

	fillBuffer(t, agent, env, 16)
	_, learned, err := agent.Update()
	require.NoError(t, err)
	require.True(t, learned)

	assert.NotEqual(t, 1.0, agent.Alpha())
	assert.Greater(t, agent.Alpha(), 0.0)
}

func TestRecurrentUpdate(t *testing.T) {
	c := testConfig()
	c.LSTMLayers = 1
	c.StepSize = 2
	c.BatchSize = 2
	agent, env := testAgent(t, c)

	// Two closed episodes of four transitions each
	for e := 0; e < 2; e++ {
		fillBuffer(t, agent, env, 4)
		require.NoError(t, agent.EndEpisode())
	}

	losses, learned, err := agent.Update()
	require.NoError(t, err)
	require.True(t, learned)
	assert.NotZero(t, losses.QF1)
	assert.NotZero(t, losses.VF)
}

func TestSelectActionWithinBounds(t *testing.T) {
	agent, env := testAgent(t, testConfig())

	state, err := env.Reset(false, false, false)
	require.NoError(t, err)

	agent.Train()
	for i := 0; i < 5; i++ {
		action, err := agent.SelectAction(state)
		require.NoError(t, err)
		require.Equal(t, speedway.ActionDims, action.Len())
		for j := 0; j < action.Len(); j++ {
			assert.GreaterOrEqual(t, action.AtVec(j), -1.0)
			assert.LessOrEqual(t, action.AtVec(j), 1.0)
		}
	}

	// Evaluation actions are deterministic
	agent.Eval()
	first, err := agent.SelectAction(state)
	require.NoError(t, err)
	second, err := agent.SelectAction(state)
	require.NoError(t, err)
	for j := 0; j < first.Len(); j++ {
		assert.Equal(t, first.AtVec(j), second.AtVec(j))
	}
}

func TestRandomActionWarmup(t *testing.T) {
	c := testConfig()
	c.InitialRandomActions = 10
	agent, env := testAgent(t, c)

	state, err := env.Reset(false, false, false)
	require.NoError(t, err)

	agent.Train()
	for i := 0; i < 10; i++ {
		action, err := agent.SelectAction(state)
		require.NoError(t, err)
		require.Equal(t, speedway.ActionDims, action.Len())
	}
	assert.Equal(t, 10, agent.TotalSteps())
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := testConfig()
	c.PolicyUpdateFreq = 1
	agent, env := testAgent(t, c)

	// A few updates so the saved state differs from a fresh one
	fillBuffer(t, agent, env, 16)
	for i := 0; i < 2; i++ {
		_, learned, err := agent.Update()
		require.NoError(t, err)
		require.True(t, learned)
	}

	path := filepath.Join(t.TempDir(), "agent.ckpt")
	require.NoError(t, agent.Save(path))

	restored, err := New(env, c)
	require.NoError(t, err)
	defer restored.Close()

	require.NotEqual(t, netWeights(agent.actor), netWeights(restored.actor))
	require.NoError(t, restored.Load(path))

	assert.Equal(t, netWeights(agent.actor), netWeights(restored.actor))
	assert.Equal(t, netWeights(agent.qf1), netWeights(restored.qf1))
	assert.Equal(t, netWeights(agent.qf2), netWeights(restored.qf2))
	assert.Equal(t, netWeights(agent.vf), netWeights(restored.vf))
	assert.Equal(t, netWeights(agent.vfTarget),
		netWeights(restored.vfTarget))
	assert.Equal(t, netWeights(restored.actor),
		netWeights(restored.selActor))
}

func TestLoadMissingCheckpoint(t *testing.T) {
	agent, _ := testAgent(t, testConfig())

	err := agent.Load(filepath.Join(t.TempDir(), "missing.ckpt"))
	assert.Error(t, err)
}

func TestNewRejectsDiscreteActions(t *testing.T) {
	c := testConfig()
	env, err := wrappers.NewDiscretized(speedway.New(c.Seed), 9, c.Seed)
	require.NoError(t, err)

	_, err = New(env, c)
	assert.ErrorContains(t, err, "discrete")
}
