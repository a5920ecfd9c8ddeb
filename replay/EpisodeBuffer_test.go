package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/timestep"
)

// addEpisode closes an episode of n transitions labeled start,
// start+1, ... into b
func addEpisode(t *testing.T, b *EpisodeBuffer, start float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Add(transition(start+float64(i))))
	}
	b.EndEpisode()
}

func TestEpisodeBufferLen(t *testing.T) {
	b, err := NewEpisodeBuffer(4, 1, 2, 1, 1, 1)
	require.NoError(t, err)

	// Open transitions do not count towards occupancy
	require.NoError(t, b.Add(transition(1)))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Episodes())

	b.EndEpisode()
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.Episodes())

	addEpisode(t, b, 10, 3)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 2, b.Episodes())
}

func TestEpisodeBufferEndEpisodeDiscardsEmpty(t *testing.T) {
	b, err := NewEpisodeBuffer(4, 1, 1, 1, 1, 1)
	require.NoError(t, err)

	b.EndEpisode()
	b.EndEpisode()
	assert.Equal(t, 0, b.Episodes())
}

func TestEpisodeBufferEvictsOldestEpisode(t *testing.T) {
	b, err := NewEpisodeBuffer(2, 1, 1, 1, 1, 1)
	require.NoError(t, err)

	addEpisode(t, b, 1, 2)  // labels 1, 2
	addEpisode(t, b, 10, 2) // labels 10, 11
	addEpisode(t, b, 20, 2) // labels 20, 21 evict the first episode
	require.Equal(t, 2, b.Episodes())

	for trial := 0; trial < 50; trial++ {
		batch, err := b.Sample()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, batch.Rewards[0], 10.0)
	}
}

func TestEpisodeBufferWindowsAreContiguous(t *testing.T) {
	b, err := NewEpisodeBuffer(4, 3, 4, 1, 1, 42)
	require.NoError(t, err)

	// Two episodes with disjoint label ranges so windows can be
	// checked for crossing episode boundaries
	addEpisode(t, b, 0, 10)   // labels 0..9
	addEpisode(t, b, 100, 6)  // labels 100..105
	addEpisode(t, b, 1000, 2) // too short to be eligible

	for trial := 0; trial < 25; trial++ {
		batch, err := b.Sample()
		require.NoError(t, err)
		require.Equal(t, 3, batch.BatchSize)
		require.Equal(t, 4, batch.StepSize)

		// Time-major layout: row t*batchSize + w holds step t of
		// window w
		for w := 0; w < batch.BatchSize; w++ {
			first := batch.Rewards[w]
			assert.Less(t, first, 1000.0,
				"window drawn from an ineligible episode")
			for step := 1; step < batch.StepSize; step++ {
				row := step*batch.BatchSize + w
				assert.Equal(t, first+float64(step), batch.Rewards[row])
				assert.Equal(t, first+float64(step), batch.States[row])
			}
		}
	}
}

func TestEpisodeBufferInsufficientSamples(t *testing.T) {
	b, err := NewEpisodeBuffer(4, 1, 3, 1, 1, 1)
	require.NoError(t, err)

	_, err = b.Sample()
	require.Error(t, err)
	assert.True(t, IsEmptyBuffer(err))

	// A closed episode shorter than the window length is not
	// eligible
	addEpisode(t, b, 1, 2)
	_, err = b.Sample()
	require.Error(t, err)
	assert.True(t, IsInsufficientSamples(err))

	addEpisode(t, b, 10, 3)
	_, err = b.Sample()
	assert.NoError(t, err)
}

func TestEpisodeBufferRejectsWrongDims(t *testing.T) {
	b, err := NewEpisodeBuffer(4, 1, 1, 3, 1, 1)
	require.NoError(t, err)

	err = b.Add(timestep.New(
		mat.NewVecDense(1, []float64{0}),
		mat.NewVecDense(1, []float64{0}),
		0,
		mat.NewVecDense(1, []float64{0}),
		false,
	))
	assert.Error(t, err)
}
