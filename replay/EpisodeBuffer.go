package replay

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/racekit/sacdrive/timestep"
)

// EpisodeBuffer is a fixed-capacity circular store of whole episodes.
// Transitions are appended to an open episode until EndEpisode is
// called; the closed episode then takes the next circular slot,
// evicting the oldest episode once the capacity is reached.
//
// Sampling draws batchSize windows of stepSize consecutive transitions
// each. Episodes are chosen with replacement, but within a window the
// transitions are contiguous and in their original temporal order,
// which a recurrent learner requires to roll hidden state forward.
// Only closed episodes holding at least stepSize transitions are
// eligible for sampling.
type EpisodeBuffer struct {
	episodes [][]timestep.Transition
	open     []timestep.Transition

	capacity    int // maximum number of stored episodes
	batchSize   int
	stepSize    int
	featureSize int
	actionSize  int

	closed int // total number of episodes ever closed

	rng *rand.Rand
}

// NewEpisodeBuffer returns a new EpisodeBuffer storing at most
// capacity episodes and sampling batchSize windows of stepSize
// transitions each.
func NewEpisodeBuffer(capacity, batchSize, stepSize, featureSize,
	actionSize int, seed uint64) (*EpisodeBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("newepisodebuffer: capacity must be >= 1")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newepisodebuffer: batch size must be >= 1")
	}
	if stepSize < 1 {
		return nil, fmt.Errorf("newepisodebuffer: step size must be >= 1")
	}

	return &EpisodeBuffer{
		episodes:    make([][]timestep.Transition, 0, capacity),
		capacity:    capacity,
		batchSize:   batchSize,
		stepSize:    stepSize,
		featureSize: featureSize,
		actionSize:  actionSize,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Add appends a transition to the currently open episode
func (b *EpisodeBuffer) Add(t timestep.Transition) error {
	if t.State.Len() != b.featureSize || t.NextState.Len() != b.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", b.featureSize, t.State.Len())
	}
	if t.Action.Len() != b.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", b.actionSize, t.Action.Len())
	}

	b.open = append(b.open, t)
	return nil
}

// EndEpisode closes the open episode, making it available for
// sampling. Empty episodes are discarded.
func (b *EpisodeBuffer) EndEpisode() {
	if len(b.open) == 0 {
		return
	}

	episode := b.open
	b.open = nil

	if len(b.episodes) < b.capacity {
		b.episodes = append(b.episodes, episode)
	} else {
		b.episodes[b.closed%b.capacity] = episode
	}
	b.closed++
}

// Len returns the total number of transitions across all closed
// episodes
func (b *EpisodeBuffer) Len() int {
	n := 0
	for _, e := range b.episodes {
		n += len(e)
	}
	return n
}

// Episodes returns the number of closed episodes currently stored
func (b *EpisodeBuffer) Episodes() int {
	return len(b.episodes)
}

// BatchSize returns the number of windows returned by Sample
func (b *EpisodeBuffer) BatchSize() int {
	return b.batchSize
}

// eligible returns the indices of episodes long enough to supply a
// full window
func (b *EpisodeBuffer) eligible() []int {
	indices := make([]int, 0, len(b.episodes))
	for i, e := range b.episodes {
		if len(e) >= b.stepSize {
			indices = append(indices, i)
		}
	}
	return indices
}

// Sample draws a batch of fixed-length contiguous windows from
// randomly chosen stored episodes. The returned batch is laid out time
// major: row t*batchSize + w holds step t of window w. Sampling before
// at least batchSize eligible episodes' worth of windows can be drawn
// fails with an error satisfying IsInsufficientSamples.
func (b *EpisodeBuffer) Sample() (Batch, error) {
	if len(b.episodes) == 0 {
		return Batch{}, &BufferError{Op: "sample", Err: errEmptyBuffer}
	}

	eligible := b.eligible()
	if len(eligible) == 0 {
		return Batch{}, &BufferError{Op: "sample", Err: errInsufficientSamples}
	}

	rows := b.batchSize * b.stepSize
	batch := Batch{
		States:      make([]float64, rows*b.featureSize),
		Actions:     make([]float64, rows*b.actionSize),
		Rewards:     make([]float64, rows),
		NextStates:  make([]float64, rows*b.featureSize),
		Dones:       make([]float64, rows),
		BatchSize:   b.batchSize,
		StepSize:    b.stepSize,
		FeatureSize: b.featureSize,
		ActionSize:  b.actionSize,
	}

	for w := 0; w < b.batchSize; w++ {
		episode := b.episodes[eligible[b.rng.Intn(len(eligible))]]
		start := b.rng.Intn(len(episode) - b.stepSize + 1)

		for t := 0; t < b.stepSize; t++ {
			row := t*b.batchSize + w
			tr := episode[start+t]

			for i := 0; i < b.featureSize; i++ {
				batch.States[row*b.featureSize+i] = tr.State.AtVec(i)
				batch.NextStates[row*b.featureSize+i] = tr.NextState.AtVec(i)
			}
			for i := 0; i < b.actionSize; i++ {
				batch.Actions[row*b.actionSize+i] = tr.Action.AtVec(i)
			}
			batch.Rewards[row] = tr.Reward
			batch.Dones[row] = tr.DoneValue()
		}
	}

	return batch, nil
}
