package replay

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/racekit/sacdrive/timestep"
)

// TransitionBuffer is a fixed-capacity circular store of individual
// transitions. A monotonically increasing write index (mod capacity)
// determines where the next transition is stored, so once the buffer
// is full the oldest entries are overwritten first. Sampling is
// uniform random without replacement within a batch.
type TransitionBuffer struct {
	states     []float64
	actions    []float64
	rewards    []float64
	nextStates []float64
	dones      []float64

	featureSize int
	actionSize  int
	capacity    int
	batchSize   int

	writes int // total number of Add calls ever made

	rng *rand.Rand
}

// NewTransitionBuffer returns a new TransitionBuffer storing at most
// capacity transitions of featureSize-dimensional states and
// actionSize-dimensional actions, sampling batchSize transitions at a
// time.
func NewTransitionBuffer(capacity, batchSize, featureSize,
	actionSize int, seed uint64) (*TransitionBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("newtransitionbuffer: capacity must be >= 1")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newtransitionbuffer: batch size must be >= 1")
	}
	if batchSize > capacity {
		return nil, fmt.Errorf("newtransitionbuffer: cannot have batch "+
			"size (%v) > capacity (%v)", batchSize, capacity)
	}

	return &TransitionBuffer{
		states:      make([]float64, capacity*featureSize),
		actions:     make([]float64, capacity*actionSize),
		rewards:     make([]float64, capacity),
		nextStates:  make([]float64, capacity*featureSize),
		dones:       make([]float64, capacity),
		featureSize: featureSize,
		actionSize:  actionSize,
		capacity:    capacity,
		batchSize:   batchSize,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Add stores a transition at the current circular write position,
// overwriting the oldest entry once the buffer is full.
func (b *TransitionBuffer) Add(t timestep.Transition) error {
	if t.State.Len() != b.featureSize || t.NextState.Len() != b.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", b.featureSize, t.State.Len())
	}
	if t.Action.Len() != b.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", b.actionSize, t.Action.Len())
	}

	index := b.writes % b.capacity

	stateInd := index * b.featureSize
	for i := 0; i < b.featureSize; i++ {
		b.states[stateInd+i] = t.State.AtVec(i)
		b.nextStates[stateInd+i] = t.NextState.AtVec(i)
	}

	actionInd := index * b.actionSize
	for i := 0; i < b.actionSize; i++ {
		b.actions[actionInd+i] = t.Action.AtVec(i)
	}

	b.rewards[index] = t.Reward
	b.dones[index] = t.DoneValue()

	b.writes++
	return nil
}

// EndEpisode implements the Buffer interface. Flat storage has no
// episode boundaries, so this is a no-op.
func (b *TransitionBuffer) EndEpisode() {}

// Len returns the current occupancy of the buffer
func (b *TransitionBuffer) Len() int {
	if b.writes < b.capacity {
		return b.writes
	}
	return b.capacity
}

// BatchSize returns the number of transitions returned by Sample
func (b *TransitionBuffer) BatchSize() int {
	return b.batchSize
}

// Sample draws a batch of transitions uniformly at random without
// replacement. Sampling before the buffer holds at least a full batch
// is a precondition violation and fails with an error satisfying
// IsInsufficientSamples.
func (b *TransitionBuffer) Sample() (Batch, error) {
	if b.Len() == 0 {
		return Batch{}, &BufferError{Op: "sample", Err: errEmptyBuffer}
	}
	if b.Len() < b.batchSize {
		return Batch{}, &BufferError{Op: "sample", Err: errInsufficientSamples}
	}

	indices := b.rng.Perm(b.Len())[:b.batchSize]

	batch := Batch{
		States:      make([]float64, b.batchSize*b.featureSize),
		Actions:     make([]float64, b.batchSize*b.actionSize),
		Rewards:     make([]float64, b.batchSize),
		NextStates:  make([]float64, b.batchSize*b.featureSize),
		Dones:       make([]float64, b.batchSize),
		BatchSize:   b.batchSize,
		StepSize:    1,
		FeatureSize: b.featureSize,
		ActionSize:  b.actionSize,
	}

	for i, index := range indices {
		copy(batch.States[i*b.featureSize:(i+1)*b.featureSize],
			b.states[index*b.featureSize:(index+1)*b.featureSize])
		copy(batch.NextStates[i*b.featureSize:(i+1)*b.featureSize],
			b.nextStates[index*b.featureSize:(index+1)*b.featureSize])
		copy(batch.Actions[i*b.actionSize:(i+1)*b.actionSize],
			b.actions[index*b.actionSize:(index+1)*b.actionSize])
		batch.Rewards[i] = b.rewards[index]
		batch.Dones[i] = b.dones[index]
	}

	return batch, nil
}
