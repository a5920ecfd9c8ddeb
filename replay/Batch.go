// Package replay implements experience replay buffers for off-policy
// learning. Two storage strategies are provided: a flat circular
// transition buffer for feedforward learners and an episodic buffer
// that samples fixed-length contiguous windows for recurrent learners.
package replay

import "github.com/racekit/sacdrive/timestep"

// Batch holds a sampled batch of experience as column-wise, row-major
// flat slices. For a flat buffer StepSize == 1 and row i holds
// transition i of the batch. For an episodic buffer rows are laid out
// time major: row t*BatchSize + b holds step t of sampled window b, so
// that a recurrent network can consume the batch one step at a time
// while carrying hidden state.
//
// States and NextStates have FeatureSize columns, Actions has
// ActionSize columns, and Rewards and Dones have one column each.
type Batch struct {
	States     []float64
	Actions    []float64
	Rewards    []float64
	NextStates []float64
	Dones      []float64

	BatchSize   int
	StepSize    int
	FeatureSize int
	ActionSize  int
}

// Rows returns the total number of rows in the batch
func (b Batch) Rows() int {
	return b.BatchSize * b.StepSize
}

// Buffer is the interface common to both experience storage
// strategies. Add stores a single transition in O(1) amortized time.
// Sample returns a fresh Batch or an error satisfying
// IsInsufficientSamples when not enough data has been stored yet. Len
// reports the current occupancy in transitions and gates when learning
// may begin. EndEpisode marks an episode boundary; it is a no-op for
// flat storage.
type Buffer interface {
	Add(timestep.Transition) error
	EndEpisode()
	Sample() (Batch, error)
	Len() int
	BatchSize() int
}
