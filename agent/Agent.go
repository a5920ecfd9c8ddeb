// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/timestep"
)

// Losses holds the per-network loss values of one learning update
type Losses struct {
	Actor float64
	QF1   float64
	QF2   float64
	VF    float64
	Alpha float64
}

// Total returns the sum of all loss values
func (l Losses) Total() float64 {
	return l.Actor + l.QF1 + l.QF2 + l.VF + l.Alpha
}

// Add returns the elementwise sum of two loss records
func (l Losses) Add(other Losses) Losses {
	return Losses{
		Actor: l.Actor + other.Actor,
		QF1:   l.QF1 + other.QF1,
		QF2:   l.QF2 + other.QF2,
		VF:    l.VF + other.VF,
		Alpha: l.Alpha + other.Alpha,
	}
}

// Scale returns the loss record with every value multiplied by c
func (l Losses) Scale(c float64) Losses {
	return Losses{
		Actor: l.Actor * c,
		QF1:   l.QF1 * c,
		QF2:   l.QF2 * c,
		VF:    l.VF * c,
		Alpha: l.Alpha * c,
	}
}

// Agent determines the implementation details of an agent or algorithm
//
// An Agent chooses actions in each state, records the transitions its
// actions lead to, and learns from recorded experience when Update is
// called. Train and Eval toggle between stochastic and deterministic
// action selection.
type Agent interface {
	// SelectAction returns the action to take in the given state
	SelectAction(state mat.Vector) (mat.Vector, error)

	// Observe records a transition produced by the last action
	Observe(transition timestep.Transition) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode() error

	// Update performs a single learning update. The returned flag
	// reports whether an update actually ran; updates are skipped
	// while recorded experience is insufficient.
	Update() (Losses, bool, error)

	// Train puts the agent in training mode: actions are sampled
	Train()

	// Eval puts the agent in evaluation mode: actions are the
	// distribution mode
	Eval()

	// Save persists all learnable and optimizer state to a file
	Save(path string) error

	// Load restores state previously persisted with Save
	Load(path string) error

	Close() error
}
