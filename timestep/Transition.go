// Package timestep implements single steps of the agent-environment
// interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transition packages together a single environmental transition:
// taking Action in State yielded Reward and NextState.
//
// Done reports whether NextState ended the episode. When an episode is
// cut off by a step-count cap rather than by true termination, Done
// must be stored as false so that bootstrapping is not penalized for
// the artificial truncation. Enforcing this rewrite is the
// responsibility of whoever constructs the Transition.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	NextState mat.Vector
	Done      bool
}

// New constructs a new Transition
func New(state, action mat.Vector, reward float64, nextState mat.Vector,
	done bool) Transition {
	return Transition{
		State:     state,
		Action:    action,
		Reward:    reward,
		NextState: nextState,
		Done:      done,
	}
}

// DoneValue returns the done flag as a float64 mask value, the form in
// which it participates in bootstrapped targets.
func (t Transition) DoneValue() float64 {
	if t.Done {
		return 1.0
	}
	return 0.0
}

func (t Transition) String() string {
	return fmt.Sprintf("Transition | Reward: %.2f | Done: %v | State dims: "+
		"%d | Action dims: %d", t.Reward, t.Done, t.State.Len(),
		t.Action.Len())
}
