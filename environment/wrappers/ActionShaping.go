// Package wrappers provides environment wrappers that reshape the
// action space a policy learns in, and stack observations over time.
// The transformed action spaces all keep [-1, 1] bounds per channel so
// that tanh-squashed policies map onto them directly; each wrapper
// translates back to the simulator's native steer/accelerate/brake
// channels.
package wrappers

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
)

// Braker is an environment that can override an agent's action with a
// braking variant of it, used by the training loop's early-braking
// heuristic
type Braker interface {
	environment.Environment

	// TryBrake returns the action with its throttle/brake channels
	// forced towards braking
	TryBrake(action mat.Vector) mat.Vector
}

// shaped holds the pieces every action-shaping wrapper shares: the
// wrapped environment, the reshaped action dimensionality, and an RNG
// for sampling from the reshaped space
type shaped struct {
	environment.Environment
	dims int
	rng  *rand.Rand
}

func newShaped(env environment.Environment, dims int, seed uint64) shaped {
	return shaped{
		Environment: env,
		dims:        dims,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// ActionSpec returns the reshaped action specification
func (s shaped) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(s.dims, nil)
	lower := mat.NewVecDense(s.dims, nil)
	upper := mat.NewVecDense(s.dims, nil)
	for i := 0; i < s.dims; i++ {
		lower.SetVec(i, -1.0)
		upper.SetVec(i, 1.0)
	}
	return environment.NewSpec(shape, environment.Action, lower, upper,
		environment.Continuous)
}

// SampleAction draws a uniformly random action from the reshaped space
func (s shaped) SampleAction() mat.Vector {
	action := make([]float64, s.dims)
	for i := range action {
		action[i] = s.rng.Float64()*2.0 - 1.0
	}
	return mat.NewVecDense(s.dims, action)
}

func (s shaped) checkAction(action mat.Vector) error {
	if action.Len() != s.dims {
		return fmt.Errorf("step: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", s.dims, action.Len())
	}
	return nil
}

// NoBrakeNoBackwards exposes a (steer, throttle) action space with the
// brake permanently released
type NoBrakeNoBackwards struct {
	shaped
}

// NewNoBrakeNoBackwards wraps env in a NoBrakeNoBackwards action space
func NewNoBrakeNoBackwards(env environment.Environment,
	seed uint64) *NoBrakeNoBackwards {
	return &NoBrakeNoBackwards{newShaped(env, 2, seed)}
}

// Step translates the reshaped action and forwards it to the wrapped
// environment
func (n *NoBrakeNoBackwards) Step(action mat.Vector) (mat.Vector, float64,
	bool, error) {
	if err := n.checkAction(action); err != nil {
		return nil, 0, false, err
	}
	inner := mat.NewVecDense(speedway.ActionDims, nil)
	inner.SetVec(speedway.Steer, action.AtVec(0))
	inner.SetVec(speedway.Accelerate, action.AtVec(1))
	inner.SetVec(speedway.Brake, -1.0)
	return n.Environment.Step(inner)
}

// TryBrake lifts off the throttle; the wrapper has no brake to apply
func (n *NoBrakeNoBackwards) TryBrake(action mat.Vector) mat.Vector {
	braked := mat.VecDenseCopyOf(action)
	braked.SetVec(1, -1.0)
	return braked
}

// HalfBrakeNoBackwards exposes the full (steer, throttle, brake) space
// with braking limited to half strength
type HalfBrakeNoBackwards struct {
	shaped
}

// NewHalfBrakeNoBackwards wraps env in a HalfBrakeNoBackwards action
// space
func NewHalfBrakeNoBackwards(env environment.Environment,
	seed uint64) *HalfBrakeNoBackwards {
	return &HalfBrakeNoBackwards{newShaped(env, 3, seed)}
}

// Step translates the reshaped action and forwards it to the wrapped
// environment
func (h *HalfBrakeNoBackwards) Step(action mat.Vector) (mat.Vector, float64,
	bool, error) {
	if err := h.checkAction(action); err != nil {
		return nil, 0, false, err
	}
	inner := mat.NewVecDense(speedway.ActionDims, nil)
	inner.SetVec(speedway.Steer, action.AtVec(speedway.Steer))
	inner.SetVec(speedway.Accelerate, action.AtVec(speedway.Accelerate))
	// Halve the brake by shifting its range from [0, 1] to [0, 0.5]
	inner.SetVec(speedway.Brake, (action.AtVec(speedway.Brake)-1.0)/2.0)
	return h.Environment.Step(inner)
}

// TryBrake releases the throttle and applies the strongest available
// brake
func (h *HalfBrakeNoBackwards) TryBrake(action mat.Vector) mat.Vector {
	braked := mat.VecDenseCopyOf(action)
	braked.SetVec(speedway.Accelerate, -1.0)
	braked.SetVec(speedway.Brake, 1.0)
	return braked
}

// NoBackwards exposes the full (steer, throttle, brake) space and only
// forbids reversing
type NoBackwards struct {
	shaped
}

// NewNoBackwards wraps env in a NoBackwards action space
func NewNoBackwards(env environment.Environment, seed uint64) *NoBackwards {
	return &NoBackwards{newShaped(env, 3, seed)}
}

// Step forwards the action to the wrapped environment unchanged; the
// wrapped environment already clips throttle and brake to forward-only
// ranges
func (n *NoBackwards) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	if err := n.checkAction(action); err != nil {
		return nil, 0, false, err
	}
	return n.Environment.Step(action)
}

// TryBrake releases the throttle and applies the full brake
func (n *NoBackwards) TryBrake(action mat.Vector) mat.Vector {
	braked := mat.VecDenseCopyOf(action)
	braked.SetVec(speedway.Accelerate, -1.0)
	braked.SetVec(speedway.Brake, 1.0)
	return braked
}

// BitsPieces exposes a (steer, go/stop) action space: the second
// channel's sign selects between full throttle and full brake
type BitsPieces struct {
	shaped
}

// NewBitsPieces wraps env in a BitsPieces action space
func NewBitsPieces(env environment.Environment, seed uint64) *BitsPieces {
	return &BitsPieces{newShaped(env, 2, seed)}
}

// Step translates the reshaped action and forwards it to the wrapped
// environment
func (b *BitsPieces) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	if err := b.checkAction(action); err != nil {
		return nil, 0, false, err
	}
	inner := mat.NewVecDense(speedway.ActionDims, nil)
	inner.SetVec(speedway.Steer, action.AtVec(0))
	if action.AtVec(1) > 0 {
		inner.SetVec(speedway.Accelerate, 1.0)
		inner.SetVec(speedway.Brake, -1.0)
	} else {
		inner.SetVec(speedway.Accelerate, -1.0)
		inner.SetVec(speedway.Brake, 1.0)
	}
	return b.Environment.Step(inner)
}

// TryBrake forces the go/stop channel into its braking branch
func (b *BitsPieces) TryBrake(action mat.Vector) mat.Vector {
	braked := mat.VecDenseCopyOf(action)
	braked.SetVec(1, -1.0)
	return braked
}

// BitsPiecesCont exposes a (steer, go/stop) action space like
// BitsPieces, but the second channel's magnitude sets the throttle or
// brake strength
type BitsPiecesCont struct {
	shaped
}

// NewBitsPiecesCont wraps env in a BitsPiecesCont action space
func NewBitsPiecesCont(env environment.Environment,
	seed uint64) *BitsPiecesCont {
	return &BitsPiecesCont{newShaped(env, 2, seed)}
}

// Step translates the reshaped action and forwards it to the wrapped
// environment
func (b *BitsPiecesCont) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	if err := b.checkAction(action); err != nil {
		return nil, 0, false, err
	}
	inner := mat.NewVecDense(speedway.ActionDims, nil)
	inner.SetVec(speedway.Steer, action.AtVec(0))
	if v := action.AtVec(1); v > 0 {
		// Throttle scaled by the channel value, brake released
		inner.SetVec(speedway.Accelerate, 2.0*v-1.0)
		inner.SetVec(speedway.Brake, -1.0)
	} else {
		// Brake scaled by the channel magnitude, throttle released
		inner.SetVec(speedway.Accelerate, -1.0)
		inner.SetVec(speedway.Brake, 2.0*(-v)-1.0)
	}
	return b.Environment.Step(inner)
}

// TryBrake forces the go/stop channel into full braking
func (b *BitsPiecesCont) TryBrake(action mat.Vector) mat.Vector {
	braked := mat.VecDenseCopyOf(action)
	braked.SetVec(1, -1.0)
	return braked
}
