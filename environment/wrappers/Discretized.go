package wrappers

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
)

// Discretized exposes a discrete action space over the continuous
// steer/throttle/brake channels. Actions come in triples per steering
// level: full throttle, coast, and full brake, with steering levels
// spread evenly over [-1, 1].
type Discretized struct {
	environment.Environment

	count int
	rng   *rand.Rand

	steer    []float64
	throttle []float64
	brake    []float64
}

// NewDiscretized wraps env in a discrete action space of count
// actions; count must be a multiple of 3
func NewDiscretized(env environment.Environment, count int,
	seed uint64) (*Discretized, error) {
	if count < 3 || count%3 != 0 {
		return nil, fmt.Errorf("newdiscretized: action count must be a "+
			"positive multiple of 3, got %v", count)
	}

	levels := count / 3
	steerLevels := make([]float64, levels)
	if levels == 1 {
		steerLevels[0] = 0.0
	} else {
		floats.Span(steerLevels, -1.0, 1.0)
	}

	steer := make([]float64, count)
	throttle := make([]float64, count)
	brake := make([]float64, count)
	for level := 0; level < levels; level++ {
		for j := 0; j < 3; j++ {
			i := level*3 + j
			steer[i] = steerLevels[level]
			switch j {
			case 0: // full throttle
				throttle[i], brake[i] = 1.0, -1.0
			case 1: // coast
				throttle[i], brake[i] = -1.0, -1.0
			case 2: // full brake
				throttle[i], brake[i] = -1.0, 1.0
			}
		}
	}

	return &Discretized{
		Environment: env,
		count:       count,
		rng:         rand.New(rand.NewSource(seed)),
		steer:       steer,
		throttle:    throttle,
		brake:       brake,
	}, nil
}

// Step looks the discrete action up in the channel tables and forwards
// the continuous triple to the wrapped environment
func (d *Discretized) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	if action.Len() != 1 {
		return nil, 0, false, fmt.Errorf("step: discrete actions are "+
			"single-element vectors, got %v elements", action.Len())
	}
	i := int(action.AtVec(0))
	if i < 0 || i >= d.count {
		return nil, 0, false, fmt.Errorf("step: action %v out of range "+
			"[0, %v)", i, d.count)
	}

	inner := mat.NewVecDense(speedway.ActionDims, nil)
	inner.SetVec(speedway.Steer, d.steer[i])
	inner.SetVec(speedway.Accelerate, d.throttle[i])
	inner.SetVec(speedway.Brake, d.brake[i])
	return d.Environment.Step(inner)
}

// TryBrake maps the action to the full-brake entry of its steering
// level
func (d *Discretized) TryBrake(action mat.Vector) mat.Vector {
	i := int(action.AtVec(0))
	if i < 0 || i >= d.count {
		return action
	}
	return mat.NewVecDense(1, []float64{float64(i - i%3 + 2)})
}

// SampleAction draws a uniformly random discrete action
func (d *Discretized) SampleAction() mat.Vector {
	return mat.NewVecDense(1, []float64{float64(d.rng.Intn(d.count))})
}

// ActionSpec returns the discrete action specification
func (d *Discretized) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lower := mat.NewVecDense(1, []float64{0.0})
	upper := mat.NewVecDense(1, []float64{float64(d.count - 1)})
	return environment.NewSpec(shape, environment.Action, lower, upper,
		environment.Discrete)
}
