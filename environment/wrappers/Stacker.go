package wrappers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/environment"
)

// Stacker wraps an environment so that observations are the last
// nstack raw observations concatenated, oldest first. On reset the
// window is filled with copies of the first observation.
type Stacker struct {
	environment.Environment

	nstack  int
	rawDims int
	window  [][]float64
}

// NewStacker wraps env to stack nstack consecutive observations
func NewStacker(env environment.Environment, nstack int) (*Stacker, error) {
	if nstack < 1 {
		return nil, fmt.Errorf("newstacker: nstack must be >= 1")
	}
	return &Stacker{
		Environment: env,
		nstack:      nstack,
		rawDims:     env.ObservationSpec().Shape.Len(),
		window:      make([][]float64, 0, nstack),
	}, nil
}

// Reset starts a new episode with the stack filled by the first
// observation
func (s *Stacker) Reset(relaunch, sampleTrack, render bool) (mat.Vector,
	error) {
	obs, err := s.Environment.Reset(relaunch, sampleTrack, render)
	if err != nil {
		return nil, err
	}

	s.window = s.window[:0]
	for i := 0; i < s.nstack; i++ {
		s.push(obs)
	}
	return s.stacked(), nil
}

// Step forwards the action and returns the stacked observation
func (s *Stacker) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	obs, reward, done, err := s.Environment.Step(action)
	if err != nil {
		return nil, 0, false, err
	}
	s.push(obs)
	return s.stacked(), reward, done, nil
}

// ObservationSpec returns the stacked observation specification
func (s *Stacker) ObservationSpec() environment.Spec {
	raw := s.Environment.ObservationSpec()
	dims := s.rawDims * s.nstack

	shape := mat.NewVecDense(dims, nil)
	lower := mat.NewVecDense(dims, nil)
	upper := mat.NewVecDense(dims, nil)
	for i := 0; i < dims; i++ {
		lower.SetVec(i, raw.LowerBound.AtVec(i%s.rawDims))
		upper.SetVec(i, raw.UpperBound.AtVec(i%s.rawDims))
	}
	return environment.NewSpec(shape, environment.Observation, lower, upper,
		raw.Cardinality)
}

func (s *Stacker) push(obs mat.Vector) {
	frame := make([]float64, s.rawDims)
	for i := range frame {
		frame[i] = obs.AtVec(i)
	}
	if len(s.window) == s.nstack {
		copy(s.window, s.window[1:])
		s.window[s.nstack-1] = frame
		return
	}
	s.window = append(s.window, frame)
}

func (s *Stacker) stacked() mat.Vector {
	flat := make([]float64, 0, s.rawDims*s.nstack)
	for _, frame := range s.window {
		flat = append(flat, frame...)
	}
	return mat.NewVecDense(len(flat), flat)
}
