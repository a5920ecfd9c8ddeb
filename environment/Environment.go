// Package environment outlines the interface that driving simulators
// must satisfy to be trained on, along with specifications describing
// their action and observation layouts
package environment

import (
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Environment implements a simulated driving environment. Episodes are
// driven externally: Reset starts a new episode and returns its first
// observation, Step applies an action and returns the resulting
// observation, reward, and whether the episode ended.
type Environment interface {
	// Reset starts a new episode. Relaunch asks the simulator for a
	// full restart rather than a soft reset, sampleTrack picks a
	// random track for the episode, and render toggles simulator
	// visualization.
	Reset(relaunch, sampleTrack, render bool) (mat.Vector, error)

	// Step applies an action and advances the simulation one tick
	Step(action mat.Vector) (mat.Vector, float64, bool, error)

	// SampleAction draws a uniformly random action from the action
	// space
	SampleAction() mat.Vector

	ActionSpec() Spec
	ObservationSpec() Spec

	// Telemetry read by the training loop for logging only
	TrackName() string
	LastSpeed() float64
	RacePosition() int

	Close() error
}
