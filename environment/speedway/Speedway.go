// Package speedway implements a small native driving environment, so
// the training stack can run end-to-end without an external
// simulator. A car drives around a closed loop track; it observes its
// heading error, lateral offset, speed, and the curvature of the road
// ahead, and controls steering, throttle, and brake.
package speedway

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/utils/floatutils"
)

// Action channel layout, shared with the action-shaping wrappers
const (
	Steer      int = 0
	Accelerate int = 1
	Brake      int = 2
)

// Physical constants
const (
	ActionDims      int = 3
	ObservationDims int = 7

	// Lookahead curvature sensors included in the observation
	lookaheadSensors int = 4

	dt           float64 = 0.1
	maxSpeed     float64 = 300.0 // km/h
	maxAccel     float64 = 40.0  // km/h per second at full throttle
	maxBrake     float64 = 80.0  // km/h per second at full brake
	drag         float64 = 0.12  // per second, proportional to speed
	steerRate    float64 = 0.8   // rad/s at full lock, scaled by speed
	halfWidth    float64 = 6.0   // meters from centerline to edge
	sensorSpread float64 = 30.0  // meters between lookahead samples
)

// track is a closed loop described by a curvature profile over arc
// length
type track struct {
	name      string
	length    float64
	curvature func(pos float64) float64
}

// The built-in tracks. Curvatures are in rad/m; positive bends left.
var tracks = []track{
	{
		name:   "oval-gp",
		length: 2400.0,
		curvature: func(pos float64) float64 {
			// Two straights joined by two constant-radius turns
			if math.Mod(pos, 1200.0) < 800.0 {
				return 0.0
			}
			return 0.008
		},
	},
	{
		name:   "wheel-2",
		length: 3200.0,
		curvature: func(pos float64) float64 {
			// Gentle sweeping esses
			return 0.006 * math.Sin(2.0*math.Pi*pos/800.0)
		},
	},
	{
		name:   "alpine-1",
		length: 2800.0,
		curvature: func(pos float64) float64 {
			// Tight alternating hairpins separated by short straights
			phase := math.Mod(pos, 700.0)
			if phase < 400.0 {
				return 0.0
			}
			if math.Mod(pos, 1400.0) < 700.0 {
				return 0.015
			}
			return -0.015
		},
	},
}

// pacerSpeeds are the fixed speeds of simulated opponents, used only
// for the race-position telemetry
var pacerSpeeds = []float64{120.0, 160.0, 200.0}

// Speedway implements environment.Environment
type Speedway struct {
	starter  environment.UniformStarter
	trackRNG environment.CategoricalStarter
	rng      *rand.Rand

	track track

	// Car state
	pos      float64 // arc length along the centerline
	distance float64 // cumulative distance covered this episode
	lateral  float64 // signed offset from the centerline, meters
	angle    float64 // heading error against the track tangent, rad
	speed    float64 // km/h

	// Opponent progress for race-position telemetry
	pacers []float64

	elapsed float64
	closed  bool
}

// New returns a new Speedway on the first built-in track
func New(seed uint64) *Speedway {
	startBounds := []r1.Interval{
		{Min: -1.0, Max: 1.0},   // lateral offset, meters
		{Min: -0.05, Max: 0.05}, // heading error, rad
	}

	s := &Speedway{
		starter:  environment.NewUniformStarter(startBounds, seed),
		trackRNG: environment.NewCategoricalStarter([]int{len(tracks)}, seed),
		rng:      rand.New(rand.NewSource(seed)),
		track:    tracks[0],
		pacers:   make([]float64, len(pacerSpeeds)),
	}
	return s
}

// Reset starts a new episode and returns its first observation. When
// sampleTrack is set a random built-in track is chosen for the
// episode. Relaunch and render exist for simulator parity and only
// reset the car harder or not at all.
func (s *Speedway) Reset(relaunch, sampleTrack, render bool) (mat.Vector,
	error) {
	if s.closed {
		return nil, fmt.Errorf("reset: environment is closed")
	}

	if sampleTrack {
		s.track = tracks[int(s.trackRNG.Start().AtVec(0))]
	}

	start := s.starter.Start()
	s.lateral = start.AtVec(0)
	s.angle = start.AtVec(1)
	s.pos = 0.0
	s.distance = 0.0
	s.speed = 0.0
	s.elapsed = 0.0
	if relaunch {
		s.lateral = 0.0
		s.angle = 0.0
	}
	for i := range s.pacers {
		s.pacers[i] = 0.0
	}

	return s.observation(), nil
}

// Step applies an action and advances the simulation one tick. The
// episode ends when the car leaves the track surface.
func (s *Speedway) Step(action mat.Vector) (mat.Vector, float64, bool,
	error) {
	if s.closed {
		return nil, 0, false, fmt.Errorf("step: environment is closed")
	}
	if action.Len() != ActionDims {
		return nil, 0, false, fmt.Errorf("step: invalid action size "+
			"\n\twant(%v)\n\thave(%v)", ActionDims, action.Len())
	}

	steer := floatutils.Clip(action.AtVec(Steer), -1.0, 1.0)
	throttle := floatutils.Clip((action.AtVec(Accelerate)+1.0)/2.0, 0.0, 1.0)
	brake := floatutils.Clip((action.AtVec(Brake)+1.0)/2.0, 0.0, 1.0)

	// Longitudinal dynamics
	s.speed += (throttle*maxAccel - brake*maxBrake - drag*s.speed) * dt
	s.speed = floatutils.Clip(s.speed, 0.0, maxSpeed)
	ms := s.speed / 3.6 // m/s

	// Lateral dynamics: steering turns the car, the road curvature
	// turns the road underneath it
	grip := 1.0 / (1.0 + s.speed/maxSpeed)
	s.angle += (steer*steerRate*grip - s.track.curvature(s.pos)) * ms * dt
	s.angle = math.Mod(s.angle+math.Pi, 2.0*math.Pi) - math.Pi
	s.lateral += math.Sin(s.angle) * ms * dt

	forward := math.Cos(s.angle) * ms * dt
	s.pos = math.Mod(s.pos+forward, s.track.length)
	s.distance += forward
	s.elapsed += dt
	for i, v := range pacerSpeeds {
		s.pacers[i] += v / 3.6 * dt
	}

	offTrack := math.Abs(s.lateral) >= halfWidth

	// Progress along the track axis is rewarded, drifting sideways
	// and going off the surface are punished
	reward := ms * (math.Cos(s.angle) - math.Abs(math.Sin(s.angle)) -
		math.Abs(s.lateral)/halfWidth)
	if offTrack {
		reward = -1.0 * maxSpeed / 3.6
	}

	return s.observation(), reward, offTrack, nil
}

// observation builds the current state vector: heading error, scaled
// lateral offset, scaled speed, and the road curvature sampled ahead
// of the car
func (s *Speedway) observation() mat.Vector {
	obs := make([]float64, ObservationDims)
	obs[0] = s.angle / math.Pi
	obs[1] = s.lateral / halfWidth
	obs[2] = s.speed / maxSpeed
	for i := 0; i < lookaheadSensors; i++ {
		ahead := math.Mod(s.pos+float64(i+1)*sensorSpread, s.track.length)
		obs[3+i] = s.track.curvature(ahead) / 0.015
	}
	return mat.NewVecDense(ObservationDims, obs)
}

// SampleAction draws a uniformly random action from the action space
func (s *Speedway) SampleAction() mat.Vector {
	action := make([]float64, ActionDims)
	for i := range action {
		action[i] = s.rng.Float64()*2.0 - 1.0
	}
	return mat.NewVecDense(ActionDims, action)
}

// ActionSpec returns the action specification of the environment
func (s *Speedway) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	lower := mat.NewVecDense(ActionDims, []float64{-1.0, -1.0, -1.0})
	upper := mat.NewVecDense(ActionDims, []float64{1.0, 1.0, 1.0})
	return environment.NewSpec(shape, environment.Action, lower, upper,
		environment.Continuous)
}

// ObservationSpec returns the observation specification of the
// environment
func (s *Speedway) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)
	lower := mat.NewVecDense(ObservationDims, []float64{-1.0, -1.0, 0.0,
		-1.0, -1.0, -1.0, -1.0})
	upper := mat.NewVecDense(ObservationDims, []float64{1.0, 1.0, 1.0,
		1.0, 1.0, 1.0, 1.0})
	return environment.NewSpec(shape, environment.Observation, lower, upper,
		environment.Continuous)
}

// TrackName returns the name of the current track
func (s *Speedway) TrackName() string {
	return s.track.name
}

// LastSpeed returns the car's current speed in km/h
func (s *Speedway) LastSpeed() float64 {
	return s.speed
}

// RacePosition returns the car's position in the simulated field
func (s *Speedway) RacePosition() int {
	position := 1
	for _, p := range s.pacers {
		if p > s.distance {
			position++
		}
	}
	return position
}

// Close shuts the environment down; all later calls fail
func (s *Speedway) Close() error {
	s.closed = true
	return nil
}
