// Package trainer drives the training of an agent on a driving
// environment: the episode/step/learn loops, the early-braking
// demonstration heuristic, truncation handling, per-episode logging,
// and periodic checkpointing and evaluation.
package trainer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/racekit/sacdrive/agent"
	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/wrappers"
	"github.com/racekit/sacdrive/timestep"
)

// Trainer runs the training loop of an agent on an environment
type Trainer struct {
	config Config
	env    environment.Environment
	agent  agent.Agent
	log    zerolog.Logger

	// Non-nil when the environment supports forced braking and the
	// heuristic is enabled
	braker wrappers.Braker

	rng *rand.Rand

	totalStep int
}

// New returns a new Trainer. When the configuration names a checkpoint
// to load and the file does not exist, training starts from fresh
// parameters; a present but malformed checkpoint is a fatal error.
func New(env environment.Environment, a agent.Agent, c Config,
	log zerolog.Logger) (*Trainer, error) {
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("trainer: invalid config: %v", err)
	}

	t := &Trainer{
		config: c,
		env:    env,
		agent:  a,
		log:    log,
		rng:    rand.New(rand.NewSource(c.Seed)),
	}

	if c.BrakeEnable {
		braker, ok := env.(wrappers.Braker)
		if !ok {
			return nil, fmt.Errorf("trainer: braking heuristic enabled " +
				"but the environment cannot force braking")
		}
		t.braker = braker
	}

	if c.LoadFrom != "" {
		err := a.Load(c.LoadFrom)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("path", c.LoadFrom).
				Msg("checkpoint not found, starting fresh")
		case err != nil:
			return nil, fmt.Errorf("trainer: %v", err)
		default:
			log.Info().Str("path", c.LoadFrom).Msg("loaded checkpoint")
		}
	}

	return t, nil
}

// Train runs the configured number of episodes, then checkpoints,
// evaluates, and closes the environment
func (t *Trainer) Train() error {
	t.agent.Train()

	for episode := 1; episode <= t.config.EpisodeNum; episode++ {
		if err := t.runEpisode(episode); err != nil {
			return err
		}

		if episode%t.config.SavePeriod == 0 {
			if err := t.save(episode); err != nil {
				return err
			}
		}
		if episode%t.config.TestPeriod == 0 {
			if err := t.interimTest(); err != nil {
				return err
			}
		}
	}

	if err := t.save(t.config.EpisodeNum); err != nil {
		return err
	}
	if err := t.interimTest(); err != nil {
		return err
	}
	return t.env.Close()
}

// runEpisode runs a single training episode: interaction, learning,
// and the episode log record
func (t *Trainer) runEpisode(episode int) error {
	relaunch := (episode-1)%t.config.RelaunchPeriod == 0
	state, err := t.env.Reset(relaunch, true, t.config.Render)
	if err != nil {
		return fmt.Errorf("trainer: reset failed: %v", err)
	}

	var (
		score       float64
		episodeStep int
		speeds      []float64
		lossSum     agent.Losses
		lossCount   int
	)

	for {
		action, err := t.agent.SelectAction(state)
		if err != nil {
			return fmt.Errorf("trainer: %v", err)
		}
		t.totalStep++
		action = t.maybeBrake(action)

		nextState, reward, done, err := t.env.Step(action)
		if err != nil {
			return fmt.Errorf("trainer: step failed: %v", err)
		}
		episodeStep++

		// A terminal caused by the step cap is artificial: the value
		// of the post-cap state is still worth bootstrapping from
		doneBool := done
		if episodeStep == t.config.MaxEpisodeSteps {
			doneBool = false
		}

		err = t.agent.Observe(timestep.New(state, action, reward,
			nextState, doneBool))
		if err != nil {
			return fmt.Errorf("trainer: %v", err)
		}

		state = nextState
		score += reward
		speeds = append(speeds, t.env.LastSpeed())

		losses, learned, err := t.agent.Update()
		if err != nil {
			return fmt.Errorf("trainer: %v", err)
		}
		if learned {
			lossSum = lossSum.Add(losses)
			lossCount++
		}

		if done || episodeStep >= t.config.MaxEpisodeSteps {
			break
		}
	}

	if err := t.agent.EndEpisode(); err != nil {
		return fmt.Errorf("trainer: %v", err)
	}

	if lossCount > 0 {
		avg := lossSum.Scale(1.0 / float64(lossCount))
		t.writeLog(episode, episodeStep, score, avg, speeds)
	}
	return nil
}

// maybeBrake applies the early-braking heuristic: young runs brake
// with a probability following a Gaussian-shaped curve over elapsed
// total steps
func (t *Trainer) maybeBrake(action mat.Vector) mat.Vector {
	if t.braker == nil || t.totalStep >= t.config.BrakeRegion {
		return action
	}

	x := float64(t.totalStep) - t.config.BrakeDistMu
	curve := math.Exp(-x * x / (2.0 * t.config.BrakeDistSigma *
		t.config.BrakeDistSigma))
	if t.rng.Float64() < curve*t.config.BrakeFactor {
		return t.braker.TryBrake(action)
	}
	return action
}

// writeLog emits the per-episode record: structured to the logger and,
// when configured, semicolon-delimited to the episode log file
func (t *Trainer) writeLog(episode, episodeStep int, score float64,
	avg agent.Losses, speeds []float64) {
	// The total sums the unscaled averages; only the separate actor
	// field is scaled back up by the delayed-update cadence so the
	// skipped invocations, reported as zero, do not deflate it
	totalLoss := avg.Total()
	actorLoss := avg.Actor * float64(t.config.PolicyUpdateFreq)

	var maxSpeed, avgSpeed float64
	if len(speeds) > 0 {
		maxSpeed = floats.Max(speeds)
		avgSpeed = floats.Sum(speeds) / float64(len(speeds))
	}

	t.log.Info().
		Int("episode", episode).
		Int("episode_step", episodeStep).
		Int("total_step", t.totalStep).
		Float64("score", score).
		Float64("total_loss", totalLoss).
		Float64("actor_loss", actorLoss).
		Float64("qf_1_loss", avg.QF1).
		Float64("qf_2_loss", avg.QF2).
		Float64("vf_loss", avg.VF).
		Float64("alpha_loss", avg.Alpha).
		Str("track_name", t.env.TrackName()).
		Int("race_position", t.env.RacePosition()).
		Float64("max_speed", maxSpeed).
		Float64("avg_speed", avgSpeed).
		Msg("episode finished")

	if t.config.LogFile == "" {
		return
	}
	file, err := os.OpenFile(t.config.LogFile,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.log.Error().Err(err).Msg("could not open episode log file")
		return
	}
	defer file.Close()

	fmt.Fprintf(file,
		"%d;%d;%d;%d;%.3f;%.3f;%.3f;%.3f;%.3f;%.3f;%s;%d;%.2f;%.2f\n",
		episode, episodeStep, t.totalStep, int(score), totalLoss,
		actorLoss, avg.QF1, avg.QF2, avg.VF, avg.Alpha,
		t.env.TrackName(), t.env.RacePosition(), maxSpeed, avgSpeed)
}

// save persists the agent's state under the checkpoint directory
func (t *Trainer) save(episode int) error {
	if err := os.MkdirAll(t.config.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("trainer: could not create checkpoint "+
			"directory: %v", err)
	}
	path := filepath.Join(t.config.CheckpointDir,
		fmt.Sprintf("sac_%06d.ckpt", episode))
	if err := t.agent.Save(path); err != nil {
		return fmt.Errorf("trainer: %v", err)
	}
	t.log.Info().Str("path", path).Msg("saved checkpoint")
	return nil
}

// interimTest runs deterministic evaluation episodes without storing
// experience or learning
func (t *Trainer) interimTest() error {
	t.agent.Eval()
	defer t.agent.Train()

	for i := 1; i <= t.config.InterimTestNum; i++ {
		score, steps, err := t.evalEpisode()
		if err != nil {
			return err
		}
		t.log.Info().
			Int("test_episode", i).
			Int("episode_step", steps).
			Float64("score", score).
			Str("track_name", t.env.TrackName()).
			Msg("evaluation episode finished")
	}
	return nil
}

// Evaluate runs evaluation episodes and returns the average score;
// used by the test command
func (t *Trainer) Evaluate(episodes int) (float64, error) {
	t.agent.Eval()
	var total float64
	for i := 1; i <= episodes; i++ {
		score, steps, err := t.evalEpisode()
		if err != nil {
			return 0, err
		}
		t.log.Info().
			Int("test_episode", i).
			Int("episode_step", steps).
			Float64("score", score).
			Str("track_name", t.env.TrackName()).
			Msg("evaluation episode finished")
		total += score
	}
	return total / float64(episodes), nil
}

func (t *Trainer) evalEpisode() (float64, int, error) {
	state, err := t.env.Reset(false, true, t.config.Render)
	if err != nil {
		return 0, 0, fmt.Errorf("trainer: reset failed: %v", err)
	}

	var score float64
	var steps int
	for {
		action, err := t.agent.SelectAction(state)
		if err != nil {
			return 0, 0, fmt.Errorf("trainer: %v", err)
		}
		nextState, reward, done, err := t.env.Step(action)
		if err != nil {
			return 0, 0, fmt.Errorf("trainer: step failed: %v", err)
		}
		steps++
		score += reward
		state = nextState

		if done || steps >= t.config.MaxEpisodeSteps {
			break
		}
	}
	if err := t.agent.EndEpisode(); err != nil {
		return 0, 0, fmt.Errorf("trainer: %v", err)
	}
	return score, steps, nil
}
