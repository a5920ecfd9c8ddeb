package sac

import (
	"fmt"

	"github.com/racekit/sacdrive/network"
)

// Default hyperparameters, matching the reference driving setup
const (
	DefaultGamma            float64 = 0.99
	DefaultTau              float64 = 5e-3
	DefaultLearningRate     float64 = 3e-4
	DefaultBatchSize        int     = 32
	DefaultPolicyUpdateFreq int     = 2
	DefaultBufferCapacity   int     = 100000
	DefaultEpisodeCapacity  int     = 1000
	DefaultStepSize         int     = 16
)

// Config describes a soft actor-critic agent. All fields are read once
// at construction; the agent never consults the Config afterwards.
type Config struct {
	// Discounting and target tracking
	Gamma float64 `mapstructure:"gamma"`
	Tau   float64 `mapstructure:"tau"`

	// Per-network learning rates
	ActorLR   float64 `mapstructure:"actor_lr"`
	QFLR      float64 `mapstructure:"qf_lr"`
	VFLR      float64 `mapstructure:"vf_lr"`
	EntropyLR float64 `mapstructure:"entropy_lr"`

	BatchSize        int `mapstructure:"batch_size"`
	PolicyUpdateFreq int `mapstructure:"policy_update_freq"`

	// Entropy regularization. When AutoEntropyTuning is set the
	// entropy coefficient is learned towards TargetEntropy (zero
	// means the -|action| convention); otherwise EntropyWeight is
	// used unchanged for the agent's lifetime.
	AutoEntropyTuning bool    `mapstructure:"auto_entropy_tuning"`
	EntropyWeight     float64 `mapstructure:"entropy_weight"`
	TargetEntropy     float64 `mapstructure:"target_entropy"`

	// Actor regularization weights
	WMeanReg          float64 `mapstructure:"w_mean_reg"`
	WStdReg           float64 `mapstructure:"w_std_reg"`
	WPreActivationReg float64 `mapstructure:"w_pre_activation_reg"`

	// Number of environment steps during which actions are drawn
	// uniformly from the action space
	InitialRandomActions int `mapstructure:"initial_random_actions"`

	// Minimum buffer occupancy, in transitions, before learning
	// updates begin. Never below BatchSize.
	PrefillBuffer int `mapstructure:"prefill_buffer"`

	// Consecutive learning updates per Update call
	MultipleLearn int `mapstructure:"multiple_learn"`

	// Experience storage. BufferCapacity counts transitions for the
	// stateless agent and whole episodes for the recurrent one.
	BufferCapacity int `mapstructure:"buffer_capacity"`

	// Recurrence. A positive LSTMLayers selects the recurrent agent;
	// StepSize is the sampled window length.
	LSTMLayers int `mapstructure:"lstm_layers"`
	StepSize   int `mapstructure:"step_size"`

	HiddenSizes []int `mapstructure:"hidden_sizes"`

	Seed uint64 `mapstructure:"seed"`
}

// Recurrent returns whether the configuration describes the recurrent
// agent variant
func (c Config) Recurrent() bool {
	return c.LSTMLayers > 0
}

// arch returns the network architecture the configuration describes
func (c Config) arch() network.Arch {
	return network.Arch{HiddenSizes: c.HiddenSizes, LSTMLayers: c.LSTMLayers}
}

// withDefaults fills unset fields with default values
func (c Config) withDefaults() Config {
	if c.Gamma == 0 {
		c.Gamma = DefaultGamma
	}
	if c.Tau == 0 {
		c.Tau = DefaultTau
	}
	if c.ActorLR == 0 {
		c.ActorLR = DefaultLearningRate
	}
	if c.QFLR == 0 {
		c.QFLR = DefaultLearningRate
	}
	if c.VFLR == 0 {
		c.VFLR = DefaultLearningRate
	}
	if c.EntropyLR == 0 {
		c.EntropyLR = DefaultLearningRate
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PolicyUpdateFreq == 0 {
		c.PolicyUpdateFreq = DefaultPolicyUpdateFreq
	}
	if c.MultipleLearn == 0 {
		c.MultipleLearn = 1
	}
	if c.PrefillBuffer < c.BatchSize {
		c.PrefillBuffer = c.BatchSize
	}
	if c.BufferCapacity == 0 {
		if c.Recurrent() {
			c.BufferCapacity = DefaultEpisodeCapacity
		} else {
			c.BufferCapacity = DefaultBufferCapacity
		}
	}
	if c.Recurrent() && c.StepSize == 0 {
		c.StepSize = DefaultStepSize
	}
	if len(c.HiddenSizes) == 0 {
		c.HiddenSizes = []int{256, 256, 256}
	}
	return c
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.Tau <= 0 || c.Tau >= 1 {
		return fmt.Errorf("tau must be in (0, 1)")
	}
	for name, lr := range map[string]float64{
		"actor": c.ActorLR, "qf": c.QFLR, "vf": c.VFLR,
		"entropy": c.EntropyLR,
	} {
		if lr <= 0 {
			return fmt.Errorf("%v learning rate must be positive", name)
		}
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PolicyUpdateFreq < 1 {
		return fmt.Errorf("policy update frequency must be positive")
	}
	if !c.AutoEntropyTuning && c.EntropyWeight < 0 {
		return fmt.Errorf("fixed entropy weight cannot be negative")
	}
	if c.WMeanReg < 0 || c.WStdReg < 0 || c.WPreActivationReg < 0 {
		return fmt.Errorf("regularization weights cannot be negative")
	}
	if c.InitialRandomActions < 0 {
		return fmt.Errorf("initial random action count cannot be negative")
	}
	if c.MultipleLearn < 1 {
		return fmt.Errorf("multiple learn count must be positive")
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer capacity must be positive")
	}
	if c.LSTMLayers < 0 {
		return fmt.Errorf("lstm layer count cannot be negative")
	}
	if c.Recurrent() && c.StepSize < 1 {
		return fmt.Errorf("recurrent agents need a positive step size")
	}
	if !c.Recurrent() && c.StepSize > 1 {
		return fmt.Errorf("step size above 1 requires lstm layers")
	}
	for _, size := range c.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("hidden sizes must be positive")
		}
	}
	return nil
}
