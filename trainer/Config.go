package trainer

import "fmt"

// Config describes a training run
type Config struct {
	EpisodeNum      int `mapstructure:"episode_num"`
	MaxEpisodeSteps int `mapstructure:"max_episode_steps"`

	// Checkpoints are written every SavePeriod episodes and a
	// deterministic evaluation of InterimTestNum episodes runs every
	// TestPeriod episodes
	SavePeriod     int `mapstructure:"save_period"`
	TestPeriod     int `mapstructure:"test_period"`
	InterimTestNum int `mapstructure:"interim_test_num"`

	// The simulator is fully relaunched every RelaunchPeriod
	// episodes instead of soft-reset
	RelaunchPeriod int  `mapstructure:"relaunch_period"`
	Render         bool `mapstructure:"render"`

	CheckpointDir string `mapstructure:"checkpoint_dir"`
	LoadFrom      string `mapstructure:"load_from"`

	// When set, one semicolon-delimited record per episode is
	// appended to this file
	LogFile string `mapstructure:"log_file"`

	// Mirrors the agent's delayed-update cadence; the actor loss in
	// episode records is scaled by it so that skipped policy steps do
	// not deflate the reported value
	PolicyUpdateFreq int `mapstructure:"policy_update_freq"`

	// Early-braking heuristic: while the run is younger than
	// BrakeRegion total steps, the agent's action is replaced by its
	// braking variant with probability BrakeFactor scaled by a
	// Gaussian curve over elapsed steps centered at BrakeDistMu with
	// width BrakeDistSigma
	BrakeEnable    bool    `mapstructure:"brake_enable"`
	BrakeRegion    int     `mapstructure:"brake_region"`
	BrakeDistMu    float64 `mapstructure:"brake_dist_mu"`
	BrakeDistSigma float64 `mapstructure:"brake_dist_sigma"`
	BrakeFactor    float64 `mapstructure:"brake_factor"`

	Seed uint64 `mapstructure:"seed"`
}

// withDefaults fills unset fields with default values
func (c Config) withDefaults() Config {
	if c.EpisodeNum == 0 {
		c.EpisodeNum = 1000
	}
	if c.MaxEpisodeSteps == 0 {
		c.MaxEpisodeSteps = 10000
	}
	if c.SavePeriod == 0 {
		c.SavePeriod = 50
	}
	if c.TestPeriod == 0 {
		c.TestPeriod = 100
	}
	if c.InterimTestNum == 0 {
		c.InterimTestNum = 1
	}
	if c.RelaunchPeriod == 0 {
		c.RelaunchPeriod = 10
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = "checkpoints"
	}
	if c.PolicyUpdateFreq == 0 {
		c.PolicyUpdateFreq = 1
	}
	return c
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.EpisodeNum < 1 {
		return fmt.Errorf("episode count must be positive")
	}
	if c.MaxEpisodeSteps < 1 {
		return fmt.Errorf("max episode steps must be positive")
	}
	if c.SavePeriod < 1 || c.TestPeriod < 1 {
		return fmt.Errorf("save and test periods must be positive")
	}
	if c.InterimTestNum < 1 {
		return fmt.Errorf("interim test episode count must be positive")
	}
	if c.RelaunchPeriod < 1 {
		return fmt.Errorf("relaunch period must be positive")
	}
	if c.PolicyUpdateFreq < 1 {
		return fmt.Errorf("policy update frequency must be positive")
	}
	if c.BrakeEnable {
		if c.BrakeRegion < 1 {
			return fmt.Errorf("brake region must be positive")
		}
		if c.BrakeDistSigma <= 0 {
			return fmt.Errorf("brake curve width must be positive")
		}
		if c.BrakeFactor < 0 || c.BrakeFactor > 1 {
			return fmt.Errorf("brake factor must be in [0, 1]")
		}
	}
	return nil
}
