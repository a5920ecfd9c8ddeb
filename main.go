package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/racekit/sacdrive/agent/sac"
	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/environment/speedway"
	"github.com/racekit/sacdrive/environment/wrappers"
	"github.com/racekit/sacdrive/trainer"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sacdrive",
		Short:         "Soft actor-critic training for driving simulators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML hyperparameter file")

	train := &cobra.Command{
		Use:   "train",
		Short: "Train an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, _, err := buildStack(cmd, configPath)
			if err != nil {
				return err
			}
			return t.Train()
		},
	}

	var testEpisodes int
	test := &cobra.Command{
		Use:   "test",
		Short: "Evaluate a trained agent deterministically",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, log, err := buildStack(cmd, configPath)
			if err != nil {
				return err
			}
			avg, err := t.Evaluate(testEpisodes)
			if err != nil {
				return err
			}
			log.Info().Float64("avg_score", avg).
				Int("episodes", testEpisodes).Msg("evaluation finished")
			return nil
		},
	}
	test.Flags().IntVar(&testEpisodes, "episodes", 5,
		"number of evaluation episodes")

	for _, cmd := range []*cobra.Command{train, test} {
		flags := cmd.Flags()
		flags.Uint64("seed", 42, "random seed")
		flags.Int("episode-num", 0, "number of training episodes")
		flags.Int("max-episode-steps", 0, "step cap per episode")
		flags.Int("save-period", 0, "episodes between checkpoints")
		flags.Int("test-period", 0, "episodes between interim evaluations")
		flags.Int("interim-test-num", 0,
			"evaluation episodes per interim test")
		flags.String("load-from", "", "checkpoint to resume from")
		flags.String("log", "", "episode record file")
		flags.Bool("render", false, "render the simulator")
		root.AddCommand(cmd)
	}

	return root
}

// buildStack assembles environment, agent, and trainer from the
// configuration file and command-line flags
func buildStack(cmd *cobra.Command, configPath string) (*trainer.Trainer,
	zerolog.Logger, error) {
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, log, fmt.Errorf("could not read config: %v", err)
		}
	}

	flags := cmd.Flags()
	bindings := map[string]string{
		"seed":              "seed",
		"episode-num":       "trainer.episode_num",
		"max-episode-steps": "trainer.max_episode_steps",
		"save-period":       "trainer.save_period",
		"test-period":       "trainer.test_period",
		"interim-test-num":  "trainer.interim_test_num",
		"load-from":         "trainer.load_from",
		"log":               "trainer.log_file",
		"render":            "trainer.render",
	}
	for flag, key := range bindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, log, fmt.Errorf("could not bind --%v: %v", flag,
					err)
			}
		}
	}

	seed := v.GetUint64("seed")
	if seed == 0 {
		seed = 42
	}

	env, err := buildEnvironment(v, seed)
	if err != nil {
		return nil, log, err
	}

	var sacConfig sac.Config
	if sub := v.Sub("sac"); sub != nil {
		if err := sub.Unmarshal(&sacConfig); err != nil {
			return nil, log, fmt.Errorf("could not parse sac config: %v",
				err)
		}
	}
	if sacConfig.Seed == 0 {
		sacConfig.Seed = seed
	}
	if sacConfig.PolicyUpdateFreq == 0 {
		sacConfig.PolicyUpdateFreq = sac.DefaultPolicyUpdateFreq
	}

	a, err := sac.New(env, sacConfig)
	if err != nil {
		return nil, log, err
	}

	var trainConfig trainer.Config
	if sub := v.Sub("trainer"); sub != nil {
		if err := sub.Unmarshal(&trainConfig); err != nil {
			return nil, log, fmt.Errorf("could not parse trainer config: "+
				"%v", err)
		}
	}
	if trainConfig.Seed == 0 {
		trainConfig.Seed = seed
	}
	if trainConfig.PolicyUpdateFreq == 0 {
		trainConfig.PolicyUpdateFreq = sacConfig.PolicyUpdateFreq
	}

	t, err := trainer.New(env, a, trainConfig, log)
	if err != nil {
		closeErr := a.Close()
		if closeErr != nil {
			log.Error().Err(closeErr).Msg("could not close agent")
		}
		return nil, log, err
	}
	return t, log, nil
}

// buildEnvironment constructs the simulator and wraps it in the
// configured action shaping and observation stacking
func buildEnvironment(v *viper.Viper, seed uint64) (environment.Environment,
	error) {
	base := speedway.New(seed)

	var env environment.Environment
	wrapper := v.GetString("env.wrapper")
	switch wrapper {
	case "", "no_brake_no_backwards":
		env = wrappers.NewNoBrakeNoBackwards(base, seed)
	case "half_brake_no_backwards":
		env = wrappers.NewHalfBrakeNoBackwards(base, seed)
	case "no_backwards":
		env = wrappers.NewNoBackwards(base, seed)
	case "bits_pieces":
		env = wrappers.NewBitsPieces(base, seed)
	case "bits_pieces_cont":
		env = wrappers.NewBitsPiecesCont(base, seed)
	case "discretized":
		count := v.GetInt("env.action_count")
		if count == 0 {
			count = 9
		}
		discretized, err := wrappers.NewDiscretized(base, count, seed)
		if err != nil {
			return nil, err
		}
		env = discretized
	default:
		return nil, fmt.Errorf("unknown action wrapper %q", wrapper)
	}

	if nstack := v.GetInt("env.nstack"); nstack > 1 {
		stacked, err := wrappers.NewStacker(env, nstack)
		if err != nil {
			return nil, err
		}
		env = stacked
	}
	return env, nil
}
