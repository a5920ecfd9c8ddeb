package sac

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"

	"github.com/racekit/sacdrive/network"
	"github.com/racekit/sacdrive/solver"
)

// Checkpoint entry keys. Every key is required in a checkpoint except
// the entropy optimizer, present only when auto-tuning is enabled.
const (
	keyActor      = "actor"
	keyQF1        = "qf_1"
	keyQF2        = "qf_2"
	keyVF         = "vf"
	keyVFTarget   = "vf_target"
	keyActorOptim = "actor_optim"
	keyQF1Optim   = "qf_1_optim"
	keyQF2Optim   = "qf_2_optim"
	keyVFOptim    = "vf_optim"
	keyAlphaOptim = "alpha_optim"
)

var requiredKeys = []string{keyActor, keyQF1, keyQF2, keyVF, keyVFTarget,
	keyActorOptim, keyQF1Optim, keyQF2Optim, keyVFOptim}

// Save persists the weights of every network and the configuration of
// every optimizer to path as a single gob-encoded mapping
func (s *SAC) Save(path string) error {
	entries := map[string][]byte{}

	nets := map[string]network.NeuralNet{
		keyActor:    s.actor,
		keyQF1:      s.qf1,
		keyQF2:      s.qf2,
		keyVF:       s.vf,
		keyVFTarget: s.vfTarget,
	}
	for key, net := range nets {
		data, err := network.EncodeState(net)
		if err != nil {
			return fmt.Errorf("save: could not encode %v: %v", key, err)
		}
		entries[key] = data
	}

	solvers := map[string]*solver.Solver{
		keyActorOptim: s.actorSolver,
		keyQF1Optim:   s.qfSolver[0],
		keyQF2Optim:   s.qfSolver[1],
		keyVFOptim:    s.vfSolver,
	}
	if s.config.AutoEntropyTuning {
		solvers[keyAlphaOptim] = s.alphaSolver
	}
	for key, solv := range solvers {
		data, err := json.Marshal(solv)
		if err != nil {
			return fmt.Errorf("save: could not encode %v: %v", key, err)
		}
		entries[key] = data
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: could not create %v: %v", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		return fmt.Errorf("save: could not write %v: %v", path, err)
	}
	return nil
}

// Load restores network weights and optimizer configurations
// previously persisted with Save. Every required key must be present;
// a checkpoint missing any of them is rejected.
func (s *SAC) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	defer file.Close()

	entries := map[string][]byte{}
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("load: could not decode %v: %v", path, err)
	}

	required := requiredKeys
	if s.config.AutoEntropyTuning {
		required = append(append([]string{}, required...), keyAlphaOptim)
	}
	for _, key := range required {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("load: checkpoint %v is missing key %v", path,
				key)
		}
	}

	nets := map[string]network.NeuralNet{
		keyActor:    s.actor,
		keyQF1:      s.qf1,
		keyQF2:      s.qf2,
		keyVF:       s.vf,
		keyVFTarget: s.vfTarget,
	}
	for key, net := range nets {
		if err := network.DecodeState(net, entries[key]); err != nil {
			return fmt.Errorf("load: could not restore %v: %v", key, err)
		}
	}

	solvers := map[string]**solver.Solver{
		keyActorOptim: &s.actorSolver,
		keyQF1Optim:   &s.qfSolver[0],
		keyQF2Optim:   &s.qfSolver[1],
		keyVFOptim:    &s.vfSolver,
	}
	if s.config.AutoEntropyTuning {
		solvers[keyAlphaOptim] = &s.alphaSolver
	}
	for key, target := range solvers {
		restored := &solver.Solver{}
		if err := json.Unmarshal(entries[key], restored); err != nil {
			return fmt.Errorf("load: could not restore %v: %v", key, err)
		}
		*target = restored
	}

	// Action selection must see the restored actor weights
	if err := network.Set(s.selActor, s.actor); err != nil {
		return fmt.Errorf("load: could not sync selection policy: %v", err)
	}
	return nil
}
