package sac

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/racekit/sacdrive/agent"
	"github.com/racekit/sacdrive/network"
	"github.com/racekit/sacdrive/replay"
	"github.com/racekit/sacdrive/utils/floatutils"
)

// Update performs MultipleLearn consecutive learning updates, returning
// the losses averaged over them. Updates are skipped, with a false
// flag, until the replay buffer holds at least PrefillBuffer
// transitions.
func (s *SAC) Update() (agent.Losses, bool, error) {
	if s.buffer.Len() < s.config.PrefillBuffer {
		return agent.Losses{}, false, nil
	}

	var total agent.Losses
	for i := 0; i < s.config.MultipleLearn; i++ {
		losses, err := s.learn()
		if replay.IsInsufficientSamples(err) {
			// The occupancy check above cannot see whether the
			// episode buffer holds enough full windows yet
			return agent.Losses{}, false, nil
		}
		if err != nil {
			return agent.Losses{}, false, err
		}
		total = total.Add(losses)
	}

	return total.Scale(1.0 / float64(s.config.MultipleLearn)), true, nil
}

// learn performs a single gradient update of every network. The order
// is fixed: entropy coefficient, twin critics, value network, then the
// delayed policy step followed by the soft target sync. All forward
// quantities feeding a later step are computed before any parameter of
// the same invocation changes.
func (s *SAC) learn() (agent.Losses, error) {
	batch, err := s.buffer.Sample()
	if err != nil {
		return agent.Losses{}, err
	}
	s.updateStep++
	rows := batch.Rows()

	// The actor's view of the critics must be their pre-update
	// weights, fixed before anything steps
	if err := network.Set(s.qf1Embed, s.qf1); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: could not sync critic "+
			"copy 1: %v", err)
	}
	if err := network.Set(s.qf2Embed, s.qf2); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: could not sync critic "+
			"copy 2: %v", err)
	}

	// Sampling pass: draw fresh actions and their log density from
	// the current policy at the stored states. The loss placeholders
	// get dummy values; the loss of this pass is never read and no
	// solver steps.
	noise := make([]float64, rows*s.actions)
	for i := range noise {
		noise[i] = s.normal.Rand()
	}
	if err := s.actor.SetInput(batch.States); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: %v", err)
	}
	if err := s.actor.SetNoise(noise); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: %v", err)
	}
	if err := G.Let(s.alphaInput, s.alpha); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: could not set α: %v", err)
	}
	if err := G.Let(s.vPredInput, s.zeroCol); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: could not zero value "+
			"placeholder: %v", err)
	}
	if err := s.actorVM.RunAll(); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: sampling pass failed: %v",
			err)
	}
	newActions := append([]float64(nil),
		s.actor.Actions().Data().([]float64)...)
	logProb := append([]float64(nil),
		s.actor.LogProb().Data().([]float64)...)
	s.actorVM.Reset()

	// Entropy step
	var alphaLoss float64
	if s.config.AutoEntropyTuning {
		if alphaLoss, err = s.stepAlpha(logProb, rows); err != nil {
			return agent.Losses{}, err
		}
	}

	// Bootstrapped critic target from the slow-moving value target
	if err := s.vfTarget.SetInput(batch.NextStates); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: %v", err)
	}
	if err := s.vfTargetVM.RunAll(); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: target forward failed: "+
			"%v", err)
	}
	nextV := s.vfTarget.Output().Data().([]float64)
	qTarget := make([]float64, rows)
	for i := range qTarget {
		qTarget[i] = batch.Rewards[i] +
			s.config.Gamma*nextV[i]*(1.0-batch.Dones[i])
	}
	s.vfTargetVM.Reset()

	// Critic steps. Each critic also evaluates the freshly sampled
	// actions in the same run, before its own weights change.
	var qfLoss [2]float64
	var qNew [2][]float64
	for i, q := range []*network.ActionValueMLP{s.qf1, s.qf2} {
		if err := q.SetInput(batch.States, batch.Actions); err != nil {
			return agent.Losses{}, fmt.Errorf("learn: %v", err)
		}
		if err := q.SetNewActions(newActions); err != nil {
			return agent.Losses{}, fmt.Errorf("learn: %v", err)
		}
		err := G.Let(s.qTargetInput[i], tensor.New(
			tensor.WithShape(rows, 1),
			tensor.WithBacking(append([]float64(nil), qTarget...)),
		))
		if err != nil {
			return agent.Losses{}, fmt.Errorf("learn: could not set critic "+
				"%v target: %v", i+1, err)
		}

		if err := s.qfVM[i].RunAll(); err != nil {
			return agent.Losses{}, fmt.Errorf("learn: critic %v update "+
				"failed: %v", i+1, err)
		}
		qfLoss[i] = s.qfLossVal[i].Data().(float64)
		qNew[i] = append([]float64(nil),
			q.NewActionOutput().Data().([]float64)...)

		solv := s.qfSolver[i]
		if err := solv.Step(q.Model()); err != nil {
			return agent.Losses{}, fmt.Errorf("learn: critic %v solver "+
				"step failed: %v", i+1, err)
		}
		s.qfVM[i].Reset()
	}

	qMin := make([]float64, rows)
	floatutils.MinElem(qMin, qNew[0], qNew[1])

	// Value step: regress V(s) towards min(Q1, Q2) - α·logπ
	vTarget := make([]float64, rows)
	for i := range vTarget {
		vTarget[i] = qMin[i] - s.alpha*logProb[i]
	}
	if err := s.vf.SetInput(batch.States); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: %v", err)
	}
	err = G.Let(s.vTargetInput, tensor.New(
		tensor.WithShape(rows, 1),
		tensor.WithBacking(vTarget),
	))
	if err != nil {
		return agent.Losses{}, fmt.Errorf("learn: could not set value "+
			"target: %v", err)
	}
	if err := s.vfVM.RunAll(); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: value update failed: %v",
			err)
	}
	vfLoss := s.vfLossVal.Data().(float64)
	vPred := append([]float64(nil), s.vf.Output().Data().([]float64)...)
	if err := s.vfSolver.Step(s.vf.Model()); err != nil {
		return agent.Losses{}, fmt.Errorf("learn: value solver step "+
			"failed: %v", err)
	}
	s.vfVM.Reset()

	// Delayed policy step and target sync
	var actorLoss float64
	if s.updateStep%s.config.PolicyUpdateFreq == 0 {
		if actorLoss, err = s.stepActor(vPred, rows); err != nil {
			return agent.Losses{}, err
		}
	}

	return agent.Losses{
		Actor: actorLoss,
		QF1:   qfLoss[0],
		QF2:   qfLoss[1],
		VF:    vfLoss,
		Alpha: alphaLoss,
	}, nil
}

// stepAlpha gradient-steps logα against the sampled log density and
// refreshes the entropy coefficient from the updated value
func (s *SAC) stepAlpha(logProb []float64, rows int) (float64, error) {
	err := G.Let(s.logProbInput, tensor.New(
		tensor.WithShape(rows, 1),
		tensor.WithBacking(append([]float64(nil), logProb...)),
	))
	if err != nil {
		return 0, fmt.Errorf("learn: could not set entropy input: %v", err)
	}

	if err := s.alphaVM.RunAll(); err != nil {
		return 0, fmt.Errorf("learn: entropy update failed: %v", err)
	}
	loss := s.alphaLossVal.Data().(float64)

	if err := s.alphaSolver.Step([]G.ValueGrad{s.logAlpha}); err != nil {
		return 0, fmt.Errorf("learn: entropy solver step failed: %v", err)
	}
	s.alphaVM.Reset()

	s.alpha = math.Exp(s.logAlpha.Value().Data().(float64))
	return loss, nil
}

// stepActor reruns the actor graph with the real loss placeholder
// values, steps the actor, soft-updates the value target, and syncs
// the selection policy. The states and noise of the sampling pass are
// still bound, so the rerun reproduces the same sampled actions.
func (s *SAC) stepActor(vPred []float64, rows int) (float64, error) {
	if err := G.Let(s.alphaInput, s.alpha); err != nil {
		return 0, fmt.Errorf("learn: could not set α: %v", err)
	}
	err := G.Let(s.vPredInput, tensor.New(
		tensor.WithShape(rows, 1),
		tensor.WithBacking(vPred),
	))
	if err != nil {
		return 0, fmt.Errorf("learn: could not set value placeholder: %v",
			err)
	}

	if err := s.actorVM.RunAll(); err != nil {
		return 0, fmt.Errorf("learn: actor update failed: %v", err)
	}
	loss := s.actorLossVal.Data().(float64)

	if err := s.actorSolver.Step(s.actor.Model()); err != nil {
		return 0, fmt.Errorf("learn: actor solver step failed: %v", err)
	}
	s.actorVM.Reset()

	if err := network.Polyak(s.vfTarget, s.vf, s.config.Tau); err != nil {
		return 0, fmt.Errorf("learn: target sync failed: %v", err)
	}
	if err := network.Set(s.selActor, s.actor); err != nil {
		return 0, fmt.Errorf("learn: selection policy sync failed: %v", err)
	}

	return loss, nil
}
