// Package sac implements the soft actor-critic algorithm for
// continuous control, in both a stateless and a recurrent (LSTM)
// variant.
//
// The agent bundles five function approximators: a tanh-squashed
// Gaussian actor, twin action-value critics, a state-value critic, and
// a slow-moving target copy of the state-value critic updated by
// Polyak averaging. Each trained network lives on its own expression
// graph together with its loss; quantities crossing network boundaries
// are passed between graphs as concrete values, never as shared nodes,
// so no gradient can leak from one network's update into another's
// weights. The one place a cross-network gradient is required, the
// policy gradient through freshly sampled actions, is realized by
// embedding weight-synced copies of the critics into the actor's
// graph.
package sac

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"golang.org/x/exp/rand"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/racekit/sacdrive/agent"
	"github.com/racekit/sacdrive/environment"
	"github.com/racekit/sacdrive/initwfn"
	"github.com/racekit/sacdrive/network"
	"github.com/racekit/sacdrive/replay"
	"github.com/racekit/sacdrive/solver"
	"github.com/racekit/sacdrive/timestep"
)

var _ agent.Agent = (*SAC)(nil)

// SAC implements the agent.Agent interface using soft actor-critic
type SAC struct {
	config Config

	features int
	actions  int
	rows     int

	// Trained networks, each on its own graph
	actor    *network.GaussianActor
	qf1      *network.ActionValueMLP
	qf2      *network.ActionValueMLP
	vf       *network.ValueMLP
	vfTarget *network.ValueMLP

	// Weight-synced critic copies on the actor graph, through which
	// the policy gradient flows
	qf1Embed *network.EmbeddedActionValue
	qf2Embed *network.EmbeddedActionValue

	// Single-row policy used for action selection; weight-synced
	// with the actor whenever the actor steps
	selActor *network.GaussianActor

	// Loss placeholders
	alphaInput   *G.Node // actor graph, scalar α
	vPredInput   *G.Node // actor graph, detached V(s)
	qTargetInput [2]*G.Node
	vTargetInput *G.Node

	// Loss read values
	actorLossVal G.Value
	qfLossVal    [2]G.Value
	vfLossVal    G.Value
	alphaLossVal G.Value

	// Entropy coefficient machinery
	logAlpha      *G.Node
	logProbInput  *G.Node
	alphaVM       G.VM
	alphaSolver   *solver.Solver
	alpha         float64
	targetEntropy float64

	actorVM    G.VM
	qfVM       [2]G.VM
	vfVM       G.VM
	vfTargetVM G.VM
	selVM      G.VM

	actorSolver *solver.Solver
	qfSolver    [2]*solver.Solver
	vfSolver    *solver.Solver

	buffer replay.Buffer

	sampleAction func() mat.Vector
	normal       distuv.Normal

	updateStep int
	totalSteps int
	eval       bool

	zeroCol *tensor.Dense
}

// New returns a new soft actor-critic agent acting in env
func New(env environment.Environment, c Config) (*SAC, error) {
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("sac: invalid config: %v", err)
	}

	actionSpec := env.ActionSpec()
	if actionSpec.Cardinality == environment.Discrete {
		return nil, fmt.Errorf("sac: environment has discrete actions, " +
			"but the squashed Gaussian policy emits continuous actions")
	}

	features := env.ObservationSpec().Shape.Len()
	actions := actionSpec.Shape.Len()

	steps := 1
	if c.Recurrent() {
		steps = c.StepSize
	}

	s := &SAC{
		config:   c,
		features: features,
		actions:  actions,
		rows:     c.BatchSize * steps,
		normal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(c.Seed),
		},
		sampleAction: env.SampleAction,
		alpha:        c.EntropyWeight,
	}

	if c.AutoEntropyTuning {
		s.alpha = 1.0
		s.targetEntropy = c.TargetEntropy
		if s.targetEntropy == 0 {
			s.targetEntropy = -float64(actions)
		}
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create weight init: %v", err)
	}

	if err := s.createNetworks(init.InitWFn(), steps); err != nil {
		return nil, err
	}
	if err := s.createLosses(); err != nil {
		return nil, err
	}
	if err := s.createSolvers(); err != nil {
		return nil, err
	}

	// The target starts as an exact copy of the value network and the
	// selection policy as an exact copy of the actor
	if err := network.Set(s.vfTarget, s.vf); err != nil {
		return nil, fmt.Errorf("sac: could not initialize target: %v", err)
	}
	if err := network.Set(s.selActor, s.actor); err != nil {
		return nil, fmt.Errorf("sac: could not initialize selection "+
			"policy: %v", err)
	}

	if c.Recurrent() {
		s.buffer, err = replay.NewEpisodeBuffer(c.BufferCapacity,
			c.BatchSize, c.StepSize, features, actions, c.Seed)
	} else {
		s.buffer, err = replay.NewTransitionBuffer(c.BufferCapacity,
			c.BatchSize, features, actions, c.Seed)
	}
	if err != nil {
		return nil, fmt.Errorf("sac: could not create replay buffer: %v",
			err)
	}

	s.zeroCol = tensor.New(tensor.Of(tensor.Float64),
		tensor.WithShape(s.rows, 1))

	return s, nil
}

// createNetworks constructs the five training networks and the
// selection policy
func (s *SAC) createNetworks(init G.InitWFn, steps int) error {
	arch := s.config.arch()
	var err error

	s.actor, err = network.NewGaussianActor(s.features, s.actions,
		s.config.BatchSize, steps, arch, init, "Actor", false)
	if err != nil {
		return fmt.Errorf("sac: could not create actor: %v", err)
	}

	for i, prefix := range []string{"QF1", "QF2"} {
		q, err := network.NewActionValueMLP(s.features, s.actions,
			s.config.BatchSize, steps, arch, init, prefix)
		if err != nil {
			return fmt.Errorf("sac: could not create critic %v: %v", i+1, err)
		}
		if i == 0 {
			s.qf1 = q
		} else {
			s.qf2 = q
		}
	}

	s.vf, err = network.NewValueMLP(s.features, s.config.BatchSize, steps,
		arch, init, "VF")
	if err != nil {
		return fmt.Errorf("sac: could not create value network: %v", err)
	}
	s.vfTarget, err = network.NewValueMLP(s.features, s.config.BatchSize,
		steps, arch, init, "VFTarget")
	if err != nil {
		return fmt.Errorf("sac: could not create target network: %v", err)
	}

	s.selActor, err = network.NewGaussianActor(s.features, s.actions, 1, 1,
		arch, init, "SelectionActor", s.config.Recurrent())
	if err != nil {
		return fmt.Errorf("sac: could not create selection policy: %v", err)
	}

	return nil
}

// createLosses attaches a loss and gradient computation to each
// trained network's graph and builds the corresponding VMs
func (s *SAC) createLosses() error {
	// Critic losses regress the stored-action prediction towards a
	// bootstrapped target entering as a placeholder
	for i, q := range []*network.ActionValueMLP{s.qf1, s.qf2} {
		g := q.Graph()
		s.qTargetInput[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(s.rows, 1),
			G.WithName(fmt.Sprintf("QF%vTargetInput", i+1)),
			G.WithInit(G.Zeroes()),
		)

		loss := G.Must(G.Mean(G.Must(G.Square(
			G.Must(G.Sub(q.Prediction(), s.qTargetInput[i]))))))
		G.Read(loss, &s.qfLossVal[i])

		if _, err := G.Grad(loss, q.Learnables()...); err != nil {
			return fmt.Errorf("sac: could not compute critic %v gradient: "+
				"%v", i+1, err)
		}
		s.qfVM[i] = G.NewTapeMachine(g,
			G.BindDualValues(q.Learnables()...))
	}

	// Value loss regresses V(s) towards min(Q1, Q2) - α·logπ, entering
	// as a placeholder
	{
		g := s.vf.Graph()
		s.vTargetInput = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(s.rows, 1),
			G.WithName("VFTargetInput"),
			G.WithInit(G.Zeroes()),
		)

		loss := G.Must(G.Mean(G.Must(G.Square(
			G.Must(G.Sub(s.vf.Prediction(), s.vTargetInput))))))
		G.Read(loss, &s.vfLossVal)

		if _, err := G.Grad(loss, s.vf.Learnables()...); err != nil {
			return fmt.Errorf("sac: could not compute value gradient: %v",
				err)
		}
		s.vfVM = G.NewTapeMachine(g,
			G.BindDualValues(s.vf.Learnables()...))
	}

	// The target network only runs forward
	s.vfTargetVM = G.NewTapeMachine(s.vfTarget.Graph())
	s.selVM = G.NewTapeMachine(s.selActor.Graph())

	if err := s.createActorLoss(); err != nil {
		return err
	}
	return s.createAlphaLoss()
}

// createActorLoss builds the policy objective on the actor graph. The
// critics enter as embedded weight copies fed by the actor's sampled
// actions, so the policy gradient flows through the sampling path; the
// value prediction enters detached as a placeholder.
func (s *SAC) createActorLoss() error {
	g := s.actor.Graph()

	s.alphaInput = G.NewScalar(
		g,
		tensor.Float64,
		G.WithName("AlphaInput"),
		G.WithValue(1.0),
	)
	s.vPredInput = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(s.rows, 1),
		G.WithName("VPredInput"),
		G.WithInit(G.Zeroes()),
	)

	var err error
	s.qf1Embed, err = s.qf1.EmbedTo(g, s.actor.StateInputNode(),
		s.actor.ActionNode())
	if err != nil {
		return fmt.Errorf("sac: could not embed critic 1: %v", err)
	}
	s.qf2Embed, err = s.qf2.EmbedTo(g, s.actor.StateInputNode(),
		s.actor.ActionNode())
	if err != nil {
		return fmt.Errorf("sac: could not embed critic 2: %v", err)
	}

	// Elementwise minimum of the twin predictions:
	// min(a, b) = (a + b - |a - b|) / 2
	q1 := s.qf1Embed.Prediction()
	q2 := s.qf2Embed.Prediction()
	half := G.NewConstant(0.5)
	qMin := G.Must(G.Mul(half, G.Must(G.Sub(G.Must(G.Add(q1, q2)),
		G.Must(G.Abs(G.Must(G.Sub(q1, q2))))))))

	advantage := G.Must(G.Sub(qMin, s.vPredInput))
	loss := G.Must(G.Mean(G.Must(G.Sub(
		G.Must(G.Mul(s.alphaInput, s.actor.LogProbNode())), advantage))))

	// Regularization discouraging saturation of the squashed policy
	if w := s.config.WMeanReg; w > 0 {
		reg := G.Must(G.Mul(G.NewConstant(w),
			G.Must(G.Mean(G.Must(G.Square(s.actor.MeanNode()))))))
		loss = G.Must(G.Add(loss, reg))
	}
	if w := s.config.WStdReg; w > 0 {
		reg := G.Must(G.Mul(G.NewConstant(w),
			G.Must(G.Mean(G.Must(G.Square(s.actor.StdNode()))))))
		loss = G.Must(G.Add(loss, reg))
	}
	if w := s.config.WPreActivationReg; w > 0 {
		reg := G.Must(G.Mul(G.NewConstant(w), G.Must(G.Mean(
			G.Must(G.Sum(G.Must(G.Square(s.actor.PreTanhNode())), 1))))))
		loss = G.Must(G.Add(loss, reg))
	}
	G.Read(loss, &s.actorLossVal)

	if _, err := G.Grad(loss, s.actor.Learnables()...); err != nil {
		return fmt.Errorf("sac: could not compute actor gradient: %v", err)
	}
	s.actorVM = G.NewTapeMachine(g,
		G.BindDualValues(s.actor.Learnables()...))

	return nil
}

// createAlphaLoss builds the entropy-coefficient objective on its own
// tiny graph. The coefficient is parameterized as exp(logα) so it
// stays positive.
func (s *SAC) createAlphaLoss() error {
	if !s.config.AutoEntropyTuning {
		return nil
	}

	g := G.NewGraph()
	s.logAlpha = G.NewScalar(
		g,
		tensor.Float64,
		G.WithName("LogAlpha"),
		G.WithValue(0.0),
	)
	s.logProbInput = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(s.rows, 1),
		G.WithName("LogProbInput"),
		G.WithInit(G.Zeroes()),
	)

	loss := G.Must(G.Neg(G.Must(G.Mean(G.Must(G.Mul(s.logAlpha,
		G.Must(G.Add(s.logProbInput,
			G.NewConstant(s.targetEntropy)))))))))
	G.Read(loss, &s.alphaLossVal)

	if _, err := G.Grad(loss, s.logAlpha); err != nil {
		return fmt.Errorf("sac: could not compute entropy gradient: %v", err)
	}
	s.alphaVM = G.NewTapeMachine(g, G.BindDualValues(s.logAlpha))

	return nil
}

// createSolvers builds one independent optimizer per trained network
func (s *SAC) createSolvers() error {
	var err error
	if s.actorSolver, err = solver.NewDefaultAdam(s.config.ActorLR,
		1); err != nil {
		return fmt.Errorf("sac: could not create actor solver: %v", err)
	}
	for i := range s.qfSolver {
		if s.qfSolver[i], err = solver.NewDefaultAdam(s.config.QFLR,
			1); err != nil {
			return fmt.Errorf("sac: could not create critic %v solver: %v",
				i+1, err)
		}
	}
	if s.vfSolver, err = solver.NewDefaultAdam(s.config.VFLR, 1); err != nil {
		return fmt.Errorf("sac: could not create value solver: %v", err)
	}
	if s.config.AutoEntropyTuning {
		if s.alphaSolver, err = solver.NewDefaultAdam(s.config.EntropyLR,
			1); err != nil {
			return fmt.Errorf("sac: could not create entropy solver: %v",
				err)
		}
	}
	return nil
}

// SelectAction returns the action to take in state. During the warm-up
// window actions are drawn uniformly from the action space; afterwards
// they are sampled from the policy, or taken as the distribution mode
// in evaluation mode.
func (s *SAC) SelectAction(state mat.Vector) (mat.Vector, error) {
	if state.Len() != s.features {
		return nil, fmt.Errorf("selectaction: invalid state size "+
			"\n\twant(%v)\n\thave(%v)", s.features, state.Len())
	}

	if !s.eval {
		s.totalSteps++
		if s.totalSteps <= s.config.InitialRandomActions {
			return s.sampleAction(), nil
		}
	}

	obs := make([]float64, s.features)
	for i := range obs {
		obs[i] = state.AtVec(i)
	}
	if err := s.selActor.SetInput(obs); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}

	noise := make([]float64, s.actions)
	if !s.eval {
		for i := range noise {
			noise[i] = s.normal.Rand()
		}
	}
	if err := s.selActor.SetNoise(noise); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}

	if err := s.selVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectaction: could not run policy: %v", err)
	}
	defer s.selVM.Reset()

	out := s.selActor.Actions()
	if s.eval {
		out = s.selActor.Mode()
	}
	action := mat.NewVecDense(s.actions,
		append([]float64(nil), out.Data().([]float64)...))

	if s.config.Recurrent() {
		if err := s.selActor.AdvanceState(); err != nil {
			return nil, fmt.Errorf("selectaction: %v", err)
		}
	}

	return action, nil
}

// Observe records a transition in the replay buffer
func (s *SAC) Observe(t timestep.Transition) error {
	if err := s.buffer.Add(t); err != nil {
		return fmt.Errorf("observe: %v", err)
	}
	return nil
}

// EndEpisode closes the currently recorded episode and resets the
// selection policy's recurrent state
func (s *SAC) EndEpisode() error {
	s.buffer.EndEpisode()
	if s.config.Recurrent() {
		if err := s.selActor.ResetState(); err != nil {
			return fmt.Errorf("endepisode: %v", err)
		}
	}
	return nil
}

// Train puts the agent in training mode
func (s *SAC) Train() { s.eval = false }

// Eval puts the agent in evaluation mode
func (s *SAC) Eval() { s.eval = true }

// Alpha returns the current entropy coefficient
func (s *SAC) Alpha() float64 { return s.alpha }

// TotalSteps returns the number of training-mode action selections so
// far
func (s *SAC) TotalSteps() int { return s.totalSteps }

// BufferLen returns the occupancy of the replay buffer
func (s *SAC) BufferLen() int { return s.buffer.Len() }

// Close releases the gradient machinery of all networks
func (s *SAC) Close() error {
	vms := []G.VM{s.actorVM, s.qfVM[0], s.qfVM[1], s.vfVM, s.vfTargetVM,
		s.selVM, s.alphaVM}
	for _, vm := range vms {
		if vm == nil {
			continue
		}
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}
