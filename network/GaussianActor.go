package network

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	// Bounds that the predicted log standard deviation is squashed
	// into before exponentiation
	logStdMin float64 = -20.0
	logStdMax float64 = 2.0

	// Additive constant inside the tanh log-density correction,
	// keeping the logarithm finite when an action saturates
	logProbEps float64 = 1e-6
)

// GaussianActor is a stochastic policy network. It predicts the mean
// and log standard deviation of a diagonal Gaussian over pre-squash
// actions, draws a reparameterized sample z = μ + σ⊙ε from an
// externally supplied noise placeholder, and squashes it through tanh.
// The log density of the squashed sample is computed in-graph with the
// change-of-variables correction, so gradients of any loss built on it
// flow back into the network weights.
type GaussianActor struct {
	g     *G.ExprGraph
	trunk *mlpCore

	muLayer     *fcLayer
	logStdLayer *fcLayer

	input *G.Node
	noise *G.Node

	mu      *G.Node
	std     *G.Node
	preTanh *G.Node
	action  *G.Node
	logProb *G.Node
	mode    *G.Node

	actionVal  G.Value
	logProbVal G.Value
	modeVal    G.Value

	// Recurrent state carried across action selections. Nil unless
	// the actor was built with carryState.
	carryH []*G.Node
	carryC []*G.Node
	hVals  []G.Value
	cVals  []G.Value

	features int
	actions  int

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewGaussianActor returns a new policy network on its own expression
// graph. State inputs are (batch*steps, features) and noise inputs
// (batch*steps, actions) matrices laid out time major.
//
// When carryState is set the actor keeps its recurrent state between
// VM runs instead of starting each forward pass from zeros, which is
// what sequential action selection needs. It requires a recurrent
// architecture and a single-row input.
func NewGaussianActor(features, actions, batch, steps int, arch Arch,
	init G.InitWFn, prefix string, carryState bool) (*GaussianActor, error) {
	if actions < 1 {
		return nil, fmt.Errorf("newgaussianactor: actions must be >= 1")
	}
	if carryState && !arch.Recurrent() {
		return nil, fmt.Errorf("newgaussianactor: cannot carry recurrent " +
			"state in a stateless network")
	}
	if carryState && (batch != 1 || steps != 1) {
		return nil, fmt.Errorf("newgaussianactor: carried state requires " +
			"single-row inputs")
	}

	g := G.NewGraph()
	rows := batch * steps

	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, features),
		G.WithName(prefix+"Input"),
		G.WithInit(G.Zeroes()),
	)
	noise := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, actions),
		G.WithName(prefix+"Noise"),
		G.WithInit(G.Zeroes()),
	)

	trunk, err := newMLPCore(g, features, 0, batch, steps, arch, init,
		prefix)
	if err != nil {
		return nil, fmt.Errorf("newgaussianactor: %v", err)
	}
	hiddenSize := arch.HiddenSizes[len(arch.HiddenSizes)-1]
	muLayer := newFCLayer(g, hiddenSize, actions, Identity(), init,
		prefix+"Mu", 0)
	logStdLayer := newFCLayer(g, hiddenSize, actions, Identity(), init,
		prefix+"LogStd", 0)

	p := &GaussianActor{
		g:           g,
		trunk:       trunk,
		muLayer:     muLayer,
		logStdLayer: logStdLayer,
		input:       input,
		noise:       noise,
		features:    features,
		actions:     actions,
	}

	var h0, c0 []*G.Node
	if carryState {
		numLayers := len(trunk.lstm.layers)
		p.carryH = make([]*G.Node, numLayers)
		p.carryC = make([]*G.Node, numLayers)
		for i := 0; i < numLayers; i++ {
			p.carryH[i] = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, hiddenSize),
				G.WithName(fmt.Sprintf("%vH0L%v", prefix, i)),
				G.WithInit(G.Zeroes()),
			)
			p.carryC[i] = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, hiddenSize),
				G.WithName(fmt.Sprintf("%vC0L%v", prefix, i)),
				G.WithInit(G.Zeroes()),
			)
		}
		h0, c0 = p.carryH, p.carryC
	}

	hidden, hT, cT, err := trunk.fwdWithState(input, h0, c0)
	if err != nil {
		return nil, fmt.Errorf("newgaussianactor: %v", err)
	}
	if carryState {
		p.hVals = make([]G.Value, len(hT))
		p.cVals = make([]G.Value, len(cT))
		for i := range hT {
			G.Read(hT[i], &p.hVals[i])
			G.Read(cT[i], &p.cVals[i])
		}
	}

	mu, err := muLayer.fwd(hidden)
	if err != nil {
		return nil, fmt.Errorf("newgaussianactor: mean head: %v", err)
	}
	logStdRaw, err := logStdLayer.fwd(hidden)
	if err != nil {
		return nil, fmt.Errorf("newgaussianactor: stddev head: %v", err)
	}

	// Squash the raw log standard deviation into [logStdMin,
	// logStdMax]
	halfRange := G.NewConstant((logStdMax - logStdMin) / 2.0)
	lower := G.NewConstant(logStdMin)
	one := G.NewConstant(1.0)
	logStd := G.Must(G.Add(lower, G.Must(G.Mul(halfRange,
		G.Must(G.Add(G.Must(G.Tanh(logStdRaw)), one))))))

	std := G.Must(G.Exp(logStd))
	preTanh := G.Must(G.Add(mu, G.Must(G.HadamardProd(std, noise))))
	action := G.Must(G.Tanh(preTanh))
	mode := G.Must(G.Tanh(mu))

	// Log density of the squashed sample. Since z - μ = σ⊙ε, the
	// Gaussian term reduces to -ε²/2 - log σ - log(2π)/2 per
	// dimension; the tanh change of variables subtracts
	// log(1 - tanh(z)²) per dimension. Dimensions sum into a single
	// column.
	half := G.NewConstant(0.5)
	halfLog2Pi := G.NewConstant(0.5 * math.Log(2.0*math.Pi))
	eps := G.NewConstant(logProbEps)

	gaussLog := G.Must(G.Neg(G.Must(G.Add(G.Must(G.Add(
		G.Must(G.Mul(half, G.Must(G.Square(noise)))), logStd)),
		halfLog2Pi))))
	squashCorr := G.Must(G.Log(G.Must(G.Add(G.Must(G.Sub(one,
		G.Must(G.Square(action)))), eps))))
	perDim := G.Must(G.Sub(gaussLog, squashCorr))
	logProb := G.Must(G.Reshape(G.Must(G.Sum(perDim, 1)),
		tensor.Shape{rows, 1}))

	p.mu = mu
	p.std = std
	p.preTanh = preTanh
	p.action = action
	p.logProb = logProb
	p.mode = mode
	G.Read(p.action, &p.actionVal)
	G.Read(p.logProb, &p.logProbVal)
	G.Read(p.mode, &p.modeVal)

	return p, nil
}

// Graph returns the computational graph of the network
func (p *GaussianActor) Graph() *G.ExprGraph {
	return p.g
}

// SetInput sets the state placeholder before a VM run
func (p *GaussianActor) SetInput(states []float64) error {
	rows := p.trunk.batch * p.trunk.steps
	if len(states) != rows*p.features {
		return fmt.Errorf("setinput: invalid number of inputs \n\twant(%v)"+
			"\n\thave(%v)", rows*p.features, len(states))
	}
	return G.Let(p.input, tensor.New(
		tensor.WithShape(rows, p.features),
		tensor.WithBacking(states),
	))
}

// SetNoise sets the sampling noise placeholder before a VM run
func (p *GaussianActor) SetNoise(noise []float64) error {
	rows := p.trunk.batch * p.trunk.steps
	if len(noise) != rows*p.actions {
		return fmt.Errorf("setnoise: invalid number of noise inputs "+
			"\n\twant(%v)\n\thave(%v)", rows*p.actions, len(noise))
	}
	return G.Let(p.noise, tensor.New(
		tensor.WithShape(rows, p.actions),
		tensor.WithBacking(noise),
	))
}

// StateInputNode returns the state placeholder, so losses over other
// networks' copies embedded into this graph can share it
func (p *GaussianActor) StateInputNode() *G.Node {
	return p.input
}

// ActionNode returns the graph node holding the squashed sample
func (p *GaussianActor) ActionNode() *G.Node {
	return p.action
}

// LogProbNode returns the graph node holding the sample log density
func (p *GaussianActor) LogProbNode() *G.Node {
	return p.logProb
}

// MeanNode returns the graph node holding the pre-squash Gaussian mean
func (p *GaussianActor) MeanNode() *G.Node {
	return p.mu
}

// StdNode returns the graph node holding the Gaussian standard
// deviation
func (p *GaussianActor) StdNode() *G.Node {
	return p.std
}

// PreTanhNode returns the graph node holding the pre-squash sample
func (p *GaussianActor) PreTanhNode() *G.Node {
	return p.preTanh
}

// Actions returns the value of the squashed sample after a VM run
func (p *GaussianActor) Actions() G.Value {
	return p.actionVal
}

// LogProb returns the value of the sample log density after a VM run
func (p *GaussianActor) LogProb() G.Value {
	return p.logProbVal
}

// Mode returns the value of the distribution mode after a VM run
func (p *GaussianActor) Mode() G.Value {
	return p.modeVal
}

// ResetState zeroes the carried recurrent state. A no-op for actors
// built without carried state.
func (p *GaussianActor) ResetState() error {
	for i := range p.carryH {
		size := p.carryH[i].Shape()[1]
		err := G.Let(p.carryH[i], tensor.New(
			tensor.Of(tensor.Float64), tensor.WithShape(1, size)))
		if err != nil {
			return fmt.Errorf("resetstate: layer %v hidden: %v", i, err)
		}
		err = G.Let(p.carryC[i], tensor.New(
			tensor.Of(tensor.Float64), tensor.WithShape(1, size)))
		if err != nil {
			return fmt.Errorf("resetstate: layer %v cell: %v", i, err)
		}
	}
	return nil
}

// AdvanceState feeds the recurrent state produced by the last VM run
// back into the initial-state placeholders, so the next run continues
// the sequence. A no-op for actors built without carried state.
func (p *GaussianActor) AdvanceState() error {
	for i := range p.carryH {
		h, ok := p.hVals[i].(*tensor.Dense)
		if !ok {
			return fmt.Errorf("advancestate: no hidden state recorded for "+
				"layer %v", i)
		}
		c, ok := p.cVals[i].(*tensor.Dense)
		if !ok {
			return fmt.Errorf("advancestate: no cell state recorded for "+
				"layer %v", i)
		}

		if err := G.Let(p.carryH[i], h.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("advancestate: layer %v hidden: %v", i, err)
		}
		if err := G.Let(p.carryC[i], c.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("advancestate: layer %v cell: %v", i, err)
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the network
func (p *GaussianActor) Learnables() G.Nodes {
	if p.learnables == nil {
		p.learnables = append(p.learnables, p.trunk.learnables()...)
		p.learnables = append(p.learnables, p.muLayer.learnables()...)
		p.learnables = append(p.learnables, p.logStdLayer.learnables()...)
	}
	return p.learnables
}

// Model returns the learnable nodes with their gradients
func (p *GaussianActor) Model() []G.ValueGrad {
	if p.model == nil {
		for _, node := range p.Learnables() {
			p.model = append(p.model, node)
		}
	}
	return p.model
}
