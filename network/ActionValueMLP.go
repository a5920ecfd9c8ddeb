package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActionValueMLP approximates an action-value function Q(s, a). The
// network holds one set of weights but two forward towers over it: one
// fed by the stored-action placeholder, used when regressing the
// network towards its target, and one fed by a separate action
// placeholder so that a freshly sampled action can be evaluated in the
// same VM run without disturbing the regression tower.
type ActionValueMLP struct {
	g    *G.ExprGraph
	core *mlpCore

	stateInput     *G.Node
	actionInput    *G.Node
	newActionInput *G.Node

	predStored *G.Node
	predNew    *G.Node

	predStoredVal G.Value
	predNewVal    G.Value

	features int
	actions  int

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewActionValueMLP returns a new action-value network on its own
// expression graph. State inputs are (batch*steps, features) and
// action inputs (batch*steps, actions) matrices laid out time major.
func NewActionValueMLP(features, actions, batch, steps int, arch Arch,
	init G.InitWFn, prefix string) (*ActionValueMLP, error) {
	if actions < 1 {
		return nil, fmt.Errorf("newactionvaluemlp: actions must be >= 1")
	}
	g := G.NewGraph()
	rows := batch * steps

	stateInput := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, features),
		G.WithName(prefix+"StateInput"),
		G.WithInit(G.Zeroes()),
	)
	actionInput := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, actions),
		G.WithName(prefix+"ActionInput"),
		G.WithInit(G.Zeroes()),
	)
	newActionInput := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, actions),
		G.WithName(prefix+"NewActionInput"),
		G.WithInit(G.Zeroes()),
	)

	core, err := newMLPCore(g, features+actions, 1, batch, steps, arch,
		init, prefix)
	if err != nil {
		return nil, fmt.Errorf("newactionvaluemlp: %v", err)
	}

	predStored, err := core.fwd(G.Must(G.Concat(1, stateInput, actionInput)))
	if err != nil {
		return nil, fmt.Errorf("newactionvaluemlp: stored tower: %v", err)
	}
	predNew, err := core.fwd(G.Must(G.Concat(1, stateInput, newActionInput)))
	if err != nil {
		return nil, fmt.Errorf("newactionvaluemlp: sampled tower: %v", err)
	}

	q := &ActionValueMLP{
		g:              g,
		core:           core,
		stateInput:     stateInput,
		actionInput:    actionInput,
		newActionInput: newActionInput,
		predStored:     predStored,
		predNew:        predNew,
		features:       features,
		actions:        actions,
	}
	G.Read(q.predStored, &q.predStoredVal)
	G.Read(q.predNew, &q.predNewVal)

	return q, nil
}

// Graph returns the computational graph of the network
func (q *ActionValueMLP) Graph() *G.ExprGraph {
	return q.g
}

// SetInput sets the state and stored-action placeholders before a VM
// run. The sampled-action placeholder is set separately with
// SetNewActions.
func (q *ActionValueMLP) SetInput(states, actions []float64) error {
	rows := q.core.batch * q.core.steps
	if len(states) != rows*q.features {
		return fmt.Errorf("setinput: invalid number of state inputs "+
			"\n\twant(%v)\n\thave(%v)", rows*q.features, len(states))
	}
	if len(actions) != rows*q.actions {
		return fmt.Errorf("setinput: invalid number of action inputs "+
			"\n\twant(%v)\n\thave(%v)", rows*q.actions, len(actions))
	}

	err := G.Let(q.stateInput, tensor.New(
		tensor.WithShape(rows, q.features),
		tensor.WithBacking(states),
	))
	if err != nil {
		return fmt.Errorf("setinput: could not set states: %v", err)
	}
	return G.Let(q.actionInput, tensor.New(
		tensor.WithShape(rows, q.actions),
		tensor.WithBacking(actions),
	))
}

// SetNewActions sets the sampled-action placeholder before a VM run
func (q *ActionValueMLP) SetNewActions(actions []float64) error {
	rows := q.core.batch * q.core.steps
	if len(actions) != rows*q.actions {
		return fmt.Errorf("setnewactions: invalid number of action inputs "+
			"\n\twant(%v)\n\thave(%v)", rows*q.actions, len(actions))
	}
	return G.Let(q.newActionInput, tensor.New(
		tensor.WithShape(rows, q.actions),
		tensor.WithBacking(actions),
	))
}

// Prediction returns the graph node holding Q(s, a) for the stored
// actions
func (q *ActionValueMLP) Prediction() *G.Node {
	return q.predStored
}

// NewActionPrediction returns the graph node holding Q(s, a') for the
// sampled actions
func (q *ActionValueMLP) NewActionPrediction() *G.Node {
	return q.predNew
}

// Output returns the value of the stored-action prediction after a VM
// run
func (q *ActionValueMLP) Output() G.Value {
	return q.predStoredVal
}

// NewActionOutput returns the value of the sampled-action prediction
// after a VM run
func (q *ActionValueMLP) NewActionOutput() G.Value {
	return q.predNewVal
}

// Learnables returns the learnable nodes of the network
func (q *ActionValueMLP) Learnables() G.Nodes {
	if q.learnables == nil {
		q.learnables = q.core.learnables()
	}
	return q.learnables
}

// Model returns the learnable nodes with their gradients
func (q *ActionValueMLP) Model() []G.ValueGrad {
	if q.model == nil {
		for _, node := range q.Learnables() {
			q.model = append(q.model, node)
		}
	}
	return q.model
}

// EmbeddedActionValue is a weight copy of an ActionValueMLP living on another
// network's graph, fed by nodes of that graph. Gradients of a loss
// built on its prediction flow through the feeding nodes; keeping its
// weights in sync with the source network is the caller's job via Set.
type EmbeddedActionValue struct {
	g          *G.ExprGraph
	core       *mlpCore
	prediction *G.Node

	learnables G.Nodes
	model      []G.ValueGrad
}

// EmbedTo clones the network's weights onto g and builds a forward
// tower over them fed by the given state and action nodes of g
func (q *ActionValueMLP) EmbedTo(g *G.ExprGraph, state,
	action *G.Node) (*EmbeddedActionValue, error) {
	core := q.core.cloneTo(g)
	prediction, err := core.fwd(G.Must(G.Concat(1, state, action)))
	if err != nil {
		return nil, fmt.Errorf("embedto: %v", err)
	}
	return &EmbeddedActionValue{g: g, core: core, prediction: prediction}, nil
}

// Graph returns the graph the copy was embedded into
func (e *EmbeddedActionValue) Graph() *G.ExprGraph {
	return e.g
}

// Prediction returns the graph node holding Q(s, a) for the feeding
// nodes
func (e *EmbeddedActionValue) Prediction() *G.Node {
	return e.prediction
}

// Learnables returns the cloned weight nodes, in the same order as the
// source network's
func (e *EmbeddedActionValue) Learnables() G.Nodes {
	if e.learnables == nil {
		e.learnables = e.core.learnables()
	}
	return e.learnables
}

// Model returns the cloned weight nodes with their gradients
func (e *EmbeddedActionValue) Model() []G.ValueGrad {
	if e.model == nil {
		for _, node := range e.Learnables() {
			e.model = append(e.model, node)
		}
	}
	return e.model
}
