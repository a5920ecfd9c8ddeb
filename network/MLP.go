package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/racekit/sacdrive/utils/tensorutils"
)

// Arch describes the shape shared by all networks in this package: a
// stack of ReLU hidden layers, an optional stack of LSTM layers whose
// hidden size equals the last hidden layer size, and a linear output
// head.
type Arch struct {
	HiddenSizes []int
	LSTMLayers  int // 0 for a stateless network
}

// Recurrent returns whether the architecture carries recurrent state
func (a Arch) Recurrent() bool {
	return a.LSTMLayers > 0
}

func (a Arch) validate() error {
	if len(a.HiddenSizes) == 0 {
		return fmt.Errorf("arch: at least one hidden layer is required")
	}
	for _, size := range a.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("arch: hidden sizes must be positive")
		}
	}
	if a.LSTMLayers < 0 {
		return fmt.Errorf("arch: lstm layer count cannot be negative")
	}
	return nil
}

// mlpCore is the trunk shared by all network types: hidden fc stack,
// optional LSTM stack, optional linear output head. Inputs are always
// 2D with batch*steps rows laid out time major.
type mlpCore struct {
	hidden []*fcLayer
	lstm   *lstmStack
	out    *fcLayer

	batch int
	steps int
}

// newMLPCore builds the trunk on graph g. If outputs <= 0 no output
// head is added and the trunk prediction is the (possibly recurrent)
// hidden representation.
func newMLPCore(g *G.ExprGraph, features, outputs, batch, steps int,
	arch Arch, init G.InitWFn, prefix string) (*mlpCore, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}
	if batch < 1 || steps < 1 {
		return nil, fmt.Errorf("newmlpcore: batch and steps must be >= 1")
	}
	if !arch.Recurrent() && steps > 1 {
		return nil, fmt.Errorf("newmlpcore: stateless networks take " +
			"single-step inputs")
	}

	hidden := make([]*fcLayer, len(arch.HiddenSizes))
	in := features
	for i, size := range arch.HiddenSizes {
		hidden[i] = newFCLayer(g, in, size, ReLU(), init, prefix, i)
		in = size
	}

	core := &mlpCore{hidden: hidden, batch: batch, steps: steps}

	if arch.Recurrent() {
		core.lstm = newLSTMStack(g, in, in, arch.LSTMLayers, batch, init,
			prefix)
	}

	if outputs > 0 {
		core.out = newFCLayer(g, in, outputs, Identity(), init, prefix,
			len(arch.HiddenSizes))
	}

	return core, nil
}

// fwd runs the trunk on x with fresh zero recurrent state
func (m *mlpCore) fwd(x *G.Node) (*G.Node, error) {
	out, _, _, err := m.fwdWithState(x, nil, nil)
	return out, err
}

// fwdWithState runs the trunk on x. For recurrent trunks, h0 and c0
// are the initial per-layer recurrent states; passing nil starts from
// zeros. The returned states are the final recurrent states, nil for
// stateless trunks.
func (m *mlpCore) fwdWithState(x *G.Node, h0,
	c0 []*G.Node) (*G.Node, []*G.Node, []*G.Node, error) {
	h := x
	var err error
	for i, layer := range m.hidden {
		if h, err = layer.fwd(h); err != nil {
			return nil, nil, nil, fmt.Errorf("fwd: hidden layer %v: %v", i,
				err)
		}
	}

	var hT, cT []*G.Node
	if m.lstm != nil {
		if h0 == nil || c0 == nil {
			h0, c0 = m.lstm.zeroState(x.Graph())
		}

		xs := m.splitSteps(h)
		var outs []*G.Node
		outs, hT, cT, err = m.lstm.fwd(xs, h0, c0)
		if err != nil {
			return nil, nil, nil, err
		}

		if len(outs) > 1 {
			h = G.Must(G.Concat(0, outs...))
		} else {
			h = outs[0]
		}
	}

	if m.out != nil {
		if h, err = m.out.fwd(h); err != nil {
			return nil, nil, nil, fmt.Errorf("fwd: output layer: %v", err)
		}
	}

	return h, hT, cT, nil
}

// splitSteps slices the time-major rows of x into per-step blocks of
// batch rows each
func (m *mlpCore) splitSteps(x *G.Node) []*G.Node {
	if m.steps == 1 {
		return []*G.Node{x}
	}

	xs := make([]*G.Node, m.steps)
	for t := 0; t < m.steps; t++ {
		xs[t] = G.Must(G.Slice(x,
			tensorutils.NewSlice(t*m.batch, (t+1)*m.batch, 1)))
	}
	return xs
}

// learnables returns the learnable nodes of the trunk
func (m *mlpCore) learnables() G.Nodes {
	var nodes G.Nodes
	for _, l := range m.hidden {
		nodes = append(nodes, l.learnables()...)
	}
	if m.lstm != nil {
		nodes = append(nodes, m.lstm.learnables()...)
	}
	if m.out != nil {
		nodes = append(nodes, m.out.learnables()...)
	}
	return nodes
}

func (m *mlpCore) cloneTo(g *G.ExprGraph) *mlpCore {
	hidden := make([]*fcLayer, len(m.hidden))
	for i, l := range m.hidden {
		hidden[i] = l.cloneTo(g)
	}

	clone := &mlpCore{hidden: hidden, batch: m.batch, steps: m.steps}
	if m.lstm != nil {
		clone.lstm = m.lstm.cloneTo(g)
	}
	if m.out != nil {
		clone.out = m.out.cloneTo(g)
	}
	return clone
}

// ValueMLP approximates a state-value function V(s). Its prediction
// has one column per time-major input row.
type ValueMLP struct {
	g    *G.ExprGraph
	core *mlpCore

	input      *G.Node
	prediction *G.Node
	predVal    G.Value

	features int

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewValueMLP returns a new state-value network on its own expression
// graph. Inputs are (batch*steps, features) matrices laid out time
// major.
func NewValueMLP(features, batch, steps int, arch Arch, init G.InitWFn,
	prefix string) (*ValueMLP, error) {
	g := G.NewGraph()

	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch*steps, features),
		G.WithName(prefix+"Input"),
		G.WithInit(G.Zeroes()),
	)

	core, err := newMLPCore(g, features, 1, batch, steps, arch, init, prefix)
	if err != nil {
		return nil, fmt.Errorf("newvaluemlp: %v", err)
	}

	prediction, err := core.fwd(input)
	if err != nil {
		return nil, fmt.Errorf("newvaluemlp: %v", err)
	}

	v := &ValueMLP{
		g:          g,
		core:       core,
		input:      input,
		prediction: prediction,
		features:   features,
	}
	G.Read(v.prediction, &v.predVal)

	return v, nil
}

// Graph returns the computational graph of the network
func (v *ValueMLP) Graph() *G.ExprGraph {
	return v.g
}

// SetInput sets the value of the input placeholder before a VM run
func (v *ValueMLP) SetInput(input []float64) error {
	rows := v.core.batch * v.core.steps
	if len(input) != rows*v.features {
		return fmt.Errorf("setinput: invalid number of inputs \n\twant(%v)"+
			"\n\thave(%v)", rows*v.features, len(input))
	}
	return G.Let(v.input, tensor.New(
		tensor.WithShape(rows, v.features),
		tensor.WithBacking(input),
	))
}

// Prediction returns the graph node holding V(s)
func (v *ValueMLP) Prediction() *G.Node {
	return v.prediction
}

// Output returns the value of the prediction node after a VM run
func (v *ValueMLP) Output() G.Value {
	return v.predVal
}

// Learnables returns the learnable nodes of the network
func (v *ValueMLP) Learnables() G.Nodes {
	if v.learnables == nil {
		v.learnables = v.core.learnables()
	}
	return v.learnables
}

// Model returns the learnable nodes with their gradients
func (v *ValueMLP) Model() []G.ValueGrad {
	if v.model == nil {
		for _, node := range v.Learnables() {
			v.model = append(v.model, node)
		}
	}
	return v.model
}
