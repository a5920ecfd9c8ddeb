package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/racekit/sacdrive/utils/tensorutils"
)

// lstmLayer implements a single LSTM layer. The input, forget, cell
// and output gates are packed into one weight matrix each for the
// input and the recurrent connection, laid out as [i | f | g | o]
// along the column dimension.
type lstmLayer struct {
	wx   *G.Node // (in, 4*hidden)
	wh   *G.Node // (hidden, 4*hidden)
	bias *G.Node // (1, 4*hidden)

	hiddenSize int
}

func newLSTMLayer(g *G.ExprGraph, in, hidden int, init G.InitWFn,
	prefix string, index int) *lstmLayer {
	wx := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, 4*hidden),
		G.WithName(fmt.Sprintf("%vLSTM%vWx", prefix, index)),
		G.WithInit(init),
	)
	wh := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden, 4*hidden),
		G.WithName(fmt.Sprintf("%vLSTM%vWh", prefix, index)),
		G.WithInit(init),
	)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, 4*hidden),
		G.WithName(fmt.Sprintf("%vLSTM%vB", prefix, index)),
		G.WithInit(G.Zeroes()),
	)

	return &lstmLayer{wx: wx, wh: wh, bias: bias, hiddenSize: hidden}
}

// step adds one LSTM cell step to the graph, returning the new hidden
// and cell state nodes
func (l *lstmLayer) step(x, h, c *G.Node) (*G.Node, *G.Node, error) {
	gates := G.Must(G.Mul(x, l.wx))
	gates = G.Must(G.Add(gates, G.Must(G.Mul(h, l.wh))))
	gates = G.Must(G.BroadcastAdd(gates, l.bias, nil, []byte{0}))

	n := l.hiddenSize
	input := G.Must(G.Sigmoid(slice2D(gates, 0, n)))
	forget := G.Must(G.Sigmoid(slice2D(gates, n, 2*n)))
	cell := G.Must(G.Tanh(slice2D(gates, 2*n, 3*n)))
	output := G.Must(G.Sigmoid(slice2D(gates, 3*n, 4*n)))

	newC := G.Must(G.Add(
		G.Must(G.HadamardProd(forget, c)),
		G.Must(G.HadamardProd(input, cell)),
	))
	newH := G.Must(G.HadamardProd(output, G.Must(G.Tanh(newC))))

	return newH, newC, nil
}

// learnables returns the learnable nodes of the layer
func (l *lstmLayer) learnables() G.Nodes {
	return G.Nodes{l.wx, l.wh, l.bias}
}

func (l *lstmLayer) cloneTo(g *G.ExprGraph) *lstmLayer {
	return &lstmLayer{
		wx:         l.wx.CloneTo(g),
		wh:         l.wh.CloneTo(g),
		bias:       l.bias.CloneTo(g),
		hiddenSize: l.hiddenSize,
	}
}

// slice2D slices the columns [start, end) of a matrix node
func slice2D(x *G.Node, start, end int) *G.Node {
	return G.Must(G.Slice(x, nil, tensorutils.NewSlice(start, end, 1)))
}

// lstmStack is a stack of LSTM layers applied between the hidden MLP
// stack and the output head of a network
type lstmStack struct {
	layers []*lstmLayer
	batch  int
}

func newLSTMStack(g *G.ExprGraph, in, hidden, numLayers, batch int,
	init G.InitWFn, prefix string) *lstmStack {
	layers := make([]*lstmLayer, numLayers)
	for i := range layers {
		inSize := hidden
		if i == 0 {
			inSize = in
		}
		layers[i] = newLSTMLayer(g, inSize, hidden, init, prefix, i)
	}
	return &lstmStack{layers: layers, batch: batch}
}

// zeroState returns fresh all-zero initial hidden and cell state nodes
// for every layer. Each forward pass over a training window starts
// from a zero recurrent state; carried state across unrelated forward
// passes would couple computations that must stay independent.
func (s *lstmStack) zeroState(g *G.ExprGraph) ([]*G.Node, []*G.Node) {
	hs := make([]*G.Node, len(s.layers))
	cs := make([]*G.Node, len(s.layers))
	for i, l := range s.layers {
		hs[i] = G.NewConstant(
			tensor.New(tensor.Of(tensor.Float64),
				tensor.WithShape(s.batch, l.hiddenSize)),
		)
		cs[i] = G.NewConstant(
			tensor.New(tensor.Of(tensor.Float64),
				tensor.WithShape(s.batch, l.hiddenSize)),
		)
	}
	return hs, cs
}

// fwd unrolls the stack over the per-step input nodes xs, starting
// from the given initial states (one per layer). It returns the
// per-step outputs of the top layer along with the final hidden and
// cell states of every layer.
func (s *lstmStack) fwd(xs []*G.Node, h0,
	c0 []*G.Node) ([]*G.Node, []*G.Node, []*G.Node, error) {
	if len(h0) != len(s.layers) || len(c0) != len(s.layers) {
		return nil, nil, nil, fmt.Errorf("fwd: initial state count "+
			"mismatch \n\twant(%v)\n\thave(%v)", len(s.layers), len(h0))
	}

	outs := xs
	hT := make([]*G.Node, len(s.layers))
	cT := make([]*G.Node, len(s.layers))

	for i, layer := range s.layers {
		h, c := h0[i], c0[i]
		layerOuts := make([]*G.Node, len(outs))

		for t, x := range outs {
			var err error
			h, c, err = layer.step(x, h, c)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("fwd: lstm layer %v step "+
					"%v: %v", i, t, err)
			}
			layerOuts[t] = h
		}

		outs = layerOuts
		hT[i], cT[i] = h, c
	}

	return outs, hT, cT, nil
}

// learnables returns the learnable nodes of all layers in the stack
func (s *lstmStack) learnables() G.Nodes {
	var nodes G.Nodes
	for _, l := range s.layers {
		nodes = append(nodes, l.learnables()...)
	}
	return nodes
}

func (s *lstmStack) cloneTo(g *G.ExprGraph) *lstmStack {
	layers := make([]*lstmLayer, len(s.layers))
	for i, l := range s.layers {
		layers[i] = l.cloneTo(g)
	}
	return &lstmStack{layers: layers, batch: s.batch}
}
