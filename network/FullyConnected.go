package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer creates a new fully connected layer on graph g mapping in
// features to out features. Node names are prefixed so that multiple
// networks can share one graph.
func newFCLayer(g *G.ExprGraph, in, out int, act *Activation,
	init G.InitWFn, prefix string, index int) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(fmt.Sprintf("%vL%vW", prefix, index)),
		G.WithInit(init),
	)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, out),
		G.WithName(fmt.Sprintf("%vL%vB", prefix, index)),
		G.WithInit(G.Zeroes()),
	)

	return &fcLayer{weights: weights, bias: bias, act: act}
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x = G.Must(G.Mul(x, f.weights))

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x = G.Must(G.BroadcastAdd(x, f.bias, nil, []byte{0}))

	if f.act == nil || f.act.IsIdentity() {
		return x, nil
	}
	return f.act.fwd(x)
}

// cloneTo clones an fcLayer's weight nodes to a new computational
// graph, sharing the weight values by reference until Set overwrites
// them
func (f *fcLayer) cloneTo(g *G.ExprGraph) *fcLayer {
	return &fcLayer{
		weights: f.weights.CloneTo(g),
		bias:    f.bias.CloneTo(g),
		act:     f.act,
	}
}

// learnables returns the learnable nodes of the layer
func (f *fcLayer) learnables() G.Nodes {
	return G.Nodes{f.weights, f.bias}
}
