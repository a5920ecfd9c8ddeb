// Package network implements the function approximators used by the
// SAC agent: a state-value MLP, an action-value MLP with twin input
// towers, and a tanh-squashed Gaussian policy network. Every network
// can optionally carry a stacked LSTM between its hidden layers and
// its output head for recurrent training on contiguous step windows.
package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet is the capability surface the update engine relies on. A
// NeuralNet owns its Gorgonia expression graph; callers feed input
// values into placeholder nodes, run a VM over the graph, and read
// prediction values back out. Learnables and Model expose the weight
// nodes for gradient computation and solver steps.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Learnables() G.Nodes
	Model() []G.ValueGrad
}

// Set copies the weights of src into dst. Both networks must share one
// architecture; they may live on different graphs.
func Set(dst, src NeuralNet) error {
	srcNodes := src.Learnables()
	dstNodes := dst.Learnables()
	if len(srcNodes) != len(dstNodes) {
		return fmt.Errorf("set: learnable count mismatch \n\twant(%v)"+
			"\n\thave(%v)", len(dstNodes), len(srcNodes))
	}

	for i, dstLearnable := range dstNodes {
		srcLearnable := srcNodes[i].Clone()
		err := G.Let(dstLearnable, srcLearnable.(*G.Node).Value())
		if err != nil {
			return fmt.Errorf("set: could not copy learnable %v: %v", i, err)
		}
	}
	return nil
}

// Polyak sets the weights of dst to a Polyak average between its
// existing weights and the weights of src:
//
//	θ_dst <- τ*θ_src + (1-τ)*θ_dst
//
// computed elementwise for every weight tensor.
func Polyak(dst, src NeuralNet, tau float64) error {
	srcNodes := src.Learnables()
	dstNodes := dst.Learnables()
	if len(srcNodes) != len(dstNodes) {
		return fmt.Errorf("polyak: learnable count mismatch \n\twant(%v)"+
			"\n\thave(%v)", len(dstNodes), len(srcNodes))
	}

	for i := range dstNodes {
		weights := dstNodes[i].Value().(*tensor.Dense)
		srcWeights := srcNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		srcWeights, err = srcWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		newWeights, err := weights.Add(srcWeights)
		if err != nil {
			return err
		}

		if err := G.Let(dstNodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// netState is the serialized form of a network's weights
type netState struct {
	Names  []string
	Shapes [][]int
	Data   [][]float64
}

// EncodeState serializes the weights of a network into a byte slice
func EncodeState(n NeuralNet) ([]byte, error) {
	learnables := n.Learnables()
	state := netState{
		Names:  make([]string, len(learnables)),
		Shapes: make([][]int, len(learnables)),
		Data:   make([][]float64, len(learnables)),
	}

	for i, node := range learnables {
		state.Names[i] = node.Name()
		state.Shapes[i] = node.Shape()

		backing := node.Value().Data().([]float64)
		data := make([]float64, len(backing))
		copy(data, backing)
		state.Data[i] = data
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("encodestate: %v", err)
	}
	return buf.Bytes(), nil
}

// DecodeState loads serialized weights into an already constructed
// network. The stored weights must match the network's architecture
// exactly; any name or shape mismatch fails loudly.
func DecodeState(n NeuralNet, data []byte) error {
	var state netState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return fmt.Errorf("decodestate: %v", err)
	}

	learnables := n.Learnables()
	if len(state.Names) != len(learnables) {
		return fmt.Errorf("decodestate: learnable count mismatch "+
			"\n\twant(%v)\n\thave(%v)", len(learnables), len(state.Names))
	}

	for i, node := range learnables {
		if state.Names[i] != node.Name() {
			return fmt.Errorf("decodestate: learnable %v name mismatch "+
				"\n\twant(%v)\n\thave(%v)", i, node.Name(), state.Names[i])
		}
		if !shapeEq(state.Shapes[i], node.Shape()) {
			return fmt.Errorf("decodestate: learnable %v shape mismatch "+
				"\n\twant(%v)\n\thave(%v)", node.Name(), node.Shape(),
				state.Shapes[i])
		}

		t := tensor.New(
			tensor.WithShape(state.Shapes[i]...),
			tensor.WithBacking(state.Data[i]),
		)
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("decodestate: could not set learnable %v: %v",
				node.Name(), err)
		}
	}
	return nil
}

func shapeEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
