package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racekit/sacdrive/initwfn"
)

// valueNet constructs a small state-value network with a deterministic
// constant weight initialization
func valueNet(t *testing.T, value float64) *ValueMLP {
	t.Helper()

	init, err := initwfn.NewConstant(value)
	require.NoError(t, err)

	v, err := NewValueMLP(2, 1, 1, Arch{HiddenSizes: []int{3}},
		init.InitWFn(), "Test")
	require.NoError(t, err)
	return v
}

// weightData returns a copy of the backing data of every learnable of n
func weightData(n NeuralNet) [][]float64 {
	out := make([][]float64, len(n.Learnables()))
	for i, node := range n.Learnables() {
		backing := node.Value().Data().([]float64)
		data := make([]float64, len(backing))
		copy(data, backing)
		out[i] = data
	}
	return out
}

func TestPolyak(t *testing.T) {
	const tau = 0.1

	src := valueNet(t, 1.0)
	dst := valueNet(t, 0.0)

	// First average moves the target a tau-sized step towards the
	// source
	require.NoError(t, Polyak(dst, src, tau))
	for i, data := range weightData(dst) {
		srcData := weightData(src)[i]
		for j, have := range data {
			assert.InDelta(t, tau*srcData[j], have, 1e-12)
		}
	}

	// Second average compounds: tau*src + (1-tau)*(tau*src)
	require.NoError(t, Polyak(dst, src, tau))
	for i, data := range weightData(dst) {
		srcData := weightData(src)[i]
		for j, have := range data {
			want := tau*srcData[j] + (1-tau)*tau*srcData[j]
			assert.InDelta(t, want, have, 1e-12)
		}
	}

	// The source is never modified by the average
	for _, data := range weightData(src)[:1] {
		for _, have := range data[:1] {
			assert.Equal(t, 1.0, have)
		}
	}
}

func TestPolyakElementwise(t *testing.T) {
	src := valueNet(t, 2.0)
	dst := valueNet(t, -1.0)

	before := weightData(dst)
	srcBefore := weightData(src)

	const tau = 0.25
	require.NoError(t, Polyak(dst, src, tau))

	for i, data := range weightData(dst) {
		for j, have := range data {
			want := tau*srcBefore[i][j] + (1-tau)*before[i][j]
			assert.InDelta(t, want, have, 1e-12)
		}
	}
}

func TestSet(t *testing.T) {
	src := valueNet(t, 0.5)
	dst := valueNet(t, 0.0)

	require.NoError(t, Set(dst, src))
	assert.Equal(t, weightData(src), weightData(dst))
}

func TestSetArchitectureMismatch(t *testing.T) {
	init, err := initwfn.NewZeroes()
	require.NoError(t, err)

	src, err := NewValueMLP(2, 1, 1, Arch{HiddenSizes: []int{3, 3}},
		init.InitWFn(), "Src")
	require.NoError(t, err)

	dst := valueNet(t, 0.0)
	assert.Error(t, Set(dst, src))
	assert.Error(t, Polyak(dst, src, 0.1))
}

func TestEncodeDecodeState(t *testing.T) {
	src := valueNet(t, 0.75)
	dst := valueNet(t, 0.0)

	data, err := EncodeState(src)
	require.NoError(t, err)

	require.NoError(t, DecodeState(dst, data))
	assert.Equal(t, weightData(src), weightData(dst))
}

func TestDecodeStateRejectsMismatch(t *testing.T) {
	src := valueNet(t, 1.0)
	data, err := EncodeState(src)
	require.NoError(t, err)

	init, err := initwfn.NewZeroes()
	require.NoError(t, err)

	other, err := NewValueMLP(2, 1, 1, Arch{HiddenSizes: []int{3, 3}},
		init.InitWFn(), "Test")
	require.NoError(t, err)

	assert.Error(t, DecodeState(other, data))
}
