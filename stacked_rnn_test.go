package textgan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestStackedRNNConfig(t *testing.T) {
	_, err := NewStackedRNN(StackedRNNConfig{VocabSize: 5, EmbeddingSize: 3})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
	_, err = NewStackedRNN(StackedRNNConfig{VocabSize: 5, EmbeddingSize: 3, HiddenSize: []int{4, 0}})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
}

func TestStackedRNNForward(t *testing.T) {
	for layers := 1; layers <= 3; layers++ {
		t.Run(fmt.Sprintf("%d cells", layers), func(t *testing.T) {
			hidden := make([]int, layers)
			for i := range hidden {
				hidden[i] = 3 + i
			}
			net, err := NewStackedRNN(StackedRNNConfig{VocabSize: 5, EmbeddingSize: 4, HiddenSize: hidden})
			require.NoError(t, err)

			batch, err := OneHotDense([][]int{{0, 1, 2, 3}, {4, 3, 2, 1}}, 4, 5)
			require.NoError(t, err)
			g := gorgonia.NewGraph()
			x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(2, 4, 5), gorgonia.WithName("x"), gorgonia.WithValue(batch))
			out, err := net.Forward(x, true)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 4, 5}, []int(out.Shape()))

			val := evaluate(t, out)
			assert.Equal(t, []int{2, 4, 5}, []int(val.Shape()))
			requireFinite(t, val.Float64s())
		})
	}
}

func TestStackedRNNShapeMismatch(t *testing.T) {
	net, err := NewStackedRNN(StackedRNNConfig{VocabSize: 5, EmbeddingSize: 4, HiddenSize: []int{3}})
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(2, 4, 6), gorgonia.WithName("x"))
	_, err = net.Forward(x, false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStackedRNNStep(t *testing.T) {
	net, err := NewStackedRNN(StackedRNNConfig{VocabSize: 5, EmbeddingSize: 4, HiddenSize: []int{3, 3}})
	require.NoError(t, err)
	defer net.Close()

	require.NoError(t, net.ResetStates())
	first, err := net.Step(1)
	require.NoError(t, err)
	assert.Len(t, first, 5)
	requireFinite(t, first)
	second, err := net.Step(1)
	require.NoError(t, err)
	// hidden state is carried between steps
	assert.NotEqual(t, first, second)

	require.NoError(t, net.ResetStates())
	again, err := net.Step(1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, first, again, 1e-12)

	_, err = net.Step(5)
	assert.Error(t, err)
}
