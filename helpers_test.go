package textgan

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runeEncoder Maps every rune of alphabet to its position
type runeEncoder struct {
	alphabet []rune
	index    map[rune]int
}

func newRuneEncoder(alphabet string) *runeEncoder {
	enc := &runeEncoder{
		alphabet: []rune(alphabet),
		index:    make(map[rune]int),
	}
	for i, r := range enc.alphabet {
		enc.index[r] = i
	}
	return enc
}

func (enc *runeEncoder) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := enc.index[r]
		if !ok {
			return nil, fmt.Errorf("rune %q is out of alphabet", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (enc *runeEncoder) Decode(ids []int) ([]string, error) {
	ret := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(enc.alphabet) {
			return nil, fmt.Errorf("id %d is out of alphabet", id)
		}
		ret[i] = string(enc.alphabet[id])
	}
	return ret, nil
}

// evaluate Runs graph once and returns copy of output's value
func evaluate(t *testing.T, out *gorgonia.Node) *tensor.Dense {
	t.Helper()
	var val gorgonia.Value
	gorgonia.Read(out, &val)
	vm := gorgonia.NewTapeMachine(out.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	dense, ok := val.(*tensor.Dense)
	require.True(t, ok, "unexpected value type %T", val)
	return dense.Clone().(*tensor.Dense)
}

func requireFinite(t *testing.T, values []float64) {
	t.Helper()
	for i, v := range values {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "value #%d is %v", i, v)
	}
}

// linearNoiseGenerator softmax(z·W + b) reshaped into (batch, seqLen, vocab)
type linearNoiseGenerator struct {
	Network
	noiseDim  int
	seqLen    int
	vocabSize int
}

func newLinearNoiseGenerator(t *testing.T, noiseDim, seqLen, vocabSize int) *linearNoiseGenerator {
	t.Helper()
	gen := &linearNoiseGenerator{
		Network:   newNetwork("G_linear", nil),
		noiseDim:  noiseDim,
		seqLen:    seqLen,
		vocabSize: vocabSize,
	}
	require.NoError(t, addLinear(gen.params, "dense", noiseDim, seqLen*vocabSize, true))
	return gen
}

func (gen *linearNoiseGenerator) NoiseDim() int {
	return gen.noiseDim
}

func (gen *linearNoiseGenerator) OutputShape() (int, int) {
	return gen.seqLen, gen.vocabSize
}

func (gen *linearNoiseGenerator) Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	batchSize := x.Shape()[0]
	layer, err := linearLayer(gen.params, x.Graph(), "dense", true, NoActivation)
	if err != nil {
		return nil, err
	}
	out, err := layer.Fwd(x)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(out, tensor.Shape{batchSize * gen.seqLen, gen.vocabSize})
	if err != nil {
		return nil, err
	}
	probs, err := Softmax(flat)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(probs, tensor.Shape{batchSize, gen.seqLen, gen.vocabSize})
}
