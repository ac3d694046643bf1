package textgan

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestTextDiscriminatorConfigMismatch(t *testing.T) {
	_, err := NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     10,
		MaxLength:     8,
		EmbeddingSize: 4,
		NFilters:      []int{64, 128},
		FiltersSize:   []int{3},
	})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)

	_, err = NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     10,
		MaxLength:     4,
		EmbeddingSize: 4,
		NFilters:      []int{2},
		FiltersSize:   []int{5},
	})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)

	_, err = NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     10,
		MaxLength:     4,
		EmbeddingSize: 4,
		NFilters:      []int{2},
		FiltersSize:   []int{2},
		DropoutRate:   1,
	})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
}

func TestTextDiscriminatorForward(t *testing.T) {
	cfg := TextDiscriminatorConfig{
		VocabSize:     6,
		MaxLength:     5,
		EmbeddingSize: 4,
		NFilters:      []int{3, 2, 4},
		FiltersSize:   []int{1, 2, 3},
		DropoutRate:   0.25,
	}
	d, err := NewTextDiscriminator(cfg)
	require.NoError(t, err)
	assert.Equal(t, 9, d.OutputSize())
	assert.Equal(t, cfg, d.Config())

	batch, err := OneHotDense([][]int{{0, 1, 2, 3, 4}, {5, 5, 0, 1, 2}}, cfg.MaxLength, cfg.VocabSize)
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(2, cfg.MaxLength, cfg.VocabSize), gorgonia.WithName("x"), gorgonia.WithValue(batch))
	out, err := d.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 9}, []int(out.Shape()))

	val := evaluate(t, out)
	assert.Equal(t, []int{2, 9}, []int(val.Shape()))
	requireFinite(t, val.Float64s())
}

func TestTextDiscriminatorForwardTraining(t *testing.T) {
	d, err := NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     3,
		MaxLength:     4,
		EmbeddingSize: 2,
		NFilters:      []int{2},
		FiltersSize:   []int{2},
		DropoutRate:   0.5,
	})
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(1, 4, 3), gorgonia.WithName("x"), gorgonia.WithInit(gorgonia.Ones()))
	out, err := d.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int(out.Shape()))
	requireFinite(t, evaluate(t, out).Float64s())
}

func TestTextDiscriminatorShapeMismatch(t *testing.T) {
	d, err := NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     3,
		MaxLength:     4,
		EmbeddingSize: 2,
		NFilters:      []int{2},
		FiltersSize:   []int{2},
	})
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(1, 5, 3), gorgonia.WithName("x"))
	_, err = d.Forward(x, false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTextDiscriminatorForwardWithMask(t *testing.T) {
	cfg := TextDiscriminatorConfig{
		VocabSize:     3,
		MaxLength:     4,
		EmbeddingSize: 2,
		NFilters:      []int{2, 3},
		FiltersSize:   []int{1, 2},
		DropoutRate:   0.5,
	}
	d, err := NewTextDiscriminator(cfg)
	require.NoError(t, err)
	var _ MaskedDiscriminator = d
	assert.Equal(t, 5, d.MaskWidth())
	assert.Equal(t, 0.5, d.DropoutRate())

	batch, err := OneHotDense([][]int{{0, 1, 2, 0}, {2, 2, 1, 0}}, cfg.MaxLength, cfg.VocabSize)
	require.NoError(t, err)
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(2, cfg.MaxLength, cfg.VocabSize), gorgonia.WithName("x"), gorgonia.WithValue(batch))
	plain, err := d.Forward(x, false)
	require.NoError(t, err)
	maskValue := tensor.New(tensor.WithShape(2, 5), tensor.WithBacking([]float64{2, 0, 2, 0, 2, 0, 2, 0, 2, 0}))
	mask := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 5), gorgonia.WithName("mask"), gorgonia.WithValue(maskValue))
	masked, err := d.ForwardWithMask(x, mask)
	require.NoError(t, err)

	var plainVal, maskedVal gorgonia.Value
	gorgonia.Read(plain, &plainVal)
	gorgonia.Read(masked, &maskedVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	want := plainVal.Data().([]float64)
	got := maskedVal.Data().([]float64)
	for i := range want {
		assert.InDelta(t, want[i]*maskValue.Float64s()[i], got[i], 1e-12)
	}

	wrong := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(2, 4), gorgonia.WithName("wrong_mask"))
	_, err = d.ForwardWithMask(x, wrong)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDropoutMask(t *testing.T) {
	mask := DropoutMask(rand.New(rand.NewSource(4)), 0.25, 40, 50)
	assert.Equal(t, []int{40, 50}, []int(mask.Shape()))
	dropped := 0
	for _, v := range mask.Float64s() {
		if v == 0 {
			dropped++
			continue
		}
		assert.InDelta(t, 1/0.75, v, 1e-12)
	}
	assert.InDelta(t, 500, dropped, 100)

	same := DropoutMask(rand.New(rand.NewSource(4)), 0.25, 40, 50)
	assert.Equal(t, mask.Float64s(), same.Float64s())
}
