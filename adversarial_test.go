package textgan

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTestDiscriminator(t *testing.T, seqLen, vocab int) *TextDiscriminator {
	t.Helper()
	d, err := NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     vocab,
		MaxLength:     seqLen,
		EmbeddingSize: 3,
		NFilters:      []int{2, 2},
		FiltersSize:   []int{1, 2},
	})
	require.NoError(t, err)
	return d
}

// newLiveDiscriminator Wide enough to keep some ReLUs alive on near-uniform synthetic samples
func newLiveDiscriminator(t *testing.T, seqLen, vocab int, dropout float64) *TextDiscriminator {
	t.Helper()
	d, err := NewTextDiscriminator(TextDiscriminatorConfig{
		VocabSize:     vocab,
		MaxLength:     seqLen,
		EmbeddingSize: 4,
		NFilters:      []int{16, 16},
		FiltersSize:   []int{1, 2},
		DropoutRate:   dropout,
	})
	require.NoError(t, err)
	return d
}

func snapshotParams(p *Params) map[string][]float64 {
	ret := make(map[string][]float64)
	for _, name := range p.Names() {
		v, _ := p.Value(name)
		ret[name] = append([]float64(nil), v.Float64s()...)
	}
	return ret
}

// changedParams Names of parameters which differ from snapshot
func changedParams(p *Params, snapshot map[string][]float64) []string {
	changed := []string{}
	for _, name := range p.Names() {
		v, _ := p.Value(name)
		if !assert.ObjectsAreEqual(snapshot[name], v.Float64s()) {
			changed = append(changed, name)
		}
	}
	return changed
}

func realBatches(t *testing.T, n, batchSize, seqLen, vocab int) []*tensor.Dense {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	batches := make([]*tensor.Dense, n)
	for b := range batches {
		sequences := make([][]int, batchSize)
		for i := range sequences {
			sequences[i] = make([]int, seqLen)
			for j := range sequences[i] {
				sequences[i][j] = rng.Intn(vocab)
			}
		}
		dense, err := OneHotDense(sequences, seqLen, vocab)
		require.NoError(t, err)
		batches[b] = dense
	}
	return batches
}

func newSolver() gorgonia.Solver {
	return gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.01), gorgonia.WithBatchSize(2))
}

func TestAdversarialUnbound(t *testing.T) {
	gen := newLinearNoiseGenerator(t, 4, 3, 5)
	tr, err := NewAdversarial(gen, newTestDiscriminator(t, 3, 5), 2)
	require.NoError(t, err)
	batch := realBatches(t, 1, 2, 3, 5)[0]

	_, err = tr.Step(batch)
	assert.ErrorIs(t, err, ErrUnboundOptimizer)
	assert.ErrorIs(t, tr.Fit(context.Background(), []*tensor.Dense{batch}, 1), ErrUnboundOptimizer)
	assert.ErrorIs(t, tr.Compile(nil, newSolver()), ErrUnboundOptimizer)
	assert.ErrorIs(t, tr.Compile(newSolver(), nil), ErrUnboundOptimizer)

	_, err = NewAdversarial(gen, newTestDiscriminator(t, 3, 5), 0)
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
}

func TestAdversarialStep(t *testing.T) {
	gen := newLinearNoiseGenerator(t, 4, 3, 5)
	d := newTestDiscriminator(t, 3, 5)
	tr, err := NewAdversarial(gen, d, 2, WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	require.NoError(t, tr.Compile(newSolver(), newSolver()))
	defer tr.Close()
	assert.Equal(t, 0, tr.GeneratorMetric().Count())

	wrong := realBatches(t, 1, 3, 3, 5)[0]
	_, err = tr.Step(wrong)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	before, _ := d.Params().Value("highway")
	snapshot := append([]float64(nil), before.Float64s()...)

	batches := realBatches(t, 2, 2, 3, 5)
	first, err := tr.Step(batches[0])
	require.NoError(t, err)
	assert.Greater(t, first.Generator, 0.0)
	assert.Greater(t, first.Discriminator, 0.0)
	assert.InDelta(t, first.Generator, tr.GeneratorMetric().Result(), 1e-12)
	assert.InDelta(t, first.Discriminator, tr.DiscriminatorMetric().Result(), 1e-12)

	second, err := tr.Step(batches[1])
	require.NoError(t, err)
	assert.InDelta(t, (first.Generator+second.Generator)/2, tr.GeneratorMetric().Result(), 1e-12)
	assert.InDelta(t, (first.Discriminator+second.Discriminator)/2, tr.DiscriminatorMetric().Result(), 1e-12)
	assert.Equal(t, 2, tr.DiscriminatorMetric().Count())

	after, _ := d.Params().Value("highway")
	assert.NotEqual(t, snapshot, after.Float64s())
}

func TestAdversarialFit(t *testing.T) {
	gen := newLinearNoiseGenerator(t, 4, 3, 5)
	tr, err := NewAdversarial(gen, newTestDiscriminator(t, 3, 5), 2, WithRand(rand.New(rand.NewSource(2))))
	require.NoError(t, err)
	require.NoError(t, tr.Compile(newSolver(), newSolver()))
	defer tr.Close()

	batches := realBatches(t, 3, 2, 3, 5)
	require.NoError(t, tr.Fit(context.Background(), batches, 2))
	history := tr.History()
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Epoch)
	assert.Equal(t, 2, history[1].Epoch)
	// metrics are reset every epoch
	assert.Equal(t, 3, tr.GeneratorMetric().Count())
	assert.InDelta(t, history[1].Generator, tr.GeneratorMetric().Result(), 1e-12)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Fit(ctx, batches, 1), context.Canceled)
	assert.Len(t, tr.History(), 2)
}

func TestAdversarialRelGAN(t *testing.T) {
	cfg := testRelGANConfig()
	gen, err := NewRelGAN(cfg)
	require.NoError(t, err)
	tr, err := NewAdversarial(gen, newTestDiscriminator(t, cfg.MaxLength, cfg.VocabSize), 2, WithRand(rand.New(rand.NewSource(3))))
	require.NoError(t, err)
	require.NoError(t, tr.Compile(newSolver(), newSolver()))
	defer tr.Close()

	loss, err := tr.Step(realBatches(t, 1, 2, cfg.MaxLength, cfg.VocabSize)[0])
	require.NoError(t, err)
	requireFinite(t, []float64{loss.Generator, loss.Discriminator})
}

func TestAdversarialSampleShape(t *testing.T) {
	gen := newLinearNoiseGenerator(t, 4, 3, 5)
	tr, err := NewAdversarial(gen, newTestDiscriminator(t, 4, 5), 2, WithSampleShape(4, 5))
	require.NoError(t, err)
	// generator emits 3 tokens, but samples are 4 tokens long
	assert.ErrorIs(t, tr.Compile(newSolver(), newSolver()), ErrShapeMismatch)
}

func TestAdversarialUpdatesOwnNetworkOnly(t *testing.T) {
	frozen := func() gorgonia.Solver { return gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(0)) }
	cases := []struct {
		name    string
		gSolver func() gorgonia.Solver
		dSolver func() gorgonia.Solver
		gMoves  bool
		dMoves  bool
	}{
		{name: "both", gSolver: newSolver, dSolver: newSolver, gMoves: true, dMoves: true},
		{name: "frozen_generator", gSolver: frozen, dSolver: newSolver, gMoves: false, dMoves: true},
		{name: "frozen_discriminator", gSolver: newSolver, dSolver: frozen, gMoves: true, dMoves: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := newLinearNoiseGenerator(t, 4, 3, 5)
			d := newLiveDiscriminator(t, 3, 5, 0)
			tr, err := NewAdversarial(gen, d, 2, WithRand(rand.New(rand.NewSource(5))))
			require.NoError(t, err)
			require.NoError(t, tr.Compile(tc.gSolver(), tc.dSolver()))
			defer tr.Close()

			gBefore := snapshotParams(gen.Params())
			dBefore := snapshotParams(d.Params())
			for _, batch := range realBatches(t, 5, 2, 3, 5) {
				_, err := tr.Step(batch)
				require.NoError(t, err)
			}
			gChanged := changedParams(gen.Params(), gBefore)
			dChanged := changedParams(d.Params(), dBefore)
			if tc.gMoves {
				assert.NotEmpty(t, gChanged)
			} else {
				assert.Empty(t, gChanged)
			}
			if tc.dMoves {
				assert.NotEmpty(t, dChanged)
			} else {
				assert.Empty(t, dChanged)
			}
		})
	}
}

func TestAdversarialSharedDropoutMask(t *testing.T) {
	gen := newLinearNoiseGenerator(t, 4, 3, 5)
	d := newLiveDiscriminator(t, 3, 5, 0.5)
	tr, err := NewAdversarial(gen, d, 2, WithRand(rand.New(rand.NewSource(6))))
	require.NoError(t, err)
	require.NoError(t, tr.Compile(newSolver(), newSolver()))
	defer tr.Close()
	require.NotNil(t, tr.gMask)
	require.NotNil(t, tr.dMask)

	for _, batch := range realBatches(t, 3, 2, 3, 5) {
		_, err := tr.Step(batch)
		require.NoError(t, err)
		gVerdict, ok := tr.gVerdictVal.(*tensor.Dense)
		require.True(t, ok)
		dVerdict, ok := tr.dVerdictVal.(*tensor.Dense)
		require.True(t, ok)
		// generator loss and discriminator's loss on synthetic samples are computed from the same verdict
		assert.InDeltaSlice(t, gVerdict.Float64s(), dVerdict.Float64s(), 1e-12)
		// some of verdict's elements are dropped
		assert.Contains(t, gVerdict.Float64s(), 0.0)
	}

	// no dropout, no masks
	plain, err := NewAdversarial(gen, newLiveDiscriminator(t, 3, 5, 0), 2)
	require.NoError(t, err)
	require.NoError(t, plain.Compile(newSolver(), newSolver()))
	defer plain.Close()
	assert.Nil(t, plain.gMask)
	assert.Nil(t, plain.dMask)
}
