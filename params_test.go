package textgan

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
)

func TestParamsBinding(t *testing.T) {
	p := NewParams("net")
	require.NoError(t, p.Add("w", gorgonia.GlorotN(1.0), 3, 2))
	require.NoError(t, p.Add("w_b", gorgonia.Zeroes(), 1, 2))
	assert.Error(t, p.Add("w", gorgonia.Zeroes(), 3, 2))
	assert.Error(t, p.Add("empty", gorgonia.Zeroes()))
	assert.Equal(t, []string{"w", "w_b"}, p.Names())

	g1 := gorgonia.NewGraph()
	g2 := gorgonia.NewGraph()
	first, err := p.Node(g1, "w")
	require.NoError(t, err)
	again, err := p.Node(g1, "w")
	require.NoError(t, err)
	assert.Same(t, first, again)
	other, err := p.Node(g2, "w")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, "net_w", first.Name())

	_, err = p.Node(g1, "missing")
	assert.Error(t, err)

	// only bound parameters are learnable on a graph
	assert.Len(t, p.Learnables(g1), 1)
	_, err = p.Node(g1, "w_b")
	require.NoError(t, err)
	learnables := p.Learnables(g1)
	require.Len(t, learnables, 2)
	assert.Equal(t, "net_w", learnables[0].Name())
	assert.Empty(t, p.Learnables(gorgonia.NewGraph()))

	p.forget(g1)
	assert.Empty(t, p.Learnables(g1))
}

func TestSaveLoadParams(t *testing.T) {
	src := NewParams("src")
	require.NoError(t, src.Add("w", gorgonia.GlorotN(1.0), 4, 3))
	require.NoError(t, src.Add("b", gorgonia.GlorotN(1.0), 1, 3))

	buf := &bytes.Buffer{}
	require.NoError(t, SaveParams(buf, src))

	dst := NewParams("dst")
	require.NoError(t, dst.Add("w", gorgonia.Zeroes(), 4, 3))
	require.NoError(t, dst.Add("b", gorgonia.Zeroes(), 1, 3))
	g := gorgonia.NewGraph()
	bound, err := dst.Node(g, "w")
	require.NoError(t, err)

	require.NoError(t, LoadParams(bytes.NewReader(buf.Bytes()), dst))
	for _, name := range []string{"w", "b"} {
		want, _ := src.Value(name)
		got, _ := dst.Value(name)
		assert.Equal(t, want.Float64s(), got.Float64s(), name)
	}
	// already bound nodes see loaded values
	want, _ := src.Value("w")
	assert.Equal(t, want.Data(), bound.Value().Data())
}

func TestLoadParamsRejects(t *testing.T) {
	src := NewParams("src")
	require.NoError(t, src.Add("w", gorgonia.GlorotN(1.0), 4, 3))
	require.NoError(t, src.Add("b", gorgonia.Zeroes(), 1, 3))
	buf := &bytes.Buffer{}
	require.NoError(t, SaveParams(buf, src))

	unknown := NewParams("unknown")
	require.NoError(t, unknown.Add("w", gorgonia.Zeroes(), 4, 3))
	err := LoadParams(bytes.NewReader(buf.Bytes()), unknown)
	assert.ErrorIs(t, err, ErrConfigurationMismatch)

	reshaped := NewParams("reshaped")
	require.NoError(t, reshaped.Add("w", gorgonia.Zeroes(), 3, 4))
	require.NoError(t, reshaped.Add("b", gorgonia.Zeroes(), 1, 3))
	err = LoadParams(bytes.NewReader(buf.Bytes()), reshaped)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	// nothing is copied on failure
	w, _ := reshaped.Value("w")
	assert.Equal(t, make([]float64, 12), w.Float64s())

	// stored values must cover every registered parameter
	wider := NewParams("wider")
	require.NoError(t, wider.Add("w", gorgonia.Zeroes(), 4, 3))
	require.NoError(t, wider.Add("b", gorgonia.Zeroes(), 1, 3))
	require.NoError(t, wider.Add("extra", gorgonia.Zeroes(), 1, 3))
	err = LoadParams(bytes.NewReader(buf.Bytes()), wider)
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
	w, _ = wider.Value("w")
	assert.Equal(t, make([]float64, 12), w.Float64s())
}

func TestSaveLoadParamsFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "params.gob")
	src := NewParams("src")
	require.NoError(t, src.Add("w", gorgonia.GlorotN(1.0), 2, 2))
	require.NoError(t, SaveParamsFile(fname, src))

	dst := NewParams("dst")
	require.NoError(t, dst.Add("w", gorgonia.Zeroes(), 2, 2))
	require.NoError(t, LoadParamsFile(fname, dst))
	want, _ := src.Value("w")
	got, _ := dst.Value("w")
	assert.Equal(t, want.Float64s(), got.Float64s())

	assert.Error(t, LoadParamsFile(filepath.Join(t.TempDir(), "missing.gob"), dst))
}
