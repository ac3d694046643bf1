package textgan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	m := NewMean("loss")
	assert.Equal(t, 0.0, m.Result())
	assert.Equal(t, 0, m.Count())

	m.Update(1.5)
	assert.Equal(t, 1.5, m.Result())
	m.Update(2.5)
	m.Update(5)
	assert.InDelta(t, 3.0, m.Result(), 1e-12)
	assert.Equal(t, 3, m.Count())

	m.Reset()
	assert.Equal(t, 0.0, m.Result())
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, "loss", m.Name)
}
