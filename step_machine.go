package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// stepMachine Inference graph processing single token (batch of one) with explicit recurrent state.
//
// token - one-hot input (1, vocab)
// states - recurrent state inputs
// nextStates - recurrent state outputs
// logits - next token logits (1, vocab)
//
type stepMachine struct {
	graph      *gorgonia.ExprGraph
	vm         gorgonia.VM
	token      *gorgonia.Node
	states     []*gorgonia.Node
	nextStates []*gorgonia.Node
	logits     *gorgonia.Node
	vocabSize  int
}

// stepFunc Builds one recurrent step on provided graph
type stepFunc func(token *gorgonia.Node, states []*gorgonia.Node) (logits *gorgonia.Node, nextStates []*gorgonia.Node, err error)

func newStepMachine(name string, vocabSize int, stateShapes []tensor.Shape, build stepFunc) (*stepMachine, error) {
	g := gorgonia.NewGraph()
	m := &stepMachine{
		graph:     g,
		token:     gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(1, vocabSize), gorgonia.WithName(name+"_token")),
		states:    make([]*gorgonia.Node, len(stateShapes)),
		vocabSize: vocabSize,
	}
	for i, shp := range stateShapes {
		m.states[i] = gorgonia.NewTensor(g, tensor.Float64, shp.Dims(), gorgonia.WithShape(shp...), gorgonia.WithName(fmt.Sprintf("%s_state_%d", name, i)))
	}
	logits, nextStates, err := build(m.token, m.states)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build step graph")
	}
	if len(nextStates) != len(m.states) {
		return nil, fmt.Errorf("step produced %d states, but %d expected", len(nextStates), len(m.states))
	}
	m.logits = logits
	m.nextStates = nextStates
	m.vm = gorgonia.NewTapeMachine(g)
	return m, nil
}

// run Feeds token and states, returns logits and next states (detached copies)
func (m *stepMachine) run(token int, states []*tensor.Dense) ([]float64, []*tensor.Dense, error) {
	if token < 0 || token >= m.vocabSize {
		return nil, nil, fmt.Errorf("token %d is out of vocabulary of size %d", token, m.vocabSize)
	}
	oneHot := tensor.New(tensor.WithShape(1, m.vocabSize), tensor.WithBacking(make([]float64, m.vocabSize)))
	oneHot.Float64s()[token] = 1
	if err := gorgonia.Let(m.token, oneHot); err != nil {
		return nil, nil, errors.Wrap(err, "Can't init token value")
	}
	for i := range states {
		if err := gorgonia.Let(m.states[i], states[i]); err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't init state #%d", i))
		}
	}
	defer m.vm.Reset()
	if err := m.vm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "Can't run VM")
	}
	logitsValue, ok := m.logits.Value().(*tensor.Dense)
	if !ok {
		return nil, nil, fmt.Errorf("logits have unexpected value type %T", m.logits.Value())
	}
	logits := make([]float64, m.vocabSize)
	copy(logits, logitsValue.Float64s())
	next := make([]*tensor.Dense, len(m.nextStates))
	for i, n := range m.nextStates {
		v, ok := n.Value().(*tensor.Dense)
		if !ok {
			return nil, nil, fmt.Errorf("state #%d has unexpected value type %T", i, n.Value())
		}
		next[i] = v.Clone().(*tensor.Dense)
	}
	return logits, next, nil
}

func (m *stepMachine) close(p *Params) error {
	p.forget(m.graph)
	return m.vm.Close()
}

func zeroStates(shapes []tensor.Shape) []*tensor.Dense {
	states := make([]*tensor.Dense, len(shapes))
	for i, shp := range shapes {
		states[i] = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shp...))
	}
	return states
}
