package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Params Named learnable values of a single model.
//
// A value may be bound to several graphs at once (training graph, mirror graph, sampling graph).
// Every binding is created with gorgonia.WithValue() on the same *tensor.Dense, so the graphs read
// the same numbers. Solvers may swap the backing value of the graph they train; Pull() copies it back.
//
type Params struct {
	prefix string
	order  []string
	values map[string]*tensor.Dense
	nodes  map[*gorgonia.ExprGraph]map[string]*gorgonia.Node
}

// NewParams Constructor for Params. Prefix is prepended to node names, so it should be unique across models sharing a graph
func NewParams(prefix string) *Params {
	return &Params{
		prefix: prefix,
		values: make(map[string]*tensor.Dense),
		nodes:  make(map[*gorgonia.ExprGraph]map[string]*gorgonia.Node),
	}
}

// Add Registers new parameter initialized by provided init function
func (p *Params) Add(name string, init gorgonia.InitWFn, shape ...int) error {
	if _, ok := p.values[name]; ok {
		return fmt.Errorf("parameter '%s' is already registered", name)
	}
	if len(shape) == 0 {
		return fmt.Errorf("parameter '%s' must have non-empty shape", name)
	}
	backing := init(tensor.Float64, shape...)
	p.values[name] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	p.order = append(p.order, name)
	return nil
}

// Names Returns parameters' names in registration order
func (p *Params) Names() []string {
	ret := make([]string, len(p.order))
	copy(ret, p.order)
	return ret
}

// Value Returns current value of parameter
func (p *Params) Value(name string) (*tensor.Dense, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Node Returns node bound to parameter on provided graph. Node is created on first request.
func (p *Params) Node(g *gorgonia.ExprGraph, name string) (*gorgonia.Node, error) {
	v, ok := p.values[name]
	if !ok {
		return nil, fmt.Errorf("parameter '%s' is not registered", name)
	}
	bound, ok := p.nodes[g]
	if !ok {
		bound = make(map[string]*gorgonia.Node)
		p.nodes[g] = bound
	}
	if n, ok := bound[name]; ok {
		return n, nil
	}
	n := gorgonia.NewTensor(g, tensor.Float64, v.Dims(), gorgonia.WithShape(v.Shape()...), gorgonia.WithName(p.prefix+"_"+name), gorgonia.WithValue(v))
	bound[name] = n
	return n, nil
}

// Learnables Returns learnables nodes which have been bound to provided graph (in registration order)
func (p *Params) Learnables(g *gorgonia.ExprGraph) gorgonia.Nodes {
	bound := p.nodes[g]
	learnables := make(gorgonia.Nodes, 0, len(bound))
	for _, name := range p.order {
		if n, ok := bound[name]; ok {
			learnables = append(learnables, n)
		}
	}
	return learnables
}

// Pull Copies values of nodes bound to provided graph back into shared storage
func (p *Params) Pull(g *gorgonia.ExprGraph) error {
	for name, n := range p.nodes[g] {
		src, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("parameter '%s' has value of unexpected type %T", name, n.Value())
		}
		dst := p.values[name]
		if src == dst {
			continue
		}
		copy(dst.Float64s(), src.Float64s())
	}
	return nil
}

// rebind Points every bound node back to shared storage. Used after values were replaced from outside (e.g. checkpoint loading)
func (p *Params) rebind() error {
	for _, bound := range p.nodes {
		for name, n := range bound {
			if cur, ok := n.Value().(*tensor.Dense); ok && cur == p.values[name] {
				continue
			}
			if err := gorgonia.Let(n, p.values[name]); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't rebind parameter '%s'", name))
			}
		}
	}
	return nil
}

// forget Drops bindings to provided graph
func (p *Params) forget(g *gorgonia.ExprGraph) {
	delete(p.nodes, g)
}
