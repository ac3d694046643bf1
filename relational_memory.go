package textgan

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// RelationalMemory Memory of NSlots slots which attend over themselves and the current input with multi-head attention.
// Updated memory is mixed with the previous one by LSTM-like input and forget gates.
// See ref. https://arxiv.org/abs/1806.01822
type RelationalMemory struct {
	params    *Params
	nSlots    int
	nHeads    int
	headSize  int
	inputSize int
	mlpLayers int
}

func newRelationalMemory(p *Params, nSlots, nHeads, headSize, inputSize, mlpLayers int) (*RelationalMemory, error) {
	rm := &RelationalMemory{
		params:    p,
		nSlots:    nSlots,
		nHeads:    nHeads,
		headSize:  headSize,
		inputSize: inputSize,
		mlpLayers: mlpLayers,
	}
	m := rm.MemorySize()
	if err := addLinear(p, "memory_input", inputSize, m, true); err != nil {
		return nil, err
	}
	for h := 0; h < nHeads; h++ {
		for _, kind := range []string{"query", "key", "value"} {
			if err := addLinear(p, fmt.Sprintf("memory_%s_%d", kind, h), m, headSize, false); err != nil {
				return nil, err
			}
		}
	}
	for l := 0; l < mlpLayers; l++ {
		if err := addLinear(p, fmt.Sprintf("memory_mlp_%d", l), m, m, true); err != nil {
			return nil, err
		}
	}
	for _, gate := range []string{"input", "forget"} {
		if err := addLinear(p, fmt.Sprintf("memory_%s_gate_x", gate), m, m, true); err != nil {
			return nil, err
		}
		if err := addLinear(p, fmt.Sprintf("memory_%s_gate_m", gate), m, m, false); err != nil {
			return nil, err
		}
	}
	return rm, nil
}

// MemorySize Width of every slot: NHeads*HeadSize
func (rm *RelationalMemory) MemorySize() int {
	return rm.nHeads * rm.headSize
}

// Slots Number of memory slots
func (rm *RelationalMemory) Slots() int {
	return rm.nSlots
}

// Step Updates memory (batch, NSlots, MemorySize) with input (batch, inputSize)
func (rm *RelationalMemory) Step(input, memory *gorgonia.Node) (*gorgonia.Node, error) {
	g := input.Graph()
	batchSize := memory.Shape()[0]
	m := rm.MemorySize()

	inputLayer, err := linearLayer(rm.params, g, "memory_input", true, NoActivation)
	if err != nil {
		return nil, err
	}
	x, err := inputLayer.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "Can't project input onto memory width")
	}
	x3, err := gorgonia.Reshape(x, tensor.Shape{batchSize, 1, m})
	if err != nil {
		return nil, errors.Wrap(err, "Can't expand input")
	}
	// Slots attend over [memory; input]
	memoryInput, err := gorgonia.Concat(1, memory, x3)
	if err != nil {
		return nil, errors.Wrap(err, "Can't concatenate memory and input")
	}

	attended, err := rm.attend(g, memory, memoryInput)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply multi-head attention")
	}
	residual, err := gorgonia.Add(memory, attended)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add attention residual")
	}
	residual2D, err := gorgonia.Reshape(residual, tensor.Shape{batchSize * rm.nSlots, m})
	if err != nil {
		return nil, errors.Wrap(err, "Can't collapse memory")
	}
	mlp := residual2D
	for l := 0; l < rm.mlpLayers; l++ {
		mlpLayer, err := linearLayer(rm.params, g, fmt.Sprintf("memory_mlp_%d", l), true, Rectify)
		if err != nil {
			return nil, err
		}
		mlp, err = mlpLayer.Fwd(mlp)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't apply layer #%d of memory MLP", l))
		}
	}
	candidate2D, err := gorgonia.Add(residual2D, mlp)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add MLP residual")
	}
	candidate, err := gorgonia.Reshape(candidate2D, tensor.Shape{batchSize, rm.nSlots, m})
	if err != nil {
		return nil, errors.Wrap(err, "Can't restore memory")
	}
	candidate, err = Tanh(candidate)
	if err != nil {
		return nil, err
	}

	inputGate, err := rm.gate(g, "input", x, memory)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute input gate")
	}
	forgetGate, err := rm.gate(g, "forget", x, memory)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute forget gate")
	}
	written, err := gorgonia.HadamardProd(inputGate, candidate)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (i.*candidate)")
	}
	kept, err := gorgonia.HadamardProd(forgetGate, memory)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (f.*memory)")
	}
	return gorgonia.Add(written, kept)
}

// attend Scaled dot-product attention of memory slots (queries) over memoryInput (keys, values), one projection set per head
func (rm *RelationalMemory) attend(g *gorgonia.ExprGraph, memory, memoryInput *gorgonia.Node) (*gorgonia.Node, error) {
	batchSize := memory.Shape()[0]
	m := rm.MemorySize()
	keysNum := rm.nSlots + 1
	memory2D, err := gorgonia.Reshape(memory, tensor.Shape{batchSize * rm.nSlots, m})
	if err != nil {
		return nil, err
	}
	memoryInput2D, err := gorgonia.Reshape(memoryInput, tensor.Shape{batchSize * keysNum, m})
	if err != nil {
		return nil, err
	}
	attention := TemperedSoftmax(math.Sqrt(float64(rm.headSize)))
	heads := make([]*gorgonia.Node, rm.nHeads)
	for h := range heads {
		q, err := rm.project(g, fmt.Sprintf("memory_query_%d", h), memory2D, tensor.Shape{batchSize, rm.nSlots, rm.headSize})
		if err != nil {
			return nil, err
		}
		k, err := rm.project(g, fmt.Sprintf("memory_key_%d", h), memoryInput2D, tensor.Shape{batchSize, keysNum, rm.headSize})
		if err != nil {
			return nil, err
		}
		v, err := rm.project(g, fmt.Sprintf("memory_value_%d", h), memoryInput2D, tensor.Shape{batchSize, keysNum, rm.headSize})
		if err != nil {
			return nil, err
		}
		kT, err := gorgonia.Transpose(k, 0, 2, 1)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't transpose keys of head #%d", h))
		}
		scores, err := gorgonia.BatchedMatMul(q, kT)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't do (Q@K^T) for head #%d", h))
		}
		// softmax(scores/sqrt(head_size)) over keys: rows of (batch*slots, keys)
		scores2D, err := gorgonia.Reshape(scores, tensor.Shape{batchSize * rm.nSlots, keysNum})
		if err != nil {
			return nil, err
		}
		weights2D, err := attention(scores2D)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't do softmax for head #%d", h))
		}
		weights, err := gorgonia.Reshape(weights2D, tensor.Shape{batchSize, rm.nSlots, keysNum})
		if err != nil {
			return nil, err
		}
		heads[h], err = gorgonia.BatchedMatMul(weights, v)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't do (W@V) for head #%d", h))
		}
	}
	if len(heads) == 1 {
		return heads[0], nil
	}
	return gorgonia.Concat(2, heads...)
}

func (rm *RelationalMemory) project(g *gorgonia.ExprGraph, name string, x *gorgonia.Node, to tensor.Shape) (*gorgonia.Node, error) {
	layer, err := linearLayer(rm.params, g, name, false, NoActivation)
	if err != nil {
		return nil, err
	}
	projected, err := layer.Fwd(x)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't apply projection '%s'", name))
	}
	return gorgonia.Reshape(projected, to)
}

// gate sigmoid(x·Wx + b + tanh(memory)·Wm), input part is shared by every slot
func (rm *RelationalMemory) gate(g *gorgonia.ExprGraph, kind string, x, memory *gorgonia.Node) (*gorgonia.Node, error) {
	batchSize := memory.Shape()[0]
	m := rm.MemorySize()
	memory2D, err := gorgonia.Reshape(memory, tensor.Shape{batchSize * rm.nSlots, m})
	if err != nil {
		return nil, err
	}
	squashed, err := Tanh(memory2D)
	if err != nil {
		return nil, err
	}
	fromMemory, err := rm.project(g, fmt.Sprintf("memory_%s_gate_m", kind), squashed, tensor.Shape{batchSize, rm.nSlots, m})
	if err != nil {
		return nil, err
	}
	inputLayer, err := linearLayer(rm.params, g, fmt.Sprintf("memory_%s_gate_x", kind), true, NoActivation)
	if err != nil {
		return nil, err
	}
	fromInput, err := inputLayer.Fwd(x)
	if err != nil {
		return nil, err
	}
	fromInput, err = gorgonia.Reshape(fromInput, tensor.Shape{batchSize, 1, m})
	if err != nil {
		return nil, err
	}
	sum, err := broadcastAdd(fromMemory, fromInput, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add input part to every slot")
	}
	return Sigmoid(sum)
}
