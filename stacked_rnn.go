package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StackedRNNConfig Hyperparameters of StackedRNN
//
// VocabSize - size of the vocabulary
// EmbeddingSize - size of the embedding layer
// HiddenSize - amount of hidden neurons per stacked cell
//
type StackedRNNConfig struct {
	VocabSize     int
	EmbeddingSize int
	HiddenSize    []int
}

// Validate Checks configuration consistency
func (cfg StackedRNNConfig) Validate() error {
	if cfg.VocabSize <= 0 || cfg.EmbeddingSize <= 0 {
		return errors.Wrapf(ErrConfigurationMismatch, "vocab size and embedding size must be positive, got %d and %d", cfg.VocabSize, cfg.EmbeddingSize)
	}
	if len(cfg.HiddenSize) == 0 {
		return errors.Wrap(ErrConfigurationMismatch, "at least one recurrent cell is required")
	}
	for i, h := range cfg.HiddenSize {
		if h <= 0 {
			return errors.Wrapf(ErrConfigurationMismatch, "cell #%d has %d hidden neurons", i, h)
		}
	}
	return nil
}

// StackedRNN Stacked Elman recurrent network: embedding -> stack of simple recurrent cells -> linear projection to vocabulary.
// See ref. http://psych.colorado.edu/~kimlab/Elman1990.pdf
type StackedRNN struct {
	Network
	cfg     StackedRNNConfig
	encoder Encoder

	sampler *stepMachine
	hidden  []*tensor.Dense
}

// NewStackedRNN Constructor for StackedRNN
func NewStackedRNN(cfg StackedRNNConfig, opts ...Option) (*StackedRNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions("stacked_rnn", opts)
	net := &StackedRNN{
		Network: newNetwork(o.name, o.logger),
		cfg:     cfg,
		encoder: o.encoder,
	}
	if err := addLinear(net.params, "embedding", cfg.VocabSize, cfg.EmbeddingSize, false); err != nil {
		return nil, err
	}
	in := cfg.EmbeddingSize
	for i, h := range cfg.HiddenSize {
		name := fmt.Sprintf("rnn_cell%d", i)
		if err := addLinear(net.params, name, in, h, true); err != nil {
			return nil, err
		}
		if err := net.params.Add(name+"_recurrent", gorgonia.GlorotN(1.0), h, h); err != nil {
			return nil, err
		}
		in = h
	}
	if err := addLinear(net.params, "dense", in, cfg.VocabSize, true); err != nil {
		return nil, err
	}
	net.logger.Debug("Stacked RNN created", zap.Int("cells", len(cfg.HiddenSize)))
	return net, nil
}

// Config Returns configuration of network
func (net *StackedRNN) Config() StackedRNNConfig {
	return net.cfg
}

// VocabSize Returns size of vocabulary
func (net *StackedRNN) VocabSize() int {
	return net.cfg.VocabSize
}

// Encoder Returns bound encoder
func (net *StackedRNN) Encoder() Encoder {
	return net.encoder
}

// Forward Builds per-position next-token logits (batch, sequence, vocab) for one-hot tokens (batch, sequence, vocab)
func (net *StackedRNN) Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	shp := x.Shape()
	if shp.Dims() != 3 || shp[2] != net.cfg.VocabSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "[%s] expected (batch, sequence, %d), got %v", net.Name, net.cfg.VocabSize, shp)
	}
	g := x.Graph()
	embedding, err := linearLayer(net.params, g, "embedding", false, NoActivation)
	if err != nil {
		return nil, err
	}
	embedded, err := embedding.Fwd(x)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't embed input", net.Name))
	}
	steps, err := timeSteps(embedded)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't split input into time steps", net.Name))
	}
	for i := range net.cfg.HiddenSize {
		var hidden *gorgonia.Node
		for t := range steps {
			hidden, err = net.cell(g, i, steps[t], hidden)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't feedforward cell #%d at time step #%d", net.Name, i, t))
			}
			steps[t] = hidden
		}
	}
	sequence, err := stackSteps(steps)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't stack recurrent outputs", net.Name))
	}
	dense, err := linearLayer(net.params, g, "dense", true, NoActivation)
	if err != nil {
		return nil, err
	}
	logits, err := dense.Fwd(sequence)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't project recurrent outputs onto vocabulary", net.Name))
	}
	return logits, nil
}

// cell Simple recurrent cell: tanh(x·W + b + h·U). Nil hidden stands for zero initial state
func (net *StackedRNN) cell(g *gorgonia.ExprGraph, i int, x, hidden *gorgonia.Node) (*gorgonia.Node, error) {
	name := fmt.Sprintf("rnn_cell%d", i)
	input, err := linearLayer(net.params, g, name, true, NoActivation)
	if err != nil {
		return nil, err
	}
	preActivated, err := input.Fwd(x)
	if err != nil {
		return nil, errors.Wrap(err, "Can't multiply input and kernel")
	}
	if hidden != nil {
		recurrent, err := linearLayer(net.params, g, name+"_recurrent", false, NoActivation)
		if err != nil {
			return nil, err
		}
		fromHidden, err := recurrent.Fwd(hidden)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply hidden state and recurrent kernel")
		}
		preActivated, err = gorgonia.Add(preActivated, fromHidden)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add recurrent part")
		}
	}
	return Tanh(preActivated)
}

func (net *StackedRNN) stateShapes() []tensor.Shape {
	shapes := make([]tensor.Shape, len(net.cfg.HiddenSize))
	for i, h := range net.cfg.HiddenSize {
		shapes[i] = tensor.Shape{1, h}
	}
	return shapes
}

// ResetStates Zeroes hidden state of every cell
func (net *StackedRNN) ResetStates() error {
	net.hidden = zeroStates(net.stateShapes())
	return nil
}

// Step Feeds single token through the stack, carrying hidden states between calls. Returns logits of the next token
func (net *StackedRNN) Step(token int) ([]float64, error) {
	if net.sampler == nil {
		sampler, err := newStepMachine(net.Name+"_sampler", net.cfg.VocabSize, net.stateShapes(), net.buildStep)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't prepare sampler", net.Name))
		}
		net.sampler = sampler
	}
	if net.hidden == nil {
		net.ResetStates()
	}
	logits, hidden, err := net.sampler.run(token, net.hidden)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't do step", net.Name))
	}
	net.hidden = hidden
	return logits, nil
}

func (net *StackedRNN) buildStep(token *gorgonia.Node, states []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	g := token.Graph()
	embedding, err := linearLayer(net.params, g, "embedding", false, NoActivation)
	if err != nil {
		return nil, nil, err
	}
	x, err := embedding.Fwd(token)
	if err != nil {
		return nil, nil, err
	}
	next := make([]*gorgonia.Node, len(states))
	for i := range states {
		x, err = net.cell(g, i, x, states[i])
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("Can't feedforward cell #%d", i))
		}
		next[i] = x
	}
	dense, err := linearLayer(net.params, g, "dense", true, NoActivation)
	if err != nil {
		return nil, nil, err
	}
	logits, err := dense.Fwd(x)
	if err != nil {
		return nil, nil, err
	}
	return logits, next, nil
}

// Close Releases sampling machine
func (net *StackedRNN) Close() error {
	if net.sampler == nil {
		return nil
	}
	err := net.sampler.close(net.params)
	net.sampler = nil
	return err
}
