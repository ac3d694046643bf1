package textgan

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gumbelEps Keeps uniform samples away from 0 and 1, so log(-log(U)) is finite
const gumbelEps = 1e-10

// RelGANConfig Hyperparameters of RelGAN generator
//
// VocabSize - size of the vocabulary
// MaxLength - length of generated sequences
// EmbeddingSize - size of token embedding fed into memory
// NoiseDim - size of noise vector initializing memory
// NSlots - number of memory slots
// NHeads - number of attention heads
// HeadSize - size of every attention head. Memory width is NHeads*HeadSize
// NLayers - number of ReLU layers in memory MLP
// Tau - temperature of Gumbel-softmax relaxation
//
type RelGANConfig struct {
	VocabSize     int
	MaxLength     int
	EmbeddingSize int
	NoiseDim      int
	NSlots        int
	NHeads        int
	HeadSize      int
	NLayers       int
	Tau           float64
}

// Validate Checks configuration consistency
func (cfg RelGANConfig) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"vocab size", cfg.VocabSize},
		{"max length", cfg.MaxLength},
		{"embedding size", cfg.EmbeddingSize},
		{"noise dim", cfg.NoiseDim},
		{"slots", cfg.NSlots},
		{"heads", cfg.NHeads},
		{"head size", cfg.HeadSize},
		{"MLP layers", cfg.NLayers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Wrapf(ErrConfigurationMismatch, "%s must be positive, got %d", p.name, p.value)
		}
	}
	if cfg.Tau <= 0 || math.IsNaN(cfg.Tau) {
		return errors.Wrapf(ErrConfigurationMismatch, "tau must be positive, got %v", cfg.Tau)
	}
	return nil
}

// RelGAN Generator with relational memory: noise initializes memory, every step emits Gumbel-softmax relaxed token
// which is fed back as the next input. See ref. https://openreview.net/forum?id=rJedV3R5tm
type RelGAN struct {
	Network
	cfg     RelGANConfig
	memory  *RelationalMemory
	encoder Encoder
	rng     *rand.Rand

	sampler *stepMachine
	state   []*tensor.Dense
}

// NewRelGAN Constructor for RelGAN
func NewRelGAN(cfg RelGANConfig, opts ...Option) (*RelGAN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions("G_relgan", opts)
	net := &RelGAN{
		Network: newNetwork(o.name, o.logger),
		cfg:     cfg,
		encoder: o.encoder,
		rng:     o.rng,
	}
	if err := addLinear(net.params, "embedding", cfg.VocabSize, cfg.EmbeddingSize, false); err != nil {
		return nil, err
	}
	memory, err := newRelationalMemory(net.params, cfg.NSlots, cfg.NHeads, cfg.HeadSize, cfg.EmbeddingSize, cfg.NLayers)
	if err != nil {
		return nil, err
	}
	net.memory = memory
	if err := addLinear(net.params, "memory_init", cfg.NoiseDim, net.memoryCells(), true); err != nil {
		return nil, err
	}
	if err := addLinear(net.params, "output", net.memoryCells(), cfg.VocabSize, true); err != nil {
		return nil, err
	}
	net.logger.Debug("RelGAN created",
		zap.Int("slots", cfg.NSlots),
		zap.Int("heads", cfg.NHeads),
		zap.Int("head_size", cfg.HeadSize),
		zap.Int("mlp_layers", cfg.NLayers),
		zap.Float64("tau", cfg.Tau),
	)
	return net, nil
}

// Config Returns configuration of generator
func (net *RelGAN) Config() RelGANConfig {
	return net.cfg
}

// NoiseDim Number of noise features per sample
func (net *RelGAN) NoiseDim() int {
	return net.cfg.NoiseDim
}

// OutputShape Shape of single generated sample: (MaxLength, VocabSize)
func (net *RelGAN) OutputShape() (int, int) {
	return net.cfg.MaxLength, net.cfg.VocabSize
}

// VocabSize Returns size of vocabulary
func (net *RelGAN) VocabSize() int {
	return net.cfg.VocabSize
}

// Encoder Returns bound encoder
func (net *RelGAN) Encoder() Encoder {
	return net.encoder
}

func (net *RelGAN) memoryCells() int {
	return net.cfg.NSlots * net.memory.MemorySize()
}

// Forward Builds soft one-hot sequences (batch, MaxLength, VocabSize) from noise (batch, NoiseDim).
// Gumbel noise is added in training mode only, otherwise every step is plain softmax(logits/Tau)
func (net *RelGAN) Forward(noise *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	shp := noise.Shape()
	if shp.Dims() != 2 || shp[1] != net.cfg.NoiseDim {
		return nil, errors.Wrapf(ErrShapeMismatch, "[%s] expected (batch, %d), got %v", net.Name, net.cfg.NoiseDim, shp)
	}
	g := noise.Graph()
	batchSize := shp[0]
	memory, err := net.initMemory(noise)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't init memory", net.Name))
	}
	// Generation starts from all-zeros token
	token := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(batchSize, net.cfg.VocabSize), gorgonia.WithName(fmt.Sprintf("%s_start_%d", net.Name, noise.ID())), gorgonia.WithInit(gorgonia.Zeroes()))
	outputs := make([]*gorgonia.Node, net.cfg.MaxLength)
	for t := range outputs {
		var logits *gorgonia.Node
		logits, memory, err = net.step(token, memory)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't do step #%d", net.Name, t))
		}
		token, err = net.relax(logits, training)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't relax token #%d", net.Name, t))
		}
		outputs[t] = token
	}
	return stackSteps(outputs)
}

// initMemory tanh(z·W + b) reshaped into (batch, NSlots, MemorySize)
func (net *RelGAN) initMemory(noise *gorgonia.Node) (*gorgonia.Node, error) {
	layer, err := linearLayer(net.params, noise.Graph(), "memory_init", true, Tanh)
	if err != nil {
		return nil, err
	}
	flat, err := layer.Fwd(noise)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(flat, tensor.Shape{noise.Shape()[0], net.cfg.NSlots, net.memory.MemorySize()})
}

// step Feeds (soft) token (batch, VocabSize) into memory. Returns logits of the next token and updated memory
func (net *RelGAN) step(token, memory *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	g := token.Graph()
	batchSize := token.Shape()[0]
	embedding, err := linearLayer(net.params, g, "embedding", false, NoActivation)
	if err != nil {
		return nil, nil, err
	}
	embedded, err := embedding.Fwd(token)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't embed token")
	}
	next, err := net.memory.Step(embedded, memory)
	if err != nil {
		return nil, nil, err
	}
	flat, err := gorgonia.Reshape(next, tensor.Shape{batchSize, net.memoryCells()})
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't flatten memory")
	}
	output, err := linearLayer(net.params, g, "output", true, NoActivation)
	if err != nil {
		return nil, nil, err
	}
	logits, err := output.Fwd(flat)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't project memory onto vocabulary")
	}
	return logits, next, nil
}

// relax Gumbel-softmax: softmax((logits + g)/Tau), g = -log(-log(U)), U ~ Uniform(0, 1)
func (net *RelGAN) relax(logits *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	perturbed := logits
	if training {
		shp := logits.Shape()
		u := gorgonia.UniformRandomNode(logits.Graph(), tensor.Float64, gumbelEps, 1-gumbelEps, shp...)
		logU, err := gorgonia.Log(u)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do log(U)")
		}
		negLogU, err := gorgonia.Neg(logU)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do -log(U)")
		}
		logNegLogU, err := gorgonia.Log(negLogU)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do log(-log(U))")
		}
		gumbel, err := gorgonia.Neg(logNegLogU)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do -log(-log(U))")
		}
		perturbed, err = gorgonia.Add(logits, gumbel)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add Gumbel noise")
		}
	}
	return TemperedSoftmax(net.cfg.Tau)(perturbed)
}

// LanguageModel Returns view of generator fed with ground-truth tokens: one-hot tokens (batch, sequence, VocabSize) -> next-token logits.
// Memory is initialized from normal noise drawn inside the graph
func (net *RelGAN) LanguageModel() LanguageModel {
	return &relganLanguageModel{net: net}
}

type relganLanguageModel struct {
	net *RelGAN
}

func (lm *relganLanguageModel) Params() *Params {
	return lm.net.params
}

func (lm *relganLanguageModel) VocabSize() int {
	return lm.net.cfg.VocabSize
}

func (lm *relganLanguageModel) Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	net := lm.net
	shp := x.Shape()
	if shp.Dims() != 3 || shp[2] != net.cfg.VocabSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "[%s] expected (batch, sequence, %d), got %v", net.Name, net.cfg.VocabSize, shp)
	}
	noise := gorgonia.GaussianRandomNode(x.Graph(), tensor.Float64, 0, 1, shp[0], net.cfg.NoiseDim)
	memory, err := net.initMemory(noise)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't init memory", net.Name))
	}
	steps, err := timeSteps(x)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't split input into time steps", net.Name))
	}
	for t := range steps {
		steps[t], memory, err = net.step(steps[t], memory)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't do step #%d", net.Name, t))
		}
	}
	return stackSteps(steps)
}

func (net *RelGAN) stateShapes() []tensor.Shape {
	return []tensor.Shape{{1, net.cfg.NSlots, net.memory.MemorySize()}}
}

// ResetStates Re-initializes memory from fresh noise: tanh(z·W + b)
func (net *RelGAN) ResetStates() error {
	w, _ := net.params.Value("memory_init")
	b, _ := net.params.Value("memory_init_b")
	z := mat.NewDense(1, net.cfg.NoiseDim, NormRandDense(net.rng, 1, net.cfg.NoiseDim).Float64s())
	cells := net.memoryCells()
	var memory mat.Dense
	memory.Mul(z, mat.NewDense(net.cfg.NoiseDim, cells, w.Float64s()))
	memory.Add(&memory, mat.NewDense(1, cells, b.Float64s()))
	memory.Apply(func(_, _ int, v float64) float64 {
		return math.Tanh(v)
	}, &memory)
	backing := make([]float64, cells)
	copy(backing, memory.RawRowView(0))
	net.state = []*tensor.Dense{tensor.New(tensor.WithShape(net.stateShapes()[0]...), tensor.WithBacking(backing))}
	return nil
}

// Step Feeds single token into memory, carrying memory between calls. Returns logits of the next token
func (net *RelGAN) Step(token int) ([]float64, error) {
	if net.sampler == nil {
		sampler, err := newStepMachine(net.Name+"_sampler", net.cfg.VocabSize, net.stateShapes(), net.buildStep)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't prepare sampler", net.Name))
		}
		net.sampler = sampler
	}
	if net.state == nil {
		if err := net.ResetStates(); err != nil {
			return nil, err
		}
	}
	logits, state, err := net.sampler.run(token, net.state)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't do step", net.Name))
	}
	net.state = state
	return logits, nil
}

func (net *RelGAN) buildStep(token *gorgonia.Node, states []*gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	logits, memory, err := net.step(token, states[0])
	if err != nil {
		return nil, nil, err
	}
	return logits, []*gorgonia.Node{memory}, nil
}

// Close Releases sampling machine
func (net *RelGAN) Close() error {
	if net.sampler == nil {
		return nil
	}
	err := net.sampler.close(net.params)
	net.sampler = nil
	return err
}
