package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TextDiscriminatorConfig Hyperparameters of TextDiscriminator
//
// VocabSize - size of one-hot (or relaxed one-hot) token vectors
// MaxLength - maximum length of the sequences
// EmbeddingSize - size of the embedding layer
// NFilters - number of filters for each n-gram size
// FiltersSize - n-gram size of each filter bank, same length as NFilters
// DropoutRate - dropout rate applied in training mode
//
type TextDiscriminatorConfig struct {
	VocabSize     int
	MaxLength     int
	EmbeddingSize int
	NFilters      []int
	FiltersSize   []int
	DropoutRate   float64
}

// Validate Checks configuration consistency
func (cfg TextDiscriminatorConfig) Validate() error {
	if cfg.VocabSize <= 0 || cfg.MaxLength <= 0 || cfg.EmbeddingSize <= 0 {
		return errors.Wrapf(ErrConfigurationMismatch, "vocab size, max length and embedding size must be positive, got %d, %d, %d", cfg.VocabSize, cfg.MaxLength, cfg.EmbeddingSize)
	}
	if len(cfg.NFilters) == 0 {
		return errors.Wrap(ErrConfigurationMismatch, "at least one filter bank is required")
	}
	if len(cfg.NFilters) != len(cfg.FiltersSize) {
		return errors.Wrapf(ErrConfigurationMismatch, "len(n_filters) = %d, but len(filters_size) = %d", len(cfg.NFilters), len(cfg.FiltersSize))
	}
	for i := range cfg.NFilters {
		if cfg.NFilters[i] <= 0 {
			return errors.Wrapf(ErrConfigurationMismatch, "filter bank #%d has %d filters", i, cfg.NFilters[i])
		}
		if cfg.FiltersSize[i] <= 0 || cfg.FiltersSize[i] > cfg.MaxLength {
			return errors.Wrapf(ErrConfigurationMismatch, "filter bank #%d has size %d, but it should be in [1; %d]", i, cfg.FiltersSize[i], cfg.MaxLength)
		}
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 {
		return errors.Wrapf(ErrConfigurationMismatch, "dropout rate should be in [0; 1), got %v", cfg.DropoutRate)
	}
	return nil
}

// TextDiscriminator Text-discriminative part of GAN: n-gram convolutions over the whole sequence, highway and dropout
type TextDiscriminator struct {
	Network
	cfg TextDiscriminatorConfig
}

// NewTextDiscriminator Constructor for TextDiscriminator. Fails fast on inconsistent configuration
func NewTextDiscriminator(cfg TextDiscriminatorConfig, opts ...Option) (*TextDiscriminator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions("D_text", opts)
	net := &TextDiscriminator{
		Network: newNetwork(o.name, o.logger),
		cfg:     cfg,
	}
	if err := addLinear(net.params, "embedding", cfg.VocabSize, cfg.EmbeddingSize, true); err != nil {
		return nil, err
	}
	for i := range cfg.NFilters {
		if err := net.params.Add(fmt.Sprintf("conv_%d", i), gorgonia.GlorotN(1.0), cfg.NFilters[i], 1, cfg.FiltersSize[i], cfg.EmbeddingSize); err != nil {
			return nil, err
		}
		if err := net.params.Add(fmt.Sprintf("conv_%d_b", i), gorgonia.Zeroes(), 1, cfg.NFilters[i]); err != nil {
			return nil, err
		}
	}
	if err := addLinear(net.params, "highway", net.OutputSize(), net.OutputSize(), true); err != nil {
		return nil, err
	}
	net.logger.Debug("Discriminator created",
		zap.Ints("n_filters", cfg.NFilters),
		zap.Ints("filters_size", cfg.FiltersSize),
		zap.Int("output_size", net.OutputSize()),
	)
	return net, nil
}

// Config Returns configuration of discriminator
func (net *TextDiscriminator) Config() TextDiscriminatorConfig {
	return net.cfg
}

// OutputSize Width of verdict: sum of NFilters
func (net *TextDiscriminator) OutputSize() int {
	total := 0
	for _, n := range net.cfg.NFilters {
		total += n
	}
	return total
}

// DropoutRate Returns rate of dropout applied in training mode
func (net *TextDiscriminator) DropoutRate() float64 {
	return net.cfg.DropoutRate
}

// MaskWidth Dropout mask is shaped (batch, MaskWidth())
func (net *TextDiscriminator) MaskWidth() int {
	return net.OutputSize()
}

// Forward Builds verdict for samples shaped (batch, MaxLength, VocabSize). Output is shaped (batch, sum(NFilters))
func (net *TextDiscriminator) Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	out, err := net.features(x)
	if err != nil {
		return nil, err
	}
	if training && net.cfg.DropoutRate > 0 {
		out, err = gorgonia.Dropout(out, net.cfg.DropoutRate)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't apply dropout", net.Name))
		}
	}
	return out, nil
}

// ForwardWithMask Training verdict where dropout is taken from mask (batch, MaskWidth()) holding 0 or 1/(1-DropoutRate). See DropoutMask()
func (net *TextDiscriminator) ForwardWithMask(x, mask *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := net.features(x)
	if err != nil {
		return nil, err
	}
	if !mask.Shape().Eq(out.Shape()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "[%s] dropout mask is %v, but verdict is %v", net.Name, mask.Shape(), out.Shape())
	}
	out, err = gorgonia.HadamardProd(out, mask)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't apply dropout mask", net.Name))
	}
	return out, nil
}

// features Verdict before dropout
func (net *TextDiscriminator) features(x *gorgonia.Node) (*gorgonia.Node, error) {
	shp := x.Shape()
	if shp.Dims() != 3 || shp[1] != net.cfg.MaxLength || shp[2] != net.cfg.VocabSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "[%s] expected (batch, %d, %d), got %v", net.Name, net.cfg.MaxLength, net.cfg.VocabSize, shp)
	}
	batchSize := shp[0]
	g := x.Graph()

	embedding, err := linearLayer(net.params, g, "embedding", true, NoActivation)
	if err != nil {
		return nil, err
	}
	embedded, err := embedding.Fwd(x)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't embed input", net.Name))
	}
	// NCHW with single channel: (batch, 1, time, embedding)
	image, err := gorgonia.Reshape(embedded, tensor.Shape{batchSize, 1, net.cfg.MaxLength, net.cfg.EmbeddingSize})
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't reshape embeddings into image", net.Name))
	}

	pools := make([]*gorgonia.Node, 0, len(net.cfg.NFilters))
	for i := range net.cfg.NFilters {
		pooled, err := net.ngram(g, image, i)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't apply filter bank #%d", net.Name, i))
		}
		pools = append(pools, pooled)
	}
	features := pools[0]
	if len(pools) > 1 {
		features, err = gorgonia.Concat(1, pools...)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't concatenate pooled features", net.Name))
		}
	}

	out, err := net.highway(g, features)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("[%s] Can't apply highway", net.Name))
	}
	return out, nil
}

// ngram Convolution spanning the whole embedding, max-pooled over every remaining time step. Output is (batch, n)
func (net *TextDiscriminator) ngram(g *gorgonia.ExprGraph, image *gorgonia.Node, i int) (*gorgonia.Node, error) {
	batchSize := image.Shape()[0]
	k := net.cfg.FiltersSize[i]
	steps := net.cfg.MaxLength - k + 1
	kernel, err := net.params.Node(g, fmt.Sprintf("conv_%d", i))
	if err != nil {
		return nil, err
	}
	bias, err := net.params.Node(g, fmt.Sprintf("conv_%d_b", i))
	if err != nil {
		return nil, err
	}
	conv := &Layer{
		WeightNode:   kernel,
		Type:         LayerConvolutional,
		KernelHeight: k,
		KernelWidth:  net.cfg.EmbeddingSize,
	}
	convolved, err := conv.Fwd(image)
	if err != nil {
		return nil, err
	}
	pool := &Layer{
		Type:         LayerMaxpool,
		KernelHeight: steps,
		KernelWidth:  1,
	}
	pooled, err := pool.Fwd(convolved)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(pooled, tensor.Shape{batchSize, net.cfg.NFilters[i]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't flatten pooled output")
	}
	// bias and ReLU are monotonic per filter, so applying them after the max equals applying them before
	biased, err := broadcastAdd(flat, bias, 0)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add bias to pooled output")
	}
	return gorgonia.Rectify(biased)
}

// highway sigmoid(h)*relu(h) + (1-sigmoid(h))*x where h = x·W + b
func (net *TextDiscriminator) highway(g *gorgonia.ExprGraph, x *gorgonia.Node) (*gorgonia.Node, error) {
	layer, err := linearLayer(net.params, g, "highway", true, NoActivation)
	if err != nil {
		return nil, err
	}
	h, err := layer.Fwd(x)
	if err != nil {
		return nil, err
	}
	gate, err := gorgonia.Sigmoid(h)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sigmoid(h)")
	}
	transformed, err := gorgonia.Rectify(h)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do relu(h)")
	}
	gated, err := gorgonia.HadamardProd(gate, transformed)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sigmoid(h)*relu(h)")
	}
	carried, err := gorgonia.HadamardProd(gate, x)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sigmoid(h)*x")
	}
	// (1-s)*x == x - s*x
	passed, err := gorgonia.Sub(x, carried)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do x - sigmoid(h)*x")
	}
	return gorgonia.Add(gated, passed)
}
