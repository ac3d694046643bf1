package textgan

import (
	"math/rand"

	"go.uber.org/zap"
)

// Network Named base for every concrete model: owns model's parameters and logger.
//
// Name - identifier used as prefix of graph nodes; must be unique among models sharing a graph
// params - learnable values
// logger - component scoped logger
//
type Network struct {
	Name   string
	params *Params
	logger *zap.Logger
}

func newNetwork(name string, logger *zap.Logger) Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Network{
		Name:   name,
		params: NewParams(name),
		logger: logger.With(zap.String("network", name)),
	}
}

// Params Returns parameters of network
func (net *Network) Params() *Params {
	return net.params
}

// Option Functional option shared by networks' and trainers' constructors. Options which make no sense for a component are ignored by it
type Option func(*options)

type options struct {
	name      string
	logger    *zap.Logger
	encoder   Encoder
	rng       *rand.Rand
	seqLen    int
	vocabSize int
}

// WithName Overrides default network name
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger Sets logger for component
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEncoder Binds encoder which is needed by text generation
func WithEncoder(enc Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithRand Sets source of randomness (noise, memory initialization)
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// WithSampleShape Sets shape of single real sample: (sequence length, vocabulary size)
func WithSampleShape(seqLen, vocabSize int) Option {
	return func(o *options) {
		o.seqLen = seqLen
		o.vocabSize = vocabSize
	}
}

func buildOptions(defaultName string, opts []Option) options {
	o := options{name: defaultName}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return o
}
