package textgan

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
)

// Generator Abstraction for generator part of GAN
type Generator interface {
	// Forward Builds generator's output for provided input node. Parameters are bound to the input's graph
	Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error)
	// Params Returns generator's learnable parameters
	Params() *Params
}

// NoiseGenerator Generator which turns noise into synthetic samples
type NoiseGenerator interface {
	Generator
	// NoiseDim Number of noise features per sample
	NoiseDim() int
	// OutputShape Shape of single synthetic sample: (sequence length, vocabulary size)
	OutputShape() (int, int)
}

// TextGenerator Generator which is able to produce text token by token
type TextGenerator interface {
	Generator
	// Encoder Returns bound encoder (could be nil)
	Encoder() Encoder
	// ResetStates Puts recurrent state back to its initial condition
	ResetStates() error
	// Step Feeds single token and returns logits of the next one
	Step(token int) ([]float64, error)
}

// Encoder Maps text to tokens' ids and back
type Encoder interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) ([]string, error)
}

// GenerateText Generates text by feeding to the network the current token (t) and predicting the next token (t+1)
//
// start - the start string to generate the text
// length - number of tokens to generate
// temperature - logits are divided by this value before sampling. Smaller values sharpen the distribution, larger values flatten it
// rng - source of randomness; same seed gives same text
//
func GenerateText(gen TextGenerator, start string, length int, temperature float64, rng *rand.Rand) ([]string, error) {
	if temperature <= 0 || math.IsNaN(temperature) {
		return nil, errors.Wrapf(ErrNonPositiveTemperature, "got %v", temperature)
	}
	if length < 0 {
		return nil, errors.Wrapf(ErrInvalidLength, "got %d", length)
	}
	enc := gen.Encoder()
	if enc == nil {
		return nil, ErrNoEncoder
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	startTokens, err := enc.Encode(start)
	if err != nil {
		return nil, errors.Wrap(err, "Can't encode start string")
	}
	if len(startTokens) == 0 {
		return nil, ErrEmptySeed
	}
	if err := gen.ResetStates(); err != nil {
		return nil, errors.Wrap(err, "Can't reset generator's states")
	}
	var logits []float64
	for _, token := range startTokens {
		logits, err = gen.Step(token)
		if err != nil {
			return nil, errors.Wrap(err, "Can't feed start token")
		}
	}
	sampledTokens := make([]int, 0, length)
	for i := 0; i < length; i++ {
		sampled := sampleCategorical(logits, temperature, rng)
		sampledTokens = append(sampledTokens, sampled)
		if i == length-1 {
			break
		}
		logits, err = gen.Step(sampled)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't feed sampled token #%d", i)
		}
	}
	text, err := enc.Decode(sampledTokens)
	if err != nil {
		return nil, errors.Wrap(err, "Can't decode sampled tokens")
	}
	return text, nil
}

// sampleCategorical Draws index from softmax(logits/temperature)
func sampleCategorical(logits []float64, temperature float64, rng *rand.Rand) int {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l/temperature > maxLogit {
			maxLogit = l / temperature
		}
	}
	weights := make([]float64, len(logits))
	for i, l := range logits {
		weights[i] = math.Exp(l/temperature - maxLogit)
	}
	dist := distuv.NewCategorical(weights, exprand.NewSource(uint64(rng.Int63())))
	return int(dist.Rand())
}
