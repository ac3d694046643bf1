package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	textgan "github.com/LdDl/textgan-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	corpusFile    = flag.String("corpus", "data/text/chapter1_harry.txt", "Plain text file, tokenized by characters")
	batchSize     = flag.Int("batch", 64, "Batch size")
	maxLength     = flag.Int("max-length", 10, "Length of generated (and real) sequences")
	embeddingSize = flag.Int("embedding", 256, "Size of embedding layer")
	noiseDim      = flag.Int("noise", 100, "Size of noise vector")
	slots         = flag.Int("slots", 5, "Number of memory slots")
	heads         = flag.Int("heads", 5, "Number of attention heads")
	headSize      = flag.Int("head-size", 25, "Size of every attention head")
	mlpLayers     = flag.Int("mlp-layers", 3, "Number of layers in memory MLP")
	tau           = flag.Float64("tau", 5, "Gumbel-softmax temperature")
	preEpochs     = flag.Int("pre-epochs", 200, "Number of epochs of maximum likelihood pre-fit")
	epochs        = flag.Int("epochs", 50, "Number of adversarial epochs")
	weightsPrefix = flag.String("weights", "relgan", "Prefix of files with learned weights")
	plotFile      = flag.String("plot", "losses.png", "Where to plot losses of adversarial training")
)

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer logger.Sync()

	/* Prepare dataset */
	text, err := os.ReadFile(*corpusFile)
	if err != nil {
		logger.Fatal("Can't read corpus", zap.Error(err))
	}
	encoder := newCharEncoder(string(text))
	tokens, err := encoder.Encode(string(text))
	if err != nil {
		logger.Fatal("Can't encode corpus", zap.Error(err))
	}
	vocabSize := encoder.VocabSize()
	batches, err := textgan.BuildLanguageModelingBatches(tokens, *maxLength, *batchSize, vocabSize)
	if err != nil {
		logger.Fatal("Can't prepare batches", zap.Error(err))
	}
	logger.Info("Dataset is ready", zap.Int("tokens", len(tokens)), zap.Int("vocab_size", vocabSize), zap.Int("batches", len(batches)))

	/* Define generator and discriminator */
	generator, err := textgan.NewRelGAN(textgan.RelGANConfig{
		VocabSize:     vocabSize,
		MaxLength:     *maxLength,
		EmbeddingSize: *embeddingSize,
		NoiseDim:      *noiseDim,
		NSlots:        *slots,
		NHeads:        *heads,
		HeadSize:      *headSize,
		NLayers:       *mlpLayers,
		Tau:           *tau,
	}, textgan.WithEncoder(encoder), textgan.WithLogger(logger), textgan.WithRand(rand.New(rand.NewSource(1337))))
	if err != nil {
		logger.Fatal("Can't define generator", zap.Error(err))
	}
	defer generator.Close()
	discriminator, err := textgan.NewTextDiscriminator(textgan.TextDiscriminatorConfig{
		VocabSize:     vocabSize,
		MaxLength:     *maxLength,
		EmbeddingSize: *embeddingSize,
		NFilters:      []int{64, 128, 256},
		FiltersSize:   []int{3, 5, 5},
		DropoutRate:   0.25,
	}, textgan.WithLogger(logger))
	if err != nil {
		logger.Fatal("Can't define discriminator", zap.Error(err))
	}

	/* Pre-fit generator as language model */
	preTrainer, err := textgan.NewLanguageModelTrainer(generator.LanguageModel(), *batchSize, *maxLength, vocabSize, textgan.WithLogger(logger), textgan.WithName("pre_fit"))
	if err != nil {
		logger.Fatal("Can't define pre-fit trainer", zap.Error(err))
	}
	if err := preTrainer.Compile(gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.01), gorgonia.WithBatchSize(float64(*batchSize)))); err != nil {
		logger.Fatal("Can't compile pre-fit trainer", zap.Error(err))
	}
	if err := preTrainer.Fit(context.Background(), batches, *preEpochs); err != nil {
		logger.Fatal("Can't pre-fit generator", zap.Error(err))
	}
	preTrainer.Close()

	/* Adversarial fit */
	realSamples := make([]*tensor.Dense, len(batches))
	for i := range batches {
		realSamples[i] = batches[i].Data
	}
	trainer, err := textgan.NewAdversarial(generator, discriminator, *batchSize, textgan.WithLogger(logger), textgan.WithRand(rand.New(rand.NewSource(42))))
	if err != nil {
		logger.Fatal("Can't define adversarial trainer", zap.Error(err))
	}
	defer trainer.Close()
	err = trainer.Compile(
		gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.0001), gorgonia.WithBatchSize(float64(*batchSize))),
		gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.0001), gorgonia.WithBatchSize(float64(*batchSize))),
	)
	if err != nil {
		logger.Fatal("Can't compile adversarial trainer", zap.Error(err))
	}
	if err := trainer.Fit(context.Background(), realSamples, *epochs); err != nil {
		logger.Fatal("Can't fit GAN", zap.Error(err))
	}
	if err := textgan.PlotLosses(trainer.History(), *plotFile); err != nil {
		logger.Error("Can't plot losses", zap.Error(err))
	}

	/* Save weights */
	if err := textgan.SaveParamsFile(*weightsPrefix+"_generator.gob", generator.Params()); err != nil {
		logger.Fatal("Can't save generator's weights", zap.Error(err))
	}
	if err := textgan.SaveParamsFile(*weightsPrefix+"_discriminator.gob", discriminator.Params()); err != nil {
		logger.Fatal("Can't save discriminator's weights", zap.Error(err))
	}

	/* Sampling */
	sampled, err := textgan.GenerateText(generator, "Mr. Dursley", 100, 0.5, rand.New(rand.NewSource(1337)))
	if err != nil {
		logger.Fatal("Can't generate text", zap.Error(err))
	}
	fmt.Println("Mr. Dursley" + strings.Join(sampled, ""))
}

// charEncoder Maps every distinct character of corpus to an index
type charEncoder struct {
	vocab []rune
	index map[rune]int
}

func newCharEncoder(corpus string) *charEncoder {
	unique := make(map[rune]struct{})
	for _, r := range corpus {
		unique[r] = struct{}{}
	}
	enc := &charEncoder{
		vocab: make([]rune, 0, len(unique)),
		index: make(map[rune]int, len(unique)),
	}
	for r := range unique {
		enc.vocab = append(enc.vocab, r)
	}
	sort.Slice(enc.vocab, func(i, j int) bool { return enc.vocab[i] < enc.vocab[j] })
	for i, r := range enc.vocab {
		enc.index[r] = i
	}
	return enc
}

func (enc *charEncoder) VocabSize() int {
	return len(enc.vocab)
}

func (enc *charEncoder) Encode(text string) ([]int, error) {
	ret := make([]int, 0, len(text))
	for _, r := range text {
		idx, ok := enc.index[r]
		if !ok {
			return nil, errors.Errorf("character %q is not in vocabulary", r)
		}
		ret = append(ret, idx)
	}
	return ret, nil
}

func (enc *charEncoder) Decode(ids []int) ([]string, error) {
	ret := make([]string, len(ids))
	for i, idx := range ids {
		if idx < 0 || idx >= len(enc.vocab) {
			return nil, errors.Errorf("index %d is out of vocabulary", idx)
		}
		ret[i] = string(enc.vocab[idx])
	}
	return ret, nil
}
