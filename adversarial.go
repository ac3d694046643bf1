package textgan

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Adversarial GAN trainer for generator turning noise into sequences and discriminator scoring sequences.
//
// Two graphs are used:
// generator graph - noise -> G -> mirror of D -> generator loss. Gradients are taken w.r.t. G only
// discriminator graph - real and fake samples -> D (shared weights) -> discriminator loss. Gradients are taken w.r.t. D only
//
// Both graphs read the same parameter values, so the mirror of D follows D's updates.
// When discriminator is MaskedDiscriminator with non-zero dropout, one dropout mask per step is fed into both graphs,
// so generator loss and discriminator's loss on synthetic samples share the same verdict.
//
type Adversarial struct {
	generator     NoiseGenerator
	discriminator Discriminator
	batchSize     int
	seqLen        int
	vocabSize     int
	logger        *zap.Logger
	rng           *rand.Rand

	gGraph      *gorgonia.ExprGraph
	gVM         gorgonia.VM
	noise       *gorgonia.Node
	gCostVal    gorgonia.Value
	fakeVal     gorgonia.Value
	gMask       *gorgonia.Node
	gVerdictVal gorgonia.Value
	gLearnables gorgonia.Nodes
	gSolver     gorgonia.Solver

	dGraph      *gorgonia.ExprGraph
	dVM         gorgonia.VM
	realInput   *gorgonia.Node
	fakeInput   *gorgonia.Node
	dMask       *gorgonia.Node
	dCostVal    gorgonia.Value
	dVerdictVal gorgonia.Value
	dLearnables gorgonia.Nodes
	dSolver     gorgonia.Solver

	gMetric *Mean
	dMetric *Mean
	history []EpochLoss
}

// NewAdversarial Constructor for Adversarial
//
// batchSize - number of real (and synthetic) samples per step
// opts - WithLogger, WithRand (noise source), WithSampleShape (defaults to generator's output shape)
//
func NewAdversarial(g NoiseGenerator, d Discriminator, batchSize int, opts ...Option) (*Adversarial, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrConfigurationMismatch, "batch size must be positive, got %d", batchSize)
	}
	o := buildOptions("adversarial", opts)
	seqLen, vocabSize := g.OutputShape()
	if o.seqLen > 0 {
		seqLen = o.seqLen
	}
	if o.vocabSize > 0 {
		vocabSize = o.vocabSize
	}
	return &Adversarial{
		generator:     g,
		discriminator: d,
		batchSize:     batchSize,
		seqLen:        seqLen,
		vocabSize:     vocabSize,
		logger:        o.logger.With(zap.String("trainer", o.name)),
		rng:           o.rng,
		gMetric:       NewMean("generator_loss"),
		dMetric:       NewMean("discriminator_loss"),
	}, nil
}

// Compile Builds both graphs, binds solvers (one per network) and zeroes metrics
func (tr *Adversarial) Compile(gSolver, dSolver gorgonia.Solver) error {
	if gSolver == nil || dSolver == nil {
		return ErrUnboundOptimizer
	}
	if err := tr.Close(); err != nil {
		return err
	}
	if err := tr.compileGenerator(); err != nil {
		return errors.Wrap(err, "Can't compile generator graph")
	}
	if err := tr.compileDiscriminator(); err != nil {
		return errors.Wrap(err, "Can't compile discriminator graph")
	}
	tr.gSolver = gSolver
	tr.dSolver = dSolver
	tr.gMetric.Reset()
	tr.dMetric.Reset()
	tr.logger.Debug("Compiled",
		zap.Int("generator_learnables", len(tr.gLearnables)),
		zap.Int("discriminator_learnables", len(tr.dLearnables)),
	)
	return nil
}

func (tr *Adversarial) compileGenerator() error {
	g := gorgonia.NewGraph()
	noise := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(tr.batchSize, tr.generator.NoiseDim()), gorgonia.WithName("adversarial_noise"))
	fake, err := tr.generator.Forward(noise, true)
	if err != nil {
		return errors.Wrap(err, "Can't build generator")
	}
	expected := tensor.Shape{tr.batchSize, tr.seqLen, tr.vocabSize}
	if !fake.Shape().Eq(expected) {
		return errors.Wrapf(ErrShapeMismatch, "generator produces %v, but samples are %v", fake.Shape(), expected)
	}
	// Discriminator's parameters are bound to this graph too, but they are not differentiated here
	yFake, mask, err := tr.fakeVerdict(fake, "adversarial_mask_generator")
	if err != nil {
		return errors.Wrap(err, "Can't build mirror of discriminator")
	}
	gorgonia.Read(yFake, &tr.gVerdictVal)
	cost, err := tr.GeneratorLoss(yFake)
	if err != nil {
		return err
	}
	gorgonia.WithName("generator_loss")(cost)
	gorgonia.Read(cost, &tr.gCostVal)
	gorgonia.Read(fake, &tr.fakeVal)

	learnables := tr.generator.Params().Learnables(g)
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return errors.Wrap(err, "Can't define gradients")
	}
	tr.gGraph = g
	tr.noise = noise
	tr.gMask = mask
	tr.gLearnables = learnables
	tr.gVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	return nil
}

func (tr *Adversarial) compileDiscriminator() error {
	g := gorgonia.NewGraph()
	realInput := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(tr.batchSize, tr.seqLen, tr.vocabSize), gorgonia.WithName("adversarial_real"))
	fakeInput := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(tr.batchSize, tr.seqLen, tr.vocabSize), gorgonia.WithName("adversarial_fake"))
	yReal, err := tr.discriminator.Forward(realInput, true)
	if err != nil {
		return errors.Wrap(err, "Can't build discriminator for real samples")
	}
	yFake, mask, err := tr.fakeVerdict(fakeInput, "adversarial_mask_discriminator")
	if err != nil {
		return errors.Wrap(err, "Can't build discriminator for fake samples")
	}
	gorgonia.Read(yFake, &tr.dVerdictVal)
	cost, err := tr.DiscriminatorLoss(yReal, yFake)
	if err != nil {
		return err
	}
	gorgonia.WithName("discriminator_loss")(cost)
	gorgonia.Read(cost, &tr.dCostVal)

	learnables := tr.discriminator.Params().Learnables(g)
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return errors.Wrap(err, "Can't define gradients")
	}
	tr.dGraph = g
	tr.realInput = realInput
	tr.fakeInput = fakeInput
	tr.dMask = mask
	tr.dLearnables = learnables
	tr.dVM = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	return nil
}

// fakeVerdict Builds training verdict on synthetic samples. Returned mask node is nil unless dropout is driven from outside
func (tr *Adversarial) fakeVerdict(fake *gorgonia.Node, maskName string) (*gorgonia.Node, *gorgonia.Node, error) {
	md, ok := tr.discriminator.(MaskedDiscriminator)
	if !ok || md.DropoutRate() <= 0 {
		y, err := tr.discriminator.Forward(fake, true)
		return y, nil, err
	}
	mask := gorgonia.NewMatrix(fake.Graph(), tensor.Float64, gorgonia.WithShape(tr.batchSize, md.MaskWidth()), gorgonia.WithName(maskName))
	y, err := md.ForwardWithMask(fake, mask)
	if err != nil {
		return nil, nil, err
	}
	return y, mask, nil
}

// GeneratorLoss Generator wants discriminator to label synthetic samples as real: mean sigmoid cross entropy of yFake against 1
func (tr *Adversarial) GeneratorLoss(yFake *gorgonia.Node) (*gorgonia.Node, error) {
	loss, err := SigmoidCrossEntropyWithLogits(yFake, labelsLike(yFake, 1), LossReductionMean)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator loss")
	}
	return loss, nil
}

// DiscriminatorLoss mean CE(yReal, 1) + mean CE(yFake, 0)
func (tr *Adversarial) DiscriminatorLoss(yReal, yFake *gorgonia.Node) (*gorgonia.Node, error) {
	realLoss, err := SigmoidCrossEntropyWithLogits(yReal, labelsLike(yReal, 1), LossReductionMean)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss on real samples")
	}
	fakeLoss, err := SigmoidCrossEntropyWithLogits(yFake, labelsLike(yFake, 0), LossReductionMean)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define loss on fake samples")
	}
	return gorgonia.Add(realLoss, fakeLoss)
}

// Step Single adversarial step over batch of real samples (batchSize, sequence, vocab).
//
// Both losses (and gradients) are computed on the same snapshot of parameters, then each solver updates its own network
//
func (tr *Adversarial) Step(batch *tensor.Dense) (StepLoss, error) {
	if tr.gVM == nil || tr.dVM == nil || tr.gSolver == nil || tr.dSolver == nil {
		return StepLoss{}, ErrUnboundOptimizer
	}
	if batch == nil {
		return StepLoss{}, errors.Wrap(ErrShapeMismatch, "batch is nil")
	}
	expected := tensor.Shape{tr.batchSize, tr.seqLen, tr.vocabSize}
	if !batch.Shape().Eq(expected) {
		return StepLoss{}, errors.Wrapf(ErrShapeMismatch, "expected %v, got %v", expected, batch.Shape())
	}

	if err := gorgonia.Let(tr.noise, NormRandDense(tr.rng, tr.batchSize, tr.generator.NoiseDim())); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't init noise value")
	}
	if tr.gMask != nil && tr.dMask != nil {
		md := tr.discriminator.(MaskedDiscriminator)
		mask := DropoutMask(tr.rng, md.DropoutRate(), tr.batchSize, md.MaskWidth())
		if err := gorgonia.Let(tr.gMask, mask); err != nil {
			return StepLoss{}, errors.Wrap(err, "Can't init dropout mask of generator graph")
		}
		if err := gorgonia.Let(tr.dMask, mask.Clone().(*tensor.Dense)); err != nil {
			return StepLoss{}, errors.Wrap(err, "Can't init dropout mask of discriminator graph")
		}
	}
	defer tr.gVM.Reset()
	if err := tr.gVM.RunAll(); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't run generator VM")
	}
	gLoss, err := scalarOf(tr.gCostVal)
	if err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't read generator loss")
	}
	fake, ok := tr.fakeVal.(*tensor.Dense)
	if !ok {
		return StepLoss{}, fmt.Errorf("generated samples have unexpected value type %T", tr.fakeVal)
	}

	if err := gorgonia.Let(tr.realInput, batch); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't init real samples value")
	}
	if err := gorgonia.Let(tr.fakeInput, fake.Clone().(*tensor.Dense)); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't init fake samples value")
	}
	defer tr.dVM.Reset()
	if err := tr.dVM.RunAll(); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't run discriminator VM")
	}
	dLoss, err := scalarOf(tr.dCostVal)
	if err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't read discriminator loss")
	}

	if err := tr.gSolver.Step(gorgonia.NodesToValueGrads(tr.gLearnables)); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't do generator's solver step")
	}
	if err := tr.dSolver.Step(gorgonia.NodesToValueGrads(tr.dLearnables)); err != nil {
		return StepLoss{}, errors.Wrap(err, "Can't do discriminator's solver step")
	}
	if err := tr.generator.Params().Pull(tr.gGraph); err != nil {
		return StepLoss{}, err
	}
	if err := tr.discriminator.Params().Pull(tr.dGraph); err != nil {
		return StepLoss{}, err
	}

	tr.gMetric.Update(gLoss)
	tr.dMetric.Update(dLoss)
	if ce := tr.logger.Check(zap.DebugLevel, "Step"); ce != nil {
		ce.Write(zap.Float64("generator_loss", gLoss), zap.Float64("discriminator_loss", dLoss), zap.Float64("fake_verdict_mean", meanOf(tr.gVerdictVal)))
	}
	return StepLoss{Generator: gLoss, Discriminator: dLoss}, nil
}

// Fit Runs epochs over batches in given order. Metrics are reset at the start of every epoch. Context is checked between batches
func (tr *Adversarial) Fit(ctx context.Context, batches []*tensor.Dense, epochs int) error {
	if tr.gVM == nil || tr.dVM == nil {
		return ErrUnboundOptimizer
	}
	for epoch := 1; epoch <= epochs; epoch++ {
		tr.gMetric.Reset()
		tr.dMetric.Reset()
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := tr.Step(batch); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't do step on batch #%d of epoch #%d", i, epoch))
			}
		}
		tr.history = append(tr.history, EpochLoss{
			Epoch:         epoch,
			Generator:     tr.gMetric.Result(),
			Discriminator: tr.dMetric.Result(),
		})
		tr.logger.Info("Epoch done",
			zap.Int("epoch", epoch),
			zap.Float64("generator_loss", tr.gMetric.Result()),
			zap.Float64("discriminator_loss", tr.dMetric.Result()),
		)
	}
	return nil
}

// GeneratorMetric Returns running mean of generator loss for current epoch
func (tr *Adversarial) GeneratorMetric() *Mean {
	return tr.gMetric
}

// DiscriminatorMetric Returns running mean of discriminator loss for current epoch
func (tr *Adversarial) DiscriminatorMetric() *Mean {
	return tr.dMetric
}

// History Returns mean losses of every finished epoch
func (tr *Adversarial) History() []EpochLoss {
	return tr.history
}

// Close Releases tape machines and detaches parameters from training graphs
func (tr *Adversarial) Close() error {
	var err error
	tr.gMask, tr.dMask = nil, nil
	if tr.gVM != nil {
		tr.generator.Params().forget(tr.gGraph)
		tr.discriminator.Params().forget(tr.gGraph)
		err = tr.gVM.Close()
		tr.gVM = nil
		tr.gGraph = nil
	}
	if tr.dVM != nil {
		tr.discriminator.Params().forget(tr.dGraph)
		if dErr := tr.dVM.Close(); err == nil {
			err = dErr
		}
		tr.dVM = nil
		tr.dGraph = nil
	}
	return err
}

// meanOf Mean of tensor's elements, NaN for anything else
func meanOf(v gorgonia.Value) float64 {
	dense, ok := v.(*tensor.Dense)
	if !ok || dense.Size() == 0 {
		return math.NaN()
	}
	return floats.Sum(dense.Float64s()) / float64(dense.Size())
}
