package textgan

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LanguageModel Network predicting next token for every position of one-hot sequence (batch, sequence, vocab)
type LanguageModel interface {
	// Forward Builds next-token logits (batch, sequence, vocab)
	Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error)
	Params() *Params
	VocabSize() int
}

// LanguageModelTrainer Maximum likelihood training of LanguageModel (pre-fit of generators before adversarial training)
type LanguageModelTrainer struct {
	lm        LanguageModel
	batchSize int
	seqLen    int
	vocabSize int
	logger    *zap.Logger

	graph      *gorgonia.ExprGraph
	vm         gorgonia.VM
	input      *gorgonia.Node
	target     *gorgonia.Node
	costVal    gorgonia.Value
	learnables gorgonia.Nodes
	solver     gorgonia.Solver

	metric  *Mean
	history []EpochLoss
}

// NewLanguageModelTrainer Constructor for LanguageModelTrainer
//
// batchSize, seqLen - shape of batches the graph is compiled for
// vocab - must be equal to model's vocabulary size
//
func NewLanguageModelTrainer(lm LanguageModel, batchSize, seqLen, vocab int, opts ...Option) (*LanguageModelTrainer, error) {
	if batchSize <= 0 || seqLen <= 0 {
		return nil, errors.Wrapf(ErrConfigurationMismatch, "batch size and sequence length must be positive, got %d and %d", batchSize, seqLen)
	}
	if vocab != lm.VocabSize() {
		return nil, errors.Wrapf(ErrConfigurationMismatch, "vocab size %d differs from model's one %d", vocab, lm.VocabSize())
	}
	o := buildOptions("lm_trainer", opts)
	return &LanguageModelTrainer{
		lm:        lm,
		batchSize: batchSize,
		seqLen:    seqLen,
		vocabSize: vocab,
		logger:    o.logger.With(zap.String("trainer", o.name)),
		metric:    NewMean("loss"),
	}, nil
}

// Compile Builds training graph: softmax(logits) against one-hot targets with categorical cross entropy averaged over positions.
// Binds provided solver and zeroes the metric
func (tr *LanguageModelTrainer) Compile(solver gorgonia.Solver) error {
	if solver == nil {
		return ErrUnboundOptimizer
	}
	if err := tr.Close(); err != nil {
		return err
	}
	g := gorgonia.NewGraph()
	input := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(tr.batchSize, tr.seqLen, tr.vocabSize), gorgonia.WithName("lm_input"))
	target := gorgonia.NewTensor(g, tensor.Float64, 3, gorgonia.WithShape(tr.batchSize, tr.seqLen, tr.vocabSize), gorgonia.WithName("lm_target"))
	logits, err := tr.lm.Forward(input, true)
	if err != nil {
		return errors.Wrap(err, "Can't build language model")
	}
	rows := tr.batchSize * tr.seqLen
	logits2D, err := gorgonia.Reshape(logits, tensor.Shape{rows, tr.vocabSize})
	if err != nil {
		return errors.Wrap(err, "Can't collapse logits")
	}
	probs, err := Softmax(logits2D)
	if err != nil {
		return err
	}
	target2D, err := gorgonia.Reshape(target, tensor.Shape{rows, tr.vocabSize})
	if err != nil {
		return errors.Wrap(err, "Can't collapse targets")
	}
	total, err := CrossEntropyLoss(probs, target2D, LossReductionSum)
	if err != nil {
		return errors.Wrap(err, "Can't define loss")
	}
	cost, err := gorgonia.Mul(total, gorgonia.NewConstant(1.0/float64(rows)))
	if err != nil {
		return errors.Wrap(err, "Can't average loss")
	}
	gorgonia.WithName("lm_loss")(cost)
	gorgonia.Read(cost, &tr.costVal)

	learnables := tr.lm.Params().Learnables(g)
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return errors.Wrap(err, "Can't define gradients")
	}
	tr.graph = g
	tr.input = input
	tr.target = target
	tr.learnables = learnables
	tr.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	tr.solver = solver
	tr.metric.Reset()
	tr.logger.Debug("Compiled", zap.Int("learnables", len(learnables)))
	return nil
}

// Step Single gradient step over batch. Returns loss of the batch
func (tr *LanguageModelTrainer) Step(batch *Batch) (float64, error) {
	if tr.vm == nil || tr.solver == nil {
		return 0, ErrUnboundOptimizer
	}
	if batch == nil || batch.Data == nil || batch.Target == nil {
		return 0, errors.Wrap(ErrShapeMismatch, "batch must have both data and target")
	}
	expected := tensor.Shape{tr.batchSize, tr.seqLen, tr.vocabSize}
	if !batch.Data.Shape().Eq(expected) || !batch.Target.Shape().Eq(expected) {
		return 0, errors.Wrapf(ErrShapeMismatch, "expected %v, got data %v and target %v", expected, batch.Data.Shape(), batch.Target.Shape())
	}
	if err := gorgonia.Let(tr.input, batch.Data); err != nil {
		return 0, errors.Wrap(err, "Can't init input value")
	}
	if err := gorgonia.Let(tr.target, batch.Target); err != nil {
		return 0, errors.Wrap(err, "Can't init target value")
	}
	defer tr.vm.Reset()
	if err := tr.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run VM")
	}
	if err := tr.solver.Step(gorgonia.NodesToValueGrads(tr.learnables)); err != nil {
		return 0, errors.Wrap(err, "Can't do solver step")
	}
	if err := tr.lm.Params().Pull(tr.graph); err != nil {
		return 0, err
	}
	loss, err := scalarOf(tr.costVal)
	if err != nil {
		return 0, err
	}
	tr.metric.Update(loss)
	tr.logger.Debug("Step", zap.Float64("loss", loss))
	return loss, nil
}

// Fit Runs epochs over batches in given order. Context is checked between batches
func (tr *LanguageModelTrainer) Fit(ctx context.Context, batches []*Batch, epochs int) error {
	if tr.vm == nil || tr.solver == nil {
		return ErrUnboundOptimizer
	}
	for epoch := 1; epoch <= epochs; epoch++ {
		tr.metric.Reset()
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := tr.Step(batch); err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't do step on batch #%d of epoch #%d", i, epoch))
			}
		}
		tr.history = append(tr.history, EpochLoss{Epoch: epoch, Generator: tr.metric.Result()})
		tr.logger.Info("Epoch done", zap.Int("epoch", epoch), zap.Float64("loss", tr.metric.Result()))
	}
	return nil
}

// Metric Returns running mean of loss for current epoch
func (tr *LanguageModelTrainer) Metric() *Mean {
	return tr.metric
}

// History Returns mean loss of every finished epoch
func (tr *LanguageModelTrainer) History() []EpochLoss {
	return tr.history
}

// Close Releases tape machine and detaches model's parameters from training graph
func (tr *LanguageModelTrainer) Close() error {
	if tr.vm == nil {
		return nil
	}
	tr.lm.Params().forget(tr.graph)
	err := tr.vm.Close()
	tr.vm = nil
	tr.graph = nil
	return err
}

// scalarOf Extracts float64 from scalar value read from graph
func scalarOf(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("value has not been computed")
	}
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("value %v is not a scalar", v)
}
