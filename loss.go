package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

func reduce(n *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(n)
	case LossReductionMean:
		return gorgonia.Mean(n)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// CrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// A - probabilities, B - targets (one-hot)
// Default reduction is 'mean'
func CrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	log, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	neg, err := gorgonia.Neg(log)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	hprod, err := gorgonia.HadamardProd(neg, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	return reduce(hprod, reduction)
}

// SigmoidCrossEntropyWithLogits Numerically stable binary cross entropy on logits:
// max(x, 0) - x*z + log(1 + exp(-|x|)), where x - logits, z - labels.
// Labels must have the same shape as logits.
// Default reduction is 'mean'
func SigmoidCrossEntropyWithLogits(logits, labels *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	positive, err := gorgonia.Rectify(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x, 0)")
	}
	weighted, err := gorgonia.HadamardProd(logits, labels)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*z)")
	}
	abs, err := gorgonia.Abs(logits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	negAbs, err := gorgonia.Neg(abs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -|x|")
	}
	softplus, err := gorgonia.Softplus(negAbs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1+exp(-|x|))")
	}
	sub, err := gorgonia.Sub(positive, weighted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x, 0) - x*z")
	}
	loss, err := gorgonia.Add(sub, softplus)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	return reduce(loss, reduction)
}

// labelsLike Returns constant-filled node with the same shape as provided one
func labelsLike(n *gorgonia.Node, value float64) *gorgonia.Node {
	var init gorgonia.InitWFn
	switch value {
	case 0:
		init = gorgonia.Zeroes()
	case 1:
		init = gorgonia.Ones()
	default:
		init = gorgonia.ValuesOf(value)
	}
	name := fmt.Sprintf("labels_%v_for_%d", value, n.ID())
	return gorgonia.NewTensor(n.Graph(), n.Dtype(), n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(name), gorgonia.WithInit(init))
}
