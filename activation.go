package textgan

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ActivationFunc Function applied to layer's non-activated output. See ref. https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Rectify(a *gorgonia.Node) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }

// Softmax Normalizes the last axis into probabilities
func Softmax(a *gorgonia.Node) (*gorgonia.Node, error) { return gorgonia.SoftMax(a) }

// TemperedSoftmax Returns softmax(a/temperature) over the last axis
func TemperedSoftmax(temperature float64) ActivationFunc {
	return func(a *gorgonia.Node) (*gorgonia.Node, error) {
		scaled, err := gorgonia.Mul(a, gorgonia.NewConstant(1/temperature))
		if err != nil {
			return nil, errors.Wrap(err, "Can't divide by temperature")
		}
		return gorgonia.SoftMax(scaled)
	}
}
