package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunction combo
//
// Linear layers expect WeightNode shaped (in, out) and BiasNode shaped (1, out).
// Convolutional layers expect WeightNode shaped (out_channels, in_channels, KernelHeight, KernelWidth).
//
type Layer struct {
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerConvolutional
	LayerMaxpool
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerConvolutional:
		return "convolutional"
	case LayerMaxpool:
		return "maxpool"
	default:
		return fmt.Sprintf("layer_type_%d", uint16(lt))
	}
}

// Fwd Feedforward input through the layer and apply activation function (if any)
func (l *Layer) Fwd(input *gorgonia.Node) (*gorgonia.Node, error) {
	if l.WeightNode == nil && l.Type != LayerMaxpool {
		return nil, fmt.Errorf("Layer of type '%s' has nil WeightNode", l.Type)
	}
	var nonActivated *gorgonia.Node
	var err error
	switch l.Type {
	case LayerLinear:
		nonActivated, err = l.linear(input)
	case LayerConvolutional:
		nonActivated, err = gorgonia.Conv2d(input, l.WeightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.padding(), l.stride(), l.dilation())
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
	case LayerMaxpool:
		nonActivated, err = gorgonia.MaxPool2D(input, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.padding(), l.stride())
		if err != nil {
			return nil, errors.Wrap(err, "Can't maxpool[2D] input by kernel")
		}
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
	if err != nil {
		return nil, err
	}
	if l.Activation == nil {
		return nonActivated, nil
	}
	activated, err := l.Activation(nonActivated)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply activation function to non-activated output")
	}
	return activated, nil
}

// linear Handles both matrices (N, in) and 3D tensors (N, T, in). The latter are collapsed into (N*T, in) and restored afterwards
func (l *Layer) linear(input *gorgonia.Node) (*gorgonia.Node, error) {
	shp := input.Shape()
	x := input
	var err error
	switch shp.Dims() {
	case 2:
	case 3:
		x, err = gorgonia.Reshape(input, tensor.Shape{shp[0] * shp[1], shp[2]})
		if err != nil {
			return nil, errors.Wrap(err, "Can't collapse 3D input into matrix")
		}
	default:
		return nil, fmt.Errorf("Linear layer expects 2D or 3D input, but got shape %v", shp)
	}
	out, err := gorgonia.Mul(x, l.WeightNode)
	if err != nil {
		return nil, errors.Wrap(err, "Can't multiply input and weights")
	}
	if l.BiasNode != nil {
		out, err = broadcastAdd(out, l.BiasNode, 0)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias to non-activated output")
		}
	}
	if shp.Dims() == 3 {
		out, err = gorgonia.Reshape(out, tensor.Shape{shp[0], shp[1], l.WeightNode.Shape()[1]})
		if err != nil {
			return nil, errors.Wrap(err, "Can't restore 3D output")
		}
	}
	return out, nil
}

func (l *Layer) padding() []int {
	if len(l.Padding) == 0 {
		return []int{0, 0}
	}
	return l.Padding
}

func (l *Layer) stride() []int {
	if len(l.Stride) == 0 {
		return []int{1, 1}
	}
	return l.Stride
}

func (l *Layer) dilation() []int {
	if len(l.Dilation) == 0 {
		return []int{1, 1}
	}
	return l.Dilation
}

// linearLayer Binds linear layer with parameters '<name>' and optional '<name>_b' to graph of provided input
func linearLayer(p *Params, g *gorgonia.ExprGraph, name string, withBias bool, activation ActivationFunc) (*Layer, error) {
	w, err := p.Node(g, name)
	if err != nil {
		return nil, err
	}
	l := &Layer{
		WeightNode: w,
		Activation: activation,
		Type:       LayerLinear,
	}
	if withBias {
		b, err := p.Node(g, name+"_b")
		if err != nil {
			return nil, err
		}
		l.BiasNode = b
	}
	return l, nil
}

// addLinear Registers weights (in, out) and optional bias (1, out) for linear layer
func addLinear(p *Params, name string, in, out int, withBias bool) error {
	if err := p.Add(name, gorgonia.GlorotN(1.0), in, out); err != nil {
		return err
	}
	if withBias {
		return p.Add(name+"_b", gorgonia.Zeroes(), 1, out)
	}
	return nil
}

// broadcastAdd Adds b to a broadcasting b along provided axis. Plain addition is used when the axis has the same size in both operands
func broadcastAdd(a, b *gorgonia.Node, axis byte) (*gorgonia.Node, error) {
	if a.Shape()[axis] == b.Shape()[axis] {
		return gorgonia.Add(a, b)
	}
	return gorgonia.BroadcastAdd(a, b, nil, []byte{axis})
}
