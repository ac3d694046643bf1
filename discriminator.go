package textgan

import (
	"gorgonia.org/gorgonia"
)

// Discriminator Abstraction for discriminator part of GAN: scores samples as real or fake.
type Discriminator interface {
	// Forward Builds verdict (logits) for provided samples. Parameters are bound to the input's graph
	Forward(x *gorgonia.Node, training bool) (*gorgonia.Node, error)
	// Params Returns discriminator's learnable parameters
	Params() *Params
}

// MaskedDiscriminator Discriminator whose training dropout can be driven by mask provided from outside.
// Same mask fed into several graphs gives the same verdict for the same samples
type MaskedDiscriminator interface {
	Discriminator
	// DropoutRate Returns rate of dropout applied in training mode
	DropoutRate() float64
	// MaskWidth Dropout mask is shaped (batch, MaskWidth())
	MaskWidth() int
	// ForwardWithMask Builds training verdict using provided dropout mask
	ForwardWithMask(x, mask *gorgonia.Node) (*gorgonia.Node, error)
}
