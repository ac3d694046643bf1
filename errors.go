package textgan

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfigurationMismatch Architecture hyperparameters are inconsistent (e.g. len(NFilters) != len(FiltersSize))
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrUnboundOptimizer Trainer has been used before Compile() bound its solvers
	ErrUnboundOptimizer = errors.New("optimizer is not bound: call Compile() first")
	// ErrShapeMismatch Batch shape disagrees with the shape the graph was compiled for
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonPositiveTemperature Sampling temperature must be > 0
	ErrNonPositiveTemperature = errors.New("temperature must be positive")
	// ErrNoEncoder Text generation requires an encoder bound to the generator
	ErrNoEncoder = errors.New("no encoder is bound to generator")
	// ErrEmptySeed Encoded start string has no tokens
	ErrEmptySeed = errors.New("start string produced no tokens")
	// ErrInvalidLength Requested generation length is negative
	ErrInvalidLength = errors.New("length must be non-negative")
)
