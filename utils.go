package textgan

import (
	"fmt"
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values
//
// rng - source of randomness. If nil then global math/rand is used
// batchSize - Simply batch size
// n - Number of elements in each batch
// Resulting dense will have batchSize*n elements
//
func NormRandDense(rng *rand.Rand, batchSize, n int) *tensor.Dense {
	data := make([]float64, batchSize*n)
	for i := range data {
		if rng != nil {
			data[i] = rng.NormFloat64()
		} else {
			data[i] = rand.NormFloat64()
		}
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// DropoutMask Return reference to tensor.Dense shaped (batchSize, n) for inverted dropout: every element is 0 with probability rate, 1/(1-rate) otherwise
func DropoutMask(rng *rand.Rand, rate float64, batchSize, n int) *tensor.Dense {
	var src exprand.Source
	if rng != nil {
		src = exprand.NewSource(uint64(rng.Int63()))
	}
	keep := distuv.Bernoulli{P: 1 - rate, Src: src}
	scale := 1 / (1 - rate)
	data := make([]float64, batchSize*n)
	for i := range data {
		data[i] = keep.Rand() * scale
	}
	return tensor.New(tensor.WithShape(batchSize, n), tensor.WithBacking(data))
}

// OneHotDense Return reference to tensor.Dense shaped (len(sequences), seqLen, vocabSize) with one-hot encoded tokens
//
// Every sequence must have exactly seqLen tokens and every token must be in [0; vocabSize)
//
func OneHotDense(sequences [][]int, seqLen, vocabSize int) (*tensor.Dense, error) {
	data := make([]float64, len(sequences)*seqLen*vocabSize)
	for i, seq := range sequences {
		if len(seq) != seqLen {
			return nil, errors.Wrapf(ErrShapeMismatch, "sequence #%d has length %d, but expected %d", i, len(seq), seqLen)
		}
		for t, token := range seq {
			if token < 0 || token >= vocabSize {
				return nil, fmt.Errorf("token %d at [%d, %d] is out of vocabulary of size %d", token, i, t, vocabSize)
			}
			data[(i*seqLen+t)*vocabSize+token] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(sequences), seqLen, vocabSize), tensor.WithBacking(data)), nil
}

// timeSteps Splits (batch, T, F) node into T nodes shaped (batch, F)
//
// Input is transposed to time-major layout first, so every step is a contiguous slice along the first axis
//
func timeSteps(x *gorgonia.Node) ([]*gorgonia.Node, error) {
	shp := x.Shape()
	if shp.Dims() != 3 {
		return nil, fmt.Errorf("expected (batch, time, features) input, but got shape %v", shp)
	}
	timeMajor, err := gorgonia.Transpose(x, 1, 0, 2)
	if err != nil {
		return nil, errors.Wrap(err, "Can't transpose input into time-major layout")
	}
	steps := make([]*gorgonia.Node, shp[1])
	for t := range steps {
		steps[t], err = gorgonia.Slice(timeMajor, gorgonia.S(t))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't select time step #%d", t))
		}
	}
	return steps, nil
}

// stackSteps Joins T nodes shaped (batch, F) into single (batch, T, F) node
func stackSteps(steps []*gorgonia.Node) (*gorgonia.Node, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	expanded := make([]*gorgonia.Node, len(steps))
	for t, step := range steps {
		shp := step.Shape()
		if shp.Dims() != 2 {
			return nil, fmt.Errorf("time step #%d must be matrix, but got shape %v", t, shp)
		}
		reshaped, err := gorgonia.Reshape(step, tensor.Shape{shp[0], 1, shp[1]})
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't expand time step #%d", t))
		}
		expanded[t] = reshaped
	}
	if len(expanded) == 1 {
		return expanded[0], nil
	}
	return gorgonia.Concat(1, expanded...)
}

// PlotLosses Plot generator's and discriminator's per-epoch losses
func PlotLosses(history []EpochLoss, fname string) error {
	if len(history) == 0 {
		return fmt.Errorf("Loss history is empty")
	}
	generatorData := make(plotter.XYs, len(history))
	discriminatorData := make(plotter.XYs, len(history))
	for i, h := range history {
		generatorData[i].X = float64(h.Epoch)
		generatorData[i].Y = h.Generator
		discriminatorData[i].X = float64(h.Epoch)
		discriminatorData[i].Y = h.Discriminator
	}
	generatorLine, err := plotter.NewLine(generatorData)
	if err != nil {
		return errors.Wrap(err, "Can't init generator's line")
	}
	generatorLine.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	discriminatorLine, err := plotter.NewLine(discriminatorData)
	if err != nil {
		return errors.Wrap(err, "Can't init discriminator's line")
	}
	discriminatorLine.LineStyle.Color = color.RGBA{G: 128, B: 255, A: 255}
	p := plot.New()
	p.Title.Text = "Losses"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	p.Add(generatorLine, discriminatorLine)
	p.Legend.Add("generator", generatorLine)
	p.Legend.Add("discriminator", discriminatorLine)
	// Save the plot to a PNG file.
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
