package textgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch One training step's input
//
// Data - one-hot tokens (batch, sequence, vocab)
// Target - one-hot next tokens (batch, sequence, vocab). Needed by language-model training only
//
type Batch struct {
	Data   *tensor.Dense
	Target *tensor.Dense
}

// Size Number of samples in batch
func (b *Batch) Size() int {
	if b == nil || b.Data == nil {
		return 0
	}
	return b.Data.Shape()[0]
}

// BuildLanguageModelingBatches Cuts encoded token stream into (input, next-token target) batches
//
// tokens - already encoded stream
// seqLen - length of every sample
// batchSize - number of samples per batch. Incomplete tail batch is dropped since graphs are compiled for fixed batch size
// vocabSize - size of one-hot vectors
//
func BuildLanguageModelingBatches(tokens []int, seqLen, batchSize, vocabSize int) ([]*Batch, error) {
	if seqLen <= 0 || batchSize <= 0 || vocabSize <= 0 {
		return nil, fmt.Errorf("sequence length, batch size and vocab size must be positive, got %d, %d, %d", seqLen, batchSize, vocabSize)
	}
	samples := (len(tokens) - 1) / seqLen
	numBatches := samples / batchSize
	if numBatches == 0 {
		return nil, fmt.Errorf("%d tokens are not enough for single batch of %d sequences with length %d", len(tokens), batchSize, seqLen)
	}
	batches := make([]*Batch, 0, numBatches)
	for b := 0; b < numBatches; b++ {
		inputs := make([][]int, batchSize)
		targets := make([][]int, batchSize)
		for i := range inputs {
			start := (b*batchSize + i) * seqLen
			inputs[i] = tokens[start : start+seqLen]
			targets[i] = tokens[start+1 : start+seqLen+1]
		}
		data, err := OneHotDense(inputs, seqLen, vocabSize)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't encode inputs of batch #%d", b))
		}
		target, err := OneHotDense(targets, seqLen, vocabSize)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't encode targets of batch #%d", b))
		}
		batches = append(batches, &Batch{Data: data, Target: target})
	}
	return batches, nil
}
