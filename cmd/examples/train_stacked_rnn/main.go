package main

import (
	"context"
	"encoding/csv"
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
)

var (
	datasetFileName = flag.String("dataset", "jokes.csv", "CSV file with sentences in the second column (header is skipped)")
	batchSize       = flag.Int("batch", 16, "Batch size")
	sequenceLength  = flag.Int("seq", 4, "Length of training sequences (in words)")
	embeddingSize   = flag.Int("embedding", 64, "Size of embedding layer")
	hiddenSize      = flag.Int("hidden", 128, "Amount of hidden neurons in every recurrent cell")
	cells           = flag.Int("cells", 2, "Number of stacked recurrent cells")
	epochs          = flag.Int("epochs", 10, "Number of epochs")
	learnRate       = flag.Float64("lr", 0.001, "Learning rate")
	startWord       = flag.String("start", "what", "Start word for text generation")
	temperature     = flag.Float64("temperature", 0.5, "Sampling temperature")
	weightsFile     = flag.String("weights", "stacked_rnn.gob", "Where to save learned weights")
)

func main() {
	flag.Parse()
	// Initialize seed with constant value to reproduce results
	rand.Seed(1337)

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer logger.Sync()

	/* Prepare dataset */
	dataset, err := initDataset(*datasetFileName)
	if err != nil {
		logger.Fatal("Can't prepare dataset", zap.Error(err))
	}
	logger.Info("Dataset is ready", zap.Int("words", len(dataset.allWords)), zap.Int("unique_words", len(dataset.uniqueWords)))
	batches, err := textgan.BuildLanguageModelingBatches(dataset.wordsIndices, *sequenceLength, *batchSize, len(dataset.uniqueWords))
	if err != nil {
		logger.Fatal("Can't prepare batches", zap.Error(err))
	}

	/* Define stacked RNN */
	hidden := make([]int, *cells)
	for i := range hidden {
		hidden[i] = *hiddenSize
	}
	net, err := textgan.NewStackedRNN(textgan.StackedRNNConfig{
		VocabSize:     len(dataset.uniqueWords),
		EmbeddingSize: *embeddingSize,
		HiddenSize:    hidden,
	}, textgan.WithEncoder(dataset), textgan.WithLogger(logger))
	if err != nil {
		logger.Fatal("Can't define network", zap.Error(err))
	}
	defer net.Close()

	/* Training process */
	trainer, err := textgan.NewLanguageModelTrainer(net, *batchSize, *sequenceLength, len(dataset.uniqueWords), textgan.WithLogger(logger))
	if err != nil {
		logger.Fatal("Can't define trainer", zap.Error(err))
	}
	defer trainer.Close()
	err = trainer.Compile(gorgonia.NewAdamSolver(gorgonia.WithLearnRate(*learnRate), gorgonia.WithBatchSize(float64(*batchSize))))
	if err != nil {
		logger.Fatal("Can't compile trainer", zap.Error(err))
	}
	err = trainer.Fit(context.Background(), batches, *epochs)
	if err != nil {
		logger.Fatal("Can't fit network", zap.Error(err))
	}
	if err := textgan.SaveParamsFile(*weightsFile, net.Params()); err != nil {
		logger.Fatal("Can't save weights", zap.Error(err))
	}

	/* Sampling */
	text, err := textgan.GenerateText(net, *startWord, 20, *temperature, rand.New(rand.NewSource(1337)))
	if err != nil {
		logger.Fatal("Can't generate text", zap.Error(err))
	}
	fmt.Println(*startWord, strings.Join(text, " "))
}

// Dataset Word-level corpus. Also serves as encoder for the network
type Dataset struct {
	allWords       []string
	uniqueWords    []string
	wordsToIndices map[string]int
	wordsIndices   []int
}

func initDataset(datasetFileName string) (*Dataset, error) {
	records, err := readCSV(datasetFileName, ',', true)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read CSV")
	}
	ret := &Dataset{
		allWords: extractWords(records),
	}
	ret.uniqueWords = extractUniqueWords(ret.allWords)
	ret.wordsToIndices = make(map[string]int, len(ret.uniqueWords))
	for i, word := range ret.uniqueWords {
		ret.wordsToIndices[word] = i
	}
	ret.wordsIndices, err = ret.Encode(strings.Join(ret.allWords, " "))
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Encode Splits text by spaces and maps every word to its index
func (dataset *Dataset) Encode(text string) ([]int, error) {
	words := strings.Fields(strings.ToLower(text))
	ret := make([]int, len(words))
	for i, word := range words {
		idx, ok := dataset.wordsToIndices[word]
		if !ok {
			return nil, fmt.Errorf("word '%s' is not in vocabulary", word)
		}
		ret[i] = idx
	}
	return ret, nil
}

// Decode Maps indices back to words
func (dataset *Dataset) Decode(ids []int) ([]string, error) {
	ret := make([]string, len(ids))
	for i, idx := range ids {
		if idx < 0 || idx >= len(dataset.uniqueWords) {
			return nil, fmt.Errorf("index %d is out of vocabulary", idx)
		}
		ret[i] = dataset.uniqueWords[idx]
	}
	return ret, nil
}

func extractWords(sentences [][]string) []string {
	words := []string{}
	for _, sentence := range sentences {
		if len(sentence) < 2 {
			continue
		}
		words = append(words, strings.Fields(strings.ToLower(sentence[1]))...)
	}
	return words
}

type pair struct {
	word      string
	frequence int
}

// extractUniqueWords Returns unique words sorted by frequency (descending), ties are sorted alphabetically
func extractUniqueWords(words []string) []string {
	un := make(map[string]int)
	for _, word := range words {
		un[word]++
	}
	wc := make([]pair, 0, len(un))
	for w, c := range un {
		wc = append(wc, pair{w, c})
	}
	sort.Slice(wc, func(i, j int) bool {
		if wc[i].frequence == wc[j].frequence {
			return wc[i].word < wc[j].word
		}
		return wc[i].frequence > wc[j].frequence
	})
	ret := make([]string, len(wc))
	for i := range wc {
		ret[i] = wc[i].word
	}
	return ret
}

func readCSV(filePath string, separator rune, skipHeader bool) ([][]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open file")
	}
	defer f.Close()
	csvReader := csv.NewReader(f)
	csvReader.Comma = separator
	if skipHeader {
		_, err := csvReader.Read()
		if err != nil {
			return nil, errors.Wrap(err, "Can't skip header")
		}
	}
	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "Can't read file contents")
	}
	return records, nil
}
