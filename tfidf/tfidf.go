// Package tfidf Term frequency - inverse document frequency features of sentences
package tfidf

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyCorpus No sentences (or no tokens) to learn from
	ErrEmptyCorpus = errors.New("corpus has no tokens")
	// ErrNonPositiveFeatures Maximum number of features must be > 0
	ErrNonPositiveFeatures = errors.New("max features must be positive")
)

// Tokens are maximal runs of two or more Unicode letters, digits or underscores (\w and \b are ASCII only in Go)
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer Learned vocabulary with inverse document frequencies
type Vectorizer struct {
	vocabulary []string
	index      map[string]int
	idf        []float64
	logger     *zap.Logger
}

// Option Option for Learn
type Option func(*Vectorizer)

// WithLogger Sets logger for vectorizer
func WithLogger(logger *zap.Logger) Option {
	return func(v *Vectorizer) {
		v.logger = logger
	}
}

// Tokenize Lowercases sentence and splits it into tokens
func Tokenize(sentence string) []string {
	return tokenPattern.FindAllString(strings.ToLower(sentence), -1)
}

// Learn Builds vocabulary from the maxFeatures most frequent terms (ties are broken alphabetically) and smooth idf of every term:
// idf(t) = ln((1 + n) / (1 + df(t))) + 1
func Learn(sentences []string, maxFeatures int, opts ...Option) (*Vectorizer, error) {
	if maxFeatures <= 0 {
		return nil, errors.Wrapf(ErrNonPositiveFeatures, "got %d", maxFeatures)
	}
	v := &Vectorizer{}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	v.logger.Info("Fitting TF-IDF", zap.Int("sentences", len(sentences)), zap.Int("max_features", maxFeatures))

	frequency := make(map[string]int)
	documentFrequency := make(map[string]int)
	for _, sentence := range sentences {
		seen := make(map[string]struct{})
		for _, token := range Tokenize(sentence) {
			frequency[token]++
			if _, ok := seen[token]; !ok {
				seen[token] = struct{}{}
				documentFrequency[token]++
			}
		}
	}
	if len(frequency) == 0 {
		return nil, ErrEmptyCorpus
	}

	terms := make([]string, 0, len(frequency))
	for term := range frequency {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if frequency[terms[i]] != frequency[terms[j]] {
			return frequency[terms[i]] > frequency[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(sentences))
	v.vocabulary = terms
	v.index = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.index[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(documentFrequency[term]))) + 1
	}
	v.logger.Info("TF-IDF fitted", zap.Int("features", len(terms)))
	return v, nil
}

// Vocabulary Returns learned terms in column order
func (v *Vectorizer) Vocabulary() []string {
	ret := make([]string, len(v.vocabulary))
	copy(ret, v.vocabulary)
	return ret
}

// IDF Returns inverse document frequency of every term in column order
func (v *Vectorizer) IDF() []float64 {
	ret := make([]float64, len(v.idf))
	copy(ret, v.idf)
	return ret
}

// Encode Returns matrix (len(sentences), len(vocabulary)): raw term counts multiplied by idf, every non-zero row is L2-normalized.
// Terms out of vocabulary are ignored
func (v *Vectorizer) Encode(sentences []string) (*mat.Dense, error) {
	if len(sentences) == 0 {
		return nil, errors.Wrap(ErrEmptyCorpus, "nothing to encode")
	}
	v.logger.Debug("TF-IDF encoding", zap.Int("rows", len(sentences)), zap.Int("columns", len(v.vocabulary)))
	encoded := mat.NewDense(len(sentences), len(v.vocabulary), nil)
	for i, sentence := range sentences {
		row := encoded.RawRowView(i)
		for _, token := range Tokenize(sentence) {
			if j, ok := v.index[token]; ok {
				row[j]++
			}
		}
		floats.Mul(row, v.idf)
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
	return encoded, nil
}
