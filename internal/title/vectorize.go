package title

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
	"github.com/mohammad-safakhou/slackersnooze/models"
)

// WordLookup is the read side of the word table the vectorizer needs.
type WordLookup interface {
	// WordEntries returns the entries for the words that exist, keyed by word.
	WordEntries(ctx context.Context, words []string) (map[string]models.WordEntry, error)
	// TotalWordCount returns the sum of corpus frequencies over all words.
	TotalWordCount(ctx context.Context) (int64, error)
}

// Vectorizer computes one fixed-dimension vector per title.
type Vectorizer struct {
	words WordLookup
	dim   int
	log   zerolog.Logger
}

// NewVectorizer builds a vectorizer producing dim-dimensional vectors.
func NewVectorizer(words WordLookup, dim int) *Vectorizer {
	return &Vectorizer{words: words, dim: dim, log: logging.Component("vectorizer")}
}

// SetLogger replaces the component logger.
func (v *Vectorizer) SetLogger(log zerolog.Logger) { v.log = log }

// Dimensions returns D.
func (v *Vectorizer) Dimensions() int { return v.dim }

// Vectorize returns a vector per title, in input order. Lookup failures are returned
// as errors; unknown words and empty titles are not errors.
func (v *Vectorizer) Vectorize(ctx context.Context, titles [][]string) ([][]float64, error) {
	if len(titles) == 0 {
		return [][]float64{}, nil
	}
	words := Vocabulary(titles)
	if len(words) == 0 {
		return VectorizeWith(titles, nil, 0, v.dim), nil
	}
	entries, err := v.words.WordEntries(ctx, words)
	if err != nil {
		return nil, fmt.Errorf("lookup title words: %w", err)
	}
	total, err := v.words.TotalWordCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("total word count: %w", err)
	}
	for w, e := range entries {
		if len(e.Vector) != v.dim {
			v.log.Warn().Str("word", w).Int("dims", len(e.Vector)).Int("want", v.dim).Msg("skipping embedding with wrong dimension")
		}
	}
	return VectorizeWith(titles, entries, total, v.dim), nil
}

// TermFrequencies counts token occurrences, ignoring empty tokens.
func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		tf[tok]++
	}
	return tf
}

// Weights returns tf(token) * count(token)/total for every token present in entries.
// More frequent corpus words weigh more.
func Weights(tokens []string, entries map[string]models.WordEntry, total int64) map[string]float64 {
	weights := make(map[string]float64)
	if total <= 0 {
		return weights
	}
	for tok, tf := range TermFrequencies(tokens) {
		entry, ok := entries[tok]
		if !ok {
			continue
		}
		weights[tok] = float64(tf) * (float64(entry.Count) / float64(total))
	}
	return weights
}

// VectorizeWith is the store-free accumulation: each title's vector is the
// weighted sum of its matched words' embeddings. Entries whose vector length is
// not dim are ignored.
func VectorizeWith(titles [][]string, entries map[string]models.WordEntry, total int64, dim int) [][]float64 {
	out := make([][]float64, len(titles))
	for i, tokens := range titles {
		vec := make([]float64, dim)
		weights := Weights(tokens, entries, total)

		// fixed summation order keeps results bit-for-bit reproducible
		words := make([]string, 0, len(weights))
		for w := range weights {
			words = append(words, w)
		}
		sort.Strings(words)

		for _, w := range words {
			emb := entries[w].Vector
			if len(emb) != dim {
				continue
			}
			weight := weights[w]
			for j, x := range emb {
				vec[j] += weight * x
			}
		}
		out[i] = vec
	}
	return out
}
