// Package glove loads pretrained word vectors (GloVe text format) into the word table.
package glove

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
)

const DefaultBatchSize = 1000

// Sink stores embedding rows. Existing words must be left untouched.
type Sink interface {
	UpsertWordVectors(ctx context.Context, entries []models.WordEntry) error
}

type Options struct {
	Dimensions int
	BatchSize  int
	Log        zerolog.Logger
}

type Stats struct {
	Lines   int
	Loaded  int
	Skipped int
	Batches int
}

// Load streams r line by line. Each line is a word followed by Dimensions floats
// separated by single spaces; a word may itself contain spaces. Malformed lines
// are counted and skipped.
func Load(ctx context.Context, r io.Reader, sink Sink, opts Options) (Stats, error) {
	if opts.Dimensions <= 0 {
		return Stats{}, fmt.Errorf("glove: dimensions must be > 0")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	var stats Stats
	batch := make([]models.WordEntry, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.UpsertWordVectors(ctx, batch); err != nil {
			return fmt.Errorf("glove: write batch ending at line %d: %w", stats.Lines, err)
		}
		stats.Loaded += len(batch)
		stats.Batches++
		opts.Log.Debug().Int("line", stats.Lines).Int("loaded", stats.Loaded).Msg("batch written")
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		entry, ok := ParseLine(sc.Text(), opts.Dimensions)
		if !ok {
			stats.Skipped++
			continue
		}
		batch = append(batch, entry)
		if len(batch) == opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("glove: read: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	opts.Log.Info().Int("lines", stats.Lines).Int("loaded", stats.Loaded).Int("skipped", stats.Skipped).Msg("word vectors loaded")
	return stats, nil
}

// ParseLine splits one GloVe line into a normalized word and its vector.
func ParseLine(line string, dim int) (models.WordEntry, bool) {
	fields := strings.Split(strings.TrimRight(line, "\r\n "), " ")
	if len(fields) < dim+1 {
		return models.WordEntry{}, false
	}
	split := len(fields) - dim
	word := title.NormalizeWord(strings.Join(fields[:split], " "))
	if word == "" || strings.Contains(word, " ") {
		return models.WordEntry{}, false
	}
	vec := make([]float64, dim)
	for i, f := range fields[split:] {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.WordEntry{}, false
		}
		vec[i] = x
	}
	return models.WordEntry{Word: word, Vector: vec}, true
}
