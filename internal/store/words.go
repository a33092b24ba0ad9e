package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
)

// WordEntries returns vector and count for the words that have both.
func (s *Store) WordEntries(ctx context.Context, words []string) (map[string]models.WordEntry, error) {
	out := make(map[string]models.WordEntry)
	if len(words) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT wv.word, wv.vector, wc.count
FROM word_vectors wv
JOIN word_counts wc ON wc.word = wv.word
WHERE wv.word = ANY($1)`, pq.Array(words))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e   models.WordEntry
			vec pq.Float64Array
		)
		if err := rows.Scan(&e.Word, &vec, &e.Count); err != nil {
			return nil, err
		}
		e.Vector = []float64(vec)
		out[e.Word] = e
	}
	return out, rows.Err()
}

func (s *Store) TotalWordCount(ctx context.Context) (int64, error) {
	var total int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(count), 0) FROM word_counts`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CountWords adds one to the count of every distinct non-empty word in titles.
func (s *Store) CountWords(ctx context.Context, titles [][]string) error {
	return countWords(ctx, s.DB, titles)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func countWords(ctx context.Context, q execer, titles [][]string) error {
	words := title.Vocabulary(titles)
	if len(words) == 0 {
		return nil
	}
	sort.Strings(words)
	_, err := q.ExecContext(ctx, `
INSERT INTO word_counts (word, count)
SELECT w, 1 FROM unnest($1::text[]) AS w
ON CONFLICT (word) DO UPDATE SET count = word_counts.count + 1`, pq.Array(words))
	if err != nil {
		return fmt.Errorf("count words: %w", err)
	}
	return nil
}

// UpsertWordVectors inserts embedding rows; existing words keep their vector.
func (s *Store) UpsertWordVectors(ctx context.Context, entries []models.WordEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO word_vectors (word, vector) VALUES ($1,$2) ON CONFLICT DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Word, pq.Float64Array(e.Vector)); err != nil {
				return fmt.Errorf("insert vector %q: %w", e.Word, err)
			}
		}
		return nil
	})
}
