package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

const docColumns = `id, title, url, published_at, author, comments, score`

// UpsertDocs inserts new documents and refreshes score and comment count of known ones.
func (s *Store) UpsertDocs(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error { return upsertDocs(ctx, tx, docs) })
}

// IngestDocs upserts docs and counts the words of newTitles in one transaction,
// so a failed refresh leaves neither the documents nor the counts behind.
func (s *Store) IngestDocs(ctx context.Context, docs []models.Document, newTitles [][]string) error {
	if len(docs) == 0 && len(newTitles) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertDocs(ctx, tx, docs); err != nil {
			return err
		}
		return countWords(ctx, tx, newTitles)
	})
}

func upsertDocs(ctx context.Context, tx *sql.Tx, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO docs (id, title, url, published_at, author, comments, score)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  score = EXCLUDED.score,
  comments = EXCLUDED.comments;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, d.Title, d.URL, d.PublishedAt, d.Author, d.CommentCount, d.Score); err != nil {
			return fmt.Errorf("upsert doc %d: %w", d.ID, err)
		}
	}
	return nil
}

// NewDocIDs returns the ids not stored yet, in input order.
func (s *Store) NewDocIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id
FROM unnest($1::bigint[]) WITH ORDINALITY AS c(id, ord)
LEFT JOIN docs d ON d.id = c.id
WHERE d.id IS NULL
ORDER BY c.ord`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DocsByID returns the stored documents among ids, ordered by id.
func (s *Store) DocsByID(ctx context.Context, ids []int64) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+docColumns+` FROM docs WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return scanDocs(rows)
}

func (s *Store) DocByID(ctx context.Context, id int64) (models.Document, error) {
	var d models.Document
	err := s.DB.QueryRowContext(ctx, `SELECT `+docColumns+` FROM docs WHERE id=$1`, id).
		Scan(&d.ID, &d.Title, &d.URL, &d.PublishedAt, &d.Author, &d.CommentCount, &d.Score)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, ErrDocNotFound
	}
	if err != nil {
		return models.Document{}, err
	}
	return d, nil
}

// MostRecentDocs returns up to limit documents, newest first.
func (s *Store) MostRecentDocs(ctx context.Context, limit int) ([]models.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+docColumns+` FROM docs ORDER BY published_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanDocs(rows)
}

func scanDocs(rows *sql.Rows) ([]models.Document, error) {
	defer rows.Close()
	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.URL, &d.PublishedAt, &d.Author, &d.CommentCount, &d.Score); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
