package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

// CreateSession registers token. It returns false when the token is taken.
func (s *Store) CreateSession(ctx context.Context, token string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO cookies (token) VALUES ($1) ON CONFLICT (token) DO NOTHING`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SessionExists(ctx context.Context, token string) (bool, error) {
	var ok bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cookies WHERE token=$1)`, token).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ClickedDocIDs returns the distinct documents clicked under token, ascending.
func (s *Store) ClickedDocIDs(ctx context.Context, token string) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT cl.doc_id
FROM clicks cl
JOIN cookies co ON co.id = cl.cookie_id
WHERE co.token = $1
ORDER BY cl.doc_id`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendClick records a click. Unknown tokens insert nothing and yield ErrUnknownSession.
func (s *Store) AppendClick(ctx context.Context, ev models.ClickEvent) error {
	at := ev.ClickedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO clicks (cookie_id, doc_id, clicked_at)
SELECT id, $2, $3 FROM cookies WHERE token = $1`, ev.Token, ev.DocID, at)
	if err != nil {
		return fmt.Errorf("append click: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownSession
	}
	return nil
}
