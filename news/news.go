// Package news defines the external content source the refresher polls.
package news

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

// ErrSkipItem marks an id the source no longer serves (deleted, dead or not a story).
var ErrSkipItem = errors.New("item unavailable")

// Source lists the current top candidates and resolves their metadata.
type Source interface {
	TopIDs(ctx context.Context) ([]int64, error)
	Document(ctx context.Context, id int64) (models.Document, error)
}
