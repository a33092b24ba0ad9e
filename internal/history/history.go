// Package history turns a session's click log into the vectors the ranking engine
// personalizes against.
package history

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/session"
)

// Store is everything the aggregator reads.
type Store interface {
	session.Store
	ClickedDocIDs(ctx context.Context, token string) ([]int64, error)
	DocsByID(ctx context.Context, ids []int64) ([]models.Document, error)
}

// Result is the per-request view of a session's history.
type Result struct {
	Token string
	// Vectors holds one row per clicked document that still exists, ascending by id.
	Vectors [][]float64
	// Seen holds every distinct clicked id.
	Seen  map[int64]struct{}
	Fresh bool
	dim   int
}

// Empty reports whether the session has no usable click vectors.
func (r Result) Empty() bool { return len(r.Vectors) == 0 }

// Mean returns the elementwise mean of Vectors, or a zero vector when empty.
func (r Result) Mean() []float64 {
	dim := r.dim
	if len(r.Vectors) > 0 {
		dim = len(r.Vectors[0])
	}
	mean := make([]float64, dim)
	if len(r.Vectors) == 0 {
		return mean
	}
	for _, v := range r.Vectors {
		for j := 0; j < dim && j < len(v); j++ {
			mean[j] += v[j]
		}
	}
	n := float64(len(r.Vectors))
	for j := range mean {
		mean[j] /= n
	}
	return mean
}

type Aggregator struct {
	store Store
	vec   *title.Vectorizer
}

func NewAggregator(store Store, vec *title.Vectorizer) *Aggregator {
	return &Aggregator{store: store, vec: vec}
}

// Aggregate resolves token (minting one if needed) and returns the session's
// click vectors. Nothing is cached between calls.
func (a *Aggregator) Aggregate(ctx context.Context, token string) (Result, error) {
	tok, fresh, err := session.Resolve(ctx, a.store, token)
	if err != nil {
		return Result{}, err
	}
	res := Result{Token: tok, Seen: map[int64]struct{}{}, Fresh: fresh, dim: a.vec.Dimensions()}
	if fresh {
		return res, nil
	}

	ids, err := a.store.ClickedDocIDs(ctx, tok)
	if err != nil {
		return Result{}, fmt.Errorf("clicked docs: %w", err)
	}
	if len(ids) == 0 {
		return res, nil
	}
	for _, id := range ids {
		res.Seen[id] = struct{}{}
	}

	docs, err := a.store.DocsByID(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("load clicked docs: %w", err)
	}
	titles := make([]string, len(docs))
	for i, d := range docs {
		titles[i] = d.Title
	}
	vectors, err := a.vec.Vectorize(ctx, title.NormalizeAll(titles))
	if err != nil {
		return Result{}, err
	}
	res.Vectors = vectors
	return res, nil
}
