// Package snapshot holds the candidate set published by the refresher and read by
// every feed request.
package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/slackersnooze/internal/ranking"
	"github.com/mohammad-safakhou/slackersnooze/models"
)

// Snapshot is an immutable pair of documents and their title vectors.
type Snapshot struct {
	id          string
	docs        []models.Document
	vectors     [][]float64
	publishedAt time.Time
}

// New copies docs and vectors into a fresh snapshot. Row i of vectors belongs to docs[i].
func New(docs []models.Document, vectors [][]float64) (*Snapshot, error) {
	return build(uuid.NewString(), docs, vectors, time.Now().UTC())
}

func build(id string, docs []models.Document, vectors [][]float64, at time.Time) (*Snapshot, error) {
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("snapshot: %d documents but %d vectors", len(docs), len(vectors))
	}
	s := &Snapshot{
		id:          id,
		docs:        make([]models.Document, len(docs)),
		vectors:     make([][]float64, len(vectors)),
		publishedAt: at,
	}
	copy(s.docs, docs)
	for i, v := range vectors {
		s.vectors[i] = append([]float64(nil), v...)
	}
	return s, nil
}

// Empty is the snapshot served before anything has been published.
func Empty() *Snapshot {
	return &Snapshot{id: "empty"}
}

func (s *Snapshot) ID() string             { return s.id }
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }
func (s *Snapshot) Len() int               { return len(s.docs) }

// Docs returns a copy of the documents.
func (s *Snapshot) Docs() []models.Document {
	return append([]models.Document(nil), s.docs...)
}

// Candidates zips documents with their vectors. The vectors are shared with the
// snapshot and must not be modified.
func (s *Snapshot) Candidates() []ranking.Candidate {
	out := make([]ranking.Candidate, len(s.docs))
	for i := range s.docs {
		out[i] = ranking.Candidate{Doc: s.docs[i], Vector: s.vectors[i]}
	}
	return out
}

// Sink receives published snapshots.
type Sink interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// Holder is the process-local current snapshot.
type Holder struct {
	cur atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.cur.Store(Empty())
	return h
}

// Load never returns nil.
func (h *Holder) Load() *Snapshot { return h.cur.Load() }

// Swap installs s and returns the previous snapshot.
func (h *Holder) Swap(s *Snapshot) *Snapshot {
	if s == nil {
		return h.cur.Load()
	}
	return h.cur.Swap(s)
}

func (h *Holder) Publish(_ context.Context, s *Snapshot) error {
	h.Swap(s)
	return nil
}
