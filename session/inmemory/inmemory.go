// Package inmemory is a map-backed implementation of the session, click, document
// and word stores. It backs tests and `snooze serve --memory`.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/session"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string][]models.ClickEvent
	docs     map[int64]models.Document
	vectors  map[string][]float64
	counts   map[string]int64
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string][]models.ClickEvent),
		docs:     make(map[int64]models.Document),
		vectors:  make(map[string][]float64),
		counts:   make(map[string]int64),
		now:      time.Now,
	}
}

func (s *Store) CreateSession(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; ok {
		return false, nil
	}
	s.sessions[token] = nil
	return true, nil
}

func (s *Store) SessionExists(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[token]
	return ok, nil
}

// AppendClick records a click for a registered token.
func (s *Store) AppendClick(ctx context.Context, ev models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clicks, ok := s.sessions[ev.Token]
	if !ok {
		return session.ErrUnknownSession
	}
	if ev.ClickedAt.IsZero() {
		ev.ClickedAt = s.now()
	}
	s.sessions[ev.Token] = append(clicks, ev)
	return nil
}

// ClickedDocIDs returns the distinct ids clicked by token, ascending.
func (s *Store) ClickedDocIDs(ctx context.Context, token string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, ev := range s.sessions[token] {
		if _, ok := seen[ev.DocID]; ok {
			continue
		}
		seen[ev.DocID] = struct{}{}
		ids = append(ids, ev.DocID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PutDocs inserts or replaces documents by id.
func (s *Store) PutDocs(docs ...models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
}

// UpsertDocs inserts new documents; known ones only get score and comment count updated.
func (s *Store) UpsertDocs(ctx context.Context, docs []models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertDocs(docs)
	return nil
}

// IngestDocs upserts docs and counts newTitles under one lock.
func (s *Store) IngestDocs(ctx context.Context, docs []models.Document, newTitles [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertDocs(docs)
	s.countWords(newTitles)
	return nil
}

func (s *Store) upsertDocs(docs []models.Document) {
	for _, d := range docs {
		if cur, ok := s.docs[d.ID]; ok {
			cur.Score = d.Score
			cur.CommentCount = d.CommentCount
			s.docs[d.ID] = cur
			continue
		}
		s.docs[d.ID] = d
	}
}

// NewDocIDs returns the ids not stored yet, in input order.
func (s *Store) NewDocIDs(ctx context.Context, ids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for _, id := range ids {
		if _, ok := s.docs[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// DocsByID returns the known documents among ids ordered by id.
func (s *Store) DocsByID(ctx context.Context, ids []int64) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0, len(ids))
	added := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		d, ok := s.docs[id]
		if !ok {
			continue
		}
		if _, dup := added[id]; dup {
			continue
		}
		added[id] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DocByID(ctx context.Context, id int64) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return models.Document{}, models.ErrDocNotFound
	}
	return d, nil
}

// MostRecentDocs returns up to limit documents, newest first.
func (s *Store) MostRecentDocs(ctx context.Context, limit int) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutWords inserts or replaces vector and count of each entry.
func (s *Store) PutWords(entries ...models.WordEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.vectors[e.Word] = e.Vector
		s.counts[e.Word] = e.Count
	}
}

// UpsertWordVectors stores vectors for words that have none yet.
func (s *Store) UpsertWordVectors(ctx context.Context, entries []models.WordEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.vectors[e.Word]; !ok {
			s.vectors[e.Word] = append([]float64(nil), e.Vector...)
		}
	}
	return nil
}

// CountWords adds one to the count of every distinct non-empty word in titles.
func (s *Store) CountWords(ctx context.Context, titles [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countWords(titles)
	return nil
}

func (s *Store) countWords(titles [][]string) {
	for _, w := range title.Vocabulary(titles) {
		s.counts[w]++
	}
}

// WordEntries returns the words that have both a vector and a count.
func (s *Store) WordEntries(ctx context.Context, words []string) (map[string]models.WordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.WordEntry, len(words))
	for _, w := range words {
		vec, ok := s.vectors[w]
		if !ok {
			continue
		}
		count, ok := s.counts[w]
		if !ok {
			continue
		}
		out[w] = models.WordEntry{Word: w, Vector: vec, Count: count}
	}
	return out, nil
}

func (s *Store) TotalWordCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, c := range s.counts {
		total += c
	}
	return total, nil
}
