package snapshot

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

type wireSnapshot struct {
	ID          string            `json:"id"`
	PublishedAt time.Time         `json:"published_at"`
	Docs        []models.Document `json:"docs"`
	Vectors     [][]float64       `json:"vectors"`
}

// Encode serializes s for the Redis relay.
func Encode(s *Snapshot) ([]byte, error) {
	return json.Marshal(wireSnapshot{
		ID:          s.id,
		PublishedAt: s.publishedAt,
		Docs:        s.docs,
		Vectors:     s.vectors,
	})
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("decode snapshot: missing id")
	}
	return build(w.ID, w.Docs, w.Vectors, w.PublishedAt)
}
