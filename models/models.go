package models

import (
	"errors"
	"strconv"
	"time"
)

var ErrDocNotFound = errors.New("document not found")

// DiscussionBaseURL is where a document's comment thread lives on the source site.
const DiscussionBaseURL = "https://news.ycombinator.com/item?id="

// Document is a candidate news item. Only Score and CommentCount change after creation.
type Document struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"published_at"`
	Author       string    `json:"author"`
	CommentCount int       `json:"comments"`
	Score        int       `json:"score"`
}

// DiscussionURL returns the comment thread for the document.
func (d Document) DiscussionURL() string {
	return DiscussionBaseURL + strconv.FormatInt(d.ID, 10)
}

// WordEntry is a row of the pretrained vocabulary joined with its observed title frequency.
type WordEntry struct {
	Word   string    `json:"word"`
	Vector []float64 `json:"vector"`
	Count  int64     `json:"count"`
}

// ClickEvent is one append-only entry of a session's click log.
type ClickEvent struct {
	Token     string    `json:"token"`
	DocID     int64     `json:"doc_id"`
	ClickedAt time.Time `json:"clicked_at"`
}
