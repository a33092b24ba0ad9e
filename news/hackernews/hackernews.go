// Package hackernews reads top stories from the Hacker News Firebase API.
package hackernews

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/news"
)

// Item is the subset of the HN item payload we use.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

// Document maps an item to a document. Items without a link point at their discussion page.
func (it Item) Document() models.Document {
	d := models.Document{
		ID:           it.ID,
		Title:        it.Title,
		URL:          it.URL,
		PublishedAt:  time.Unix(it.Time, 0).UTC(),
		Author:       it.By,
		CommentCount: it.Descendants,
		Score:        it.Score,
	}
	if d.URL == "" {
		d.URL = d.DiscussionURL()
	}
	return d
}

type Client struct {
	http    *news.HTTPClient
	baseURL string
}

var _ news.Source = (*Client)(nil)

func NewClient(baseURL string, httpClient *news.HTTPClient) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// TopIDs returns the current top story ids in rank order.
func (c *Client) TopIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"topstories.json", nil, nil, &ids); err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}
	return ids, nil
}

// Item fetches one item. A null payload yields a nil item.
func (c *Client) Item(ctx context.Context, id int64) (*Item, error) {
	var it *Item
	url := c.baseURL + "item/" + strconv.FormatInt(id, 10) + ".json"
	if err := c.http.DoJSON(ctx, http.MethodGet, url, nil, nil, &it); err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return it, nil
}

// Document fetches id and converts it, returning news.ErrSkipItem for items
// that are gone or have no title.
func (c *Client) Document(ctx context.Context, id int64) (models.Document, error) {
	it, err := c.Item(ctx, id)
	if err != nil {
		return models.Document{}, err
	}
	if it == nil || it.Deleted || it.Dead || strings.TrimSpace(it.Title) == "" {
		return models.Document{}, fmt.Errorf("item %d: %w", id, news.ErrSkipItem)
	}
	return it.Document(), nil
}
