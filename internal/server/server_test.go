package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/slackersnooze/config"
	"github.com/mohammad-safakhou/slackersnooze/internal/history"
	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
	"github.com/mohammad-safakhou/slackersnooze/internal/ranking"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/session"
	"github.com/mohammad-safakhou/slackersnooze/session/inmemory"
)

type failingStore struct {
	*inmemory.Store
}

func (failingStore) ClickedDocIDs(ctx context.Context, token string) ([]int64, error) {
	return nil, errors.New("connection refused")
}

type testStore interface {
	history.Store
	Store
	PutDocs(docs ...models.Document)
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{Address: ":0", CookieName: "token", CookieMaxAge: 24 * time.Hour}
}

// newTestServer serves n documents; document i has score i and url
// https://blog.example.com/i.
func newTestServer(t *testing.T, n int, st testStore, cfg config.ServerConfig, health func(context.Context) error) *echo.Echo {
	t.Helper()
	words := inmemory.NewStore()
	words.PutWords(
		models.WordEntry{Word: "go", Vector: []float64{1, 0}, Count: 1},
		models.WordEntry{Word: "rust", Vector: []float64{0, 1}, Count: 1},
	)

	published := time.Now().Add(-2 * time.Hour)
	docs := make([]models.Document, n)
	vectors := make([][]float64, n)
	for i := range docs {
		id := int64(i + 1)
		lang := "go"
		if id%2 == 0 {
			lang = "rust"
		}
		docs[i] = models.Document{
			ID:           id,
			Title:        fmt.Sprintf("%s story %d", lang, id),
			URL:          fmt.Sprintf("https://blog.example.com/%d", id),
			PublishedAt:  published,
			Author:       "pg",
			CommentCount: int(id),
			Score:        int(id),
		}
		vectors[i] = []float64{float64(id % 3), float64(id % 5)}
	}
	st.PutDocs(docs...)
	snap, err := snapshot.New(docs, vectors)
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	holder := snapshot.NewHolder()
	holder.Swap(snap)

	return New(cfg, ranking.PageSize, Deps{
		Store:          st,
		Aggregator:     history.NewAggregator(st, title.NewVectorizer(words, 2)),
		Engine:         ranking.NewEngine(500, 2),
		Snapshots:      holder,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("snooze_refresh_total 1\n")) }),
		Health:         health,
		Log:            logging.Nop(),
	})
}

func get(e *echo.Echo, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func tokenCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatalf("response did not set the token cookie")
	return nil
}

func decodeFeed(t *testing.T, rec *httptest.ResponseRecorder) feedResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp feedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestFeedColdStartSetsCookie(t *testing.T) {
	e := newTestServer(t, 45, inmemory.NewStore(), serverConfig(), nil)
	rec := get(e, "/api/feed")
	resp := decodeFeed(t, rec)

	ck := tokenCookie(t, rec)
	if !session.ValidToken(ck.Value) || !ck.HttpOnly || ck.Path != "/" || ck.MaxAge != 86400 {
		t.Fatalf("unexpected cookie %+v", ck)
	}
	if resp.Personalized || !resp.HasNext || len(resp.Items) != ranking.PageSize {
		t.Fatalf("unexpected page: personalized=%v next=%v items=%d", resp.Personalized, resp.HasNext, len(resp.Items))
	}
	first := resp.Items[0]
	if first.Rank != 1 || first.ID != 45 || first.Host != "example.com" || first.Relevance != 45 {
		t.Fatalf("unexpected first item %+v", first)
	}
}

func TestFeedPagination(t *testing.T) {
	e := newTestServer(t, 45, inmemory.NewStore(), serverConfig(), nil)

	resp := decodeFeed(t, get(e, "/api/feed?p=1"))
	if resp.Page != 1 || len(resp.Items) != 15 || resp.HasNext || resp.Items[0].Rank != 31 || resp.Items[0].ID != 15 {
		t.Fatalf("unexpected second page %+v", resp)
	}
	if resp := decodeFeed(t, get(e, "/api/feed?p=9")); len(resp.Items) != 0 {
		t.Fatalf("page past the end should be empty, got %d", len(resp.Items))
	}
	for _, p := range []string{"307445734561825861", "9223372036854775807"} {
		rec := get(e, "/api/feed?p="+p)
		if resp := decodeFeed(t, rec); len(resp.Items) != 0 || resp.HasNext {
			t.Fatalf("p=%s should be an empty last page, got %+v", p, resp)
		}
	}
	if rec := get(e, "/news?p=307445734561825861"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Nothing to read yet.") {
		t.Fatalf("huge html page: %d", rec.Code)
	}
	for _, p := range []string{"-3", "abc"} {
		resp := decodeFeed(t, get(e, "/api/feed?p="+p))
		if resp.Page != 0 || resp.Items[0].Rank != 1 {
			t.Fatalf("p=%s should fall back to the first page, got %+v", p, resp.Page)
		}
	}
}

func TestClickRedirectsAndPersonalizes(t *testing.T) {
	st := inmemory.NewStore()
	e := newTestServer(t, 45, st, serverConfig(), nil)
	ck := tokenCookie(t, get(e, "/api/feed"))

	rec := get(e, "/docs/7", ck)
	if rec.Code != http.StatusFound || rec.Header().Get(echo.HeaderLocation) != "https://blog.example.com/7" {
		t.Fatalf("unexpected redirect %d %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
	if ids, _ := st.ClickedDocIDs(context.Background(), ck.Value); len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("click not recorded: %v", ids)
	}

	seen := 0
	for p := 0; p < 2; p++ {
		resp := decodeFeed(t, get(e, fmt.Sprintf("/api/feed?p=%d", p), ck))
		if !resp.Personalized {
			t.Fatalf("feed should be personalized after a click")
		}
		for _, it := range resp.Items {
			if it.ID == 7 {
				t.Fatalf("clicked document should be excluded")
			}
			seen++
		}
	}
	if seen != 44 {
		t.Fatalf("expected 44 ranked documents, got %d", seen)
	}
}

func TestCommentsRedirect(t *testing.T) {
	e := newTestServer(t, 10, inmemory.NewStore(), serverConfig(), nil)
	rec := get(e, "/docs/7/comments")
	if rec.Code != http.StatusFound || rec.Header().Get(echo.HeaderLocation) != "https://news.ycombinator.com/item?id=7" {
		t.Fatalf("unexpected redirect %d %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
	tokenCookie(t, rec)
}

func TestClickUnknownDocument(t *testing.T) {
	st := inmemory.NewStore()
	e := newTestServer(t, 10, st, serverConfig(), nil)
	for _, target := range []string{"/docs/999", "/docs/abc", "/docs/999/comments"} {
		if rec := get(e, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 got %d", target, rec.Code)
		}
	}
}

func TestFeedUnavailable(t *testing.T) {
	st := failingStore{inmemory.NewStore()}
	e := newTestServer(t, 10, st, serverConfig(), nil)
	tok, err := session.Mint(context.Background(), st)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	ck := &http.Cookie{Name: "token", Value: tok}

	rec := get(e, "/api/feed", ck)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"error":"feed unavailable"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	rec = get(e, "/news", ck)
	if rec.Code != http.StatusServiceUnavailable || strings.TrimSpace(rec.Body.String()) != "feed unavailable" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "story") {
		t.Fatalf("failed feed must not render items")
	}
}

func TestClickSkipsHistory(t *testing.T) {
	st := failingStore{inmemory.NewStore()}
	e := newTestServer(t, 10, st, serverConfig(), nil)
	tok, err := session.Mint(context.Background(), st)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rec := get(e, "/docs/3", &http.Cookie{Name: "token", Value: tok})
	if rec.Code != http.StatusFound {
		t.Fatalf("click should not read click history, got %d %s", rec.Code, rec.Body.String())
	}
	if ck := tokenCookie(t, rec); ck.Value != tok {
		t.Fatalf("expected existing token to be kept, got %q", ck.Value)
	}
}

func TestFeedHTML(t *testing.T) {
	e := newTestServer(t, 45, inmemory.NewStore(), serverConfig(), nil)
	rec := get(e, "/news")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`<ol start="1">`,
		`<a href="/docs/45">go story 45</a>`,
		`(example.com)`,
		`2 hours ago`,
		`/docs/45/comments`,
		`href="/news?p=1"`,
		`popular`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q", want)
		}
	}

	rec = get(e, "/?p=1")
	if strings.Contains(rec.Body.String(), "/news?p=2") || !strings.Contains(rec.Body.String(), `<ol start="31">`) {
		t.Fatalf("second page should start at 31 and have no next link")
	}
}

func TestMalformedCookieMintsNewToken(t *testing.T) {
	st := inmemory.NewStore()
	e := newTestServer(t, 5, st, serverConfig(), nil)
	for _, bad := range []string{"BAD", strings.Repeat("a", session.TokenLength)} {
		ck := tokenCookie(t, get(e, "/api/feed", &http.Cookie{Name: "token", Value: bad}))
		if ck.Value == bad || !session.ValidToken(ck.Value) {
			t.Fatalf("expected a fresh token for %q, got %q", bad, ck.Value)
		}
		if ok, _ := st.SessionExists(context.Background(), ck.Value); !ok {
			t.Fatalf("minted token was not registered")
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(t, 3, inmemory.NewStore(), serverConfig(), nil)
	rec := get(e, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"docs":3`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(e, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "snooze_refresh_total") {
		t.Fatalf("unexpected metrics %d", rec.Code)
	}

	down := newTestServer(t, 3, inmemory.NewStore(), serverConfig(), func(context.Context) error { return errors.New("ping failed") })
	if rec := get(down, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestCanonicalWWWRedirect(t *testing.T) {
	cfg := serverConfig()
	cfg.CanonicalWWW = true
	e := newTestServer(t, 3, inmemory.NewStore(), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/news?p=1", nil)
	req.Host = "slackersnooze.com"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get(echo.HeaderLocation) != "http://www.slackersnooze.com/news?p=1" {
		t.Fatalf("unexpected redirect %d %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}

	req = httptest.NewRequest(http.MethodGet, "/news", nil)
	req.Host = "localhost:10001"
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("localhost should not redirect, got %d", rec.Code)
	}
}
