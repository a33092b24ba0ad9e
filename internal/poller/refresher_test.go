package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/news"
	"github.com/mohammad-safakhou/slackersnooze/session/inmemory"
)

type fakeSource struct {
	mu    sync.Mutex
	ids   []int64
	items map[int64]models.Document
	fail  map[int64]error
	calls int
}

func (f *fakeSource) TopIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ids, nil
}

func (f *fakeSource) Document(ctx context.Context, id int64) (models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[id]; ok {
		return models.Document{}, err
	}
	d, ok := f.items[id]
	if !ok {
		return models.Document{}, fmt.Errorf("item %d: %w", id, news.ErrSkipItem)
	}
	return d, nil
}

type fakeLock struct{ free bool }

func (l *fakeLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	return func() {}, l.free, nil
}

func fixture(t *testing.T) (*fakeSource, *inmemory.Store, *snapshot.Holder, *Refresher) {
	t.Helper()
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{
		ids: []int64{30, 10, 20, 40},
		items: map[int64]models.Document{
			10: {ID: 10, Title: "Go <b>generics</b>", URL: "https://go.dev", PublishedAt: at, Score: 5},
			20: {ID: 20, Title: "Rust &amp; Go", URL: "https://rust-lang.org", PublishedAt: at, Score: 7},
			30: {ID: 30, Title: "Postgres tips", URL: "https://postgresql.org", PublishedAt: at, Score: 1},
		},
	}
	st := inmemory.NewStore()
	st.PutWords(
		models.WordEntry{Word: "go", Vector: []float64{1, 0}},
		models.WordEntry{Word: "rust", Vector: []float64{0, 1}},
	)
	st.PutDocs(models.Document{ID: 30, Title: "Postgres tips", PublishedAt: at, Score: 0})

	holder := snapshot.NewHolder()
	r, err := NewRefresher(src, st, title.NewVectorizer(st, 2), []snapshot.Sink{holder}, nil, nil, logging.Nop(), Options{
		Interval:      time.Hour,
		MaxCandidates: 500,
		Concurrency:   2,
	})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	return src, st, holder, r
}

func TestRunOncePublishesSnapshotInSourceOrder(t *testing.T) {
	_, st, holder, r := fixture(t)
	ctx := context.Background()

	snap, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if holder.Load() != snap {
		t.Fatalf("holder was not updated")
	}
	docs := snap.Docs()
	if len(docs) != 3 || docs[0].ID != 30 || docs[1].ID != 10 || docs[2].ID != 20 {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if docs[1].Title != "Go generics" || docs[2].Title != "Rust & Go" {
		t.Fatalf("titles not sanitized: %q %q", docs[1].Title, docs[2].Title)
	}
	if docs[0].Score != 1 {
		t.Fatalf("score of known doc not refreshed: %+v", docs[0])
	}

	// words of new docs only, once per refresh
	entries, _ := st.WordEntries(ctx, []string{"go", "rust", "postgres"})
	if entries["go"].Count != 1 || entries["rust"].Count != 1 {
		t.Fatalf("unexpected counts %+v", entries)
	}
	c := snap.Candidates()
	if c[0].Vector[0] != 0 || c[0].Vector[1] != 0 {
		t.Fatalf("unmatched title should be the zero vector, got %v", c[0].Vector)
	}
	if c[1].Vector[0] == 0 {
		t.Fatalf("expected a non-zero vector for %q", c[1].Doc.Title)
	}
}

func TestRunOnceFailureKeepsPreviousSnapshot(t *testing.T) {
	src, _, holder, r := fixture(t)
	ctx := context.Background()
	first, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	src.fail = map[int64]error{20: errors.New("connection reset")}
	if _, err := r.RunOnce(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}
	if holder.Load() != first {
		t.Fatalf("failed refresh replaced the snapshot")
	}
}

// flakyStore rejects the first ingest the way a rolled back transaction would.
type flakyStore struct {
	*inmemory.Store
	fails int
}

func (f *flakyStore) IngestDocs(ctx context.Context, docs []models.Document, newTitles [][]string) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("could not serialize access")
	}
	return f.Store.IngestDocs(ctx, docs, newTitles)
}

func TestRunOnceRetriesWordCountsAfterFailedIngest(t *testing.T) {
	src, mem, holder, _ := fixture(t)
	st := &flakyStore{Store: mem, fails: 1}
	r, err := NewRefresher(src, st, title.NewVectorizer(st, 2), []snapshot.Sink{holder}, nil, nil, logging.Nop(), Options{
		Interval:      time.Hour,
		MaxCandidates: 500,
	})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	ctx := context.Background()

	if _, err := r.RunOnce(ctx); err == nil {
		t.Fatalf("expected ingest error")
	}
	if fresh, _ := mem.NewDocIDs(ctx, []int64{10, 20}); len(fresh) != 2 {
		t.Fatalf("failed refresh stored documents: new=%v", fresh)
	}
	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	entries, _ := mem.WordEntries(ctx, []string{"go", "rust"})
	if entries["go"].Count != 1 || entries["rust"].Count != 1 {
		t.Fatalf("words of the retried docs were not counted: %+v", entries)
	}
}

func TestRunOnceCapsCandidates(t *testing.T) {
	_, _, holder, r := fixture(t)
	r.opts.MaxCandidates = 2
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := holder.Load().Len(); n != 2 {
		t.Fatalf("expected 2 docs, got %d", n)
	}
}

func TestBootstrapPublishesStoredDocs(t *testing.T) {
	_, st, holder, r := fixture(t)
	st.PutDocs(models.Document{ID: 99, Title: "go go", PublishedAt: time.Now()})
	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	docs := holder.Load().Docs()
	if len(docs) != 2 || docs[0].ID != 99 {
		t.Fatalf("unexpected bootstrap docs %+v", docs)
	}
}

func TestCycleSkipsWhenLocked(t *testing.T) {
	src, _, holder, r := fixture(t)
	r.lock = &fakeLock{free: false}
	r.cycle(context.Background())
	if src.calls != 0 || holder.Load().Len() != 0 {
		t.Fatalf("locked cycle should not refresh")
	}
	r.lock = &fakeLock{free: true}
	r.cycle(context.Background())
	if src.calls != 1 || holder.Load().Len() != 3 {
		t.Fatalf("unlocked cycle should refresh")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src, _, _, r := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		calls := src.calls
		src.mu.Unlock()
		if calls > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestNextDelayFollowsCron(t *testing.T) {
	src := &fakeSource{}
	r, err := NewRefresher(src, inmemory.NewStore(), nil, nil, nil, nil, logging.Nop(), Options{Cron: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	r.now = func() time.Time { return time.Date(2026, 10, 19, 9, 2, 0, 0, time.UTC) }
	if d := r.nextDelay(); d != 3*time.Minute {
		t.Fatalf("nextDelay = %v", d)
	}
	if _, err := NewRefresher(src, nil, nil, nil, nil, nil, logging.Nop(), Options{}); err == nil {
		t.Fatalf("expected error without interval or cron")
	}
}
