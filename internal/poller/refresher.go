// Package poller keeps the served snapshot current by polling the content source.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/slackersnooze/internal/helpers"
	"github.com/mohammad-safakhou/slackersnooze/internal/runtime"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/news"
)

// Store is the part of the document store the refresher writes and reads.
type Store interface {
	NewDocIDs(ctx context.Context, ids []int64) ([]int64, error)
	// IngestDocs stores docs and counts the words of newTitles atomically.
	IngestDocs(ctx context.Context, docs []models.Document, newTitles [][]string) error
	DocsByID(ctx context.Context, ids []int64) ([]models.Document, error)
	MostRecentDocs(ctx context.Context, limit int) ([]models.Document, error)
}

type Vectorizer interface {
	Vectorize(ctx context.Context, titles [][]string) ([][]float64, error)
}

// Lock is held for the duration of one refresh cycle.
type Lock interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

type Options struct {
	Interval      time.Duration
	Cron          string
	MaxCandidates int
	Concurrency   int
}

type Refresher struct {
	source  news.Source
	store   Store
	vec     Vectorizer
	sinks   []snapshot.Sink
	lock    Lock
	metrics *runtime.Metrics
	log     zerolog.Logger
	opts    Options
	cron    *cronexpr.Expression
	now     func() time.Time
}

// NewRefresher validates opts. lock and metrics may be nil.
func NewRefresher(source news.Source, store Store, vec Vectorizer, sinks []snapshot.Sink, lock Lock, metrics *runtime.Metrics, log zerolog.Logger, opts Options) (*Refresher, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	r := &Refresher{
		source:  source,
		store:   store,
		vec:     vec,
		sinks:   sinks,
		lock:    lock,
		metrics: metrics,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
	if opts.Cron != "" {
		expr, err := cronexpr.Parse(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("refresh cron %q: %w", opts.Cron, err)
		}
		r.cron = expr
	} else if opts.Interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be > 0")
	}
	return r, nil
}

// RunOnce performs one full refresh cycle and publishes the result. On error
// nothing is published.
func (r *Refresher) RunOnce(ctx context.Context) (*snapshot.Snapshot, error) {
	ids, err := r.source.TopIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch top ids: %w", err)
	}
	if r.opts.MaxCandidates > 0 && len(ids) > r.opts.MaxCandidates {
		ids = ids[:r.opts.MaxCandidates]
	}

	newIDs, err := r.store.NewDocIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("new doc ids: %w", err)
	}
	isNew := make(map[int64]struct{}, len(newIDs))
	for _, id := range newIDs {
		isNew[id] = struct{}{}
	}

	fetched, err := r.fetchAll(ctx, ids)
	if err != nil {
		return nil, err
	}

	var newTitles [][]string
	for _, d := range fetched {
		if _, ok := isNew[d.ID]; ok {
			newTitles = append(newTitles, title.Normalize(d.Title))
		}
	}
	if err := r.store.IngestDocs(ctx, fetched, newTitles); err != nil {
		return nil, fmt.Errorf("ingest docs: %w", err)
	}

	stored, err := r.store.DocsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load docs: %w", err)
	}
	snap, err := r.build(ctx, inSourceOrder(ids, stored))
	if err != nil {
		return nil, err
	}
	if err := r.publish(ctx, snap); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("snapshot", snap.ID()).
		Int("docs", snap.Len()).
		Int("new", len(newIDs)).
		Int("skipped", len(ids)-len(fetched)).
		Msg("snapshot published")
	return snap, nil
}

// Bootstrap publishes a snapshot of the most recently published stored documents
// so the feed is usable before the first poll completes.
func (r *Refresher) Bootstrap(ctx context.Context) error {
	limit := r.opts.MaxCandidates
	if limit <= 0 {
		limit = 500
	}
	docs, err := r.store.MostRecentDocs(ctx, limit)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if len(docs) == 0 {
		r.log.Info().Msg("bootstrap: no stored documents")
		return nil
	}
	snap, err := r.build(ctx, docs)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := r.publish(ctx, snap); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	r.log.Info().Str("snapshot", snap.ID()).Int("docs", snap.Len()).Msg("bootstrap snapshot published")
	return nil
}

// Run refreshes immediately, then on every interval or cron tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		r.cycle(ctx)
		timer := time.NewTimer(r.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Refresher) cycle(ctx context.Context) {
	if r.lock != nil {
		release, ok, err := r.lock.TryAcquire(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("refresh lock unavailable")
			r.count(ctx, "error")
			return
		}
		if !ok {
			r.log.Debug().Msg("another refresher holds the lock")
			r.count(ctx, "skipped")
			return
		}
		defer release()
	}
	if _, err := r.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Error().Err(err).Msg("refresh failed; keeping previous snapshot")
		r.count(ctx, "error")
		return
	}
	r.count(ctx, "ok")
}

func (r *Refresher) nextDelay() time.Duration {
	if r.cron == nil {
		return r.opts.Interval
	}
	now := r.now()
	next := r.cron.Next(now)
	if next.IsZero() {
		return r.opts.Interval
	}
	return next.Sub(now)
}

func (r *Refresher) count(ctx context.Context, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RefreshTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
}

// fetchAll resolves ids with bounded concurrency. Items the source no longer
// serves are dropped; any other failure aborts the cycle.
func (r *Refresher) fetchAll(ctx context.Context, ids []int64) ([]models.Document, error) {
	results := make([]*models.Document, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := r.source.Document(gctx, id)
			if errors.Is(err, news.ErrSkipItem) {
				r.log.Debug().Int64("id", id).Msg("skipping unavailable item")
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch item %d: %w", id, err)
			}
			d.Title = helpers.SanitizeTitle(d.Title)
			if d.Title == "" {
				return nil
			}
			results[i] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(ids))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

func (r *Refresher) build(ctx context.Context, docs []models.Document) (*snapshot.Snapshot, error) {
	titles := make([]string, len(docs))
	for i, d := range docs {
		titles[i] = d.Title
	}
	vectors, err := r.vec.Vectorize(ctx, title.NormalizeAll(titles))
	if err != nil {
		return nil, fmt.Errorf("vectorize: %w", err)
	}
	return snapshot.New(docs, vectors)
}

// publish hands snap to each sink in order and stops at the first failure, so
// remote sinks should precede the local holder.
func (r *Refresher) publish(ctx context.Context, snap *snapshot.Snapshot) error {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			return fmt.Errorf("publish snapshot: %w", err)
		}
	}
	return nil
}

func inSourceOrder(ids []int64, docs []models.Document) []models.Document {
	byID := make(map[int64]models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]models.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out
}
