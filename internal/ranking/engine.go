// Package ranking orders snapshot candidates for a session: by popularity when the
// session has no history, otherwise by Mahalanobis distance to its clicked titles.
package ranking

import (
	"sort"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

// Candidate is a document with its title vector from the current snapshot.
type Candidate struct {
	Doc    models.Document
	Vector []float64
}

// Ranked is a scored document. Score is the popularity score for cold-start results
// and the negated distance for personalized ones.
type Ranked struct {
	Doc   models.Document
	Score float64
}

type Result struct {
	Items        []Ranked
	Personalized bool
}

type Engine struct {
	maxCandidates int
	dim           int
}

// NewEngine bounds each call to maxCandidates candidates of dim dimensions.
func NewEngine(maxCandidates, dim int) *Engine {
	return &Engine{maxCandidates: maxCandidates, dim: dim}
}

// Rank orders candidates. seen and vectors come from the click history aggregator;
// vectors may be shorter than seen when clicked documents no longer exist.
func (e *Engine) Rank(candidates []Candidate, vectors [][]float64, seen map[int64]struct{}) Result {
	if e.maxCandidates > 0 && len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}
	if len(seen) == 0 {
		return Result{Items: Popular(candidates)}
	}
	return Result{Items: e.personalized(candidates, vectors, seen), Personalized: true}
}

// Popular sorts by popularity score, descending, keeping candidate order on ties.
func Popular(candidates []Candidate) []Ranked {
	items := make([]Ranked, len(candidates))
	for i, c := range candidates {
		items[i] = Ranked{Doc: c.Doc, Score: float64(c.Doc.Score)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items
}

func (e *Engine) personalized(candidates []Candidate, vectors [][]float64, seen map[int64]struct{}) []Ranked {
	dist := NewDistribution(vectors, e.dim)
	items := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Doc.ID]; ok {
			continue
		}
		items = append(items, Ranked{Doc: c.Doc, Score: -dist.Distance(c.Vector)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items
}
