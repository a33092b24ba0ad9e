package ranking

import (
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammad-safakhou/slackersnooze/models"
)

func cand(id int64, score int, vec ...float64) Candidate {
	return Candidate{Doc: models.Document{ID: id, Score: score}, Vector: vec}
}

func ids(items []Ranked) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.Doc.ID
	}
	return out
}

func TestColdStartSortsByPopularity(t *testing.T) {
	e := NewEngine(500, 2)
	res := e.Rank([]Candidate{cand(1, 10), cand(2, 50), cand(3, 5), cand(4, 10)}, nil, nil)
	if res.Personalized {
		t.Fatalf("cold start must not be personalized")
	}
	if got := ids(res.Items); !reflect.DeepEqual(got, []int64{2, 1, 4, 3}) {
		t.Fatalf("order = %v", got)
	}
	if res.Items[0].Score != 50 {
		t.Fatalf("cold start score should be popularity, got %v", res.Items[0].Score)
	}
}

func TestPersonalizedPrefersMeanAndExcludesSeen(t *testing.T) {
	e := NewEngine(500, 2)
	clicked := [][]float64{{1, 0}, {0, 1}}
	seen := map[int64]struct{}{10: {}, 11: {}}
	candidates := []Candidate{
		cand(1, 900, 2, -1),
		cand(2, 1, 0.5, 0.5),
		cand(10, 1000, 1, 0),
	}

	res := e.Rank(candidates, clicked, seen)
	if !res.Personalized {
		t.Fatalf("expected personalized result")
	}
	if got := ids(res.Items); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("order = %v", got)
	}
	if math.Abs(res.Items[0].Score) > 1e-9 {
		t.Fatalf("mean candidate should have distance 0, got %v", res.Items[0].Score)
	}
	if want := -math.Sqrt(4.5); math.Abs(res.Items[1].Score-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", res.Items[1].Score, want)
	}
}

func TestPersonalizedMeanCandidateExcludedWhenSeen(t *testing.T) {
	e := NewEngine(500, 2)
	res := e.Rank([]Candidate{cand(5, 1, 0.5, 0.5), cand(6, 1, 3, 3)}, [][]float64{{1, 0}, {0, 1}}, map[int64]struct{}{5: {}})
	if got := ids(res.Items); !reflect.DeepEqual(got, []int64{6}) {
		t.Fatalf("order = %v", got)
	}
}

func TestPersonalizedSingleClickIsDegenerateButUsable(t *testing.T) {
	e := NewEngine(500, 3)
	res := e.Rank(
		[]Candidate{cand(1, 0, 1, 2, 3), cand(2, 0, 4, 5, 6), cand(3, 0, 7, 8)},
		[][]float64{{1, 1, 1}},
		map[int64]struct{}{99: {}},
	)
	if got := ids(res.Items); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("order = %v", got)
	}
	if res.Items[0].Score != 0 || res.Items[1].Score != 0 {
		t.Fatalf("zero covariance should give zero distances, got %+v", res.Items)
	}
	if !math.IsInf(res.Items[2].Score, -1) {
		t.Fatalf("wrong-dimension candidate should sort last, got %v", res.Items[2].Score)
	}
}

func TestPersonalizedWithoutSurvivingVectors(t *testing.T) {
	e := NewEngine(500, 2)
	res := e.Rank([]Candidate{cand(1, 0, 1, 1), cand(2, 0, 2, 2)}, nil, map[int64]struct{}{1: {}})
	if !res.Personalized || !reflect.DeepEqual(ids(res.Items), []int64{2}) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	e := NewEngine(500, 3)
	clicked := [][]float64{{1, 0.2, 0}, {0.3, 1, 0.1}, {0.2, 0.1, 1}, {0.9, 0.8, 0.1}}
	var candidates []Candidate
	for i := 0; i < 40; i++ {
		f := float64(i)
		candidates = append(candidates, cand(int64(i), i%7, math.Sin(f), math.Cos(f), f/40))
	}
	seen := map[int64]struct{}{3: {}, 17: {}}
	a := e.Rank(candidates, clicked, seen)
	b := e.Rank(candidates, clicked, seen)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("ranking is not deterministic")
	}
	if len(a.Items) != 38 {
		t.Fatalf("expected 38 items, got %d", len(a.Items))
	}
}

func TestRankTruncatesCandidates(t *testing.T) {
	e := NewEngine(2, 1)
	res := e.Rank([]Candidate{cand(1, 1), cand(2, 2), cand(3, 300)}, nil, nil)
	if got := ids(res.Items); !reflect.DeepEqual(got, []int64{2, 1}) {
		t.Fatalf("order = %v", got)
	}
}

func TestPseudoInverse(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
	got := PseudoInverse(a)
	want := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.25})
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Fatalf("pinv = %v", mat.Formatted(got))
	}

	singular := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	got = PseudoInverse(singular)
	want = mat.NewDense(2, 2, []float64{0.25, 0.25, 0.25, 0.25})
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Fatalf("pinv of rank-1 = %v", mat.Formatted(got))
	}

	zero := PseudoInverse(mat.NewDense(3, 3, nil))
	if r, c := zero.Dims(); r != 3 || c != 3 || mat.Sum(zero) != 0 {
		t.Fatalf("pinv of zero matrix should be zero")
	}
}

func TestPagination(t *testing.T) {
	items := make([]int, 45)
	for i := range items {
		items[i] = i
	}
	if got := Page(items, 0, PageSize); len(got) != 30 || got[0] != 0 || got[29] != 29 {
		t.Fatalf("page 0 = %v", got)
	}
	if got := Page(items, 1, PageSize); len(got) != 15 || got[0] != 30 || got[14] != 44 {
		t.Fatalf("page 1 = %v", got)
	}
	if got := Page(items, 2, PageSize); len(got) != 0 {
		t.Fatalf("page 2 = %v", got)
	}
	if got := Page(items, -3, 0); len(got) != 30 || got[0] != 0 {
		t.Fatalf("negative page should clamp to 0, got %v", got)
	}
	if !HasNext(45, 0, PageSize) || HasNext(45, 1, PageSize) {
		t.Fatalf("HasNext mismatch")
	}
	if HasNext(60, 1, PageSize) || HasNext(0, 0, PageSize) {
		t.Fatalf("HasNext should be false on the last page")
	}
	if Start(45, 1, PageSize) != 30 || Start(45, 2, PageSize) != 0 {
		t.Fatalf("Start mismatch")
	}
}

func TestPaginationHugePage(t *testing.T) {
	items := make([]int, 45)
	for _, p := range []int{307445734561825861, math.MaxInt, math.MaxInt / PageSize} {
		if got := Page(items, p, PageSize); len(got) != 0 {
			t.Fatalf("page %d should be empty, got %d items", p, len(got))
		}
		if HasNext(len(items), p, PageSize) {
			t.Fatalf("page %d should have no next page", p)
		}
		if s := Start(len(items), p, PageSize); s != 0 {
			t.Fatalf("page %d start = %d", p, s)
		}
	}
}
