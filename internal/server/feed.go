package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/slackersnooze/config"
	"github.com/mohammad-safakhou/slackersnooze/internal/helpers"
	"github.com/mohammad-safakhou/slackersnooze/internal/history"
	"github.com/mohammad-safakhou/slackersnooze/internal/ranking"
	"github.com/mohammad-safakhou/slackersnooze/internal/runtime"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/session"
)

// Store is what the request surface needs beyond the aggregator.
type Store interface {
	session.Store
	DocByID(ctx context.Context, id int64) (models.Document, error)
	AppendClick(ctx context.Context, ev models.ClickEvent) error
}

const feedUnavailable = "feed unavailable"

type FeedHandler struct {
	store    Store
	agg      *history.Aggregator
	engine   *ranking.Engine
	snaps    *snapshot.Holder
	metrics  *runtime.Metrics
	cookie   config.ServerConfig
	pageSize int
	now      func() time.Time
}

func (h *FeedHandler) Register(e *echo.Echo) {
	e.GET("/", h.feedHTML)
	e.GET("/news", h.feedHTML)
	e.GET("/api/feed", h.feedJSON)
	e.GET("/docs/:id", h.openDoc)
	e.GET("/docs/:id/comments", h.openComments)
}

type feedPage struct {
	Page         int
	Items        []ranking.Ranked
	Personalized bool
	HasNext      bool
	Start        int
}

type feedItem struct {
	Rank        int       `json:"rank"`
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Host        string    `json:"host"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	Comments    int       `json:"comments"`
	PublishedAt time.Time `json:"published_at"`
	Relevance   float64   `json:"relevance"`
}

type feedResponse struct {
	Page         int        `json:"page"`
	Personalized bool       `json:"personalized"`
	HasNext      bool       `json:"has_next"`
	Items        []feedItem `json:"items"`
}

func (h *FeedHandler) feedHTML(c echo.Context) error {
	page, err := h.rankPage(c)
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, feedTemplate, feedView{feedPage: page, Now: h.now()})
}

func (h *FeedHandler) feedJSON(c echo.Context) error {
	page, err := h.rankPage(c)
	if err != nil {
		return err
	}
	resp := feedResponse{
		Page:         page.Page,
		Personalized: page.Personalized,
		HasNext:      page.HasNext,
		Items:        make([]feedItem, len(page.Items)),
	}
	for i, r := range page.Items {
		resp.Items[i] = feedItem{
			Rank:        page.Start + i + 1,
			ID:          r.Doc.ID,
			Title:       r.Doc.Title,
			URL:         r.Doc.URL,
			Host:        helpers.Hostname(r.Doc.URL),
			Author:      r.Doc.Author,
			Score:       r.Doc.Score,
			Comments:    r.Doc.CommentCount,
			PublishedAt: r.Doc.PublishedAt,
			Relevance:   r.Score,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// rankPage aggregates the caller's history, ranks the current snapshot and cuts
// the requested page. Any failure becomes a 503 with no partial output.
func (h *FeedHandler) rankPage(c echo.Context) (feedPage, error) {
	ctx := c.Request().Context()
	start := time.Now()

	hist, err := h.agg.Aggregate(ctx, h.readToken(c))
	if err != nil {
		return feedPage{}, echo.NewHTTPError(http.StatusServiceUnavailable, feedUnavailable).SetInternal(err)
	}
	h.writeToken(c, hist.Token)

	res := h.engine.Rank(h.snaps.Load().Candidates(), hist.Vectors, hist.Seen)
	h.observeRank(ctx, res.Personalized, time.Since(start))

	p := ranking.ClampPage(pageParam(c))
	return feedPage{
		Page:         p,
		Items:        ranking.Page(res.Items, p, h.size()),
		Personalized: res.Personalized,
		HasNext:      ranking.HasNext(len(res.Items), p, h.size()),
		Start:        ranking.Start(len(res.Items), p, h.size()),
	}, nil
}

func (h *FeedHandler) openDoc(c echo.Context) error {
	doc, err := h.click(c, "article")
	if err != nil {
		return err
	}
	target := doc.URL
	if target == "" {
		target = doc.DiscussionURL()
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *FeedHandler) openComments(c echo.Context) error {
	doc, err := h.click(c, "comments")
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, doc.DiscussionURL())
}

// click resolves the session, records a click on the :id document and returns it.
func (h *FeedHandler) click(c echo.Context, target string) (models.Document, error) {
	ctx := c.Request().Context()
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return models.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}

	token, _, err := session.Resolve(ctx, h.store, h.readToken(c))
	if err != nil {
		return models.Document{}, echo.NewHTTPError(http.StatusServiceUnavailable, feedUnavailable).SetInternal(err)
	}
	h.writeToken(c, token)

	doc, err := h.store.DocByID(ctx, id)
	if errors.Is(err, models.ErrDocNotFound) {
		return models.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return models.Document{}, echo.NewHTTPError(http.StatusServiceUnavailable, feedUnavailable).SetInternal(err)
	}
	ev := models.ClickEvent{Token: token, DocID: id, ClickedAt: h.now().UTC()}
	if err := h.store.AppendClick(ctx, ev); err != nil {
		return models.Document{}, echo.NewHTTPError(http.StatusServiceUnavailable, feedUnavailable).SetInternal(err)
	}
	if h.metrics != nil {
		h.metrics.ClicksTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("target", target)))
	}
	return doc, nil
}

func (h *FeedHandler) readToken(c echo.Context) string {
	ck, err := c.Cookie(h.cookie.CookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

// writeToken refreshes the session cookie on every response.
func (h *FeedHandler) writeToken(c echo.Context, token string) {
	cookie := new(http.Cookie)
	cookie.Name = h.cookie.CookieName
	cookie.Value = token
	cookie.Path = "/"
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	cookie.Secure = h.cookie.CookieSecure
	if h.cookie.CookieMaxAge > 0 {
		cookie.MaxAge = int(h.cookie.CookieMaxAge / time.Second)
		cookie.Expires = h.now().Add(h.cookie.CookieMaxAge)
	}
	c.SetCookie(cookie)
}

func (h *FeedHandler) observeRank(ctx context.Context, personalized bool, d time.Duration) {
	if h.metrics == nil {
		return
	}
	policy := "popular"
	if personalized {
		policy = "personalized"
	}
	h.metrics.RankSeconds.Record(ctx, d.Seconds(), otelmetric.WithAttributes(attribute.String("policy", policy)))
}

func (h *FeedHandler) size() int {
	if h.pageSize <= 0 {
		return ranking.PageSize
	}
	return h.pageSize
}

// maxPage caps ?p so page arithmetic cannot overflow; no snapshot gets near it.
const maxPage = 1 << 20

// pageParam reads ?p=N, treating anything unparsable as the first page.
func pageParam(c echo.Context) int {
	p, err := strconv.Atoi(c.QueryParam("p"))
	if err != nil {
		return 0
	}
	return min(p, maxPage)
}
