package server

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/slackersnooze/internal/helpers"
)

//go:embed templates/*.html
var templateFS embed.FS

const feedTemplate = "feed.html"

type feedView struct {
	feedPage
	Now time.Time
}

type templateRenderer struct {
	templates *template.Template
}

func newRenderer() *templateRenderer {
	funcs := template.FuncMap{
		"hostname":  helpers.Hostname,
		"timesince": helpers.TimeSince,
		"inc":       func(n int) int { return n + 1 },
	}
	t := template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
	return &templateRenderer{templates: t}
}

func (r *templateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// goJSONSerializer swaps echo's encoding/json serializer for goccy/go-json.
type goJSONSerializer struct{}

func (goJSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := gojson.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (goJSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := gojson.NewDecoder(c.Request().Body).Decode(i)
	if ute, ok := err.(*gojson.UnmarshalTypeError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unmarshal type error: "+ute.Error()).SetInternal(err)
	}
	if se, ok := err.(*gojson.SyntaxError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, "syntax error: "+se.Error()).SetInternal(err)
	}
	return err
}
