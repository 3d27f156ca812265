package ops

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/stint/internal/errors"
)

//go:embed templates/export.html
var templateFS embed.FS

var exportTemplate = template.Must(template.New("export.html").Funcs(template.FuncMap{
	"markdown":   renderMarkdown,
	"formatTime": formatTime,
	"duration":   FormatDuration,
	"deref":      derefString,
}).ParseFS(templateFS, "templates/export.html"))

func writeHTML(ctx context.Context, w io.Writer, data *exportData) error {
	if ctx.Err() != nil {
		return errors.NewCancelled("export")
	}
	return exportTemplate.Execute(w, data)
}

// renderMarkdown converts markdown to HTML, falling back to escaped text.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
