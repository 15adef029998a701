package app

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"dispatch_engine/internal/dispatch"
)

//go:embed views
var embeddedViews embed.FS

// LayoutView wraps every non-partial view when present
const LayoutView = "shared/layout"

var ErrViewNotFound = errors.New("view not found")

// viewPage is the data handed to every template
type viewPage struct {
	Model    any
	ViewData map[string]any
	Content  template.HTML
}

// TemplateRenderer renders views from a tree of .html files. A view's name
// is its path without extension, e.g. admin/dashboard/index.
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// DefaultFuncMap holds the helpers available to every template
func DefaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"add": func(a, b int) int {
			return a + b
		},
		"substr": func(s string, start, length int) string {
			if start < 0 || start >= len(s) {
				return ""
			}
			end := start + length
			if end > len(s) {
				end = len(s)
			}
			return s[start:end]
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}

// NewTemplateRenderer parses every .html file under fsys
func NewTemplateRenderer(fsys fs.FS, logger *slog.Logger) (*TemplateRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpl := template.New("").Funcs(DefaultFuncMap())
	count := 0
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".html" {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		name := strings.ToLower(strings.TrimSuffix(p, ".html"))
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		count++
		return nil
	})
	if err != nil {
		logger.Error("Failed to load templates", "error", err)
		return nil, err
	}

	logger.Info("Templates loaded", "count", count)
	return &TemplateRenderer{templates: tmpl, logger: logger}, nil
}

// NewEmbeddedRenderer loads the views compiled into the binary
func NewEmbeddedRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	sub, err := fs.Sub(embeddedViews, "views")
	if err != nil {
		return nil, err
	}
	return NewTemplateRenderer(sub, logger)
}

// Render implements dispatch.ViewRenderer
func (r *TemplateRenderer) Render(_ context.Context, view dispatch.ViewRef, model any, viewData map[string]any) (string, error) {
	name := strings.ToLower(view.String())
	t := r.templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrViewNotFound, name)
	}

	page := viewPage{Model: model, ViewData: viewData}
	var buf bytes.Buffer
	if err := t.Execute(&buf, page); err != nil {
		return "", err
	}

	layout := r.templates.Lookup(LayoutView)
	if view.Partial || layout == nil {
		return buf.String(), nil
	}

	page.Content = template.HTML(buf.String())
	buf.Reset()
	if err := layout.Execute(&buf, page); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ dispatch.ViewRenderer = (*TemplateRenderer)(nil)
