package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
)

// TemplatePathFromRoot is the on-disk template directory used in dev mode.
const TemplatePathFromRoot = "web/templates"

// TemplateRenderer renders the HTML pages.
type TemplateRenderer struct {
	t       *template.Template
	fsys    fs.FS
	devMode bool
	logger  *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	TemplateFS fs.FS        // Filesystem containing *.html templates (required)
	DevMode    bool         // Re-parse templates on every render
	Logger     *slog.Logger // Logger for template errors (optional)
}

// NewTemplateRenderer parses every *.html template in cfg.TemplateFS.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	if cfg.TemplateFS == nil {
		return nil, errors.New("TemplateFS is required")
	}
	t, err := parseTemplates(cfg.TemplateFS)
	if err != nil {
		return nil, err
	}
	return &TemplateRenderer{t: t, fsys: cfg.TemplateFS, devMode: cfg.DevMode, logger: cfg.Logger}, nil
}

// DevTemplateFS returns the on-disk template directory when it exists.
func DevTemplateFS() (fs.FS, bool) {
	if st, err := os.Stat(TemplatePathFromRoot); err != nil || !st.IsDir() {
		return nil, false
	}
	return os.DirFS(TemplatePathFromRoot), true
}

func parseTemplates(fsys fs.FS) (*template.Template, error) {
	t, err := template.New("pages").ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return t, nil
}

func (tr *TemplateRenderer) log() *slog.Logger {
	if tr.logger != nil {
		return tr.logger
	}
	return slog.Default()
}

// Render executes the named template into a buffer and writes it with status.
// Nothing is written to w if execution fails.
func (tr *TemplateRenderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t := tr.t
	if tr.devMode {
		reloaded, err := parseTemplates(tr.fsys)
		if err != nil {
			tr.log().ErrorContext(r.Context(), "template reload failed", "error", err)
		} else {
			t = reloaded
		}
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		tr.log().ErrorContext(r.Context(), "template render failed", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
