package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/inventory"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"index.html",
	"components.html",
	"component.html",
	"test.html",
	"upload_picture.html",
	"edge_imaging.html",
	"error.html",
}

var templateFuncs = template.FuncMap{
	"typeName":   func(t inventory.ComponentType) string { return t.DisplayName() },
	"formatDate": formatDate,
	"optDate": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return formatDate(*t)
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"result": func(b *bool) string {
		return (&inventory.TestResult{PassFail: b}).Outcome()
	},
	"fixed": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"text":  func(v inventory.Value) string { return v.Text() },
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// formatDate renders dates the way the lab logbook does, e.g.
// "January 15th, 2025 14:26:35".
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	day := t.Day()
	suffix := "th"
	switch {
	case day%100 >= 11 && day%100 <= 13:
	case day%10 == 1:
		suffix = "st"
	case day%10 == 2:
		suffix = "nd"
	case day%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%s %d%s, %d %s", t.Month(), day, suffix, t.Year(), t.Format("15:04:05"))
}

type flash struct {
	Kind    string
	Message string
}

var flashKinds = []string{"success", "danger", "info"}

func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, kind, msg string) {
	sess, err := s.sessions.Get(r, "svt")
	if err != nil {
		s.logger.Debug("discarding unreadable session", zap.Error(err))
	}
	sess.AddFlash(msg, kind)
	if err := sess.Save(r, w); err != nil {
		s.logger.Warn("save flash", zap.Error(err))
	}
}

func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request) []flash {
	sess, err := s.sessions.Get(r, "svt")
	if err != nil {
		return nil
	}
	var out []flash
	for _, kind := range flashKinds {
		for _, f := range sess.Flashes(kind) {
			if msg, ok := f.(string); ok {
				out = append(out, flash{Kind: kind, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		_ = sess.Save(r, w)
	}
	return out
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, kind, msg, to string) {
	if msg != "" {
		s.addFlash(w, r, kind, msg)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// render executes a page into a buffer first so a template error still
// yields a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data map[string]any) {
	t, ok := s.pages[page]
	if !ok {
		http.Error(w, "unknown page "+page, http.StatusInternalServerError)
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["Flashes"] = s.takeFlashes(w, r)
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("render page", zap.String("page", page), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.render(w, r, status, "error.html", map[string]any{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Message": err.Error(),
	})
}
