package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/report"
)

func componentURL(id string) string {
	return "/components/" + url.PathEscape(id)
}

func (s *Server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Dashboard(r.Context(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	issues, err := s.store.OpenIssues(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "index.html", map[string]any{
		"Title":  "SVT Dashboard",
		"Stats":  d,
		"Issues": issues,
	})
}

func (s *Server) componentsPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	f := inventory.ListFilter{
		Type:   inventory.ComponentType(q.Get("type")),
		Status: inventory.Status(q.Get("status")),
		Expr:   q.Get("filter"),
		Limit:  s.cfg.PageSize,
		Offset: (page - 1) * s.cfg.PageSize,
	}
	comps, err := s.store.ListComponents(r.Context(), f)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	total, err := s.store.CountComponents(r.Context(), f)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	pages := int((total + int64(s.cfg.PageSize) - 1) / int64(s.cfg.PageSize))

	// Pagination links keep the active filters.
	link := func(p int) string {
		v := url.Values{}
		for _, k := range []string{"type", "status", "filter"} {
			if q.Get(k) != "" {
				v.Set(k, q.Get(k))
			}
		}
		v.Set("page", strconv.Itoa(p))
		return "/components?" + v.Encode()
	}
	data := map[string]any{
		"Title":      "Components",
		"Components": comps,
		"Total":      total,
		"Page":       page,
		"Pages":      pages,
		"Types":      inventory.ComponentTypes,
		"Statuses":   inventory.Statuses,
		"TypeFilter": q.Get("type"),
		"StatFilter": q.Get("status"),
		"Expr":       q.Get("filter"),
	}
	if page > 1 {
		data["PrevURL"] = link(page - 1)
	}
	if page < pages {
		data["NextURL"] = link(page + 1)
	}
	s.render(w, r, http.StatusOK, "components.html", data)
}

func (s *Server) componentPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	c, err := s.store.GetComponent(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	tests, err := s.store.TestsForComponent(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	logs, err := s.store.Logs(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	neighbors, err := s.store.Neighbors(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	history, err := s.store.InstallationHistory(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	images, err := s.store.Images(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	assembly, err := s.store.AssemblyOf(ctx, id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "component.html", map[string]any{
		"Title":      c.ID,
		"C":          c,
		"Attributes": c.Attributes.Keys(),
		"Tests":      tests,
		"Logs":       logs,
		"Neighbors":  neighbors,
		"History":    history,
		"Images":     images,
		"Assembly":   assembly,
		"LogTypes":   inventory.LogTypes,
		"Severities": inventory.Severities,
		"CanAnalyze": s.jobStore != nil,
	})
}

func (s *Server) testPage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "testId")
	if !ok {
		s.renderError(w, r, fmt.Errorf("invalid test id: %w", inventory.ErrValidation))
		return
	}
	t, err := s.store.GetTest(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "test.html", map[string]any{
		"Title":        fmt.Sprintf("Test %d", t.ID),
		"T":            t,
		"Measurements": t.Measurements.Keys(),
		"Files":        inventory.FilesByType(t.Files),
		"FileTypes":    inventory.FileTypes,
	})
}

func (s *Server) installForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := s.store.Install(r.Context(), inventory.InstallRequest{
		ComponentID: id,
		Position:    strings.TrimSpace(r.FormValue("position")),
		RunPeriod:   strings.TrimSpace(r.FormValue("run_period")),
		InstalledBy: orDefault(r.FormValue("installed_by"), actor(r)),
		Notes:       r.FormValue("notes"),
	})
	if err != nil {
		s.redirect(w, r, "danger", err.Error(), componentURL(id))
		return
	}
	s.redirect(w, r, "success", fmt.Sprintf("%s installed at %s", id, r.FormValue("position")), componentURL(id))
}

func (s *Server) removeForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := s.store.Remove(r.Context(), inventory.RemoveRequest{
		ComponentID: id,
		Reason:      r.FormValue("reason"),
		RemovedBy:   orDefault(r.FormValue("removed_by"), actor(r)),
		NewLocation: strings.TrimSpace(r.FormValue("new_location")),
	})
	if err != nil {
		s.redirect(w, r, "danger", err.Error(), componentURL(id))
		return
	}
	s.redirect(w, r, "success", id+" removed", componentURL(id))
}

func (s *Server) logForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.AddLog(r.Context(), &inventory.MaintenanceLog{
		ComponentID: id,
		LogType:     inventory.LogType(r.FormValue("log_type")),
		Severity:    inventory.Severity(r.FormValue("severity")),
		Description: r.FormValue("description"),
		LoggedBy:    orDefault(r.FormValue("logged_by"), actor(r)),
	})
	if err != nil {
		s.redirect(w, r, "danger", err.Error(), componentURL(id))
		return
	}
	s.redirect(w, r, "success", "Log entry added", componentURL(id))
}

func (s *Server) edgeImagingPage(w http.ResponseWriter, r *http.Request) {
	rows, err := report.EdgeImagingData(r.Context(), s.store)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "edge_imaging.html", map[string]any{
		"Title":   "Edge Imaging",
		"Rows":    rows,
		"Reports": report.Names,
	})
}

func (s *Server) reportImage(w http.ResponseWriter, r *http.Request) {
	img, _, err := report.Render(r.Context(), s.store, chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, report.ErrUnknownReport) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
