package web

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/ops"
)

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	logger   *zap.Logger
	renderer *Renderer
}

// HandleList handles GET /plans: stored plans, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	result, err := ops.List(h.db, ops.ListInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{
			Title:   "Plans",
			Version: h.renderer.version,
			Nav:     "plans",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
	})
}

// HandleDetail handles GET /plans/{id}: one plan with its unit decisions.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("plan ID is required"))
		return
	}

	p, err := ops.Fetch(h.db, ops.FetchInput{PlanID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, p)
		return
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{
			Title:   "Plan " + p.PlanID,
			Version: h.renderer.version,
			Nav:     "plans",
		},
		Plan: p,
	})
}

// HandleReport handles GET /report?experiment_id=...: the telemetry report
// rendered from its markdown form. Without an experiment id the page shows
// only the form.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	expID := strings.TrimSpace(r.URL.Query().Get("experiment_id"))
	windowParam := r.URL.Query().Get("window_days")

	data := ReportPageData{
		PageData: PageData{
			Title:   "Report",
			Version: h.renderer.version,
			Nav:     "report",
		},
		ExperimentID: expID,
		WindowDays:   windowParam,
	}
	if expID == "" {
		h.renderer.renderPage(w, r, "report", data)
		return
	}

	input := ops.ReportInput{ExperimentID: expID}
	if windowParam != "" {
		days, err := strconv.Atoi(windowParam)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("window_days must be an integer"))
			return
		}
		input.WindowDays = &days
	}

	result, err := ops.Report(r.Context(), h.db, h.cfg, h.logger, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data.Title = "Report " + expID
	data.HasReport = true
	data.ClaimReady = result.Report.Summary.ClaimReady
	data.RenderedHTML = renderMarkdown(result.Markdown)
	h.renderer.renderPage(w, r, "report", data)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
