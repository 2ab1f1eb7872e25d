package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"adops.io/internal/adops"
)

// reportFilter reads from, to, card_id and campaign query parameters.
func reportFilter(r *http.Request) (adops.ReportFilter, error) {
	q := r.URL.Query()
	var f adops.ReportFilter
	var err error
	if f.From, err = adops.ParseDate(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = adops.ParseDate(q.Get("to")); err != nil {
		return f, err
	}
	if raw := strings.TrimSpace(q.Get("card_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("%w: card_id must be a positive integer", adops.ErrInvalidInput)
		}
		f.CardID = &id
	}
	f.Campaign = strings.TrimSpace(q.Get("campaign"))
	if f.Limit, f.Offset, err = pageParams(r); err != nil {
		return f, fmt.Errorf("%w: %v", adops.ErrInvalidInput, err)
	}
	return f, nil
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	reports, err := a.ads.ListReports(r.Context(), currentUser(r), f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if reports == nil {
		reports = []adops.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (a *API) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	summary, err := a.ads.SummarizeReports(r.Context(), currentUser(r), f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if summary == nil {
		summary = []adops.ReportSummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := a.ads.GetReport(r.Context(), currentUser(r), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var in adops.ReportInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := a.ads.CreateReport(r.Context(), currentUser(r), in)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "reports.create", map[string]any{"report_id": rep.ID, "campaign": rep.Campaign})
	w.Header().Set("Location", fmt.Sprintf("/api/reports/%d", rep.ID))
	writeJSON(w, http.StatusCreated, rep)
}

func (a *API) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.ads.DeleteReport(r.Context(), currentUser(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	a.audit(r, "reports.delete", map[string]any{"report_id": id})
	w.WriteHeader(http.StatusNoContent)
}
