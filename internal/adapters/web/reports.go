package web

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// apiBalance handles GET /api/customers/{id}/balance?as_of=&credit=.
func (h *Handler) apiBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetBalance(r.Context(), id, r.URL.Query().Get("as_of"), queryBool(r, "credit"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiStatement handles GET /api/customers/{id}/statement?from=&to=.
func (h *Handler) apiStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.svc.GetStatement(r.Context(), id, q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiDelinquents handles GET /api/reports/delinquents?as_of=&days=.
func (h *Handler) apiDelinquents(w http.ResponseWriter, r *http.Request) {
	var days *int
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, "invalid days parameter", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		days = &n
	}
	res, err := h.svc.GetDelinquents(r.Context(), r.URL.Query().Get("as_of"), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiCollections handles GET /api/reports/collections?period=YYYY-MM.
func (h *Handler) apiCollections(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetCollections(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiDashboard(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetDashboard(r.Context(), r.URL.Query().Get("as_of"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiExport handles GET /api/export/{table} and streams the table as CSV.
// The export is buffered so a failure can still produce a JSON error.
func (h *Handler) apiExport(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(r.Context(), table, &buf); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+table+`.csv"`)
	_, _ = w.Write(buf.Bytes())
}
