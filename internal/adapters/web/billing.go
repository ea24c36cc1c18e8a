package web

import (
	"net/http"

	"subscription-ledger/internal/app"
)

// ── Accruals ──────────────────────────────────────────────────────────────────

// apiListAccruals handles GET /api/accruals with optional customer_id,
// subscription_id, period, status and open filters.
func (h *Handler) apiListAccruals(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryInt(w, r, "customer_id")
	if !ok {
		return
	}
	subID, ok := queryInt(w, r, "subscription_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.svc.ListAccruals(r.Context(), app.AccrualQuery{
		CustomerID:     customerID,
		SubscriptionID: subID,
		Period:         q.Get("period"),
		Status:         q.Get("status"),
		OpenOnly:       queryBool(r, "open"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiGenerateAccruals handles POST /api/accruals/generate. The body is
// optional; an empty period means the current one.
func (h *Handler) apiGenerateAccruals(w http.ResponseWriter, r *http.Request) {
	var req app.GenerateAccrualsRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.GenerateAccruals(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiGetAccrual(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetAccrual(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiCancelAccrual(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CancelAccrual(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiDeleteAccrual(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteAccrual(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Payments and allocation ───────────────────────────────────────────────────

// apiListPayments handles GET /api/payments?customer_id=&from=&to=.
func (h *Handler) apiListPayments(w http.ResponseWriter, r *http.Request) {
	customerID, ok := queryInt(w, r, "customer_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.svc.ListPayments(r.Context(), app.PaymentQuery{CustomerID: customerID, From: q.Get("from"), To: q.Get("to")})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiRegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.RegisterPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (h *Handler) apiGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiDeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeletePayment(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type allocateRequest struct {
	Date  string                    `json:"date"`
	Lines []app.AllocationLineInput `json:"lines"`
}

// apiAllocate handles POST /api/payments/{id}/allocate. Without lines the
// payment is applied to the oldest open accruals; with lines, exactly as given.
func (h *Handler) apiAllocate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Lines) == 0 {
		res, err := h.svc.AllocateAuto(r.Context(), id, req.Date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, res)
		return
	}
	res, err := h.svc.AllocateManual(r.Context(), app.ManualAllocationRequest{PaymentID: id, Date: req.Date, Lines: req.Lines})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) apiDeallocate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Deallocate(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, a)
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func (h *Handler) apiApplyAdjustment(w http.ResponseWriter, r *http.Request) {
	var req app.AdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	adj, err := h.svc.ApplyAdjustment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, adj)
}

func (h *Handler) apiDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteAdjustment(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiListAdjustments handles GET /api/customers/{id}/adjustments.
func (h *Handler) apiListAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListAdjustments(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
