package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"subscription-ledger/internal/app"
	"subscription-ledger/internal/metrics"
)

// Options configures NewHandler. Metrics and Logger may be nil.
type Options struct {
	AllowedOrigins string
	Metrics        *metrics.Collector
	Logger         logrus.FieldLogger
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))
	if opts.Metrics != nil {
		r.Use(Metrics(opts.Metrics))
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// ── Customers ─────────────────────────────────────────────────────────
		r.Get("/api/customers", h.apiListCustomers)
		r.Post("/api/customers", h.apiCreateCustomer)
		r.Get("/api/customers/{id}", h.apiGetCustomer)
		r.Put("/api/customers/{id}", h.apiUpdateCustomer)
		r.Put("/api/customers/{id}/active", h.apiSetCustomerActive)
		r.Delete("/api/customers/{id}", h.apiDeleteCustomer)
		r.Get("/api/customers/{id}/subscriptions", h.apiCustomerSubscriptions)
		r.Get("/api/customers/{id}/adjustments", h.apiListAdjustments)
		r.Get("/api/customers/{id}/balance", h.apiBalance)
		r.Get("/api/customers/{id}/statement", h.apiStatement)

		// ── Plans ─────────────────────────────────────────────────────────────
		r.Get("/api/plans", h.apiListPlans)
		r.Post("/api/plans", h.apiCreatePlan)
		r.Put("/api/plans/{id}", h.apiUpdatePlan)
		r.Put("/api/plans/{id}/active", h.apiSetPlanActive)
		r.Delete("/api/plans/{id}", h.apiDeletePlan)

		// ── Subscriptions ─────────────────────────────────────────────────────
		r.Get("/api/subscriptions", h.apiListSubscriptions)
		r.Post("/api/subscriptions", h.apiSubscribe)
		r.Patch("/api/subscriptions/{id}", h.apiUpdateSubscription)
		r.Put("/api/subscriptions/{id}/active", h.apiSetSubscriptionActive)
		r.Delete("/api/subscriptions/{id}", h.apiDeleteSubscription)

		// ── Accruals ──────────────────────────────────────────────────────────
		r.Get("/api/accruals", h.apiListAccruals)
		r.Post("/api/accruals/generate", h.apiGenerateAccruals)
		r.Get("/api/accruals/{id}", h.apiGetAccrual)
		r.Post("/api/accruals/{id}/cancel", h.apiCancelAccrual)
		r.Delete("/api/accruals/{id}", h.apiDeleteAccrual)

		// ── Payments and allocation ───────────────────────────────────────────
		r.Get("/api/payments", h.apiListPayments)
		r.Post("/api/payments", h.apiRegisterPayment)
		r.Get("/api/payments/{id}", h.apiGetPayment)
		r.Delete("/api/payments/{id}", h.apiDeletePayment)
		r.Post("/api/payments/{id}/allocate", h.apiAllocate)
		r.Delete("/api/allocations/{id}", h.apiDeallocate)

		// ── Adjustments ───────────────────────────────────────────────────────
		r.Post("/api/adjustments", h.apiApplyAdjustment)
		r.Delete("/api/adjustments/{id}", h.apiDeleteAdjustment)

		// ── Reports ───────────────────────────────────────────────────────────
		r.Get("/api/reports/delinquents", h.apiDelinquents)
		r.Get("/api/reports/collections", h.apiCollections)
		r.Get("/api/reports/dashboard", h.apiDashboard)
		r.Get("/api/export/{table}", h.apiExport)
	})

	h.router = r
	return r
}

// health reports liveness. It does not touch the store.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// pathID extracts the {id} URL parameter, writing a 400 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, r, "invalid "+name+" parameter", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
