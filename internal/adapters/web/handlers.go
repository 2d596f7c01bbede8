package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"inventory-service/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Handler holds the ApplicationService, the chi router and the request validator.
type Handler struct {
	svc      app.ApplicationService
	router   chi.Router
	log      logrus.FieldLogger
	validate *validator.Validate
}

// Options configures NewHandler.
type Options struct {
	AllowedOrigins   string
	RequestBodyLimit int64
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log logrus.FieldLogger, opts Options) http.Handler {
	if opts.RequestBodyLimit <= 0 {
		opts.RequestBodyLimit = 1 << 20
	}
	h := &Handler{
		svc:      svc,
		log:      log.WithField("module", "web"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(CORS(opts.AllowedOrigins))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(opts.RequestBodyLimit))

		// ── Catalog ───────────────────────────────────────────────────────────
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.createProduct)
			r.Get("/", h.listProducts)
			r.Get("/{id}", h.getProduct)
			r.Patch("/{id}", h.updateProduct)
			r.Delete("/{id}", h.deleteProduct)
		})
		r.Route("/warehouses", func(r chi.Router) {
			r.Post("/", h.createWarehouse)
			r.Get("/", h.listWarehouses)
			r.Get("/{id}", h.getWarehouse)
			r.Delete("/{id}", h.deleteWarehouse)
		})

		// ── Transactions ──────────────────────────────────────────────────────
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/receipt", h.createReceipt)
			r.Post("/delivery", h.createDelivery)
			r.Post("/internal-transfer", h.createTransfer)
			r.Post("/adjustment", h.adjustStock)
			r.Get("/", h.listTransactions)
			r.Get("/{ref}", h.getTransaction)
			r.Post("/{ref}/validate", h.validateTransaction)
			r.Post("/{ref}/ready", h.markReady)
			r.Post("/{ref}/cancel", h.cancelTransaction)
		})

		// ── Stock & reporting ─────────────────────────────────────────────────
		r.Get("/stock", h.getStock)
		r.Get("/stock/low", h.lowStock)
		r.Get("/stock/reconcile", h.reconcile)
		r.Get("/ledger", h.getLedger)
		r.Get("/dashboard/kpis", h.dashboardKPIs)
	})

	h.router = r
	return r
}

// health returns database and cache status; 503 when the database is unreachable.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Health(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("health check failed")
		if res == nil {
			res = &app.HealthResult{Status: "degraded"}
		}
		writeJSONStatus(w, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(w, res)
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

// decodeAndValidate decodes the body and runs struct validation on it.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if !decodeJSON(w, r, v) {
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, r, validationMessage(err), "VALIDATION_ERROR", http.StatusBadRequest)
		return false
	}
	return true
}

// validationMessage reports the first failing field using its JSON name.
func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err.Error()
	}
	fe := ves[0]
	field := jsonFieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt", "min":
		return fmt.Sprintf("%s must be at least %s", field, minParam(fe))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		n, err := strconv.Atoi(fe.Param())
		if err == nil {
			return strconv.Itoa(n + 1)
		}
	}
	return fe.Param()
}

// jsonFieldPath turns "createProductBody.WarehouseID" into "warehouse_id"
// and "transactionBody.Lines[0].ProductID" into "lines[0].product_id".
func jsonFieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		idx := ""
		if j := strings.IndexByte(p, '['); j >= 0 {
			p, idx = p[:j], p[j:]
		}
		parts[i] = toSnake(p) + idx
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i, c := range rs {
		upper := c >= 'A' && c <= 'Z'
		if upper && i > 0 {
			prevLower := rs[i-1] >= 'a' && rs[i-1] <= 'z'
			nextLower := i+1 < len(rs) && rs[i+1] >= 'a' && rs[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			c += 'a' - 'A'
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ── URL helpers ──────────────────────────────────────────────────────────────

// pathID parses the {id} URL parameter; it writes a 400 and returns false when invalid.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Sprintf("invalid id %q", raw), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// pathRef returns the {ref} parameter: a numeric id or a URL-escaped
// reference number such as "WH%2FIN%2F3".
func pathRef(r *http.Request) string {
	raw := chi.URLParam(r, "ref")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

// queryInt64 parses an optional positive integer query parameter.
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return &v, nil
}

func queryString(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}
