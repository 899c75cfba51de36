package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/models"
	"github.com/punchamoorthee/fxledger/internal/service"
	"github.com/punchamoorthee/fxledger/internal/store"
	"github.com/shopspring/decimal"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

// retryAfter is sent with 409 responses caused by lock contention.
const retryAfter = "1"

type Handler struct {
	service service.Service
	users   store.Provisioner
	ref     catalog.Provider
	initial map[domain.Currency]decimal.Decimal
	logger  log.Logger
}

// NewHandler wires the HTTP layer. initial is the opening balance per
// currency given to users created through the API.
func NewHandler(svc service.Service, users store.Provisioner, ref catalog.Provider, initial map[domain.Currency]decimal.Decimal, logger log.Logger) *Handler {
	return &Handler{service: svc, users: users, ref: ref, initial: initial, logger: logger}
}

// Router returns the routes of the API, instrumented.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/users", h.CreateUserHandler).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/accounts", h.GetUserAccountsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/transactions", h.GetUserTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers", h.CreateTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods(http.MethodGet)
	v1.HandleFunc("/rates", h.GetRatesHandler).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// statusFor maps an engine or store error to the HTTP status reported to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUserExists), domain.IsRetryable(err):
		return http.StatusConflict
	case domain.IsUserError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError reports user errors as-is and hides everything else.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	switch {
	case code == http.StatusConflict && domain.IsRetryable(err):
		w.Header().Set("Retry-After", retryAfter)
		respondWithError(w, code, domain.ErrBusy.Error())
	case code < http.StatusInternalServerError:
		respondWithError(w, code, err.Error())
	case domain.IsMisconfiguration(err):
		level.Error(h.logger).Log("msg", "reference data missing", "path", r.URL.Path, "err", err)
		respondWithError(w, code, "Service misconfigured")
	default:
		level.Error(h.logger).Log("msg", "request failed", "path", r.URL.Path, "err", err)
		respondWithError(w, code, "Internal Server Error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
