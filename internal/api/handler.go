package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankledger/internal/auth"
	"github.com/punchamoorthee/bankledger/internal/logging"
	"github.com/punchamoorthee/bankledger/internal/service"
	"github.com/punchamoorthee/bankledger/internal/store"
)

// Metrics
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

type Handler struct {
	ledger *service.Ledger
	store  store.Store
	logger *zap.Logger
	tracer trace.Tracer
}

func NewHandler(l *service.Ledger, s store.Store, logger *zap.Logger) *Handler {
	return &Handler{
		ledger: l,
		store:  s,
		logger: logger,
		tracer: otel.Tracer("github.com/punchamoorthee/bankledger/internal/api"),
	}
}

// NewRouter mounts health, metrics and the authenticated /api/v1 surface.
func NewRouter(h *Handler, tokens *auth.Tokens) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.NotFoundHandler = h.instrument(http.HandlerFunc(h.notFound))
	r.MethodNotAllowedHandler = h.instrument(http.HandlerFunc(h.methodNotAllowed))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(tokens.Middleware(h.unauthenticated))

	apiV1.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts", h.ListAccountsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}/transactions", h.GetAccountTransactionsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}/freeze", h.FreezeAccountHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{id}/unfreeze", h.UnfreezeAccountHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{id}/close", h.CloseAccountHandler).Methods(http.MethodPost)

	apiV1.HandleFunc("/transactions/deposit", h.DepositHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transactions/withdrawal", h.WithdrawalHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)

	apiV1.HandleFunc("/transfers", h.CreateTransferHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods(http.MethodGet)

	apiV1.HandleFunc("/cards", h.IssueCardHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/cards", h.ListCardsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/cards/{id}", h.GetCardHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/cards/{id}", h.CancelCardHandler).Methods(http.MethodDelete)
	apiV1.HandleFunc("/cards/{id}/freeze", h.FreezeCardHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/cards/{id}/unfreeze", h.UnfreezeCardHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/cards/{id}/payments", h.CardPaymentHandler).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records metrics, a server span and an access log line for
// every request.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, r.Method+" "+endpoint, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		status := strconv.Itoa(rec.status)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", endpoint),
			attribute.Int("http.response.status_code", rec.status),
		)

		logging.WithTrace(ctx, h.logger).Info("http request",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
		)
	})
}
