// Package service is the ledger core: it guards accounts, records
// transactions, orchestrates transfers and authorizes card payments, each
// inside one atomic store unit.
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankledger/internal/domain"
	"github.com/punchamoorthee/bankledger/internal/secrets"
	"github.com/punchamoorthee/bankledger/internal/store"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations, labeled by outcome code",
	}, []string{"operation", "code"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Latency of ledger operations including lock waits and commit",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	}, []string{"operation"})

	lockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_lock_wait_seconds",
		Help:    "Time spent acquiring account row locks",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})
)

const (
	// DefaultCardValidity is three years of 365 days.
	DefaultCardValidity = 3 * 365 * 24 * time.Hour
	// maxCardNumberAttempts bounds retries on card number collisions.
	maxCardNumberAttempts = 10
)

// Ledger exposes the ledger operations to the request layer.
type Ledger struct {
	store    store.Store
	guard    *Guard
	recorder *Recorder

	cvvSecret    []byte
	pins         secrets.PINHasher
	cardNumbers  secrets.CardNumbers
	cardValidity time.Duration

	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(s *Ledger) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Ledger) { s.now = now }
}

func WithPINHasher(h secrets.PINHasher) Option {
	return func(s *Ledger) { s.pins = h }
}

func WithCardNumbers(gen secrets.CardNumbers) Option {
	return func(s *Ledger) { s.cardNumbers = gen }
}

func WithCardValidity(d time.Duration) Option {
	return func(s *Ledger) { s.cardValidity = d }
}

func New(st store.Store, cvvSecret []byte, opts ...Option) *Ledger {
	l := &Ledger{
		store:        st,
		guard:        &Guard{},
		recorder:     &Recorder{},
		cvvSecret:    cvvSecret,
		pins:         secrets.BcryptPINs{},
		cardNumbers:  secrets.RandomCardNumber,
		cardValidity: DefaultCardValidity,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/punchamoorthee/bankledger/internal/service"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// run executes fn as one atomic unit and records the outcome.
func (l *Ledger) run(ctx context.Context, op string, fn func(ctx context.Context, u store.Unit) error) error {
	ctx, span := l.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	start := time.Now()
	err := l.store.WithinUnit(ctx, fn)
	code := domain.CodeOf(err)

	label := string(code)
	if err == nil {
		label = "OK"
	}
	operationsTotal.WithLabelValues(op, label).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, label)
		if code == domain.CodeInternal {
			l.logger.Error("ledger operation failed", zap.String("operation", op), zap.Error(err))
		} else {
			l.logger.Debug("ledger operation rejected", zap.String("operation", op),
				zap.String("code", label), zap.Error(err))
		}
	}
	return err
}
