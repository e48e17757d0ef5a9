package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"audiopolicy/message"
)

const (
	metricsNamespace = "audiopolicy"
	metricsSubsystem = "server"
)

// Metrics counts transactions per operation and result and times them.
type Metrics struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	name         CodeNamer
}

// NewMetrics registers the transaction collectors with reg.
func NewMetrics(reg prometheus.Registerer, name CodeNamer) *Metrics {
	if name == nil {
		name = NumericCode
	}
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: "transactions_total",
			Help: "Transactions handled, by operation and result"}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: "transaction_duration_seconds",
			Help: "Time spent handling a transaction", Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10)},
			[]string{"operation"}),
		name: name,
	}
	reg.MustRegister(m.transactions, m.duration)
	return m
}

func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Transaction) *message.Transaction {
			start := time.Now()
			resp := next(ctx, req)

			op := m.name(resp.Code)
			result := "ok"
			if resp.Err != nil {
				result = "rejected"
			}
			m.transactions.WithLabelValues(op, result).Inc()
			m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
