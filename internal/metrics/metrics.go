package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EchoesCreated counts committed echo transactions.
	EchoesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_echoes_created_total",
		Help: "Total echoes committed",
	})
	// PingsDispatched counts notifications written per kind.
	PingsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drift_pings_dispatched_total",
		Help: "Total pings written to recipient inboxes",
	}, []string{"kind"})
	// VotesCast counts accepted poll votes.
	VotesCast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_votes_cast_total",
		Help: "Total poll votes accepted",
	})
	// SuppressedCommitDenials counts permission errors swallowed after a
	// successful commit.
	SuppressedCommitDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drift_suppressed_commit_denials_total",
		Help: "Total post-commit permission denials suppressed",
	})
	// TransactionDuration tracks core transaction latency per operation.
	TransactionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drift_transaction_duration_seconds",
		Help:    "Core transaction duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(EchoesCreated, PingsDispatched, VotesCast, SuppressedCommitDenials, TransactionDuration)
}

// ObserveTransactionDuration records the elapsed time of one core transaction.
func ObserveTransactionDuration(operation string, start time.Time) {
	TransactionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// StartServer exposes /metrics and /health on addr. An empty addr disables the
// listener.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}
