package reviewable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("reviewable")

var reviewablesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_reviewables_created_total",
	Help: "Number of reviewables created",
}, []string{"type"})

var scoresAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_scores_added_total",
	Help: "Number of reviewable scores recorded",
}, []string{"type", "score_type"})

var actionsPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_actions_performed_total",
	Help: "Number of successful perform calls",
}, []string{"type", "action"})

var conflictCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_conflicts_total",
	Help: "Number of requests rejected with a conflict or permission error",
}, []string{"op", "kind"})

var claimsAcquired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "reviewqueue_claims_acquired_total",
	Help: "Number of successful claim calls",
})

var eventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_event_publish_failures_total",
	Help: "Number of domain events that failed to reach the event bus",
}, []string{"kind"})

var pendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "reviewqueue_pending",
	Help: "Pending reviewables by priority, as of the last Counts call",
}, []string{"priority"})

var performDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "reviewqueue_perform_duration_sec",
	Help: "Duration of perform calls",
}, []string{"type"})

func countConflict(op string, err error) {
	if kind := conflictKind(err); kind != "" {
		conflictCount.WithLabelValues(op, kind).Inc()
	}
}
