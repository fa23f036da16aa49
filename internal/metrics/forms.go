package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	formSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "submissions_total",
			Help:      "Form submissions written, by form type and status.",
		},
		[]string{"type", "status"},
	)

	moderationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "moderation_actions_total",
			Help:      "Admin moderation actions, by resource and action.",
		},
		[]string{"resource", "action"},
	)

	costsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "costs_lookups_total",
			Help:      "Costs cache lookups, by result.",
		},
		[]string{"result"},
	)
)

// ObserveFormSubmission counts a created or updated submission.
func ObserveFormSubmission(formType, status string) {
	formSubmissionsTotal.WithLabelValues(formType, status).Inc()
}

// ObserveModeration counts an admin action such as update or delete.
func ObserveModeration(resource, action string) {
	moderationActionsTotal.WithLabelValues(resource, action).Inc()
}

// ObserveCostsCache counts a hit or miss of the costs cache.
func ObserveCostsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	costsCacheTotal.WithLabelValues(result).Inc()
}
