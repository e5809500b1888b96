package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("moderation")

var requestsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "perch_moderation_requests_created",
	Help: "Number of moderation requests created",
})

var submissionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "perch_moderation_submissions",
	Help: "Number of successful provider submissions",
})

var submissionsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "perch_moderation_submissions_failed",
	Help: "Number of failed provider submissions",
})

var verdictsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "perch_moderation_verdicts_received",
	Help: "Number of provider verdicts processed",
})
