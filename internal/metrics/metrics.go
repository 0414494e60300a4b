package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_sent_total",
			Help: "Total campaign messages accepted by the gateway",
		},
	)

	MessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_messages_failed_total",
			Help: "Total campaign messages the gateway rejected or timed out",
		},
	)

	CampaignsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaigns_finished_total",
			Help: "Campaign runs by final status",
		},
		[]string{"status"},
	)

	SchedulerClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_claims_total",
			Help: "Due campaigns seen by the scheduler, by claim result",
		},
		[]string{"result"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_dispatch_duration_seconds",
			Help:    "Wall time of one dispatch run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_dropped_total",
			Help: "Audit entries dropped because the buffer was full",
		},
	)
)

func Init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(CampaignsFinished)
	prometheus.MustRegister(SchedulerClaims)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(AuditDropped)
}
