// Package metrics defines the Prometheus collectors for the ledger, the
// sweeper, the confirmation pipeline, cleanup and the job worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the services update.
type Metrics struct {
	// Ledger
	ReservationsTotal *prometheus.CounterVec // camp_tent_reservations_total{result}
	UnitsReleased     prometheus.Counter     // camp_tent_units_released_total

	// Sweeper
	SweepRuns     prometheus.Counter   // camp_sweeper_runs_total
	SweepReleased prometheus.Counter   // camp_sweeper_released_total
	SweepFailures prometheus.Counter   // camp_sweeper_failures_total
	SweepDuration prometheus.Histogram // camp_sweeper_duration_seconds

	// Confirmation pipeline
	Confirmations   *prometheus.CounterVec // camp_confirmations_total{result}
	MoveFailures    *prometheus.CounterVec // camp_asset_move_failures_total{asset}
	ConfirmDuration prometheus.Histogram   // camp_confirmation_duration_seconds

	// Cleanup
	PurgeFailures prometheus.Counter // camp_storage_purge_failures_total
	DraftsCleaned prometheus.Counter // camp_stale_drafts_deleted_total

	// Jobs
	JobsProcessed *prometheus.CounterVec   // camp_jobs_processed_total{job,result}
	JobDuration   *prometheus.HistogramVec // camp_job_duration_seconds{job}
}

// New registers the collectors on reg.  Passing nil uses the default
// registerer.  Tests pass a fresh prometheus.NewRegistry() so repeated
// construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ReservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camp_tent_reservations_total",
			Help: "Tent reservation attempts by result",
		}, []string{"result"}),
		UnitsReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_tent_units_released_total",
			Help: "Tent units returned to stock",
		}),

		SweepRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_sweeper_runs_total",
			Help: "Expiry sweeper runs",
		}),
		SweepReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_sweeper_released_total",
			Help: "Expired reservations released by the sweeper",
		}),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_sweeper_failures_total",
			Help: "Reservations the sweeper failed to release",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "camp_sweeper_duration_seconds",
			Help:    "Expiry sweeper run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camp_confirmations_total",
			Help: "Registration confirmations by result",
		}, []string{"result"}),
		MoveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camp_asset_move_failures_total",
			Help: "Asset moves that failed during confirmation",
		}, []string{"asset"}),
		ConfirmDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "camp_confirmation_duration_seconds",
			Help:    "Confirmation pipeline duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		PurgeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_storage_purge_failures_total",
			Help: "Storage folders that could not be purged",
		}),
		DraftsCleaned: f.NewCounter(prometheus.CounterOpts{
			Name: "camp_stale_drafts_deleted_total",
			Help: "Stale draft registrations deleted",
		}),

		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "camp_jobs_processed_total",
			Help: "Background jobs processed by name and result",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camp_job_duration_seconds",
			Help:    "Background job duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
