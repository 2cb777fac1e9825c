package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup metrics
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangra_assets_backups_total",
			Help: "Snapshot attempts by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	BackupsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tangra_assets_backups_pruned_total",
			Help: "Snapshots deleted by retention",
		},
	)

	// Restore metrics
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangra_assets_restore_validations_total",
			Help: "Restore candidate validations by outcome reason",
		},
		[]string{"reason"},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangra_assets_restores_total",
			Help: "Restore attempts by result",
		},
		[]string{"result"},
	)

	RestoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tangra_assets_restore_duration_seconds",
			Help:    "Time the store was unavailable during a restore",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Record metrics
	RecordOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangra_assets_record_operations_total",
			Help: "Record operations by kind and result",
		},
		[]string{"op", "result"},
	)
)

// Result labels
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
	ResultInvalid = "invalid"
)
