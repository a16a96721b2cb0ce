package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ServiceName = "warnlevel"
)

var (
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName(ServiceName, "sync", "total"),
		Help: "Sync attempts by outcome (synced, fresh, busy, network, decode, storage)",
	}, []string{"outcome"})
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName(ServiceName, "sync", "duration_seconds"),
		Help:    "Duration of sync runs that reached the fetch step, in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	SnapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(ServiceName, "snapshot", "records"),
		Help: "Number of records in the committed snapshot",
	})
	SnapshotDatasetTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(ServiceName, "snapshot", "dataset_timestamp_seconds"),
		Help: "Publication time of the committed dataset as a unix timestamp",
	})
	SnapshotFetchedTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName(ServiceName, "snapshot", "fetched_timestamp_seconds"),
		Help: "Local time of the last successful ingestion as a unix timestamp",
	})
)
