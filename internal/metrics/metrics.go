package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pbu"

// Run holds the gauges describing one backup run. Each run gets its own
// registry; the process exits after a single run.
type Run struct {
	Registry    *prometheus.Registry
	Datasets    *prometheus.GaugeVec
	RetryRounds prometheus.Gauge
	Duration    prometheus.Gauge
	LastRun     prometheus.Gauge
	Exports     *prometheus.CounterVec
	Downloads   *prometheus.CounterVec
}

func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Run{
		Registry: reg,
		Datasets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasets",
			Help:      "Datasets in the last run by final status.",
		}, []string{"status"}),
		RetryRounds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_rounds",
			Help:      "Download retry rounds spent in the last run.",
		}),
		Duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export calls by result.",
		}, []string{"result"}),
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download calls by result.",
		}, []string{"result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Run) ObserveExport(err error) {
	if r == nil {
		return
	}
	r.Exports.WithLabelValues(result(err)).Inc()
}

func (r *Run) ObserveDownload(err error) {
	if r == nil {
		return
	}
	r.Downloads.WithLabelValues(result(err)).Inc()
}

// Finish records the final counts of a run.
func (r *Run) Finish(success, fail, skipped, rounds int, started, ended time.Time) {
	if r == nil {
		return
	}
	r.Datasets.WithLabelValues("success").Set(float64(success))
	r.Datasets.WithLabelValues("fail").Set(float64(fail))
	r.Datasets.WithLabelValues("skipped-fresh").Set(float64(skipped))
	r.RetryRounds.Set(float64(rounds))
	r.Duration.Set(ended.Sub(started).Seconds())
	r.LastRun.Set(float64(ended.Unix()))
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (r *Run) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	return prometheus.WriteToTextfile(path, r.Registry)
}
