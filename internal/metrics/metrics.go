// Package metrics provides Prometheus metrics for sync runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/models"
)

const namespace = "fieldsync"

// Recorder implements engine.Metrics with Prometheus collectors.
type Recorder struct {
	// RunsTotal tracks finished runs by status
	RunsTotal *prometheus.CounterVec
	// RunDuration tracks run duration in seconds by status
	RunDuration *prometheus.HistogramVec
	// RowChanges tracks computed row changes by type
	RowChanges *prometheus.CounterVec
	// WeeklyUpserts tracks weekly status upserts by outcome
	WeeklyUpserts *prometheus.CounterVec
}

var _ engine.Metrics = (*Recorder)(nil)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "runs_total",
				Help:      "Total number of sync runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		RowChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "row_changes_total",
				Help:      "Total number of computed row changes by type",
			},
			[]string{"type"},
		),
		WeeklyUpserts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "weekly_upserts_total",
				Help:      "Total number of weekly status upserts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRun implements engine.Metrics.
func (r *Recorder) ObserveRun(status models.RunStatus, d time.Duration) {
	r.RunsTotal.WithLabelValues(string(status)).Inc()
	r.RunDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// AddChanges implements engine.Metrics.
func (r *Recorder) AddChanges(change models.ChangeType, n int) {
	if n > 0 {
		r.RowChanges.WithLabelValues(string(change)).Add(float64(n))
	}
}

// AddWeekly implements engine.Metrics.
func (r *Recorder) AddWeekly(outcome models.UpsertOutcome, n int) {
	if n > 0 {
		r.WeeklyUpserts.WithLabelValues(string(outcome)).Add(float64(n))
	}
}

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info().Str("addr", addr).Msg("Serving metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
