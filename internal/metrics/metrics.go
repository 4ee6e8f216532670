// Package metrics exposes the Prometheus instruments of an experiment run.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The run instruments are labelled with the run id so that concurrent runs
// in one process keep separate series.
var (
	// TrialsTotal counts evaluated trials by run, stage and status.
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoprep_trials_total",
		Help: "Evaluated trials by stage and status",
	}, []string{"run", "stage", "status"})

	// CacheHits counts evaluations answered from the history.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoprep_cache_hits_total",
		Help: "Evaluations answered from the evaluation history",
	}, []string{"run"})

	// TrialDuration tracks scoring wall time.
	TrialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoprep_trial_duration_seconds",
		Help:    "Trial scoring duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"run", "stage"})

	BestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autoprep_best_score",
		Help: "Running best cross-validated score",
	}, []string{"run"})

	// WorkerAttempts counts isolated worker attempts by how they ended.
	WorkerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoprep_worker_attempts_total",
		Help: "Isolated worker attempts by result",
	}, []string{"result"})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
