// Package metrics exposes run progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nilmbench_folds_total",
		Help: "Training folds finished, by outcome.",
	}, []string{"device", "model", "status"})
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nilmbench_evaluations_total",
		Help: "Test-slice evaluations finished, by outcome.",
	}, []string{"device", "model", "status"})
	ReportRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilmbench_report_rows_written_total",
		Help: "Rows appended to cumulative reports.",
	})
	TrainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nilmbench_training_duration_seconds",
		Help:    "Wall time of one model training.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"model"})
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nilmbench_evaluation_duration_seconds",
		Help:    "Wall time of one test-slice evaluation.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"model"})
)

// Status labels.
const (
	OK     = "ok"
	Failed = "failed"
)

func Status(err error) string {
	if err != nil {
		return Failed
	}
	return OK
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
