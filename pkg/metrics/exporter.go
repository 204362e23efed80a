package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func init() {
	prometheus.MustRegister(RecordsPersisted, RecordsDuplicate, RecordsSkipped, OffsetCommits)
	prometheus.MustRegister(PollErrors, BatchesInflight, BatchDuration, EngineState, PartitionsAssigned)
}

// StartMetricsServer serves /metrics in the background. The caller shuts the
// returned server down.
func StartMetricsServer(port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("prometheus exporter listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start metrics server", zap.Error(err))
		}
	}()
	return srv
}

// ObserveBatch records a finished batch for the consumer.
func ObserveBatch(consumer string, elapsed time.Duration) {
	BatchesInflight.WithLabelValues(consumer).Dec()
	BatchDuration.WithLabelValues(consumer).Observe(elapsed.Seconds())
}

// ObserveCommit counts one offset store update by outcome.
func ObserveCommit(topic string, applied bool, err error) {
	result := "stale"
	switch {
	case err != nil:
		result = "error"
	case applied:
		result = "applied"
	}
	OffsetCommits.WithLabelValues(topic, result).Inc()
}
