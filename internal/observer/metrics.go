package observer

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"go-dimension-detective/pkg/models"
)

const durationWindow = 256

// MetricsObserver counts notifications and summarizes recent computation times
type MetricsObserver struct {
	mu     sync.RWMutex
	counts map[models.NotificationKind]int64
	// durations holds the most recent completed computation times in ms
	durations []float64
	next      int
}

// MetricsSnapshot is the JSON body of the metrics endpoint
type MetricsSnapshot struct {
	Notifications map[models.NotificationKind]int64 `json:"notifications"`
	Computations  ComputationStats                  `json:"computations"`
}

// ComputationStats summarizes the duration window
type ComputationStats struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	StdDev  float64 `json:"stddev_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		counts:    make(map[models.NotificationKind]int64),
		durations: make([]float64, 0, durationWindow),
	}
}

// OnEvent handles notification events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.counts[event.Kind]++
	if event.Kind != models.NotifyComputationCompleted || event.Elapsed <= 0 {
		return
	}

	ms := float64(event.Elapsed.Microseconds()) / 1000
	if len(o.durations) < durationWindow {
		o.durations = append(o.durations, ms)
		return
	}
	o.durations[o.next] = ms
	o.next = (o.next + 1) % durationWindow
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// Count returns how many notifications of kind were seen
func (o *MetricsObserver) Count(kind models.NotificationKind) int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.counts[kind]
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() MetricsSnapshot {
	o.mu.RLock()
	counts := make(map[models.NotificationKind]int64, len(o.counts))
	for k, v := range o.counts {
		counts[k] = v
	}
	samples := make([]float64, len(o.durations))
	copy(samples, o.durations)
	o.mu.RUnlock()

	snap := MetricsSnapshot{Notifications: counts}
	if len(samples) == 0 {
		return snap
	}

	sort.Float64s(samples)
	mean, std := stat.MeanStdDev(samples, nil)
	snap.Computations = ComputationStats{
		Samples: len(samples),
		MeanMs:  mean,
		P50Ms:   stat.Quantile(0.5, stat.Empirical, samples, nil),
		P95Ms:   stat.Quantile(0.95, stat.Empirical, samples, nil),
	}
	if len(samples) > 1 {
		snap.Computations.StdDev = std
	}
	return snap
}
