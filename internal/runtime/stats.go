package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/procflow/internal/runtime/errors"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory groups task handler failures in the wiring overview.
type ErrorCategory string

const (
	ErrorCategoryNone    ErrorCategory = "none"
	ErrorCategoryBinding ErrorCategory = "binding"
	ErrorCategoryTimeout ErrorCategory = "timeout"
	ErrorCategoryHandler ErrorCategory = "handler"
)

// ErrorClassifier maps a handler error to its category.
type ErrorClassifier func(error) ErrorCategory

// HandlerStats accumulates invocation statistics of one task handler.
type HandlerStats struct {
	mu sync.Mutex

	invocations   uint64
	failures      uint64
	totalTime     time.Duration
	lastInvokedAt time.Time
	errors        ErrorBreakdown

	latency    *latencyWindow
	throughput *throughputWindow
	classify   ErrorClassifier
}

// HandlerStatsSnapshot is a point-in-time copy of HandlerStats.
type HandlerStatsSnapshot struct {
	Invocations         uint64            `json:"invocations"`
	Failures            uint64            `json:"failures"`
	TotalProcessingTime int64             `json:"total_processing_time_ns"`
	LastInvokedAt       time.Time         `json:"last_invoked_at"`
	Latency             LatencyMetrics    `json:"latency"`
	Throughput          ThroughputMetrics `json:"throughput"`
	Errors              ErrorBreakdown    `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS          float64 `json:"current_rps"`
	WindowSeconds       float64 `json:"window_seconds"`
	InvocationsInWindow uint64  `json:"invocations_in_window"`
}

type ErrorBreakdown struct {
	Binding   uint64 `json:"binding"`
	Timeout   uint64 `json:"timeout"`
	Handler   uint64 `json:"handler"`
	LastError string `json:"last_error,omitempty"`
}

func newHandlerStats(classify ErrorClassifier) *HandlerStats {
	if classify == nil {
		classify = defaultErrorClassifier
	}
	return &HandlerStats{
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
		classify:   classify,
	}
}

func (h *HandlerStats) record(took time.Duration, err error, now time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.invocations++
	h.totalTime += took
	h.lastInvokedAt = now
	h.latency.Add(took)
	h.throughput.Add(now)
	if err != nil {
		h.failures++
		h.errors.Record(h.classify(err), err)
	}
}

// Snapshot returns the current statistics.
func (h *HandlerStats) Snapshot() HandlerStatsSnapshot {
	if h == nil {
		return HandlerStatsSnapshot{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	tp := h.throughput.snapshot(time.Now())
	return HandlerStatsSnapshot{
		Invocations:         h.invocations,
		Failures:            h.failures,
		TotalProcessingTime: int64(h.totalTime),
		LastInvokedAt:       h.lastInvokedAt,
		Latency:             h.latency.Snapshot(),
		Throughput: ThroughputMetrics{
			CurrentRPS:          tp.CurrentRPS,
			WindowSeconds:       tp.WindowSeconds,
			InvocationsInWindow: uint64(tp.Count),
		},
		Errors: h.errors,
	}
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Handler++
	case ErrorCategoryBinding:
		e.Binding++
	case ErrorCategoryTimeout:
		e.Timeout++
	default:
		e.Handler++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) Add(now time.Time) {
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	tw.cleanup(now)
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, errspkg.ErrParameterResolutionFailed):
		return ErrorCategoryBinding
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	default:
		return ErrorCategoryHandler
	}
}
