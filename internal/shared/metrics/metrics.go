package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	verificationStartedTotal   atomic.Uint64
	verificationCompletedTotal atomic.Uint64
	verificationResumedTotal   atomic.Uint64

	stepJobsReceivedTotal  atomic.Uint64
	stepJobsCompletedTotal atomic.Uint64
	stepJobsFailedTotal    atomic.Uint64
	stepJobsDroppedTotal   atomic.Uint64

	stepDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncVerificationStarted increments the started counter.
func IncVerificationStarted() {
	verificationStartedTotal.Add(1)
}

// IncVerificationCompleted increments the completed counter.
func IncVerificationCompleted() {
	verificationCompletedTotal.Add(1)
}

// IncVerificationResumed increments the reconciler resume counter.
func IncVerificationResumed() {
	verificationResumedTotal.Add(1)
}

// IncStepJobsReceived increments the worker received counter.
func IncStepJobsReceived() {
	stepJobsReceivedTotal.Add(1)
}

// IncStepJobsCompleted increments the worker completed counter.
func IncStepJobsCompleted() {
	stepJobsCompletedTotal.Add(1)
}

// IncStepJobsFailed increments the worker failed counter.
func IncStepJobsFailed() {
	stepJobsFailedTotal.Add(1)
}

// IncStepJobsDropped increments the counter for unrecoverable messages.
func IncStepJobsDropped() {
	stepJobsDroppedTotal.Add(1)
}

// ObserveStepDurationMs records one chain step's duration in milliseconds.
func ObserveStepDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	stepDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "verification_started_total", "Total verification runs started", verificationStartedTotal.Load())
	writeCounter(&buf, "verification_completed_total", "Total verification runs completed", verificationCompletedTotal.Load())
	writeCounter(&buf, "verification_resumed_total", "Total stalled runs resumed by the reconciler", verificationResumedTotal.Load())
	writeCounter(&buf, "verification_step_jobs_received_total", "Total step messages received", stepJobsReceivedTotal.Load())
	writeCounter(&buf, "verification_step_jobs_completed_total", "Total step messages processed", stepJobsCompletedTotal.Load())
	writeCounter(&buf, "verification_step_jobs_failed_total", "Total step messages failed", stepJobsFailedTotal.Load())
	writeCounter(&buf, "verification_step_jobs_dropped_total", "Total unrecoverable step messages dropped", stepJobsDroppedTotal.Load())
	writeHistogram(&buf, "verification_step_duration_ms", "Chain step duration in milliseconds", stepDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
