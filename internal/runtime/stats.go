package runtime

import (
	"context"
	"errors"
	"math"
	goruntime "runtime"
	"runtime/metrics"
	"sort"
	"sync"
	"time"

	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory groups invocation failures for the stats endpoint.
type ErrorCategory string

const (
	ErrorCategoryNone     ErrorCategory = "none"
	ErrorCategoryPreHook  ErrorCategory = "pre_hook"
	ErrorCategoryHandler  ErrorCategory = "handler"
	ErrorCategoryPostHook ErrorCategory = "post_hook"
	ErrorCategoryTimeout  ErrorCategory = "timeout"
)

// ErrorClassifier maps an invocation error to a category.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var hookErr *HookError
	if errors.As(err, &hookErr) {
		if hookErr.Phase == PhasePreHooks {
			return ErrorCategoryPreHook
		}
		// A post-hook failure joined with a handler error counts as handler.
		if len(unwrapAll(err)) > 1 {
			return ErrorCategoryHandler
		}
		return ErrorCategoryPostHook
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	return ErrorCategoryHandler
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// InvocationStats aggregates the outcome of every invocation of the function.
type InvocationStats struct {
	mu sync.Mutex

	Invocations     uint64    `json:"invocations"`
	Failures        uint64    `json:"failures"`
	TotalDurationNs int64     `json:"total_duration_ns"`
	LastInvokedAt   time.Time `json:"last_invoked_at"`
	InFlight        uint64    `json:"in_flight"`
	MaxInFlight     uint64    `json:"max_in_flight"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	classifier ErrorClassifier
	latency    *latencyWindow
	throughput *throughputWindow
	resources  *resourceTracker
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
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	InWindow      uint64  `json:"in_window"`
}

type ErrorBreakdown struct {
	PreHook   uint64 `json:"pre_hook"`
	Handler   uint64 `json:"handler"`
	PostHook  uint64 `json:"post_hook"`
	Timeout   uint64 `json:"timeout"`
	LastError string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// NewInvocationStats creates empty stats. A nil classifier uses the default.
func NewInvocationStats(classifier ErrorClassifier) *InvocationStats {
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	return &InvocationStats{
		classifier: classifier,
		latency:    newLatencyWindow(latencySampleSize),
		throughput: &throughputWindow{horizon: throughputWindowSize},
		resources:  newResourceTracker(),
	}
}

// Hooks returns lifecycle hooks feeding these stats.
func (s *InvocationStats) Hooks() InvocationHooks {
	return InvocationHooks{
		OnStart: func(InvocationInfo) { s.start() },
		OnDone:  func(info InvocationInfo) { s.finish(info.Duration, nil) },
		OnError: func(info InvocationInfo, err error) { s.finish(info.Duration, err) },
	}
}

func (s *InvocationStats) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InFlight++
	if s.InFlight > s.MaxInFlight {
		s.MaxInFlight = s.InFlight
	}
}

func (s *InvocationStats) finish(d time.Duration, err error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InFlight > 0 {
		s.InFlight--
	}
	s.Invocations++
	s.TotalDurationNs += int64(d)
	s.LastInvokedAt = now.UTC()

	s.latency.add(d)
	s.Latency = s.latency.snapshot()
	s.Latency.AverageNs = s.TotalDurationNs / int64(s.Invocations)

	s.Throughput = s.throughput.record(now)

	if err != nil {
		s.Failures++
		s.Errors.record(s.classifier(err), err)
	}
	s.Resource = s.resources.snapshot()
}

// MarshalJSON encodes a consistent snapshot.
func (s *InvocationStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type alias InvocationStats
	return jsoncodec.Marshal((*alias)(s))
}

func (e *ErrorBreakdown) record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		return
	case ErrorCategoryPreHook:
		e.PreHook++
	case ErrorCategoryPostHook:
		e.PostHook++
	case ErrorCategoryTimeout:
		e.Timeout++
	default:
		e.Handler++
	}
	e.LastError = err.Error()
}

// latencyWindow is a ring of the most recent durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]int64, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = int64(d)
	w.last = int64(d)
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

func (w *latencyWindow) snapshot() LatencyMetrics {
	m := LatencyMetrics{LastNs: w.last, SampleSize: w.filled}
	if w.filled == 0 {
		return m
	}
	sorted := append([]int64(nil), w.samples[:w.filled]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	m.P50Ns = percentile(sorted, 0.50)
	m.P95Ns = percentile(sorted, 0.95)
	m.P99Ns = percentile(sorted, 0.99)
	return m
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

func (w *throughputWindow) record(now time.Time) ThroughputMetrics {
	w.samples = append(w.samples, now)
	cutoff := now.Add(-w.horizon)
	drop := sort.Search(len(w.samples), func(i int) bool { return !w.samples[i].Before(cutoff) })
	w.samples = w.samples[drop:]

	span := now.Sub(w.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return ThroughputMetrics{
		CurrentRPS:    float64(len(w.samples)) / span.Seconds(),
		WindowSeconds: span.Seconds(),
		InWindow:      uint64(len(w.samples)),
	}
}

// resourceTracker samples process CPU and memory for the stats snapshot.
type resourceTracker struct {
	sample     []metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		sample: []metrics.Sample{{Name: "/cpu/classes/user:cpu-seconds"}},
		numCPU: float64(goruntime.NumCPU()),
	}
}

func (r *resourceTracker) snapshot() ResourceUsage {
	metrics.Read(r.sample)
	now := time.Now()

	var usage ResourceUsage
	if r.sample[0].Value.Kind() == metrics.KindFloat64 {
		cpu := r.sample[0].Value.Float64()
		if wall := now.Sub(r.lastSample).Seconds(); !r.lastSample.IsZero() && wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
		}
		r.lastCPU = cpu
	}
	r.lastSample = now

	var mem goruntime.MemStats
	goruntime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = goruntime.NumGoroutine()
	return usage
}
