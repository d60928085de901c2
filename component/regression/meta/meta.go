package meta

import "time"

// Benchmark is a static catalog entry describing a repeatable
// performance probe.
type Benchmark struct {
	Name                  string        `json:"name"`
	Description           string        `json:"description"`
	TargetTime            time.Duration `json:"target_time"`
	AcceptableVariancePct float64       `json:"acceptable_variance_pct"`
	Iterations            int           `json:"iterations"`
	Tags                  []string      `json:"tags"`
	// Parallel opts this benchmark's iterations into concurrent
	// execution. Concurrency is opt-in because some probes are unsafe
	// to race.
	Parallel bool `json:"parallel"`
}

// HasTag reports whether the benchmark carries the given tag.
func (b *Benchmark) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Result is the outcome of one benchmark run. A failed run keeps zero
// samples and a non-empty error message.
type Result struct {
	ID               int64     `json:"id"`
	BenchmarkName    string    `json:"benchmark_name"`
	SamplesMs        []float64 `json:"samples_ms"`
	MeanMs           float64   `json:"mean_ms"`
	MedianMs         float64   `json:"median_ms"`
	MinMs            float64   `json:"min_ms"`
	MaxMs            float64   `json:"max_ms"`
	StdevMs          float64   `json:"stdev_ms"`
	PerformanceRatio float64   `json:"performance_ratio"`
	Passed           bool      `json:"passed"`
	Timestamp        int64     `json:"timestamp"`
	Error            string    `json:"error"`
}

type Verdict string

const (
	VerdictRegression  Verdict = "regression"
	VerdictImprovement Verdict = "improvement"
)

// Comparison reports one benchmark whose current mean left the
// dead-band around the baseline mean. Stable benchmarks are unreported.
type Comparison struct {
	BenchmarkName  string  `json:"benchmark_name"`
	BaselineMeanMs float64 `json:"baseline_mean_ms"`
	CurrentMeanMs  float64 `json:"current_mean_ms"`
	ChangePct      float64 `json:"change_pct"`
	Verdict        Verdict `json:"verdict"`
}
