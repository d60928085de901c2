package regression

import (
	"context"
	"sync"
	"time"

	"github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"
	"github.com/dataqual/perfmon/utils"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Probe is the measured body of a benchmark. A returned error or a
// panic marks the whole run failed.
type Probe func(ctx context.Context) error

var benchmarkRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "perfmon_benchmark_runs_total",
	Help: "Total number of benchmark runs, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(benchmarkRuns)
}

type entry struct {
	bench *meta.Benchmark
	probe Probe
}

// Tester owns a static, name-unique catalog of benchmarks and runs
// them against their target times, persisting results to the doc
// store.
type Tester struct {
	db docdb.DocDB

	mu      sync.Mutex
	catalog map[string]*entry
	order   []string
}

func NewTester(db docdb.DocDB) *Tester {
	return &Tester{
		db:      db,
		catalog: make(map[string]*entry),
	}
}

// Register adds one benchmark to the catalog. Names are unique and a
// benchmark without iterations or a probe is rejected.
func (t *Tester) Register(bench *meta.Benchmark, probe Probe) error {
	if bench.Name == "" {
		return errors.New("benchmark name must not be empty")
	}
	if bench.Iterations <= 0 {
		return errors.Errorf("benchmark %q must have a positive iteration count", bench.Name)
	}
	if bench.TargetTime <= 0 {
		return errors.Errorf("benchmark %q must have a positive target time", bench.Name)
	}
	if probe == nil {
		return errors.Errorf("benchmark %q has no probe", bench.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.catalog[bench.Name]; ok {
		return errors.Errorf("benchmark %q is already registered", bench.Name)
	}
	t.catalog[bench.Name] = &entry{bench: bench, probe: probe}
	t.order = append(t.order, bench.Name)
	return nil
}

// Benchmarks lists the catalog in registration order.
func (t *Tester) Benchmarks() []*meta.Benchmark {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*meta.Benchmark, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.catalog[name].bench)
	}
	return out
}

// Run executes the selected benchmarks and persists their results.
// Empty names and tags select the whole catalog; otherwise a benchmark
// is selected when its name is listed or it carries any of the tags.
// A failing or panicking probe fails only its own benchmark.
func (t *Tester) Run(ctx context.Context, names, tags []string) ([]*meta.Result, error) {
	selected := t.selectEntries(names, tags)
	results := make([]*meta.Result, 0, len(selected))
	for _, e := range selected {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		result := t.runOne(ctx, e)
		results = append(results, result)

		outcome := "passed"
		if result.Error != "" {
			outcome = "error"
		} else if !result.Passed {
			outcome = "failed"
		}
		benchmarkRuns.WithLabelValues(outcome).Inc()

		if err := t.db.WriteBenchmarkResult(ctx, result); err != nil {
			log.Warn("failed to persist benchmark result, dropping it",
				zap.String("benchmark", result.BenchmarkName), zap.Error(err))
		}
	}
	return results, nil
}

func (t *Tester) selectEntries(names, tags []string) []*entry {
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var selected []*entry
	for _, name := range t.order {
		e := t.catalog[name]
		if len(names) == 0 && len(tags) == 0 {
			selected = append(selected, e)
			continue
		}
		if _, ok := nameSet[name]; ok {
			selected = append(selected, e)
			continue
		}
		for _, tag := range tags {
			if e.bench.HasTag(tag) {
				selected = append(selected, e)
				break
			}
		}
	}
	return selected
}

func (t *Tester) runOne(ctx context.Context, e *entry) *meta.Result {
	bench := e.bench
	result := &meta.Result{
		BenchmarkName: bench.Name,
		Timestamp:     time.Now().Unix(),
	}

	var samples []float64
	var err error
	if bench.Parallel {
		samples, err = runParallel(ctx, e)
	} else {
		samples, err = runSequential(ctx, e)
	}
	if err != nil {
		// Fail closed: no samples survive a failed run.
		result.Error = err.Error()
		result.SamplesMs = []float64{}
		log.Warn("benchmark failed",
			zap.String("benchmark", bench.Name), zap.Error(err))
		return result
	}

	result.SamplesMs = samples
	result.MeanMs = mean(samples)
	result.MedianMs = median(samples)
	result.MinMs, result.MaxMs = minMax(samples)
	result.StdevMs = populationStdev(samples)

	targetMs := float64(bench.TargetTime) / float64(time.Millisecond)
	result.PerformanceRatio = result.MeanMs / targetMs
	result.Passed = result.PerformanceRatio <= 1+bench.AcceptableVariancePct/100
	return result
}

func runSequential(ctx context.Context, e *entry) ([]float64, error) {
	samples := make([]float64, 0, e.bench.Iterations)
	for i := 0; i < e.bench.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		elapsed, err := timeProbe(ctx, e.probe)
		if err != nil {
			return nil, err
		}
		samples = append(samples, elapsed)
	}
	return samples, nil
}

// runParallel runs the iterations concurrently under a bounded worker
// pool so a parallel probe does not skew its own timings through
// unbounded contention.
func runParallel(ctx context.Context, e *entry) ([]float64, error) {
	workers := config.GetGlobalConfig().Regression.WorkerCount
	sem := make(chan struct{}, workers)

	var mu sync.Mutex
	samples := make([]float64, 0, e.bench.Iterations)
	var firstErr error

	var wg sync.WaitGroup
	for i := 0; i < e.bench.Iterations; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go utils.GoWithRecovery(func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			elapsed, err := timeProbe(ctx, e.probe)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			samples = append(samples, elapsed)
		}, nil)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return samples, nil
}

// timeProbe measures one probe execution on the monotonic clock and
// converts a panic into an error.
func timeProbe(ctx context.Context, probe Probe) (elapsedMs float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("probe panicked: %v", r)
		}
	}()
	start := time.Now()
	if err = probe(ctx); err != nil {
		return 0, err
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}
