package regression_test

import (
	"context"
	"testing"
	"time"

	"github.com/dataqual/perfmon/component/regression"
	"github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/utils/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	opts := []goleak.Option{
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
	}

	goleak.VerifyTestMain(m, opts...)
}

func noopProbe(ctx context.Context) error {
	return nil
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	bench := &meta.Benchmark{Name: "b1", TargetTime: 50 * time.Millisecond, Iterations: 5}
	require.NoError(t, tester.Register(bench, noopProbe))

	// Names are unique.
	err := tester.Register(bench, noopProbe)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")

	require.Error(t, tester.Register(&meta.Benchmark{
		Name: "b2", TargetTime: 50 * time.Millisecond, Iterations: 0,
	}, noopProbe))
	require.Error(t, tester.Register(&meta.Benchmark{
		Name: "b3", TargetTime: 50 * time.Millisecond, Iterations: 5,
	}, nil))
	require.Error(t, tester.Register(&meta.Benchmark{
		Name: "", TargetTime: 50 * time.Millisecond, Iterations: 5,
	}, noopProbe))

	require.Len(t, tester.Benchmarks(), 1)
}

func TestRunFastProbePasses(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	require.NoError(t, tester.Register(&meta.Benchmark{
		Name:                  "sleepy",
		TargetTime:            50 * time.Millisecond,
		AcceptableVariancePct: 10,
		Iterations:            3,
	}, func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}))

	results, err := tester.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	require.True(t, result.Passed)
	require.Empty(t, result.Error)
	require.Len(t, result.SamplesMs, 3)
	require.InDelta(t, 0.2, result.PerformanceRatio, 0.3)
	require.GreaterOrEqual(t, result.MaxMs, result.MedianMs)
	require.GreaterOrEqual(t, result.MedianMs, result.MinMs)

	// Results are persisted as part of the run.
	var persisted int
	require.NoError(t, db.QueryBenchmarkResultsSince(context.Background(), 0, func(*meta.Result) error {
		persisted++
		return nil
	}))
	require.Equal(t, 1, persisted)
}

func TestRunPanicIsIsolated(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	require.NoError(t, tester.Register(&meta.Benchmark{
		Name: "boom", TargetTime: 50 * time.Millisecond, Iterations: 3,
	}, func(ctx context.Context) error {
		panic("probe exploded")
	}))
	require.NoError(t, tester.Register(&meta.Benchmark{
		Name: "steady", TargetTime: 50 * time.Millisecond, AcceptableVariancePct: 10, Iterations: 3,
	}, noopProbe))

	results, err := tester.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	failed := results[0]
	require.Equal(t, "boom", failed.BenchmarkName)
	require.False(t, failed.Passed)
	require.Empty(t, failed.SamplesMs)
	require.Contains(t, failed.Error, "probe exploded")

	require.True(t, results[1].Passed)
}

func TestRunParallelBenchmark(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	require.NoError(t, tester.Register(&meta.Benchmark{
		Name:                  "concurrent",
		TargetTime:            100 * time.Millisecond,
		AcceptableVariancePct: 10,
		Iterations:            8,
		Parallel:              true,
	}, func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	}))

	results, err := tester.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Passed)
	require.Len(t, results[0].SamplesMs, 8)
}

func TestRunFilters(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	register := func(name string, tags ...string) {
		require.NoError(t, tester.Register(&meta.Benchmark{
			Name: name, TargetTime: 50 * time.Millisecond, AcceptableVariancePct: 10,
			Iterations: 1, Tags: tags,
		}, noopProbe))
	}
	register("a", "core")
	register("b", "store")
	register("c", "core", "store")

	results, err := tester.Run(context.Background(), nil, []string{"core"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].BenchmarkName)
	require.Equal(t, "c", results[1].BenchmarkName)

	results, err = tester.Run(context.Background(), []string{"b"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].BenchmarkName)
}

func TestCompareDeadBand(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	baseline := map[string]*meta.Result{
		"regressed": {BenchmarkName: "regressed", MeanMs: 100},
		"stable":    {BenchmarkName: "stable", MeanMs: 100},
		"improved":  {BenchmarkName: "improved", MeanMs: 100},
		"broken":    {BenchmarkName: "broken", MeanMs: 100},
	}
	current := []*meta.Result{
		{BenchmarkName: "regressed", MeanMs: 115},
		{BenchmarkName: "stable", MeanMs: 105},
		{BenchmarkName: "improved", MeanMs: 85},
		{BenchmarkName: "broken", MeanMs: 0, Error: "probe failed"},
		{BenchmarkName: "unmatched", MeanMs: 500},
	}

	comparisons := tester.Compare(current, baseline)
	require.Len(t, comparisons, 2)

	require.Equal(t, "regressed", comparisons[0].BenchmarkName)
	require.Equal(t, meta.VerdictRegression, comparisons[0].Verdict)
	require.InDelta(t, 15.0, comparisons[0].ChangePct, 1e-9)

	require.Equal(t, "improved", comparisons[1].BenchmarkName)
	require.Equal(t, meta.VerdictImprovement, comparisons[1].Verdict)
	require.InDelta(t, -15.0, comparisons[1].ChangePct, 1e-9)
}

func TestSetBaselineAndCompare(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	require.NoError(t, tester.SetBaseline(context.Background(), []*meta.Result{
		{BenchmarkName: "roundtrip", MeanMs: 100, Passed: true},
	}))

	comparisons, err := tester.CompareWithBaseline(context.Background(), []*meta.Result{
		{BenchmarkName: "roundtrip", MeanMs: 150},
	})
	require.NoError(t, err)
	require.Len(t, comparisons, 1)
	require.Equal(t, meta.VerdictRegression, comparisons[0].Verdict)
	require.Equal(t, 100.0, comparisons[0].BaselineMeanMs)
	require.Equal(t, 150.0, comparisons[0].CurrentMeanMs)
}

func TestBuiltinCatalog(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	tester := regression.NewTester(db)

	require.NoError(t, regression.RegisterBuiltin(tester, db, "core"))
	benchmarks := tester.Benchmarks()
	require.NotEmpty(t, benchmarks)
	for _, b := range benchmarks {
		require.True(t, b.HasTag("core"), b.Name)
	}

	results, err := tester.Run(context.Background(), nil, []string{"core"})
	require.NoError(t, err)
	require.Len(t, results, len(benchmarks))
	for _, r := range results {
		require.Empty(t, r.Error, r.BenchmarkName)
	}
}
