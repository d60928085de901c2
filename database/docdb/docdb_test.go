package docdb_test

import (
	"context"
	"testing"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	optimizermeta "github.com/dataqual/perfmon/component/optimizer/meta"
	regressionmeta "github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/database/docdb"
	"github.com/dataqual/perfmon/utils/testutil"

	"github.com/stretchr/testify/require"
)

// runBothEngines runs one conformance test against every storage
// engine, since callers must observe identical semantics.
func runBothEngines(t *testing.T, test func(t *testing.T, db docdb.DocDB)) {
	t.Run("sqlite", func(t *testing.T) {
		db := testutil.NewSQLiteDocDB(t)
		defer db.Close()
		test(t, db)
	})
	t.Run("genji", func(t *testing.T) {
		db := testutil.NewGenjiDocDB(t)
		defer db.Close()
		test(t, db)
	})
}

func TestConfigRoundtrip(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		loaded, err := db.LoadConfig(ctx)
		require.NoError(t, err)
		require.Empty(t, loaded)

		require.NoError(t, db.SaveConfig(ctx, map[string]string{"target": `{"a":1}`}))
		loaded, err = db.LoadConfig(ctx)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"target": `{"a":1}`}, loaded)

		// SaveConfig replaces the whole map.
		require.NoError(t, db.SaveConfig(ctx, map[string]string{"target": `{"a":2}`}))
		loaded, err = db.LoadConfig(ctx)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"target": `{"a":2}`}, loaded)
	})
}

func TestMetricSampleOrdering(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		for _, ts := range []int64{30, 10, 20} {
			sample := &monitormeta.MetricSample{Timestamp: ts, HealthScore: float64(ts)}
			require.NoError(t, db.WriteMetricSample(ctx, sample))
			require.NotZero(t, sample.ID)
		}

		// The since bound is inclusive and results come back ascending.
		var got []int64
		require.NoError(t, db.QueryMetricSamplesSince(ctx, 20, func(s *monitormeta.MetricSample) error {
			got = append(got, s.Timestamp)
			return nil
		}))
		require.Equal(t, []int64{20, 30}, got)
	})
}

func TestMetricSamplePruneBoundary(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		for _, ts := range []int64{10, 20, 30} {
			require.NoError(t, db.WriteMetricSample(ctx, &monitormeta.MetricSample{Timestamp: ts}))
		}

		// Exactly the rows with ts < 20 go away; ts == 20 survives.
		deleted, err := db.DeleteMetricSamplesBefore(ctx, 20)
		require.NoError(t, err)
		require.Equal(t, int64(1), deleted)

		var remaining []int64
		require.NoError(t, db.QueryMetricSamplesSince(ctx, 0, func(s *monitormeta.MetricSample) error {
			remaining = append(remaining, s.Timestamp)
			return nil
		}))
		require.Equal(t, []int64{20, 30}, remaining)

		deleted, err = db.DeleteMetricSamplesBefore(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, int64(2), deleted)
	})
}

func TestAlertLifecycle(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		high := &monitormeta.Alert{Type: "memory", Severity: monitormeta.SeverityHigh, Message: "m", Timestamp: 10}
		medium := &monitormeta.Alert{Type: "cpu", Severity: monitormeta.SeverityMedium, Message: "c", Timestamp: 20}
		require.NoError(t, db.WriteAlert(ctx, high))
		require.NoError(t, db.WriteAlert(ctx, medium))

		total, highCount, err := db.CountOpenAlerts(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), total)
		require.Equal(t, int64(1), highCount)

		require.NoError(t, db.ResolveAlert(ctx, high.ID))
		total, highCount, err = db.CountOpenAlerts(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
		require.Equal(t, int64(0), highCount)

		// Pruning is boundary exact and only touches resolved alerts.
		deleted, err := db.DeleteResolvedAlertsBefore(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, int64(0), deleted)
		deleted, err = db.DeleteResolvedAlertsBefore(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, int64(1), deleted)

		var left []*monitormeta.Alert
		require.NoError(t, db.QueryAlertsSince(ctx, 0, func(a *monitormeta.Alert) error {
			left = append(left, a)
			return nil
		}))
		require.Len(t, left, 1)
		require.Equal(t, "cpu", left[0].Type)
		require.False(t, left[0].Resolved)
	})
}

func TestOptimizationRecordRoundtrip(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		record := &optimizermeta.Record{
			Timestamp:               42,
			Type:                    optimizermeta.TypeIndex,
			Priority:                optimizermeta.PriorityHigh,
			Description:             "create covering index",
			EstimatedImprovementPct: 40,
			Success:                 true,
			ActualImprovementPct:    35,
			ImplementationTimeMs:    12.5,
			Details:                 `{"table":"metric_samples"}`,
		}
		require.NoError(t, db.WriteOptimizationRecord(ctx, record))

		var got []*optimizermeta.Record
		require.NoError(t, db.QueryOptimizationRecordsSince(ctx, 0, func(r *optimizermeta.Record) error {
			got = append(got, r)
			return nil
		}))
		require.Len(t, got, 1)
		require.Equal(t, record.Type, got[0].Type)
		require.Equal(t, record.Priority, got[0].Priority)
		require.Equal(t, record.Details, got[0].Details)
		require.True(t, got[0].Success)
	})
}

func TestBenchmarkResultRoundtrip(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		result := &regressionmeta.Result{
			BenchmarkName:    "store_sample_scan",
			SamplesMs:        []float64{1.5, 2.5, 3.5},
			MeanMs:           2.5,
			MedianMs:         2.5,
			MinMs:            1.5,
			MaxMs:            3.5,
			StdevMs:          0.8,
			PerformanceRatio: 0.025,
			Passed:           true,
			Timestamp:        42,
		}
		require.NoError(t, db.WriteBenchmarkResult(ctx, result))

		var got []*regressionmeta.Result
		require.NoError(t, db.QueryBenchmarkResultsSince(ctx, 0, func(r *regressionmeta.Result) error {
			got = append(got, r)
			return nil
		}))
		require.Len(t, got, 1)
		require.Equal(t, result.BenchmarkName, got[0].BenchmarkName)
		require.Equal(t, result.SamplesMs, got[0].SamplesMs)
		require.True(t, got[0].Passed)
	})
}

func TestBaselineSnapshot(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		baseline, err := db.LoadBaseline(ctx)
		require.NoError(t, err)
		require.Empty(t, baseline)

		require.NoError(t, db.SaveBaseline(ctx, []*regressionmeta.Result{
			{BenchmarkName: "a", MeanMs: 10},
			{BenchmarkName: "b", MeanMs: 20},
		}))
		baseline, err = db.LoadBaseline(ctx)
		require.NoError(t, err)
		require.Len(t, baseline, 2)
		require.Equal(t, 10.0, baseline["a"].MeanMs)

		// A new snapshot fully replaces the old one.
		require.NoError(t, db.SaveBaseline(ctx, []*regressionmeta.Result{
			{BenchmarkName: "c", MeanMs: 30},
		}))
		baseline, err = db.LoadBaseline(ctx)
		require.NoError(t, err)
		require.Len(t, baseline, 1)
		require.Equal(t, 30.0, baseline["c"].MeanMs)
	})
}

func TestCompact(t *testing.T) {
	runBothEngines(t, func(t *testing.T, db docdb.DocDB) {
		ctx := context.Background()
		require.NoError(t, db.WriteMetricSample(ctx, &monitormeta.MetricSample{Timestamp: 1}))
		_, err := db.DeleteMetricSamplesBefore(ctx, 100)
		require.NoError(t, err)
		require.NoError(t, db.Compact(ctx))
	})
}
