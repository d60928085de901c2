package optimizer_test

import (
	"context"
	"testing"
	"time"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/optimizer/meta"
	"github.com/dataqual/perfmon/utils/testutil"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	opts := []goleak.Option{
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
	}

	goleak.VerifyTestMain(m, opts...)
}

type fixedSummary struct {
	summary *monitormeta.Summary
}

func (f fixedSummary) GetSummary(ctx context.Context, hours float64) *monitormeta.Summary {
	return f.summary
}

type fakeQueryExecutor struct {
	calls int
	err   error
}

func (e *fakeQueryExecutor) CreateIndex(ctx context.Context, table string, columns []string) error {
	e.calls++
	return e.err
}

func healthySummary() *monitormeta.Summary {
	return &monitormeta.Summary{
		SampleCount:     10,
		AvgQueryTimeMs:  50,
		AvgCacheHitRate: 95,
		AvgCPUPercent:   40,
		AvgMemoryMB:     256,
		AvgHealthScore:  95,
	}
}

func TestIdentifyBottlenecksOnlyBreached(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	o := optimizer.NewOptimizer(db, nil)

	require.Empty(t, o.IdentifyBottlenecks(healthySummary()))

	summary := healthySummary()
	summary.AvgQueryTimeMs = 300   // 3x target
	summary.AvgCPUPercent = 120    // 1.5x target
	summary.AvgCacheHitRate = 85   // below 90
	bottlenecks := o.IdentifyBottlenecks(summary)
	require.Len(t, bottlenecks, 3)

	// Sorted worst first, and never a within-target dimension.
	require.Equal(t, meta.DimensionQuery, bottlenecks[0].Dimension)
	require.Equal(t, meta.DimensionCPU, bottlenecks[1].Dimension)
	require.Equal(t, meta.DimensionCache, bottlenecks[2].Dimension)
	for i := 1; i < len(bottlenecks); i++ {
		require.GreaterOrEqual(t, bottlenecks[i-1].ImpactScore, bottlenecks[i].ImpactScore)
	}
}

func TestIdentifyBottlenecksTieBreak(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	o := optimizer.NewOptimizer(db, nil)

	// Both dimensions exactly 2x over target; query wins the tie.
	summary := healthySummary()
	summary.AvgQueryTimeMs = 200
	summary.AvgCPUPercent = 160
	bottlenecks := o.IdentifyBottlenecks(summary)
	require.Len(t, bottlenecks, 2)
	require.Equal(t, bottlenecks[0].ImpactScore, bottlenecks[1].ImpactScore)
	require.Equal(t, meta.DimensionQuery, bottlenecks[0].Dimension)
	require.Equal(t, meta.DimensionCPU, bottlenecks[1].Dimension)
}

func TestGenerateRecommendationsMapping(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	o := optimizer.NewOptimizer(db, nil)

	summary := healthySummary()
	summary.AvgQueryTimeMs = 200
	recs := o.GenerateRecommendations(o.IdentifyBottlenecks(summary), summary)
	require.Len(t, recs, 2)

	require.Equal(t, meta.TypeIndex, recs[0].Type)
	require.True(t, recs[0].AutoImplementable)
	require.IsType(t, meta.IndexParams{}, recs[0].Params)

	require.Equal(t, meta.TypeQuery, recs[1].Type)
	require.False(t, recs[1].AutoImplementable)
	require.Equal(t, meta.ComplexityComplex, recs[1].Complexity)
}

func TestGenerateRecommendationsProactive(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	o := optimizer.NewOptimizer(db, nil)

	recs := o.GenerateRecommendations(nil, healthySummary())
	require.Len(t, recs, 1)
	require.Equal(t, meta.PriorityLow, recs[0].Priority)
	require.False(t, recs[0].AutoImplementable)

	// A merely adequate score gets nothing.
	summary := healthySummary()
	summary.AvgHealthScore = 85
	require.Empty(t, o.GenerateRecommendations(nil, summary))
}

func TestAnalyzeAndOptimizeFailureIsolated(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()

	summary := healthySummary()
	summary.AvgQueryTimeMs = 200
	exec := &fakeQueryExecutor{err: errors.New("index creation refused")}
	o := optimizer.NewOptimizer(db, fixedSummary{summary}, optimizer.WithQueryExecutor(exec))

	recs, err := o.AnalyzeAndOptimize(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, 1, exec.calls)

	var records []*meta.Record
	queryErr := db.QueryOptimizationRecordsSince(context.Background(), 0, func(r *meta.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, queryErr)
	require.Len(t, records, 1)
	require.False(t, records[0].Success)
	require.Equal(t, "index creation refused", records[0].Error)
	require.Equal(t, meta.TypeIndex, records[0].Type)
}

func TestAnalyzeAndOptimizeMissingCollaboratorSkips(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()

	summary := healthySummary()
	summary.AvgQueryTimeMs = 200
	o := optimizer.NewOptimizer(db, fixedSummary{summary})

	recs, err := o.AnalyzeAndOptimize(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	err = db.QueryOptimizationRecordsSince(context.Background(), 0, func(*meta.Record) error {
		t.Fatal("skipped family must not leave records")
		return nil
	})
	require.NoError(t, err)
}

func TestAnalyzeAndOptimizeCompactsStore(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()

	summary := healthySummary()
	summary.AvgMemoryMB = 4096
	o := optimizer.NewOptimizer(db, fixedSummary{summary})

	recs, err := o.AnalyzeAndOptimize(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var records []*meta.Record
	queryErr := db.QueryOptimizationRecordsSince(context.Background(), 0, func(r *meta.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, queryErr)
	require.Len(t, records, 1)
	require.True(t, records[0].Success)
	require.Equal(t, meta.TypeResource, records[0].Type)
	require.GreaterOrEqual(t, records[0].ImplementationTimeMs, 0.0)
}

func TestEffectiveness(t *testing.T) {
	db := testutil.NewSQLiteDocDB(t)
	defer db.Close()
	o := optimizer.NewOptimizer(db, nil)

	now := time.Now().Unix()
	for _, rec := range []*meta.Record{
		{Timestamp: now, Type: meta.TypeIndex, Success: true, EstimatedImprovementPct: 40},
		{Timestamp: now, Type: meta.TypeIndex, Success: false},
		{Timestamp: now, Type: meta.TypeResource, Success: true, EstimatedImprovementPct: 20},
	} {
		require.NoError(t, db.WriteOptimizationRecord(context.Background(), rec))
	}

	effs, err := o.Effectiveness(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, effs, 2)

	byType := make(map[meta.RecommendationType]*meta.Effectiveness)
	for _, eff := range effs {
		byType[eff.Type] = eff
	}
	require.Equal(t, int64(2), byType[meta.TypeIndex].Total)
	require.Equal(t, 0.5, byType[meta.TypeIndex].SuccessRate)
	require.Equal(t, 40.0, byType[meta.TypeIndex].EstimatedImprovement)
	require.Equal(t, 1.0, byType[meta.TypeResource].SuccessRate)
}
