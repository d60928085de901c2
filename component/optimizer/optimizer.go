package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/component/optimizer/meta"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// SummaryProvider feeds the optimizer with aggregated monitoring data.
// It is implemented by the performance monitor.
type SummaryProvider interface {
	GetSummary(ctx context.Context, hours float64) *monitormeta.Summary
}

// Optimizer turns monitor summaries into ranked bottlenecks and typed
// recommendations, and can execute the auto-implementable ones. Every
// execution attempt leaves an audit record in the doc store.
type Optimizer struct {
	db        docdb.DocDB
	summaries SummaryProvider
	queryExec QueryExecutor
	cacheCtl  CacheController
}

// Option wires an optional collaborator into an Optimizer. A missing
// collaborator skips its recommendation family at execution time.
type Option func(*Optimizer)

func WithQueryExecutor(e QueryExecutor) Option {
	return func(o *Optimizer) { o.queryExec = e }
}

func WithCacheController(c CacheController) Option {
	return func(o *Optimizer) { o.cacheCtl = c }
}

func NewOptimizer(db docdb.DocDB, summaries SummaryProvider, opts ...Option) *Optimizer {
	o := &Optimizer{db: db, summaries: summaries}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IdentifyBottlenecks ranks the dimensions of a summary that exceed
// their configured target, worst first. Time-like dimensions score as
// current/target, rate-like ones as a scaled target gap, so a 2x query
// slowdown and a 2x cpu overshoot compare sensibly. Ties keep the
// dimension declaration order.
func (o *Optimizer) IdentifyBottlenecks(summary *monitormeta.Summary) []meta.Bottleneck {
	target := config.GetGlobalConfig().Target
	var bottlenecks []meta.Bottleneck

	if summary.SampleCount > 0 && summary.AvgQueryTimeMs > target.MaxQueryTimeMs {
		bottlenecks = append(bottlenecks, meta.Bottleneck{
			Dimension:   meta.DimensionQuery,
			Current:     summary.AvgQueryTimeMs,
			Target:      target.MaxQueryTimeMs,
			ImpactScore: summary.AvgQueryTimeMs / target.MaxQueryTimeMs,
		})
	}
	if summary.SampleCount > 0 && summary.AvgCacheHitRate < target.TargetCacheHitRate {
		bottlenecks = append(bottlenecks, meta.Bottleneck{
			Dimension:   meta.DimensionCache,
			Current:     summary.AvgCacheHitRate,
			Target:      target.TargetCacheHitRate,
			ImpactScore: 1 + (target.TargetCacheHitRate-summary.AvgCacheHitRate)/100,
		})
	}
	if summary.AvgCPUPercent > target.MaxCPUPercent {
		bottlenecks = append(bottlenecks, meta.Bottleneck{
			Dimension:   meta.DimensionCPU,
			Current:     summary.AvgCPUPercent,
			Target:      target.MaxCPUPercent,
			ImpactScore: summary.AvgCPUPercent / target.MaxCPUPercent,
		})
	}
	if target.MaxMemoryMB > 0 && summary.AvgMemoryMB > target.MaxMemoryMB {
		bottlenecks = append(bottlenecks, meta.Bottleneck{
			Dimension:   meta.DimensionMemory,
			Current:     summary.AvgMemoryMB,
			Target:      target.MaxMemoryMB,
			ImpactScore: summary.AvgMemoryMB / target.MaxMemoryMB,
		})
	}

	sort.SliceStable(bottlenecks, func(i, j int) bool {
		return bottlenecks[i].ImpactScore > bottlenecks[j].ImpactScore
	})
	return bottlenecks
}

// GenerateRecommendations maps bottlenecks onto typed recommendation
// templates. With no bottlenecks and a health score above the
// configured proactive threshold it emits low priority housekeeping
// recommendations that document the healthy baseline.
func (o *Optimizer) GenerateRecommendations(bottlenecks []meta.Bottleneck, summary *monitormeta.Summary) []*meta.Recommendation {
	cfg := config.GetGlobalConfig()
	var recs []*meta.Recommendation

	for _, b := range bottlenecks {
		switch b.Dimension {
		case meta.DimensionQuery:
			recs = append(recs, &meta.Recommendation{
				Type:                    meta.TypeIndex,
				Priority:                meta.PriorityHigh,
				Description:             fmt.Sprintf("create covering index, average query time %.1fms is %.1fx target", b.Current, b.ImpactScore),
				EstimatedImprovementPct: 40,
				Complexity:              meta.ComplexitySimple,
				AutoImplementable:       true,
				Params:                  meta.IndexParams{Table: "metric_samples", Columns: []string{"timestamp"}},
			}, &meta.Recommendation{
				Type:                    meta.TypeQuery,
				Priority:                meta.PriorityHigh,
				Description:             fmt.Sprintf("rewrite slow queries, %d exceeded the target in the last window", summary.SampleCount),
				EstimatedImprovementPct: 30,
				Complexity:              meta.ComplexityComplex,
				AutoImplementable:       false,
				Params:                  meta.QueryRewriteParams{SlowQueryCount: summary.SampleCount, AvgTimeMs: b.Current},
			})
		case meta.DimensionCache:
			recs = append(recs, &meta.Recommendation{
				Type:                    meta.TypeCache,
				Priority:                meta.PriorityMedium,
				Description:             fmt.Sprintf("raise cache hit rate from %.1f%% toward %.1f%%", b.Current, b.Target),
				EstimatedImprovementPct: 25,
				Complexity:              meta.ComplexitySimple,
				AutoImplementable:       true,
				Params:                  meta.CacheParams{CurrentHitRate: b.Current, TargetHitRate: b.Target},
			})
		case meta.DimensionCPU:
			recs = append(recs, &meta.Recommendation{
				Type:                    meta.TypeResource,
				Priority:                meta.PriorityMedium,
				Description:             fmt.Sprintf("compact the store to reduce background load, cpu at %.1f%%", b.Current),
				EstimatedImprovementPct: 15,
				Complexity:              meta.ComplexityModerate,
				AutoImplementable:       true,
				Params:                  meta.ResourceParams{Operation: "compact", CPUPercent: b.Current},
			}, &meta.Recommendation{
				Type:                    meta.TypeConfig,
				Priority:                meta.PriorityMedium,
				Description:             "lower background worker concurrency",
				EstimatedImprovementPct: 10,
				Complexity:              meta.ComplexityModerate,
				AutoImplementable:       false,
				Params:                  meta.ConfigParams{Key: "regression.worker-count", Value: "2"},
			})
		case meta.DimensionMemory:
			recs = append(recs, &meta.Recommendation{
				Type:                    meta.TypeResource,
				Priority:                meta.PriorityHigh,
				Description:             fmt.Sprintf("compact the store to reclaim memory, usage at %.1fMB", b.Current),
				EstimatedImprovementPct: 20,
				Complexity:              meta.ComplexityModerate,
				AutoImplementable:       true,
				Params:                  meta.ResourceParams{Operation: "compact", MemoryMB: b.Current},
			})
		}
	}

	if len(recs) == 0 && summary.AvgHealthScore > cfg.Optimizer.ProactiveHealthScore {
		recs = append(recs, &meta.Recommendation{
			Type:                    meta.TypeConfig,
			Priority:                meta.PriorityLow,
			Description:             fmt.Sprintf("system healthy (score %.1f), record current targets as baseline", summary.AvgHealthScore),
			EstimatedImprovementPct: 0,
			Complexity:              meta.ComplexitySimple,
			AutoImplementable:       false,
			Params:                  meta.ConfigParams{Key: "target", Value: "baseline"},
		})
	}
	return recs
}

// AnalyzeAndOptimize runs one full analysis pass over the last hour of
// samples. With autoImplement set it executes every auto-implementable
// recommendation, timing each one and always writing an audit record;
// a failing recommendation never aborts the batch. The full
// recommendation list is returned regardless of execution outcomes.
func (o *Optimizer) AnalyzeAndOptimize(ctx context.Context, autoImplement bool) ([]*meta.Recommendation, error) {
	summary := o.summaries.GetSummary(ctx, 1)
	bottlenecks := o.IdentifyBottlenecks(summary)
	recs := o.GenerateRecommendations(bottlenecks, summary)
	if !autoImplement {
		return recs, nil
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			// A cancelled batch stops cleanly between recommendations.
			break
		}
		if !rec.AutoImplementable {
			continue
		}

		start := time.Now()
		skipped, err := o.execute(ctx, rec)
		if skipped {
			log.Info("skipping recommendation, collaborator not wired",
				zap.String("type", string(rec.Type)))
			continue
		}

		record := &meta.Record{
			Timestamp:               time.Now().Unix(),
			Type:                    rec.Type,
			Priority:                rec.Priority,
			Description:             rec.Description,
			EstimatedImprovementPct: rec.EstimatedImprovementPct,
			Success:                 err == nil,
			ImplementationTimeMs:    float64(time.Since(start)) / float64(time.Millisecond),
			Details:                 rec.ParamsJSON(),
		}
		outcome := "success"
		if err != nil {
			record.Error = err.Error()
			outcome = "failure"
			log.Warn("optimization failed",
				zap.String("type", string(rec.Type)), zap.Error(err))
		} else {
			record.ActualImprovementPct = rec.EstimatedImprovementPct
		}
		optimizationsApplied.WithLabelValues(string(rec.Type), outcome).Inc()

		if writeErr := o.db.WriteOptimizationRecord(ctx, record); writeErr != nil {
			log.Warn("failed to persist optimization record", zap.Error(writeErr))
		}
	}
	return recs, nil
}

// Effectiveness aggregates the optimization history of the last given
// days into per-type success rates.
func (o *Optimizer) Effectiveness(ctx context.Context, days int) ([]*meta.Effectiveness, error) {
	sinceTs := time.Now().Unix() - int64(days)*24*3600
	byType := make(map[meta.RecommendationType]*meta.Effectiveness)
	err := o.db.QueryOptimizationRecordsSince(ctx, sinceTs, func(r *meta.Record) error {
		eff := byType[r.Type]
		if eff == nil {
			eff = &meta.Effectiveness{Type: r.Type}
			byType[r.Type] = eff
		}
		eff.Total++
		if r.Success {
			eff.Succeeded++
			eff.EstimatedImprovement += r.EstimatedImprovementPct
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*meta.Effectiveness, 0, len(byType))
	for _, eff := range byType {
		eff.SuccessRate = float64(eff.Succeeded) / float64(eff.Total)
		out = append(out, eff)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
