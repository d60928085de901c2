package optimizer

import (
	"context"

	"github.com/dataqual/perfmon/component/optimizer/meta"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// QueryExecutor executes schema level remediations against the
// observed database. It is an optional collaborator.
type QueryExecutor interface {
	CreateIndex(ctx context.Context, table string, columns []string) error
}

// CacheController tunes the observed cache. It is an optional
// collaborator.
type CacheController interface {
	Tune(ctx context.Context, currentHitRate, targetHitRate float64) error
}

var optimizationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "perfmon_optimizations_applied_total",
	Help: "Total number of executed optimization recommendations, by type and outcome.",
}, []string{"type", "outcome"})

func init() {
	prometheus.MustRegister(optimizationsApplied)
}

// execute dispatches one auto-implementable recommendation to its bound
// implementation. The params dispatch is exhaustive over the concrete
// types; skipped reports a missing collaborator for that family.
func (o *Optimizer) execute(ctx context.Context, rec *meta.Recommendation) (skipped bool, err error) {
	switch params := rec.Params.(type) {
	case meta.IndexParams:
		if o.queryExec == nil {
			return true, nil
		}
		return false, o.queryExec.CreateIndex(ctx, params.Table, params.Columns)
	case meta.CacheParams:
		if o.cacheCtl == nil {
			return true, nil
		}
		return false, o.cacheCtl.Tune(ctx, params.CurrentHitRate, params.TargetHitRate)
	case meta.ResourceParams:
		if o.db == nil {
			return true, nil
		}
		switch params.Operation {
		case "compact":
			return false, o.db.Compact(ctx)
		default:
			return false, errors.Errorf("unknown resource operation %q", params.Operation)
		}
	case meta.QueryRewriteParams, meta.ConfigParams:
		return false, errors.Errorf("recommendation type %q requires manual work", rec.Type)
	default:
		return false, errors.Errorf("recommendation %q has no bound implementation", rec.Type)
	}
}
