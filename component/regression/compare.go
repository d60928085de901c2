package regression

import (
	"context"

	"github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/config"
)

// Compare matches current results against a baseline by benchmark name
// and reports only runs whose mean left the configured dead-band.
// Stable benchmarks are deliberately unreported to suppress noise
// driven false positives.
func (t *Tester) Compare(current []*meta.Result, baseline map[string]*meta.Result) []*meta.Comparison {
	cfg := config.GetGlobalConfig().Regression

	var comparisons []*meta.Comparison
	for _, cur := range current {
		base, ok := baseline[cur.BenchmarkName]
		if !ok || base.MeanMs <= 0 || cur.Error != "" {
			continue
		}
		changePct := (cur.MeanMs - base.MeanMs) / base.MeanMs

		var verdict meta.Verdict
		switch {
		case changePct > cfg.RegressionThreshold:
			verdict = meta.VerdictRegression
		case changePct < -cfg.ImprovementThreshold:
			verdict = meta.VerdictImprovement
		default:
			continue
		}
		comparisons = append(comparisons, &meta.Comparison{
			BenchmarkName:  cur.BenchmarkName,
			BaselineMeanMs: base.MeanMs,
			CurrentMeanMs:  cur.MeanMs,
			ChangePct:      changePct * 100,
			Verdict:        verdict,
		})
	}
	return comparisons
}

// CompareWithBaseline compares against the persisted baseline snapshot.
func (t *Tester) CompareWithBaseline(ctx context.Context, current []*meta.Result) ([]*meta.Comparison, error) {
	baseline, err := t.db.LoadBaseline(ctx)
	if err != nil {
		return nil, err
	}
	return t.Compare(current, baseline), nil
}

// SetBaseline persists a full result set as the new comparison point.
// Baselines never move automatically, and unlike other writes a failure
// here is surfaced so the operator knows the baseline did not change.
func (t *Tester) SetBaseline(ctx context.Context, results []*meta.Result) error {
	return t.db.SaveBaseline(ctx, results)
}
