package regression

import (
	"context"
	"fmt"
	"time"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/database/docdb"
)

// RegisterBuiltin fills the catalog with the built-in probes covering
// the store hot paths. They carry the given core tag so the periodic
// regression loop picks them up.
func RegisterBuiltin(t *Tester, db docdb.DocDB, coreTag string) error {
	builtins := []struct {
		bench *meta.Benchmark
		probe Probe
	}{
		{
			bench: &meta.Benchmark{
				Name:                  "store_config_load",
				Description:           "load the persisted config map and baseline snapshot",
				TargetTime:            50 * time.Millisecond,
				AcceptableVariancePct: 20,
				Iterations:            10,
				Tags:                  []string{coreTag, "store"},
			},
			probe: func(ctx context.Context) error {
				if _, err := db.LoadConfig(ctx); err != nil {
					return err
				}
				_, err := db.LoadBaseline(ctx)
				return err
			},
		},
		{
			bench: &meta.Benchmark{
				Name:                  "store_sample_scan",
				Description:           "scan the last hour of metric samples",
				TargetTime:            100 * time.Millisecond,
				AcceptableVariancePct: 20,
				Iterations:            10,
				Tags:                  []string{coreTag, "store"},
			},
			probe: func(ctx context.Context) error {
				sinceTs := time.Now().Add(-time.Hour).Unix()
				return db.QueryMetricSamplesSince(ctx, sinceTs, func(*monitormeta.MetricSample) error {
					return nil
				})
			},
		},
		{
			bench: &meta.Benchmark{
				Name:                  "stats_pipeline",
				Description:           "aggregate a synthetic sample distribution",
				TargetTime:            10 * time.Millisecond,
				AcceptableVariancePct: 30,
				Iterations:            20,
				Tags:                  []string{coreTag},
				Parallel:              true,
			},
			probe: func(ctx context.Context) error {
				samples := make([]float64, 0, 4096)
				for i := 0; i < 4096; i++ {
					samples = append(samples, float64(i%251))
				}
				if populationStdev(samples) <= 0 {
					return fmt.Errorf("degenerate distribution")
				}
				_ = median(samples)
				return nil
			},
		},
	}

	for _, b := range builtins {
		if err := t.Register(b.bench, b.probe); err != nil {
			return err
		}
	}
	return nil
}
