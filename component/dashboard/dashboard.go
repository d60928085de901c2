package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dataqual/perfmon/component/monitor"
	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/regression"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"
	"github.com/dataqual/perfmon/utils"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Dashboard is the composition root running the monitor plus the
// periodic auto-optimization, regression and cleanup loops. Each loop
// has its own goroutine and the loops only touch the store through
// append-only writes, so they never contend on shared state.
type Dashboard struct {
	db        docdb.DocDB
	monitor   *monitor.Monitor
	optimizer *optimizer.Optimizer
	tester    *regression.Tester

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status is the always well-formed answer of GetStatus.
type Status struct {
	Active               bool                 `json:"active"`
	Error                string               `json:"error,omitempty"`
	Summary              *monitormeta.Summary `json:"summary,omitempty"`
	RegisteredBenchmarks int                  `json:"registered_benchmarks"`
}

func NewDashboard(db docdb.DocDB, mon *monitor.Monitor, opt *optimizer.Optimizer, tester *regression.Tester) *Dashboard {
	return &Dashboard{
		db:        db,
		monitor:   mon,
		optimizer: opt,
		tester:    tester,
	}
}

// Start launches the monitor and the periodic loops. Calling Start on
// a running dashboard is a no-op, and a stopped dashboard can be
// started again.
func (d *Dashboard) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.monitor.Start()

	loops := []struct {
		name     string
		interval func(cfg config.Config) time.Duration
		work     func(ctx context.Context)
	}{
		{
			name: "auto-optimization",
			interval: func(cfg config.Config) time.Duration {
				return time.Duration(cfg.Optimizer.AutoIntervalSeconds) * time.Second
			},
			work: d.runAutoOptimization,
		},
		{
			name: "regression",
			interval: func(cfg config.Config) time.Duration {
				return time.Duration(cfg.Regression.IntervalSeconds) * time.Second
			},
			work: d.runRegressionCheck,
		},
		{
			name: "cleanup",
			interval: func(cfg config.Config) time.Duration {
				return time.Duration(cfg.Retention.CleanupIntervalSeconds) * time.Second
			},
			work: d.runCleanup,
		},
	}
	for _, loop := range loops {
		loop := loop
		d.wg.Add(1)
		go utils.GoWithRecovery(func() {
			defer d.wg.Done()
			d.runLoop(ctx, loop.name, loop.interval, loop.work)
		}, nil)
	}
	log.Info("dashboard started")
}

// Stop cancels every loop and waits for them, so no background work
// survives the call. Calling Stop on a stopped dashboard is a no-op.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	d.cancel()
	d.monitor.Stop()
	d.wg.Wait()
	log.Info("dashboard stopped")
}

func (d *Dashboard) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// runLoop re-reads the interval from the live config on every round so
// a SIGHUP reload takes effect without a restart.
func (d *Dashboard) runLoop(ctx context.Context, name string, interval func(config.Config) time.Duration, work func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval(config.GetGlobalConfig())):
			log.Debug("periodic loop firing", zap.String("loop", name))
			work(ctx)
		}
	}
}

func (d *Dashboard) runAutoOptimization(ctx context.Context) {
	cfg := config.GetGlobalConfig()
	recs, err := d.optimizer.AnalyzeAndOptimize(ctx, cfg.Optimizer.AutoImplement)
	if err != nil {
		log.Warn("auto-optimization pass failed", zap.Error(err))
		return
	}
	log.Info("auto-optimization pass finished", zap.Int("recommendations", len(recs)))
}

// runRegressionCheck runs the core-tagged benchmarks and logs, never
// fails on, detected regressions.
func (d *Dashboard) runRegressionCheck(ctx context.Context) {
	cfg := config.GetGlobalConfig()
	results, err := d.tester.Run(ctx, nil, []string{cfg.Regression.CoreTag})
	if err != nil {
		log.Warn("regression run aborted", zap.Error(err))
		return
	}
	comparisons, err := d.tester.CompareWithBaseline(ctx, results)
	if err != nil {
		log.Warn("baseline comparison failed", zap.Error(err))
		return
	}
	for _, c := range comparisons {
		log.Warn("benchmark left the baseline dead-band",
			zap.String("benchmark", c.BenchmarkName),
			zap.String("verdict", string(c.Verdict)),
			zap.Float64("change_pct", c.ChangePct),
			zap.Float64("baseline_ms", c.BaselineMeanMs),
			zap.Float64("current_ms", c.CurrentMeanMs))
	}
}

func (d *Dashboard) runCleanup(ctx context.Context) {
	cfg := config.GetGlobalConfig().Retention
	now := time.Now()

	sampleCutoff := now.Add(-time.Duration(cfg.SampleRetentionDays) * 24 * time.Hour).Unix()
	deletedSamples, err := d.db.DeleteMetricSamplesBefore(ctx, sampleCutoff)
	if err != nil {
		log.Warn("failed to prune metric samples", zap.Error(err))
	}

	alertCutoff := now.Add(-time.Duration(cfg.ResolvedAlertRetentionDays) * 24 * time.Hour).Unix()
	deletedAlerts, err := d.db.DeleteResolvedAlertsBefore(ctx, alertCutoff)
	if err != nil {
		log.Warn("failed to prune resolved alerts", zap.Error(err))
	}

	log.Info("retention cleanup finished",
		zap.Int64("deleted_samples", deletedSamples),
		zap.Int64("deleted_alerts", deletedAlerts))
}

// GetStatus reports the dashboard state. It never panics or errors:
// any internal failure is folded into the Error field of a well formed
// status.
func (d *Dashboard) GetStatus(ctx context.Context) (status *Status) {
	defer func() {
		if r := recover(); r != nil {
			status = &Status{Error: fmt.Sprintf("status unavailable: %v", r)}
		}
	}()

	status = &Status{
		Active:               d.IsRunning(),
		Summary:              d.monitor.GetSummary(ctx, 1),
		RegisteredBenchmarks: len(d.tester.Benchmarks()),
	}
	return status
}
