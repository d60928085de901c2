package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/config"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// GetSummary aggregates the persisted samples of the last given hours
// plus the current open alert counts. It never fails: on store errors
// it logs and returns a zero-valued summary for the range.
func (m *Monitor) GetSummary(ctx context.Context, hours float64) *meta.Summary {
	now := time.Now().Unix()
	summary := &meta.Summary{
		SinceTs:     now - int64(hours*3600),
		GeneratedAt: now,
	}

	var totalQuery, totalCache, totalCPU, totalMem, totalErr, totalHealth float64
	err := m.db.QueryMetricSamplesSince(ctx, summary.SinceTs, func(s *meta.MetricSample) error {
		if summary.SampleCount == 0 {
			summary.MinQueryTimeMs = s.QueryExecutionTime
			summary.MinHealthScore = s.HealthScore
		}
		summary.SampleCount++
		totalQuery += s.QueryExecutionTime
		totalCache += s.CacheHitRate
		totalCPU += s.CPUPercent
		totalMem += s.MemoryMB
		totalErr += s.ErrorRate
		totalHealth += s.HealthScore
		if s.QueryExecutionTime > summary.MaxQueryTimeMs {
			summary.MaxQueryTimeMs = s.QueryExecutionTime
		}
		if s.QueryExecutionTime < summary.MinQueryTimeMs {
			summary.MinQueryTimeMs = s.QueryExecutionTime
		}
		if s.CPUPercent > summary.MaxCPUPercent {
			summary.MaxCPUPercent = s.CPUPercent
		}
		if s.MemoryMB > summary.MaxMemoryMB {
			summary.MaxMemoryMB = s.MemoryMB
		}
		if s.HealthScore < summary.MinHealthScore {
			summary.MinHealthScore = s.HealthScore
		}
		return nil
	})
	if err != nil {
		log.Warn("failed to aggregate metric samples", zap.Error(err))
		return &meta.Summary{SinceTs: summary.SinceTs, GeneratedAt: now}
	}
	if summary.SampleCount > 0 {
		n := float64(summary.SampleCount)
		summary.AvgQueryTimeMs = totalQuery / n
		summary.AvgCacheHitRate = totalCache / n
		summary.AvgCPUPercent = totalCPU / n
		summary.AvgMemoryMB = totalMem / n
		summary.AvgErrorRate = totalErr / n
		summary.AvgHealthScore = totalHealth / n
	}

	total, high, err := m.db.CountOpenAlerts(ctx)
	if err != nil {
		log.Warn("failed to count open alerts", zap.Error(err))
	} else {
		summary.OpenAlerts = total
		summary.OpenHighAlerts = high
	}
	return summary
}

// GenerateReport renders a plain text performance report over the last
// given hours. When a baseline summary is supplied the report includes
// a trend section comparing against it.
func (m *Monitor) GenerateReport(ctx context.Context, hours float64, baseline *meta.Summary) string {
	summary := m.GetSummary(ctx, hours)
	target := config.GetGlobalConfig().Target

	var b strings.Builder
	fmt.Fprintf(&b, "Performance Report (last %.1fh, generated %s)\n",
		hours, time.Unix(summary.GeneratedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "samples: %d\n", summary.SampleCount)
	if summary.SampleCount == 0 {
		b.WriteString("no samples collected in the reporting window\n")
		return b.String()
	}

	fmt.Fprintf(&b, "query time ms: avg=%.2f min=%.2f max=%.2f (target <= %.2f)\n",
		summary.AvgQueryTimeMs, summary.MinQueryTimeMs, summary.MaxQueryTimeMs, target.MaxQueryTimeMs)
	fmt.Fprintf(&b, "cache hit rate: avg=%.1f%% (target >= %.1f%%)\n",
		summary.AvgCacheHitRate, target.TargetCacheHitRate)
	fmt.Fprintf(&b, "cpu: avg=%.1f%% max=%.1f%% (target <= %.1f%%)\n",
		summary.AvgCPUPercent, summary.MaxCPUPercent, target.MaxCPUPercent)
	fmt.Fprintf(&b, "memory: avg=%.1fMB max=%.1fMB (target <= %.1fMB)\n",
		summary.AvgMemoryMB, summary.MaxMemoryMB, target.MaxMemoryMB)
	fmt.Fprintf(&b, "error rate: avg=%.4f (target <= %.4f)\n",
		summary.AvgErrorRate, target.MaxErrorRate)
	fmt.Fprintf(&b, "health score: avg=%.1f min=%.1f (target >= %.1f)\n",
		summary.AvgHealthScore, summary.MinHealthScore, target.MinHealthScore)
	fmt.Fprintf(&b, "open alerts: %d (%d high)\n", summary.OpenAlerts, summary.OpenHighAlerts)

	if baseline != nil && baseline.SampleCount > 0 {
		b.WriteString("trend vs baseline:\n")
		writeTrendLine(&b, "query time", baseline.AvgQueryTimeMs, summary.AvgQueryTimeMs, false)
		writeTrendLine(&b, "cache hit rate", baseline.AvgCacheHitRate, summary.AvgCacheHitRate, true)
		writeTrendLine(&b, "health score", baseline.AvgHealthScore, summary.AvgHealthScore, true)
	}

	for _, rec := range reportRecommendations(summary, target) {
		fmt.Fprintf(&b, "recommendation: %s\n", rec)
	}
	return b.String()
}

func writeTrendLine(b *strings.Builder, name string, baseline, current float64, higherIsBetter bool) {
	if baseline == 0 {
		return
	}
	changePct := (current - baseline) / baseline * 100
	direction := "degraded"
	if changePct == 0 {
		direction = "unchanged"
	} else if (changePct > 0) == higherIsBetter {
		direction = "improved"
	}
	fmt.Fprintf(b, "  %s: %+.1f%% (%s)\n", name, changePct, direction)
}

func reportRecommendations(summary *meta.Summary, target config.Target) []string {
	var recs []string
	if summary.AvgQueryTimeMs > target.MaxQueryTimeMs {
		recs = append(recs, "review slow queries and add covering indexes")
	}
	if summary.AvgCacheHitRate < target.TargetCacheHitRate {
		recs = append(recs, "increase cache size or tune eviction to raise hit rate")
	}
	if summary.AvgCPUPercent > target.MaxCPUPercent {
		recs = append(recs, "reduce concurrent workload or scale cpu")
	}
	if summary.AvgMemoryMB > target.MaxMemoryMB {
		recs = append(recs, "lower memory budgets or compact the store")
	}
	if summary.AvgErrorRate > target.MaxErrorRate {
		recs = append(recs, "investigate failing queries, error rate is above target")
	}
	if len(recs) == 0 {
		recs = append(recs, "all targets met, no action required")
	}
	return recs
}
