package monitor

import (
	"math"

	"github.com/dataqual/perfmon/config"
)

// Per-dimension penalty caps. Each term is bounded independently so no
// single pathological metric can zero the whole score.
const (
	queryPenaltyCap  = 30.0
	cachePenaltyCap  = 20.0
	cpuPenaltyCap    = 15.0
	memoryPenaltyCap = 10.0
	errorPenaltyCap  = 25.0
)

// computeHealthScore folds latency, cache efficiency, CPU, memory and
// error rate into one score in [0, 100]. Every penalty is one-sided:
// a metric at or better than its target contributes nothing, and the
// score is monotonically non-increasing as any metric moves further
// past its target.
//
// Cache hit rates are percentages; error rates are fractions in [0, 1].
func computeHealthScore(target config.Target, avgQueryTimeMs, cacheHitRate, cpuPercent, memoryMB, errorRate float64) float64 {
	score := 100.0

	if target.MaxQueryTimeMs > 0 && avgQueryTimeMs > target.MaxQueryTimeMs {
		score -= math.Min(queryPenaltyCap, 20*(avgQueryTimeMs/target.MaxQueryTimeMs-1))
	}

	if cacheHitRate < target.TargetCacheHitRate {
		gap := (target.TargetCacheHitRate - cacheHitRate) / 100
		score -= math.Min(cachePenaltyCap, 50*gap)
	}

	if cpuPercent > target.MaxCPUPercent {
		score -= math.Min(cpuPenaltyCap, 15*(cpuPercent-target.MaxCPUPercent)/30)
	}

	if target.MaxMemoryMB > 0 && memoryMB > target.MaxMemoryMB {
		score -= math.Min(memoryPenaltyCap, 10*(memoryMB-target.MaxMemoryMB)/target.MaxMemoryMB)
	}

	if errorRate > target.MaxErrorRate {
		score -= math.Min(errorPenaltyCap, 100*(errorRate-target.MaxErrorRate))
	}

	return math.Max(0, math.Min(100, score))
}
