package monitor

import (
	"testing"

	"github.com/dataqual/perfmon/config"

	"github.com/stretchr/testify/require"
)

func testTarget() config.Target {
	return config.Target{
		MaxQueryTimeMs:     100,
		TargetCacheHitRate: 90,
		MaxCPUPercent:      80,
		MaxMemoryMB:        1024,
		MinHealthScore:     70,
		MaxErrorRate:       0.05,
	}
}

func TestHealthScoreAllTargetsMet(t *testing.T) {
	target := testTarget()
	score := computeHealthScore(target, 50, 95, 40, 512, 0.01)
	require.Equal(t, 100.0, score)

	// Values exactly at target are not breaches.
	score = computeHealthScore(target, 100, 90, 80, 1024, 0.05)
	require.Equal(t, 100.0, score)
}

func TestHealthScoreBounds(t *testing.T) {
	target := testTarget()
	for _, cpu := range []float64{0, 80, 100, 1000} {
		for _, query := range []float64{0, 100, 10000} {
			for _, errRate := range []float64{0, 0.5, 1} {
				score := computeHealthScore(target, query, 0, cpu, 1 << 20, errRate)
				require.GreaterOrEqual(t, score, 0.0)
				require.LessOrEqual(t, score, 100.0)
			}
		}
	}

	// All penalties capped at once still leaves a defined score.
	score := computeHealthScore(target, 1e9, 0, 1e9, 1e9, 1)
	require.Equal(t, 0.0, score)
}

func TestHealthScoreMonotonicInQueryTime(t *testing.T) {
	target := testTarget()
	prev := computeHealthScore(target, 100, 95, 40, 512, 0.01)
	for _, queryMs := range []float64{110, 150, 200, 300, 1000} {
		score := computeHealthScore(target, queryMs, 95, 40, 512, 0.01)
		require.LessOrEqual(t, score, prev, "queryMs=%v", queryMs)
		prev = score
	}
}

func TestHealthScorePenaltyCaps(t *testing.T) {
	target := testTarget()

	// A single dimension, however bad, cannot cost more than its cap.
	require.Equal(t, 100-queryPenaltyCap, computeHealthScore(target, 1e9, 95, 40, 512, 0.01))
	require.Equal(t, 100-cachePenaltyCap, computeHealthScore(target, 50, 0, 40, 512, 0.01))
	require.Equal(t, 100-cpuPenaltyCap, computeHealthScore(target, 50, 95, 1e9, 512, 0.01))
	require.Equal(t, 100-memoryPenaltyCap, computeHealthScore(target, 50, 95, 40, 1e9, 0.01))
	require.Equal(t, 100-errorPenaltyCap, computeHealthScore(target, 50, 95, 40, 512, 1))
}
