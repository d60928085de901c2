package monitor

import (
	"sync"

	"github.com/dataqual/perfmon/component/monitor/meta"
)

// queryWindow is a bounded rolling window of tracked queries. Appends
// are O(1) ring-buffer writes so callers are never blocked measurably;
// once full the oldest entry is evicted first.
type queryWindow struct {
	mu   sync.Mutex
	buf  []meta.QueryRecord
	next int
	full bool
}

func newQueryWindow(capacity int) *queryWindow {
	if capacity <= 0 {
		panic("should never happen")
	}
	return &queryWindow{buf: make([]meta.QueryRecord, capacity)}
}

func (w *queryWindow) Append(rec meta.QueryRecord) {
	w.mu.Lock()
	w.buf[w.next] = rec
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

func (w *queryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Snapshot returns the window content in insertion order, oldest first.
func (w *queryWindow) Snapshot() []meta.QueryRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		out := make([]meta.QueryRecord, w.next)
		copy(out, w.buf[:w.next])
		return out
	}
	out := make([]meta.QueryRecord, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	out = append(out, w.buf[:w.next]...)
	return out
}

// Stats aggregates the current window. Queries slower than
// slowThresholdMs count as slow.
func (w *queryWindow) Stats(slowThresholdMs float64) meta.QueryStats {
	records := w.Snapshot()
	stats := meta.QueryStats{Count: int64(len(records))}
	if len(records) == 0 {
		return stats
	}

	var total float64
	var cacheHits, failed int64
	stats.MinMs = records[0].DurationMs
	for _, rec := range records {
		total += rec.DurationMs
		if rec.DurationMs > stats.MaxMs {
			stats.MaxMs = rec.DurationMs
		}
		if rec.DurationMs < stats.MinMs {
			stats.MinMs = rec.DurationMs
		}
		if rec.DurationMs > slowThresholdMs {
			stats.SlowCount++
		}
		if rec.CacheHit {
			cacheHits++
		}
		if rec.Failed {
			failed++
		}
	}
	stats.AvgMs = total / float64(len(records))
	stats.ErrorRate = float64(failed) / float64(len(records))
	stats.CacheHitRate = float64(cacheHits) / float64(len(records)) * 100
	return stats
}
