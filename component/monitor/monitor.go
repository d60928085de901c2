package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"
	"github.com/dataqual/perfmon/utils"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Monitor samples resource and query statistics on a fixed interval,
// scores them against the configured performance targets and persists
// samples and alerts to the doc store. Persistence failures are logged
// and the affected row dropped; the sampling loop itself never dies.
type Monitor struct {
	db       docdb.DocDB
	sampler  ResourceSampler
	cache    CacheStatsProvider
	storage  StorageStatsProvider
	notifier Notifier

	window *queryWindow
	ticker *Ticker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastSampleTs atomic.Int64
}

// Option wires an optional collaborator into a Monitor.
type Option func(*Monitor)

func WithCacheStatsProvider(p CacheStatsProvider) Option {
	return func(m *Monitor) { m.cache = p }
}

func WithStorageStatsProvider(p StorageStatsProvider) Option {
	return func(m *Monitor) { m.storage = p }
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

func NewMonitor(db docdb.DocDB, sampler ResourceSampler, opts ...Option) *Monitor {
	cfg := config.GetGlobalConfig()
	m := &Monitor{
		db:       db,
		sampler:  sampler,
		notifier: NewLogNotifier(),
		window:   newQueryWindow(cfg.Monitor.WindowSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sampling loop. Calling Start on a running monitor
// is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	cfg := config.GetGlobalConfig()
	interval := time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
	m.ticker = NewTicker(interval)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go utils.GoWithRecovery(func() {
		defer m.wg.Done()
		m.sampleLoop(ctx)
	}, nil)
	log.Info("performance monitor started", zap.Duration("interval", interval))
}

// Stop terminates the sampling loop and waits for it to exit. Calling
// Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.ticker.Stop()
	m.wg.Wait()
	log.Info("performance monitor stopped")
}

// IsRunning reports whether the sampling loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TrackQuery records one query execution in the rolling window. It is
// safe for concurrent use and never blocks on storage.
func (m *Monitor) TrackQuery(name string, durationMs float64, rows int64, cacheHit, failed bool) {
	m.window.Append(meta.QueryRecord{
		Name:       name,
		DurationMs: durationMs,
		Rows:       rows,
		CacheHit:   cacheHit,
		Failed:     failed,
		Timestamp:  time.Now().Unix(),
	})
	queriesTracked.Inc()
}

// QueryStats aggregates the current rolling window.
func (m *Monitor) QueryStats() meta.QueryStats {
	return m.window.Stats(config.GetGlobalConfig().Target.MaxQueryTimeMs)
}

func (m *Monitor) sampleLoop(ctx context.Context) {
	tickerChan := m.ticker.Subscribe()
	defer tickerChan.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tickerChan.Chan():
			if err := m.CollectSample(ctx); err != nil {
				backoff := time.Duration(config.GetGlobalConfig().Monitor.SampleBackoffSeconds) * time.Second
				log.Warn("metric collection failed, backing off",
					zap.Error(err), zap.Duration("backoff", backoff))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}
		}
	}
}

// CollectSample gathers one metric sample, persists it and evaluates
// the configured targets. The returned error covers collaborator
// failures only; a failed persist is logged and dropped.
func (m *Monitor) CollectSample(ctx context.Context) error {
	cfg := config.GetGlobalConfig()
	resources := m.sampler.Sample()
	queryStats := m.window.Stats(cfg.Target.MaxQueryTimeMs)

	cacheHitRate := queryStats.CacheHitRate
	if m.cache != nil {
		cacheStats, err := m.cache.GetStats()
		if err != nil {
			return err
		}
		cacheHitRate = cacheStats.HitRatePercent
	}

	var dbSizeMB float64
	var activeConns int64
	if m.storage != nil {
		var err error
		dbSizeMB, activeConns, err = m.storage.GetStorageStats()
		if err != nil {
			return err
		}
	}

	healthScore := computeHealthScore(cfg.Target,
		queryStats.AvgMs, cacheHitRate, resources.CPUPercent, resources.MemoryMB, queryStats.ErrorRate)

	sample := &meta.MetricSample{
		Timestamp:          m.nextSampleTs(),
		QueryExecutionTime: queryStats.AvgMs,
		QueryCount:         queryStats.Count,
		CacheHitRate:       cacheHitRate,
		DBSizeMB:           dbSizeMB,
		MemoryMB:           resources.MemoryMB,
		CPUPercent:         resources.CPUPercent,
		DiskIOReadMB:       resources.DiskReadMB,
		DiskIOWriteMB:      resources.DiskWriteMB,
		ActiveConnections:  activeConns,
		SlowQueries:        queryStats.SlowCount,
		ErrorRate:          queryStats.ErrorRate,
		HealthScore:        healthScore,
	}
	if err := m.db.WriteMetricSample(ctx, sample); err != nil {
		log.Warn("failed to persist metric sample, dropping it", zap.Error(err))
	} else {
		samplesCollected.Inc()
	}

	m.evaluateTargets(ctx, &cfg, sample)
	return nil
}

// evaluateTargets raises one alert per breached target. A breach past
// SeverityBreachMultiplier times the threshold escalates to HIGH.
func (m *Monitor) evaluateTargets(ctx context.Context, cfg *config.Config, sample *meta.MetricSample) {
	target := cfg.Target
	multiplier := cfg.Monitor.SeverityBreachMultiplier

	type breach struct {
		typ       string
		value     float64
		threshold float64
		// ratio expresses how far past the threshold the value is,
		// normalized so >1 always means worse.
		ratio   float64
		message string
	}
	var breaches []breach

	if sample.QueryCount > 0 && sample.QueryExecutionTime > target.MaxQueryTimeMs {
		breaches = append(breaches, breach{
			typ: "query_time", value: sample.QueryExecutionTime, threshold: target.MaxQueryTimeMs,
			ratio:   sample.QueryExecutionTime / target.MaxQueryTimeMs,
			message: fmt.Sprintf("average query time %.1fms exceeds target %.1fms", sample.QueryExecutionTime, target.MaxQueryTimeMs),
		})
	}
	if sample.QueryCount > 0 && sample.CacheHitRate < target.TargetCacheHitRate {
		ratio := multiplier + 1
		if sample.CacheHitRate > 0 {
			ratio = target.TargetCacheHitRate / sample.CacheHitRate
		}
		breaches = append(breaches, breach{
			typ: "cache_hit_rate", value: sample.CacheHitRate, threshold: target.TargetCacheHitRate,
			ratio:   ratio,
			message: fmt.Sprintf("cache hit rate %.1f%% below target %.1f%%", sample.CacheHitRate, target.TargetCacheHitRate),
		})
	}
	if sample.CPUPercent > target.MaxCPUPercent {
		breaches = append(breaches, breach{
			typ: "cpu", value: sample.CPUPercent, threshold: target.MaxCPUPercent,
			ratio:   sample.CPUPercent / target.MaxCPUPercent,
			message: fmt.Sprintf("cpu usage %.1f%% exceeds target %.1f%%", sample.CPUPercent, target.MaxCPUPercent),
		})
	}
	if sample.MemoryMB > target.MaxMemoryMB {
		breaches = append(breaches, breach{
			typ: "memory", value: sample.MemoryMB, threshold: target.MaxMemoryMB,
			ratio:   sample.MemoryMB / target.MaxMemoryMB,
			message: fmt.Sprintf("memory usage %.1fMB exceeds target %.1fMB", sample.MemoryMB, target.MaxMemoryMB),
		})
	}
	if sample.QueryCount > 0 && sample.ErrorRate > target.MaxErrorRate {
		ratio := multiplier + 1
		if target.MaxErrorRate > 0 {
			ratio = sample.ErrorRate / target.MaxErrorRate
		}
		breaches = append(breaches, breach{
			typ: "error_rate", value: sample.ErrorRate, threshold: target.MaxErrorRate,
			ratio:   ratio,
			message: fmt.Sprintf("error rate %.3f exceeds target %.3f", sample.ErrorRate, target.MaxErrorRate),
		})
	}
	if sample.HealthScore < target.MinHealthScore {
		ratio := multiplier + 1
		if sample.HealthScore > 0 {
			ratio = target.MinHealthScore / sample.HealthScore
		}
		breaches = append(breaches, breach{
			typ: "health_score", value: sample.HealthScore, threshold: target.MinHealthScore,
			ratio:   ratio,
			message: fmt.Sprintf("health score %.1f below minimum %.1f", sample.HealthScore, target.MinHealthScore),
		})
	}

	for _, b := range breaches {
		severity := meta.SeverityMedium
		if b.ratio > multiplier {
			severity = meta.SeverityHigh
		}
		alert := &meta.Alert{
			Type:      b.typ,
			Severity:  severity,
			Message:   b.message,
			Value:     b.value,
			Threshold: b.threshold,
			Timestamp: sample.Timestamp,
		}
		if err := m.db.WriteAlert(ctx, alert); err != nil {
			log.Warn("failed to persist alert, dropping it",
				zap.String("type", b.typ), zap.Error(err))
			continue
		}
		alertsRaised.WithLabelValues(string(severity)).Inc()
		m.notifier.Notify(alert)
	}
}

// nextSampleTs returns a strictly increasing unix timestamp so samples
// written within the same second still order deterministically.
func (m *Monitor) nextSampleTs() int64 {
	now := time.Now().Unix()
	for {
		last := m.lastSampleTs.Load()
		ts := now
		if ts <= last {
			ts = last + 1
		}
		if m.lastSampleTs.CompareAndSwap(last, ts) {
			return ts
		}
	}
}
