package monitor

import (
	"os"

	"github.com/dataqual/perfmon/component/monitor/meta"

	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ResourceSampler produces point-in-time process resource statistics.
// Sample must never fail: implementations return a zeroed sample and
// log when collection is impossible.
type ResourceSampler interface {
	Sample() meta.ResourceStats
}

// CacheStatsProvider is an optional collaborator reporting cache
// efficiency of the observed workload.
type CacheStatsProvider interface {
	GetStats() (meta.CacheStats, error)
}

// StorageStatsProvider is an optional collaborator reporting database
// size and connection usage.
type StorageStatsProvider interface {
	GetStorageStats() (sizeMB float64, activeConnections int64, err error)
}

// Notifier receives raised alerts. Delivery (email, webhook, ...) is
// the surrounding alerting layer's concern.
type Notifier interface {
	Notify(alert *meta.Alert)
}

type logNotifier struct{}

// NewLogNotifier returns a Notifier that only writes alerts to the
// service log.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(alert *meta.Alert) {
	log.Warn("performance alert raised",
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
		zap.Float64("value", alert.Value),
		zap.Float64("threshold", alert.Threshold))
}

type processSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the current process with gopsutil.
func NewProcessSampler() ResourceSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("failed to attach to current process, resource samples will be zeroed", zap.Error(err))
		return &processSampler{}
	}
	return &processSampler{proc: proc}
}

func (s *processSampler) Sample() (stats meta.ResourceStats) {
	if s.proc == nil {
		return stats
	}
	if cpuPercent, err := s.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpuPercent
	} else {
		log.Debug("failed to sample cpu", zap.Error(err))
	}
	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		stats.MemoryMB = float64(memInfo.RSS) / (1 << 20)
	} else {
		log.Debug("failed to sample memory", zap.Error(err))
	}
	if ioCounters, err := s.proc.IOCounters(); err == nil && ioCounters != nil {
		stats.DiskReadMB = float64(ioCounters.ReadBytes) / (1 << 20)
		stats.DiskWriteMB = float64(ioCounters.WriteBytes) / (1 << 20)
	} else {
		log.Debug("failed to sample disk io", zap.Error(err))
	}
	if threads, err := s.proc.NumThreads(); err == nil {
		stats.ThreadCount = int(threads)
	}
	return stats
}
