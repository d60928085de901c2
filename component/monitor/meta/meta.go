package meta

// ResourceStats is a point-in-time snapshot of process level resource
// usage produced by a ResourceSampler.
type ResourceStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb"`
	DiskReadMB  float64 `json:"disk_read_mb"`
	DiskWriteMB float64 `json:"disk_write_mb"`
	ThreadCount int     `json:"thread_count"`
}

// CacheStats is reported by the optional cache collaborator.
type CacheStats struct {
	HitRatePercent float64 `json:"hit_rate_percent"`
	Entries        int64   `json:"entries"`
}

// MetricSample is one row of the append-only metric_samples collection.
// Samples are immutable once written and owned exclusively by the store.
type MetricSample struct {
	ID                 int64   `json:"id"`
	Timestamp          int64   `json:"timestamp"`
	QueryExecutionTime float64 `json:"query_execution_time_ms"`
	QueryCount         int64   `json:"query_count"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
	DBSizeMB           float64 `json:"db_size_mb"`
	MemoryMB           float64 `json:"memory_mb"`
	CPUPercent         float64 `json:"cpu_percent"`
	DiskIOReadMB       float64 `json:"disk_io_read_mb"`
	DiskIOWriteMB      float64 `json:"disk_io_write_mb"`
	ActiveConnections  int64   `json:"active_connections"`
	SlowQueries        int64   `json:"slow_queries"`
	ErrorRate          float64 `json:"error_rate"`
	HealthScore        float64 `json:"health_score"`
}

type AlertSeverity string

const (
	SeverityMedium AlertSeverity = "MEDIUM"
	SeverityHigh   AlertSeverity = "HIGH"
)

// Alert is raised on a threshold breach. The only legal mutation after
// creation is flipping Resolved.
type Alert struct {
	ID        int64         `json:"id"`
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Timestamp int64         `json:"timestamp"`
	Resolved  bool          `json:"resolved"`
}

// QueryRecord is one entry of the monitor's rolling query window.
type QueryRecord struct {
	Name       string
	DurationMs float64
	Rows       int64
	CacheHit   bool
	Failed     bool
	Timestamp  int64
}

// QueryStats aggregates the rolling window at sampling time.
type QueryStats struct {
	Count        int64   `json:"count"`
	AvgMs        float64 `json:"avg_ms"`
	MaxMs        float64 `json:"max_ms"`
	MinMs        float64 `json:"min_ms"`
	SlowCount    int64   `json:"slow_count"`
	ErrorRate    float64 `json:"error_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// Summary aggregates persisted samples over a time range plus the
// current open alert counts. It always has well formed zero values when
// no data is available.
type Summary struct {
	SinceTs         int64   `json:"since_ts"`
	GeneratedAt     int64   `json:"generated_at"`
	SampleCount     int64   `json:"sample_count"`
	AvgQueryTimeMs  float64 `json:"avg_query_time_ms"`
	MaxQueryTimeMs  float64 `json:"max_query_time_ms"`
	MinQueryTimeMs  float64 `json:"min_query_time_ms"`
	AvgCacheHitRate float64 `json:"avg_cache_hit_rate"`
	AvgCPUPercent   float64 `json:"avg_cpu_percent"`
	MaxCPUPercent   float64 `json:"max_cpu_percent"`
	AvgMemoryMB     float64 `json:"avg_memory_mb"`
	MaxMemoryMB     float64 `json:"max_memory_mb"`
	AvgErrorRate    float64 `json:"avg_error_rate"`
	AvgHealthScore  float64 `json:"avg_health_score"`
	MinHealthScore  float64 `json:"min_health_score"`
	OpenAlerts      int64   `json:"open_alerts"`
	OpenHighAlerts  int64   `json:"open_high_alerts"`
}
