package docdb

import (
	"context"
	"encoding/json"
	"path"
	"time"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	optimizermeta "github.com/dataqual/perfmon/component/optimizer/meta"
	regressionmeta "github.com/dataqual/perfmon/component/regression/meta"
	"github.com/dataqual/perfmon/utils"

	"github.com/dgraph-io/badger/v3"
	"github.com/genjidb/genji"
	"github.com/genjidb/genji/document"
	"github.com/genjidb/genji/engine/badgerengine"
	"github.com/genjidb/genji/types"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type genjiDB struct {
	db       *genji.DB
	badgerDB *badger.DB
	closeCh  chan struct{}

	sampleID atomic.Int64
	alertID  atomic.Int64
	recordID atomic.Int64
	resultID atomic.Int64
}

func NewGenjiDB(ctx context.Context, opts *Options) (DocDB, error) {
	badger.DefaultIteratorOptions.PrefetchValues = false
	dataPath := path.Join(opts.Path, "docdb")
	l, _ := initLogger(opts.LogPath, opts.LogLevel)
	var badgerOpts badger.Options
	if opts.Badger.LSMOnly {
		badgerOpts = badger.LSMOnlyOptions(dataPath)
	} else {
		badgerOpts = badger.DefaultOptions(dataPath).
			WithValueThreshold(opts.Badger.ValueThreshold)
	}
	badgerOpts = badgerOpts.
		WithLogger(l).
		WithSyncWrites(opts.Badger.SyncWrites).
		WithNumGoroutines(opts.Badger.NumGoroutines).
		WithMemTableSize(opts.Badger.MemTableSize).
		WithBloomFalsePositive(opts.Badger.BloomFalsePositive).
		WithBlockCacheSize(opts.Badger.BlockCacheSize).
		WithIndexCacheSize(opts.Badger.IndexCacheSize).
		WithNumCompactors(opts.Badger.NumCompactors).
		WithZSTDCompressionLevel(opts.Badger.ZSTDCompressionLevel)
	engine, err := badgerengine.NewEngine(badgerOpts)
	if err != nil {
		return nil, err
	}
	d := &genjiDB{badgerDB: engine.DB, closeCh: make(chan struct{})}
	go utils.GoWithRecovery(func() {
		doValueLogGCLoop(engine.DB, d.closeCh)
	}, nil)
	d.db, err = genji.New(ctx, engine)
	if err != nil {
		return nil, err
	}
	if err := d.tryInitTables(); err != nil {
		return nil, err
	}
	if err := d.rebaseIDs(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewGenjiDBFromGenji wraps an existing genji instance. It is mostly
// used in tests.
func NewGenjiDBFromGenji(g *genji.DB) (DocDB, error) {
	d := &genjiDB{db: g, closeCh: make(chan struct{})}
	if err := d.tryInitTables(); err != nil {
		return nil, err
	}
	if err := d.rebaseIDs(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *genjiDB) tryInitTables() error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS perfmon_config (module TEXT primary key, config TEXT)",
		"CREATE TABLE IF NOT EXISTS metric_samples (id INTEGER primary key)",
		"CREATE TABLE IF NOT EXISTS alerts (id INTEGER primary key)",
		"CREATE TABLE IF NOT EXISTS optimization_records (id INTEGER primary key)",
		"CREATE TABLE IF NOT EXISTS benchmark_results (id INTEGER primary key)",
		"CREATE TABLE IF NOT EXISTS baseline_snapshot (name TEXT primary key, result TEXT)",
	}
	for _, stmt := range stmts {
		if err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (d *genjiDB) rebaseIDs() error {
	tables := []struct {
		name string
		id   *atomic.Int64
	}{
		{"metric_samples", &d.sampleID},
		{"alerts", &d.alertID},
		{"optimization_records", &d.recordID},
		{"benchmark_results", &d.resultID},
	}
	for _, table := range tables {
		res, err := d.db.Query("SELECT id FROM " + table.name)
		if err != nil {
			return err
		}
		err = res.Iterate(func(doc types.Document) error {
			var id int64
			if err := document.Scan(doc, &id); err != nil {
				return err
			}
			if id > table.id.Load() {
				table.id.Store(id)
			}
			return nil
		})
		_ = res.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *genjiDB) Close() error {
	close(d.closeCh)
	return d.db.Close()
}

func (d *genjiDB) SaveConfig(ctx context.Context, cfg map[string]string) error {
	err := d.db.WithContext(ctx).Exec("DELETE FROM perfmon_config")
	if err != nil {
		return err
	}
	for module, data := range cfg {
		err = d.db.WithContext(ctx).Exec("INSERT INTO perfmon_config (module, config) VALUES (?, ?)", module, data)
		if err != nil {
			return err
		}
		log.Info("save config into storage", zap.String("module", module), zap.String("config", data))
	}
	return nil
}

func (d *genjiDB) LoadConfig(ctx context.Context) (map[string]string, error) {
	res, err := d.db.WithContext(ctx).Query("SELECT module, config FROM perfmon_config")
	if err != nil {
		return nil, err
	}
	defer res.Close()
	cfgMap := make(map[string]string)
	err = res.Iterate(func(doc types.Document) error {
		var module, cfg string
		if err := document.Scan(doc, &module, &cfg); err != nil {
			return err
		}
		cfgMap[module] = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfgMap, nil
}

func (d *genjiDB) WriteMetricSample(ctx context.Context, s *monitormeta.MetricSample) error {
	s.ID = d.sampleID.Inc()
	stmt := `INSERT INTO metric_samples
		(id, ts, query_time_ms, query_count, cache_hit_rate, db_size_mb, memory_mb, cpu_percent,
		 disk_read_mb, disk_write_mb, active_connections, slow_queries, error_rate, health_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return d.db.WithContext(ctx).Exec(stmt,
		s.ID, s.Timestamp, s.QueryExecutionTime, s.QueryCount, s.CacheHitRate, s.DBSizeMB,
		s.MemoryMB, s.CPUPercent, s.DiskIOReadMB, s.DiskIOWriteMB,
		s.ActiveConnections, s.SlowQueries, s.ErrorRate, s.HealthScore)
}

func (d *genjiDB) QueryMetricSamplesSince(ctx context.Context, sinceTs int64, f func(*monitormeta.MetricSample) error) error {
	stmt := `SELECT id, ts, query_time_ms, query_count, cache_hit_rate, db_size_mb, memory_mb,
		cpu_percent, disk_read_mb, disk_write_mb, active_connections, slow_queries, error_rate, health_score
		FROM metric_samples WHERE ts >= ? ORDER BY ts`
	res, err := d.db.WithContext(ctx).Query(stmt, sinceTs)
	if err != nil {
		return err
	}
	defer res.Close()
	return res.Iterate(func(doc types.Document) error {
		var s monitormeta.MetricSample
		if err := document.Scan(doc, &s.ID, &s.Timestamp, &s.QueryExecutionTime, &s.QueryCount,
			&s.CacheHitRate, &s.DBSizeMB, &s.MemoryMB, &s.CPUPercent, &s.DiskIOReadMB,
			&s.DiskIOWriteMB, &s.ActiveConnections, &s.SlowQueries, &s.ErrorRate, &s.HealthScore); err != nil {
			return err
		}
		return f(&s)
	})
}

func (d *genjiDB) DeleteMetricSamplesBefore(ctx context.Context, beforeTs int64) (int64, error) {
	count, err := d.countRows(ctx, "SELECT id FROM metric_samples WHERE ts < ?", beforeTs)
	if err != nil {
		return 0, err
	}
	if err := d.db.WithContext(ctx).Exec("DELETE FROM metric_samples WHERE ts < ?", beforeTs); err != nil {
		return 0, err
	}
	return count, nil
}

// countRows iterates the query result instead of using an aggregate so
// the counting behavior matches across both engines.
func (d *genjiDB) countRows(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := d.db.WithContext(ctx).Query(query, args...)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	var count int64
	err = res.Iterate(func(doc types.Document) error {
		count++
		return nil
	})
	return count, err
}

func (d *genjiDB) WriteAlert(ctx context.Context, a *monitormeta.Alert) error {
	a.ID = d.alertID.Inc()
	stmt := "INSERT INTO alerts (id, ts, type, severity, message, `value`, threshold, resolved)" +
		" VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	return d.db.WithContext(ctx).Exec(stmt,
		a.ID, a.Timestamp, a.Type, string(a.Severity), a.Message, a.Value, a.Threshold, a.Resolved)
}

func (d *genjiDB) QueryAlertsSince(ctx context.Context, sinceTs int64, f func(*monitormeta.Alert) error) error {
	stmt := "SELECT id, ts, type, severity, message, `value`, threshold, resolved" +
		" FROM alerts WHERE ts >= ? ORDER BY ts"
	res, err := d.db.WithContext(ctx).Query(stmt, sinceTs)
	if err != nil {
		return err
	}
	defer res.Close()
	return res.Iterate(func(doc types.Document) error {
		var a monitormeta.Alert
		var severity string
		if err := document.Scan(doc, &a.ID, &a.Timestamp, &a.Type, &severity, &a.Message,
			&a.Value, &a.Threshold, &a.Resolved); err != nil {
			return err
		}
		a.Severity = monitormeta.AlertSeverity(severity)
		return f(&a)
	})
}

func (d *genjiDB) CountOpenAlerts(ctx context.Context) (total int64, high int64, err error) {
	res, err := d.db.WithContext(ctx).Query("SELECT severity FROM alerts WHERE resolved = ?", false)
	if err != nil {
		return 0, 0, err
	}
	defer res.Close()
	err = res.Iterate(func(doc types.Document) error {
		var severity string
		if err := document.Scan(doc, &severity); err != nil {
			return err
		}
		total++
		if monitormeta.AlertSeverity(severity) == monitormeta.SeverityHigh {
			high++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return total, high, nil
}

func (d *genjiDB) ResolveAlert(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).Exec("UPDATE alerts SET resolved = ? WHERE id = ?", true, id)
}

func (d *genjiDB) DeleteResolvedAlertsBefore(ctx context.Context, beforeTs int64) (int64, error) {
	count, err := d.countRows(ctx, "SELECT id FROM alerts WHERE resolved = ? AND ts < ?", true, beforeTs)
	if err != nil {
		return 0, err
	}
	if err := d.db.WithContext(ctx).Exec("DELETE FROM alerts WHERE resolved = ? AND ts < ?", true, beforeTs); err != nil {
		return 0, err
	}
	return count, nil
}

func (d *genjiDB) WriteOptimizationRecord(ctx context.Context, r *optimizermeta.Record) error {
	r.ID = d.recordID.Inc()
	stmt := `INSERT INTO optimization_records
		(id, ts, type, priority, description, estimated_improvement, success, actual_improvement,
		 implementation_time_ms, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return d.db.WithContext(ctx).Exec(stmt,
		r.ID, r.Timestamp, string(r.Type), string(r.Priority), r.Description, r.EstimatedImprovementPct,
		r.Success, r.ActualImprovementPct, r.ImplementationTimeMs, r.Error, r.Details)
}

func (d *genjiDB) QueryOptimizationRecordsSince(ctx context.Context, sinceTs int64, f func(*optimizermeta.Record) error) error {
	stmt := `SELECT id, ts, type, priority, description, estimated_improvement, success,
		actual_improvement, implementation_time_ms, error, details
		FROM optimization_records WHERE ts >= ? ORDER BY ts`
	res, err := d.db.WithContext(ctx).Query(stmt, sinceTs)
	if err != nil {
		return err
	}
	defer res.Close()
	return res.Iterate(func(doc types.Document) error {
		var r optimizermeta.Record
		var typ, priority string
		if err := document.Scan(doc, &r.ID, &r.Timestamp, &typ, &priority, &r.Description,
			&r.EstimatedImprovementPct, &r.Success, &r.ActualImprovementPct,
			&r.ImplementationTimeMs, &r.Error, &r.Details); err != nil {
			return err
		}
		r.Type = optimizermeta.RecommendationType(typ)
		r.Priority = optimizermeta.Priority(priority)
		return f(&r)
	})
}

func (d *genjiDB) WriteBenchmarkResult(ctx context.Context, r *regressionmeta.Result) error {
	samples, err := json.Marshal(r.SamplesMs)
	if err != nil {
		return err
	}
	r.ID = d.resultID.Inc()
	stmt := `INSERT INTO benchmark_results
		(id, ts, name, samples, mean_ms, median_ms, min_ms, max_ms, stdev_ms, performance_ratio, passed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return d.db.WithContext(ctx).Exec(stmt,
		r.ID, r.Timestamp, r.BenchmarkName, string(samples), r.MeanMs, r.MedianMs, r.MinMs, r.MaxMs,
		r.StdevMs, r.PerformanceRatio, r.Passed, r.Error)
}

func (d *genjiDB) QueryBenchmarkResultsSince(ctx context.Context, sinceTs int64, f func(*regressionmeta.Result) error) error {
	stmt := `SELECT id, ts, name, samples, mean_ms, median_ms, min_ms, max_ms, stdev_ms,
		performance_ratio, passed, error
		FROM benchmark_results WHERE ts >= ? ORDER BY ts`
	res, err := d.db.WithContext(ctx).Query(stmt, sinceTs)
	if err != nil {
		return err
	}
	defer res.Close()
	return res.Iterate(func(doc types.Document) error {
		var r regressionmeta.Result
		var samples string
		if err := document.Scan(doc, &r.ID, &r.Timestamp, &r.BenchmarkName, &samples, &r.MeanMs,
			&r.MedianMs, &r.MinMs, &r.MaxMs, &r.StdevMs, &r.PerformanceRatio, &r.Passed, &r.Error); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(samples), &r.SamplesMs); err != nil {
			return err
		}
		return f(&r)
	})
}

func (d *genjiDB) SaveBaseline(ctx context.Context, results []*regressionmeta.Result) error {
	if err := d.db.WithContext(ctx).Exec("DELETE FROM baseline_snapshot"); err != nil {
		return errors.Wrap(err, "failed to clear baseline snapshot")
	}
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		err = d.db.WithContext(ctx).Exec("INSERT INTO baseline_snapshot (name, result) VALUES (?, ?)",
			r.BenchmarkName, string(data))
		if err != nil {
			return errors.Wrapf(err, "failed to save baseline for benchmark %s", r.BenchmarkName)
		}
	}
	return nil
}

func (d *genjiDB) LoadBaseline(ctx context.Context) (map[string]*regressionmeta.Result, error) {
	res, err := d.db.WithContext(ctx).Query("SELECT name, result FROM baseline_snapshot")
	if err != nil {
		return nil, err
	}
	defer res.Close()
	baseline := make(map[string]*regressionmeta.Result)
	err = res.Iterate(func(doc types.Document) error {
		var name, data string
		if err := document.Scan(doc, &name, &data); err != nil {
			return err
		}
		var r regressionmeta.Result
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return err
		}
		baseline[name] = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return baseline, nil
}

func (d *genjiDB) Compact(ctx context.Context) error {
	if d.badgerDB == nil {
		return nil
	}
	runValueLogGC(d.badgerDB)
	return nil
}

func doValueLogGCLoop(db *badger.DB, closed chan struct{}) {
	log.Info("badger start to run value log gc loop")
	ticker := time.NewTicker(10 * time.Minute)
	defer func() {
		ticker.Stop()
		log.Info("badger stop running value log gc loop")
	}()

	// run gc when started.
	runValueLogGC(db)
	for {
		select {
		case <-ticker.C:
			runValueLogGC(db)
		case <-closed:
			return
		}
	}
}

func runValueLogGC(db *badger.DB) {
	// at most do 10 value log gc each time.
	for i := 0; i < 10; i++ {
		err := db.RunValueLogGC(0.1)
		if err != nil {
			if err == badger.ErrNoRewrite {
				log.Info("badger has no value log need gc now")
			} else {
				log.Error("badger run value log gc failed", zap.Error(err))
			}
			return
		}
		log.Info("badger run value log gc success")
	}
}
