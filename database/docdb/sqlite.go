package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"path"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	optimizermeta "github.com/dataqual/perfmon/component/optimizer/meta"
	regressionmeta "github.com/dataqual/perfmon/component/regression/meta"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type sqliteDB struct {
	db *sql.DB

	writeSampleStmt *sql.Stmt
	writeAlertStmt  *sql.Stmt
}

func NewSQLiteDB(dbPath string) (DocDB, error) {
	dbPath = path.Join(dbPath, "perfmon.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite db at %s", dbPath)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	d := &sqliteDB{db: db}
	if err := d.tryInitTables(); err != nil {
		return nil, err
	}
	writeSampleSQL := `INSERT INTO metric_samples
		(ts, query_time_ms, query_count, cache_hit_rate, db_size_mb, memory_mb, cpu_percent,
		 disk_read_mb, disk_write_mb, active_connections, slow_queries, error_rate, health_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	d.writeSampleStmt, err = d.db.Prepare(writeSampleSQL)
	if err != nil {
		return nil, err
	}
	writeAlertSQL := `INSERT INTO alerts (ts, type, severity, message, value, threshold, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	d.writeAlertStmt, err = d.db.Prepare(writeAlertSQL)
	if err != nil {
		return nil, err
	}
	log.Info("sqlite doc store is ready", zap.String("path", dbPath))
	return d, nil
}

func (d *sqliteDB) tryInitTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS perfmon_config (module TEXT PRIMARY KEY, config TEXT)`,
		`CREATE TABLE IF NOT EXISTS metric_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER,
			query_time_ms REAL,
			query_count INTEGER,
			cache_hit_rate REAL,
			db_size_mb REAL,
			memory_mb REAL,
			cpu_percent REAL,
			disk_read_mb REAL,
			disk_write_mb REAL,
			active_connections INTEGER,
			slow_queries INTEGER,
			error_rate REAL,
			health_score REAL)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER,
			type TEXT,
			severity TEXT,
			message TEXT,
			value REAL,
			threshold REAL,
			resolved BOOLEAN)`,
		`CREATE TABLE IF NOT EXISTS optimization_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER,
			type TEXT,
			priority TEXT,
			description TEXT,
			estimated_improvement REAL,
			success BOOLEAN,
			actual_improvement REAL,
			implementation_time_ms REAL,
			error TEXT,
			details TEXT)`,
		`CREATE TABLE IF NOT EXISTS benchmark_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER,
			name TEXT,
			samples TEXT,
			mean_ms REAL,
			median_ms REAL,
			min_ms REAL,
			max_ms REAL,
			stdev_ms REAL,
			performance_ratio REAL,
			passed BOOLEAN,
			error TEXT)`,
		`CREATE TABLE IF NOT EXISTS baseline_snapshot (name TEXT PRIMARY KEY, result TEXT)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_ts ON metric_samples (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_optimization_records_ts ON optimization_records (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_benchmark_results_ts ON benchmark_results (ts)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (d *sqliteDB) Close() error {
	return d.db.Close()
}

func (d *sqliteDB) SaveConfig(ctx context.Context, cfg map[string]string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM perfmon_config`)
	if err != nil {
		return err
	}
	for module, data := range cfg {
		_, err = d.db.ExecContext(ctx, "INSERT INTO perfmon_config (module, config) VALUES (?, ?)", module, data)
		if err != nil {
			return err
		}
		log.Info("save config into storage", zap.String("module", module), zap.String("config", data))
	}
	return nil
}

func (d *sqliteDB) LoadConfig(ctx context.Context) (map[string]string, error) {
	res, err := d.db.QueryContext(ctx, `SELECT module, config FROM perfmon_config`)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	cfgMap := make(map[string]string)
	for res.Next() {
		var module, config string
		if err := res.Scan(&module, &config); err != nil {
			return nil, err
		}
		cfgMap[module] = config
	}
	return cfgMap, res.Err()
}

func (d *sqliteDB) WriteMetricSample(ctx context.Context, s *monitormeta.MetricSample) error {
	res, err := d.writeSampleStmt.ExecContext(ctx,
		s.Timestamp, s.QueryExecutionTime, s.QueryCount, s.CacheHitRate, s.DBSizeMB,
		s.MemoryMB, s.CPUPercent, s.DiskIOReadMB, s.DiskIOWriteMB,
		s.ActiveConnections, s.SlowQueries, s.ErrorRate, s.HealthScore)
	if err != nil {
		return err
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

func (d *sqliteDB) QueryMetricSamplesSince(ctx context.Context, sinceTs int64, f func(*monitormeta.MetricSample) error) error {
	rows, err := d.db.QueryContext(ctx, `SELECT id, ts, query_time_ms, query_count, cache_hit_rate,
		db_size_mb, memory_mb, cpu_percent, disk_read_mb, disk_write_mb, active_connections,
		slow_queries, error_rate, health_score
		FROM metric_samples WHERE ts >= ? ORDER BY ts`, sinceTs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var s monitormeta.MetricSample
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.QueryExecutionTime, &s.QueryCount,
			&s.CacheHitRate, &s.DBSizeMB, &s.MemoryMB, &s.CPUPercent, &s.DiskIOReadMB,
			&s.DiskIOWriteMB, &s.ActiveConnections, &s.SlowQueries, &s.ErrorRate, &s.HealthScore); err != nil {
			return err
		}
		if err := f(&s); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *sqliteDB) DeleteMetricSamplesBefore(ctx context.Context, beforeTs int64) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM metric_samples WHERE ts < ?`, beforeTs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *sqliteDB) WriteAlert(ctx context.Context, a *monitormeta.Alert) error {
	res, err := d.writeAlertStmt.ExecContext(ctx,
		a.Timestamp, a.Type, string(a.Severity), a.Message, a.Value, a.Threshold, a.Resolved)
	if err != nil {
		return err
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (d *sqliteDB) QueryAlertsSince(ctx context.Context, sinceTs int64, f func(*monitormeta.Alert) error) error {
	rows, err := d.db.QueryContext(ctx, `SELECT id, ts, type, severity, message, value, threshold, resolved
		FROM alerts WHERE ts >= ? ORDER BY ts`, sinceTs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a monitormeta.Alert
		var severity string
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Type, &severity, &a.Message,
			&a.Value, &a.Threshold, &a.Resolved); err != nil {
			return err
		}
		a.Severity = monitormeta.AlertSeverity(severity)
		if err := f(&a); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *sqliteDB) CountOpenAlerts(ctx context.Context) (total int64, high int64, err error) {
	row := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = 0`)
	if err = row.Scan(&total); err != nil {
		return 0, 0, err
	}
	row = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = 0 AND severity = ?`,
		string(monitormeta.SeverityHigh))
	if err = row.Scan(&high); err != nil {
		return 0, 0, err
	}
	return total, high, nil
}

func (d *sqliteDB) ResolveAlert(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE alerts SET resolved = 1 WHERE id = ?`, id)
	return err
}

func (d *sqliteDB) DeleteResolvedAlertsBefore(ctx context.Context, beforeTs int64) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM alerts WHERE resolved = 1 AND ts < ?`, beforeTs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *sqliteDB) WriteOptimizationRecord(ctx context.Context, r *optimizermeta.Record) error {
	res, err := d.db.ExecContext(ctx, `INSERT INTO optimization_records
		(ts, type, priority, description, estimated_improvement, success, actual_improvement,
		 implementation_time_ms, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, string(r.Type), string(r.Priority), r.Description, r.EstimatedImprovementPct,
		r.Success, r.ActualImprovementPct, r.ImplementationTimeMs, r.Error, r.Details)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (d *sqliteDB) QueryOptimizationRecordsSince(ctx context.Context, sinceTs int64, f func(*optimizermeta.Record) error) error {
	rows, err := d.db.QueryContext(ctx, `SELECT id, ts, type, priority, description, estimated_improvement,
		success, actual_improvement, implementation_time_ms, error, details
		FROM optimization_records WHERE ts >= ? ORDER BY ts`, sinceTs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r optimizermeta.Record
		var typ, priority string
		if err := rows.Scan(&r.ID, &r.Timestamp, &typ, &priority, &r.Description,
			&r.EstimatedImprovementPct, &r.Success, &r.ActualImprovementPct,
			&r.ImplementationTimeMs, &r.Error, &r.Details); err != nil {
			return err
		}
		r.Type = optimizermeta.RecommendationType(typ)
		r.Priority = optimizermeta.Priority(priority)
		if err := f(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *sqliteDB) WriteBenchmarkResult(ctx context.Context, r *regressionmeta.Result) error {
	samples, err := json.Marshal(r.SamplesMs)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `INSERT INTO benchmark_results
		(ts, name, samples, mean_ms, median_ms, min_ms, max_ms, stdev_ms, performance_ratio, passed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.BenchmarkName, string(samples), r.MeanMs, r.MedianMs, r.MinMs, r.MaxMs,
		r.StdevMs, r.PerformanceRatio, r.Passed, r.Error)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (d *sqliteDB) QueryBenchmarkResultsSince(ctx context.Context, sinceTs int64, f func(*regressionmeta.Result) error) error {
	rows, err := d.db.QueryContext(ctx, `SELECT id, ts, name, samples, mean_ms, median_ms, min_ms,
		max_ms, stdev_ms, performance_ratio, passed, error
		FROM benchmark_results WHERE ts >= ? ORDER BY ts`, sinceTs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r regressionmeta.Result
		var samples string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.BenchmarkName, &samples, &r.MeanMs,
			&r.MedianMs, &r.MinMs, &r.MaxMs, &r.StdevMs, &r.PerformanceRatio, &r.Passed, &r.Error); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(samples), &r.SamplesMs); err != nil {
			return err
		}
		if err := f(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *sqliteDB) SaveBaseline(ctx context.Context, results []*regressionmeta.Result) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin baseline transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM baseline_snapshot`); err != nil {
		return errors.Wrap(err, "failed to clear baseline snapshot")
	}
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO baseline_snapshot (name, result) VALUES (?, ?)`,
			r.BenchmarkName, string(data)); err != nil {
			return errors.Wrapf(err, "failed to save baseline for benchmark %s", r.BenchmarkName)
		}
	}
	return tx.Commit()
}

func (d *sqliteDB) LoadBaseline(ctx context.Context) (map[string]*regressionmeta.Result, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, result FROM baseline_snapshot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	baseline := make(map[string]*regressionmeta.Result)
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		var r regressionmeta.Result
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		baseline[name] = &r
	}
	return baseline, rows.Err()
}

func (d *sqliteDB) Compact(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `VACUUM`)
	return err
}
