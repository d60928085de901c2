package docdb

import (
	"context"
	"io"

	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	optimizermeta "github.com/dataqual/perfmon/component/optimizer/meta"
	regressionmeta "github.com/dataqual/perfmon/component/regression/meta"

	"github.com/pkg/errors"
)

// DocDB is the append-only metrics store. Samples, alerts, optimization
// records and benchmark results are single-row inserts with no
// read-modify-write races; the only mutable rows are the alert resolved
// flag and the baseline snapshot.
type DocDB interface {
	io.Closer

	SaveConfig(ctx context.Context, cfg map[string]string) error
	LoadConfig(ctx context.Context) (map[string]string, error)

	WriteMetricSample(ctx context.Context, sample *monitormeta.MetricSample) error
	// QueryMetricSamplesSince iterates samples with timestamp >= sinceTs
	// in ascending timestamp order.
	QueryMetricSamplesSince(ctx context.Context, sinceTs int64, f func(*monitormeta.MetricSample) error) error
	// DeleteMetricSamplesBefore deletes exactly the samples with
	// timestamp < beforeTs and returns the deleted count.
	DeleteMetricSamplesBefore(ctx context.Context, beforeTs int64) (int64, error)

	WriteAlert(ctx context.Context, alert *monitormeta.Alert) error
	QueryAlertsSince(ctx context.Context, sinceTs int64, f func(*monitormeta.Alert) error) error
	CountOpenAlerts(ctx context.Context) (total int64, high int64, err error)
	ResolveAlert(ctx context.Context, id int64) error
	DeleteResolvedAlertsBefore(ctx context.Context, beforeTs int64) (int64, error)

	WriteOptimizationRecord(ctx context.Context, record *optimizermeta.Record) error
	QueryOptimizationRecordsSince(ctx context.Context, sinceTs int64, f func(*optimizermeta.Record) error) error

	WriteBenchmarkResult(ctx context.Context, result *regressionmeta.Result) error
	QueryBenchmarkResultsSince(ctx context.Context, sinceTs int64, f func(*regressionmeta.Result) error) error

	// SaveBaseline replaces the whole baseline snapshot. Unlike the
	// other writes its failure is surfaced to the caller, since an
	// operator must know the baseline did not change.
	SaveBaseline(ctx context.Context, results []*regressionmeta.Result) error
	LoadBaseline(ctx context.Context) (map[string]*regressionmeta.Result, error)

	// Compact reclaims disk space. It backs the auto-implementable
	// resource optimization.
	Compact(ctx context.Context) error
}

var ErrStoreClosed = errors.New("doc store is closed")

const (
	EngineSQLite = "sqlite"
	EngineGenji  = "genji"
)

// Options selects and tunes the storage engine. The badger knobs only
// apply to the genji engine.
type Options struct {
	Engine   string
	Path     string
	LogPath  string
	LogLevel string

	Badger BadgerOptions
}

type BadgerOptions struct {
	LSMOnly              bool
	SyncWrites           bool
	NumGoroutines        int
	MemTableSize         int64
	ValueThreshold       int64
	BlockCacheSize       int64
	IndexCacheSize       int64
	NumCompactors        int
	ZSTDCompressionLevel int
	BloomFalsePositive   float64
}

// Open constructs the configured engine.
func Open(ctx context.Context, opts *Options) (DocDB, error) {
	switch opts.Engine {
	case EngineSQLite:
		return NewSQLiteDB(opts.Path)
	case EngineGenji:
		return NewGenjiDB(ctx, opts)
	default:
		return nil, errors.Errorf("unknown docdb engine %q", opts.Engine)
	}
}
