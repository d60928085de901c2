package config

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type Config struct {
	Address          string     `toml:"address" json:"address"`
	AdvertiseAddress string     `toml:"advertise-address" json:"advertise_address"`
	Log              Log        `toml:"log" json:"log"`
	Storage          Storage    `toml:"storage" json:"storage"`
	DocDB            DocDB      `toml:"docdb" json:"docdb"`
	Monitor          Monitor    `toml:"monitor" json:"monitor"`
	Target           Target     `toml:"target" json:"target"`
	Optimizer        Optimizer  `toml:"optimizer" json:"optimizer"`
	Regression       Regression `toml:"regression" json:"regression"`
	Retention        Retention  `toml:"retention" json:"retention"`
}

var defaultConfig = Config{
	Address: "0.0.0.0:12020",
	Log: Log{
		Path:  "", // default output is stdout
		Level: "INFO",
	},
	Storage: Storage{
		Path: "data",
	},
	DocDB: DocDB{
		Engine:               "sqlite",
		LSMOnly:              false,
		SyncWrites:           false,
		NumGoroutines:        8,
		MemTableSize:         64 << 20,
		ValueThreshold:       1 << 20,
		BlockCacheSize:       256 << 20,
		IndexCacheSize:       0,
		NumCompactors:        4,
		ZSTDCompressionLevel: 1,
		BloomFalsePositive:   0.01,
	},
	Monitor: Monitor{
		IntervalSeconds:          30,
		WindowSize:               1000,
		SampleBackoffSeconds:     5,
		SeverityBreachMultiplier: 2.0,
	},
	Target: Target{
		MaxQueryTimeMs:     100,
		TargetCacheHitRate: 90,
		MaxCPUPercent:      80,
		MaxMemoryMB:        1024,
		MinHealthScore:     70,
		MaxErrorRate:       0.05,
	},
	Optimizer: Optimizer{
		AutoIntervalSeconds:  3600,
		AutoImplement:        true,
		ProactiveHealthScore: 90,
	},
	Regression: Regression{
		IntervalSeconds:      24 * 60 * 60,
		WorkerCount:          4,
		RegressionThreshold:  0.10,
		ImprovementThreshold: 0.10,
		CoreTag:              "core",
	},
	Retention: Retention{
		SampleRetentionDays:        30,
		ResolvedAlertRetentionDays: 7,
		CleanupIntervalSeconds:     24 * 60 * 60,
	},
}

func GetDefaultConfig() Config {
	return defaultConfig
}

type Subscriber = chan GetLatestConfig
type GetLatestConfig = func() Config

var (
	globalConfigMutex sync.Mutex
	globalConfig      = defaultConfig

	subscribersMutex        sync.Mutex
	configChangeSubscribers []Subscriber
)

// Subscribe returns a channel that receives a config getter every
// time the config is changed. By calling the getter, you can get
// the latest config.
//
// There will be one getter in the channel after subscribing. It
// can be used to get the current config immediately as follows.
// ```go
// cfgSubscriber := config.Subscribe()
// getCurrentCfg := <-cfgSubscriber
// currentCfg := getCurrentCfg()
// ```
func Subscribe() Subscriber {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()

	ch := make(chan GetLatestConfig, 1)
	configChangeSubscribers = append(configChangeSubscribers, ch)
	ch <- GetGlobalConfig
	return ch
}

func notifyConfigChange() {
	subscribersMutex.Lock()
	defer subscribersMutex.Unlock()

	for _, ch := range configChangeSubscribers {
		select {
		case ch <- GetGlobalConfig:
		default:
		}
	}
}

func GetGlobalConfig() (res Config) {
	globalConfigMutex.Lock()
	res = globalConfig
	globalConfigMutex.Unlock()
	return
}

// StoreGlobalConfig stores a new config to the globalConfig. It is mostly
// used in tests to avoid some data races.
func StoreGlobalConfig(config Config) {
	globalConfigMutex.Lock()
	globalConfig = config
	globalConfigMutex.Unlock()
	notifyConfigChange()
}

// UpdateGlobalConfig accesses an update function to update the global config
func UpdateGlobalConfig(update func(Config) Config) {
	globalConfigMutex.Lock()
	globalConfig = update(globalConfig)
	globalConfigMutex.Unlock()
	notifyConfigChange()
}

func InitConfig(configPath string, override func(config *Config)) (*Config, error) {
	config := defaultConfig

	if len(configPath) > 0 {
		if err := config.Load(configPath); err != nil {
			return nil, err
		}
	}

	override(&config)

	config.trimFieldSpace()
	config.setDefaultAdvertiseAddress()

	if err := config.valid(); err != nil {
		return nil, err
	}
	StoreGlobalConfig(config)
	return &config, nil
}

func (c *Config) trimFieldSpace() {
	c.Address = strings.TrimSpace(c.Address)
	c.AdvertiseAddress = strings.TrimSpace(c.AdvertiseAddress)
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
}

func (c *Config) Load(fileName string) error {
	_, err := toml.DecodeFile(fileName, c)
	return err
}

func (c *Config) setDefaultAdvertiseAddress() {
	if len(c.AdvertiseAddress) == 0 && strings.HasPrefix(c.Address, "0.0.0.0") {
		ip := getLocalIP()
		c.AdvertiseAddress = strings.Replace(c.Address, "0.0.0.0", ip, 1)
	}
	if len(c.AdvertiseAddress) == 0 {
		c.AdvertiseAddress = c.Address
	}
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}

func (c *Config) valid() error {
	var err error

	if err = validateAddress(c.Address, "address"); err != nil {
		return err
	}

	if err = validateAddress(c.AdvertiseAddress, "advertise-address"); err != nil {
		return err
	}

	if err = c.Log.valid(); err != nil {
		return err
	}

	if err = c.Storage.valid(); err != nil {
		return err
	}

	if err = c.DocDB.valid(); err != nil {
		return err
	}

	if err = c.Monitor.valid(); err != nil {
		return err
	}

	if err = c.Target.Valid(); err != nil {
		return err
	}

	if err = c.Regression.valid(); err != nil {
		return err
	}

	if err = c.Retention.valid(); err != nil {
		return err
	}

	return nil
}

func validateAddress(address, name string) error {
	if len(address) == 0 {
		return fmt.Errorf("unexpected empty %v", name)
	}
	_, port, err := net.SplitHostPort(address)
	if err == nil {
		var p int
		p, err = strconv.Atoi(port)
		if err == nil && p == 0 {
			err = fmt.Errorf("port cannot be set to 0")
		}
	}
	if err != nil {
		return fmt.Errorf("%v %v is invalid, err: %v", name, address, err)
	}
	return nil
}

type Storage struct {
	Path string `toml:"path" json:"path"`
}

func (s *Storage) valid() error {
	if len(s.Path) == 0 {
		return fmt.Errorf("unexpected empty storage path")
	}

	return nil
}

type Log struct {
	Path  string `toml:"path" json:"path"`
	Level string `toml:"level" json:"level"`
}

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

func (l *Log) valid() error {
	if len(l.Level) == 0 {
		return fmt.Errorf("unexpected empty log level")
	}

	switch l.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("log level should be %s, %s, %s or %s", LevelDebug, LevelInfo, LevelWarn, LevelError)
	}

	return nil
}

func (l *Log) InitDefaultLogger() {
	cfg := &log.Config{Level: strings.ToLower(l.Level)}
	if l.Path != "" {
		cfg.File = log.FileLogConfig{Filename: path.Join(l.Path, "perfmon.log")}
	}

	logger, p, err := log.InitLogger(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to init logger, err: %v", err)
	}
	log.ReplaceGlobals(logger, p)
}

const (
	EngineSQLite = "sqlite"
	EngineGenji  = "genji"
)

type DocDB struct {
	Engine               string  `toml:"engine" json:"engine"`
	LSMOnly              bool    `toml:"lsm-only" json:"lsm_only"`
	SyncWrites           bool    `toml:"sync-writes" json:"sync_writes"`
	NumGoroutines        int     `toml:"num-goroutines" json:"num_goroutines"`
	MemTableSize         int64   `toml:"mem-table-size" json:"mem_table_size"`
	ValueThreshold       int64   `toml:"value-threshold" json:"value_threshold"`
	BlockCacheSize       int64   `toml:"block-cache-size" json:"block_cache_size"`
	IndexCacheSize       int64   `toml:"index-cache-size" json:"index_cache_size"`
	NumCompactors        int     `toml:"num-compactors" json:"num_compactors"`
	ZSTDCompressionLevel int     `toml:"zstd-compression-level" json:"zstd_compression_level"`
	BloomFalsePositive   float64 `toml:"bloom-false-positive" json:"bloom_false_positive"`
}

func (d *DocDB) valid() error {
	switch d.Engine {
	case EngineSQLite, EngineGenji:
	default:
		return fmt.Errorf("docdb engine should be %s or %s", EngineSQLite, EngineGenji)
	}
	return nil
}

// Monitor configures the sampling loop.
type Monitor struct {
	IntervalSeconds      int `toml:"interval-seconds" json:"interval_seconds"`
	WindowSize           int `toml:"window-size" json:"window_size"`
	SampleBackoffSeconds int `toml:"sample-backoff-seconds" json:"sample_backoff_seconds"`
	// SeverityBreachMultiplier controls when a threshold breach is
	// escalated from MEDIUM to HIGH severity.
	SeverityBreachMultiplier float64 `toml:"severity-breach-multiplier" json:"severity_breach_multiplier"`
}

func (m *Monitor) valid() error {
	if m.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor interval-seconds should be positive, got %v", m.IntervalSeconds)
	}
	if m.WindowSize <= 0 {
		return fmt.Errorf("monitor window-size should be positive, got %v", m.WindowSize)
	}
	if m.SeverityBreachMultiplier <= 1 {
		return fmt.Errorf("monitor severity-breach-multiplier should be greater than 1, got %v", m.SeverityBreachMultiplier)
	}
	return nil
}

// Target holds the performance thresholds the monitor evaluates every
// sample against. It can be modified at runtime through the HTTP config
// service or a SIGHUP reload.
type Target struct {
	MaxQueryTimeMs     float64 `toml:"max-query-time-ms" json:"max_query_time_ms"`
	TargetCacheHitRate float64 `toml:"target-cache-hit-rate" json:"target_cache_hit_rate"`
	MaxCPUPercent      float64 `toml:"max-cpu-percent" json:"max_cpu_percent"`
	MaxMemoryMB        float64 `toml:"max-memory-mb" json:"max_memory_mb"`
	MinHealthScore     float64 `toml:"min-health-score" json:"min_health_score"`
	MaxErrorRate       float64 `toml:"max-error-rate" json:"max_error_rate"`
}

func (t *Target) Valid() error {
	if t.MaxQueryTimeMs <= 0 {
		return fmt.Errorf("target max-query-time-ms should be positive, got %v", t.MaxQueryTimeMs)
	}
	if t.TargetCacheHitRate <= 0 || t.TargetCacheHitRate > 100 {
		return fmt.Errorf("target target-cache-hit-rate should be in (0, 100], got %v", t.TargetCacheHitRate)
	}
	if t.MaxCPUPercent <= 0 {
		return fmt.Errorf("target max-cpu-percent should be positive, got %v", t.MaxCPUPercent)
	}
	if t.MaxMemoryMB <= 0 {
		return fmt.Errorf("target max-memory-mb should be positive, got %v", t.MaxMemoryMB)
	}
	if t.MinHealthScore < 0 || t.MinHealthScore > 100 {
		return fmt.Errorf("target min-health-score should be in [0, 100], got %v", t.MinHealthScore)
	}
	if t.MaxErrorRate < 0 || t.MaxErrorRate > 1 {
		return fmt.Errorf("target max-error-rate should be in [0, 1], got %v", t.MaxErrorRate)
	}
	return nil
}

// Optimizer configures the auto-optimization loop.
type Optimizer struct {
	AutoIntervalSeconds int  `toml:"auto-interval-seconds" json:"auto_interval_seconds"`
	AutoImplement       bool `toml:"auto-implement" json:"auto_implement"`
	// ProactiveHealthScore is the health score above which the optimizer
	// emits low priority proactive recommendations instead of bottleneck
	// driven ones.
	ProactiveHealthScore float64 `toml:"proactive-health-score" json:"proactive_health_score"`
}

// Regression configures the benchmark regression loop.
type Regression struct {
	IntervalSeconds int `toml:"interval-seconds" json:"interval_seconds"`
	WorkerCount     int `toml:"worker-count" json:"worker_count"`
	// RegressionThreshold and ImprovementThreshold bound the dead-band
	// around the baseline mean. Runs inside the band are reported as
	// stable to suppress noise driven false positives.
	RegressionThreshold  float64 `toml:"regression-threshold" json:"regression_threshold"`
	ImprovementThreshold float64 `toml:"improvement-threshold" json:"improvement_threshold"`
	CoreTag              string  `toml:"core-tag" json:"core_tag"`
}

func (r *Regression) valid() error {
	if r.WorkerCount <= 0 {
		return fmt.Errorf("regression worker-count should be positive, got %v", r.WorkerCount)
	}
	if r.RegressionThreshold <= 0 {
		return fmt.Errorf("regression regression-threshold should be positive, got %v", r.RegressionThreshold)
	}
	if r.ImprovementThreshold <= 0 {
		return fmt.Errorf("regression improvement-threshold should be positive, got %v", r.ImprovementThreshold)
	}
	return nil
}

// Retention configures the cleanup loop.
type Retention struct {
	SampleRetentionDays        int `toml:"sample-retention-days" json:"sample_retention_days"`
	ResolvedAlertRetentionDays int `toml:"resolved-alert-retention-days" json:"resolved_alert_retention_days"`
	CleanupIntervalSeconds     int `toml:"cleanup-interval-seconds" json:"cleanup_interval_seconds"`
}

func (r *Retention) valid() error {
	if r.SampleRetentionDays <= 0 {
		return fmt.Errorf("retention sample-retention-days should be positive, got %v", r.SampleRetentionDays)
	}
	if r.ResolvedAlertRetentionDays <= 0 {
		return fmt.Errorf("retention resolved-alert-retention-days should be positive, got %v", r.ResolvedAlertRetentionDays)
	}
	return nil
}

// ReloadRoutine reloads the tunable threshold section from the config
// file on SIGHUP. Structural sections (address, storage, docdb) require
// a restart and are left untouched.
func ReloadRoutine(ctx context.Context, configPath string) {
	if len(configPath) == 0 {
		log.Warn("failed to reload config due to empty config path. Please specify the command line argument \"--config <path>\"")
		return
	}
	sighupCh := make(chan os.Signal, 1)
	signal.Notify(sighupCh, syscall.SIGHUP)
	defer signal.Stop(sighupCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sighupCh:
			log.Info("received SIGHUP and ready to reload config")
		}
		newCfg := new(Config)

		if err := newCfg.Load(configPath); err != nil {
			log.Warn("failed to reload config", zap.Error(err))
			continue
		}

		if err := newCfg.Target.Valid(); err != nil {
			log.Warn("failed to reload config", zap.Error(err))
			continue
		}

		UpdateGlobalConfig(func(curCfg Config) Config {
			if curCfg.Target == newCfg.Target {
				return curCfg
			}

			curCfg.Target = newCfg.Target
			log.Info("performance targets changed", zap.Any("target", curCfg.Target))
			return curCfg
		})
	}
}
