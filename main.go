package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dataqual/perfmon/component/dashboard"
	"github.com/dataqual/perfmon/component/monitor"
	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/regression"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"
	"github.com/dataqual/perfmon/service"
	"github.com/dataqual/perfmon/service/http"
	"github.com/dataqual/perfmon/utils"
	"github.com/dataqual/perfmon/utils/printer"

	"github.com/pingcap/log"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	nmVersion     = "version"
	nmAddr        = "address"
	nmConfig      = "config"
	nmLogPath     = "log.path"
	nmStoragePath = "storage.path"
)

var (
	version     = pflag.BoolP(nmVersion, "V", false, "print version information and exit")
	addr        = pflag.String(nmAddr, "", "TCP address to listen for http connections")
	configPath  = pflag.String(nmConfig, "", "config file path")
	logPath     = pflag.String(nmLogPath, "", "log file path")
	storagePath = pflag.String(nmStoragePath, "", "storage path")
)

func main() {
	// There are dependencies that use `flag`.
	// For isolation and avoiding conflict, we use another command line parser package `pflag`.
	pflag.Parse()

	if *version {
		fmt.Println(printer.GetPerfmonInfo())
		os.Exit(0)
	}

	cfg, err := config.InitConfig(*configPath, overrideConfig)
	if err != nil {
		log.Fatal("failed to initialize config", zap.Error(err))
	}

	cfg.Log.InitDefaultLogger()
	printer.PrintPerfmonInfo()
	log.Info("config", zap.Any("config", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := docdb.Open(ctx, &docdb.Options{
		Engine:   cfg.DocDB.Engine,
		Path:     cfg.Storage.Path,
		LogPath:  cfg.Log.Path,
		LogLevel: cfg.Log.Level,
		Badger: docdb.BadgerOptions{
			LSMOnly:              cfg.DocDB.LSMOnly,
			SyncWrites:           cfg.DocDB.SyncWrites,
			NumGoroutines:        cfg.DocDB.NumGoroutines,
			MemTableSize:         cfg.DocDB.MemTableSize,
			ValueThreshold:       cfg.DocDB.ValueThreshold,
			BlockCacheSize:       cfg.DocDB.BlockCacheSize,
			IndexCacheSize:       cfg.DocDB.IndexCacheSize,
			NumCompactors:        cfg.DocDB.NumCompactors,
			ZSTDCompressionLevel: cfg.DocDB.ZSTDCompressionLevel,
			BloomFalsePositive:   cfg.DocDB.BloomFalsePositive,
		},
	})
	if err != nil {
		log.Fatal("failed to open doc store", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close doc store", zap.Error(err))
		}
	}()

	if err = config.LoadConfigFromStorage(ctx, db); err != nil {
		log.Fatal("failed to load config from storage", zap.Error(err))
	}

	mon := monitor.NewMonitor(db, monitor.NewProcessSampler())
	opt := optimizer.NewOptimizer(db, mon)
	tester := regression.NewTester(db)
	if err = regression.RegisterBuiltin(tester, db, cfg.Regression.CoreTag); err != nil {
		log.Fatal("failed to register benchmark catalog", zap.Error(err))
	}

	dash := dashboard.NewDashboard(db, mon, opt, tester)
	dash.Start()
	defer dash.Stop()

	service.Init(cfg, &http.Components{
		DocDB:     db,
		Monitor:   mon,
		Optimizer: opt,
		Tester:    tester,
		Dashboard: dash,
	})
	defer service.Stop()

	go utils.GoWithRecovery(func() {
		config.ReloadRoutine(ctx, *configPath)
	}, nil)

	sig := waitForSigterm()
	log.Info("received signal", zap.String("sig", sig.String()))
}

func overrideConfig(config *config.Config) {
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case nmAddr:
			config.Address = *addr
		case nmLogPath:
			config.Log.Path = *logPath
		case nmStoragePath:
			config.Storage.Path = *storagePath
		}
	})
}

// waitForSigterm blocks until the process is asked to stop. SIGHUP is
// not subscribed here, the config reload routine owns it.
func waitForSigterm() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	signal.Stop(ch)
	return sig
}
