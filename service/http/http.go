package http

import (
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/dataqual/perfmon/component/dashboard"
	"github.com/dataqual/perfmon/component/monitor"
	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/regression"
	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/database/docdb"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	httpServer *http.Server = nil
)

// Components bundles everything the HTTP surface exposes.
type Components struct {
	DocDB     docdb.DocDB
	Monitor   *monitor.Monitor
	Optimizer *optimizer.Optimizer
	Tester    *regression.Tester
	Dashboard *dashboard.Dashboard
}

func ServeHTTP(l *config.Log, listener net.Listener, components *Components) {
	gin.SetMode(gin.ReleaseMode)

	var logFile *os.File
	var err error
	if l.Path != "" {
		logFileName := path.Join(l.Path, "service.log")
		logFile, err = os.OpenFile(logFileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatal("Failed to open the log file", zap.String("filename", logFileName))
		}
	} else {
		logFile = os.Stdout
	}

	ng := newRouter(components, gin.LoggerWithWriter(logFile), gin.Recovery())

	httpServer = &http.Server{
		Handler:           ng,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err = httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Warn("failed to serve http service", zap.Error(err))
	}
}

func newRouter(components *Components, middleware ...gin.HandlerFunc) *gin.Engine {
	ng := gin.New()
	ng.Use(middleware...)

	ng.Handle(http.MethodGet, "/health", func(g *gin.Context) {
		g.JSON(http.StatusOK, Status{Health: true})
	})
	ng.Handle(http.MethodGet, "/status", func(g *gin.Context) {
		g.JSON(http.StatusOK, components.Dashboard.GetStatus(g.Request.Context()))
	})
	ng.Handle(http.MethodGet, "/summary", func(g *gin.Context) {
		hours := parseFloatQuery(g, "hours", 24)
		g.JSON(http.StatusOK, components.Monitor.GetSummary(g.Request.Context(), hours))
	})
	ng.Handle(http.MethodGet, "/report", func(g *gin.Context) {
		hours := parseFloatQuery(g, "hours", 24)
		g.String(http.StatusOK, components.Monitor.GenerateReport(g.Request.Context(), hours, nil))
	})

	configGroup := ng.Group("/config")
	config.HTTPService(configGroup, components.DocDB)

	optimizeGroup := ng.Group("/optimize")
	optimizerHTTPService(optimizeGroup, components.Optimizer)

	regressionGroup := ng.Group("/regression")
	regressionHTTPService(regressionGroup, components.Tester)

	// register pprof http api
	pprof.Register(ng)

	promHandler := promhttp.Handler()
	promGroup := ng.Group("/metrics")
	promGroup.Any("", func(c *gin.Context) {
		promHandler.ServeHTTP(c.Writer, c.Request)
	})
	return ng
}

func parseFloatQuery(g *gin.Context, name string, def float64) float64 {
	raw := g.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

type Status struct {
	Health bool `json:"health"`
}

func StopHTTP() {
	if httpServer == nil {
		return
	}

	log.Info("shutting down http server")
	_ = httpServer.Close()
	log.Info("http server is down")
}
