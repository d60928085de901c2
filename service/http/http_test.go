package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dataqual/perfmon/component/dashboard"
	"github.com/dataqual/perfmon/component/monitor"
	monitormeta "github.com/dataqual/perfmon/component/monitor/meta"
	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/regression"
	"github.com/dataqual/perfmon/utils/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type stubSampler struct{}

func (stubSampler) Sample() monitormeta.ResourceStats {
	return monitormeta.ResourceStats{CPUPercent: 10, MemoryMB: 64}
}

func newTestRouter(t *testing.T) (*gin.Engine, func()) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLiteDocDB(t)

	mon := monitor.NewMonitor(db, stubSampler{})
	opt := optimizer.NewOptimizer(db, mon)
	tester := regression.NewTester(db)
	require.NoError(t, regression.RegisterBuiltin(tester, db, "core"))
	dash := dashboard.NewDashboard(db, mon, opt, tester)

	router := newRouter(&Components{
		DocDB:     db,
		Monitor:   mon,
		Optimizer: opt,
		Tester:    tester,
		Dashboard: dash,
	})
	return router, func() {
		require.NoError(t, db.Close())
	}
}

func get(router *gin.Engine, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

func post(router *gin.Engine, url, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, url, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"health":true}`, w.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status dashboard.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.False(t, status.Active)
	require.Equal(t, 3, status.RegisteredBenchmarks)
}

func TestSummaryAndReportEndpoints(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/summary?hours=2")
	require.Equal(t, http.StatusOK, w.Code)
	var summary monitormeta.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Zero(t, summary.SampleCount)

	w = get(router, "/report")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Performance Report")
}

func TestOptimizeEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := post(router, "/optimize?auto=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "recommendations")

	w = get(router, "/optimize/effectiveness?days=7")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegressionEndpoints(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/regression/benchmarks")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "store_config_load")

	w = post(router, "/regression/baseline", `{"tags":["core"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"baselined":3`)

	w = post(router, "/regression/run", `{"names":["stats_pipeline"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "results")
}

func TestMetricsEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "perfmon_")
}

func TestConfigEndpoint(t *testing.T) {
	router, cleanup := newTestRouter(t)
	defer cleanup()

	w := get(router, "/config")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "max_query_time_ms")
}
