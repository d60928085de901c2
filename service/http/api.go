package http

import (
	"net/http"
	"strconv"

	"github.com/dataqual/perfmon/component/optimizer"
	"github.com/dataqual/perfmon/component/regression"

	"github.com/gin-gonic/gin"
)

func optimizerHTTPService(g *gin.RouterGroup, opt *optimizer.Optimizer) {
	g.POST("", func(c *gin.Context) {
		auto := c.Query("auto") == "true"
		recs, err := opt.AnalyzeAndOptimize(c.Request.Context(), auto)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"recommendations": recs,
		})
	})
	g.GET("/effectiveness", func(c *gin.Context) {
		days := 7
		if raw := c.Query("days"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				days = v
			}
		}
		effs, err := opt.Effectiveness(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, effs)
	})
}

type regressionRunRequest struct {
	Names []string `json:"names"`
	Tags  []string `json:"tags"`
}

func regressionHTTPService(g *gin.RouterGroup, tester *regression.Tester) {
	g.GET("/benchmarks", func(c *gin.Context) {
		c.JSON(http.StatusOK, tester.Benchmarks())
	})
	g.POST("/run", func(c *gin.Context) {
		var req regressionRunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"status":  "error",
					"message": err.Error(),
				})
				return
			}
		}
		results, err := tester.Run(c.Request.Context(), req.Names, req.Tags)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		comparisons, err := tester.CompareWithBaseline(c.Request.Context(), results)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"results":     results,
			"comparisons": comparisons,
		})
	})
	// Baselines only move through this explicit call, and a persistence
	// failure is surfaced instead of swallowed.
	g.POST("/baseline", func(c *gin.Context) {
		var req regressionRunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"status":  "error",
					"message": err.Error(),
				})
				return
			}
		}
		results, err := tester.Run(c.Request.Context(), req.Names, req.Tags)
		if err == nil {
			err = tester.SetBaseline(c.Request.Context(), results)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"baselined": len(results),
		})
	})
}
