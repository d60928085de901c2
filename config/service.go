package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dataqual/perfmon/database/docdb"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// HTTPService exposes the running config. The performance target
// section is the only modifiable one; accepted changes are persisted
// to the doc store so they survive restarts.
func HTTPService(g *gin.RouterGroup, db docdb.DocDB) {
	g.GET("", handleGetConfig)
	g.POST("", func(c *gin.Context) {
		handlePostConfig(c, db)
	})
}

func handleGetConfig(c *gin.Context) {
	cfg := GetGlobalConfig()
	c.JSON(http.StatusOK, cfg)
}

func handlePostConfig(c *gin.Context, db docdb.DocDB) {
	err := handleModifyConfig(c, db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func handleModifyConfig(c *gin.Context, db docdb.DocDB) error {
	var reqNested map[string]interface{}
	if err := json.NewDecoder(c.Request.Body).Decode(&reqNested); err != nil {
		return err
	}
	for k, v := range reqNested {
		switch k {
		case targetModule:
			m, ok := v.(map[string]interface{})
			if !ok {
				return fmt.Errorf("%v config value is invalid: %v", k, v)
			}
			return handleTargetConfigModify(m, db)
		default:
			return fmt.Errorf("config %v does not support modification", k)
		}
	}
	return nil
}

func handleTargetConfigModify(reqNested map[string]interface{}, db docdb.DocDB) error {
	cfg := GetGlobalConfig()
	current, err := json.Marshal(cfg.Target)
	if err != nil {
		return err
	}

	var currentNested map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(current)).Decode(&currentNested); err != nil {
		return err
	}

	for k, newValue := range reqNested {
		oldValue, ok := currentNested[k]
		if !ok {
			return fmt.Errorf("unknown config `%v`", k)
		}
		if oldValue == newValue {
			continue
		}
		currentNested[k] = newValue
		log.Info("handle performance target config modify",
			zap.String("name", k),
			zap.Reflect("old-value", oldValue),
			zap.Reflect("new-value", newValue))
	}

	data, err := json.Marshal(currentNested)
	if err != nil {
		return err
	}
	var newTarget Target
	err = json.NewDecoder(bytes.NewReader(data)).Decode(&newTarget)
	if err != nil {
		return err
	}

	if err := newTarget.Valid(); err != nil {
		return fmt.Errorf("new config is invalid: %v", err)
	}
	cfg.Target = newTarget
	StoreGlobalConfig(cfg)
	return saveConfigIntoStorage(db)
}
