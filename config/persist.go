package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dataqual/perfmon/database/docdb"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	targetModule = "target"
)

// LoadConfigFromStorage overlays the persisted module configs onto the
// global config. Only the performance target section is persisted;
// everything else comes from the config file and flags.
func LoadConfigFromStorage(ctx context.Context, db docdb.DocDB) error {
	cfgMap, err := db.LoadConfig(ctx)
	if err != nil {
		return err
	}
	UpdateGlobalConfig(func(curCfg Config) (res Config) {
		res = curCfg
		for module, cfgStr := range cfgMap {
			switch module {
			case targetModule:
				var newTarget Target
				if err = json.NewDecoder(bytes.NewReader([]byte(cfgStr))).Decode(&newTarget); err != nil {
					return
				}
				if validErr := newTarget.Valid(); validErr == nil {
					res.Target = newTarget
				} else {
					log.Info("load invalid config",
						zap.String("module", module),
						zap.Error(validErr))
				}
			default:
				err = fmt.Errorf("unknown module config in storage, module: %v, config: %v", module, cfgStr)
				return
			}
			log.Info("load config from storage",
				zap.String("module", module),
				zap.String("module-config", cfgStr))
		}
		return
	})
	return err
}

func saveConfigIntoStorage(db docdb.DocDB) error {
	cfg := GetGlobalConfig()
	data, err := json.Marshal(cfg.Target)
	if err != nil {
		return err
	}
	return db.SaveConfig(context.Background(), map[string]string{
		targetModule: string(data),
	})
}
