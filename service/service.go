package service

import (
	"net"

	"github.com/dataqual/perfmon/config"
	"github.com/dataqual/perfmon/service/http"
	"github.com/dataqual/perfmon/utils"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

func Init(cfg *config.Config, components *http.Components) {
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		log.Fatal("failed to listen",
			zap.String("address", cfg.Address),
			zap.Error(err),
		)
	}

	go utils.GoWithRecovery(func() {
		http.ServeHTTP(&cfg.Log, listener, components)
	}, nil)

	log.Info(
		"starting http service",
		zap.String("address", cfg.Address),
	)
}

func Stop() {
	log.Info("shutting down http service")
	http.StopHTTP()
}
