package main

import (
	"strconv"

	"nebula/scheduler/app"
	"nebula/scheduler/handler/http"

	"github.com/cloudwego/kitex/pkg/klog"
)

func main() {
	klog.SetLevel(klog.Level(setupConfig.LogLevel))

	builder := app.NewSchedulerBuilder()
	builder.WithServeConf(setupConfig.Host, setupConfig.HttpPort)
	if setupConfig.InstanceID != "" {
		builder.WithInstanceID(setupConfig.InstanceID)
	}

	switch setupConfig.DiscoveryType {
	case "memory":
		builder.WithMemoryDiscovery()
	default:
		builder.WithConsulDiscovery(setupConfig.ConsulHost, setupConfig.ConsulPort)
	}

	switch setupConfig.DBType {
	case "memory":
		builder.WithMemoryStore()
	default:
		builder.WithMysqlStore(&setupConfig.MysqlConf)
	}

	if setupConfig.Standalone {
		builder.WithStandalone()
	} else {
		builder.WithEtcdCluster(&setupConfig.EtcdConf)
		builder.WithRedisRegistry(&setupConfig.RedisConf)
	}

	if setupConfig.EnableOTel {
		builder.WithOTelConfig(&setupConfig.OTelConf)
	}

	scheduler, err := builder.Build()
	if err != nil {
		panic(err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := http.InitHttpHandler(scheduler)
	klog.Infof("start the http server at %v", setupConfig.HttpPort)
	if err = router.Run(":" + strconv.Itoa(setupConfig.HttpPort)); err != nil {
		klog.Fatalf("failed to start http server: %v", err)
	}
}
