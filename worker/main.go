package main

import (
	processor_plugin_http "nebula/processor-plugin/processor-plugin-http"
	processor_plugin_shell "nebula/processor-plugin/processor-plugin-shell"
	"nebula/worker/app"

	"github.com/cloudwego/kitex/pkg/klog"
)

func main() {
	klog.SetLevel(klog.Level(setupConfig.LogLevel))

	builder := app.NewWorkerBuilder()
	if setupConfig.InstanceID != "" {
		builder.WithInstanceID(setupConfig.InstanceID)
	}
	builder.WithGroupName(setupConfig.GroupName)
	if tags := tagList(); len(tags) != 0 {
		builder.WithTags(tags...)
	}

	switch setupConfig.DiscoveryType {
	case "memory":
		builder.WithMemoryDiscovery()
	default:
		builder.WithConsulDiscovery(setupConfig.ConsulHost, setupConfig.ConsulPort)
	}

	worker, err := builder.
		WithServeConf(setupConfig.Host, setupConfig.HttpPort).
		WithProcessorCount(setupConfig.ProcessorCount).
		WithProcessor(new(processor_plugin_shell.Shell)).
		WithProcessor(new(processor_plugin_http.HTTP)).
		Build()
	if err != nil {
		panic(err)
	}

	worker.Start()
}
