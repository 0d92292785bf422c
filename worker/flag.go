package main

import (
	"flag"
	"os"
	"strings"

	"nebula/pkg/conf"
	"nebula/pkg/util"
)

type SetupConfig struct {
	InstanceID     string
	GroupName      string
	Tags           string
	Host           string
	HttpPort       int
	ProcessorCount int
	LogLevel       int

	DiscoveryType string
	ConsulHost    string
	ConsulPort    int
}

var setupConfig SetupConfig

func init() {
	flag.StringVar(&setupConfig.InstanceID, "instanceID", "", "worker instance id, random if empty")
	flag.StringVar(&setupConfig.GroupName, "group", "default", "worker group name")
	flag.StringVar(&setupConfig.Tags, "tags", "", "comma separated worker tags")
	flag.StringVar(&setupConfig.Host, "host", "127.0.0.1", "serve host, registered to discovery")
	flag.IntVar(&setupConfig.HttpPort, "httpPort", 7070, "http serve port")
	flag.IntVar(&setupConfig.ProcessorCount, "processorCount", 64, "max concurrent executing jobs")
	flag.IntVar(&setupConfig.LogLevel, "logLevel", 1, "log level")
	flag.StringVar(&setupConfig.DiscoveryType, "discoveryType", "consul", "discovery type, consul or memory")
	flag.StringVar(&setupConfig.ConsulHost, "consulHost", "", "consul host, env default if empty")
	flag.IntVar(&setupConfig.ConsulPort, "consulPort", 0, "consul port, env default if 0")
	flag.Parse()

	cfg := conf.GetCommonConfig(conf.Env(util.GetEnv()))
	if setupConfig.ConsulHost == "" {
		setupConfig.ConsulHost = cfg.ConsulConf.Host
	}
	if setupConfig.ConsulPort == 0 {
		setupConfig.ConsulPort = cfg.ConsulConf.Port
	}

	if util.GetEnv() == "k8s" {
		setupConfig.InstanceID = os.Getenv("HOSTNAME")
	}
}

func tagList() []string {
	if setupConfig.Tags == "" {
		return nil
	}
	return strings.Split(setupConfig.Tags, ",")
}
