package main

import (
	"flag"
	"os"
	"strings"

	"nebula/pkg/conf"
	"nebula/pkg/util"
)

type SetupConfig struct {
	InstanceID    string
	Host          string
	HttpPort      int
	LogLevel      int
	Standalone    bool
	EnableOTel    bool
	DiscoveryType string
	ConsulHost    string
	ConsulPort    int
	DBType        string
	MysqlConf     conf.MysqlConf
	EtcdConf      conf.EtcdConf
	RedisConf     conf.RedisConf
	OTelConf      conf.OTelConf
}

var setupConfig SetupConfig

func init() {
	var etcdEndpoints string

	flag.StringVar(&setupConfig.InstanceID, "instanceID", "", "instance id, generated if empty")
	flag.StringVar(&setupConfig.Host, "host", "127.0.0.1", "serve host, registered to discovery")
	flag.IntVar(&setupConfig.HttpPort, "httpPort", 8080, "http port")
	flag.IntVar(&setupConfig.LogLevel, "logLevel", 2, "log level")
	flag.BoolVar(&setupConfig.Standalone, "standalone", false, "run without etcd/redis, single instance only")
	flag.BoolVar(&setupConfig.EnableOTel, "enableOTel", false, "enable opentelemetry metrics and traces")
	flag.StringVar(&setupConfig.DiscoveryType, "discoveryType", "consul", "discovery type, consul or memory")
	flag.StringVar(&setupConfig.ConsulHost, "consulHost", "", "consul host, env default if empty")
	flag.IntVar(&setupConfig.ConsulPort, "consulPort", 0, "consul port, env default if 0")
	flag.StringVar(&setupConfig.DBType, "dbType", "mysql", "db type, mysql or memory")
	flag.StringVar(&setupConfig.MysqlConf.Host, "mysqlHost", "localhost", "MySQL host")
	flag.StringVar(&setupConfig.MysqlConf.Port, "mysqlPort", "3306", "MySQL port")
	flag.StringVar(&setupConfig.MysqlConf.UserName, "mysqlUsername", "root", "MySQL username")
	flag.StringVar(&setupConfig.MysqlConf.Password, "mysqlPassword", "password", "MySQL password")
	flag.StringVar(&setupConfig.MysqlConf.DbName, "mysqlDbname", "nebula", "MySQL database name")
	flag.IntVar(&setupConfig.MysqlConf.MaxIdleConnections, "mysqlMaxIdleConn", 16, "MySQL max idle connections")
	flag.IntVar(&setupConfig.MysqlConf.MaxOpenConnections, "mysqlMaxOpenConn", 128, "MySQL max open connections")
	flag.StringVar(&etcdEndpoints, "etcdEndpoints", "localhost:2379", "etcd endpoints, comma separated")
	flag.StringVar(&setupConfig.RedisConf.IP, "redisHost", "localhost", "redis host")
	flag.StringVar(&setupConfig.RedisConf.Port, "redisPort", "6379", "redis port")
	flag.StringVar(&setupConfig.RedisConf.Password, "redisPassword", "", "redis password")
	flag.IntVar(&setupConfig.RedisConf.Db, "redisDb", 0, "redis db")
	flag.StringVar(&setupConfig.OTelConf.ExportEndpointHost, "otelEndpointHost", "localhost", "otelCollectorHost")
	flag.StringVar(&setupConfig.OTelConf.ExportEndpointPort, "otelEndpointPort", "4317", "otelCollectorPort")
	flag.Parse()

	cfg := conf.GetCommonConfig(conf.Env(util.GetEnv()))
	if setupConfig.ConsulHost == "" {
		setupConfig.ConsulHost = cfg.ConsulConf.Host
	}
	if setupConfig.ConsulPort == 0 {
		setupConfig.ConsulPort = cfg.ConsulConf.Port
	}

	setupConfig.EtcdConf.Endpoints = strings.Split(etcdEndpoints, ",")
	setupConfig.EtcdConf.DialTimeout = cfg.EtcdConf.DialTimeout
	if util.GetEnv() == "k8s" {
		setupConfig.InstanceID = os.Getenv("HOSTNAME")
	}
}
