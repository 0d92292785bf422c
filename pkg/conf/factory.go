package conf

type Env string

const (
	Dev Env = "dev"
	K8s Env = "k8s"
)

type CommonConf struct {
	*OTelConf
	*MysqlConf
	*ConsulConf
	*EtcdConf
	*RedisConf
}

func GetCommonConfig(env Env) *CommonConf {
	switch env {
	case K8s:
		return &CommonConf{
			OTelConf:   K8sTraceConfig,
			MysqlConf:  K8sMysqlConfig,
			ConsulConf: K8sConsulConfig,
			EtcdConf:   K8sEtcdConfig,
			RedisConf:  K8sRedisConfig,
		}
	default:
		return &CommonConf{
			OTelConf:   DevTraceConfig,
			MysqlConf:  DevMysqlConfig,
			ConsulConf: DevConsulConfig,
			EtcdConf:   DevEtcdConfig,
			RedisConf:  DevRedisConfig,
		}
	}
}
