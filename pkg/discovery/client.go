package discovery

type Client interface {
	//服务注册
	Register(instance *ServiceInstance) error
	//服务取消注册
	DeRegister(instanceId string) error
	//服务发现
	DiscoverServices(serviceName string) []*ServiceInstance
}

const (
	serviceProtocFieldName = "X-Protoc-Type"
)

// ProtocType 服务提供的协议的类型（当前只支持http）
type ProtocType string

const (
	ProtocTypeHttp ProtocType = "Http"
)

type ServiceServeConf struct {
	Protoc ProtocType
	Host   string
	Port   int
}

type ServiceInstance struct {
	ServiceName string
	InstanceId  string
	//如果使用的中间件检查健康，例如consul，那么应该填写这个字段，让consul检查
	MiddlewareHealthCheckUrl string
	ServiceServeConf
	Meta map[string]string
}
