package discovery

import "fmt"

// MiddlewareType 使用的服务发现中间件
type MiddlewareType string

const (
	TypeConsul MiddlewareType = "Consul"
	TypeMemory MiddlewareType = "Memory"
)

func NewDiscoveryClient(t MiddlewareType, consulHost string, consulPort int) (Client, error) {
	switch t {
	case TypeConsul:
		return newConsulDiscoverClient(consulHost, consulPort)
	case TypeMemory:
		return newMemoryDiscoverClient(), nil
	default:
		return nil, fmt.Errorf("unknown discovery middleware type:%v", t)
	}
}
