package discovery

import "sync"

// MemoryDiscoverClient 进程内服务发现，单机模式和测试用
type MemoryDiscoverClient struct {
	mu        sync.RWMutex
	instances map[string]map[string]*ServiceInstance //serviceName -> instanceId -> instance
}

func newMemoryDiscoverClient() *MemoryDiscoverClient {
	return &MemoryDiscoverClient{
		instances: make(map[string]map[string]*ServiceInstance),
	}
}

func (c *MemoryDiscoverClient) Register(instance *ServiceInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.instances[instance.ServiceName] == nil {
		c.instances[instance.ServiceName] = make(map[string]*ServiceInstance)
	}
	c.instances[instance.ServiceName][instance.InstanceId] = instance
	return nil
}

func (c *MemoryDiscoverClient) DeRegister(instanceId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, serviceInstances := range c.instances {
		delete(serviceInstances, instanceId)
	}
	return nil
}

func (c *MemoryDiscoverClient) DiscoverServices(serviceName string) []*ServiceInstance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]*ServiceInstance, 0, len(c.instances[serviceName]))
	for _, instance := range c.instances[serviceName] {
		ret = append(ret, instance)
	}
	return ret
}

var _ Client = (*MemoryDiscoverClient)(nil)
