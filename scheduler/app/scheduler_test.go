package app

import (
	"testing"

	"nebula/pkg/constance"
	"nebula/pkg/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 调度器启动时要把自己注册进服务发现，Worker的终态上报靠它找实例
func TestSchedulerRegistersToDiscovery(t *testing.T) {
	scheduler, err := NewSchedulerBuilder().
		WithInstanceID("sched-test").
		WithServeConf("127.0.0.1", 18080).
		WithMemoryDiscovery().
		WithMemoryStore().
		WithStandalone().
		Build()
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()

	instances := scheduler.discoveryClient.DiscoverServices(constance.SchedulerServiceName)
	require.Len(t, instances, 1)
	assert.Equal(t, "sched-test", instances[0].InstanceId)
	assert.Equal(t, "127.0.0.1", instances[0].Host)
	assert.Equal(t, 18080, instances[0].Port)
	assert.Equal(t, discovery.ProtocTypeHttp, instances[0].Protoc)
}

func TestBuildRequiresServeConf(t *testing.T) {
	_, err := NewSchedulerBuilder().
		WithInstanceID("sched-test").
		WithMemoryDiscovery().
		WithMemoryStore().
		WithStandalone().
		Build()
	assert.Error(t, err)
}
