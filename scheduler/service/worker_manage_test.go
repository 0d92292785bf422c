package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/scheduler/model"
	"nebula/scheduler/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManageEnv(t *testing.T) (*WorkerManageService, discovery.Client, *registry.MemoryRegistry) {
	stats := NewStatisticsService("test-scheduler", false)
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	require.NoError(t, err)
	reg := registry.NewMemoryRegistry()
	return NewWorkerManageService(stats, discoveryClient, reg), discoveryClient, reg
}

// startFakeWorker 起一个只有/status端点的假Worker并注册进服务发现
func startFakeWorker(t *testing.T, client discovery.Client, instanceID string, status func() *api.WorkerStatus) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(status())
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	require.NoError(t, client.Register(&discovery.ServiceInstance{
		ServiceName: constance.WorkerServiceName,
		InstanceId:  instanceID,
		ServiceServeConf: discovery.ServiceServeConf{
			Protoc: discovery.ProtocTypeHttp,
			Host:   u.Hostname(),
			Port:   port,
		},
		Meta: map[string]string{constance.WorkerGroupFieldName: "default"},
	}))
}

// 本地发现不到、但注册表里仍在存活窗口内的Worker也要进路由快照
func TestUpdateWorkersMergesRegistryAlive(t *testing.T) {
	manage, _, reg := newManageEnv(t)

	require.NoError(t, reg.Beat(context.TODO(), &model.WorkerInfo{
		InstanceID: "worker-remote",
		GroupName:  "default",
		Protoc:     string(discovery.ProtocTypeHttp),
		Address:    "10.0.0.7:7070",
	}))

	manage.updateWorkers()

	workers := manage.GetWorkers()
	require.Contains(t, workers, "worker-remote")
	assert.Equal(t, "default", workers["worker-remote"].Worker.GroupName)
	assert.Equal(t, "10.0.0.7:7070", workers["worker-remote"].Worker.Address)
}

// 探活结果要写进新副本，已经发出去的旧快照不能被原地改
func TestUpdateWorkersCopiesStatusIntoFreshSnapshot(t *testing.T) {
	manage, discoveryClient, _ := newManageEnv(t)

	var mu sync.Mutex
	running := 0
	startFakeWorker(t, discoveryClient, "worker-live", func() *api.WorkerStatus {
		mu.Lock()
		defer mu.Unlock()
		return &api.WorkerStatus{
			InstanceID:     "worker-live",
			GroupName:      "default",
			RunningTasks:   running,
			MaxConcurrency: 8,
		}
	})

	manage.updateWorkers()
	first := manage.GetWorkers()["worker-live"]
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Worker.RunningTasks)

	mu.Lock()
	running = 3
	mu.Unlock()

	manage.updateWorkers()
	second := manage.GetWorkers()["worker-live"]
	require.NotNil(t, second)

	//连接复用，WorkerInfo换新
	assert.Same(t, first.Operator, second.Operator)
	assert.NotSame(t, first.Worker, second.Worker)
	assert.Equal(t, 0, first.Worker.RunningTasks)
	assert.Equal(t, 3, second.Worker.RunningTasks)
}
