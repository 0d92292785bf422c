package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerStubScheduler 起一个假的调度器上报端点并注册进服务发现
func registerStubScheduler(t *testing.T, client discovery.Client, handler http.HandlerFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/worker/report", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	require.NoError(t, client.Register(&discovery.ServiceInstance{
		ServiceName: constance.SchedulerServiceName,
		InstanceId:  "scheduler-stub",
		ServiceServeConf: discovery.ServiceServeConf{
			Protoc: discovery.ProtocTypeHttp,
			Host:   u.Hostname(),
			Port:   port,
		},
	}))
}

// 上报要送达服务发现里注册的调度器实例
func TestReportDeliveredToDiscoveredScheduler(t *testing.T) {
	client, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	require.NoError(t, err)

	received := make(chan *api.ReportRequest, 1)
	registerStubScheduler(t, client, func(w http.ResponseWriter, r *http.Request) {
		req := new(api.ReportRequest)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- req
		_ = json.NewEncoder(w).Encode(&api.ReportResponse{Ok: true})
	})

	report := NewReportService(client)
	go report.Start()
	defer report.Stop()

	report.Push(&api.ReportRequest{JobRunID: 42, Success: true, Result: "done"})

	select {
	case got := <-received:
		assert.Equal(t, uint(42), got.JobRunID)
		assert.True(t, got.Success)
		assert.Equal(t, "done", got.Result)
	case <-time.After(3 * time.Second):
		t.Fatal("report was not delivered")
	}
}
