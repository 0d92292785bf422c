package service

import (
	"runtime"
	"sync/atomic"

	"nebula/pkg/api"
)

// StatisticsService Worker侧的负载口径，心跳探测直接取这里的快照。
// cpuUsage用任务占用近似，memoryUsage取Go堆的占用比
type StatisticsService struct {
	instanceID      string
	groupName       string
	maxConcurrency  int
	gracefulStopped atomic.Bool
	runningTasks    atomic.Int64
}

func NewStatisticsService(instanceID, groupName string, maxConcurrency int) *StatisticsService {
	return &StatisticsService{
		instanceID:     instanceID,
		groupName:      groupName,
		maxConcurrency: maxConcurrency,
	}
}

func (s *StatisticsService) OnStartExecute() {
	s.runningTasks.Add(1)
}

func (s *StatisticsService) OnFinishExecute() {
	s.runningTasks.Add(-1)
}

func (s *StatisticsService) GetRunningTasks() int {
	return int(s.runningTasks.Load())
}

func (s *StatisticsService) GetMaxConcurrency() int {
	return s.maxConcurrency
}

// OnGracefulStop 优雅退出。负载上报拉满，调度侧不会再挑中自己
func (s *StatisticsService) OnGracefulStop() {
	s.gracefulStopped.Store(true)
}

func (s *StatisticsService) GracefulStopped() bool {
	return s.gracefulStopped.Load()
}

func (s *StatisticsService) GetStatus() *api.WorkerStatus {
	if s.gracefulStopped.Load() {
		return &api.WorkerStatus{
			InstanceID:     s.instanceID,
			GroupName:      s.groupName,
			CpuUsage:       100,
			MemoryUsage:    100,
			RunningTasks:   s.maxConcurrency,
			MaxConcurrency: s.maxConcurrency,
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memUsage := 0.0
	if mem.HeapSys != 0 {
		memUsage = float64(mem.HeapAlloc) / float64(mem.HeapSys) * 100
	}

	running := int(s.runningTasks.Load())
	cpuUsage := 0.0
	if s.maxConcurrency > 0 {
		cpuUsage = float64(running) / float64(s.maxConcurrency) * 100
	}

	return &api.WorkerStatus{
		InstanceID:     s.instanceID,
		GroupName:      s.groupName,
		CpuUsage:       cpuUsage,
		MemoryUsage:    memUsage,
		RunningTasks:   running,
		MaxConcurrency: s.maxConcurrency,
	}
}
