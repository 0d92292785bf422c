package service

import (
	"context"
	"fmt"
	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/worker_operator"
	"nebula/scheduler/registry"
	"sync"
	"time"

	"github.com/cloudwego/kitex/pkg/klog"
)

// WorkerManageService 维护Worker连接和注册表。
// 服务发现给出实例列表，逐个探活拿负载指标，活的写进Registry做心跳
type WorkerManageService struct {
	shutdownCh chan struct{}

	//key为worker的instanceID
	workers           map[string]*WorkerWrapper
	mu                sync.RWMutex
	statisticsService *StatisticsService
	discoveryClient   discovery.Client
	workerRegistry    registry.Registry

	updateWorkerListeners []UpdateWorkerListener
	sweepListeners        []SweepDeadWorkerListener
}

func NewWorkerManageService(statisticsService *StatisticsService,
	discoveryClient discovery.Client, workerRegistry registry.Registry) *WorkerManageService {
	return &WorkerManageService{
		shutdownCh:            make(chan struct{}),
		workers:               make(map[string]*WorkerWrapper),
		statisticsService:     statisticsService,
		discoveryClient:       discoveryClient,
		workerRegistry:        workerRegistry,
		updateWorkerListeners: make([]UpdateWorkerListener, 0),
	}
}

type UpdateWorkerListener interface {
	OnWorkerUpdate(newWorkers map[string]*WorkerWrapper)
}

// SweepDeadWorkerListener 死亡清扫的通知。失联Worker上未完成的任务要重新派发
type SweepDeadWorkerListener interface {
	OnWorkersSwept(instanceIDs []string)
}

type WorkerWrapper struct {
	Worker   *model.WorkerInfo
	Operator worker_operator.Operator
}

func (s *WorkerManageService) HeartBeat() {
	updateWorkerTicker := time.NewTicker(s.statisticsService.GetWorkerHeartbeatInterval())
	sweepTicker := time.NewTicker(s.statisticsService.GetSweepDeadWorkerInterval())

	for {
		select {
		case <-s.shutdownCh:
			updateWorkerTicker.Stop()
			sweepTicker.Stop()
			return
		case <-updateWorkerTicker.C:
			s.updateWorkers()
			updateWorkerTicker.Reset(s.statisticsService.GetWorkerHeartbeatInterval())
		case <-sweepTicker.C:
			s.sweepDeadWorkers()
		}
	}
}

func (s *WorkerManageService) Stop() {
	s.shutdownCh <- struct{}{}
}

func (s *WorkerManageService) updateWorkers() {
	newServiceInstances := s.discoveryClient.DiscoverServices(constance.WorkerServiceName)
	newWorkers := make(map[string]*WorkerWrapper, len(newServiceInstances))

	for _, newInstance := range newServiceInstances {
		//合并新旧worker，地址没变就复用连接。
		//旧快照可能正被路由读着，状态更新要写进新副本
		oldWrapper, ok := s.getWorker(newInstance.InstanceId)
		if ok && oldWrapper.Worker.Address == fmt.Sprintf("%s:%d", newInstance.Host, newInstance.Port) {
			workerCopy := *oldWrapper.Worker
			newWorkers[newInstance.InstanceId] = &WorkerWrapper{
				Worker:   &workerCopy,
				Operator: oldWrapper.Operator,
			}
			continue
		}

		newWorker, err := model.NewWorkerFromServiceInstance(newInstance)
		if err != nil {
			klog.Errorf("failed to decode worker instance:%v", err)
			continue
		}

		operator, err := worker_operator.NewOperatorByProtoc(discovery.ProtocType(newWorker.Protoc), newWorker.Address)
		if err != nil {
			klog.Errorf("failed to create operator for worker:%v, error:%v", newWorker.InstanceID, err)
			continue
		}

		newWorkers[newInstance.InstanceId] = &WorkerWrapper{
			Worker:   newWorker,
			Operator: operator,
		}
	}

	//并发探活
	var wg sync.WaitGroup
	wg.Add(len(newWorkers))

	type probeRet struct {
		instanceID string
		status     *api.WorkerStatus
		err        error
	}

	rets := make([]*probeRet, len(newWorkers))
	counter := 0
	for _, newWorker := range newWorkers {
		go func(w *WorkerWrapper, retIdx int) {
			defer wg.Done()
			status, err := w.Operator.CheckStatus(context.TODO(), s.statisticsService.GetCheckWorkerHeartBeatTimeout())
			rets[retIdx] = &probeRet{
				instanceID: w.Worker.InstanceID,
				status:     status,
				err:        err,
			}
		}(newWorker, counter)
		counter++
	}
	wg.Wait()

	now := time.Now()
	for _, r := range rets {
		if r.err != nil {
			delete(newWorkers, r.instanceID)
			klog.Errorf("updateWorkers worker:%v failed with error:%v", r.instanceID, r.err)
			continue
		}

		wrapper := newWorkers[r.instanceID]
		wrapper.Worker.UpdateStatus(r.status, now)
		if err := s.workerRegistry.Beat(context.TODO(), wrapper.Worker); err != nil {
			klog.Errorf("failed to beat worker:%v, error:%v", r.instanceID, err)
		}
	}

	//注册表里仍在存活窗口内的Worker也进快照：别的调度节点心跳过的，
	//或者本轮探活抖动失败的，按DeadTimeout过滤
	if alive, err := s.workerRegistry.FindAlive(context.TODO()); err != nil {
		klog.Errorf("updateWorkers find alive from registry error:%v", err)
	} else {
		for _, w := range alive {
			if _, ok := newWorkers[w.InstanceID]; ok {
				continue
			}
			operator, err := worker_operator.NewOperatorByProtoc(discovery.ProtocType(w.Protoc), w.Address)
			if err != nil {
				continue
			}
			newWorkers[w.InstanceID] = &WorkerWrapper{Worker: w, Operator: operator}
		}
	}

	s.mu.Lock()
	s.workers = newWorkers
	s.mu.Unlock()

	for _, l := range s.updateWorkerListeners {
		l.OnWorkerUpdate(newWorkers)
	}
}

func (s *WorkerManageService) sweepDeadWorkers() {
	removed, err := s.workerRegistry.SweepDead(context.TODO())
	if err != nil {
		klog.Errorf("sweepDeadWorkers error:%v", err)
		return
	}
	if len(removed) != 0 {
		klog.Warnf("swept dead workers:%v", removed)
		s.statisticsService.OnSweepDeadWorkers(len(removed))
		for _, l := range s.sweepListeners {
			l.OnWorkersSwept(removed)
		}
	}
}

func (s *WorkerManageService) AddUpdateWorkerListener(l UpdateWorkerListener) {
	s.updateWorkerListeners = append(s.updateWorkerListeners, l)
}

func (s *WorkerManageService) AddSweepDeadWorkerListener(l SweepDeadWorkerListener) {
	s.sweepListeners = append(s.sweepListeners, l)
}

func (s *WorkerManageService) getWorker(instanceID string) (*WorkerWrapper, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[instanceID]
	return w, ok
}

// GetWorkers 当前连接着的Worker快照
func (s *WorkerManageService) GetWorkers() map[string]*WorkerWrapper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make(map[string]*WorkerWrapper, len(s.workers))
	for k, v := range s.workers {
		ret[k] = v
	}
	return ret
}
