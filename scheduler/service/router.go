package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"nebula/scheduler/constance"
	"nebula/scheduler/model"
)

// WorkerRouteService 为单目标任务挑Worker。
// SHARDING不在这里处理，它不产生单个目标，由ShardingService分发
type WorkerRouteService struct {
	workerManageService *WorkerManageService
	routers             *JobRouterManager

	mu      sync.Mutex
	workers map[string]*WorkerWrapper
}

func NewWorkerRouteService(workerManageService *WorkerManageService) *WorkerRouteService {
	ret := &WorkerRouteService{
		workerManageService: workerManageService,
		routers:             NewJobRouters(),
		workers:             make(map[string]*WorkerWrapper),
	}

	workerManageService.AddUpdateWorkerListener(ret)
	return ret
}

// ChooseWorker 按任务的路由策略挑一个Worker
func (s *WorkerRouteService) ChooseWorker(jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	candidates, err := s.findCandidatesForJob(job)
	if err != nil {
		return nil, err
	}

	return s.routers.Route(job.RouteStrategy, candidates, jobRun, job)
}

// findCandidatesForJob 按WorkerGroup过滤候选，group为空表示全部可用
func (s *WorkerRouteService) findCandidatesForJob(job *model.Job) ([]*WorkerWrapper, error) {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	ret := make([]*WorkerWrapper, 0, len(workers))
	for _, w := range workers {
		if job.WorkerGroup == "" || w.Worker.GroupName == job.WorkerGroup {
			ret = append(ret, w)
		}
	}

	if len(ret) == 0 {
		return nil, fmt.Errorf("can not find worker for job %d, group:%s", job.ID, job.WorkerGroup)
	}

	//候选序固定，FIRST/FAILOVER/CONSISTENT_HASH都依赖这一点
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Worker.InstanceID < ret[j].Worker.InstanceID
	})
	return ret, nil
}

func (s *WorkerRouteService) OnWorkerUpdate(newWorkers map[string]*WorkerWrapper) {
	s.mu.Lock()
	s.workers = newWorkers
	s.mu.Unlock()
}

type Router interface {
	Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error)
}

type JobRouterManager struct {
	routers map[constance.RouteStrategyType]Router
}

func NewJobRouters() *JobRouterManager {
	return &JobRouterManager{routers: map[constance.RouteStrategyType]Router{
		constance.RouteStrategyTypeFirst:          FirstRouter{},
		constance.RouteStrategyTypeRoundRobin:     &RoundRobinRouter{},
		constance.RouteStrategyTypeRandom:         RandomRouter{},
		constance.RouteStrategyTypeConsistentHash: ConsistentHashRouter{},
		constance.RouteStrategyTypeLeastBusy:      LeastBusyRouter{},
		constance.RouteStrategyTypeFailover:       FailoverRouter{},
	}}
}

func (r *JobRouterManager) Route(strategy constance.RouteStrategyType, candidates []*WorkerWrapper,
	jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if router, ok := r.routers[strategy]; ok {
		return router.Route(candidates, jobRun, job)
	}

	return nil, errors.New("no RouteStrategyType:" + strategy.String())
}

// FirstRouter 永远取候选列表第一个
type FirstRouter struct{}

func (r FirstRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}
	return candidates[0], nil
}

// RoundRobinRouter 进程内轮询，计数器不跨节点
type RoundRobinRouter struct {
	counter atomic.Uint64
}

func (r *RoundRobinRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}
	idx := (r.counter.Add(1) - 1) % uint64(len(candidates))
	return candidates[idx], nil
}

// RandomRouter 随机路由
type RandomRouter struct{}

func (r RandomRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}
	return candidates[rand.Int()%len(candidates)], nil
}

// ConsistentHashRouter 按bucketId哈希。候选集不变时同bucket永远落同一Worker
type ConsistentHashRouter struct{}

func (r ConsistentHashRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}

	h := fnv.New32a()
	fmt.Fprintf(h, "%d-%d", jobRun.NamespaceID, jobRun.BucketID)
	idx := h.Sum32() % uint32(len(candidates))
	return candidates[idx], nil
}

// FailoverRouter 按序探测，取第一个探活成功的。全挂时把每个实例的失败原因拼进error
type FailoverRouter struct{}

func (r FailoverRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}

	var diagnostics []string
	for _, w := range candidates {
		if w.Operator.Alive(context.TODO()) {
			return w, nil
		}
		diagnostics = append(diagnostics, fmt.Sprintf("%s: probe failed", w.Worker.InstanceID))
	}
	return nil, fmt.Errorf("failover exhausted all candidates: %s", strings.Join(diagnostics, "; "))
}

// LeastBusyRouter 两级DRF。先按负载均值挑最闲的组，再在组内挑最闲的实例。
// loadScore取cpu、内存、任务占用三个维度里最紧张的那个，按候选集内的最大值归一，
// 最大值不足1.0时按1.0算，保证不同上报口径下的可比性
type LeastBusyRouter struct{}

func (r LeastBusyRouter) Route(candidates []*WorkerWrapper, jobRun *model.JobRun, job *model.Job) (*WorkerWrapper, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	scores := drfScores(candidates)

	//第一级：组间按均值
	groupSum := make(map[string]float64)
	groupCount := make(map[string]int)
	for i, w := range candidates {
		groupSum[w.Worker.GroupName] += scores[i]
		groupCount[w.Worker.GroupName]++
	}

	bestGroup := ""
	bestMean := -1.0
	groups := make([]string, 0, len(groupSum))
	for g := range groupSum {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		mean := groupSum[g] / float64(groupCount[g])
		if bestMean < 0 || mean < bestMean {
			bestMean = mean
			bestGroup = g
		}
	}

	//第二级：组内按实例
	var best *WorkerWrapper
	bestScore := -1.0
	for i, w := range candidates {
		if w.Worker.GroupName != bestGroup {
			continue
		}
		if bestScore < 0 || scores[i] < bestScore {
			bestScore = scores[i]
			best = w
		}
	}

	if best == nil {
		return candidates[0], nil
	}
	return best, nil
}

func drfScores(candidates []*WorkerWrapper) []float64 {
	maxCpu, maxMem, maxTask := 1.0, 1.0, 1.0
	taskRatios := make([]float64, len(candidates))

	for i, w := range candidates {
		taskRatio := 0.0
		if w.Worker.MaxConcurrency > 0 {
			taskRatio = float64(w.Worker.RunningTasks) / float64(w.Worker.MaxConcurrency)
		}
		taskRatios[i] = taskRatio

		if w.Worker.CpuUsage > maxCpu {
			maxCpu = w.Worker.CpuUsage
		}
		if w.Worker.MemoryUsage > maxMem {
			maxMem = w.Worker.MemoryUsage
		}
		if taskRatio > maxTask {
			maxTask = taskRatio
		}
	}

	scores := make([]float64, len(candidates))
	for i, w := range candidates {
		score := w.Worker.CpuUsage / maxCpu
		if mem := w.Worker.MemoryUsage / maxMem; mem > score {
			score = mem
		}
		if task := taskRatios[i] / maxTask; task > score {
			score = task
		}
		scores[i] = score * 100
	}
	return scores
}

var (
	_ Router = (*FirstRouter)(nil)
	_ Router = (*RoundRobinRouter)(nil)
	_ Router = (*RandomRouter)(nil)
	_ Router = (*ConsistentHashRouter)(nil)
	_ Router = (*LeastBusyRouter)(nil)
	_ Router = (*FailoverRouter)(nil)
)
