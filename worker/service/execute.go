package service

import (
	"sync"
	"sync/atomic"
	"time"

	"nebula/pkg/api"
	"nebula/worker/constance"

	"github.com/cloudwego/kitex/pkg/klog"
)

// ExecuteService 任务执行的主循环。固定个数的执行go程抢taskCh，
// 超时由Worker侧掐死（超过TimeoutMs直接按失败上报，不等processor返回），
// epoch只增不减，收到旧epoch的派发说明对端丢了租约，拒绝执行
type ExecuteService struct {
	taskCh     chan *Task
	shutdownCh chan struct{}

	statisticsService *StatisticsService
	processorService  *ProcessorService
	duplicateService  *DuplicateService
	reportService     *ReportService

	processorCount int
	wg             sync.WaitGroup

	//见过的最大派发epoch
	maxEpoch atomic.Int64

	mu sync.Mutex
	//执行中的任务，key为jobRunID，kill用
	running map[uint]*Task
}

type Task struct {
	Request *api.RunJobRequest
	killCh  chan struct{}
	//killCh只能close一次
	killOnce sync.Once
}

func (t *Task) kill() {
	t.killOnce.Do(func() { close(t.killCh) })
}

func NewExecuteService(statisticsService *StatisticsService, processorService *ProcessorService,
	duplicateService *DuplicateService, reportService *ReportService, processorCount int) *ExecuteService {
	if processorCount <= 0 || processorCount > 2000 {
		processorCount = 64
	}

	return &ExecuteService{
		taskCh:            make(chan *Task, processorCount*2),
		shutdownCh:        make(chan struct{}),
		statisticsService: statisticsService,
		processorService:  processorService,
		duplicateService:  duplicateService,
		reportService:     reportService,
		processorCount:    processorCount,
		running:           make(map[uint]*Task),
	}
}

// Submit 接收一个派发请求，返回是否接单和拒绝原因。
// 接单即承诺：要么上报终态，要么死掉由死亡清扫兜底
func (e *ExecuteService) Submit(req *api.RunJobRequest) (bool, string) {
	if e.statisticsService.GracefulStopped() {
		return false, constance.GracefulStoppingErrMsg
	}

	if !e.advanceEpoch(req.Epoch) {
		klog.Warnf("reject job run:%v, stale epoch:%v, current:%v", req.JobRunID, req.Epoch, e.maxEpoch.Load())
		return false, constance.StaleEpochErrMsg
	}

	if cached := e.duplicateService.CheckDuplicateSuccess(req); cached != nil {
		klog.Warnf("job run:%v already executed successfully, replay cached result", req.JobRunID)
		e.report(req, cached)
		return true, ""
	}

	task := &Task{Request: req, killCh: make(chan struct{})}
	select {
	case e.taskCh <- task:
		return true, ""
	default:
		return false, constance.OverloadedErrMsg
	}
}

// advanceEpoch CAS推进最大epoch。相等的epoch是同一个派发主，放行
func (e *ExecuteService) advanceEpoch(epoch int64) bool {
	for {
		cur := e.maxEpoch.Load()
		if epoch < cur {
			return false
		}
		if epoch == cur || e.maxEpoch.CompareAndSwap(cur, epoch) {
			return true
		}
	}
}

// Kill 停掉一个执行中的任务。没找到说明没在执行，也算成功
func (e *ExecuteService) Kill(jobRunID uint) bool {
	e.mu.Lock()
	task, ok := e.running[jobRunID]
	e.mu.Unlock()

	if ok {
		task.kill()
		klog.Infof("job run:%v killed on request", jobRunID)
	}
	return true
}

func (e *ExecuteService) Start() {
	for i := 0; i < e.processorCount; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	klog.Infof("start to handle jobs, go routine count:%v", e.processorCount)
}

func (e *ExecuteService) Stop() {
	close(e.shutdownCh)
	e.wg.Wait()
	klog.Infof("execute service stopped")
}

func (e *ExecuteService) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.shutdownCh:
			return
		case task := <-e.taskCh:
			e.execute(task)
		}
	}
}

func (e *ExecuteService) execute(task *Task) {
	req := task.Request
	e.statisticsService.OnStartExecute()
	defer e.statisticsService.OnFinishExecute()

	e.mu.Lock()
	e.running[req.JobRunID] = task
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, req.JobRunID)
		e.mu.Unlock()
	}()

	p := e.processorService.GetRegister(req.Job.JobType)
	if p == nil {
		klog.Errorf("can not find processor for job run:%v, jobType:%v", req.JobRunID, req.Job.JobType)
		e.report(req, &api.JobResult{Ok: false, Err: constance.CanNotFindProcessorErrMsg})
		return
	}

	resultCh := make(chan *api.JobResult, 1)
	go func() {
		resultCh <- p.Process(req.Job)
	}()

	var timeoutCh <-chan time.Time
	if req.Job.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(req.Job.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-resultCh:
		if result.Ok {
			e.duplicateService.OnExecuteSuccess(req, result)
		}
		e.report(req, result)
	case <-timeoutCh:
		klog.Warnf("job run:%v execute timeout after %vms", req.JobRunID, req.Job.TimeoutMs)
		e.report(req, &api.JobResult{Ok: false, Err: constance.ExecuteTimeoutErrMsg})
	case <-task.killCh:
		//调度侧已经把实例置成Killed了，不再上报
		klog.Infof("job run:%v execution aborted by kill", req.JobRunID)
	}
}

func (e *ExecuteService) report(req *api.RunJobRequest, result *api.JobResult) {
	resultMsg := result.Result
	if !result.Ok {
		resultMsg = result.Err
	}

	e.reportService.Push(&api.ReportRequest{
		JobRunID:      req.JobRunID,
		WorkflowRunID: req.WorkflowRunID,
		Success:       result.Ok,
		Result:        resultMsg,
		Split:         req.Job.Split,
	})
}
