package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nebula/pkg/api"
	"nebula/scheduler/constance"
	"nebula/scheduler/lease"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/policy"

	"github.com/cloudwego/kitex/pkg/klog"
)

// ScheduleService 派发循环。只有租约持有者派发，epoch随请求下发防脑裂。
// 派发的并发安全靠UpdateJobRunDispatched的CAS，即使双主短暂共存也只会有一个成功
type ScheduleService struct {
	shutdownCh chan struct{}

	scheduleOperator    schedule_operator.Operator
	workerRouteService  *WorkerRouteService
	workerManageService *WorkerManageService
	jobRunService       *JobRunService
	shardingService     *ShardingService
	statisticsService   *StatisticsService
	dispatchLease       lease.Lease
}

func NewScheduleService(scheduleOperator schedule_operator.Operator,
	workerRouteService *WorkerRouteService, workerManageService *WorkerManageService,
	jobRunService *JobRunService, shardingService *ShardingService,
	statisticsService *StatisticsService, dispatchLease lease.Lease) *ScheduleService {
	ret := &ScheduleService{
		shutdownCh:          make(chan struct{}),
		scheduleOperator:    scheduleOperator,
		workerRouteService:  workerRouteService,
		workerManageService: workerManageService,
		jobRunService:       jobRunService,
		shardingService:     shardingService,
		statisticsService:   statisticsService,
		dispatchLease:       dispatchLease,
	}

	workerManageService.AddSweepDeadWorkerListener(ret)
	return ret
}

func (s *ScheduleService) Schedule() {
	ticker := time.NewTicker(s.statisticsService.GetScheduleInterval())

	for {
		select {
		case <-s.shutdownCh:
			ticker.Stop()
			return
		case <-ticker.C:
			s.scheduleOnce()
		}
	}
}

func (s *ScheduleService) Stop() {
	s.shutdownCh <- struct{}{}
}

func (s *ScheduleService) scheduleOnce() {
	ctx := context.TODO()

	held, err := s.dispatchLease.TryAcquire(ctx)
	if err != nil {
		klog.Errorf("scheduleOnce acquire lease error:%v", err)
		return
	}
	if !held {
		s.statisticsService.OnDispatchFail(DispatchFailReasonNotLeaseHolder)
		return
	}
	epoch := s.dispatchLease.Epoch()

	dueRuns, err := s.fetchDueJobRuns(ctx)
	if err != nil {
		klog.Errorf("scheduleOnce fetch due job runs error:%v", err)
		return
	}
	if len(dueRuns) == 0 {
		return
	}

	klog.Infof("scheduleOnce dispatching %d due job runs, epoch:%v", len(dueRuns), epoch)
	for _, run := range dueRuns {
		if !s.dispatchLease.Held() {
			klog.Warnf("lease lost mid-cycle, stop dispatching")
			return
		}
		s.dispatchJobRun(ctx, run, epoch)
	}
}

// fetchDueJobRuns 锁内取一批到期的Ready实例。锁让多个候选主不做重复的扫表
func (s *ScheduleService) fetchDueJobRuns(ctx context.Context) ([]*model.JobRun, error) {
	txCtx, err := s.scheduleOperator.OnTxStart(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.scheduleOperator.Lock(txCtx, constance.DispatchJobRunLockName); err != nil {
		_ = s.scheduleOperator.OnTxFail(txCtx)
		return nil, err
	}

	dueRuns, err := s.scheduleOperator.FetchDueJobRuns(txCtx, s.statisticsService.GetDispatchMaxCount(), time.Now())
	if err != nil {
		_ = s.scheduleOperator.OnTxFail(txCtx)
		return nil, err
	}

	if err := s.scheduleOperator.OnTxFinish(txCtx); err != nil {
		return nil, err
	}
	return dueRuns, nil
}

func (s *ScheduleService) dispatchJobRun(ctx context.Context, run *model.JobRun, epoch int64) {
	job, err := s.scheduleOperator.FetchJobFromID(ctx, run.JobID)
	if err != nil {
		klog.Errorf("dispatchJobRun fetch job:%v error:%v", run.JobID, err)
		return
	}

	workflowRun, err := s.scheduleOperator.FetchWorkflowRunFromID(ctx, run.WorkflowRunID)
	if err != nil {
		klog.Errorf("dispatchJobRun fetch workflow run:%v error:%v", run.WorkflowRunID, err)
		return
	}
	if workflowRun.Status.Terminal() {
		//实例所在的运行已经收敛，Ready残留直接清掉
		_ = s.scheduleOperator.CasJobRunStatus(ctx, run.ID, constance.JobRunStatusReady, constance.JobRunStatusKilled)
		return
	}

	if proceed := s.applyBlockStrategy(ctx, run, job); !proceed {
		return
	}

	if job.RouteStrategy == constance.RouteStrategyTypeSharding {
		if err := s.shardingService.DispatchSharded(ctx, run, job, epoch); err != nil {
			s.statisticsService.OnDispatchFail(DispatchFailReasonNoWorker)
			klog.Errorf("dispatchJobRun sharded dispatch for run:%v error:%v", run.ID, err)
		} else {
			s.statisticsService.OnDispatchSuccess()
			s.recordDelay(run)
		}
		return
	}

	wrapper, err := s.workerRouteService.ChooseWorker(run, job)
	if err != nil {
		s.statisticsService.OnDispatchFail(DispatchFailReasonNoWorker)
		klog.Errorf("dispatchJobRun no worker for run:%v, error:%v", run.ID, err)
		return
	}

	if err := s.scheduleOperator.UpdateJobRunDispatched(ctx, run.ID, wrapper.Worker.InstanceID); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			//别的派发方抢先了
			return
		}
		s.statisticsService.OnDispatchFail(DispatchFailReasonUpdateDbError)
		klog.Errorf("dispatchJobRun mark dispatched for run:%v error:%v", run.ID, err)
		return
	}

	resp, err := wrapper.Operator.RunJob(ctx, &api.RunJobRequest{
		JobRunID:      run.ID,
		WorkflowRunID: run.WorkflowRunID,
		NamespaceID:   run.NamespaceID,
		BucketID:      run.BucketID,
		RetryCount:    run.RetryCount,
		BlockStrategy: job.BlockStrategy.String(),
		Epoch:         epoch,
		Job: &api.Job{
			JobType:   string(job.JobType),
			Params:    job.Params,
			TimeoutMs: job.TimeoutMs,
		},
	})
	if err != nil {
		s.statisticsService.OnDispatchFail(DispatchFailReasonConnectError)
		klog.Errorf("dispatchJobRun send run:%v to worker:%v error:%v", run.ID, wrapper.Worker.InstanceID, err)
		_ = s.jobRunService.handleFailure(ctx, run, fmt.Sprintf("dispatch to %s failed: %v", wrapper.Worker.InstanceID, err))
		return
	}
	if !resp.Accepted {
		s.statisticsService.OnDispatchFail(DispatchFailReasonWorkerRejected)
		klog.Warnf("dispatchJobRun worker:%v rejected run:%v, message:%v", wrapper.Worker.InstanceID, run.ID, resp.Message)
		_ = s.jobRunService.handleFailure(ctx, run, fmt.Sprintf("worker %s rejected: %s", wrapper.Worker.InstanceID, resp.Message))
		return
	}

	//Worker接了，落Running。CAS失败说明Worker已经抢先上报了终态，不覆盖
	_ = s.scheduleOperator.CasJobRunStatus(ctx, run.ID, constance.JobRunStatusDispatched, constance.JobRunStatusRunning)

	s.statisticsService.OnDispatchSuccess()
	s.recordDelay(run)
	klog.Infof("dispatched job run:%v to worker:%v", run.ID, wrapper.Worker.InstanceID)
}

// applyBlockStrategy 同Job有在途实例时按阻塞策略裁决，返回是否继续派发
func (s *ScheduleService) applyBlockStrategy(ctx context.Context, run *model.JobRun, job *model.Job) bool {
	activeRuns, err := s.scheduleOperator.FindActiveJobRunsByJobID(ctx, run.JobID)
	if err != nil {
		klog.Errorf("applyBlockStrategy find active runs for job:%v error:%v", run.JobID, err)
		return false
	}

	decision := policy.Decide(job.BlockStrategy, activeRuns)
	switch decision.Action {
	case policy.BlockActionDiscard:
		if err := s.scheduleOperator.CasJobRunStatus(ctx, run.ID,
			constance.JobRunStatusReady, constance.JobRunStatusSkipped); err == nil {
			klog.Infof("job run:%v discarded, %s", run.ID, decision.Reason)
			_ = s.jobRunService.onJobRunFinished(ctx, run.ID)
		}
		return false
	case policy.BlockActionWait:
		return false
	case policy.BlockActionCoverEarly:
		for _, victim := range decision.Victims {
			if err := s.jobRunService.KillJobRun(ctx, victim.ID); err != nil {
				klog.Errorf("applyBlockStrategy kill earlier run:%v error:%v", victim.ID, err)
			}
		}
		return true
	default:
		return true
	}
}

func (s *ScheduleService) recordDelay(run *model.JobRun) {
	if !run.NextRetryAt.IsZero() {
		s.statisticsService.RecordDispatchDelay(time.Since(run.NextRetryAt))
	}
}

// OnWorkersSwept 死掉的Worker上未完成的实例走失败路径：有重试额度的回Ready等重派
func (s *ScheduleService) OnWorkersSwept(instanceIDs []string) {
	ctx := context.TODO()
	for _, instanceID := range instanceIDs {
		runs, err := s.scheduleOperator.FindActiveJobRunsByWorkerInstance(ctx, instanceID)
		if err != nil {
			klog.Errorf("OnWorkersSwept find runs on worker:%v error:%v", instanceID, err)
			continue
		}

		for _, run := range runs {
			klog.Warnf("job run:%v stranded on dead worker:%v, failing over", run.ID, instanceID)
			if err := s.jobRunService.handleFailure(ctx, run,
				fmt.Sprintf("worker %s stopped heartbeating", instanceID)); err != nil {
				klog.Errorf("OnWorkersSwept failover run:%v error:%v", run.ID, err)
			}
		}
	}
}

var _ SweepDeadWorkerListener = (*ScheduleService)(nil)
