package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nebula/pkg/api"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"

	"github.com/cloudwego/kitex/pkg/klog"
)

// ShardingService 分片任务协调器。
// 把[0, ShardingTotal)按派发时活着的Worker数切成连续区间，轮转分配。
// Worker死掉或分片失败时回收重新分配，每个分片最多重分GetMaxSplitRetry次
type ShardingService struct {
	shutdownCh chan struct{}

	scheduleOperator    schedule_operator.Operator
	workerManageService *WorkerManageService
	jobRunService       *JobRunService
	statisticsService   *StatisticsService

	mu sync.Mutex
	//进行中的分片任务，key为jobRunID
	inflight map[uint]*shardedRun
}

type shardedRun struct {
	run   *model.JobRun
	job   *model.Job
	epoch int64
}

func NewShardingService(scheduleOperator schedule_operator.Operator,
	workerManageService *WorkerManageService, jobRunService *JobRunService,
	statisticsService *StatisticsService) *ShardingService {
	return &ShardingService{
		shutdownCh:          make(chan struct{}),
		scheduleOperator:    scheduleOperator,
		workerManageService: workerManageService,
		jobRunService:       jobRunService,
		statisticsService:   statisticsService,
		inflight:            make(map[uint]*shardedRun),
	}
}

// DispatchSharded 派发一个分片任务。分片数取派发时刻活着的候选Worker数
func (s *ShardingService) DispatchSharded(ctx context.Context, run *model.JobRun, job *model.Job, epoch int64) error {
	workers := s.candidateWorkers(job)
	if len(workers) == 0 {
		return fmt.Errorf("no worker for sharding job %d, group:%s", job.ID, job.WorkerGroup)
	}

	splits, err := s.scheduleOperator.FindSplitRangesByJobRunID(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(splits) == 0 {
		splits, err = s.createSplits(ctx, run, job, len(workers))
		if err != nil {
			return err
		}
	}

	if err := s.scheduleOperator.UpdateJobRunDispatched(ctx, run.ID, "sharding"); err != nil &&
		!errors.Is(err, schedule_operator.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	s.inflight[run.ID] = &shardedRun{run: run, job: job, epoch: epoch}
	s.mu.Unlock()

	s.assignPending(ctx, run, job, splits, workers, epoch)
	return nil
}

func (s *ShardingService) candidateWorkers(job *model.Job) []*WorkerWrapper {
	all := s.workerManageService.GetWorkers()
	ret := make([]*WorkerWrapper, 0, len(all))
	for _, w := range all {
		if job.WorkerGroup == "" || w.Worker.GroupName == job.WorkerGroup {
			ret = append(ret, w)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Worker.InstanceID < ret[j].Worker.InstanceID
	})
	return ret
}

// createSplits 把keyspace均分成n个左闭右开区间，余数摊在前面的区间
func (s *ShardingService) createSplits(ctx context.Context, run *model.JobRun, job *model.Job, n int) ([]*model.SplitRange, error) {
	total := job.ShardingTotal
	if total <= 0 {
		return nil, fmt.Errorf("job %d has invalid shardingTotal:%d", job.ID, total)
	}
	if int64(n) > total {
		n = int(total)
	}

	base := total / int64(n)
	remainder := total % int64(n)

	splits := make([]*model.SplitRange, 0, n)
	start := int64(0)
	for i := 0; i < n; i++ {
		size := base
		if int64(i) < remainder {
			size++
		}
		splits = append(splits, &model.SplitRange{
			JobRunID: run.ID,
			Start:    start,
			End:      start + size,
			Status:   constance.SplitStatusPending,
		})
		start += size
	}

	if err := s.scheduleOperator.InsertSplitRanges(ctx, splits); err != nil {
		return nil, err
	}
	klog.Infof("job run:%v split into %d ranges over [0,%d)", run.ID, n, total)
	return splits, nil
}

// assignPending Pending的分片轮转分配给候选Worker
func (s *ShardingService) assignPending(ctx context.Context, run *model.JobRun, job *model.Job,
	splits []*model.SplitRange, workers []*WorkerWrapper, epoch int64) {
	idx := 0
	for _, split := range splits {
		if split.Status != constance.SplitStatusPending {
			continue
		}

		worker := workers[idx%len(workers)]
		idx++

		if err := s.scheduleOperator.UpdateSplitRangeAssigned(ctx, split.ID, worker.Worker.InstanceID, time.Now()); err != nil {
			//别的节点已经分出去了
			continue
		}

		req := &api.RunJobRequest{
			JobRunID:      run.ID,
			WorkflowRunID: run.WorkflowRunID,
			NamespaceID:   run.NamespaceID,
			BucketID:      run.BucketID,
			RetryCount:    split.RetryCount,
			BlockStrategy: job.BlockStrategy.String(),
			Epoch:         epoch,
			Job: &api.Job{
				JobType:   string(job.JobType),
				Params:    job.Params,
				TimeoutMs: job.TimeoutMs,
				Split: &api.SplitParam{
					RangeID: split.ID,
					Start:   split.Start,
					End:     split.End,
					Total:   len(splits),
				},
			},
		}

		resp, err := worker.Operator.RunJob(ctx, req)
		if err != nil || !resp.Accepted {
			klog.Errorf("failed to dispatch split:%v to worker:%v, error:%v", split.RangeKey(), worker.Worker.InstanceID, err)
			_ = s.scheduleOperator.RequeueSplitRange(ctx, split.ID)
			continue
		}
		klog.Infof("split:%v assigned to worker:%v", split.RangeKey(), worker.Worker.InstanceID)
	}
}

// splitRetryBudget 分片的重分配额度取Job上的重试次数。
// 本节点不在协调这个任务时回落到全局默认值
func (s *ShardingService) splitRetryBudget(ctx context.Context, jobRunID uint) int {
	s.mu.Lock()
	if sr, ok := s.inflight[jobRunID]; ok {
		s.mu.Unlock()
		return sr.job.MaxRetryTimes
	}
	s.mu.Unlock()

	run, err := s.scheduleOperator.FetchJobRunFromID(ctx, jobRunID)
	if err != nil {
		return s.statisticsService.GetMaxSplitRetry()
	}
	job, err := s.scheduleOperator.FetchJobFromID(ctx, run.JobID)
	if err != nil {
		return s.statisticsService.GetMaxSplitRetry()
	}
	return job.MaxRetryTimes
}

// HandleSplitReport 分片的终态上报
func (s *ShardingService) HandleSplitReport(ctx context.Context, req *api.ReportRequest) error {
	splits, err := s.scheduleOperator.FindSplitRangesByJobRunID(ctx, req.JobRunID)
	if err != nil {
		return err
	}

	var reported *model.SplitRange
	for _, split := range splits {
		if split.ID == req.Split.RangeID {
			reported = split
			break
		}
	}
	if reported == nil {
		return fmt.Errorf("unknown split range %d for job run %d", req.Split.RangeID, req.JobRunID)
	}

	if req.Success {
		if err := s.scheduleOperator.UpdateSplitRangeStatus(ctx, reported.ID, constance.SplitStatusCompleted); err != nil {
			if errors.Is(err, schedule_operator.ErrNotFound) {
				return nil
			}
			return err
		}
		return s.checkShardedCompletion(ctx, req.JobRunID)
	}

	return s.handleSplitFailure(ctx, req.JobRunID, reported, req.Result)
}

func (s *ShardingService) handleSplitFailure(ctx context.Context, jobRunID uint,
	split *model.SplitRange, errorMsg string) error {
	budget := s.splitRetryBudget(ctx, jobRunID)
	if split.RetryCount < budget {
		if err := s.scheduleOperator.RequeueSplitRange(ctx, split.ID); err != nil {
			if errors.Is(err, schedule_operator.ErrNotFound) {
				return nil
			}
			return err
		}
		klog.Warnf("split:%v failed, requeued, retry %d/%d", split.RangeKey(),
			split.RetryCount+1, budget)
		return nil
	}

	//重分配额度用完，整个分片任务失败
	if err := s.scheduleOperator.UpdateSplitRangeStatus(ctx, split.ID, constance.SplitStatusFailed); err != nil &&
		!errors.Is(err, schedule_operator.ErrNotFound) {
		return err
	}

	s.forgetRun(jobRunID)
	if err := s.scheduleOperator.UpdateJobRunFail(ctx, jobRunID,
		fmt.Sprintf("split %s failed after %d reassigns: %s", split.RangeKey(), split.RetryCount, errorMsg)); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.jobRunService.onJobRunFinished(ctx, jobRunID)
}

func (s *ShardingService) checkShardedCompletion(ctx context.Context, jobRunID uint) error {
	splits, err := s.scheduleOperator.FindSplitRangesByJobRunID(ctx, jobRunID)
	if err != nil {
		return err
	}

	for _, split := range splits {
		if split.Status != constance.SplitStatusCompleted {
			return nil
		}
	}

	s.forgetRun(jobRunID)
	if err := s.scheduleOperator.UpdateJobRunSuccess(ctx, jobRunID,
		fmt.Sprintf("all %d splits completed", len(splits))); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.jobRunService.onJobRunFinished(ctx, jobRunID)
}

func (s *ShardingService) forgetRun(jobRunID uint) {
	s.mu.Lock()
	delete(s.inflight, jobRunID)
	s.mu.Unlock()
}

// ReassignLoop 周期回收死Worker上的分片并把Pending的重新派出去
func (s *ShardingService) ReassignLoop() {
	ticker := time.NewTicker(s.statisticsService.GetSplitReassignInterval())

	for {
		select {
		case <-s.shutdownCh:
			ticker.Stop()
			return
		case <-ticker.C:
			s.reassignDeadSplits()
		}
	}
}

func (s *ShardingService) Stop() {
	s.shutdownCh <- struct{}{}
}

func (s *ShardingService) reassignDeadSplits() {
	s.mu.Lock()
	running := make([]*shardedRun, 0, len(s.inflight))
	for _, sr := range s.inflight {
		running = append(running, sr)
	}
	s.mu.Unlock()

	ctx := context.TODO()
	for _, sr := range running {
		workers := s.candidateWorkers(sr.job)
		aliveSet := make(map[string]struct{}, len(workers))
		for _, w := range workers {
			aliveSet[w.Worker.InstanceID] = struct{}{}
		}

		splits, err := s.scheduleOperator.FindSplitRangesByJobRunID(ctx, sr.run.ID)
		if err != nil {
			klog.Errorf("reassignDeadSplits fetch splits for run:%v error:%v", sr.run.ID, err)
			continue
		}

		for _, split := range splits {
			if split.Status != constance.SplitStatusProcessing {
				continue
			}
			if _, alive := aliveSet[split.Assignee]; alive {
				continue
			}

			klog.Warnf("split:%v assignee:%v is dead, reclaiming", split.RangeKey(), split.Assignee)
			if split.RetryCount < sr.job.MaxRetryTimes {
				_ = s.scheduleOperator.RequeueSplitRange(ctx, split.ID)
			} else {
				_ = s.handleSplitFailure(ctx, sr.run.ID, split, "assignee dead, reassign budget exhausted")
			}
		}

		if len(workers) != 0 {
			//把回收回来的Pending再派出去
			splits, err = s.scheduleOperator.FindSplitRangesByJobRunID(ctx, sr.run.ID)
			if err != nil {
				continue
			}
			s.assignPending(ctx, sr.run, sr.job, splits, workers, sr.epoch)
		}
	}
}
