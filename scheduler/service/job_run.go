package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nebula/pkg/api"
	"nebula/scheduler/constance"
	"nebula/scheduler/dag"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/policy"

	"github.com/cloudwego/kitex/pkg/klog"
)

// JobRunService 任务实例的状态机：上报处理、就绪级联、运行实例级的控制操作。
// 所有状态迁移走Operator的CAS原语，重复调用是幂等的
type JobRunService struct {
	scheduleOperator    schedule_operator.Operator
	workerManageService *WorkerManageService
	statisticsService   *StatisticsService
	alarmService        *AlarmService
}

func NewJobRunService(scheduleOperator schedule_operator.Operator,
	workerManageService *WorkerManageService, statisticsService *StatisticsService,
	alarmService *AlarmService) *JobRunService {
	return &JobRunService{
		scheduleOperator:    scheduleOperator,
		workerManageService: workerManageService,
		statisticsService:   statisticsService,
		alarmService:        alarmService,
	}
}

// HandleReport Worker的终态上报。重复上报靠终态保护自然幂等
func (s *JobRunService) HandleReport(ctx context.Context, req *api.ReportRequest) error {
	run, err := s.scheduleOperator.FetchJobRunFromID(ctx, req.JobRunID)
	if err != nil {
		return err
	}

	if req.Success {
		if err := s.scheduleOperator.UpdateJobRunSuccess(ctx, run.ID, req.Result); err != nil {
			if errors.Is(err, schedule_operator.ErrNotFound) {
				//已经是终态，重复上报
				return nil
			}
			return err
		}
		return s.onJobRunFinished(ctx, run.ID)
	}

	return s.handleFailure(ctx, run, req.Result)
}

// handleFailure 失败上报：还有重试额度就排下一次，否则置Failed并级联
func (s *JobRunService) handleFailure(ctx context.Context, run *model.JobRun, errorMsg string) error {
	job, err := s.scheduleOperator.FetchJobFromID(ctx, run.JobID)
	if err != nil {
		return err
	}

	retryPolicy := policy.PolicyFromJob(job)
	if retryPolicy.CanRetry(run.RetryCount) {
		nextRetryAt := time.Now().Add(retryPolicy.NextDelay(run.RetryCount))
		if err := s.scheduleOperator.UpdateJobRunRetry(ctx, run.ID, errorMsg, nextRetryAt); err != nil {
			if errors.Is(err, schedule_operator.ErrNotFound) {
				return nil
			}
			return err
		}
		s.statisticsService.OnRetryScheduled()
		klog.Infof("job run:%v failed, retry %d/%d scheduled at %v",
			run.ID, run.RetryCount+1, job.MaxRetryTimes, nextRetryAt)
		return nil
	}

	if err := s.scheduleOperator.UpdateJobRunFail(ctx, run.ID, errorMsg); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			return nil
		}
		return err
	}

	s.alarmService.Notify(&AlarmEvent{
		Level:   AlarmLevelError,
		Title:   fmt.Sprintf("job run %d failed", run.ID),
		Content: fmt.Sprintf("job:%d workflowRun:%d exhausted retries, last error: %s", run.JobID, run.WorkflowRunID, errorMsg),
	})
	return s.onJobRunFinished(ctx, run.ID)
}

// onJobRunFinished 一个实例到终态之后的级联：失败且不允许下游、或被杀时切掉下游，
// 刷新就绪状态，最后看整个WorkflowRun是否收敛
func (s *JobRunService) onJobRunFinished(ctx context.Context, jobRunID uint) error {
	run, err := s.scheduleOperator.FetchJobRunFromID(ctx, jobRunID)
	if err != nil {
		return err
	}

	runs, jobs, graph, err := s.loadRunContext(ctx, run.WorkflowRunID)
	if err != nil {
		return err
	}

	if run.Status == constance.JobRunStatusFailed || run.Status == constance.JobRunStatusKilled {
		job := jobs[run.JobID]
		//Killed无条件切下游，Failed还要看AllowDownstreamOnFail
		cut := run.Status == constance.JobRunStatusKilled || (job != nil && !job.AllowDownstreamOnFail)
		if cut {
			s.cutDownstream(ctx, run, runs, graph)
			//下游状态变了，重新加载
			runs, _, _, err = s.loadRunContext(ctx, run.WorkflowRunID)
			if err != nil {
				return err
			}
		}
	}

	s.refreshReadiness(ctx, runs, jobs, graph)
	return s.checkWorkflowRunCompletion(ctx, run.WorkflowRunID, jobs)
}

func (s *JobRunService) loadRunContext(ctx context.Context, workflowRunID uint) (
	[]*model.JobRun, map[uint]*model.Job, *dag.Graph, error) {
	runs, err := s.scheduleOperator.FindJobRunsByWorkflowRunID(ctx, workflowRunID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(runs) == 0 {
		return nil, nil, nil, fmt.Errorf("no job runs for workflow run %d", workflowRunID)
	}

	workflowRun, err := s.scheduleOperator.FetchWorkflowRunFromID(ctx, workflowRunID)
	if err != nil {
		return nil, nil, nil, err
	}

	jobList, err := s.scheduleOperator.FindJobsByWorkflowID(ctx, workflowRun.WorkflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	deps, err := s.scheduleOperator.FindDependenciesByWorkflowID(ctx, workflowRun.WorkflowID)
	if err != nil {
		return nil, nil, nil, err
	}

	jobs := make(map[uint]*model.Job, len(jobList))
	jobIDs := make([]uint, 0, len(jobList))
	for _, job := range jobList {
		jobs[job.ID] = job
		jobIDs = append(jobIDs, job.ID)
	}

	graph, err := dag.BuildGraph(jobIDs, deps)
	if err != nil {
		return nil, nil, nil, err
	}
	return runs, jobs, graph, nil
}

// cutDownstream 失败或被杀节点的全部下游里还没跑的直接置Killed
func (s *JobRunService) cutDownstream(ctx context.Context, failed *model.JobRun,
	runs []*model.JobRun, graph *dag.Graph) {
	downstream := make(map[uint]struct{})
	for _, id := range graph.Descendants(failed.JobID) {
		downstream[id] = struct{}{}
	}

	for _, run := range runs {
		if _, ok := downstream[run.JobID]; !ok {
			continue
		}
		for _, from := range []constance.JobRunStatus{constance.JobRunStatusWaiting, constance.JobRunStatusReady} {
			if err := s.scheduleOperator.CasJobRunStatus(ctx, run.ID, from, constance.JobRunStatusKilled); err == nil {
				klog.Infof("job run:%v killed, upstream:%v failed", run.ID, failed.ID)
				break
			}
		}
	}
}

// parentSatisfied 对下游而言父节点是否算过了。失败但允许下游继续时视作SKIPPED
func parentSatisfied(run *model.JobRun, job *model.Job) bool {
	if run.Status.Satisfied() {
		return true
	}
	return run.Status == constance.JobRunStatusFailed && job != nil && job.AllowDownstreamOnFail
}

// refreshReadiness Waiting的实例只要父节点全部满足就CAS成Ready。
// CAS失败说明别的节点已经推过了，不是错误
func (s *JobRunService) refreshReadiness(ctx context.Context,
	runs []*model.JobRun, jobs map[uint]*model.Job, graph *dag.Graph) {
	runByJobID := make(map[uint]*model.JobRun, len(runs))
	for _, run := range runs {
		runByJobID[run.JobID] = run
	}

	for _, run := range runs {
		if run.Status != constance.JobRunStatusWaiting {
			continue
		}

		ready := true
		for _, parentJobID := range graph.Parents(run.JobID) {
			parentRun := runByJobID[parentJobID]
			if parentRun == nil || !parentSatisfied(parentRun, jobs[parentJobID]) {
				ready = false
				break
			}
		}

		if ready {
			if err := s.scheduleOperator.CasJobRunStatus(ctx, run.ID,
				constance.JobRunStatusWaiting, constance.JobRunStatusReady); err == nil {
				klog.Infof("job run:%v ready, all parents satisfied", run.ID)
			}
		}
	}
}

// checkWorkflowRunCompletion 全部实例终态后收敛WorkflowRun
func (s *JobRunService) checkWorkflowRunCompletion(ctx context.Context, workflowRunID uint, jobs map[uint]*model.Job) error {
	runs, err := s.scheduleOperator.FindJobRunsByWorkflowRunID(ctx, workflowRunID)
	if err != nil {
		return err
	}

	allSatisfied := true
	for _, run := range runs {
		if !run.Status.Terminal() {
			return nil
		}
		if !parentSatisfied(run, jobs[run.JobID]) {
			allSatisfied = false
		}
	}

	now := time.Now()
	to := constance.WorkflowRunStatusCompleted
	if !allSatisfied {
		to = constance.WorkflowRunStatusFailed
	}

	if err := s.scheduleOperator.UpdateWorkflowRunStatus(ctx, workflowRunID, to, &now); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			//别的节点已经收敛过了
			return nil
		}
		return err
	}

	s.statisticsService.OnWorkflowRunFinish(to.String())
	if to == constance.WorkflowRunStatusFailed {
		s.alarmService.Notify(&AlarmEvent{
			Level:   AlarmLevelError,
			Title:   fmt.Sprintf("workflow run %d failed", workflowRunID),
			Content: fmt.Sprintf("workflow run %d finished with failed jobs", workflowRunID),
		})
	}
	klog.Infof("workflow run:%v finished with status:%v", workflowRunID, to)
	return nil
}

// KillJobRun 终止一个实例。没跑的直接Killed，跑着的先通知Worker再Killed，
// 下游里还没跑的一并切掉
func (s *JobRunService) KillJobRun(ctx context.Context, jobRunID uint) error {
	run, err := s.scheduleOperator.FetchJobRunFromID(ctx, jobRunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	if run.Status == constance.JobRunStatusDispatched || run.Status == constance.JobRunStatusRunning {
		s.sendKillToWorker(ctx, run)
	}

	for _, from := range []constance.JobRunStatus{
		constance.JobRunStatusWaiting, constance.JobRunStatusReady,
		constance.JobRunStatusDispatched, constance.JobRunStatusRunning,
	} {
		if err := s.scheduleOperator.CasJobRunStatus(ctx, jobRunID, from, constance.JobRunStatusKilled); err == nil {
			return s.onJobRunFinished(ctx, jobRunID)
		}
	}
	return nil
}

func (s *JobRunService) sendKillToWorker(ctx context.Context, run *model.JobRun) {
	workers := s.workerManageService.GetWorkers()
	wrapper, ok := workers[run.WorkerInstance]
	if !ok {
		klog.Warnf("kill job run:%v, worker:%v not connected", run.ID, run.WorkerInstance)
		return
	}

	if _, err := wrapper.Operator.KillJob(ctx, &api.KillJobRequest{JobRunID: run.ID}); err != nil {
		klog.Errorf("failed to kill job run:%v on worker:%v, error:%v", run.ID, run.WorkerInstance, err)
	}
}

// PassJobRun 人工把一个实例标成Skipped，下游视作成功。常用于失败后人工放行
func (s *JobRunService) PassJobRun(ctx context.Context, jobRunID uint) error {
	for _, from := range []constance.JobRunStatus{
		constance.JobRunStatusFailed, constance.JobRunStatusKilled,
		constance.JobRunStatusWaiting, constance.JobRunStatusReady,
	} {
		if err := s.scheduleOperator.CasJobRunStatus(ctx, jobRunID, from, constance.JobRunStatusSkipped); err == nil {
			return s.onJobRunFinished(ctx, jobRunID)
		}
	}
	return schedule_operator.ErrNotFound
}

// MarkFailedJobRun 人工把一个卡死的实例标成Failed
func (s *JobRunService) MarkFailedJobRun(ctx context.Context, jobRunID uint) error {
	if err := s.scheduleOperator.UpdateJobRunFail(ctx, jobRunID, "manually marked failed"); err != nil {
		if errors.Is(err, schedule_operator.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.onJobRunFinished(ctx, jobRunID)
}

// RetryJobRun 人工重试一个失败/被杀的实例
func (s *JobRunService) RetryJobRun(ctx context.Context, jobRunID uint) error {
	for _, from := range []constance.JobRunStatus{
		constance.JobRunStatusFailed, constance.JobRunStatusKilled,
	} {
		if err := s.scheduleOperator.CasJobRunStatus(ctx, jobRunID, from, constance.JobRunStatusReady); err == nil {
			//所在的WorkflowRun可能已经收敛成Failed了，重新打开
			run, err := s.scheduleOperator.FetchJobRunFromID(ctx, jobRunID)
			if err != nil {
				return err
			}
			return s.scheduleOperator.ReopenWorkflowRun(ctx, run.WorkflowRunID)
		}
	}
	return schedule_operator.ErrNotFound
}

// KillWorkflowRun 终止整个运行实例
func (s *JobRunService) KillWorkflowRun(ctx context.Context, workflowRunID uint) error {
	runs, err := s.scheduleOperator.FindJobRunsByWorkflowRunID(ctx, workflowRunID)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		if run.Status == constance.JobRunStatusDispatched || run.Status == constance.JobRunStatusRunning {
			s.sendKillToWorker(ctx, run)
		}
		for _, from := range []constance.JobRunStatus{
			constance.JobRunStatusWaiting, constance.JobRunStatusReady,
			constance.JobRunStatusDispatched, constance.JobRunStatusRunning,
		} {
			if err := s.scheduleOperator.CasJobRunStatus(ctx, run.ID, from, constance.JobRunStatusKilled); err == nil {
				break
			}
		}
	}

	now := time.Now()
	err = s.scheduleOperator.UpdateWorkflowRunStatus(ctx, workflowRunID, constance.WorkflowRunStatusCancelled, &now)
	if errors.Is(err, schedule_operator.ErrNotFound) {
		return nil
	}
	if err == nil {
		s.statisticsService.OnWorkflowRunFinish(constance.WorkflowRunStatusCancelled.String())
	}
	return err
}

// RerunWorkflowRun 重跑。withDownstream时把失败节点和它的下游闭包一起重置，
// 否则只重置失败/被杀的节点。被重置的实例回Waiting，就绪级联重新推进
func (s *JobRunService) RerunWorkflowRun(ctx context.Context, workflowRunID uint, withDownstream bool) error {
	runs, jobs, graph, err := s.loadRunContext(ctx, workflowRunID)
	if err != nil {
		return err
	}

	resetSet := make(map[uint]struct{})
	for _, run := range runs {
		if run.Status == constance.JobRunStatusFailed || run.Status == constance.JobRunStatusKilled {
			resetSet[run.JobID] = struct{}{}
			if withDownstream {
				for _, id := range graph.Descendants(run.JobID) {
					resetSet[id] = struct{}{}
				}
			}
		}
	}
	if len(resetSet) == 0 {
		return errors.New("nothing to rerun")
	}

	resetIDs := make([]uint, 0, len(resetSet))
	for _, run := range runs {
		if _, ok := resetSet[run.JobID]; ok {
			resetIDs = append(resetIDs, run.ID)
		}
	}

	if err := s.scheduleOperator.ResetJobRuns(ctx, resetIDs); err != nil {
		return err
	}
	if err := s.scheduleOperator.ReopenWorkflowRun(ctx, workflowRunID); err != nil {
		return err
	}

	//重置完立刻推一次就绪，根上的失败节点直接变Ready
	runs, _, _, err = s.loadRunContext(ctx, workflowRunID)
	if err != nil {
		return err
	}
	s.refreshReadiness(ctx, runs, jobs, graph)
	klog.Infof("rerun workflow run:%v, reset %d job runs", workflowRunID, len(resetIDs))
	return nil
}
