package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nebula/scheduler/constance"
	"nebula/scheduler/dag"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"

	"github.com/cloudwego/kitex/pkg/klog"
)

var (
	ErrWorkflowFrozen = errors.New("workflow is online, definition is frozen")
	ErrNotOnline      = errors.New("workflow is not online")
)

// WorkflowService 工作流定义管理和运行实例的物化
type WorkflowService struct {
	scheduleOperator  schedule_operator.Operator
	statisticsService *StatisticsService
}

func NewWorkflowService(scheduleOperator schedule_operator.Operator,
	statisticsService *StatisticsService) *WorkflowService {
	return &WorkflowService{
		scheduleOperator:  scheduleOperator,
		statisticsService: statisticsService,
	}
}

func (s *WorkflowService) CreateWorkflow(ctx context.Context, workflow *model.Workflow) error {
	workflow.Status = constance.WorkflowStatusDraft
	workflow.Version = 1
	return s.scheduleOperator.InsertWorkflow(ctx, workflow)
}

func (s *WorkflowService) FetchWorkflow(ctx context.Context, workflowID uint) (*model.Workflow, error) {
	return s.scheduleOperator.FetchWorkflowFromID(ctx, workflowID)
}

func (s *WorkflowService) FindWorkflowsByStatus(ctx context.Context, status constance.WorkflowStatus) ([]*model.Workflow, error) {
	return s.scheduleOperator.FindWorkflowsByStatus(ctx, status)
}

// checkMutable 定义只有在非Online状态下才能改
func (s *WorkflowService) checkMutable(ctx context.Context, workflowID uint) error {
	workflow, err := s.scheduleOperator.FetchWorkflowFromID(ctx, workflowID)
	if err != nil {
		return err
	}
	if workflow.Status == constance.WorkflowStatusOnline {
		return ErrWorkflowFrozen
	}
	return nil
}

func (s *WorkflowService) AddJob(ctx context.Context, job *model.Job) error {
	if err := s.checkMutable(ctx, job.WorkflowID); err != nil {
		return err
	}
	if !job.RouteStrategy.Valid() {
		return fmt.Errorf("invalid route strategy:%d", job.RouteStrategy)
	}
	if job.RouteStrategy == constance.RouteStrategyTypeSharding && job.ShardingTotal <= 0 {
		return errors.New("sharding job needs a positive shardingTotal")
	}

	//加节点不会成环，只查节点数上限
	jobs, err := s.scheduleOperator.FindJobsByWorkflowID(ctx, job.WorkflowID)
	if err != nil {
		return err
	}
	if len(jobs)+1 > dag.MaxNodes {
		return fmt.Errorf("workflow has %d jobs, exceeds max %d", len(jobs)+1, dag.MaxNodes)
	}

	return s.scheduleOperator.InsertJob(ctx, job)
}

func (s *WorkflowService) UpdateJob(ctx context.Context, job *model.Job) error {
	if err := s.checkMutable(ctx, job.WorkflowID); err != nil {
		return err
	}
	if !job.RouteStrategy.Valid() {
		return fmt.Errorf("invalid route strategy:%d", job.RouteStrategy)
	}
	if job.RouteStrategy == constance.RouteStrategyTypeSharding && job.ShardingTotal <= 0 {
		return errors.New("sharding job needs a positive shardingTotal")
	}
	return s.scheduleOperator.UpdateJob(ctx, job)
}

func (s *WorkflowService) DeleteJob(ctx context.Context, workflowID, jobID uint) error {
	if err := s.checkMutable(ctx, workflowID); err != nil {
		return err
	}

	//节点删掉时连带删它的所有边
	deps, err := s.scheduleOperator.FindDependenciesByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if dep.JobID == jobID || dep.ParentJobID == jobID {
			if err := s.scheduleOperator.DeleteDependencyFromID(ctx, dep.ID); err != nil {
				return err
			}
		}
	}

	return s.scheduleOperator.DeleteJobFromID(ctx, jobID)
}

// AddDependency 加一条边。只校验新边引入的环，不重建全图
func (s *WorkflowService) AddDependency(ctx context.Context, dep *model.Dependency) error {
	if err := s.checkMutable(ctx, dep.WorkflowID); err != nil {
		return err
	}

	graph, err := s.buildGraph(ctx, dep.WorkflowID)
	if err != nil {
		return err
	}
	if err := graph.ValidateSingleInsert(dep); err != nil {
		return err
	}

	return s.scheduleOperator.InsertDependency(ctx, dep)
}

func (s *WorkflowService) DeleteDependency(ctx context.Context, workflowID, depID uint) error {
	if err := s.checkMutable(ctx, workflowID); err != nil {
		return err
	}
	return s.scheduleOperator.DeleteDependencyFromID(ctx, depID)
}

func (s *WorkflowService) buildGraph(ctx context.Context, workflowID uint) (*dag.Graph, error) {
	jobs, err := s.scheduleOperator.FindJobsByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	deps, err := s.scheduleOperator.FindDependenciesByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	jobIDs := make([]uint, len(jobs))
	for i, job := range jobs {
		jobIDs[i] = job.ID
	}
	return dag.BuildGraph(jobIDs, deps)
}

// OnlineWorkflow 上线前做一次全图校验，上线后定义冻结。
// 手动触发的工作流上线即物化首个运行实例，定时工作流的首个实例等cron触发点
func (s *WorkflowService) OnlineWorkflow(ctx context.Context, workflowID uint) (*model.WorkflowRun, error) {
	workflow, err := s.scheduleOperator.FetchWorkflowFromID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	graph, err := s.buildGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if graph.NodeCount() == 0 {
		return nil, errors.New("workflow has no job")
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	if err := s.casOnline(ctx, workflowID); err != nil {
		return nil, err
	}

	if workflow.TriggerCron != "" {
		return nil, nil
	}
	return s.TriggerWorkflow(ctx, workflowID)
}

// casOnline Draft和Offline都可以上线
func (s *WorkflowService) casOnline(ctx context.Context, workflowID uint) error {
	err := s.scheduleOperator.CasWorkflowStatus(ctx, workflowID, constance.WorkflowStatusDraft, constance.WorkflowStatusOnline)
	if errors.Is(err, schedule_operator.ErrNotFound) {
		err = s.scheduleOperator.CasWorkflowStatus(ctx, workflowID, constance.WorkflowStatusOffline, constance.WorkflowStatusOnline)
	}
	return err
}

// OfflineWorkflow 下线后不再产生新实例，在途实例不受影响
func (s *WorkflowService) OfflineWorkflow(ctx context.Context, workflowID uint) error {
	return s.scheduleOperator.CasWorkflowStatus(ctx, workflowID, constance.WorkflowStatusOnline, constance.WorkflowStatusOffline)
}

// TriggerWorkflow 物化一次运行实例：根节点Ready，其余Waiting
func (s *WorkflowService) TriggerWorkflow(ctx context.Context, workflowID uint) (*model.WorkflowRun, error) {
	workflow, err := s.scheduleOperator.FetchWorkflowFromID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.Status != constance.WorkflowStatusOnline {
		return nil, ErrNotOnline
	}

	graph, err := s.buildGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	txCtx, err := s.scheduleOperator.OnTxStart(ctx)
	if err != nil {
		return nil, err
	}

	run, err := s.materializeRun(txCtx, workflow, graph)
	if err != nil {
		_ = s.scheduleOperator.OnTxFail(txCtx)
		return nil, err
	}

	if err := s.scheduleOperator.OnTxFinish(txCtx); err != nil {
		return nil, err
	}

	s.statisticsService.OnWorkflowRunStart()
	klog.Infof("triggered workflow:%v, run:%v", workflowID, run.ID)
	return run, nil
}

func (s *WorkflowService) materializeRun(ctx context.Context, workflow *model.Workflow, graph *dag.Graph) (*model.WorkflowRun, error) {
	run := &model.WorkflowRun{
		WorkflowID: workflow.ID,
		Version:    workflow.Version,
		Status:     constance.WorkflowRunStatusRunning,
		StartTime:  time.Now(),
	}
	if err := s.scheduleOperator.InsertWorkflowRun(ctx, run); err != nil {
		return nil, err
	}

	roots := make(map[uint]struct{})
	for _, id := range graph.Roots() {
		roots[id] = struct{}{}
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	jobRuns := make([]*model.JobRun, 0, len(order))
	for _, jobID := range order {
		status := constance.JobRunStatusWaiting
		if _, ok := roots[jobID]; ok {
			status = constance.JobRunStatusReady
		}
		jobRuns = append(jobRuns, &model.JobRun{
			JobID:         jobID,
			WorkflowRunID: run.ID,
			NamespaceID:   workflow.NamespaceID,
			BucketID:      int((workflow.NamespaceID*31 + run.ID) % 1024),
			Status:        status,
		})
	}

	if err := s.scheduleOperator.InsertJobRuns(ctx, jobRuns); err != nil {
		return nil, err
	}
	return run, nil
}
