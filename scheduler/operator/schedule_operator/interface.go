package schedule_operator

import (
	"context"
	"errors"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Operator interface {
	//-------------------------------workflow
	//插入不带id的Workflow，落库后回填ID字段
	InsertWorkflow(ctx context.Context, workflow *model.Workflow) error
	UpdateWorkflow(ctx context.Context, workflow *model.Workflow) error
	FetchWorkflowFromID(ctx context.Context, workflowID uint) (*model.Workflow, error)
	//cron刷新用，取某个状态下的全部工作流
	FindWorkflowsByStatus(ctx context.Context, status constance.WorkflowStatus) ([]*model.Workflow, error)
	//状态CAS。数据库里的状态不等于from则不更新，返回ErrNotFound。
	//上线/下线并发点就在这里，谁CAS成功谁说了算
	CasWorkflowStatus(ctx context.Context, workflowID uint, from, to constance.WorkflowStatus) error

	//-------------------------------job
	//插入不带id的Job，落库后回填ID
	InsertJob(ctx context.Context, job *model.Job) error
	InsertJobs(ctx context.Context, jobs []*model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	DeleteJobFromID(ctx context.Context, jobID uint) error
	FetchJobFromID(ctx context.Context, jobID uint) (*model.Job, error)
	FindJobsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Job, error)

	//-------------------------------dependency
	InsertDependency(ctx context.Context, dep *model.Dependency) error
	DeleteDependencyFromID(ctx context.Context, depID uint) error
	FindDependenciesByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Dependency, error)

	//-------------------------------workflowRun
	InsertWorkflowRun(ctx context.Context, run *model.WorkflowRun) error
	FetchWorkflowRunFromID(ctx context.Context, runID uint) (*model.WorkflowRun, error)
	//终态保护的状态更新。数据库里已是终态则不更新，返回ErrNotFound
	UpdateWorkflowRunStatus(ctx context.Context, runID uint, to constance.WorkflowRunStatus, endTime *time.Time) error
	FindWorkflowRunsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.WorkflowRun, error)

	//-------------------------------jobRun
	//插入不带id的JobRun切片，落库后回填所有ID
	InsertJobRuns(ctx context.Context, runs []*model.JobRun) error
	FetchJobRunFromID(ctx context.Context, jobRunID uint) (*model.JobRun, error)
	FindJobRunsByWorkflowRunID(ctx context.Context, workflowRunID uint) ([]*model.JobRun, error)
	//同一Job下处于Dispatched/Running的实例，阻塞策略用
	FindActiveJobRunsByJobID(ctx context.Context, jobID uint) ([]*model.JobRun, error)
	//某个Worker上处于Dispatched/Running的实例，Worker死掉后failover用
	FindActiveJobRunsByWorkerInstance(ctx context.Context, workerInstance string) ([]*model.JobRun, error)
	//状态CAS。数据库里的状态不等于from则不更新，返回ErrNotFound。
	//终态幂等、防并发重复派发都靠这一个原语
	CasJobRunStatus(ctx context.Context, jobRunID uint, from, to constance.JobRunStatus) error
	//派发成功，Ready->Dispatched并记录Worker。from不是Ready时返回ErrNotFound
	UpdateJobRunDispatched(ctx context.Context, jobRunID uint, workerInstance string) error
	//执行成功，记录结果和结束时间。已是终态则不更新
	UpdateJobRunSuccess(ctx context.Context, jobRunID uint, result string) error
	//执行失败但还能重试，retry_count+1，记录下一次可派发时间，状态回Ready
	UpdateJobRunRetry(ctx context.Context, jobRunID uint, errorMsg string, nextRetryAt time.Time) error
	//执行失败且不再重试，置Failed。已是终态则不更新
	UpdateJobRunFail(ctx context.Context, jobRunID uint, errorMsg string) error
	//查找可以派发的JobRun：状态Ready且next_retry_at不晚于noLaterThan，按next_retry_at升序，最多maxCount条
	FetchDueJobRuns(ctx context.Context, maxCount int, noLaterThan time.Time) ([]*model.JobRun, error)
	//重跑用：把一批JobRun重置回Waiting，清空结果和Worker
	ResetJobRuns(ctx context.Context, jobRunIDs []uint) error
	//重跑用：把终态的WorkflowRun重新置回Running，清空结束时间
	ReopenWorkflowRun(ctx context.Context, runID uint) error

	//-------------------------------splitRange
	InsertSplitRanges(ctx context.Context, ranges []*model.SplitRange) error
	FindSplitRangesByJobRunID(ctx context.Context, jobRunID uint) ([]*model.SplitRange, error)
	//分片分配给Worker，Pending->Processing。from不是Pending时返回ErrNotFound
	UpdateSplitRangeAssigned(ctx context.Context, splitID uint, assignee string, assignedAt time.Time) error
	//分片终态更新。已是终态则不更新
	UpdateSplitRangeStatus(ctx context.Context, splitID uint, to constance.SplitStatus) error
	//失败分片回收重新分配，retry_count+1，状态回Pending
	RequeueSplitRange(ctx context.Context, splitID uint) error

	//-------------------------------tx
	//仅限于支持事务的实现。不支持事务的实现原样返回ctx即可
	OnTxStart(ctx context.Context) (context.Context, error)
	OnTxFail(ctx context.Context) error
	OnTxFinish(ctx context.Context) error

	//-------------------------------lock
	//分布式锁。单机实现可以空转
	Lock(ctx context.Context, lockName string) error
}
