package service

import (
	"context"
	"testing"

	"nebula/pkg/api"
	"nebula/pkg/discovery"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/operator/schedule_operator/memory_operator"
	"nebula/scheduler/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedEnv(t *testing.T) (schedule_operator.Operator, *WorkflowService, *JobRunService, *WorkerManageService) {
	op := memory_operator.NewMemoryScheduleOperator()
	stats := NewStatisticsService("test-scheduler", false)
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	require.NoError(t, err)
	manage := NewWorkerManageService(stats, discoveryClient, registry.NewMemoryRegistry())
	workflowService := NewWorkflowService(op, stats)
	jobRunService := NewJobRunService(op, manage, stats, NewAlarmService(nil))
	return op, workflowService, jobRunService, manage
}

type chainEnv struct {
	op schedule_operator.Operator
	ws *WorkflowService
	jr *JobRunService

	run              *model.WorkflowRun
	jobA, jobB, jobC *model.Job
}

// setupChain 三个节点的链：extract -> transform -> load
func setupChain(t *testing.T, mutate func(a, b, c *model.Job)) *chainEnv {
	op, ws, jr, _ := newSchedEnv(t)
	ctx := context.TODO()

	wf := &model.Workflow{Name: "etl"}
	require.NoError(t, ws.CreateWorkflow(ctx, wf))

	newJob := func(name string) *model.Job {
		return &model.Job{
			WorkflowID:    wf.ID,
			Name:          name,
			JobType:       constance.JobTypeShell,
			RouteStrategy: constance.RouteStrategyTypeFirst,
		}
	}
	a, b, c := newJob("extract"), newJob("transform"), newJob("load")
	if mutate != nil {
		mutate(a, b, c)
	}
	require.NoError(t, ws.AddJob(ctx, a))
	require.NoError(t, ws.AddJob(ctx, b))
	require.NoError(t, ws.AddJob(ctx, c))
	require.NoError(t, ws.AddDependency(ctx, &model.Dependency{WorkflowID: wf.ID, ParentJobID: a.ID, JobID: b.ID}))
	require.NoError(t, ws.AddDependency(ctx, &model.Dependency{WorkflowID: wf.ID, ParentJobID: b.ID, JobID: c.ID}))
	//上线即物化首个运行实例
	run, err := ws.OnlineWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, run)

	return &chainEnv{op: op, ws: ws, jr: jr, run: run, jobA: a, jobB: b, jobC: c}
}

func (e *chainEnv) runOf(t *testing.T, job *model.Job) *model.JobRun {
	runs, err := e.op.FindJobRunsByWorkflowRunID(context.TODO(), e.run.ID)
	require.NoError(t, err)
	for _, run := range runs {
		if run.JobID == job.ID {
			return run
		}
	}
	t.Fatalf("no job run for job %d", job.ID)
	return nil
}

// startRun 模拟调度循环把一个Ready实例派出去并被Worker接下
func (e *chainEnv) startRun(t *testing.T, jobRunID uint) {
	ctx := context.TODO()
	require.NoError(t, e.op.UpdateJobRunDispatched(ctx, jobRunID, "worker-1"))
	require.NoError(t, e.op.CasJobRunStatus(ctx, jobRunID,
		constance.JobRunStatusDispatched, constance.JobRunStatusRunning))
}

func (e *chainEnv) report(t *testing.T, jobRunID uint, success bool, result string) {
	require.NoError(t, e.jr.HandleReport(context.TODO(), &api.ReportRequest{
		JobRunID:      jobRunID,
		WorkflowRunID: e.run.ID,
		Success:       success,
		Result:        result,
	}))
}

func TestOnlineMaterializesInitialRun(t *testing.T) {
	env := setupChain(t, nil)

	//上线不需要再手动触发，运行实例和任务实例直接就位，根节点Ready
	assert.Equal(t, constance.WorkflowRunStatusRunning, env.run.Status)
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobC).Status)
}

func TestOnlineCronWorkflowDefersToTrigger(t *testing.T) {
	_, ws, _, _ := newSchedEnv(t)
	ctx := context.TODO()

	wf := &model.Workflow{Name: "nightly", TriggerCron: "0 0 2 * * *"}
	require.NoError(t, ws.CreateWorkflow(ctx, wf))
	require.NoError(t, ws.AddJob(ctx, &model.Job{
		WorkflowID:    wf.ID,
		Name:          "compact",
		JobType:       constance.JobTypeShell,
		RouteStrategy: constance.RouteStrategyTypeFirst,
	}))

	//定时工作流的首个实例等cron触发点，上线只翻状态
	run, err := ws.OnlineWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Nil(t, run)

	got, err := ws.FetchWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowStatusOnline, got.Status)
}

func TestUpdateJobRevalidatesSharding(t *testing.T) {
	_, ws, _, _ := newSchedEnv(t)
	ctx := context.TODO()

	wf := &model.Workflow{Name: "etl"}
	require.NoError(t, ws.CreateWorkflow(ctx, wf))
	job := &model.Job{
		WorkflowID:    wf.ID,
		Name:          "extract",
		JobType:       constance.JobTypeShell,
		RouteStrategy: constance.RouteStrategyTypeFirst,
	}
	require.NoError(t, ws.AddJob(ctx, job))

	//改成分片策略但没给ShardingTotal，更新要被拦下
	job.RouteStrategy = constance.RouteStrategyTypeSharding
	assert.Error(t, ws.UpdateJob(ctx, job))

	job.ShardingTotal = 10
	assert.NoError(t, ws.UpdateJob(ctx, job))
}

func TestChainSuccessCascade(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	//物化之后只有根节点Ready
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobC).Status)

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, true, "done")

	assert.Equal(t, constance.JobRunStatusSuccess, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobC).Status)

	runB := env.runOf(t, env.jobB)
	env.startRun(t, runB.ID)
	env.report(t, runB.ID, true, "done")
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobC).Status)

	runC := env.runOf(t, env.jobC)
	env.startRun(t, runC.ID)
	env.report(t, runC.ID, true, "done")

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusCompleted, got.Status)
	assert.NotNil(t, got.EndTime)
}

func TestChainFailureCutsDownstream(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "boom")

	//没有重试额度，直接Failed，下游整条链被切掉
	assert.Equal(t, constance.JobRunStatusFailed, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobC).Status)

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusFailed, got.Status)
}

func TestAllowDownstreamOnFail(t *testing.T) {
	env := setupChain(t, func(a, b, c *model.Job) {
		a.AllowDownstreamOnFail = true
	})

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "boom")

	//失败但允许下游继续，下游把它视作SKIPPED
	assert.Equal(t, constance.JobRunStatusFailed, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobB).Status)

	runB := env.runOf(t, env.jobB)
	env.startRun(t, runB.ID)
	env.report(t, runB.ID, true, "done")

	runC := env.runOf(t, env.jobC)
	env.startRun(t, runC.ID)
	env.report(t, runC.ID, true, "done")

	got, err := env.op.FetchWorkflowRunFromID(context.TODO(), env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusCompleted, got.Status)
}

func TestRetryBudget(t *testing.T) {
	env := setupChain(t, func(a, b, c *model.Job) {
		a.MaxRetryTimes = 1
		a.RetryPolicy = constance.RetryPolicyTypeFixed
		a.RetryInterval = 1
	})

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "first failure")

	//还有额度，排下一次重试，不是终态
	got := env.runOf(t, env.jobA)
	assert.Equal(t, constance.JobRunStatusReady, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobB).Status)

	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "second failure")

	assert.Equal(t, constance.JobRunStatusFailed, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobB).Status)
}

func TestDuplicateSuccessReportIdempotent(t *testing.T) {
	env := setupChain(t, nil)

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, true, "done")
	//重复上报不报错也不重复级联
	env.report(t, runA.ID, true, "done again")

	assert.Equal(t, constance.JobRunStatusSuccess, env.runOf(t, env.jobA).Status)
	assert.Equal(t, "done", env.runOf(t, env.jobA).Result)
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobB).Status)
}

func TestKillJobRunCutsDownstream(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	require.NoError(t, env.jr.KillJobRun(ctx, runA.ID))

	//Killed参与下游闭包，还没跑的下游一并切掉，运行实例随之收敛
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobC).Status)

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusFailed, got.Status)

	//重跑把被杀的节点整体重置，从根节点重新推进
	require.NoError(t, env.jr.RerunWorkflowRun(ctx, env.run.ID, false))
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobB).Status)
}

func TestRerunWorkflowRunWithDownstream(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "boom")

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	require.Equal(t, constance.WorkflowRunStatusFailed, got.Status)

	require.NoError(t, env.jr.RerunWorkflowRun(ctx, env.run.ID, true))

	//失败节点和下游闭包整体重置，根节点立刻回Ready
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusWaiting, env.runOf(t, env.jobC).Status)

	got, err = env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusRunning, got.Status)
}

func TestRetryJobRunReopensRun(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	env.startRun(t, runA.ID)
	env.report(t, runA.ID, false, "boom")

	require.NoError(t, env.jr.RetryJobRun(ctx, runA.ID))
	assert.Equal(t, constance.JobRunStatusReady, env.runOf(t, env.jobA).Status)

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusRunning, got.Status)
}

func TestKillWorkflowRun(t *testing.T) {
	env := setupChain(t, nil)
	ctx := context.TODO()

	require.NoError(t, env.jr.KillWorkflowRun(ctx, env.run.ID))

	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobA).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobB).Status)
	assert.Equal(t, constance.JobRunStatusKilled, env.runOf(t, env.jobC).Status)

	got, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusCancelled, got.Status)
}
