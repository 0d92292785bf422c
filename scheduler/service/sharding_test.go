package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"nebula/pkg/api"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkerOperator struct {
	mu       sync.Mutex
	accept   bool
	requests []*api.RunJobRequest
}

func (f *fakeWorkerOperator) CheckStatus(ctx context.Context, timeout time.Duration) (*api.WorkerStatus, error) {
	return &api.WorkerStatus{}, nil
}

func (f *fakeWorkerOperator) RunJob(ctx context.Context, request *api.RunJobRequest) (*api.RunJobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	return &api.RunJobResponse{Accepted: f.accept}, nil
}

func (f *fakeWorkerOperator) KillJob(ctx context.Context, request *api.KillJobRequest) (*api.KillJobResponse, error) {
	return &api.KillJobResponse{Killed: true}, nil
}

func (f *fakeWorkerOperator) Alive(ctx context.Context) bool {
	return true
}

func (f *fakeWorkerOperator) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type shardingEnv struct {
	*chainEnv
	sharding *ShardingService
	fakes    map[string]*fakeWorkerOperator
}

// setupSharding 单节点工作流，extract是ShardingTotal=10的分片任务，3个活Worker
func setupSharding(t *testing.T) *shardingEnv {
	op, ws, jr, manage := newSchedEnv(t)
	ctx := context.TODO()

	wf := &model.Workflow{Name: "sharded"}
	require.NoError(t, ws.CreateWorkflow(ctx, wf))

	job := &model.Job{
		WorkflowID:    wf.ID,
		Name:          "extract",
		JobType:       constance.JobTypeShell,
		RouteStrategy: constance.RouteStrategyTypeSharding,
		ShardingTotal: 10,
		MaxRetryTimes: 3,
	}
	require.NoError(t, ws.AddJob(ctx, job))

	run, err := ws.OnlineWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.NotNil(t, run)

	fakes := make(map[string]*fakeWorkerOperator)
	for _, id := range []string{"worker-a", "worker-b", "worker-c"} {
		fake := &fakeWorkerOperator{accept: true}
		fakes[id] = fake
		manage.workers[id] = &WorkerWrapper{
			Worker:   &model.WorkerInfo{InstanceID: id},
			Operator: fake,
		}
	}

	stats := NewStatisticsService("test-scheduler", false)
	env := &chainEnv{op: op, ws: ws, jr: jr, run: run, jobA: job}
	return &shardingEnv{
		chainEnv: env,
		sharding: NewShardingService(op, manage, jr, stats),
		fakes:    fakes,
	}
}

func TestDispatchShardedSplitsKeyspace(t *testing.T) {
	env := setupSharding(t)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	require.NoError(t, env.sharding.DispatchSharded(ctx, runA, env.jobA, 7))

	//10个key分3个Worker，4+3+3，区间连续覆盖[0,10)
	splits, err := env.op.FindSplitRangesByJobRunID(ctx, runA.ID)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	var covered int64
	for _, split := range splits {
		assert.Equal(t, constance.SplitStatusProcessing, split.Status)
		assert.NotEmpty(t, split.Assignee)
		covered += split.End - split.Start
	}
	assert.Equal(t, int64(10), covered)

	//每个Worker各拿到一个分片，带着派发方的epoch
	for id, fake := range env.fakes {
		require.Equal(t, 1, fake.requestCount(), "worker %s", id)
		req := fake.requests[0]
		assert.Equal(t, int64(7), req.Epoch)
		require.NotNil(t, req.Job.Split)
		assert.Equal(t, 3, req.Job.Split.Total)
	}

	assert.Equal(t, constance.JobRunStatusDispatched, env.runOf(t, env.jobA).Status)
	assert.Equal(t, "sharding", env.runOf(t, env.jobA).WorkerInstance)
}

func TestDispatchShardedRejectsInvalidTotal(t *testing.T) {
	env := setupSharding(t)
	ctx := context.TODO()

	//绕过服务层校验直接把ShardingTotal改坏，派发要报错而不是崩
	env.jobA.ShardingTotal = 0
	runA := env.runOf(t, env.jobA)
	assert.Error(t, env.sharding.DispatchSharded(ctx, runA, env.jobA, 1))
}

func TestShardedCompletion(t *testing.T) {
	env := setupSharding(t)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	require.NoError(t, env.sharding.DispatchSharded(ctx, runA, env.jobA, 1))

	splits, err := env.op.FindSplitRangesByJobRunID(ctx, runA.ID)
	require.NoError(t, err)

	for i, split := range splits {
		require.NoError(t, env.sharding.HandleSplitReport(ctx, &api.ReportRequest{
			JobRunID:      runA.ID,
			WorkflowRunID: env.run.ID,
			Success:       true,
			Result:        "ok",
			Split:         &api.SplitParam{RangeID: split.ID},
		}))

		got := env.runOf(t, env.jobA)
		if i < len(splits)-1 {
			assert.Equal(t, constance.JobRunStatusDispatched, got.Status)
		} else {
			//最后一个分片收口，整个实例Success
			assert.Equal(t, constance.JobRunStatusSuccess, got.Status)
		}
	}

	wfRun, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusCompleted, wfRun.Status)
}

func TestSplitFailureRetriesThenFailsRun(t *testing.T) {
	env := setupSharding(t)
	ctx := context.TODO()

	runA := env.runOf(t, env.jobA)
	require.NoError(t, env.sharding.DispatchSharded(ctx, runA, env.jobA, 1))

	splits, err := env.op.FindSplitRangesByJobRunID(ctx, runA.ID)
	require.NoError(t, err)
	target := splits[0]

	failOnce := func() {
		require.NoError(t, env.sharding.HandleSplitReport(ctx, &api.ReportRequest{
			JobRunID: runA.ID,
			Success:  false,
			Result:   "split boom",
			Split:    &api.SplitParam{RangeID: target.ID},
		}))
	}

	//前3次失败只回收重排
	for i := 1; i <= 3; i++ {
		failOnce()
		splits, err = env.op.FindSplitRangesByJobRunID(ctx, runA.ID)
		require.NoError(t, err)
		for _, split := range splits {
			if split.ID == target.ID {
				assert.Equal(t, constance.SplitStatusPending, split.Status)
				assert.Equal(t, i, split.RetryCount)
			}
		}
		assert.Equal(t, constance.JobRunStatusDispatched, env.runOf(t, env.jobA).Status)
	}

	//重分额度用完，整个分片任务失败
	failOnce()
	assert.Equal(t, constance.JobRunStatusFailed, env.runOf(t, env.jobA).Status)

	wfRun, err := env.op.FetchWorkflowRunFromID(ctx, env.run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowRunStatusFailed, wfRun.Status)
}
