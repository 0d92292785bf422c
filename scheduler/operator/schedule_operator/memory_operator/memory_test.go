package memory_operator

import (
	"context"
	"testing"
	"time"

	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowCas(t *testing.T) {
	op := NewMemoryScheduleOperator()
	ctx := context.TODO()

	wf := &model.Workflow{Status: constance.WorkflowStatusDraft, Version: 1}
	require.NoError(t, op.InsertWorkflow(ctx, wf))
	require.NotZero(t, wf.ID)

	require.NoError(t, op.CasWorkflowStatus(ctx, wf.ID, constance.WorkflowStatusDraft, constance.WorkflowStatusOnline))
	//再上线一次，CAS失败
	assert.ErrorIs(t, op.CasWorkflowStatus(ctx, wf.ID, constance.WorkflowStatusDraft, constance.WorkflowStatusOnline),
		schedule_operator.ErrNotFound)

	got, err := op.FetchWorkflowFromID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.WorkflowStatusOnline, got.Status)
}

func TestJobRunLifecycle(t *testing.T) {
	op := NewMemoryScheduleOperator()
	ctx := context.TODO()

	runs := []*model.JobRun{
		{JobID: 1, WorkflowRunID: 1, Status: constance.JobRunStatusReady},
		{JobID: 2, WorkflowRunID: 1, Status: constance.JobRunStatusWaiting},
	}
	require.NoError(t, op.InsertJobRuns(ctx, runs))
	require.NotZero(t, runs[0].ID)
	require.NotZero(t, runs[1].ID)

	//只有Ready的会被捞出来
	due, err := op.FetchDueJobRuns(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, runs[0].ID, due[0].ID)

	require.NoError(t, op.UpdateJobRunDispatched(ctx, runs[0].ID, "worker-1"))
	//派发后不再是Ready，重复派发失败
	assert.ErrorIs(t, op.UpdateJobRunDispatched(ctx, runs[0].ID, "worker-2"), schedule_operator.ErrNotFound)

	require.NoError(t, op.CasJobRunStatus(ctx, runs[0].ID, constance.JobRunStatusDispatched, constance.JobRunStatusRunning))
	require.NoError(t, op.UpdateJobRunSuccess(ctx, runs[0].ID, "done"))

	//终态之后一切更新都失败
	assert.ErrorIs(t, op.UpdateJobRunFail(ctx, runs[0].ID, "late fail"), schedule_operator.ErrNotFound)
	assert.ErrorIs(t, op.UpdateJobRunSuccess(ctx, runs[0].ID, "again"), schedule_operator.ErrNotFound)

	got, err := op.FetchJobRunFromID(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, constance.JobRunStatusSuccess, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.NotNil(t, got.EndTime)
}

func TestJobRunRetryReschedule(t *testing.T) {
	op := NewMemoryScheduleOperator()
	ctx := context.TODO()

	run := &model.JobRun{JobID: 1, WorkflowRunID: 1, Status: constance.JobRunStatusReady}
	require.NoError(t, op.InsertJobRuns(ctx, []*model.JobRun{run}))
	require.NoError(t, op.UpdateJobRunDispatched(ctx, run.ID, "worker-1"))

	next := time.Now().Add(30 * time.Second)
	require.NoError(t, op.UpdateJobRunRetry(ctx, run.ID, "timeout", next))

	got, err := op.FetchJobRunFromID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.JobRunStatusReady, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.WorkerInstance)

	//还没到重试时间，捞不到
	due, err := op.FetchDueJobRuns(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = op.FetchDueJobRuns(ctx, 10, next.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestResetJobRuns(t *testing.T) {
	op := NewMemoryScheduleOperator()
	ctx := context.TODO()

	run := &model.JobRun{JobID: 1, WorkflowRunID: 1, Status: constance.JobRunStatusReady}
	require.NoError(t, op.InsertJobRuns(ctx, []*model.JobRun{run}))
	require.NoError(t, op.UpdateJobRunDispatched(ctx, run.ID, "worker-1"))
	require.NoError(t, op.UpdateJobRunFail(ctx, run.ID, "boom"))

	require.NoError(t, op.ResetJobRuns(ctx, []uint{run.ID}))

	got, err := op.FetchJobRunFromID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, constance.JobRunStatusWaiting, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.Result)
	assert.Nil(t, got.EndTime)
}

func TestSplitRangeLifecycle(t *testing.T) {
	op := NewMemoryScheduleOperator()
	ctx := context.TODO()

	ranges := []*model.SplitRange{
		{JobRunID: 1, Start: 0, End: 50, Status: constance.SplitStatusPending},
		{JobRunID: 1, Start: 50, End: 100, Status: constance.SplitStatusPending},
	}
	require.NoError(t, op.InsertSplitRanges(ctx, ranges))

	require.NoError(t, op.UpdateSplitRangeAssigned(ctx, ranges[0].ID, "worker-1", time.Now()))
	//重复分配失败
	assert.ErrorIs(t, op.UpdateSplitRangeAssigned(ctx, ranges[0].ID, "worker-2", time.Now()),
		schedule_operator.ErrNotFound)

	//失败回收，可再次分配
	require.NoError(t, op.RequeueSplitRange(ctx, ranges[0].ID))
	require.NoError(t, op.UpdateSplitRangeAssigned(ctx, ranges[0].ID, "worker-2", time.Now()))

	require.NoError(t, op.UpdateSplitRangeStatus(ctx, ranges[0].ID, constance.SplitStatusCompleted))
	assert.ErrorIs(t, op.RequeueSplitRange(ctx, ranges[0].ID), schedule_operator.ErrNotFound)

	got, err := op.FindSplitRangesByJobRunID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
