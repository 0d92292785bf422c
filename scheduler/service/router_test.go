package service

import (
	"context"
	"testing"
	"time"

	"nebula/pkg/api"
	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func worker(id, group string, cpu, mem float64, running, maxConc int) *WorkerWrapper {
	return &WorkerWrapper{
		Worker: &model.WorkerInfo{
			InstanceID:     id,
			GroupName:      group,
			CpuUsage:       cpu,
			MemoryUsage:    mem,
			RunningTasks:   running,
			MaxConcurrency: maxConc,
		},
	}
}

func TestFirstRouter(t *testing.T) {
	candidates := []*WorkerWrapper{worker("a", "g", 0, 0, 0, 10), worker("b", "g", 0, 0, 0, 10)}
	got, err := FirstRouter{}.Route(candidates, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)
	assert.Equal(t, "a", got.Worker.InstanceID)
}

func TestRoundRobinRouter(t *testing.T) {
	candidates := []*WorkerWrapper{
		worker("a", "g", 0, 0, 0, 10),
		worker("b", "g", 0, 0, 0, 10),
		worker("c", "g", 0, 0, 0, 10),
	}
	r := &RoundRobinRouter{}

	seen := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		got, err := r.Route(candidates, &model.JobRun{}, &model.Job{})
		require.NoError(t, err)
		seen = append(seen, got.Worker.InstanceID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}

func TestConsistentHashStable(t *testing.T) {
	candidates := []*WorkerWrapper{
		worker("a", "g", 0, 0, 0, 10),
		worker("b", "g", 0, 0, 0, 10),
		worker("c", "g", 0, 0, 0, 10),
	}
	r := ConsistentHashRouter{}

	run := &model.JobRun{NamespaceID: 1, BucketID: 7}
	first, err := r.Route(candidates, run, &model.Job{})
	require.NoError(t, err)

	//候选集不变时同bucket路由结果不变
	for i := 0; i < 20; i++ {
		got, err := r.Route(candidates, run, &model.Job{})
		require.NoError(t, err)
		assert.Equal(t, first.Worker.InstanceID, got.Worker.InstanceID)
	}
}

func TestLeastBusyPicksIdlestGroup(t *testing.T) {
	//三个组的负载均值约20/45/10，应该选均值10的组里最闲的实例
	candidates := []*WorkerWrapper{
		worker("a1", "groupA", 0.20, 0.10, 0, 10),
		worker("a2", "groupA", 0.20, 0.15, 0, 10),
		worker("b1", "groupB", 0.45, 0.30, 0, 10),
		worker("b2", "groupB", 0.45, 0.40, 0, 10),
		worker("c1", "groupC", 0.10, 0.05, 0, 10),
		worker("c2", "groupC", 0.10, 0.08, 0, 10),
	}

	got, err := LeastBusyRouter{}.Route(candidates, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)
	assert.Equal(t, "groupC", got.Worker.GroupName)
	assert.Equal(t, "c1", got.Worker.InstanceID)
}

func TestLeastBusyScaleInvariant(t *testing.T) {
	//cpu按百分比上报（0~100）时归一后排序不变
	percent := []*WorkerWrapper{
		worker("a", "g", 80, 0, 0, 10),
		worker("b", "g", 20, 0, 0, 10),
	}
	fraction := []*WorkerWrapper{
		worker("a", "g", 0.8, 0, 0, 10),
		worker("b", "g", 0.2, 0, 0, 10),
	}

	gotP, err := LeastBusyRouter{}.Route(percent, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)
	gotF, err := LeastBusyRouter{}.Route(fraction, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)

	assert.Equal(t, "b", gotP.Worker.InstanceID)
	assert.Equal(t, gotF.Worker.InstanceID, gotP.Worker.InstanceID)
}

func TestLeastBusyTaskDimension(t *testing.T) {
	//cpu和内存都一样，任务占用高的不选
	candidates := []*WorkerWrapper{
		worker("a", "g", 0.1, 0.1, 9, 10),
		worker("b", "g", 0.1, 0.1, 1, 10),
	}

	got, err := LeastBusyRouter{}.Route(candidates, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)
	assert.Equal(t, "b", got.Worker.InstanceID)
}

type fakeOperator struct {
	alive bool
}

func (f *fakeOperator) CheckStatus(ctx context.Context, timeout time.Duration) (*api.WorkerStatus, error) {
	if !f.alive {
		return nil, assert.AnError
	}
	return &api.WorkerStatus{}, nil
}

func (f *fakeOperator) RunJob(ctx context.Context, request *api.RunJobRequest) (*api.RunJobResponse, error) {
	return &api.RunJobResponse{Accepted: true}, nil
}

func (f *fakeOperator) KillJob(ctx context.Context, request *api.KillJobRequest) (*api.KillJobResponse, error) {
	return &api.KillJobResponse{}, nil
}

func (f *fakeOperator) Alive(ctx context.Context) bool {
	return f.alive
}

func TestFailoverRouter(t *testing.T) {
	dead := worker("a", "g", 0, 0, 0, 10)
	dead.Operator = &fakeOperator{alive: false}
	live := worker("b", "g", 0, 0, 0, 10)
	live.Operator = &fakeOperator{alive: true}

	got, err := FailoverRouter{}.Route([]*WorkerWrapper{dead, live}, &model.JobRun{}, &model.Job{})
	require.NoError(t, err)
	assert.Equal(t, "b", got.Worker.InstanceID)

	//全挂时error里带每个实例的诊断
	_, err = FailoverRouter{}.Route([]*WorkerWrapper{dead}, &model.JobRun{}, &model.Job{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: probe failed")
}
