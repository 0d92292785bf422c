package service

import (
	"testing"
	"time"

	"nebula/pkg/api"
	"nebula/pkg/discovery"
	"nebula/worker/constance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	jobType string
	fn      func(job *api.Job) *api.JobResult
}

func (f *fakeProcessor) GetJobType() string {
	return f.jobType
}

func (f *fakeProcessor) Process(job *api.Job) *api.JobResult {
	return f.fn(job)
}

type execEnv struct {
	statistics *StatisticsService
	duplicate  *DuplicateService
	report     *ReportService
	execute    *ExecuteService
}

func newExecEnv(t *testing.T, processorCount int, processors ...*fakeProcessor) *execEnv {
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	require.NoError(t, err)

	statistics := NewStatisticsService("worker-test", "default", processorCount)
	processorService := NewProcessorService()
	duplicate := NewDuplicateService()
	report := NewReportService(discoveryClient)
	execute := NewExecuteService(statistics, processorService, duplicate, report, processorCount)

	for _, p := range processors {
		processorService.Register(p)
	}
	return &execEnv{
		statistics: statistics,
		duplicate:  duplicate,
		report:     report,
		execute:    execute,
	}
}

func runRequest(jobRunID uint, epoch int64, timeoutMs int64) *api.RunJobRequest {
	return &api.RunJobRequest{
		JobRunID:      jobRunID,
		WorkflowRunID: 1,
		Epoch:         epoch,
		Job: &api.Job{
			JobType:   "fake",
			TimeoutMs: timeoutMs,
		},
	}
}

func waitReport(t *testing.T, env *execEnv) *api.ReportRequest {
	select {
	case req := <-env.report.reportCh:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no report received")
		return nil
	}
}

func assertNoReport(t *testing.T, env *execEnv, wait time.Duration) {
	select {
	case req := <-env.report.reportCh:
		t.Fatalf("unexpected report:%+v", req)
	case <-time.After(wait):
	}
}

func TestEpochFencing(t *testing.T) {
	env := newExecEnv(t, 4, &fakeProcessor{jobType: "fake", fn: func(job *api.Job) *api.JobResult {
		return &api.JobResult{Ok: true, Result: "done"}
	}})

	accepted, _ := env.execute.Submit(runRequest(1, 5, 0))
	assert.True(t, accepted)

	//epoch回退说明对端丢了租约，拒绝
	accepted, message := env.execute.Submit(runRequest(2, 4, 0))
	assert.False(t, accepted)
	assert.Equal(t, constance.StaleEpochErrMsg, message)

	//同一个epoch是同一个派发主，放行
	accepted, _ = env.execute.Submit(runRequest(3, 5, 0))
	assert.True(t, accepted)

	accepted, _ = env.execute.Submit(runRequest(4, 6, 0))
	assert.True(t, accepted)
}

func TestSubmitRejectsWhenOverloaded(t *testing.T) {
	env := newExecEnv(t, 1, &fakeProcessor{jobType: "fake", fn: func(job *api.Job) *api.JobResult {
		return &api.JobResult{Ok: true}
	}})

	//不Start，队列容量processorCount*2=2
	accepted, _ := env.execute.Submit(runRequest(1, 1, 0))
	assert.True(t, accepted)
	accepted, _ = env.execute.Submit(runRequest(2, 1, 0))
	assert.True(t, accepted)

	accepted, message := env.execute.Submit(runRequest(3, 1, 0))
	assert.False(t, accepted)
	assert.Equal(t, constance.OverloadedErrMsg, message)
}

func TestSubmitRejectsWhenGracefulStopping(t *testing.T) {
	env := newExecEnv(t, 4)
	env.statistics.OnGracefulStop()

	accepted, message := env.execute.Submit(runRequest(1, 1, 0))
	assert.False(t, accepted)
	assert.Equal(t, constance.GracefulStoppingErrMsg, message)

	//优雅退出中对外报满载，让调度器不再选自己
	status := env.statistics.GetStatus()
	assert.Equal(t, float64(100), status.CpuUsage)
	assert.Equal(t, float64(100), status.MemoryUsage)
	assert.Equal(t, status.MaxConcurrency, status.RunningTasks)
}

func TestDuplicateSuccessReplaysCachedResult(t *testing.T) {
	env := newExecEnv(t, 4)

	req := runRequest(42, 1, 0)
	env.duplicate.OnExecuteSuccess(req, &api.JobResult{Ok: true, Result: "cached"})

	//不执行processor，直接回放缓存的成功结果
	accepted, _ := env.execute.Submit(req)
	assert.True(t, accepted)

	report := waitReport(t, env)
	assert.Equal(t, uint(42), report.JobRunID)
	assert.True(t, report.Success)
	assert.Equal(t, "cached", report.Result)
}

func TestExecuteReportsSuccess(t *testing.T) {
	env := newExecEnv(t, 2, &fakeProcessor{jobType: "fake", fn: func(job *api.Job) *api.JobResult {
		return &api.JobResult{Ok: true, Result: "done"}
	}})
	env.execute.Start()
	defer env.execute.Stop()

	accepted, _ := env.execute.Submit(runRequest(1, 1, 0))
	require.True(t, accepted)

	report := waitReport(t, env)
	assert.True(t, report.Success)
	assert.Equal(t, "done", report.Result)
}

func TestExecuteTimeout(t *testing.T) {
	env := newExecEnv(t, 2, &fakeProcessor{jobType: "fake", fn: func(job *api.Job) *api.JobResult {
		time.Sleep(500 * time.Millisecond)
		return &api.JobResult{Ok: true}
	}})
	env.execute.Start()
	defer env.execute.Stop()

	accepted, _ := env.execute.Submit(runRequest(1, 1, 50))
	require.True(t, accepted)

	report := waitReport(t, env)
	assert.False(t, report.Success)
	assert.Equal(t, constance.ExecuteTimeoutErrMsg, report.Result)
}

func TestKillSuppressesReport(t *testing.T) {
	env := newExecEnv(t, 2, &fakeProcessor{jobType: "fake", fn: func(job *api.Job) *api.JobResult {
		time.Sleep(time.Second)
		return &api.JobResult{Ok: true}
	}})
	env.execute.Start()
	defer env.execute.Stop()

	accepted, _ := env.execute.Submit(runRequest(1, 1, 0))
	require.True(t, accepted)

	//等任务真正跑起来再kill
	require.Eventually(t, func() bool {
		return env.statistics.GetRunningTasks() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, env.execute.Kill(1))
	//调度侧主动kill的实例不再上报终态
	assertNoReport(t, env, 300*time.Millisecond)
}

func TestProcessorNotFound(t *testing.T) {
	env := newExecEnv(t, 2)
	env.execute.Start()
	defer env.execute.Stop()

	accepted, _ := env.execute.Submit(runRequest(1, 1, 0))
	require.True(t, accepted)

	report := waitReport(t, env)
	assert.False(t, report.Success)
	assert.Equal(t, constance.CanNotFindProcessorErrMsg, report.Result)
}
