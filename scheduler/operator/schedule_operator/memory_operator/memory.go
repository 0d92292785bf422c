package memory_operator

import (
	"context"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/operator/schedule_operator/memory_operator/dao"
	"sync"
	"time"

	"github.com/google/btree"
)

var _ schedule_operator.Operator = (*MemoryOperator)(nil)

// MemoryOperator 单机/测试用的内存实现。所有读操作返回副本，调用方改了不影响存储
type MemoryOperator struct {
	//workflow
	workflows         map[uint]*model.Workflow
	workflowIDCounter uint
	workflowLock      sync.RWMutex

	//job + dependency，同一把锁，上线校验时要一起读
	jobs         map[uint]*model.Job
	jobIDCounter uint
	deps         map[uint]*model.Dependency
	depIDCounter uint
	jobLock      sync.RWMutex

	//workflowRun
	workflowRuns         map[uint]*model.WorkflowRun
	workflowRunIDCounter uint
	workflowRunLock      sync.RWMutex

	//jobRun。使用NextRetryAt排序的b树，FetchDueJobRuns做范围扫
	jobRuns               map[uint]*dao.JobRun
	jobRunNextRetryAtTree *btree.BTree
	jobRunIDCounter       uint
	jobRunLock            sync.RWMutex

	//splitRange
	splits         map[uint]*model.SplitRange
	splitIDCounter uint
	splitLock      sync.RWMutex
}

func NewMemoryScheduleOperator() *MemoryOperator {
	return &MemoryOperator{
		workflows:             make(map[uint]*model.Workflow),
		jobs:                  make(map[uint]*model.Job),
		deps:                  make(map[uint]*model.Dependency),
		workflowRuns:          make(map[uint]*model.WorkflowRun),
		jobRuns:               make(map[uint]*dao.JobRun),
		jobRunNextRetryAtTree: btree.New(5),
		splits:                make(map[uint]*model.SplitRange),
	}
}

//-------------------------------workflow

func (m *MemoryOperator) InsertWorkflow(ctx context.Context, workflow *model.Workflow) error {
	m.workflowLock.Lock()
	defer m.workflowLock.Unlock()

	m.workflowIDCounter++
	workflow.ID = m.workflowIDCounter
	workflow.UpdatedAt = time.Now()
	stored := *workflow
	m.workflows[workflow.ID] = &stored
	return nil
}

func (m *MemoryOperator) UpdateWorkflow(ctx context.Context, workflow *model.Workflow) error {
	m.workflowLock.Lock()
	defer m.workflowLock.Unlock()

	if _, ok := m.workflows[workflow.ID]; !ok {
		return schedule_operator.ErrNotFound
	}

	workflow.UpdatedAt = time.Now()
	stored := *workflow
	m.workflows[workflow.ID] = &stored
	return nil
}

func (m *MemoryOperator) FetchWorkflowFromID(ctx context.Context, workflowID uint) (*model.Workflow, error) {
	m.workflowLock.RLock()
	defer m.workflowLock.RUnlock()

	workflow, ok := m.workflows[workflowID]
	if !ok {
		return nil, schedule_operator.ErrNotFound
	}

	ret := *workflow
	return &ret, nil
}

func (m *MemoryOperator) FindWorkflowsByStatus(ctx context.Context, status constance.WorkflowStatus) ([]*model.Workflow, error) {
	m.workflowLock.RLock()
	defer m.workflowLock.RUnlock()

	ret := make([]*model.Workflow, 0)
	for _, workflow := range m.workflows {
		if workflow.Status == status {
			stored := *workflow
			ret = append(ret, &stored)
		}
	}
	return ret, nil
}

func (m *MemoryOperator) CasWorkflowStatus(ctx context.Context, workflowID uint, from, to constance.WorkflowStatus) error {
	m.workflowLock.Lock()
	defer m.workflowLock.Unlock()

	workflow, ok := m.workflows[workflowID]
	if !ok || workflow.Status != from {
		return schedule_operator.ErrNotFound
	}

	workflow.Status = to
	workflow.UpdatedAt = time.Now()
	return nil
}

//-------------------------------job

func (m *MemoryOperator) InsertJob(ctx context.Context, job *model.Job) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	m.insertJobWithoutLock(job)
	return nil
}

func (m *MemoryOperator) InsertJobs(ctx context.Context, jobs []*model.Job) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	for _, job := range jobs {
		m.insertJobWithoutLock(job)
	}
	return nil
}

func (m *MemoryOperator) insertJobWithoutLock(job *model.Job) {
	m.jobIDCounter++
	job.ID = m.jobIDCounter
	job.UpdatedAt = time.Now()
	stored := *job
	m.jobs[job.ID] = &stored
}

func (m *MemoryOperator) UpdateJob(ctx context.Context, job *model.Job) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return schedule_operator.ErrNotFound
	}

	job.UpdatedAt = time.Now()
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *MemoryOperator) DeleteJobFromID(ctx context.Context, jobID uint) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return schedule_operator.ErrNotFound
	}

	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryOperator) FetchJobFromID(ctx context.Context, jobID uint) (*model.Job, error) {
	m.jobLock.RLock()
	defer m.jobLock.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, schedule_operator.ErrNotFound
	}

	ret := *job
	return &ret, nil
}

func (m *MemoryOperator) FindJobsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Job, error) {
	m.jobLock.RLock()
	defer m.jobLock.RUnlock()

	ret := make([]*model.Job, 0)
	for _, job := range m.jobs {
		if job.WorkflowID == workflowID {
			copied := *job
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

//-------------------------------dependency

func (m *MemoryOperator) InsertDependency(ctx context.Context, dep *model.Dependency) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	m.depIDCounter++
	dep.ID = m.depIDCounter
	dep.UpdatedAt = time.Now()
	stored := *dep
	m.deps[dep.ID] = &stored
	return nil
}

func (m *MemoryOperator) DeleteDependencyFromID(ctx context.Context, depID uint) error {
	m.jobLock.Lock()
	defer m.jobLock.Unlock()

	if _, ok := m.deps[depID]; !ok {
		return schedule_operator.ErrNotFound
	}

	delete(m.deps, depID)
	return nil
}

func (m *MemoryOperator) FindDependenciesByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Dependency, error) {
	m.jobLock.RLock()
	defer m.jobLock.RUnlock()

	ret := make([]*model.Dependency, 0)
	for _, dep := range m.deps {
		if dep.WorkflowID == workflowID {
			copied := *dep
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

//-------------------------------workflowRun

func (m *MemoryOperator) InsertWorkflowRun(ctx context.Context, run *model.WorkflowRun) error {
	m.workflowRunLock.Lock()
	defer m.workflowRunLock.Unlock()

	m.workflowRunIDCounter++
	run.ID = m.workflowRunIDCounter
	run.UpdatedAt = time.Now()
	stored := *run
	m.workflowRuns[run.ID] = &stored
	return nil
}

func (m *MemoryOperator) FetchWorkflowRunFromID(ctx context.Context, runID uint) (*model.WorkflowRun, error) {
	m.workflowRunLock.RLock()
	defer m.workflowRunLock.RUnlock()

	run, ok := m.workflowRuns[runID]
	if !ok {
		return nil, schedule_operator.ErrNotFound
	}

	ret := *run
	return &ret, nil
}

func (m *MemoryOperator) UpdateWorkflowRunStatus(ctx context.Context, runID uint, to constance.WorkflowRunStatus, endTime *time.Time) error {
	m.workflowRunLock.Lock()
	defer m.workflowRunLock.Unlock()

	run, ok := m.workflowRuns[runID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	//终态不可再迁移
	if run.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	run.Status = to
	run.EndTime = endTime
	run.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOperator) ReopenWorkflowRun(ctx context.Context, runID uint) error {
	m.workflowRunLock.Lock()
	defer m.workflowRunLock.Unlock()

	run, ok := m.workflowRuns[runID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	run.Status = constance.WorkflowRunStatusRunning
	run.EndTime = nil
	run.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOperator) FindWorkflowRunsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.WorkflowRun, error) {
	m.workflowRunLock.RLock()
	defer m.workflowRunLock.RUnlock()

	ret := make([]*model.WorkflowRun, 0)
	for _, run := range m.workflowRuns {
		if run.WorkflowID == workflowID {
			copied := *run
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

//-------------------------------jobRun

func (m *MemoryOperator) InsertJobRuns(ctx context.Context, runs []*model.JobRun) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	for _, run := range runs {
		m.insertJobRunWithoutLock(run)
	}
	return nil
}

func (m *MemoryOperator) insertJobRunWithoutLock(mRun *model.JobRun) {
	m.jobRunIDCounter++
	mRun.ID = m.jobRunIDCounter
	mRun.UpdatedAt = time.Now()

	dRun := dao.FromModelJobRun(mRun)
	m.jobRuns[mRun.ID] = dRun
	//树里的key必须唯一，撞了就把NextRetryAt往后挪1ns
	for m.jobRunNextRetryAtTree.Get(dRun) != nil {
		dRun.NextRetryAt = dRun.NextRetryAt.Add(1)
	}
	m.jobRunNextRetryAtTree.ReplaceOrInsert(dRun)
	mRun.NextRetryAt = dRun.NextRetryAt
}

func (m *MemoryOperator) FetchJobRunFromID(ctx context.Context, jobRunID uint) (*model.JobRun, error) {
	m.jobRunLock.RLock()
	defer m.jobRunLock.RUnlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok {
		return nil, schedule_operator.ErrNotFound
	}

	return run.ToModelJobRun(), nil
}

func (m *MemoryOperator) FindJobRunsByWorkflowRunID(ctx context.Context, workflowRunID uint) ([]*model.JobRun, error) {
	m.jobRunLock.RLock()
	defer m.jobRunLock.RUnlock()

	ret := make([]*model.JobRun, 0)
	for _, run := range m.jobRuns {
		if run.WorkflowRunID == workflowRunID {
			ret = append(ret, run.ToModelJobRun())
		}
	}
	return ret, nil
}

func (m *MemoryOperator) FindActiveJobRunsByJobID(ctx context.Context, jobID uint) ([]*model.JobRun, error) {
	m.jobRunLock.RLock()
	defer m.jobRunLock.RUnlock()

	ret := make([]*model.JobRun, 0)
	for _, run := range m.jobRuns {
		if run.JobID == jobID &&
			(run.Status == constance.JobRunStatusDispatched || run.Status == constance.JobRunStatusRunning) {
			ret = append(ret, run.ToModelJobRun())
		}
	}
	return ret, nil
}

func (m *MemoryOperator) FindActiveJobRunsByWorkerInstance(ctx context.Context, workerInstance string) ([]*model.JobRun, error) {
	m.jobRunLock.RLock()
	defer m.jobRunLock.RUnlock()

	ret := make([]*model.JobRun, 0)
	for _, run := range m.jobRuns {
		if run.WorkerInstance == workerInstance &&
			(run.Status == constance.JobRunStatusDispatched || run.Status == constance.JobRunStatusRunning) {
			ret = append(ret, run.ToModelJobRun())
		}
	}
	return ret, nil
}

func (m *MemoryOperator) CasJobRunStatus(ctx context.Context, jobRunID uint, from, to constance.JobRunStatus) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok || run.Status != from {
		return schedule_operator.ErrNotFound
	}

	run.Status = to
	run.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOperator) UpdateJobRunDispatched(ctx context.Context, jobRunID uint, workerInstance string) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok || run.Status != constance.JobRunStatusReady {
		return schedule_operator.ErrNotFound
	}

	run.Status = constance.JobRunStatusDispatched
	run.WorkerInstance = workerInstance
	now := time.Now()
	run.StartTime = &now
	run.UpdatedAt = now
	return nil
}

func (m *MemoryOperator) UpdateJobRunSuccess(ctx context.Context, jobRunID uint, result string) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	if run.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	run.Status = constance.JobRunStatusSuccess
	run.Result = result
	now := time.Now()
	run.EndTime = &now
	run.UpdatedAt = now
	return nil
}

func (m *MemoryOperator) UpdateJobRunRetry(ctx context.Context, jobRunID uint, errorMsg string, nextRetryAt time.Time) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	if run.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	if m.jobRunNextRetryAtTree.Delete(run) == nil {
		return schedule_operator.ErrNotFound
	}

	run.Status = constance.JobRunStatusReady
	run.RetryCount++
	run.Result = errorMsg
	run.WorkerInstance = ""
	run.NextRetryAt = nextRetryAt
	run.UpdatedAt = time.Now()

	for m.jobRunNextRetryAtTree.Get(run) != nil {
		run.NextRetryAt = run.NextRetryAt.Add(1)
	}
	m.jobRunNextRetryAtTree.ReplaceOrInsert(run)
	return nil
}

func (m *MemoryOperator) UpdateJobRunFail(ctx context.Context, jobRunID uint, errorMsg string) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	run, ok := m.jobRuns[jobRunID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	if run.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	run.Status = constance.JobRunStatusFailed
	run.Result = errorMsg
	now := time.Now()
	run.EndTime = &now
	run.UpdatedAt = now
	return nil
}

func (m *MemoryOperator) FetchDueJobRuns(ctx context.Context, maxCount int, noLaterThan time.Time) ([]*model.JobRun, error) {
	m.jobRunLock.RLock()
	defer m.jobRunLock.RUnlock()

	ret := make([]*model.JobRun, 0, maxCount/2)
	m.jobRunNextRetryAtTree.Ascend(func(item btree.Item) bool {
		run := item.(*dao.JobRun)
		if run.NextRetryAt.After(noLaterThan) {
			return false
		}
		if run.Status == constance.JobRunStatusReady {
			ret = append(ret, run.ToModelJobRun())
			return len(ret) < maxCount
		}
		return true
	})

	return ret, nil
}

func (m *MemoryOperator) ResetJobRuns(ctx context.Context, jobRunIDs []uint) error {
	m.jobRunLock.Lock()
	defer m.jobRunLock.Unlock()

	for _, id := range jobRunIDs {
		run, ok := m.jobRuns[id]
		if !ok {
			return schedule_operator.ErrNotFound
		}

		m.jobRunNextRetryAtTree.Delete(run)
		run.Status = constance.JobRunStatusWaiting
		run.RetryCount = 0
		run.Result = ""
		run.WorkerInstance = ""
		run.StartTime = nil
		run.EndTime = nil
		run.NextRetryAt = time.Time{}
		run.UpdatedAt = time.Now()

		for m.jobRunNextRetryAtTree.Get(run) != nil {
			run.NextRetryAt = run.NextRetryAt.Add(1)
		}
		m.jobRunNextRetryAtTree.ReplaceOrInsert(run)
	}
	return nil
}

//-------------------------------splitRange

func (m *MemoryOperator) InsertSplitRanges(ctx context.Context, ranges []*model.SplitRange) error {
	m.splitLock.Lock()
	defer m.splitLock.Unlock()

	for _, sp := range ranges {
		m.splitIDCounter++
		sp.ID = m.splitIDCounter
		sp.UpdatedAt = time.Now()
		stored := *sp
		m.splits[sp.ID] = &stored
	}
	return nil
}

func (m *MemoryOperator) FindSplitRangesByJobRunID(ctx context.Context, jobRunID uint) ([]*model.SplitRange, error) {
	m.splitLock.RLock()
	defer m.splitLock.RUnlock()

	ret := make([]*model.SplitRange, 0)
	for _, sp := range m.splits {
		if sp.JobRunID == jobRunID {
			copied := *sp
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

func (m *MemoryOperator) UpdateSplitRangeAssigned(ctx context.Context, splitID uint, assignee string, assignedAt time.Time) error {
	m.splitLock.Lock()
	defer m.splitLock.Unlock()

	sp, ok := m.splits[splitID]
	if !ok || sp.Status != constance.SplitStatusPending {
		return schedule_operator.ErrNotFound
	}

	sp.Status = constance.SplitStatusProcessing
	sp.Assignee = assignee
	sp.AssignedAt = assignedAt
	sp.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOperator) UpdateSplitRangeStatus(ctx context.Context, splitID uint, to constance.SplitStatus) error {
	m.splitLock.Lock()
	defer m.splitLock.Unlock()

	sp, ok := m.splits[splitID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	if sp.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	sp.Status = to
	sp.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryOperator) RequeueSplitRange(ctx context.Context, splitID uint) error {
	m.splitLock.Lock()
	defer m.splitLock.Unlock()

	sp, ok := m.splits[splitID]
	if !ok {
		return schedule_operator.ErrNotFound
	}

	if sp.Status.Terminal() {
		return schedule_operator.ErrNotFound
	}

	sp.Status = constance.SplitStatusPending
	sp.Assignee = ""
	sp.RetryCount++
	sp.UpdatedAt = time.Now()
	return nil
}

//-------------------------------tx

func (m *MemoryOperator) OnTxStart(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (m *MemoryOperator) OnTxFail(ctx context.Context) error {
	return nil
}

func (m *MemoryOperator) OnTxFinish(ctx context.Context) error {
	return nil
}

func (m *MemoryOperator) Lock(ctx context.Context, lockName string) error {
	return nil
}
