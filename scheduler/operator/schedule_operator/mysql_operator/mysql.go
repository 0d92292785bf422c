package mysql_operator

import (
	"context"
	"errors"
	"fmt"
	"nebula/scheduler/constance"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"
	"time"

	"gorm.io/gorm"
)

var _ schedule_operator.Operator = (*MysqlOperator)(nil)

// Lock 行锁表，SELECT FOR UPDATE实现的分布式锁
type Lock struct {
	LockName string `gorm:"column:lock_name;primarykey;type:varchar(64)"`
}

func (l *Lock) TableName() string {
	return "t_lock"
}

type MysqlOperator struct {
	db *gorm.DB
}

var (
	increaseRetryCountExpr = gorm.Expr("retry_count + 1")
)

func NewMysqlScheduleOperator(db *gorm.DB) (*MysqlOperator, error) {
	ret := &MysqlOperator{db: db}

	tables := []interface{}{
		&model.Workflow{}, &model.Job{}, &model.Dependency{},
		&model.WorkflowRun{}, &model.JobRun{}, &model.SplitRange{}, &Lock{},
	}
	for _, table := range tables {
		if err := db.AutoMigrate(table); err != nil {
			return nil, err
		}
	}

	//初始化锁结构，已存在时忽略
	db.Where(Lock{LockName: constance.DispatchJobRunLockName}).
		FirstOrCreate(&Lock{LockName: constance.DispatchJobRunLockName})
	return ret, nil
}

const transactionKey string = "transaction"

func (m *MysqlOperator) dbFromCtx(ctx context.Context) *gorm.DB {
	db, ok := ctx.Value(transactionKey).(*gorm.DB)
	if !ok {
		return m.db
	}
	return db
}

//-------------------------------workflow

func (m *MysqlOperator) InsertWorkflow(ctx context.Context, workflow *model.Workflow) error {
	if err := m.dbFromCtx(ctx).Create(workflow).Error; err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

func (m *MysqlOperator) UpdateWorkflow(ctx context.Context, workflow *model.Workflow) error {
	return m.dbFromCtx(ctx).Save(workflow).Error
}

func (m *MysqlOperator) FetchWorkflowFromID(ctx context.Context, workflowID uint) (*model.Workflow, error) {
	workflow := new(model.Workflow)
	err := m.dbFromCtx(ctx).Where("id = ?", workflowID).Find(workflow).Error

	if workflow.ID == 0 || errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schedule_operator.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return workflow, nil
}

func (m *MysqlOperator) FindWorkflowsByStatus(ctx context.Context, status constance.WorkflowStatus) ([]*model.Workflow, error) {
	var ret []*model.Workflow
	if err := m.dbFromCtx(ctx).Where("status = ?", status).Find(&ret).Error; err != nil {
		return nil, err
	}
	return ret, nil
}

func (m *MysqlOperator) CasWorkflowStatus(ctx context.Context, workflowID uint, from, to constance.WorkflowStatus) error {
	result := m.dbFromCtx(ctx).Model(&model.Workflow{}).
		Where("id = ?", workflowID).
		Where("status = ?", from).
		Update("status", to)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

//-------------------------------job

func (m *MysqlOperator) InsertJob(ctx context.Context, job *model.Job) error {
	if err := m.dbFromCtx(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (m *MysqlOperator) InsertJobs(ctx context.Context, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := m.dbFromCtx(ctx).Create(jobs).Error; err != nil {
		return fmt.Errorf("failed to insert jobs: %w", err)
	}
	return nil
}

func (m *MysqlOperator) UpdateJob(ctx context.Context, job *model.Job) error {
	return m.dbFromCtx(ctx).Save(job).Error
}

func (m *MysqlOperator) DeleteJobFromID(ctx context.Context, jobID uint) error {
	if result := m.dbFromCtx(ctx).Unscoped().Where("id = ?", jobID).Delete(&model.Job{}); result.Error != nil {
		return result.Error
	} else if result.RowsAffected == 0 {
		return fmt.Errorf("no jobID: %v", jobID)
	}
	return nil
}

func (m *MysqlOperator) FetchJobFromID(ctx context.Context, jobID uint) (*model.Job, error) {
	job := new(model.Job)
	err := m.dbFromCtx(ctx).Where("id = ?", jobID).Find(job).Error

	if job.ID == 0 || errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schedule_operator.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (m *MysqlOperator) FindJobsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Job, error) {
	var jobs []*model.Job
	err := m.dbFromCtx(ctx).Where("workflow_id = ?", workflowID).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	return jobs, nil
}

//-------------------------------dependency

func (m *MysqlOperator) InsertDependency(ctx context.Context, dep *model.Dependency) error {
	if err := m.dbFromCtx(ctx).Create(dep).Error; err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

func (m *MysqlOperator) DeleteDependencyFromID(ctx context.Context, depID uint) error {
	if result := m.dbFromCtx(ctx).Unscoped().Where("id = ?", depID).Delete(&model.Dependency{}); result.Error != nil {
		return result.Error
	} else if result.RowsAffected == 0 {
		return fmt.Errorf("no dependencyID: %v", depID)
	}
	return nil
}

func (m *MysqlOperator) FindDependenciesByWorkflowID(ctx context.Context, workflowID uint) ([]*model.Dependency, error) {
	var deps []*model.Dependency
	err := m.dbFromCtx(ctx).Where("workflow_id = ?", workflowID).Find(&deps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dependencies: %w", err)
	}
	return deps, nil
}

//-------------------------------workflowRun

func (m *MysqlOperator) InsertWorkflowRun(ctx context.Context, run *model.WorkflowRun) error {
	if err := m.dbFromCtx(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to insert workflow run: %w", err)
	}
	return nil
}

func (m *MysqlOperator) FetchWorkflowRunFromID(ctx context.Context, runID uint) (*model.WorkflowRun, error) {
	run := new(model.WorkflowRun)
	err := m.dbFromCtx(ctx).Where("id = ?", runID).Find(run).Error

	if run.ID == 0 || errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schedule_operator.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (m *MysqlOperator) UpdateWorkflowRunStatus(ctx context.Context, runID uint, to constance.WorkflowRunStatus, endTime *time.Time) error {
	result := m.dbFromCtx(ctx).Model(&model.WorkflowRun{}).
		Where("id = ?", runID).
		Where("status NOT IN ?", []constance.WorkflowRunStatus{
			constance.WorkflowRunStatusCompleted,
			constance.WorkflowRunStatusFailed,
			constance.WorkflowRunStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":   to,
			"end_time": endTime,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) ReopenWorkflowRun(ctx context.Context, runID uint) error {
	result := m.dbFromCtx(ctx).Model(&model.WorkflowRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":   constance.WorkflowRunStatusRunning,
			"end_time": nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) FindWorkflowRunsByWorkflowID(ctx context.Context, workflowID uint) ([]*model.WorkflowRun, error) {
	var runs []*model.WorkflowRun
	err := m.dbFromCtx(ctx).Where("workflow_id = ?", workflowID).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow runs: %w", err)
	}
	return runs, nil
}

//-------------------------------jobRun

var jobRunTerminalStatuses = []constance.JobRunStatus{
	constance.JobRunStatusSuccess,
	constance.JobRunStatusFailed,
	constance.JobRunStatusSkipped,
	constance.JobRunStatusKilled,
}

func (m *MysqlOperator) InsertJobRuns(ctx context.Context, runs []*model.JobRun) error {
	if len(runs) == 0 {
		return nil
	}
	if err := m.dbFromCtx(ctx).Create(runs).Error; err != nil {
		return fmt.Errorf("failed to insert job runs: %w", err)
	}
	return nil
}

func (m *MysqlOperator) FetchJobRunFromID(ctx context.Context, jobRunID uint) (*model.JobRun, error) {
	run := new(model.JobRun)
	err := m.dbFromCtx(ctx).Where("id = ?", jobRunID).Find(run).Error

	if run.ID == 0 || errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schedule_operator.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (m *MysqlOperator) FindJobRunsByWorkflowRunID(ctx context.Context, workflowRunID uint) ([]*model.JobRun, error) {
	var runs []*model.JobRun
	err := m.dbFromCtx(ctx).Where("workflow_run_id = ?", workflowRunID).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job runs: %w", err)
	}
	return runs, nil
}

func (m *MysqlOperator) FindActiveJobRunsByJobID(ctx context.Context, jobID uint) ([]*model.JobRun, error) {
	var runs []*model.JobRun
	err := m.dbFromCtx(ctx).Where("job_id = ?", jobID).
		Where("status IN ?", []constance.JobRunStatus{
			constance.JobRunStatusDispatched,
			constance.JobRunStatusRunning,
		}).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active job runs: %w", err)
	}
	return runs, nil
}

func (m *MysqlOperator) FindActiveJobRunsByWorkerInstance(ctx context.Context, workerInstance string) ([]*model.JobRun, error) {
	var runs []*model.JobRun
	err := m.dbFromCtx(ctx).Where("worker_instance = ?", workerInstance).
		Where("status IN ?", []constance.JobRunStatus{
			constance.JobRunStatusDispatched,
			constance.JobRunStatusRunning,
		}).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job runs by worker: %w", err)
	}
	return runs, nil
}

func (m *MysqlOperator) CasJobRunStatus(ctx context.Context, jobRunID uint, from, to constance.JobRunStatus) error {
	result := m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobRunID).
		Where("status = ?", from).
		Update("status", to)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) UpdateJobRunDispatched(ctx context.Context, jobRunID uint, workerInstance string) error {
	result := m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobRunID).
		Where("status = ?", constance.JobRunStatusReady).
		Updates(map[string]interface{}{
			"status":          constance.JobRunStatusDispatched,
			"worker_instance": workerInstance,
			"start_time":      time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) UpdateJobRunSuccess(ctx context.Context, jobRunID uint, result string) error {
	ret := m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobRunID).
		Where("status NOT IN ?", jobRunTerminalStatuses).
		Updates(map[string]interface{}{
			"status":   constance.JobRunStatusSuccess,
			"result":   result,
			"end_time": time.Now(),
		})

	if ret.Error != nil {
		return ret.Error
	}
	if ret.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) UpdateJobRunRetry(ctx context.Context, jobRunID uint, errorMsg string, nextRetryAt time.Time) error {
	result := m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobRunID).
		Where("status NOT IN ?", jobRunTerminalStatuses).
		Updates(map[string]interface{}{
			"status":          constance.JobRunStatusReady,
			"retry_count":     increaseRetryCountExpr,
			"result":          errorMsg,
			"worker_instance": "",
			"next_retry_at":   nextRetryAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) UpdateJobRunFail(ctx context.Context, jobRunID uint, errorMsg string) error {
	result := m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobRunID).
		Where("status NOT IN ?", jobRunTerminalStatuses).
		Updates(map[string]interface{}{
			"status":   constance.JobRunStatusFailed,
			"result":   errorMsg,
			"end_time": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) FetchDueJobRuns(ctx context.Context, maxCount int, noLaterThan time.Time) ([]*model.JobRun, error) {
	var runs []*model.JobRun
	err := m.dbFromCtx(ctx).
		Where("status = ?", constance.JobRunStatusReady).
		Where("next_retry_at <= ?", noLaterThan).
		Order("next_retry_at ASC").
		Limit(maxCount).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due job runs: %w", err)
	}
	return runs, nil
}

func (m *MysqlOperator) ResetJobRuns(ctx context.Context, jobRunIDs []uint) error {
	if len(jobRunIDs) == 0 {
		return nil
	}
	return m.dbFromCtx(ctx).Model(&model.JobRun{}).
		Where("id IN ?", jobRunIDs).
		Updates(map[string]interface{}{
			"status":          constance.JobRunStatusWaiting,
			"retry_count":     0,
			"result":          "",
			"worker_instance": "",
			"start_time":      nil,
			"end_time":        nil,
			"next_retry_at":   time.Time{},
		}).Error
}

//-------------------------------splitRange

func (m *MysqlOperator) InsertSplitRanges(ctx context.Context, ranges []*model.SplitRange) error {
	if len(ranges) == 0 {
		return nil
	}
	if err := m.dbFromCtx(ctx).Create(ranges).Error; err != nil {
		return fmt.Errorf("failed to insert split ranges: %w", err)
	}
	return nil
}

func (m *MysqlOperator) FindSplitRangesByJobRunID(ctx context.Context, jobRunID uint) ([]*model.SplitRange, error) {
	var ranges []*model.SplitRange
	err := m.dbFromCtx(ctx).Where("job_run_id = ?", jobRunID).Find(&ranges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch split ranges: %w", err)
	}
	return ranges, nil
}

func (m *MysqlOperator) UpdateSplitRangeAssigned(ctx context.Context, splitID uint, assignee string, assignedAt time.Time) error {
	result := m.dbFromCtx(ctx).Model(&model.SplitRange{}).
		Where("id = ?", splitID).
		Where("status = ?", constance.SplitStatusPending).
		Updates(map[string]interface{}{
			"status":      constance.SplitStatusProcessing,
			"assignee":    assignee,
			"assigned_at": assignedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) UpdateSplitRangeStatus(ctx context.Context, splitID uint, to constance.SplitStatus) error {
	result := m.dbFromCtx(ctx).Model(&model.SplitRange{}).
		Where("id = ?", splitID).
		Where("status NOT IN ?", []constance.SplitStatus{
			constance.SplitStatusCompleted,
			constance.SplitStatusFailed,
		}).
		Update("status", to)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

func (m *MysqlOperator) RequeueSplitRange(ctx context.Context, splitID uint) error {
	result := m.dbFromCtx(ctx).Model(&model.SplitRange{}).
		Where("id = ?", splitID).
		Where("status NOT IN ?", []constance.SplitStatus{
			constance.SplitStatusCompleted,
			constance.SplitStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":      constance.SplitStatusPending,
			"assignee":    "",
			"retry_count": increaseRetryCountExpr,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return schedule_operator.ErrNotFound
	}
	return nil
}

//-------------------------------tx

func (m *MysqlOperator) OnTxStart(ctx context.Context) (context.Context, error) {
	//已经有事务了直接复用
	if _, ok := ctx.Value(transactionKey).(*gorm.DB); ok {
		return ctx, nil
	}

	tx := m.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	return context.WithValue(ctx, transactionKey, tx), nil
}

func (m *MysqlOperator) OnTxFail(ctx context.Context) error {
	db, ok := ctx.Value(transactionKey).(*gorm.DB)
	if !ok {
		return errors.New("no transaction in context")
	}
	return db.Rollback().Error
}

func (m *MysqlOperator) OnTxFinish(ctx context.Context) error {
	db, ok := ctx.Value(transactionKey).(*gorm.DB)
	if !ok {
		return errors.New("no transaction in context")
	}
	if err := db.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (m *MysqlOperator) Lock(ctx context.Context, lockName string) error {
	tx := m.dbFromCtx(ctx)

	var lock Lock
	return tx.Raw("SELECT * FROM t_lock WHERE lock_name = ? FOR UPDATE", lockName).Scan(&lock).Error
}
