package model

import (
	"fmt"
	"nebula/scheduler/constance"
	"time"

	"gorm.io/gorm"
)

// JobRun 一个Job在一次WorkflowRun里的执行实例
type JobRun struct {
	gorm.Model
	JobID         uint                   `gorm:"column:job_id;not null;index" json:"jobId"`
	WorkflowRunID uint                   `gorm:"column:workflow_run_id;not null;index" json:"workflowRunId"`
	NamespaceID   uint                   `gorm:"column:namespace_id;not null" json:"namespaceId"`
	BucketID      int                    `gorm:"column:bucket_id;not null" json:"bucketId"` //路由用的分桶键
	Status        constance.JobRunStatus `gorm:"column:status;type:tinyint(4);not null;index" json:"status"`
	RetryCount    int                    `gorm:"column:retry_count" json:"retryCount"`
	//失败重试的下一次可派发时间，btree索引的排序键
	NextRetryAt    time.Time  `gorm:"column:next_retry_at;index" json:"nextRetryAt"`
	WorkerInstance string     `gorm:"column:worker_instance" json:"workerInstance"` //当前/上一次执行的Worker
	Result         string     `gorm:"column:result;type:varchar(256)" json:"result"`
	StartTime      *time.Time `gorm:"column:start_time" json:"startTime"`
	EndTime        *time.Time `gorm:"column:end_time" json:"endTime"`
}

func (j *JobRun) TableName() string {
	return "t_job_run"
}

func (j *JobRun) String() string {
	return fmt.Sprintf("JobRun(ID=%d, JobID=%d, WorkflowRunID=%d, Status=%s, RetryCount=%d, Worker=%s)",
		j.ID, j.JobID, j.WorkflowRunID, j.Status, j.RetryCount, j.WorkerInstance)
}
