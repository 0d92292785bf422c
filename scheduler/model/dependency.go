package model

import "gorm.io/gorm"

// Dependency 同一工作流内的一条有向依赖边：ParentJobID -> JobID
type Dependency struct {
	gorm.Model
	WorkflowID  uint `gorm:"column:workflow_id;not null;index" json:"workflowId"`
	JobID       uint `gorm:"column:job_id;not null;index" json:"jobId"`
	ParentJobID uint `gorm:"column:parent_job_id;not null" json:"parentJobId"`
}

func (d *Dependency) TableName() string {
	return "t_dependency"
}
