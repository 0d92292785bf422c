package model

import (
	"nebula/scheduler/constance"
	"time"

	"gorm.io/gorm"
)

// Workflow 版本化的DAG定义
type Workflow struct {
	gorm.Model
	NamespaceID uint                     `gorm:"column:namespace_id;not null;index" json:"namespaceId"`
	Name        string                   `gorm:"column:name;type:varchar(64)" json:"name"`
	Status      constance.WorkflowStatus `gorm:"column:status;type:tinyint(4);not null" json:"status"`
	Version     int                      `gorm:"column:version;not null" json:"version"`
	//前端画布的序列化内容，调度侧不解析
	Canvas string `gorm:"column:canvas;type:text" json:"canvas"`
	//cron触发配置，为空表示只支持手动触发
	TriggerCron string `gorm:"column:trigger_cron;type:varchar(64)" json:"triggerCron"`
}

func (w *Workflow) TableName() string {
	return "t_workflow"
}

// WorkflowRun 一次工作流执行实例
type WorkflowRun struct {
	gorm.Model
	WorkflowID uint                        `gorm:"column:workflow_id;not null;index" json:"workflowId"`
	Version    int                         `gorm:"column:version;not null" json:"version"`
	Status     constance.WorkflowRunStatus `gorm:"column:status;type:tinyint(4);not null;index" json:"status"`
	StartTime  time.Time                   `gorm:"column:start_time" json:"startTime"`
	EndTime    *time.Time                  `gorm:"column:end_time" json:"endTime"`
}

func (r *WorkflowRun) TableName() string {
	return "t_workflow_run"
}
