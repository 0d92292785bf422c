package model

import (
	"fmt"
	"nebula/scheduler/constance"
	"time"

	"gorm.io/gorm"
)

// SplitRange SHARDING任务的一个分片范围。[Start,End)左闭右开
type SplitRange struct {
	gorm.Model
	JobRunID   uint                  `gorm:"column:job_run_id;not null;index" json:"jobRunId"`
	Start      int64                 `gorm:"column:range_start;not null" json:"start"`
	End        int64                 `gorm:"column:range_end;not null" json:"end"`
	Assignee   string                `gorm:"column:assignee" json:"assignee"` //Worker InstanceID
	Status     constance.SplitStatus `gorm:"column:status;type:tinyint(4);not null" json:"status"`
	RetryCount int                   `gorm:"column:retry_count" json:"retryCount"`
	AssignedAt time.Time             `gorm:"column:assigned_at" json:"assignedAt"`
}

func (s *SplitRange) TableName() string {
	return "t_split_range"
}

// RangeKey 集群内定位一个分片的key，格式和日志保持一致
func (s *SplitRange) RangeKey() string {
	return fmt.Sprintf("split-%d-%d-%d", s.JobRunID, s.Start, s.End)
}
