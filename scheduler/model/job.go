package model

import (
	"encoding/json"
	"nebula/scheduler/constance"

	"gorm.io/gorm"
)

// Job 工作流里的一个任务节点。只有在工作流离线状态下才允许增删改
type Job struct {
	gorm.Model
	WorkflowID    uint                        `gorm:"column:workflow_id;not null;index" json:"workflowId"`
	Name          string                      `gorm:"column:name;type:varchar(64)" json:"name"`
	JobType       constance.JobType           `gorm:"column:job_type;type:varchar(32);not null" json:"jobType"`
	ParamsToDB    string                      `gorm:"column:params" json:"-"`
	Params        map[string]string           `gorm:"-" json:"params"` //任务参数，序列化落库
	TimeoutMs     int64                       `gorm:"column:timeout_ms" json:"timeoutMs"`
	MaxRetryTimes int                         `gorm:"column:max_retry_times" json:"maxRetryTimes"`
	RetryPolicy   constance.RetryPolicyType   `gorm:"column:retry_policy;type:tinyint(4)" json:"retryPolicy"`
	RetryInterval int64                       `gorm:"column:retry_interval_ms" json:"retryIntervalMs"` //基础重试间隔，毫秒
	MaxRetryDelay int64                       `gorm:"column:max_retry_delay_ms" json:"maxRetryDelayMs"`
	Priority      int                         `gorm:"column:priority" json:"priority"`
	RouteStrategy constance.RouteStrategyType `gorm:"column:route_strategy;type:tinyint(4);not null" json:"routeStrategy"`
	BlockStrategy constance.BlockStrategyType `gorm:"column:block_strategy;type:tinyint(4)" json:"blockStrategy"`
	WorkerGroup   string                      `gorm:"column:worker_group;type:varchar(64)" json:"workerGroup"`
	//SHARDING任务声明的key范围，[0, ShardingTotal)
	ShardingTotal int64 `gorm:"column:sharding_total" json:"shardingTotal"`
	//任务失败是否允许下游继续（下游把失败视作SKIPPED）
	AllowDownstreamOnFail bool `gorm:"column:allow_downstream_on_fail" json:"allowDownstreamOnFail"`
	//画布坐标
	PositionX int `gorm:"column:position_x" json:"positionX"`
	PositionY int `gorm:"column:position_y" json:"positionY"`
}

func (j *Job) TableName() string {
	return "t_job"
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	return j.prepareParams()
}

func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.prepareParams()
}

func (j *Job) AfterFind(tx *gorm.DB) error {
	return j.parseParams()
}

func (j *Job) prepareParams() error {
	if j.Params != nil && len(j.Params) != 0 {
		jsonData, err := json.Marshal(j.Params)
		if err != nil {
			return err
		}
		j.ParamsToDB = string(jsonData)
	}
	return nil
}

func (j *Job) parseParams() error {
	if j.ParamsToDB != "" {
		var paramMap map[string]string
		if err := json.Unmarshal([]byte(j.ParamsToDB), &paramMap); err != nil {
			return err
		}
		j.Params = paramMap
	}
	return nil
}
