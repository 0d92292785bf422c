package processor

import (
	"nebula/pkg/api"
)

// JobProcessor 实现这个接口的类型可以挂到Worker上对外提供一种任务类型。
// Process必须自己感知job.TimeoutMs，Worker超时后不会等它返回
type JobProcessor interface {
	Process(job *api.Job) *api.JobResult
	GetJobType() string
}
