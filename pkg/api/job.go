package api

// Job 交给Worker侧processor执行的任务描述
type Job struct {
	JobType   string            `json:"jobType"`
	Params    map[string]string `json:"params"`
	TimeoutMs int64             `json:"timeoutMs"`
	//SHARDING任务的分片范围，普通任务为nil
	Split *SplitParam `json:"split,omitempty"`
}

// JobResult processor的执行结果
type JobResult struct {
	Ok     bool   `json:"ok"`
	Err    string `json:"err"`
	Result string `json:"result"`
}

// SplitParam 一个分片范围。[Start,End)左闭右开
type SplitParam struct {
	RangeID uint  `json:"rangeId"`
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
	Total   int   `json:"total"`
}
