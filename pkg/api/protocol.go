package api

// RunJobRequest 调度器->Worker的派发请求
type RunJobRequest struct {
	JobRunID      uint   `json:"jobRunId"`
	WorkflowRunID uint   `json:"workflowRunId"`
	NamespaceID   uint   `json:"namespaceId"`
	BucketID      int    `json:"bucketId"`
	RetryCount    int    `json:"retryCount"`
	BlockStrategy string `json:"blockStrategy"`
	//派发方持有的fencing epoch。Worker发现epoch回退说明派发方丢了租约，拒绝执行
	Epoch int64 `json:"epoch"`
	Job   *Job  `json:"job"`
}

type RunJobResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type KillJobRequest struct {
	JobRunID uint `json:"jobRunId"`
}

type KillJobResponse struct {
	Killed  bool   `json:"killed"`
	Message string `json:"message"`
}

// WorkerStatus 心跳探测的返回，也是DRF打分的输入
type WorkerStatus struct {
	InstanceID     string  `json:"instanceId"`
	GroupName      string  `json:"groupName"`
	CpuUsage       float64 `json:"cpuUsage"`    //0-100
	MemoryUsage    float64 `json:"memoryUsage"` //0-100
	RunningTasks   int     `json:"runningTasks"`
	MaxConcurrency int     `json:"maxConcurrency"`
}

// ReportRequest Worker->调度器的终态上报
type ReportRequest struct {
	JobRunID      uint        `json:"jobRunId"`
	WorkflowRunID uint        `json:"workflowRunId"`
	Success       bool        `json:"success"`
	Result        string      `json:"result"`
	Split         *SplitParam `json:"split,omitempty"`
}

type ReportResponse struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message"`
}
