package constance

const (
	SchedulerServiceName = "nebula-scheduler"
	WorkerServiceName    = "nebula-worker"
)

const (
	//服务发现中间件中，worker实例元数据的字段名
	WorkerGroupFieldName = "X-Worker-Group"
	WorkerTagFieldName   = "X-Worker-Tag"
)

// ResultCode 控制面统一返回码。UI需要能区分“稍后重试”和“改配置”，所以不能只吐error字符串
type ResultCode string

const (
	ResultSuccess            ResultCode = "SUCCESS"
	ResultCycleDetected      ResultCode = "WORKFLOW_CYCLE_DETECTED"
	ResultWorkerNotAvailable ResultCode = "WORKER_NOT_AVAILABLE"
	ResultWorkerTimeout      ResultCode = "WORKER_TIMEOUT"
	ResultLeaseAcquireFailed ResultCode = "LEASE_ACQUIRE_FAILED"
	ResultLeaseExpired       ResultCode = "LEASE_EXPIRED"
	ResultJobNotFound        ResultCode = "JOB_NOT_FOUND"
	ResultWorkflowNotFound   ResultCode = "WORKFLOW_NOT_FOUND"
	ResultInternalError      ResultCode = "INTERNAL_ERROR"
)
