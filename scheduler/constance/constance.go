package constance

const (
	//派发循环的分布式锁，防止多个调度节点重复派发同一批JobRun
	DispatchJobRunLockName = "dispatch_job_run_lock"
)
