package constance

const (
	CanNotFindProcessorErrMsg = "can not find processor for this jobType"
	ExecuteTimeoutErrMsg      = "execute timeout"
	KilledErrMsg              = "killed by scheduler"
	StaleEpochErrMsg          = "stale dispatcher epoch"
	OverloadedErrMsg          = "worker at max concurrency"
	GracefulStoppingErrMsg    = "worker is stopping"
)
