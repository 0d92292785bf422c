package constance

import "strconv"

type WorkflowStatus int8

const (
	WorkflowStatusMin     WorkflowStatus = iota
	WorkflowStatusDraft                  //编辑中，任务和依赖可以随意改
	WorkflowStatusOnline                 //已上线，产生运行实例，定义冻结
	WorkflowStatusOffline                //已下线，不再产生新运行实例，在途实例不受影响
	WorkflowStatusMax
)

func (t WorkflowStatus) String() string {
	switch t {
	case WorkflowStatusDraft:
		return "WorkflowStatusDraft"
	case WorkflowStatusOnline:
		return "WorkflowStatusOnline"
	case WorkflowStatusOffline:
		return "WorkflowStatusOffline"
	default:
		return "UnknownWorkflowStatus" + strconv.Itoa(int(t))
	}
}

func (t WorkflowStatus) Valid() bool {
	return t > WorkflowStatusMin && t < WorkflowStatusMax
}

type WorkflowRunStatus int8

const (
	WorkflowRunStatusMin WorkflowRunStatus = iota
	WorkflowRunStatusRunning
	WorkflowRunStatusCompleted
	WorkflowRunStatusFailed
	WorkflowRunStatusCancelled
	WorkflowRunStatusMax
)

func (t WorkflowRunStatus) String() string {
	switch t {
	case WorkflowRunStatusRunning:
		return "WorkflowRunStatusRunning"
	case WorkflowRunStatusCompleted:
		return "WorkflowRunStatusCompleted"
	case WorkflowRunStatusFailed:
		return "WorkflowRunStatusFailed"
	case WorkflowRunStatusCancelled:
		return "WorkflowRunStatusCancelled"
	default:
		return "UnknownWorkflowRunStatus" + strconv.Itoa(int(t))
	}
}

func (t WorkflowRunStatus) Valid() bool {
	return t > WorkflowRunStatusMin && t < WorkflowRunStatusMax
}

// Terminal 终态之后不允许再迁移
func (t WorkflowRunStatus) Terminal() bool {
	return t == WorkflowRunStatusCompleted || t == WorkflowRunStatusFailed || t == WorkflowRunStatusCancelled
}

type JobRunStatus int8

const (
	JobRunStatusMin        JobRunStatus = iota
	JobRunStatusWaiting                 //父任务还没跑完
	JobRunStatusReady                   //父任务全部SUCCESS/SKIPPED，等待派发
	JobRunStatusDispatched              //已交给Worker，还没收到开始执行的消息
	JobRunStatusRunning                 //Worker正在执行
	JobRunStatusSuccess
	JobRunStatusFailed
	JobRunStatusSkipped //用户pass掉了，下游视作成功
	JobRunStatusKilled
	JobRunStatusMax
)

func (t JobRunStatus) String() string {
	switch t {
	case JobRunStatusWaiting:
		return "JobRunStatusWaiting"
	case JobRunStatusReady:
		return "JobRunStatusReady"
	case JobRunStatusDispatched:
		return "JobRunStatusDispatched"
	case JobRunStatusRunning:
		return "JobRunStatusRunning"
	case JobRunStatusSuccess:
		return "JobRunStatusSuccess"
	case JobRunStatusFailed:
		return "JobRunStatusFailed"
	case JobRunStatusSkipped:
		return "JobRunStatusSkipped"
	case JobRunStatusKilled:
		return "JobRunStatusKilled"
	default:
		return "UnknownJobRunStatus" + strconv.Itoa(int(t))
	}
}

func (t JobRunStatus) Valid() bool {
	return t > JobRunStatusMin && t < JobRunStatusMax
}

func (t JobRunStatus) Terminal() bool {
	return t == JobRunStatusSuccess || t == JobRunStatusFailed ||
		t == JobRunStatusSkipped || t == JobRunStatusKilled
}

// Satisfied 对下游而言，该父状态是否算“完成”
func (t JobRunStatus) Satisfied() bool {
	return t == JobRunStatusSuccess || t == JobRunStatusSkipped
}

type RouteStrategyType int8

const (
	RouteStrategyTypeMin            RouteStrategyType = iota
	RouteStrategyTypeFirst                            //永远取候选列表第一个
	RouteStrategyTypeRoundRobin                       //进程内轮询
	RouteStrategyTypeRandom                           //随机
	RouteStrategyTypeConsistentHash                   //按bucketId哈希，同bucket尽量落到同一Worker
	RouteStrategyTypeLeastBusy                        //两级DRF负载均衡
	RouteStrategyTypeFailover                         //按序探测心跳，取第一个活的
	RouteStrategyTypeSharding                         //分片广播，由分片协调器处理，不产生单个目标
	RouteStrategyTypeMax
)

func (t RouteStrategyType) String() string {
	switch t {
	case RouteStrategyTypeFirst:
		return "RouteStrategyTypeFirst"
	case RouteStrategyTypeRoundRobin:
		return "RouteStrategyTypeRoundRobin"
	case RouteStrategyTypeRandom:
		return "RouteStrategyTypeRandom"
	case RouteStrategyTypeConsistentHash:
		return "RouteStrategyTypeConsistentHash"
	case RouteStrategyTypeLeastBusy:
		return "RouteStrategyTypeLeastBusy"
	case RouteStrategyTypeFailover:
		return "RouteStrategyTypeFailover"
	case RouteStrategyTypeSharding:
		return "RouteStrategyTypeSharding"
	default:
		return "UnknownRouteStrategyType" + strconv.Itoa(int(t))
	}
}

func (t RouteStrategyType) Valid() bool {
	return t > RouteStrategyTypeMin && t < RouteStrategyTypeMax
}

type BlockStrategyType int8

const (
	BlockStrategyTypeMin         BlockStrategyType = iota
	BlockStrategyTypeConcurrent                    //并发执行，互不影响
	BlockStrategyTypeDiscardLater                  //前一次还在跑，丢弃本次触发
	BlockStrategyTypeCoverEarly                    //干掉前一次，本次接着跑
	BlockStrategyTypeSerial                        //排队，等前一次结束
	BlockStrategyTypeMax
)

func (t BlockStrategyType) String() string {
	switch t {
	case BlockStrategyTypeConcurrent:
		return "BlockStrategyTypeConcurrent"
	case BlockStrategyTypeDiscardLater:
		return "BlockStrategyTypeDiscardLater"
	case BlockStrategyTypeCoverEarly:
		return "BlockStrategyTypeCoverEarly"
	case BlockStrategyTypeSerial:
		return "BlockStrategyTypeSerial"
	default:
		return "UnknownBlockStrategyType" + strconv.Itoa(int(t))
	}
}

func (t BlockStrategyType) Valid() bool {
	return t > BlockStrategyTypeMin && t < BlockStrategyTypeMax
}

type RetryPolicyType int8

const (
	RetryPolicyTypeMin               RetryPolicyType = iota
	RetryPolicyTypeFixed                             //固定间隔
	RetryPolicyTypeExponential                       //指数退避，有上限
	RetryPolicyTypeExponentialJitter                 //指数退避+均匀抖动
	RetryPolicyTypeMax
)

func (t RetryPolicyType) String() string {
	switch t {
	case RetryPolicyTypeFixed:
		return "RetryPolicyTypeFixed"
	case RetryPolicyTypeExponential:
		return "RetryPolicyTypeExponential"
	case RetryPolicyTypeExponentialJitter:
		return "RetryPolicyTypeExponentialJitter"
	default:
		return "UnknownRetryPolicyType" + strconv.Itoa(int(t))
	}
}

func (t RetryPolicyType) Valid() bool {
	return t > RetryPolicyTypeMin && t < RetryPolicyTypeMax
}

type SplitStatus int8

const (
	SplitStatusMin        SplitStatus = iota
	SplitStatusPending                //未分配，或失败后等待重新分配
	SplitStatusProcessing             //已分配给某个Worker
	SplitStatusCompleted
	SplitStatusFailed
	SplitStatusMax
)

func (t SplitStatus) String() string {
	switch t {
	case SplitStatusPending:
		return "SplitStatusPending"
	case SplitStatusProcessing:
		return "SplitStatusProcessing"
	case SplitStatusCompleted:
		return "SplitStatusCompleted"
	case SplitStatusFailed:
		return "SplitStatusFailed"
	default:
		return "UnknownSplitStatus" + strconv.Itoa(int(t))
	}
}

func (t SplitStatus) Valid() bool {
	return t > SplitStatusMin && t < SplitStatusMax
}

func (t SplitStatus) Terminal() bool {
	return t == SplitStatusCompleted || t == SplitStatusFailed
}

type JobType string

const (
	JobTypeShell   JobType = "Shell"
	JobTypePython  JobType = "Python"
	JobTypeSpark   JobType = "Spark"
	JobTypeFlink   JobType = "Flink"
	JobTypeHiveSQL JobType = "HiveSQL"
	JobTypeDataX   JobType = "DataX"
	JobTypeHttp    JobType = "Http"
)
