package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BroadcastScope 广播事件的级别。任务级和工作流级使用不同的keyspace，数据隔离
type BroadcastScope string

const (
	ScopeJobRun   BroadcastScope = "JOB_RUN"
	ScopeWorkflow BroadcastScope = "WORKFLOW"
)

type JobRunOp string

const (
	JobRunOpTrigger    JobRunOp = "TRIGGER"
	JobRunOpRetry      JobRunOp = "RETRY"
	JobRunOpKill       JobRunOp = "KILL"
	JobRunOpPass       JobRunOp = "PASS"
	JobRunOpMarkFailed JobRunOp = "MARK_FAILED"
)

type WorkflowOp string

const (
	WorkflowOpOnline        WorkflowOp = "ONLINE"
	WorkflowOpOffline       WorkflowOp = "OFFLINE"
	WorkflowOpManualTrigger WorkflowOp = "MANUAL_TRIGGER"
	WorkflowOpKillRun       WorkflowOp = "KILL_RUN"
	WorkflowOpRerun         WorkflowOp = "RERUN"
)

// BroadcastEvent 集群广播事件。EventID是去重键，事件本身创建后不可变，
// 冲突只可能来自同一事件被重复投递，LWW合并是安全的
type BroadcastEvent struct {
	EventID    string         `json:"eventId"`
	Scope      BroadcastScope `json:"scope"`
	Op         string         `json:"op"`
	OriginNode string         `json:"originNode"`
	Timestamp  int64          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// JobRunOpPayload 任务级操作的负载。retry/trigger需要完整路由信息做shard感知路由
type JobRunOpPayload struct {
	JobRunID      uint `json:"jobRunId"`
	JobID         uint `json:"jobId,omitempty"`
	WorkflowRunID uint `json:"workflowRunId,omitempty"`
	NamespaceID   uint `json:"namespaceId,omitempty"`
	BucketID      int  `json:"bucketId,omitempty"`
}

// WorkflowOpPayload 工作流级操作的负载
type WorkflowOpPayload struct {
	WorkflowID    uint `json:"workflowId,omitempty"`
	WorkflowRunID uint `json:"workflowRunId,omitempty"`
	NamespaceID   uint `json:"namespaceId,omitempty"`
	//RERUN时是否带上下游闭包
	WithDownstream bool `json:"withDownstream,omitempty"`
}

func NewJobRunEvent(op JobRunOp, originNode string, payload *JobRunOpPayload) *BroadcastEvent {
	raw, _ := json.Marshal(payload)
	return &BroadcastEvent{
		EventID:    uuid.NewString(),
		Scope:      ScopeJobRun,
		Op:         string(op),
		OriginNode: originNode,
		Timestamp:  time.Now().UnixMilli(),
		Payload:    raw,
	}
}

func NewWorkflowEvent(op WorkflowOp, originNode string, payload *WorkflowOpPayload) *BroadcastEvent {
	raw, _ := json.Marshal(payload)
	return &BroadcastEvent{
		EventID:    uuid.NewString(),
		Scope:      ScopeWorkflow,
		Op:         string(op),
		OriginNode: originNode,
		Timestamp:  time.Now().UnixMilli(),
		Payload:    raw,
	}
}

func (e *BroadcastEvent) JobRunPayload() (*JobRunOpPayload, error) {
	ret := new(JobRunOpPayload)
	if err := json.Unmarshal(e.Payload, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (e *BroadcastEvent) WorkflowPayload() (*WorkflowOpPayload, error) {
	ret := new(WorkflowOpPayload)
	if err := json.Unmarshal(e.Payload, ret); err != nil {
		return nil, err
	}
	return ret, nil
}
