package service

import (
	"context"
	"errors"

	"nebula/scheduler/broadcast"
	"nebula/scheduler/model"
	"nebula/scheduler/operator/schedule_operator"

	"github.com/cloudwego/kitex/pkg/klog"
)

// EventConsumerService 消费集群广播事件。任何节点的控制面操作先广播再落地，
// 所有节点都会收到并执行，落地操作全部幂等，去重只为了省掉重复投递的开销
type EventConsumerService struct {
	shutdownCh chan struct{}

	broadcaster       broadcast.Broadcaster
	deduper           *broadcast.Deduper
	workflowService   *WorkflowService
	jobRunService     *JobRunService
	statisticsService *StatisticsService
}

func NewEventConsumerService(broadcaster broadcast.Broadcaster,
	workflowService *WorkflowService, jobRunService *JobRunService,
	statisticsService *StatisticsService) *EventConsumerService {
	return &EventConsumerService{
		shutdownCh:        make(chan struct{}),
		broadcaster:       broadcaster,
		deduper:           broadcast.NewDeduper(),
		workflowService:   workflowService,
		jobRunService:     jobRunService,
		statisticsService: statisticsService,
	}
}

func (s *EventConsumerService) Start() {
	eventCh, err := s.broadcaster.Subscribe(context.Background())
	if err != nil {
		klog.Errorf("event consumer subscribe error:%v", err)
		return
	}

	for {
		select {
		case <-s.shutdownCh:
			return
		case event, ok := <-eventCh:
			if !ok {
				klog.Warnf("broadcast channel closed, event consumer exits")
				return
			}
			s.consume(event)
		}
	}
}

func (s *EventConsumerService) Stop() {
	s.shutdownCh <- struct{}{}
}

func (s *EventConsumerService) consume(event *model.BroadcastEvent) {
	if !s.deduper.FirstSeen(event.EventID) {
		return
	}

	s.statisticsService.OnBroadcastEvent(event.Op)
	klog.Infof("consume broadcast event:%v, scope:%v, op:%v, origin:%v",
		event.EventID, event.Scope, event.Op, event.OriginNode)

	ctx := context.TODO()
	var err error
	switch event.Scope {
	case model.ScopeJobRun:
		err = s.consumeJobRunEvent(ctx, event)
	case model.ScopeWorkflow:
		err = s.consumeWorkflowEvent(ctx, event)
	default:
		klog.Warnf("unknown broadcast scope:%v, event:%v", event.Scope, event.EventID)
		return
	}

	if err != nil {
		klog.Errorf("consume event:%v op:%v error:%v", event.EventID, event.Op, err)
	}
}

func (s *EventConsumerService) consumeJobRunEvent(ctx context.Context, event *model.BroadcastEvent) error {
	payload, err := event.JobRunPayload()
	if err != nil {
		return err
	}

	switch model.JobRunOp(event.Op) {
	case model.JobRunOpTrigger:
		//触发只在源头节点落库，广播出来只为了各节点的缓存和路由感知
		return nil
	case model.JobRunOpRetry:
		return s.jobRunService.RetryJobRun(ctx, payload.JobRunID)
	case model.JobRunOpKill:
		return s.jobRunService.KillJobRun(ctx, payload.JobRunID)
	case model.JobRunOpPass:
		return s.jobRunService.PassJobRun(ctx, payload.JobRunID)
	case model.JobRunOpMarkFailed:
		return s.jobRunService.MarkFailedJobRun(ctx, payload.JobRunID)
	default:
		klog.Warnf("unknown job run op:%v, event:%v", event.Op, event.EventID)
		return nil
	}
}

func (s *EventConsumerService) consumeWorkflowEvent(ctx context.Context, event *model.BroadcastEvent) error {
	payload, err := event.WorkflowPayload()
	if err != nil {
		return err
	}

	switch model.WorkflowOp(event.Op) {
	case model.WorkflowOpOnline:
		//首个运行实例只在源头节点物化，这里只同步上线状态
		err := s.workflowService.casOnline(ctx, payload.WorkflowID)
		if errors.Is(err, schedule_operator.ErrNotFound) {
			//共享存储下源头节点已经把状态翻过去了
			return nil
		}
		return err
	case model.WorkflowOpOffline:
		return s.workflowService.OfflineWorkflow(ctx, payload.WorkflowID)
	case model.WorkflowOpManualTrigger:
		//触发只能发生一次，由事件源头节点落库，别的节点只消费状态
		return nil
	case model.WorkflowOpKillRun:
		return s.jobRunService.KillWorkflowRun(ctx, payload.WorkflowRunID)
	case model.WorkflowOpRerun:
		return s.jobRunService.RerunWorkflowRun(ctx, payload.WorkflowRunID, payload.WithDownstream)
	default:
		klog.Warnf("unknown workflow op:%v, event:%v", event.Op, event.EventID)
		return nil
	}
}
