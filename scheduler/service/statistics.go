package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type StatisticsService struct {
	instanceID string
	enableOTel bool
	tracer     trace.Tracer

	meter                    metric.Meter
	defaultMetricsOption     metric.MeasurementOption
	dispatchSuccessCounter   metric.Int64Counter
	dispatchFailureCounter   metric.Int64Counter
	workflowRunStartCounter  metric.Int64Counter
	workflowRunFinishCounter metric.Int64Counter
	retryScheduledCounter    metric.Int64Counter
	broadcastEventCounter    metric.Int64Counter
	sweptWorkerCounter       metric.Int64Counter
	dispatchDelayHistogram   metric.Int64Histogram
}

func NewStatisticsService(instanceID string, enableOTel bool) *StatisticsService {
	ret := &StatisticsService{
		instanceID: instanceID,
		enableOTel: enableOTel,
	}
	if enableOTel {
		ret.tracer = otel.Tracer("StatisticTracer")
		ret.meter = otel.Meter("StatisticMeter")
		ret.defaultMetricsOption = metric.WithAttributes(
			attribute.Key("InstanceID").String(instanceID),
		)

		var err error
		ret.dispatchSuccessCounter, err = ret.meter.Int64Counter("dispatch_success_total",
			metric.WithDescription("Total number of successfully dispatched job runs"))
		if err != nil {
			panic(err)
		}

		ret.dispatchFailureCounter, err = ret.meter.Int64Counter("dispatch_failure_total",
			metric.WithDescription("Total number of dispatch failures"))
		if err != nil {
			panic(err)
		}

		ret.workflowRunStartCounter, err = ret.meter.Int64Counter("workflow_run_start_total",
			metric.WithDescription("Total number of started workflow runs"))
		if err != nil {
			panic(err)
		}

		ret.workflowRunFinishCounter, err = ret.meter.Int64Counter("workflow_run_finish_total",
			metric.WithDescription("Total number of finished workflow runs"))
		if err != nil {
			panic(err)
		}

		ret.retryScheduledCounter, err = ret.meter.Int64Counter("retry_scheduled_total",
			metric.WithDescription("Total number of scheduled retries"))
		if err != nil {
			panic(err)
		}

		ret.broadcastEventCounter, err = ret.meter.Int64Counter("broadcast_event_total",
			metric.WithDescription("Total number of processed broadcast events"))
		if err != nil {
			panic(err)
		}

		ret.sweptWorkerCounter, err = ret.meter.Int64Counter("swept_worker_total",
			metric.WithDescription("Total number of workers removed by dead sweep"))
		if err != nil {
			panic(err)
		}

		ret.dispatchDelayHistogram, err = ret.meter.Int64Histogram("scheduler.dispatch_delay",
			metric.WithDescription("The difference between the ready time and the actual dispatch time"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			panic(err)
		}
	}

	return ret
}

type DispatchFailReason string

const (
	DispatchFailReasonNoWorker       DispatchFailReason = "NoWorker"
	DispatchFailReasonWorkerRejected DispatchFailReason = "WorkerRejected"
	DispatchFailReasonConnectError   DispatchFailReason = "WorkerConnectFail"
	DispatchFailReasonUpdateDbError  DispatchFailReason = "UpdateDbFail"
	DispatchFailReasonNotLeaseHolder DispatchFailReason = "NotLeaseHolder"
)

func (s *StatisticsService) OnDispatchSuccess() {
	if s.enableOTel {
		s.dispatchSuccessCounter.Add(context.Background(), 1, s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnDispatchFail(reason DispatchFailReason) {
	if s.enableOTel {
		s.dispatchFailureCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", string(reason))), s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnWorkflowRunStart() {
	if s.enableOTel {
		s.workflowRunStartCounter.Add(context.Background(), 1, s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnWorkflowRunFinish(status string) {
	if s.enableOTel {
		s.workflowRunFinishCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)), s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnRetryScheduled() {
	if s.enableOTel {
		s.retryScheduledCounter.Add(context.Background(), 1, s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnBroadcastEvent(op string) {
	if s.enableOTel {
		s.broadcastEventCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("op", op)), s.defaultMetricsOption)
	}
}

func (s *StatisticsService) OnSweepDeadWorkers(count int) {
	if s.enableOTel && count > 0 {
		s.sweptWorkerCounter.Add(context.Background(), int64(count), s.defaultMetricsOption)
	}
}

func (s *StatisticsService) RecordDispatchDelay(delay time.Duration) {
	if !s.enableOTel {
		return
	}
	s.dispatchDelayHistogram.Record(context.Background(),
		int64(delay/time.Millisecond), s.defaultMetricsOption)
}

func (s *StatisticsService) GetScheduleInterval() time.Duration {
	return time.Second * 5
}

func (s *StatisticsService) GetDispatchMaxCount() int {
	return 3000
}

func (s *StatisticsService) GetWorkerHeartbeatInterval() time.Duration {
	return time.Second * 5
}

func (s *StatisticsService) GetCheckWorkerHeartBeatTimeout() time.Duration {
	return time.Second * 2
}

func (s *StatisticsService) GetSweepDeadWorkerInterval() time.Duration {
	return time.Second * 30
}

func (s *StatisticsService) GetCheckTimeoutJobRunInterval() time.Duration {
	return time.Second * 10
}

func (s *StatisticsService) GetCronRefreshInterval() time.Duration {
	return time.Second * 30
}

func (s *StatisticsService) GetSplitReassignInterval() time.Duration {
	return time.Second * 15
}

// GetMaxSplitRetry 单个分片最多被重新分配的次数
func (s *StatisticsService) GetMaxSplitRetry() int {
	return 3
}
