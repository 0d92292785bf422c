package app

import (
	"context"
	"fmt"

	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/scheduler/broadcast"
	"nebula/scheduler/lease"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/service"

	"github.com/cloudwego/kitex/pkg/klog"
	"github.com/kitex-contrib/obs-opentelemetry/provider"
)

type Scheduler struct {
	//config
	instanceID string
	host       string
	port       int

	//openTelemetry
	enableOTel   bool
	oTelProvider provider.OtelProvider

	scheduleOperator schedule_operator.Operator
	discoveryClient  discovery.Client
	broadcaster      broadcast.Broadcaster
	dispatchLease    lease.Lease

	//service
	statisticsService    *service.StatisticsService
	workerManageService  *service.WorkerManageService
	workerRouteService   *service.WorkerRouteService
	alarmService         *service.AlarmService
	workflowService      *service.WorkflowService
	jobRunService        *service.JobRunService
	shardingService      *service.ShardingService
	scheduleService      *service.ScheduleService
	cronTriggerService   *service.CronTriggerService
	eventConsumerService *service.EventConsumerService
}

func genScheduler(b *SchedulerBuilder) (*Scheduler, error) {
	statisticsService := service.NewStatisticsService(b.instanceID, b.enableOTel)
	workerManageService := service.NewWorkerManageService(statisticsService, b.discoveryClient, b.workerRegistry)
	workerRouteService := service.NewWorkerRouteService(workerManageService)
	alarmService := service.NewAlarmService(b.alarmChannels)
	workflowService := service.NewWorkflowService(b.scheduleOperator, statisticsService)
	jobRunService := service.NewJobRunService(b.scheduleOperator, workerManageService, statisticsService, alarmService)
	shardingService := service.NewShardingService(b.scheduleOperator, workerManageService, jobRunService, statisticsService)
	scheduleService := service.NewScheduleService(b.scheduleOperator, workerRouteService, workerManageService,
		jobRunService, shardingService, statisticsService, b.dispatchLease)
	cronTriggerService := service.NewCronTriggerService(workflowService, statisticsService, b.dispatchLease)
	eventConsumerService := service.NewEventConsumerService(b.broadcaster, workflowService, jobRunService, statisticsService)

	return &Scheduler{
		instanceID:           b.instanceID,
		host:                 b.host,
		port:                 b.port,
		enableOTel:           b.enableOTel,
		oTelProvider:         b.oTelProvider,
		scheduleOperator:     b.scheduleOperator,
		discoveryClient:      b.discoveryClient,
		broadcaster:          b.broadcaster,
		dispatchLease:        b.dispatchLease,
		statisticsService:    statisticsService,
		workerManageService:  workerManageService,
		workerRouteService:   workerRouteService,
		alarmService:         alarmService,
		workflowService:      workflowService,
		jobRunService:        jobRunService,
		shardingService:      shardingService,
		scheduleService:      scheduleService,
		cronTriggerService:   cronTriggerService,
		eventConsumerService: eventConsumerService,
	}, nil
}

// register Worker的终态上报靠服务发现找调度器实例，不注册上报就无处可投
func (s *Scheduler) register() error {
	instance := &discovery.ServiceInstance{
		ServiceName:              constance.SchedulerServiceName,
		InstanceId:               s.instanceID,
		MiddlewareHealthCheckUrl: fmt.Sprintf("http://%s:%d/status", s.host, s.port),
		ServiceServeConf: discovery.ServiceServeConf{
			Protoc: discovery.ProtocTypeHttp,
			Host:   s.host,
			Port:   s.port,
		},
	}

	klog.Infof("scheduler try register service: %+v", instance)
	return s.discoveryClient.Register(instance)
}

func (s *Scheduler) Start() {
	go s.alarmService.Start()
	go s.workerManageService.HeartBeat()
	go s.scheduleService.Schedule()
	go s.shardingService.ReassignLoop()
	go s.cronTriggerService.Start()
	go s.eventConsumerService.Start()

	if err := s.register(); err != nil {
		panic(err)
	}
	klog.Infof("Scheduler started, instanceID:%v", s.instanceID)
}

func (s *Scheduler) Stop() {
	if err := s.discoveryClient.DeRegister(s.instanceID); err != nil {
		klog.Errorf("fail to deRegister scheduler service:%v", err)
	}

	s.eventConsumerService.Stop()
	s.cronTriggerService.Stop()
	s.shardingService.Stop()
	s.scheduleService.Stop()
	s.workerManageService.Stop()
	s.alarmService.Stop()

	if err := s.dispatchLease.Release(context.TODO()); err != nil {
		klog.Errorf("release dispatch lease error:%v", err)
	}
	if err := s.broadcaster.Close(); err != nil {
		klog.Errorf("close broadcaster error:%v", err)
	}
	if s.enableOTel {
		if err := s.oTelProvider.Shutdown(context.TODO()); err != nil {
			klog.Errorf("stop oTelProvider error:%v", err)
		}
	}
	klog.Info("Scheduler stopped")
}

func (s *Scheduler) GetInstanceID() string {
	return s.instanceID
}

func (s *Scheduler) GetScheduleOperator() schedule_operator.Operator {
	return s.scheduleOperator
}

func (s *Scheduler) GetBroadcaster() broadcast.Broadcaster {
	return s.broadcaster
}

func (s *Scheduler) GetStatisticsService() *service.StatisticsService {
	return s.statisticsService
}

func (s *Scheduler) GetWorkerManageService() *service.WorkerManageService {
	return s.workerManageService
}

func (s *Scheduler) GetWorkerRouteService() *service.WorkerRouteService {
	return s.workerRouteService
}

func (s *Scheduler) GetWorkflowService() *service.WorkflowService {
	return s.workflowService
}

func (s *Scheduler) GetJobRunService() *service.JobRunService {
	return s.jobRunService
}

func (s *Scheduler) GetShardingService() *service.ShardingService {
	return s.shardingService
}
