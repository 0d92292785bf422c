package app

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/pkg/util"
	"nebula/scheduler/registry"
	"nebula/worker/handler"
	"nebula/worker/service"

	"github.com/cloudwego/kitex/pkg/klog"
)

type Worker struct {
	//config
	instanceID string
	groupName  string
	tags       []string
	host       string
	port       int

	//discovery
	discoveryClient discovery.Client

	//service
	statisticsService *service.StatisticsService
	processorService  *service.ProcessorService
	duplicateService  *service.DuplicateService
	reportService     *service.ReportService
	executeService    *service.ExecuteService
}

func genWorker(b *WorkerBuilder) (*Worker, error) {
	statisticsService := service.NewStatisticsService(b.instanceID, b.groupName, b.processorCount)
	processorService := service.NewProcessorService()
	duplicateService := service.NewDuplicateService()
	reportService := service.NewReportService(b.discoveryClient)
	executeService := service.NewExecuteService(statisticsService, processorService,
		duplicateService, reportService, b.processorCount)

	for _, p := range b.processors {
		processorService.Register(p)
	}

	return &Worker{
		instanceID:        b.instanceID,
		groupName:         b.groupName,
		tags:              b.tags,
		host:              b.host,
		port:              b.port,
		discoveryClient:   b.discoveryClient,
		statisticsService: statisticsService,
		processorService:  processorService,
		duplicateService:  duplicateService,
		reportService:     reportService,
		executeService:    executeService,
	}, nil
}

func (w *Worker) register() error {
	instance := &discovery.ServiceInstance{
		ServiceName:              constance.WorkerServiceName,
		InstanceId:               w.instanceID,
		MiddlewareHealthCheckUrl: fmt.Sprintf("http://%s:%d/status", w.host, w.port),
		ServiceServeConf: discovery.ServiceServeConf{
			Protoc: discovery.ProtocTypeHttp,
			Host:   w.host,
			Port:   w.port,
		},
		Meta: map[string]string{
			constance.WorkerGroupFieldName: w.groupName,
			constance.WorkerTagFieldName:   util.EncodeTag(w.tags),
		},
	}

	klog.Infof("worker try register service: %+v", instance)
	return w.discoveryClient.Register(instance)
}

// Start 阻塞运行直到收到退出信号
func (w *Worker) Start() {
	w.executeService.Start()
	go w.reportService.Start()

	router := handler.InitHttpHandler(w.executeService, w.statisticsService)
	go func() {
		if err := router.Run(":" + strconv.Itoa(w.port)); err != nil {
			klog.Fatalf("failed to start worker http server: %v", err)
		}
	}()

	if err := w.register(); err != nil {
		panic(err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	klog.Infof("worker started, instanceID:%v, group:%v, jobTypes:%v",
		w.instanceID, w.groupName, w.processorService.GetRegisterTypes())
	s := <-signalCh
	klog.Infof("found signal:%v, start graceful stop", s)
	w.GracefulStop()
}

// GracefulStop 先从服务发现注销并把健康上报拉满，等一个发现周期不再进新任务，
// 然后等执行中的任务收尾，上报队列发完再退
func (w *Worker) GracefulStop() {
	if err := w.discoveryClient.DeRegister(w.instanceID); err != nil {
		klog.Errorf("fail to deRegister worker service:%v", err)
	}
	w.statisticsService.OnGracefulStop()

	//等调度器的下一轮探活看到自己已经stop
	time.Sleep(registry.BeatTimeout)

	for {
		running := w.statisticsService.GetRunningTasks()
		if running == 0 {
			break
		}
		klog.Infof("worker is waiting for %v running tasks", running)
		time.Sleep(time.Second)
	}

	w.executeService.Stop()
	w.reportService.Drain()
	w.reportService.Stop()
	klog.Info("worker graceful stop success")
}
