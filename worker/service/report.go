package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/pkg/util"

	"github.com/cloudwego/kitex/pkg/klog"
)

const (
	reportQueueSize     = 4096
	reportMaxRetry      = 3
	reportRetryDelayMin = time.Second
	reportRetryDelayMax = 3 * time.Second
)

// ReportService 终态上报。at-least-once：上报失败带退避重试，
// 调度侧靠终态保护幂等，重复上报无害
type ReportService struct {
	shutdownCh      chan struct{}
	reportCh        chan *api.ReportRequest
	discoveryClient discovery.Client
	client          *http.Client
}

func NewReportService(discoveryClient discovery.Client) *ReportService {
	return &ReportService{
		shutdownCh:      make(chan struct{}),
		reportCh:        make(chan *api.ReportRequest, reportQueueSize),
		discoveryClient: discoveryClient,
		client:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ReportService) Push(req *api.ReportRequest) {
	select {
	case s.reportCh <- req:
	default:
		//队列满说明调度器长时间不可达，丢了靠死亡清扫兜底
		klog.Errorf("report queue full, dropped report for job run:%v", req.JobRunID)
	}
}

func (s *ReportService) Start() {
	for {
		select {
		case <-s.shutdownCh:
			return
		case req := <-s.reportCh:
			s.send(req)
		}
	}
}

func (s *ReportService) Stop() {
	s.shutdownCh <- struct{}{}
}

// Drain 优雅退出前把队列里的上报发完
func (s *ReportService) Drain() {
	for {
		select {
		case req := <-s.reportCh:
			s.send(req)
		default:
			return
		}
	}
}

func (s *ReportService) send(req *api.ReportRequest) {
	var lastErr error
	for i := 0; i < reportMaxRetry; i++ {
		if i != 0 {
			//加抖动，避免一批失败的上报同时重试打到同一个实例
			time.Sleep(util.TimeRandBetween(reportRetryDelayMin, reportRetryDelayMax))
		}
		if lastErr = s.sendOnce(req); lastErr == nil {
			return
		}
		klog.Warnf("report job run:%v attempt %d failed:%v", req.JobRunID, i+1, lastErr)
	}
	klog.Errorf("report job run:%v dropped after %d attempts, last error:%v", req.JobRunID, reportMaxRetry, lastErr)
}

func (s *ReportService) sendOnce(req *api.ReportRequest) error {
	instances := s.discoveryClient.DiscoverServices(constance.SchedulerServiceName)
	if len(instances) == 0 {
		return fmt.Errorf("no scheduler instance discovered")
	}
	instance := instances[rand.Intn(len(instances))]

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/v1/worker/report", instance.Host, instance.Port)
	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scheduler returned status %d", resp.StatusCode)
	}

	var reportResp api.ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&reportResp); err != nil {
		return err
	}
	if !reportResp.Ok {
		//业务拒绝不重试，多半是实例已经到终态了
		klog.Warnf("report job run:%v rejected by scheduler:%v", req.JobRunID, reportResp.Message)
	}
	return nil
}
