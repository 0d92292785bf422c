package service

import (
	"context"
	"sync"
	"time"

	"nebula/scheduler/constance"
	"nebula/scheduler/lease"

	"github.com/cloudwego/kitex/pkg/klog"
	"github.com/robfig/cron/v3"
)

// CronTriggerService 定时触发。周期对账Online工作流的cron配置，
// 表达式变了就重注册。触发点只有租约持有者真正落库，其余节点的entry空转
type CronTriggerService struct {
	shutdownCh chan struct{}

	workflowService   *WorkflowService
	statisticsService *StatisticsService
	dispatchLease     lease.Lease

	cron *cron.Cron

	mu sync.Mutex
	//workflowID -> 注册时的cron表达式和entry
	entries map[uint]*cronEntry
}

type cronEntry struct {
	spec    string
	entryID cron.EntryID
}

func NewCronTriggerService(workflowService *WorkflowService,
	statisticsService *StatisticsService, dispatchLease lease.Lease) *CronTriggerService {
	return &CronTriggerService{
		shutdownCh:        make(chan struct{}),
		workflowService:   workflowService,
		statisticsService: statisticsService,
		dispatchLease:     dispatchLease,
		cron:              cron.New(cron.WithSeconds()),
		entries:           make(map[uint]*cronEntry),
	}
}

func (s *CronTriggerService) Start() {
	s.cron.Start()
	s.refresh()

	ticker := time.NewTicker(s.statisticsService.GetCronRefreshInterval())
	for {
		select {
		case <-s.shutdownCh:
			ticker.Stop()
			s.cron.Stop()
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *CronTriggerService) Stop() {
	s.shutdownCh <- struct{}{}
}

// refresh 对账Online工作流和已注册的entry
func (s *CronTriggerService) refresh() {
	workflows, err := s.workflowService.FindWorkflowsByStatus(context.TODO(), constance.WorkflowStatusOnline)
	if err != nil {
		klog.Errorf("cron refresh list online workflows error:%v", err)
		return
	}

	wanted := make(map[uint]string, len(workflows))
	for _, workflow := range workflows {
		if workflow.TriggerCron != "" {
			wanted[workflow.ID] = workflow.TriggerCron
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	//下线/删除/清空cron的注销
	for workflowID, entry := range s.entries {
		if spec, ok := wanted[workflowID]; !ok || spec != entry.spec {
			s.cron.Remove(entry.entryID)
			delete(s.entries, workflowID)
			klog.Infof("cron entry for workflow:%v removed", workflowID)
		}
	}

	//新增/变更的注册
	for workflowID, spec := range wanted {
		if _, ok := s.entries[workflowID]; ok {
			continue
		}

		id := workflowID
		entryID, err := s.cron.AddFunc(spec, func() { s.fire(id) })
		if err != nil {
			klog.Errorf("invalid cron spec:%v for workflow:%v, error:%v", spec, workflowID, err)
			continue
		}

		s.entries[workflowID] = &cronEntry{spec: spec, entryID: entryID}
		klog.Infof("cron entry for workflow:%v registered, spec:%v", workflowID, spec)
	}
}

func (s *CronTriggerService) fire(workflowID uint) {
	if !s.dispatchLease.Held() {
		return
	}

	run, err := s.workflowService.TriggerWorkflow(context.TODO(), workflowID)
	if err != nil {
		//下线和触发之间有窗口，NotOnline不是错误
		klog.Warnf("cron trigger workflow:%v error:%v", workflowID, err)
		return
	}
	klog.Infof("cron triggered workflow:%v, run:%v", workflowID, run.ID)
}
