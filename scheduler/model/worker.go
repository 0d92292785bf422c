package model

import (
	"errors"
	"fmt"
	"nebula/pkg/api"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/pkg/util"
	"time"
)

// WorkerInfo 注册表里的一条Worker记录。不落库，超时即蒸发
type WorkerInfo struct {
	InstanceID     string    `json:"instanceId"`
	GroupName      string    `json:"groupName"`
	Tags           []string  `json:"tags"`
	Address        string    `json:"address"` //host:port
	Protoc         string    `json:"protoc"`
	CpuUsage       float64   `json:"cpuUsage"`
	MemoryUsage    float64   `json:"memoryUsage"`
	RunningTasks   int       `json:"runningTasks"`
	MaxConcurrency int       `json:"maxConcurrency"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
}

// Alive now与lastHeartbeat的差小于deadTimeout才算活着
func (w *WorkerInfo) Alive(now time.Time, deadTimeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) < deadTimeout
}

func (w *WorkerInfo) UpdateStatus(status *api.WorkerStatus, now time.Time) {
	w.CpuUsage = status.CpuUsage
	w.MemoryUsage = status.MemoryUsage
	w.RunningTasks = status.RunningTasks
	w.MaxConcurrency = status.MaxConcurrency
	if status.GroupName != "" {
		w.GroupName = status.GroupName
	}
	w.LastHeartbeat = now
}

func (w *WorkerInfo) String() string {
	return fmt.Sprintf("WorkerInfo(InstanceID=%s, Group=%s, Address=%s, Cpu=%.1f, Mem=%.1f, Running=%d, LastBeat=%v)",
		w.InstanceID, w.GroupName, w.Address, w.CpuUsage, w.MemoryUsage, w.RunningTasks, w.LastHeartbeat)
}

func NewWorkerFromServiceInstance(instance *discovery.ServiceInstance) (*WorkerInfo, error) {
	if instance == nil || instance.InstanceId == "" || instance.Host == "" ||
		instance.Port <= 0 || instance.Protoc == "" {
		return nil, errors.New(fmt.Sprintf("can not decode worker service from:%+v", instance))
	}

	group := ""
	var tags []string
	if instance.Meta != nil {
		group = instance.Meta[constance.WorkerGroupFieldName]
		tags = util.DecodeTags(instance.Meta[constance.WorkerTagFieldName])
	}

	return &WorkerInfo{
		InstanceID: instance.InstanceId,
		GroupName:  group,
		Tags:       tags,
		Address:    fmt.Sprintf("%s:%d", instance.Host, instance.Port),
		Protoc:     string(instance.Protoc),
	}, nil
}
