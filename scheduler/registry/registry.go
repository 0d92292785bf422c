package registry

import (
	"context"
	"errors"
	"time"

	"nebula/scheduler/model"
)

const (
	//心跳探测周期的参考值，Worker优雅退出时等一个周期让调度器看到
	BeatTimeout = 30 * time.Second
	//超过这个时间没心跳的Worker不再参与路由并从注册表清掉，在途任务走failover
	DeadTimeout = 90 * time.Second
)

var ErrWorkerNotFound = errors.New("worker not found")

// Registry Worker注册表。注册表只是缓存，真相来自心跳，不落库
type Registry interface {
	//心跳上报，不存在则注册。LastHeartbeat由Registry刷新，调用方不用填
	Beat(ctx context.Context, worker *model.WorkerInfo) error
	Get(ctx context.Context, instanceID string) (*model.WorkerInfo, error)
	//最近DeadTimeout内有心跳的Worker。漏一两拍心跳不出局
	FindAlive(ctx context.Context) ([]*model.WorkerInfo, error)
	//清理超过DeadTimeout没心跳的Worker，返回被清理的instanceID
	SweepDead(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, instanceID string) error
}
