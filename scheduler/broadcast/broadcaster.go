package broadcast

import (
	"context"
	"time"

	"nebula/scheduler/model"

	"github.com/patrickmn/go-cache"
)

// Broadcaster 集群广播。投递语义是at-least-once，消费侧必须用Deduper按EventID去重
type Broadcaster interface {
	Publish(ctx context.Context, event *model.BroadcastEvent) error
	//Subscribe 返回事件通道，包含本节点自己发布的事件。重复投递可能发生
	Subscribe(ctx context.Context) (<-chan *model.BroadcastEvent, error)
	Close() error
}

const dedupTTL = 10 * time.Minute

// Deduper 已处理事件的EventID集合。带过期，不会无限增长
type Deduper struct {
	seen *cache.Cache
}

func NewDeduper() *Deduper {
	return &Deduper{
		seen: cache.New(dedupTTL, dedupTTL),
	}
}

// FirstSeen 第一次见到该事件返回true并记录，之后都返回false
func (d *Deduper) FirstSeen(eventID string) bool {
	if _, ok := d.seen.Get(eventID); ok {
		return false
	}
	d.seen.SetDefault(eventID, struct{}{})
	return true
}
