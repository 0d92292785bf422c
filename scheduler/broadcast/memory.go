package broadcast

import (
	"context"
	"sync"

	"nebula/scheduler/model"
)

var _ Broadcaster = (*MemoryBroadcaster)(nil)

// MemoryBroadcaster 单机/测试用。进程内fan-out，语义与etcd版一致，包括投回自己
type MemoryBroadcaster struct {
	subscribers []chan *model.BroadcastEvent
	lock        sync.Mutex
	closed      bool
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, event *model.BroadcastEvent) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return nil
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			//订阅方消费不过来，丢给它自己处理积压，不阻塞发布方
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context) (<-chan *model.BroadcastEvent, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	ch := make(chan *model.BroadcastEvent, 64)
	b.subscribers = append(b.subscribers, ch)
	return ch, nil
}

func (b *MemoryBroadcaster) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	return nil
}
