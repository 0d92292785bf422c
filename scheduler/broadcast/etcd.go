package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nebula/scheduler/model"

	"github.com/cloudwego/kitex/pkg/klog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	broadcastPrefix = "nebula/broadcast/"
	jobRunPrefix    = broadcastPrefix + "jobrun/"
	workflowPrefix  = broadcastPrefix + "workflow/"

	//写多数派的超时
	publishTimeout = 3 * time.Second
	//事件key的存活时间，消费完之后留一段时间用于跨节点去重
	eventTTLSeconds = 600
)

var _ Broadcaster = (*EtcdBroadcaster)(nil)

// EtcdBroadcaster 基于etcd的集群广播。Publish是quorum写，
// 写成功即认为集群可见，各节点通过Watch收事件
type EtcdBroadcaster struct {
	cli      *clientv3.Client
	stopCh   chan struct{}
	stopped  bool
}

func NewEtcdBroadcaster(cli *clientv3.Client) *EtcdBroadcaster {
	return &EtcdBroadcaster{
		cli:    cli,
		stopCh: make(chan struct{}),
	}
}

func eventKey(event *model.BroadcastEvent) string {
	//任务级和工作流级分开的keyspace
	switch event.Scope {
	case model.ScopeWorkflow:
		return workflowPrefix + event.EventID
	default:
		return jobRunPrefix + event.EventID
	}
}

func (b *EtcdBroadcaster) Publish(ctx context.Context, event *model.BroadcastEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	lease, err := b.cli.Grant(ctx, eventTTLSeconds)
	if err != nil {
		return fmt.Errorf("failed to grant event lease: %w", err)
	}

	if _, err = b.cli.Put(ctx, eventKey(event), string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}
	return nil
}

func (b *EtcdBroadcaster) Subscribe(ctx context.Context) (<-chan *model.BroadcastEvent, error) {
	out := make(chan *model.BroadcastEvent, 64)
	watchCh := b.cli.Watch(clientv3.WithRequireLeader(ctx), broadcastPrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					klog.Errorf("broadcast watch error:%v", err)
					continue
				}
				for _, ev := range resp.Events {
					if ev.Type != clientv3.EventTypePut {
						continue
					}
					event := new(model.BroadcastEvent)
					if err := json.Unmarshal(ev.Kv.Value, event); err != nil {
						klog.Errorf("failed to decode broadcast event:%v, raw:%s", err, ev.Kv.Value)
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (b *EtcdBroadcaster) Close() error {
	if !b.stopped {
		b.stopped = true
		close(b.stopCh)
	}
	return nil
}
