package lease

import (
	"context"
	"sync"

	"github.com/cloudwego/kitex/pkg/klog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/clientv3util"
)

const leaderKey = "nebula/scheduler/leader"

var _ Lease = (*EtcdLease)(nil)

// EtcdLease 基于etcd租约的选主。
// key带TTL，持有者停止续约后key过期，别的节点才能抢到。
// Epoch用leader key的CreateRevision，etcd保证跨任期严格递增
type EtcdLease struct {
	cli        *clientv3.Client
	instanceID string

	mu      sync.RWMutex
	held    bool
	epoch   int64
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

func NewEtcdLease(cli *clientv3.Client, instanceID string) *EtcdLease {
	return &EtcdLease{
		cli:        cli,
		instanceID: instanceID,
	}
}

func (l *EtcdLease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return true, nil
	}

	grant, err := l.cli.Grant(ctx, int64(TTL.Seconds()))
	if err != nil {
		return false, err
	}

	//key不存在才能抢
	txn, err := l.cli.Txn(ctx).
		If(clientv3util.KeyMissing(leaderKey)).
		Then(clientv3.OpPut(leaderKey, l.instanceID, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		l.cli.Revoke(context.Background(), grant.ID)
		return false, err
	}
	if !txn.Succeeded {
		l.cli.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	//拿刚写入的key的CreateRevision做epoch
	resp, err := l.cli.Get(ctx, leaderKey)
	if err != nil || len(resp.Kvs) == 0 {
		l.cli.Revoke(context.Background(), grant.ID)
		return false, err
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	keepCh, err := l.cli.KeepAlive(keepCtx, grant.ID)
	if err != nil {
		cancel()
		l.cli.Revoke(context.Background(), grant.ID)
		return false, err
	}

	l.held = true
	l.epoch = resp.Kvs[0].CreateRevision
	l.leaseID = grant.ID
	l.cancel = cancel

	go l.watchKeepAlive(keepCh)
	klog.Infof("acquired scheduler lease, instance:%v, epoch:%v", l.instanceID, l.epoch)
	return true, nil
}

// 续约通道被关掉说明租约丢了，立刻放弃holder身份，停止派发
func (l *EtcdLease) watchKeepAlive(keepCh <-chan *clientv3.LeaseKeepAliveResponse) {
	for range keepCh {
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		klog.Warnf("scheduler lease lost, instance:%v, epoch:%v", l.instanceID, l.epoch)
		l.held = false
		l.epoch = 0
	}
}

func (l *EtcdLease) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

func (l *EtcdLease) Epoch() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.held {
		return 0
	}
	return l.epoch
}

func (l *EtcdLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}

	l.held = false
	l.epoch = 0
	if l.cancel != nil {
		l.cancel()
	}
	//Revoke会顺带删掉leader key
	_, err := l.cli.Revoke(ctx, l.leaseID)
	return err
}
