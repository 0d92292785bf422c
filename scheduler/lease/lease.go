package lease

import (
	"context"
	"time"
)

const (
	//约3个派发周期，主挂了之后最多这么久有人接管
	TTL = 15 * time.Second
	//续约间隔
	RenewInterval = TTL / 3
)

// Lease 派发主的租约。同一时刻集群内至多一个holder，
// Epoch是防脑裂的fencing token，每次易主严格递增，随派发请求下发给Worker
type Lease interface {
	//尝试成为派发主。已经是主时幂等返回true
	TryAcquire(ctx context.Context) (bool, error)
	//当前是否持有租约。etcd实现里续约失败会自动变false
	Held() bool
	//当前租约的fencing token，未持有时返回0
	Epoch() int64
	Release(ctx context.Context) error
}
