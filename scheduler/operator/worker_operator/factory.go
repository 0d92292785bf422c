package worker_operator

import (
	"context"
	"errors"
	"nebula/pkg/api"
	"nebula/pkg/discovery"
	"time"
)

type Operator interface {
	//探活+拿负载指标，FAILOVER和LEAST_BUSY路由都要用
	CheckStatus(ctx context.Context, timeout time.Duration) (*api.WorkerStatus, error)
	RunJob(ctx context.Context, request *api.RunJobRequest) (*api.RunJobResponse, error)
	KillJob(ctx context.Context, request *api.KillJobRequest) (*api.KillJobResponse, error)
	Alive(ctx context.Context) bool
}

func NewOperatorByProtoc(protoc discovery.ProtocType, address string) (Operator, error) {
	switch protoc {
	case discovery.ProtocTypeHttp:
		return newHttpOperator(address)
	default:
		return nil, errors.New("missing protoc")
	}
}
