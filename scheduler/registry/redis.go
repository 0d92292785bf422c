package registry

import (
	"context"
	"encoding/json"
	"time"

	"nebula/scheduler/model"

	"github.com/go-redis/redis/v8"
)

const workerHashKey = "nebula:scheduler:workers"

var _ Registry = (*RedisRegistry)(nil)

// RedisRegistry 多调度节点共享的注册表。任意节点收到的心跳，所有节点都可见
type RedisRegistry struct {
	cli *redis.Client
	now func() time.Time
}

func NewRedisRegistry(cli *redis.Client) *RedisRegistry {
	return &RedisRegistry{
		cli: cli,
		now: time.Now,
	}
}

func (r *RedisRegistry) Beat(ctx context.Context, worker *model.WorkerInfo) error {
	stored := *worker
	stored.LastHeartbeat = r.now()

	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return r.cli.HSet(ctx, workerHashKey, worker.InstanceID, data).Err()
}

func (r *RedisRegistry) Get(ctx context.Context, instanceID string) (*model.WorkerInfo, error) {
	data, err := r.cli.HGet(ctx, workerHashKey, instanceID).Result()
	if err == redis.Nil {
		return nil, ErrWorkerNotFound
	}
	if err != nil {
		return nil, err
	}

	worker := new(model.WorkerInfo)
	if err := json.Unmarshal([]byte(data), worker); err != nil {
		return nil, err
	}
	return worker, nil
}

func (r *RedisRegistry) FindAlive(ctx context.Context) ([]*model.WorkerInfo, error) {
	all, err := r.cli.HGetAll(ctx, workerHashKey).Result()
	if err != nil {
		return nil, err
	}

	now := r.now()
	ret := make([]*model.WorkerInfo, 0, len(all))
	for _, data := range all {
		worker := new(model.WorkerInfo)
		if err := json.Unmarshal([]byte(data), worker); err != nil {
			//脏数据跳过，下次Sweep会清掉
			continue
		}
		if worker.Alive(now, DeadTimeout) {
			ret = append(ret, worker)
		}
	}
	return ret, nil
}

func (r *RedisRegistry) SweepDead(ctx context.Context) ([]string, error) {
	all, err := r.cli.HGetAll(ctx, workerHashKey).Result()
	if err != nil {
		return nil, err
	}

	now := r.now()
	removed := make([]string, 0)
	for id, data := range all {
		worker := new(model.WorkerInfo)
		if err := json.Unmarshal([]byte(data), worker); err != nil {
			removed = append(removed, id)
			continue
		}
		if !worker.Alive(now, DeadTimeout) {
			removed = append(removed, id)
		}
	}

	if len(removed) != 0 {
		if err := r.cli.HDel(ctx, workerHashKey, removed...).Err(); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, instanceID string) error {
	deleted, err := r.cli.HDel(ctx, workerHashKey, instanceID).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrWorkerNotFound
	}
	return nil
}
