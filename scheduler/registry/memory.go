package registry

import (
	"context"
	"sync"
	"time"

	"nebula/scheduler/model"
)

var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry 单调度节点用的内存注册表
type MemoryRegistry struct {
	workers map[string]*model.WorkerInfo
	lock    sync.RWMutex
	now     func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		workers: make(map[string]*model.WorkerInfo),
		now:     time.Now,
	}
}

func (r *MemoryRegistry) Beat(ctx context.Context, worker *model.WorkerInfo) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored := *worker
	stored.LastHeartbeat = r.now()
	r.workers[worker.InstanceID] = &stored
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, instanceID string) (*model.WorkerInfo, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	worker, ok := r.workers[instanceID]
	if !ok {
		return nil, ErrWorkerNotFound
	}

	ret := *worker
	return &ret, nil
}

func (r *MemoryRegistry) FindAlive(ctx context.Context) ([]*model.WorkerInfo, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	now := r.now()
	ret := make([]*model.WorkerInfo, 0, len(r.workers))
	for _, worker := range r.workers {
		if worker.Alive(now, DeadTimeout) {
			copied := *worker
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

func (r *MemoryRegistry) SweepDead(ctx context.Context) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.now()
	removed := make([]string, 0)
	for id, worker := range r.workers {
		if !worker.Alive(now, DeadTimeout) {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, instanceID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.workers[instanceID]; !ok {
		return ErrWorkerNotFound
	}
	delete(r.workers, instanceID)
	return nil
}
