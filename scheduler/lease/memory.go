package lease

import (
	"context"
	"sync"
)

// MemoryLeaseStore 进程内的选主仲裁，单机模式和测试用。
// 多个MemoryLease共享一个store时语义和etcd版一致
type MemoryLeaseStore struct {
	mu    sync.Mutex
	owner string
	epoch int64
}

func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{}
}

func (s *MemoryLeaseStore) NewLease(instanceID string) Lease {
	return &memoryLease{store: s, instanceID: instanceID}
}

var _ Lease = (*memoryLease)(nil)

type memoryLease struct {
	store      *MemoryLeaseStore
	instanceID string
	epoch      int64
}

func (l *memoryLease) TryAcquire(ctx context.Context) (bool, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner == l.instanceID {
		return true, nil
	}
	if s.owner != "" {
		return false, nil
	}

	s.owner = l.instanceID
	s.epoch++
	l.epoch = s.epoch
	return true, nil
}

func (l *memoryLease) Held() bool {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner == l.instanceID
}

func (l *memoryLease) Epoch() int64 {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != l.instanceID {
		return 0
	}
	return l.epoch
}

func (l *memoryLease) Release(ctx context.Context) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == l.instanceID {
		s.owner = ""
	}
	return nil
}
