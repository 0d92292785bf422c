package service

import (
	"fmt"
	"time"

	"nebula/pkg/api"

	"github.com/patrickmn/go-cache"
)

const successCacheTTL = 10 * time.Minute

// DuplicateService 同一个任务实例被重复派发时的防重。
// 执行成功过的直接吐缓存的结果，不再跑第二遍。分片任务按(jobRunID, rangeID)区分
type DuplicateService struct {
	succeeded *cache.Cache
}

func NewDuplicateService() *DuplicateService {
	return &DuplicateService{
		succeeded: cache.New(successCacheTTL, successCacheTTL),
	}
}

func dedupKey(req *api.RunJobRequest) string {
	if req.Job != nil && req.Job.Split != nil {
		return fmt.Sprintf("%d-%d", req.JobRunID, req.Job.Split.RangeID)
	}
	return fmt.Sprintf("%d", req.JobRunID)
}

// CheckDuplicateSuccess 已经成功执行过返回缓存的结果，否则nil
func (s *DuplicateService) CheckDuplicateSuccess(req *api.RunJobRequest) *api.JobResult {
	if v, ok := s.succeeded.Get(dedupKey(req)); ok {
		return v.(*api.JobResult)
	}
	return nil
}

func (s *DuplicateService) OnExecuteSuccess(req *api.RunJobRequest, result *api.JobResult) {
	s.succeeded.SetDefault(dedupKey(req), result)
}
