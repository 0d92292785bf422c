package service

import (
	"nebula/worker/processor"
)

// ProcessorService jobType -> processor的注册表。启动前注册完，运行期只读
type ProcessorService struct {
	processors map[string]processor.JobProcessor
}

func NewProcessorService() *ProcessorService {
	return &ProcessorService{
		processors: make(map[string]processor.JobProcessor),
	}
}

func (s *ProcessorService) Register(p processor.JobProcessor) {
	s.processors[p.GetJobType()] = p
}

func (s *ProcessorService) GetRegister(jobType string) processor.JobProcessor {
	return s.processors[jobType]
}

func (s *ProcessorService) GetRegisterTypes() []string {
	ret := make([]string, 0, len(s.processors))
	for jobType := range s.processors {
		ret = append(ret, jobType)
	}
	return ret
}
