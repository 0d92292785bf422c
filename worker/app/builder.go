package app

import (
	"errors"
	"fmt"

	"nebula/pkg/discovery"
	"nebula/worker/processor"

	"github.com/google/uuid"
)

type WorkerBuilder struct {
	instanceID      string
	groupName       string
	tags            []string
	host            string
	port            int
	processorCount  int
	processors      []processor.JobProcessor
	discoveryClient discovery.Client
	err             error
}

func NewWorkerBuilder() *WorkerBuilder {
	return &WorkerBuilder{}
}

func (b *WorkerBuilder) WithInstanceID(instanceID string) *WorkerBuilder {
	b.instanceID = instanceID
	return b
}

func (b *WorkerBuilder) WithGroupName(groupName string) *WorkerBuilder {
	b.groupName = groupName
	return b
}

func (b *WorkerBuilder) WithTags(tags ...string) *WorkerBuilder {
	b.tags = append(b.tags, tags...)
	return b
}

// WithServeConf 对外提供服务的地址，注册到服务发现，调度器回连用
func (b *WorkerBuilder) WithServeConf(host string, port int) *WorkerBuilder {
	if host == "" || port <= 0 {
		b.err = errors.New("invalid serve conf")
	} else {
		b.host = host
		b.port = port
	}
	return b
}

func (b *WorkerBuilder) WithProcessorCount(count int) *WorkerBuilder {
	b.processorCount = count
	return b
}

func (b *WorkerBuilder) WithProcessor(p processor.JobProcessor) *WorkerBuilder {
	b.processors = append(b.processors, p)
	return b
}

func (b *WorkerBuilder) WithConsulDiscovery(consulHost string, consulPort int) *WorkerBuilder {
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeConsul, consulHost, consulPort)
	if err != nil && b.err == nil {
		b.err = err
	} else {
		b.discoveryClient = discoveryClient
	}
	return b
}

func (b *WorkerBuilder) WithMemoryDiscovery() *WorkerBuilder {
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	if err != nil && b.err == nil {
		b.err = err
	} else {
		b.discoveryClient = discoveryClient
	}
	return b
}

func (b *WorkerBuilder) Build() (*Worker, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.discoveryClient == nil {
		return nil, errors.New("no select discovery")
	}
	if b.host == "" {
		return nil, errors.New("no serve conf, use WithServeConf")
	}
	if len(b.processors) == 0 {
		return nil, errors.New("no processor registered")
	}
	if b.instanceID == "" {
		b.instanceID = fmt.Sprintf("Worker-%v", uuid.New())
	}
	if b.processorCount == 0 {
		b.processorCount = 64
	}

	return genWorker(b)
}
