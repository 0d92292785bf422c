package app

import (
	"errors"
	"fmt"

	"nebula/pkg/conf"
	"nebula/pkg/constance"
	"nebula/pkg/discovery"
	"nebula/pkg/session/mysql"
	"nebula/pkg/session/trace"
	"nebula/scheduler/broadcast"
	"nebula/scheduler/lease"
	"nebula/scheduler/operator/schedule_operator"
	"nebula/scheduler/operator/schedule_operator/memory_operator"
	"nebula/scheduler/operator/schedule_operator/mysql_operator"
	"nebula/scheduler/registry"
	"nebula/scheduler/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/kitex-contrib/obs-opentelemetry/provider"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type SchedulerBuilder struct {
	instanceID       string
	host             string
	port             int
	scheduleOperator schedule_operator.Operator
	discoveryClient  discovery.Client
	workerRegistry   registry.Registry
	broadcaster      broadcast.Broadcaster
	dispatchLease    lease.Lease
	alarmChannels    []service.AlarmChannel
	etcdCli          *clientv3.Client
	enableOTel       bool
	oTelProvider     provider.OtelProvider
	standalone       bool
	err              error
}

func NewSchedulerBuilder() *SchedulerBuilder {
	return &SchedulerBuilder{}
}

func (b *SchedulerBuilder) WithInstanceID(instanceID string) *SchedulerBuilder {
	if instanceID == "" {
		b.err = errors.New("empty instanceID")
	} else {
		b.instanceID = instanceID
	}
	return b
}

// WithServeConf 对外提供服务的地址，注册到服务发现，Worker上报回连用
func (b *SchedulerBuilder) WithServeConf(host string, port int) *SchedulerBuilder {
	if host == "" || port <= 0 {
		b.err = errors.New("invalid serve conf")
	} else {
		b.host = host
		b.port = port
	}
	return b
}

func (b *SchedulerBuilder) WithConsulDiscovery(consulHost string, consulPort int) *SchedulerBuilder {
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeConsul, consulHost, consulPort)
	if err != nil && b.err == nil {
		b.err = err
	} else {
		b.discoveryClient = discoveryClient
	}
	return b
}

func (b *SchedulerBuilder) WithMemoryDiscovery() *SchedulerBuilder {
	discoveryClient, err := discovery.NewDiscoveryClient(discovery.TypeMemory, "", 0)
	if err != nil && b.err == nil {
		b.err = err
	} else {
		b.discoveryClient = discoveryClient
	}
	return b
}

func (b *SchedulerBuilder) WithMysqlStore(config *conf.MysqlConf) *SchedulerBuilder {
	db, err := mysql.InitMysql(config)
	if err != nil && b.err == nil {
		b.err = err
		return b
	}

	b.scheduleOperator, err = mysql_operator.NewMysqlScheduleOperator(db)
	if err != nil && b.err == nil {
		b.err = err
	}
	return b
}

func (b *SchedulerBuilder) WithMemoryStore() *SchedulerBuilder {
	b.scheduleOperator = memory_operator.NewMemoryScheduleOperator()
	return b
}

// WithEtcdCluster 广播和租约用同一个etcd集群
func (b *SchedulerBuilder) WithEtcdCluster(config *conf.EtcdConf) *SchedulerBuilder {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil && b.err == nil {
		b.err = err
		return b
	}

	b.etcdCli = cli
	return b
}

func (b *SchedulerBuilder) WithRedisRegistry(config *conf.RedisConf) *SchedulerBuilder {
	cli := redis.NewClient(&redis.Options{
		Addr:     config.IP + ":" + config.Port,
		Password: config.Password,
		DB:       config.Db,
	})
	b.workerRegistry = registry.NewRedisRegistry(cli)
	return b
}

// WithStandalone 单机模式，广播/租约/注册表全部退化成进程内实现
func (b *SchedulerBuilder) WithStandalone() *SchedulerBuilder {
	b.standalone = true
	return b
}

func (b *SchedulerBuilder) WithOTelConfig(oTelConfig *conf.OTelConf) *SchedulerBuilder {
	b.enableOTel = true
	b.oTelProvider = trace.InitProvider(constance.SchedulerServiceName, oTelConfig)
	return b
}

func (b *SchedulerBuilder) WithAlarmChannels(channels ...service.AlarmChannel) *SchedulerBuilder {
	b.alarmChannels = append(b.alarmChannels, channels...)
	return b
}

func (b *SchedulerBuilder) Build() (*Scheduler, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.scheduleOperator == nil {
		return nil, errors.New("no select db")
	}
	if b.discoveryClient == nil {
		return nil, errors.New("no select discovery")
	}
	if b.host == "" {
		return nil, errors.New("no serve conf, use WithServeConf")
	}
	if b.instanceID == "" {
		b.instanceID = fmt.Sprintf("Scheduler-%v", uuid.New())
	}

	if b.standalone {
		if b.workerRegistry == nil {
			b.workerRegistry = registry.NewMemoryRegistry()
		}
		b.broadcaster = broadcast.NewMemoryBroadcaster()
		b.dispatchLease = lease.NewMemoryLeaseStore().NewLease(b.instanceID)
	} else {
		if b.etcdCli == nil {
			return nil, errors.New("cluster mode needs etcd, use WithEtcdCluster or WithStandalone")
		}
		if b.workerRegistry == nil {
			return nil, errors.New("cluster mode needs a shared registry, use WithRedisRegistry")
		}
		b.broadcaster = broadcast.NewEtcdBroadcaster(b.etcdCli)
		b.dispatchLease = lease.NewEtcdLease(b.etcdCli, b.instanceID)
	}

	return genScheduler(b)
}
