package conf

import "time"

var DevEtcdConfig = &EtcdConf{
	Endpoints:   []string{"localhost:2379"},
	DialTimeout: 5 * time.Second,
}

var K8sEtcdConfig = &EtcdConf{
	Endpoints:   []string{"etcd-service:2379"},
	DialTimeout: 5 * time.Second,
}

// EtcdConf 广播和租约使用的etcd集群
type EtcdConf struct {
	Endpoints   []string
	DialTimeout time.Duration
}
