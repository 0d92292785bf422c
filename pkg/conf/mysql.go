package conf

var DevMysqlConfig = &MysqlConf{
	Host:               "localhost",
	Port:               "3306",
	UserName:           "root",
	Password:           "password",
	DbName:             "nebula",
	MaxIdleConnections: 16,
	MaxOpenConnections: 128,
}

var K8sMysqlConfig = &MysqlConf{
	Host:               "mysql-service",
	Port:               "3306",
	UserName:           "root",
	Password:           "password",
	DbName:             "nebula",
	MaxIdleConnections: 16,
	MaxOpenConnections: 128,
}

type MysqlConf struct {
	Host               string
	Port               string
	UserName           string
	Password           string
	DbName             string
	MaxIdleConnections int
	MaxOpenConnections int
}
